package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Role is one of the closed set of privilege tiers a principal can hold.
type Role string

const (
	RoleUser       Role = "user"
	RoleDoctor     Role = "doctor"
	RolePartner    Role = "partner"
	RoleSuperAdmin Role = "super_admin"
)

// AllRoles lists every known role. Adding a role means extending this list
// and every switch over Role.
func AllRoles() []Role {
	return []Role{RoleUser, RoleDoctor, RolePartner, RoleSuperAdmin}
}

// Valid reports whether r is a member of the enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleDoctor, RolePartner, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// ParseRole converts a stored role name into a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// RoleSet is the set of roles assigned to a principal.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from the given roles, dropping invalid ones.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r.Valid() {
			set[r] = struct{}{}
		}
	}
	return set
}

// Has reports whether role is in the set.
func (s RoleSet) Has(role Role) bool {
	_, ok := s[role]
	return ok
}

// Any reports whether at least one of roles is in the set.
func (s RoleSet) Any(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Sorted returns the roles in lexical order.
func (s RoleSet) Sorted() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
