package guard

import (
	"fmt"
	"strings"

	"medgate.org/internal/auth"
)

// Tier names the privilege level a guarded surface requires.
type Tier string

const (
	TierDoctor     Tier = "doctor"
	TierPartner    Tier = "partner"
	TierSuperAdmin Tier = "super_admin"
	// TierAdmin is the generic administrative gate. It is satisfied by the
	// super_admin role and leaves navigation to the caller.
	TierAdmin Tier = "admin"
)

// ParseTier converts a path or query value into a Tier.
func ParseTier(raw string) (Tier, error) {
	t := Tier(strings.TrimSpace(strings.ToLower(raw)))
	switch t {
	case TierDoctor, TierPartner, TierSuperAdmin, TierAdmin:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown tier %q", auth.ErrInvalidInput, raw)
	}
}

// RequiredRole is the role a principal must hold to pass the tier.
func (t Tier) RequiredRole() auth.Role {
	switch t {
	case TierDoctor:
		return auth.RoleDoctor
	case TierPartner:
		return auth.RolePartner
	case TierSuperAdmin, TierAdmin:
		return auth.RoleSuperAdmin
	default:
		return ""
	}
}

// HasProfile reports whether the tier carries a profile record that must
// exist and be active.
func (t Tier) HasProfile() bool {
	switch t {
	case TierDoctor, TierPartner:
		return true
	case TierSuperAdmin, TierAdmin:
		return false
	default:
		return false
	}
}

// LoginRedirect is where a denied caller should be sent. Empty means the
// caller decides.
func (t Tier) LoginRedirect() string {
	switch t {
	case TierDoctor:
		return "/doctor/login"
	case TierPartner:
		return "/partner/login"
	case TierSuperAdmin:
		return "/dashboard"
	case TierAdmin:
		return ""
	default:
		return ""
	}
}
