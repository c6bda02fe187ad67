// Package memory is an in-process implementation of every store contract.
// It has no foreign keys, so DeleteUser removes owned records itself.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"medgate.org/internal/audit"
	"medgate.org/internal/auth"
	"medgate.org/internal/ids"
)

// Store keeps all state behind one mutex.
type Store struct {
	mu       sync.RWMutex
	users    map[string]auth.User
	byEmail  map[string]string
	roles    map[string]auth.RoleSet
	profiles map[auth.Role]map[string]auth.Profile
	globals  map[string]string
	auditLog []audit.Entry
	revoked  map[string]time.Time
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:   make(map[string]auth.User),
		byEmail: make(map[string]string),
		roles:   make(map[string]auth.RoleSet),
		profiles: map[auth.Role]map[string]auth.Profile{
			auth.RoleDoctor:  {},
			auth.RolePartner: {},
		},
		globals: make(map[string]string),
		revoked: make(map[string]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// CreateUser inserts a credential record.
func (s *Store) CreateUser(_ context.Context, email, passwordHash, fullName string) (auth.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passwordHash == "" {
		return auth.User{}, fmt.Errorf("%w: email and password hash are required", auth.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return auth.User{}, fmt.Errorf("%w: email already registered", auth.ErrInvalidInput)
	}
	u := auth.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     strings.TrimSpace(fullName),
		CreatedAt:    s.now(),
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return u, nil
}

// AssignRole records a role assignment.
func (s *Store) AssignRole(_ context.Context, userID string, role auth.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return auth.ErrNotFound
	}
	set, ok := s.roles[userID]
	if !ok {
		set = auth.NewRoleSet()
		s.roles[userID] = set
	}
	set[role] = struct{}{}
	return nil
}

// PutProfile stores the doctor or partner profile of p.UserID.
func (s *Store) PutProfile(_ context.Context, p auth.Profile) (auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.profiles[p.Role]
	if !ok {
		return auth.Profile{}, fmt.Errorf("%w: role %s has no profile", auth.ErrInvalidInput, p.Role)
	}
	if _, ok := s.users[p.UserID]; !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	table[p.UserID] = p
	return p, nil
}

// AssignGlobalID maps an upper-cased global id to userID.
func (s *Store) AssignGlobalID(_ context.Context, userID, globalID string) error {
	globalID = strings.ToUpper(strings.TrimSpace(globalID))
	if globalID == "" {
		return fmt.Errorf("%w: global id is required", auth.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	if owner, taken := s.globals[globalID]; taken && owner != userID {
		return fmt.Errorf("%w: global id already assigned", auth.ErrInvalidInput)
	}
	s.globals[globalID] = userID
	u.GlobalID = globalID
	s.users[userID] = u
	return nil
}

// ListRoles returns a copy of the roles assigned to userID.
func (s *Store) ListRoles(_ context.Context, userID string) (auth.RoleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := auth.NewRoleSet()
	for r := range s.roles[userID] {
		out[r] = struct{}{}
	}
	return out, nil
}

// Profile loads the profile userID holds for role.
func (s *Store) Profile(_ context.Context, role auth.Role, userID string) (auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table, ok := s.profiles[role]
	if !ok {
		return auth.Profile{}, fmt.Errorf("%w: role %s has no profile", auth.ErrInvalidInput, role)
	}
	p, ok := table[userID]
	if !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
	return p, nil
}

// LookupGlobalID resolves a global id to its owner.
func (s *Store) LookupGlobalID(_ context.Context, globalID string) (auth.GlobalIDRecord, error) {
	globalID = strings.ToUpper(globalID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.globals[globalID]
	if !ok {
		return auth.GlobalIDRecord{}, auth.ErrNotFound
	}
	u := s.users[userID]
	return auth.GlobalIDRecord{GlobalID: globalID, Email: u.Email, UserID: u.ID}, nil
}

// UserByEmail loads a credential record.
func (s *Store) UserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return s.users[id], nil
}

// DeleteUser removes the user together with its roles, profiles and global
// ids inside one critical section, so no reader sees a partial delete.
func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.roles, userID)
	for _, table := range s.profiles {
		delete(table, userID)
	}
	for gid, owner := range s.globals {
		if owner == userID {
			delete(s.globals, gid)
		}
	}
	delete(s.byEmail, u.Email)
	delete(s.users, userID)
	return nil
}

// Append stores a copy of entry stamped with the store clock.
func (s *Store) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.OccurredAt = s.now()
	stored := *entry
	stored.Detail = make(map[string]any, len(entry.Detail))
	for k, v := range entry.Detail {
		stored.Detail[k] = v
	}
	s.auditLog = append(s.auditLog, stored)
	return nil
}

// AuditEntries returns the audit log in append order.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, len(s.auditLog))
	copy(out, s.auditLog)
	return out
}

// RevokeToken remembers jti until expiresAt.
func (s *Store) RevokeToken(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = expiresAt
	return nil
}

// IsTokenRevoked reports whether jti is revoked and unexpired.
func (s *Store) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.revoked[jti]
	return ok && exp.After(s.now()), nil
}

// PurgeRevokedTokens drops expired revocations.
func (s *Store) PurgeRevokedTokens(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for jti, exp := range s.revoked {
		if !exp.After(now) {
			delete(s.revoked, jti)
			n++
		}
	}
	return n, nil
}

// Snapshot counts records per table.
func (s *Store) Snapshot() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]int{
		"users":          len(s.users),
		"user_roles":     0,
		"global_ids":     len(s.globals),
		"audit_log":      len(s.auditLog),
		"revoked_tokens": len(s.revoked),
	}
	for _, set := range s.roles {
		out["user_roles"] += len(set)
	}
	for r, table := range s.profiles {
		out[string(r)+"_profiles"] = len(table)
	}
	return out
}
