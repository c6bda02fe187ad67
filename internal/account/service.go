// Package account implements self-service account deletion.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medgate.org/internal/audit"
	"medgate.org/internal/auth"
	"medgate.org/internal/obs"
)

var (
	ErrSessionExpired      = errors.New("account: session expired")
	ErrSelfDeleteForbidden = errors.New("account: self delete forbidden")
	ErrDeletionFailed      = errors.New("account: deletion failed")
)

// Sessions authenticates bearer tokens and deletes users with service privilege.
type Sessions interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
	DeleteUser(ctx context.Context, userID string) error
}

// RoleLister reads role assignments with service privilege.
type RoleLister interface {
	ListRoles(ctx context.Context, principalID string) (auth.RoleSet, error)
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// auditTimeout bounds the audit append that follows a committed delete.
const auditTimeout = 5 * time.Second

// protectedRoles may never be removed through self-service.
var protectedRoles = []auth.Role{auth.RoleSuperAdmin, auth.RolePartner}

// Service deletes the caller's own account.
type Service struct {
	sessions Sessions
	roles    RoleLister
	audit    Recorder
}

// NewService constructs a Service.
func NewService(sessions Sessions, roles RoleLister, recorder Recorder) (*Service, error) {
	if sessions == nil || roles == nil || recorder == nil {
		return nil, errors.New("account: sessions, role lister and audit recorder are required")
	}
	return &Service{sessions: sessions, roles: roles, audit: recorder}, nil
}

// DeleteOwnAccount authenticates token, refuses partners and super admins,
// deletes the user (owned records cascade) and appends one audit entry.
// A failed audit append is logged but does not fail the call.
func (s *Service) DeleteOwnAccount(ctx context.Context, token string) (auth.Principal, error) {
	principal, err := s.sessions.Authenticate(ctx, token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			obs.Logger().Error().Err(err).Str("component", "account").Msg("token verification failed")
		}
		obs.ObservePrivilegedOperation("self_delete", "unauthenticated")
		return auth.Principal{}, ErrSessionExpired
	}
	log := obs.Logger().With().Str("component", "account").Str("user_id", principal.ID).Logger()

	roles, err := s.roles.ListRoles(ctx, principal.ID)
	if err != nil {
		log.Error().Err(err).Msg("role lookup failed")
		obs.ObservePrivilegedOperation("self_delete", "failure")
		return auth.Principal{}, fmt.Errorf("%w: role lookup", ErrDeletionFailed)
	}
	if roles.Any(protectedRoles...) {
		log.Warn().Strs("roles", roleStrings(roles)).Msg("self delete refused for privileged account")
		obs.ObservePrivilegedOperation("self_delete", "forbidden")
		return auth.Principal{}, ErrSelfDeleteForbidden
	}

	if err := s.sessions.DeleteUser(ctx, principal.ID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			// Token outlived its user.
			obs.ObservePrivilegedOperation("self_delete", "unauthenticated")
			return auth.Principal{}, ErrSessionExpired
		}
		log.Error().Err(err).Msg("delete user failed")
		obs.ObservePrivilegedOperation("self_delete", "failure")
		return auth.Principal{}, fmt.Errorf("%w: delete user", ErrDeletionFailed)
	}

	// The delete has committed: the caller going away must not drop its audit entry.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	_, err = s.audit.Record(auditCtx, audit.Entry{
		ActorID:    principal.ID,
		Action:     audit.ActionSelfDeleteAccount,
		TargetType: audit.TargetTypeUser,
		TargetID:   principal.ID,
		Detail: map[string]any{
			"email":          principal.Email,
			"self_initiated": true,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("self delete audit append failed")
	}
	obs.ObservePrivilegedOperation("self_delete", "success")
	return principal, nil
}

func roleStrings(roles auth.RoleSet) []string {
	sorted := roles.Sorted()
	out := make([]string, len(sorted))
	for i, r := range sorted {
		out[i] = r.String()
	}
	return out
}
