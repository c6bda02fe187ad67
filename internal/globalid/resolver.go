// Package globalid signs super admins in by their global id instead of their
// email. The resolver never tells a caller which step failed.
package globalid

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"medgate.org/internal/audit"
	"medgate.org/internal/auth"
	"medgate.org/internal/obs"
)

var (
	// ErrInvalidRequest reports a missing field or a malformed global id.
	ErrInvalidRequest = errors.New("globalid: invalid request")
	// ErrInvalidCredentials is returned for every failure after validation.
	ErrInvalidCredentials = errors.New("globalid: invalid credentials")
)

var pattern = regexp.MustCompile(`^[A-Z]{3}-0[A-Z0-9]{5}$`)

// Store resolves normalized global ids. Unknown ids return auth.ErrNotFound.
type Store interface {
	LookupGlobalID(ctx context.Context, globalID string) (auth.GlobalIDRecord, error)
}

// RoleLister reads role assignments with service privilege.
type RoleLister interface {
	ListRoles(ctx context.Context, principalID string) (auth.RoleSet, error)
}

// Authenticator signs a principal in with its primary credential handle.
type Authenticator interface {
	SignInWithCredential(ctx context.Context, handle, password string) (auth.Session, auth.User, error)
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// Result is a successful privileged sign-in.
type Result struct {
	Session auth.Session    `json:"session"`
	User    auth.PublicUser `json:"user"`
}

// Resolver implements the global id sign-in flow.
type Resolver struct {
	store    Store
	roles    RoleLister
	sessions Authenticator
	audit    Recorder

	dummyOnce sync.Once
	dummyHash string
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, roles RoleLister, sessions Authenticator, recorder Recorder) (*Resolver, error) {
	if store == nil || roles == nil || sessions == nil || recorder == nil {
		return nil, errors.New("globalid: store, role lister, authenticator and audit recorder are required")
	}
	return &Resolver{store: store, roles: roles, sessions: sessions, audit: recorder}, nil
}

// Normalize trims and upper-cases raw and checks it against the global id
// format (three letters, hyphen, "0", five alphanumerics).
func Normalize(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if id == "" {
		return "", fmt.Errorf("%w: global_id is required", ErrInvalidRequest)
	}
	if !pattern.MatchString(id) {
		return "", fmt.Errorf("%w: global_id has an invalid format", ErrInvalidRequest)
	}
	return id, nil
}

// ResolveAndSignIn validates the request, resolves the global id, checks the
// super_admin role and signs in with the owner's email. No store is touched
// before validation passes.
func (r *Resolver) ResolveAndSignIn(ctx context.Context, globalID, password string) (Result, error) {
	if strings.TrimSpace(globalID) == "" || password == "" {
		return Result{}, fmt.Errorf("%w: global_id and password are required", ErrInvalidRequest)
	}
	id, err := Normalize(globalID)
	if err != nil {
		return Result{}, err
	}

	log := obs.Logger().With().Str("component", "globalid").Str("global_id", id).Logger()

	record, err := r.store.LookupGlobalID(ctx, id)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			log.Error().Err(err).Msg("global id lookup failed")
		}
		r.burnPassword(password)
		return r.fail(ctx, id, "", "unresolved")
	}
	log = log.With().Str("user_id", record.UserID).Logger()

	roles, err := r.roles.ListRoles(ctx, record.UserID)
	if err != nil {
		log.Error().Err(err).Msg("role lookup failed")
		r.burnPassword(password)
		return r.fail(ctx, id, record.UserID, "role_check_failed")
	}
	if !roles.Has(auth.RoleSuperAdmin) {
		r.burnPassword(password)
		return r.fail(ctx, id, record.UserID, "role_missing")
	}

	session, user, err := r.sessions.SignInWithCredential(ctx, record.Email, password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			log.Error().Err(err).Msg("credential sign-in failed")
		}
		return r.fail(ctx, id, record.UserID, "credential_rejected")
	}

	r.record(ctx, audit.Entry{
		ActorID:    user.ID,
		Action:     audit.ActionPrivilegedSignIn,
		TargetType: audit.TargetTypeGlobalID,
		TargetID:   id,
		Detail:     map[string]any{"user_id": user.ID},
	})
	obs.ObservePrivilegedOperation("global_id_sign_in", "success")
	return Result{Session: session, User: user.Public(roles)}, nil
}

func (r *Resolver) fail(ctx context.Context, id, userID, cause string) (Result, error) {
	detail := map[string]any{"cause": cause}
	if userID != "" {
		detail["user_id"] = userID
	}
	r.record(ctx, audit.Entry{
		Action:     audit.ActionPrivilegedSignInFailed,
		TargetType: audit.TargetTypeGlobalID,
		TargetID:   id,
		Detail:     detail,
	})
	obs.ObservePrivilegedOperation("global_id_sign_in", "failure")
	return Result{}, ErrInvalidCredentials
}

// record is best-effort: a lost sign-in audit line never changes the response.
func (r *Resolver) record(ctx context.Context, entry audit.Entry) {
	if _, err := r.audit.Record(ctx, entry); err != nil {
		obs.Logger().Error().Err(err).Str("event", entry.Action).Msg("sign-in audit append failed")
	}
}

// burnPassword spends roughly the cost of a real verification so the paths
// that never reach the credential store take as long as the one that does.
func (r *Resolver) burnPassword(password string) {
	r.dummyOnce.Do(func() {
		hash, err := auth.HashPassword("medgate-timing-equaliser")
		if err != nil {
			obs.Logger().Error().Err(err).Msg("dummy hash generation failed")
			return
		}
		r.dummyHash = hash
	})
	if r.dummyHash != "" {
		_ = auth.VerifyPassword(r.dummyHash, password)
	}
}
