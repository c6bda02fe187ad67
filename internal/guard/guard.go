// Package guard decides whether the current principal may enter a surface
// gated on one of the privilege tiers.
//
// Every check runs the same sequence and stops at the first denial:
//
//  1. resolve the principal from the session provider (Unauthenticated)
//  2. look up its roles (RoleMissing)
//  3. for profile-carrying tiers, load the profile (SetupIncomplete)
//  4. an inactive profile forces sign-out (AccountDeactivated)
//
// Store faults deny with AccessCheckFailed. Nothing ever allows on error.
package guard

import (
	"context"
	"errors"

	"medgate.org/internal/auth"
	"medgate.org/internal/obs"
)

// SessionProvider exposes the request-scoped principal and sign-out.
type SessionProvider interface {
	CurrentPrincipal(ctx context.Context) (auth.Principal, bool)
	SignOut(ctx context.Context) error
}

// RoleStore lists the roles assigned to a principal.
type RoleStore interface {
	ListRoles(ctx context.Context, principalID string) (auth.RoleSet, error)
}

// ProfileStore loads tier profiles. Missing records return auth.ErrNotFound.
type ProfileStore interface {
	Profile(ctx context.Context, role auth.Role, principalID string) (auth.Profile, error)
}

// State of a guard evaluation.
type State int

const (
	StatePending State = iota
	StateAllowed
	StateDenied
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAllowed:
		return "allowed"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Reason explains a denial.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonUnauthenticated    Reason = "unauthenticated"
	ReasonRoleMissing        Reason = "role_missing"
	ReasonSetupIncomplete    Reason = "setup_incomplete"
	ReasonAccountDeactivated Reason = "account_deactivated"
	ReasonAccessCheckFailed  Reason = "access_check_failed"
)

// Outcome is the result of a guard evaluation. Profile is only set when the
// tier carries one and the outcome is allowed.
type Outcome struct {
	Tier      Tier
	State     State
	Reason    Reason
	Principal auth.Principal
	Profile   *auth.Profile
}

// Allowed reports whether the caller may proceed. Pending is never allowed.
func (o Outcome) Allowed() bool {
	return o.State == StateAllowed
}

// Redirect is the login surface a denied caller should be sent to.
func (o Outcome) Redirect() string {
	if o.State != StateDenied {
		return ""
	}
	return o.Tier.LoginRedirect()
}

// Guard evaluates tier requirements against the role and profile stores.
type Guard struct {
	sessions SessionProvider
	roles    RoleStore
	profiles ProfileStore
}

// New constructs a Guard.
func New(sessions SessionProvider, roles RoleStore, profiles ProfileStore) (*Guard, error) {
	if sessions == nil || roles == nil || profiles == nil {
		return nil, errors.New("guard: session provider, role store and profile store are required")
	}
	return &Guard{sessions: sessions, roles: roles, profiles: profiles}, nil
}

// Check runs a complete evaluation for tier. The returned outcome is always
// terminal (allowed or denied).
func (g *Guard) Check(ctx context.Context, tier Tier) Outcome {
	out := g.check(ctx, tier)
	obs.ObserveGuardDecision(string(tier), out.State.String(), string(out.Reason))
	return out
}

func (g *Guard) check(ctx context.Context, tier Tier) Outcome {
	log := obs.Logger().With().Str("component", "guard").Str("tier", string(tier)).Logger()

	role := tier.RequiredRole()
	if role == "" {
		log.Error().Msg("unknown tier")
		return deny(tier, ReasonAccessCheckFailed, auth.Principal{})
	}

	principal, ok := g.sessions.CurrentPrincipal(ctx)
	if !ok {
		return deny(tier, ReasonUnauthenticated, auth.Principal{})
	}
	log = log.With().Str("principal_id", principal.ID).Logger()

	roles, err := g.roles.ListRoles(ctx, principal.ID)
	if err != nil {
		log.Error().Err(err).Msg("role lookup failed")
		return deny(tier, ReasonAccessCheckFailed, principal)
	}
	if !roles.Has(role) {
		return deny(tier, ReasonRoleMissing, principal)
	}

	if !tier.HasProfile() {
		return Outcome{Tier: tier, State: StateAllowed, Principal: principal}
	}

	profile, err := g.profiles.Profile(ctx, role, principal.ID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return deny(tier, ReasonSetupIncomplete, principal)
	case err != nil:
		log.Error().Err(err).Msg("profile lookup failed")
		return deny(tier, ReasonAccessCheckFailed, principal)
	}

	if !profile.IsActive {
		if err := g.sessions.SignOut(ctx); err != nil {
			log.Error().Err(err).Msg("forced sign-out failed")
		}
		log.Info().Msg("deactivated profile signed out")
		return deny(tier, ReasonAccountDeactivated, principal)
	}

	return Outcome{Tier: tier, State: StateAllowed, Principal: principal, Profile: &profile}
}

func deny(tier Tier, reason Reason, principal auth.Principal) Outcome {
	return Outcome{Tier: tier, State: StateDenied, Reason: reason, Principal: principal}
}
