package guard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medgate.org/internal/auth"
)

type fakeSessions struct {
	mu        sync.Mutex
	principal *auth.Principal
	signOuts  int
	signOutFn func() error
}

func (f *fakeSessions) CurrentPrincipal(context.Context) (auth.Principal, bool) {
	if f.principal == nil {
		return auth.Principal{}, false
	}
	return *f.principal, true
}

func (f *fakeSessions) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	if f.signOutFn != nil {
		return f.signOutFn()
	}
	return nil
}

type fakeRoles struct {
	roles map[string]auth.RoleSet
	err   error
	calls int
}

func (f *fakeRoles) ListRoles(_ context.Context, id string) (auth.RoleSet, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.roles[id], nil
}

type fakeProfiles struct {
	profiles map[auth.Role]map[string]auth.Profile
	err      error
	calls    int
}

func (f *fakeProfiles) Profile(_ context.Context, role auth.Role, id string) (auth.Profile, error) {
	f.calls++
	if f.err != nil {
		return auth.Profile{}, f.err
	}
	p, ok := f.profiles[role][id]
	if !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
	return p, nil
}

var allTiers = []Tier{TierDoctor, TierPartner, TierSuperAdmin, TierAdmin}

func newFixture(principal *auth.Principal) (*Guard, *fakeSessions, *fakeRoles, *fakeProfiles) {
	sessions := &fakeSessions{principal: principal}
	roles := &fakeRoles{roles: map[string]auth.RoleSet{}}
	profiles := &fakeProfiles{profiles: map[auth.Role]map[string]auth.Profile{
		auth.RoleDoctor:  {},
		auth.RolePartner: {},
	}}
	g, err := New(sessions, roles, profiles)
	if err != nil {
		panic(err)
	}
	return g, sessions, roles, profiles
}

func TestCheckUnauthenticatedAlwaysDenied(t *testing.T) {
	for _, tier := range allTiers {
		g, _, roles, profiles := newFixture(nil)
		out := g.Check(context.Background(), tier)
		assert.Equal(t, StateDenied, out.State, tier)
		assert.Equal(t, ReasonUnauthenticated, out.Reason, tier)
		assert.False(t, out.Allowed(), tier)
		assert.Zero(t, roles.calls, "no role lookup without principal")
		assert.Zero(t, profiles.calls)
	}
}

func TestCheckRoleMissingDoesNotSignOut(t *testing.T) {
	p := &auth.Principal{ID: "u1"}
	for _, tier := range allTiers {
		g, sessions, roles, _ := newFixture(p)
		roles.roles["u1"] = auth.NewRoleSet(auth.RoleUser)
		out := g.Check(context.Background(), tier)
		assert.Equal(t, ReasonRoleMissing, out.Reason, tier)
		assert.Zero(t, sessions.signOuts, tier)
		assert.Equal(t, tier.LoginRedirect(), out.Redirect())
	}
}

func TestCheckMissingProfileIsSetupIncompleteForBothTiers(t *testing.T) {
	p := &auth.Principal{ID: "u1"}
	for _, tier := range []Tier{TierDoctor, TierPartner} {
		g, sessions, roles, _ := newFixture(p)
		roles.roles["u1"] = auth.NewRoleSet(tier.RequiredRole())
		out := g.Check(context.Background(), tier)
		assert.Equal(t, StateDenied, out.State, tier)
		assert.Equal(t, ReasonSetupIncomplete, out.Reason, tier)
		assert.Zero(t, sessions.signOuts, tier)
	}
}

func TestCheckInactiveProfileSignsOutExactlyOnce(t *testing.T) {
	p := &auth.Principal{ID: "u1"}
	for _, tier := range []Tier{TierDoctor, TierPartner} {
		g, sessions, roles, profiles := newFixture(p)
		role := tier.RequiredRole()
		roles.roles["u1"] = auth.NewRoleSet(role)
		profiles.profiles[role]["u1"] = auth.Profile{ID: "p1", UserID: "u1", Role: role, IsActive: false}

		out := g.Check(context.Background(), tier)
		assert.Equal(t, ReasonAccountDeactivated, out.Reason, tier)
		assert.Nil(t, out.Profile)
		assert.Equal(t, 1, sessions.signOuts, tier)
	}
}

func TestCheckInactiveProfileDeniesEvenIfSignOutFails(t *testing.T) {
	g, sessions, roles, profiles := newFixture(&auth.Principal{ID: "u1"})
	roles.roles["u1"] = auth.NewRoleSet(auth.RoleDoctor)
	profiles.profiles[auth.RoleDoctor]["u1"] = auth.Profile{ID: "p1", UserID: "u1", Role: auth.RoleDoctor}
	sessions.signOutFn = func() error { return errors.New("revocation store down") }

	out := g.Check(context.Background(), TierDoctor)
	assert.Equal(t, ReasonAccountDeactivated, out.Reason)
	assert.Equal(t, 1, sessions.signOuts)
}

func TestCheckAllowsActiveProfile(t *testing.T) {
	g, sessions, roles, profiles := newFixture(&auth.Principal{ID: "u1", Email: "doc@example.com"})
	roles.roles["u1"] = auth.NewRoleSet(auth.RoleUser, auth.RoleDoctor)
	profiles.profiles[auth.RoleDoctor]["u1"] = auth.Profile{
		ID: "p1", UserID: "u1", Role: auth.RoleDoctor, IsActive: true,
		Specialty: "cardiology", Hospital: "General",
	}

	out := g.Check(context.Background(), TierDoctor)
	require.True(t, out.Allowed())
	require.NotNil(t, out.Profile)
	assert.Equal(t, "cardiology", out.Profile.Specialty)
	assert.Equal(t, "u1", out.Principal.ID)
	assert.Empty(t, out.Redirect())
	assert.Zero(t, sessions.signOuts)
}

func TestCheckAdminTiersSkipProfile(t *testing.T) {
	for _, tier := range []Tier{TierSuperAdmin, TierAdmin} {
		g, _, roles, profiles := newFixture(&auth.Principal{ID: "root"})
		roles.roles["root"] = auth.NewRoleSet(auth.RoleSuperAdmin)
		out := g.Check(context.Background(), tier)
		assert.True(t, out.Allowed(), tier)
		assert.Nil(t, out.Profile)
		assert.Zero(t, profiles.calls)
	}
}

func TestCheckFailsClosedOnStoreFaults(t *testing.T) {
	g, _, roles, _ := newFixture(&auth.Principal{ID: "u1"})
	roles.err = errors.New("connection refused")
	out := g.Check(context.Background(), TierSuperAdmin)
	assert.Equal(t, ReasonAccessCheckFailed, out.Reason)
	assert.False(t, out.Allowed())

	g, sessions, roles, profiles := newFixture(&auth.Principal{ID: "u1"})
	roles.roles["u1"] = auth.NewRoleSet(auth.RolePartner)
	profiles.err = context.DeadlineExceeded
	out = g.Check(context.Background(), TierPartner)
	assert.Equal(t, ReasonAccessCheckFailed, out.Reason)
	assert.Zero(t, sessions.signOuts)
}

func TestCheckUnknownTierFailsClosed(t *testing.T) {
	g, _, roles, _ := newFixture(&auth.Principal{ID: "u1"})
	out := g.Check(context.Background(), Tier("nurse"))
	assert.Equal(t, ReasonAccessCheckFailed, out.Reason)
	assert.Zero(t, roles.calls)
}

func TestCheckIsIdempotent(t *testing.T) {
	g, _, roles, profiles := newFixture(&auth.Principal{ID: "u1"})
	roles.roles["u1"] = auth.NewRoleSet(auth.RolePartner)
	profiles.profiles[auth.RolePartner]["u1"] = auth.Profile{ID: "p", UserID: "u1", Role: auth.RolePartner, IsActive: true, PartnerCode: "PX1"}

	first := g.Check(context.Background(), TierPartner)
	second := g.Check(context.Background(), TierPartner)
	assert.Equal(t, first, second)
}

func TestTierMapping(t *testing.T) {
	cases := []struct {
		tier     Tier
		role     auth.Role
		profile  bool
		redirect string
	}{
		{TierDoctor, auth.RoleDoctor, true, "/doctor/login"},
		{TierPartner, auth.RolePartner, true, "/partner/login"},
		{TierSuperAdmin, auth.RoleSuperAdmin, false, "/dashboard"},
		{TierAdmin, auth.RoleSuperAdmin, false, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.role, tc.tier.RequiredRole())
		assert.Equal(t, tc.profile, tc.tier.HasProfile())
		assert.Equal(t, tc.redirect, tc.tier.LoginRedirect())
		parsed, err := ParseTier(string(tc.tier))
		require.NoError(t, err)
		assert.Equal(t, tc.tier, parsed)
	}
	_, err := ParseTier("user")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}
