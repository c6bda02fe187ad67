package globalid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medgate.org/internal/audit"
	"medgate.org/internal/auth"
	"medgate.org/internal/session"
)

type stubStore struct {
	lookups []string
	fn      func(id string) (auth.GlobalIDRecord, error)
}

func (s *stubStore) LookupGlobalID(_ context.Context, id string) (auth.GlobalIDRecord, error) {
	s.lookups = append(s.lookups, id)
	if s.fn != nil {
		return s.fn(id)
	}
	return auth.GlobalIDRecord{}, auth.ErrNotFound
}

type stubRoles struct {
	calls int
	fn    func(id string) (auth.RoleSet, error)
}

func (s *stubRoles) ListRoles(_ context.Context, id string) (auth.RoleSet, error) {
	s.calls++
	if s.fn != nil {
		return s.fn(id)
	}
	return auth.NewRoleSet(), nil
}

type stubRecorder struct {
	entries []audit.Entry
	err     error
}

func (s *stubRecorder) Record(_ context.Context, e audit.Entry) (audit.Entry, error) {
	if s.err != nil {
		return audit.Entry{}, s.err
	}
	s.entries = append(s.entries, e)
	return e, nil
}

type credentials struct {
	users map[string]auth.User
	err   error
}

func (c *credentials) UserByEmail(_ context.Context, email string) (auth.User, error) {
	if c.err != nil {
		return auth.User{}, c.err
	}
	u, ok := c.users[email]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (c *credentials) DeleteUser(context.Context, string) error { return nil }

type noRevocations struct{}

func (noRevocations) RevokeToken(context.Context, string, time.Time) error { return nil }
func (noRevocations) IsTokenRevoked(context.Context, string) (bool, error) { return false, nil }

type fixture struct {
	resolver *Resolver
	store    *stubStore
	roles    *stubRoles
	audit    *stubRecorder
	creds    *credentials
	provider *session.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := auth.HashPassword("correct")
	require.NoError(t, err)

	f := &fixture{
		store: &stubStore{fn: func(id string) (auth.GlobalIDRecord, error) {
			switch id {
			case "ABC-012345":
				return auth.GlobalIDRecord{GlobalID: id, Email: "admin@example.com", UserID: "u-admin"}, nil
			case "XYZ-0ABCDE":
				return auth.GlobalIDRecord{GlobalID: id, Email: "doc@example.com", UserID: "u-doc"}, nil
			}
			return auth.GlobalIDRecord{}, auth.ErrNotFound
		}},
		roles: &stubRoles{fn: func(id string) (auth.RoleSet, error) {
			if id == "u-admin" {
				return auth.NewRoleSet(auth.RoleUser, auth.RoleSuperAdmin), nil
			}
			return auth.NewRoleSet(auth.RoleUser, auth.RoleDoctor), nil
		}},
		audit: &stubRecorder{},
		creds: &credentials{users: map[string]auth.User{
			"admin@example.com": {ID: "u-admin", Email: "admin@example.com", PasswordHash: hash, FullName: "Root", GlobalID: "ABC-012345"},
			"doc@example.com":   {ID: "u-doc", Email: "doc@example.com", PasswordHash: hash},
		}},
	}
	f.provider, err = session.NewProvider(f.creds, noRevocations{}, "test-secret-0123456789")
	require.NoError(t, err)
	f.resolver, err = NewResolver(f.store, f.roles, f.provider, f.audit)
	require.NoError(t, err)
	return f
}

func TestResolveAndSignInSuccess(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolver.ResolveAndSignIn(context.Background(), "ABC-012345", "correct")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Session.AccessToken)
	assert.Equal(t, "Bearer", res.Session.TokenType)
	assert.Equal(t, "u-admin", res.User.ID)
	assert.Equal(t, "admin@example.com", res.User.Email)
	assert.Contains(t, res.User.Roles, auth.RoleSuperAdmin)

	principal, err := f.provider.Authenticate(context.Background(), res.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-admin", principal.ID)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, audit.ActionPrivilegedSignIn, f.audit.entries[0].Action)
	assert.Equal(t, "u-admin", f.audit.entries[0].ActorID)
	assert.Equal(t, "ABC-012345", f.audit.entries[0].TargetID)
}

func TestResolveNormalizesCase(t *testing.T) {
	f := newFixture(t)
	_, _ = f.resolver.ResolveAndSignIn(context.Background(), "  xyz-0abcde ", "correct")
	assert.Equal(t, []string{"XYZ-0ABCDE"}, f.store.lookups)
}

func TestResolveRejectsMalformedWithoutStoreAccess(t *testing.T) {
	cases := []struct {
		name, id, password string
	}{
		{"empty id", "", "pw"},
		{"empty password", "ABC-012345", ""},
		{"missing zero", "ABC-112345", "pw"},
		{"short", "ABC-01234", "pw"},
		{"long", "ABC-0123456", "pw"},
		{"digits prefix", "AB1-012345", "pw"},
		{"no hyphen", "ABC012345", "pw"},
		{"symbol", "ABC-01234$", "pw"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.resolver.ResolveAndSignIn(context.Background(), tc.id, tc.password)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Empty(t, f.store.lookups)
			assert.Zero(t, f.roles.calls)
			assert.Empty(t, f.audit.entries)
		})
	}
}

func TestResolveCollapsesFailures(t *testing.T) {
	cases := []struct {
		name     string
		id       string
		password string
		mutate   func(f *fixture)
	}{
		{"unknown id", "QQQ-000000", "correct", nil},
		{"not super admin", "XYZ-0ABCDE", "correct", nil},
		{"wrong password", "ABC-012345", "nope", nil},
		{"lookup fault", "ABC-012345", "correct", func(f *fixture) {
			f.store.fn = func(string) (auth.GlobalIDRecord, error) { return auth.GlobalIDRecord{}, errors.New("timeout") }
		}},
		{"role fault", "ABC-012345", "correct", func(f *fixture) {
			f.roles.fn = func(string) (auth.RoleSet, error) { return nil, errors.New("timeout") }
		}},
		{"credential fault", "ABC-012345", "correct", func(f *fixture) {
			f.creds.err = errors.New("timeout")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.mutate != nil {
				tc.mutate(f)
			}
			res, err := f.resolver.ResolveAndSignIn(context.Background(), tc.id, tc.password)
			require.Error(t, err)
			assert.Equal(t, ErrInvalidCredentials, err, "failure must not be wrapped with detail")
			assert.Empty(t, res.Session.AccessToken)
			require.Len(t, f.audit.entries, 1)
			assert.Equal(t, audit.ActionPrivilegedSignInFailed, f.audit.entries[0].Action)
			assert.Empty(t, f.audit.entries[0].ActorID)
		})
	}
}

func TestResolveAuditFailureDoesNotChangeResult(t *testing.T) {
	f := newFixture(t)
	f.audit.err = errors.New("audit down")

	res, err := f.resolver.ResolveAndSignIn(context.Background(), "ABC-012345", "correct")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Session.AccessToken)

	_, err = f.resolver.ResolveAndSignIn(context.Background(), "ABC-012345", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNormalize(t *testing.T) {
	id, err := Normalize(" abc-0z9y8x ")
	require.NoError(t, err)
	assert.Equal(t, "ABC-0Z9Y8X", id)

	_, err = Normalize("abc-1z9y8x")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestNewResolverRequiresCollaborators(t *testing.T) {
	_, err := NewResolver(nil, &stubRoles{}, nil, &stubRecorder{})
	assert.Error(t, err)
}
