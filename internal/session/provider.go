// Package session is the session provider: it signs principals in with a
// credential, authenticates bearer tokens, revokes them on sign-out and
// performs the elevated user deletion used by account removal.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"medgate.org/internal/auth"
	"medgate.org/internal/obs"
)

const (
	defaultIssuer    = "medgate"
	defaultAccessTTL = 15 * time.Minute
	maxClockSkew     = 5 * time.Second
	tokenTypeBearer  = "Bearer"
	minSecretLength  = 16
)

// CredentialStore holds primary credential records.
type CredentialStore interface {
	UserByEmail(ctx context.Context, email string) (auth.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// RevocationStore remembers revoked token ids until they expire.
type RevocationStore interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Claims represents the JWT claims carried by an access token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Provider issues and verifies HS256 access tokens.
type Provider struct {
	credentials CredentialStore
	revocations RevocationStore
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	now         func() time.Time
}

// Option configures Provider behavior.
type Option func(*Provider) error

// WithIssuer overrides the token issuer.
func WithIssuer(issuer string) Option {
	return func(p *Provider) error {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			p.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(p *Provider) error {
		if ttl <= 0 {
			return errors.New("session: access ttl must be positive")
		}
		p.accessTTL = ttl
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(p *Provider) error {
		if fn != nil {
			p.now = fn
		}
		return nil
	}
}

// NewProvider constructs a Provider. The secret must be at least 16 bytes.
func NewProvider(credentials CredentialStore, revocations RevocationStore, secret string, opts ...Option) (*Provider, error) {
	if credentials == nil || revocations == nil {
		return nil, errors.New("session: credential and revocation stores are required")
	}
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("session: secret must be at least %d bytes", minSecretLength)
	}
	p := &Provider{
		credentials: credentials,
		revocations: revocations,
		secret:      []byte(secret),
		issuer:      defaultIssuer,
		accessTTL:   defaultAccessTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SignInWithCredential verifies handle/password and issues a new session.
// Unknown handles and wrong passwords both yield auth.ErrInvalidCredentials.
func (p *Provider) SignInWithCredential(ctx context.Context, handle, password string) (auth.Session, auth.User, error) {
	handle = strings.TrimSpace(strings.ToLower(handle))
	if handle == "" || password == "" {
		return auth.Session{}, auth.User{}, auth.ErrInvalidCredentials
	}
	user, err := p.credentials.UserByEmail(ctx, handle)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return auth.Session{}, auth.User{}, auth.ErrInvalidCredentials
		}
		return auth.Session{}, auth.User{}, fmt.Errorf("%w: load credential: %v", auth.ErrStoreUnavailable, err)
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return auth.Session{}, auth.User{}, auth.ErrInvalidCredentials
	}
	session, err := p.issue(user.Principal())
	if err != nil {
		return auth.Session{}, auth.User{}, err
	}
	return session, user, nil
}

func (p *Provider) issue(principal auth.Principal) (auth.Session, error) {
	now := p.now()
	expiresAt := now.Add(p.accessTTL)
	claims := Claims{
		Email: principal.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return auth.Session{}, fmt.Errorf("sign token: %w", err)
	}
	return auth.Session{
		AccessToken: signed,
		TokenType:   tokenTypeBearer,
		ExpiresAt:   expiresAt,
	}, nil
}

// Authenticate verifies token and returns the principal it was issued to.
func (p *Provider) Authenticate(ctx context.Context, token string) (auth.Principal, error) {
	claims, err := p.parse(token)
	if err != nil {
		return auth.Principal{}, err
	}
	revoked, err := p.revocations.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("%w: revocation lookup: %v", auth.ErrStoreUnavailable, err)
	}
	if revoked {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	return auth.Principal{ID: claims.Subject, Email: claims.Email}, nil
}

func (p *Provider) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, auth.ErrInvalidToken
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now), jwt.WithIssuer(p.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, auth.ErrInvalidToken
	}
	if err := p.validateClaims(claims); err != nil {
		return nil, auth.ErrInvalidToken
	}
	return claims, nil
}

func (p *Provider) validateClaims(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return errors.New("jti missing")
	}
	if claims.IssuedAt == nil {
		return errors.New("issued-at missing")
	}
	if claims.IssuedAt.Time.After(p.now().Add(maxClockSkew)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// CurrentPrincipal returns the principal attached to the request context.
func (p *Provider) CurrentPrincipal(ctx context.Context) (auth.Principal, bool) {
	return auth.PrincipalFromContext(ctx)
}

// SignOut revokes the bearer token carried by ctx. Without a token it is a no-op.
func (p *Provider) SignOut(ctx context.Context) error {
	token, ok := auth.TokenFromContext(ctx)
	if !ok {
		return nil
	}
	claims, err := p.parse(token)
	if err != nil {
		// already unusable
		return nil
	}
	if err := p.revocations.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: revoke token: %v", auth.ErrStoreUnavailable, err)
	}
	obs.Logger().Debug().Str("user_id", claims.Subject).Str("jti", claims.ID).Msg("session revoked")
	return nil
}

// DeleteUser irreversibly removes the user's credential record. Dependent
// records go with it through the store's cascade.
func (p *Provider) DeleteUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	return p.credentials.DeleteUser(ctx, userID)
}
