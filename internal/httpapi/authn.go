package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"medgate.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errMissingToken = errors.New("missing bearer token")
	errBadScheme    = errors.New("invalid authorization scheme")
)

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errBadScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

// sessionContext attaches the authenticated principal and its token to the
// request context. A missing or invalid token yields the unchanged context
// and auth.ErrInvalidToken; store faults are returned as they are.
func (a *API) sessionContext(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return ctx, auth.ErrInvalidToken
	}
	principal, err := a.sessions.Authenticate(ctx, token)
	if err != nil {
		return ctx, err
	}
	ctx = auth.ContextWithPrincipal(ctx, principal)
	return auth.ContextWithToken(ctx, token), nil
}
