package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"medgate.org/internal/auth"
	"medgate.org/internal/globalid"
	"medgate.org/internal/guard"
	"medgate.org/internal/obs"
)

const serviceName = "medgate"

// Sessions verifies bearer tokens and revokes them.
type Sessions interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
	SignOut(ctx context.Context) error
}

// Gatekeeper hands out one guard gate per request.
type Gatekeeper interface {
	NewGate(tier guard.Tier) *guard.Gate
}

// Resolver performs the global id sign-in.
type Resolver interface {
	ResolveAndSignIn(ctx context.Context, globalID, password string) (globalid.Result, error)
}

// AccountDeleter removes the caller's own account.
type AccountDeleter interface {
	DeleteOwnAccount(ctx context.Context, token string) (auth.Principal, error)
}

// Pinger reports store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the API to its collaborators.
type Options struct {
	Sessions Sessions
	Guard    Gatekeeper
	Resolver Resolver
	Accounts AccountDeleter
	Ready    Pinger

	CORSOrigins    []string
	TrustedProxies []netip.Prefix
	SignInRate     float64
	SignInBurst    int
	MaxBodyBytes   int64
	Version        string
}

// API is the HTTP layer.
type API struct {
	sessions Sessions
	guard    Gatekeeper
	resolver Resolver
	accounts AccountDeleter
	ready    Pinger

	corsOrigins    []string
	trustedProxies []netip.Prefix
	limiter        *RateLimiter
	maxBodyBytes   int64
	version        string
}

// New validates opts and constructs the API.
func New(opts Options) (*API, error) {
	if opts.Sessions == nil || opts.Guard == nil || opts.Resolver == nil || opts.Accounts == nil {
		return nil, errors.New("httpapi: sessions, guard, resolver and account service are required")
	}
	if opts.SignInRate <= 0 {
		opts.SignInRate = 1
	}
	if opts.SignInBurst <= 0 {
		opts.SignInBurst = 5
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}
	limiter, err := NewRateLimiter(opts.SignInRate, opts.SignInBurst, defaultLimiterEntries)
	if err != nil {
		return nil, err
	}
	return &API{
		sessions:       opts.Sessions,
		guard:          opts.Guard,
		resolver:       opts.Resolver,
		accounts:       opts.Accounts,
		ready:          opts.Ready,
		corsOrigins:    opts.CORSOrigins,
		trustedProxies: opts.TrustedProxies,
		limiter:        limiter,
		maxBodyBytes:   opts.MaxBodyBytes,
		version:        opts.Version,
	}, nil
}

// CORSOptions allows the configured browser origins to call the privileged
// entry points with a bearer header.
func CORSOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}
}

// Handler assembles the chi router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(TrustedRealIP(a.trustedProxies))
	r.Use(RequestContext)
	r.Use(LoggingJSON)
	r.Use(obs.Instrument)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(CORSOptions(a.corsOrigins)))
	r.Use(MaxBodyBytes(a.maxBodyBytes))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(a.limiter.Middleware).Post("/auth/global-id/sign-in", a.handleGlobalIDSignIn)
		r.Options("/auth/global-id/sign-in", preflight)
		r.Post("/auth/sign-out", a.handleSignOut)
		r.Options("/auth/sign-out", preflight)

		r.Post("/account/delete", a.handleDeleteAccount)
		r.Options("/account/delete", preflight)

		r.Get("/access/{tier}", a.handleAccess)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.checkReady(r.Context()); err != nil {
		obs.Logger().Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) checkReady(ctx context.Context) error {
	if a.ready == nil {
		obs.SetReady(true)
		return nil
	}
	err := a.ready.Ping(ctx)
	obs.SetReady(err == nil)
	return err
}

// preflight answers a bare OPTIONS request with an empty 200.
func preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return errMalformedBody
	}
	return nil
}

var (
	errBodyTooLarge  = errors.New("request body too large")
	errMalformedBody = errors.New("malformed json body")
)
