package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"medgate.org/internal/account"
	"medgate.org/internal/audit"
	"medgate.org/internal/globalid"
	"medgate.org/internal/guard"
	"medgate.org/internal/httpapi"
	"medgate.org/internal/obs"
	"medgate.org/internal/seed"
	"medgate.org/internal/session"
	"medgate.org/internal/store/memory"
	"medgate.org/internal/store/pg"
)

const (
	shutdownTimeout   = 10 * time.Second
	healthInterval    = 10 * time.Second
	revocationSweep   = 10 * time.Minute
	readHeaderTimeout = 15 * time.Second
)

// backend is everything the services need from a store.
type backend interface {
	session.CredentialStore
	session.RevocationStore
	guard.RoleStore
	guard.ProfileStore
	globalid.Store
	audit.Store
	Ping(ctx context.Context) error
	PurgeRevokedTokens(ctx context.Context) (int64, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the gRPC health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		api, err := buildAPI(store)
		if err != nil {
			return err
		}
		return run(ctx, api, store)
	},
}

func openBackend(ctx context.Context) (backend, func(), error) {
	log := obs.Logger()
	if cfg.UsesMemoryStore() {
		store := memory.New()
		if cfg.DemoSeed {
			users, err := seed.Apply(ctx, store, cfg.DemoPassword, seed.Demo)
			if err != nil {
				return nil, nil, fmt.Errorf("seed demo principals: %w", err)
			}
			log.Info().Int("users", len(users)).Interface("counts", store.Snapshot()).Msg("demo principals seeded")
		}
		log.Warn().Msg("no database configured, using in-memory store")
		return store, func() {}, nil
	}

	store, err := pg.Open(cfg.DatabaseURL, pg.WithQueryTimeout(cfg.StoreTimeout))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Msg("connected to database")
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close database")
		}
	}, nil
}

func buildAPI(store backend) (*httpapi.API, error) {
	provider, err := session.NewProvider(store, store, cfg.Auth.Secret,
		session.WithIssuer(cfg.Auth.Issuer),
		session.WithAccessTTL(cfg.Auth.AccessTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("session provider: %w", err)
	}
	g, err := guard.New(provider, store, store)
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.NewLog(store)
	if err != nil {
		return nil, err
	}
	resolver, err := globalid.NewResolver(store, store, provider, auditLog)
	if err != nil {
		return nil, err
	}
	accounts, err := account.NewService(provider, store, auditLog)
	if err != nil {
		return nil, err
	}
	return httpapi.New(httpapi.Options{
		Sessions:       provider,
		Guard:          g,
		Resolver:       resolver,
		Accounts:       accounts,
		Ready:          store,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
		SignInRate:     cfg.SignIn.PerSecond,
		SignInBurst:    cfg.SignIn.Burst,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Version:        version,
	})
}

func run(ctx context.Context, api *httpapi.API, store backend) error {
	log := obs.Logger()
	group, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2c.NewHandler(api.Handler(), &http2.Server{}),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	group.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info().Msg("http stopped")
		return nil
	})

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
		}
		gs := grpc.NewServer()
		health := httpapi.NewGRPCHealth(store)
		health.Register(gs)

		group.Go(func() error {
			health.Watch(ctx, healthInterval)
			return nil
		})
		group.Go(func() error {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc health listening")
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	group.Go(func() error {
		sweepRevocations(ctx, store, revocationSweep)
		return nil
	})

	return group.Wait()
}

func sweepRevocations(ctx context.Context, store backend, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeRevokedTokens(ctx)
			if err != nil {
				obs.Logger().Warn().Err(err).Msg("purge revoked tokens")
				continue
			}
			if n > 0 {
				obs.Logger().Debug().Int64("purged", n).Msg("revoked tokens purged")
			}
		}
	}
}
