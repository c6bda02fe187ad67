package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"medgate.org/internal/migrate"
	"medgate.org/internal/obs"
	"medgate.org/internal/seed"
	"medgate.org/internal/store/pg"
)

const migrateTimeout = 30 * time.Second

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager, _ *pg.Store) error {
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			obs.Logger().Info().Msg("no new migrations to apply")
		}
		for _, name := range applied {
			obs.Logger().Info().Str("migration", name).Msg("applied")
		}
		return nil
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the latest migration",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager, _ *pg.Store) error {
		name, err := mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			obs.Logger().Info().Msg("nothing to revert")
			return nil
		}
		if err != nil {
			return err
		}
		obs.Logger().Info().Str("migration", name).Msg("reverted")
		return nil
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations",
	RunE: withManager(func(ctx context.Context, mgr *migrate.Manager, _ *pg.Store) error {
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, item := range history {
			fmt.Println(item)
		}
		return nil
	}),
}

var migrateSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Provision the demo principals",
	RunE: withManager(func(ctx context.Context, _ *migrate.Manager, store *pg.Store) error {
		if cfg.DemoPassword == "" {
			return errors.New("MEDGATE_DEMO_PASSWORD is required to seed")
		}
		users, err := seed.Apply(ctx, store, cfg.DemoPassword, seed.Demo)
		if err != nil {
			return err
		}
		obs.Logger().Info().Int("users", len(users)).Msg("demo principals seeded")
		return nil
	}),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd, migrateSeedCmd)
}

func withManager(fn func(ctx context.Context, mgr *migrate.Manager, store *pg.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if cfg.UsesMemoryStore() {
			return errors.New("missing DSN: provide via --db-url or MEDGATE_PG_DSN")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
		defer cancel()

		store, err := pg.Open(cfg.DatabaseURL, pg.WithQueryTimeout(cfg.StoreTimeout))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer store.Close()

		if err := fn(ctx, migrate.NewManager(store.DB()), store); err != nil {
			return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
		}
		return nil
	}
}
