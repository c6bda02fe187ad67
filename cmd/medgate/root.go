package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"medgate.org/internal/config"
	"medgate.org/internal/obs"
)

var (
	v   = config.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "medgate",
	Short:         "Role-gated access API for doctors, partners and administrators",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", path, err)
			}
		}
		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		obs.SetDebug(cfg.Debug)
		obs.Init()
		obs.InitBuildInfo(version, commit)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML/TOML/JSON config file")
	flags.String("db-url", "", "PostgreSQL DSN; empty uses the in-memory store (env: MEDGATE_PG_DSN)")
	flags.Bool("debug", false, "Enable debug logging (env: MEDGATE_DEBUG)")
	mustBind(v, config.KeyDatabaseURL, flags.Lookup("db-url"))
	mustBind(v, config.KeyDebug, flags.Lookup("debug"))

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func mustBind(v *viper.Viper, key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
