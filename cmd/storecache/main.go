package main

import (
	"fmt"
	"os"

	"github.com/oriys/storecache/internal/config"
	"github.com/oriys/storecache/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	mirrorKind string
	sqlitePath string
	pgDSN      string

	cfg *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "storecache",
		Short: "storecache - storefront catalog cache",
		Long:  "Inspect, warm and serve the two-tier storefront cache and its backend connection pool",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd, loaded)
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded
			logging.InitStructured(cfg.Log.Format, cfg.Log.Level)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&mirrorKind, "mirror", "", "Mirror backend (none, memory, sqlite, redis, s3)")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite mirror file")
	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN for the backend pool")

	rootCmd.AddCommand(
		getCmd(),
		setCmd(),
		delCmd(),
		purgeCmd(),
		clearCmd(),
		keysCmd(),
		statsCmd(),
		sweepCmd(),
		warmCmd(),
		poolCheckCmd(),
		serveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlagOverrides lets explicitly set flags win over file and env.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = logFormat
	}
	if flags.Changed("mirror") {
		c.Mirror.Kind = mirrorKind
	}
	if flags.Changed("sqlite-path") {
		c.Mirror.SQLitePath = sqlitePath
	}
	if flags.Changed("pg-dsn") {
		c.Pool.DSN = pgDSN
	}
}
