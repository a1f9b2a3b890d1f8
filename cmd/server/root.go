package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/toil-ledger/config"
	"github.com/warp/toil-ledger/generic"
	memstore "github.com/warp/toil-ledger/generic/store"
	"github.com/warp/toil-ledger/logging"
	"github.com/warp/toil-ledger/store/postgres"
	"github.com/warp/toil-ledger/store/sqlite"
)

var configPath string

// flagKeys maps config keys to the persistent and serve flags that override them.
var flagKeys = map[string]string{
	"server.port":       "port",
	"store.driver":      "store",
	"store.dsn":         "dsn",
	"logging.level":     "log-level",
	"logging.format":    "log-format",
	"scheduler.enabled": "scheduler",
}

func buildRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toild",
		Short: "TOIL ledger service",
		Long: `toild keeps the time-off-in-lieu ledger for a timesheet system.

It computes daily overtime accrual from timesheet entries, records TOIL
leave taken, and keeps per-user monthly balances consistent when entries
are deleted.

Configuration is read from an optional YAML file (--config), TOIL_*
environment variables (e.g. TOIL_STORE_DSN) and flags, flags winning.

Examples:
  # Serve with the default SQLite database
  toild serve

  # Serve from PostgreSQL
  toild serve --store=postgres --dsn="postgres://toil@localhost/toil"

  # In-memory store for a throwaway instance
  toild serve --store=memory

  # One-shot maintenance
  toild repair
  toild expire
  toild cleanup --user=u-123`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().String("store", "sqlite", "Store driver: sqlite, postgres or memory")
	cmd.PersistentFlags().String("dsn", "toil.db", "Store DSN (SQLite path or PostgreSQL URL)")
	cmd.PersistentFlags().String("log-level", "info", "Log level")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text or json")

	return cmd
}

// loadConfig resolves the configuration for cmd and builds the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags(), flagKeys); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	return cfg, log, nil
}

// openStore opens the configured store. The caller closes it.
func openStore(ctx context.Context, cfg config.StoreConfig) (generic.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.NewMemory(), nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return s, nil
	default:
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, nil
	}
}
