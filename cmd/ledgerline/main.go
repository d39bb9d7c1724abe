package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tobyv/ledgerline/internal/config"
	"github.com/tobyv/ledgerline/internal/database"
	"github.com/tobyv/ledgerline/internal/service"
)

func main() {
	root := &cobra.Command{
		Use:           "ledgerline",
		Short:         "Local-first transaction store with live queries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd(), seedCmd(), watchCmd(), resetCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads config, configures logging and opens the migrated database
// with default categories in place.
func setup(cmd *cobra.Command) (config.Config, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return config.Config{}, nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := database.OpenMigrated(cfg.Database.Path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.SeedDefaults(cmd.Context(), db); err != nil {
		_ = db.Close()
		return config.Config{}, nil, fmt.Errorf("seed defaults: %w", err)
	}
	return cfg, db, nil
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all data, keeping the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to wipe data without --yes")
			}
			_, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			m := &service.MaintenanceService{DB: db}
			if err := m.Reset(cmd.Context()); err != nil {
				return err
			}
			if err := database.SeedDefaults(cmd.Context(), db); err != nil {
				return err
			}
			logrus.Info("database reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			logrus.WithField("path", cfg.Database.Path).Info("database up to date")
			return nil
		},
	}
}
