package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xtmate/xtmate/internal/platform/config"
	"github.com/xtmate/xtmate/internal/platform/database"
	"github.com/xtmate/xtmate/internal/platform/telemetry"
	"github.com/xtmate/xtmate/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	telemetry.SetDefault(telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format))

	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	return database.RunMigrations(cfg.Database.URL, migrations.FS)
}
