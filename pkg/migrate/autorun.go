package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/db"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

// MaybeRunDev brings a dev database up to date at boot when
// EVENTRELAY_AUTO_MIGRATE is set. Every other environment migrates through
// cmd/migrate, and non-postgres drivers are left to the caller.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if cfg.DB.Driver != "" && cfg.DB.Driver != db.DriverPostgres {
		return nil
	}
	if client == nil {
		return errors.New("auto-migrate needs a database client")
	}
	if err := ValidateDir(DefaultDir); err != nil {
		return fmt.Errorf("refusing to auto-migrate: %w", err)
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	ctx = logg.WithField(ctx, "dir", DefaultDir)
	before, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return err
	}
	after, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"from_version": before,
		"to_version":   after,
	}), "dev auto-migrate completed")
	return nil
}
