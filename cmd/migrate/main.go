package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/migrate"
	"github.com/joho/godotenv"
)

const connectTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|up-by-one|down|redo|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	ctx := logg.WithFields(context.Background(), map[string]any{
		"cmd": *cmd,
		"dir": *dir,
	})

	// offline commands never load config or touch the database
	switch *cmd {
	case "create":
		if *name == "" {
			exit(ctx, logg, "missing -name for create", nil)
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			exit(ctx, logg, "failed to create migration", err)
		}
		logg.Info(logg.WithField(ctx, "path", path), "migration created")
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			exit(ctx, logg, "migration validation failed", err)
		}
		logg.Info(ctx, "migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	sqlDB, err := migrate.Open(connectCtx, cfg.DB.DSN)
	cancel()
	requireResource(ctx, logg, "database", err)
	defer sqlDB.Close()

	switch *cmd {
	case "up", "up-by-one", "down", "redo", "status":
		err = migrate.Run(ctx, sqlDB, *dir, *cmd)
	case "version":
		if *version == "" {
			exit(ctx, logg, "missing -version for version command", nil)
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, *dir, *version)
	default:
		exit(ctx, logg, fmt.Sprintf("unknown -cmd value: %s", *cmd), nil)
	}
	if err != nil {
		exit(ctx, logg, fmt.Sprintf("goose %s failed", *cmd), err)
	}
	logg.Info(ctx, "migration command completed")
}

func exit(ctx context.Context, logg *logger.Logger, msg string, err error) {
	logg.Error(ctx, msg, err)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	exit(ctx, logg, fmt.Sprintf("resource not working: %s", resource), err)
}
