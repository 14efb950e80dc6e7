package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heuristiclogix/eventrelay/api/controllers"
	"github.com/heuristiclogix/eventrelay/api/routes"
	"github.com/heuristiclogix/eventrelay/internal/cron"
	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/db"
	"github.com/heuristiclogix/eventrelay/pkg/instance"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/metrics"
	"github.com/heuristiclogix/eventrelay/pkg/migrate"
	"github.com/heuristiclogix/eventrelay/pkg/outbox"
	"github.com/heuristiclogix/eventrelay/pkg/redis"
)

const (
	serviceName     = "cron-worker"
	shutdownTimeout = 10 * time.Second
)

func main() {
	once := flag.Bool("once", false, "run a single locked cycle and exit (for scheduler-driven deployments)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logg, *once); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
		"once":     once,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := buildService(cfg, logg, dbClient, redisClient, reg)
	if err != nil {
		return err
	}

	if once {
		report, err := service.RunOnce(ctx)
		if err != nil {
			return err
		}
		if report.Skipped {
			logg.Info(ctx, "cycle skipped; another replica holds the lock")
			return nil
		}
		return report.Err()
	}

	opsServer := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: routes.NewOpsRouter(cfg, logg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			controllers.ReadinessCheck{Name: "database", Check: dbClient.Ping},
			controllers.ReadinessCheck{Name: "redis", Check: redisClient.Ping},
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "ops server shutdown failed", err)
		}
	}()

	err = service.Run(ctx)
	logg.Info(ctx, "cron worker shutting down")
	return err
}

func buildService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*cron.Service, error) {
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceName), cfg.Cron.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("cron lock: %w", err)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Cron.OutboxRetentionDays,
		BatchSize:  cfg.Cron.RetentionBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	backlog, err := cron.NewOutboxBacklogJob(cron.OutboxBacklogJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Metrics:    metrics.NewOutboxMetrics(reg),
	})
	if err != nil {
		return nil, fmt.Errorf("outbox backlog job: %w", err)
	}

	jobs, err := cron.NewRegistry(retention, backlog)
	if err != nil {
		return nil, fmt.Errorf("register cron jobs: %w", err)
	}
	return cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   jobs,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(reg),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
}

func closeQuietly(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+name, err)
	}
}
