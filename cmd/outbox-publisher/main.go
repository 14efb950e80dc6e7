package main

import (
	"context"
	"errors"
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
	"github.com/heuristiclogix/eventrelay/pkg/broker"
	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/db"
	"github.com/heuristiclogix/eventrelay/pkg/instance"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/metrics"
	"github.com/heuristiclogix/eventrelay/pkg/migrate"
	"github.com/heuristiclogix/eventrelay/pkg/outbox"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/notifier"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/publisher"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/registry"
	"github.com/heuristiclogix/eventrelay/pkg/redis"
)

const (
	serviceName     = "outbox-publisher"
	shutdownTimeout = 20 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shut down")
}

func run(ctx context.Context, logg *logger.Logger) error {
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
		"broker":   cfg.Broker.Driver,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	pub, err := broker.Open(ctx, cfg, registry.NewEventRegistry().Topics(), logg)
	if err != nil {
		return fmt.Errorf("bootstrap broker: %w", err)
	}
	defer closeQuietly(ctx, logg, "broker publisher", pub.Close)

	checks := []controllers.ReadinessCheck{
		{Name: "database", Check: dbClient.Ping},
		{Name: "broker", Check: pub.Ping},
	}

	local := notifier.New()
	if cfg.FeatureFlags.NotifyRedisRelay {
		redisCheck, closeRelay, err := startNotifyRelay(ctx, cfg, logg, local)
		if err != nil {
			return err
		}
		defer closeRelay()
		checks = append(checks, redisCheck)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := publisher.New(publisher.Params{
		Config:        cfg.Outbox,
		Logger:        logg,
		DB:            dbClient,
		Broker:        pub,
		Repository:    outbox.NewRepository(dbClient.DB()),
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Signal:        local,
		Metrics:       metrics.NewOutboxMetrics(reg),
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}
	checks = append(checks, controllers.ReadinessCheck{Name: "outbox_publisher", Check: service.Ready})

	stopOps := serveOps(ctx, logg, &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           routes.NewOpsRouter(cfg, logg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), checks...),
		ReadHeaderTimeout: 10 * time.Second,
	})
	defer stopOps()

	logg.Info(ctx, "starting outbox publisher")
	return service.Run(ctx)
}

// startNotifyRelay forwards outbox notifications written by other processes
// into the local signal. Without it those writes wait for the fallback poll.
func startNotifyRelay(ctx context.Context, cfg *config.Config, logg *logger.Logger, local *notifier.Notifier) (controllers.ReadinessCheck, func(), error) {
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return controllers.ReadinessCheck{}, nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	relay, err := notifier.NewRedisRelay(redisClient, redisClient.ChannelName(cfg.Outbox.NotifyChannel), local, logg)
	if err != nil {
		closeQuietly(ctx, logg, "redis", redisClient.Close)
		return controllers.ReadinessCheck{}, nil, fmt.Errorf("outbox notify relay: %w", err)
	}
	go func() {
		if err := relay.RunSubscriber(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "outbox notify relay stopped", err)
		}
	}()
	closeFn := func() { closeQuietly(ctx, logg, "redis", redisClient.Close) }
	return controllers.ReadinessCheck{Name: "redis", Check: redisClient.Ping}, closeFn, nil
}

func serveOps(ctx context.Context, logg *logger.Logger, srv *http.Server) func() {
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "ops server shutdown failed", err)
		}
	}
}

func closeQuietly(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+name, err)
	}
}
