package main

import (
	"context"
	"errors"
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
	"github.com/heuristiclogix/eventrelay/internal/orders"
	"github.com/heuristiclogix/eventrelay/internal/telemetry"
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

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	outboxMetrics := metrics.NewOutboxMetrics(reg)

	eventRegistry := registry.NewEventRegistry()
	outboxRepo := outbox.NewRepository(dbClient.DB())
	local := notifier.New()

	var signalers notifier.Multi
	if cfg.FeatureFlags.EmbeddedOutbox {
		signalers = append(signalers, local)
	}
	if cfg.FeatureFlags.NotifyRedisRelay {
		relay, err := notifier.NewRedisRelay(redisClient, redisClient.ChannelName(cfg.Outbox.NotifyChannel), local, logg)
		if err != nil {
			logg.Error(ctx, "failed to create outbox notify relay", err)
			os.Exit(1)
		}
		signalers = append(signalers, relay)
		go func() {
			if err := relay.RunForwarder(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "outbox notify relay stopped", err)
			}
		}()
	}

	writer, err := outbox.NewWriter(outbox.WriterParams{
		Repository:      outboxRepo,
		Signaler:        signalers,
		MaxPayloadBytes: cfg.Outbox.MaxPayloadBytes,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox writer", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersService, err := orders.NewService(ordersRepo, dbClient, writer, eventRegistry)
	if err != nil {
		logg.Error(ctx, "failed to create orders service", err)
		os.Exit(1)
	}
	telemetryService, err := telemetry.NewService(dbClient, writer, eventRegistry)
	if err != nil {
		logg.Error(ctx, "failed to create telemetry service", err)
		os.Exit(1)
	}
	operator, err := outbox.NewOperator(dbClient, outboxRepo, signalers, logg)
	if err != nil {
		logg.Error(ctx, "failed to create outbox operator", err)
		os.Exit(1)
	}
	dlqRepo := outbox.NewDLQRepository(dbClient.DB())
	operator.WithFailureHistory(dlqRepo)

	readiness := []controllers.ReadinessCheck{
		{Name: "database", Check: dbClient.Ping},
		{Name: "redis", Check: redisClient.Ping},
	}

	stopPublisher := func(time.Duration) error { return nil }
	if cfg.FeatureFlags.EmbeddedOutbox {
		pub, err := broker.Open(ctx, cfg, eventRegistry.Topics(), logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap broker", err)
			os.Exit(1)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logg.Error(context.Background(), "error closing broker publisher", err)
			}
		}()
		relayPublisher, err := publisher.New(publisher.Params{
			Config:        cfg.Outbox,
			Logger:        logg,
			DB:            dbClient,
			Broker:        pub,
			Repository:    outboxRepo,
			DLQRepository: dlqRepo,
			Signal:        local,
			Metrics:       outboxMetrics,
		})
		if err != nil {
			logg.Error(ctx, "failed to create embedded outbox publisher", err)
			os.Exit(1)
		}
		readiness = append(readiness,
			controllers.ReadinessCheck{Name: "broker", Check: pub.Ping},
			controllers.ReadinessCheck{Name: "outbox_publisher", Check: relayPublisher.Ready},
		)
		stopPublisher = relayPublisher.Start(logg.WithField(context.WithoutCancel(ctx), "component", "outbox-publisher"))
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithField(ctx, "addr", addr)

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:      cfg,
			Logger:      logg,
			Orders:      ordersService,
			OrdersRepo:  ordersRepo,
			Telemetry:   telemetryService,
			Operator:    operator,
			Idempotency: redisClient,
			Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			HTTPMetrics: metrics.NewHTTPMetrics(reg),
			Readiness:   readiness,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			_ = stopPublisher(shutdownTimeout)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
	}
	// the publisher stops last so records committed by in-flight requests still get a drain
	if err := stopPublisher(shutdownTimeout); err != nil {
		logg.Error(ctx, "embedded outbox publisher did not stop cleanly", err)
	}
	logg.Info(ctx, "api server stopped")
}
