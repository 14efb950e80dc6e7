package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heuristiclogix/eventrelay/api/controllers"
	"github.com/heuristiclogix/eventrelay/api/routes"
	consumer "github.com/heuristiclogix/eventrelay/internal/consumers/enrichment"
	"github.com/heuristiclogix/eventrelay/internal/enrichment"
	"github.com/heuristiclogix/eventrelay/pkg/broker"
	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/db"
	"github.com/heuristiclogix/eventrelay/pkg/instance"
	"github.com/heuristiclogix/eventrelay/pkg/kafka"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/metrics"
	"github.com/heuristiclogix/eventrelay/pkg/migrate"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/idempotency"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/registry"
	"github.com/heuristiclogix/eventrelay/pkg/pubsub"
	"github.com/heuristiclogix/eventrelay/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"consumer":    cfg.Eventing.ConsumerName,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	guard, err := idempotency.NewGuard(dbClient, cfg.Eventing.ConsumerName)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency guard", err)
		os.Exit(1)
	}
	cache, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency cache", err)
		os.Exit(1)
	}
	handler, err := consumer.NewConsumer(consumer.Params{
		Registry:   registry.NewEventRegistry(),
		Guard:      guard,
		Cache:      cache,
		Enricher:   enrichment.NewHeuristic(),
		Repository: enrichment.NewRepository(dbClient.DB()),
		Metrics:    metrics.NewConsumerMetrics(reg),
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create enrichment consumer", err)
		os.Exit(1)
	}

	var (
		tr         transport
		brokerPing func(context.Context) error
	)
	switch strings.ToLower(cfg.Broker.Driver) {
	case config.BrokerDriverKafka:
		group, err := kafka.NewConsumerGroup(cfg.Kafka)
		if err != nil {
			logg.Error(ctx, "failed to join kafka consumer group", err)
			os.Exit(1)
		}
		meta, err := kafka.NewClient(cfg.Kafka)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap kafka client", err)
			os.Exit(1)
		}
		defer func() {
			if err := meta.Close(); err != nil {
				logg.Error(context.Background(), "error closing kafka client", err)
			}
		}()
		kt, err := consumer.NewKafkaTransport(group, cfg.Kafka.Topics, handler, logg)
		if err != nil {
			logg.Error(ctx, "failed to create kafka transport", err)
			os.Exit(1)
		}
		defer func() {
			if err := kt.Close(); err != nil {
				logg.Error(context.Background(), "error closing kafka consumer group", err)
			}
		}()
		tr, brokerPing = kt, broker.ClusterPinger{Client: meta}.Ping
	default:
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()
		pt, err := consumer.NewPubSubTransport(psClient.EnrichmentSubscription(), handler, logg)
		if err != nil {
			logg.Error(ctx, "failed to create pubsub transport", err)
			os.Exit(1)
		}
		tr, brokerPing = pt, psClient.Ping
	}

	checks := []controllers.ReadinessCheck{
		{Name: "database", Check: dbClient.Ping},
		{Name: "redis", Check: redisClient.Ping},
		{Name: "broker", Check: brokerPing},
	}
	service, err := NewService(ServiceParams{
		Logger:      logg,
		Transport:   tr,
		Checks:      checks,
		StartupWait: cfg.Eventing.StartupWait,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	opsServer := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           routes.NewOpsRouter(cfg, logg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), checks...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logg.Error(context.Background(), "ops server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
