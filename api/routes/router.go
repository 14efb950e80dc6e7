package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heuristiclogix/eventrelay/api/controllers"
	ordercontrollers "github.com/heuristiclogix/eventrelay/api/controllers/orders"
	outboxcontrollers "github.com/heuristiclogix/eventrelay/api/controllers/outbox"
	"github.com/heuristiclogix/eventrelay/api/middleware"
	"github.com/heuristiclogix/eventrelay/internal/orders"
	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/metrics"
	pkgredis "github.com/heuristiclogix/eventrelay/pkg/redis"
)

// RouterParams collects the handlers' dependencies. Idempotency, Metrics
// and HTTPMetrics are optional.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	Orders      orders.Service
	OrdersRepo  orders.Repository
	Telemetry   controllers.TelemetryReporter
	Operator    outboxcontrollers.Operator
	Idempotency pkgredis.IdempotencyStore
	Metrics     http.Handler
	HTTPMetrics *metrics.HTTPMetrics
	Readiness   []controllers.ReadinessCheck
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness...))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if p.Idempotency != nil {
			r.Use(middleware.Idempotency(p.Idempotency, logg))
		}

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(p.Orders, logg))
			r.Get("/", ordercontrollers.List(p.OrdersRepo, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(p.Orders, logg))
			r.Post("/{orderId}/decision", ordercontrollers.Decision(p.Orders, logg))
			r.Post("/{orderId}/delivery", ordercontrollers.Delivery(p.Orders, logg))
		})

		r.Post("/telemetry", controllers.ReportTelemetry(p.Telemetry, logg))

		r.Route("/admin/outbox", func(r chi.Router) {
			r.Get("/failed", outboxcontrollers.ListFailed(p.Operator, logg))
			r.Post("/{eventId}/requeue", outboxcontrollers.Requeue(p.Operator, logg))
		})
	})

	return r
}
