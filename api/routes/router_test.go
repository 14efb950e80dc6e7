package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/heuristiclogix/eventrelay/api/controllers"
	"github.com/heuristiclogix/eventrelay/internal/orders"
	"github.com/heuristiclogix/eventrelay/internal/telemetry"
	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/db/dbtest"
	"github.com/heuristiclogix/eventrelay/pkg/db/models"
	"github.com/heuristiclogix/eventrelay/pkg/enums"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"github.com/heuristiclogix/eventrelay/pkg/outbox"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/notifier"
	"github.com/heuristiclogix/eventrelay/pkg/outbox/registry"
)

type testServer struct {
	handler http.Handler
	signal  *notifier.Notifier
}

func newTestServer(t *testing.T, readiness ...controllers.ReadinessCheck) *testServer {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	signal := notifier.New()
	repo := outbox.NewRepository(client.DB())
	writer, err := outbox.NewWriter(outbox.WriterParams{Repository: repo, Signaler: signal, Logger: logg})
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	events := registry.NewEventRegistry()
	ordersRepo := orders.NewRepository(client.DB())
	ordersSvc, err := orders.NewService(ordersRepo, client, writer, events)
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}
	telemetrySvc, err := telemetry.NewService(client, writer, events)
	if err != nil {
		t.Fatalf("telemetry service: %v", err)
	}
	operator, err := outbox.NewOperator(client, repo, signal, logg)
	if err != nil {
		t.Fatalf("operator: %v", err)
	}

	return &testServer{
		handler: NewRouter(RouterParams{
			Config:     &config.Config{App: config.AppConfig{Env: "test"}},
			Logger:     logg,
			Orders:     ordersSvc,
			OrdersRepo: ordersRepo,
			Telemetry:  telemetrySvc,
			Operator:   operator,
			Readiness:  readiness,
		}),
		signal: signal,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func decodeOrder(t *testing.T, resp *httptest.ResponseRecorder) models.Order {
	t.Helper()
	var envelope struct {
		Data models.Order `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode order: %v (%s)", err, resp.Body.String())
	}
	return envelope.Data
}

func TestHealthRoutes(t *testing.T) {
	srv := newTestServer(t,
		controllers.ReadinessCheck{Name: "db", Check: func(context.Context) error { return nil }},
	)
	if resp := srv.do(t, http.MethodGet, "/health/live", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected live 200 got %d", resp.Code)
	}
	if resp := srv.do(t, http.MethodGet, "/health/ready", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected ready 200 got %d", resp.Code)
	}

	down := newTestServer(t,
		controllers.ReadinessCheck{Name: "broker", Check: func(context.Context) error { return errors.New("unreachable") }},
	)
	resp := down.do(t, http.MethodGet, "/health/ready", "")
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected ready 503 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"broker":"down"`) {
		t.Fatalf("expected dependency status in body, got %s", resp.Body.String())
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/v1/orders", `{"reference":"ORD-77"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	order := decodeOrder(t, resp)
	if order.Status != enums.OrderStatusPending {
		t.Fatalf("unexpected order %+v", order)
	}

	resp = srv.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/decision", `{"decision":"accept","decided_by":"dispatcher-2"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if got := decodeOrder(t, resp); got.Status != enums.OrderStatusAccepted {
		t.Fatalf("expected accepted, got %s", got.Status)
	}

	resp = srv.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/delivery", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}

	resp = srv.do(t, http.MethodGet, "/api/v1/orders/"+order.ID.String(), "")
	if got := decodeOrder(t, resp); got.Status != enums.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}

	resp = srv.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/decision", `{"decision":"reject"}`)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for decision on delivered order, got %d", resp.Code)
	}
}

func TestOrderRequestValidation(t *testing.T) {
	srv := newTestServer(t)

	if resp := srv.do(t, http.MethodPost, "/api/v1/orders", `{}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing reference, got %d", resp.Code)
	}
	if resp := srv.do(t, http.MethodGet, "/api/v1/orders/not-a-uuid", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.Code)
	}
	if resp := srv.do(t, http.MethodGet, "/api/v1/orders/"+uuid.NewString(), ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", resp.Code)
	}
	if resp := srv.do(t, http.MethodGet, "/api/v1/orders?status=lost", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.Code)
	}
}

func TestTelemetryAndOperatorRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/v1/telemetry", `{"source":"route-planner","metric":"eta_error","value":0}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", resp.Code, resp.Body.String())
	}
	if resp := srv.do(t, http.MethodPost, "/api/v1/telemetry", `{"source":"route-planner","metric":"eta_error"}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing value, got %d", resp.Code)
	}

	resp = srv.do(t, http.MethodGet, "/api/v1/admin/outbox/failed", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp := srv.do(t, http.MethodPost, "/api/v1/admin/outbox/"+uuid.NewString()+"/requeue", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
