package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/request-router/internal/audit"
	"github.com/tributary-ai/request-router/internal/dispatch"
	"github.com/tributary-ai/request-router/internal/health"
	"github.com/tributary-ai/request-router/internal/providers/httpbackend"
	"github.com/tributary-ai/request-router/internal/registry"
	"github.com/tributary-ai/request-router/internal/routing"
	"github.com/tributary-ai/request-router/internal/security"
	"github.com/tributary-ai/request-router/internal/server"
	"github.com/tributary-ai/request-router/internal/types"
)

const signingSecret = "integration-secret"

// backend is a fake execution service with a health endpoint
type backend struct {
	name    string
	signer  *security.ServiceTokenSigner
	healthy atomic.Bool
	failing atomic.Bool

	mu       sync.Mutex
	received []httpbackend.Envelope
	claims   []*security.ServiceClaims

	*httptest.Server
}

func newBackend(t *testing.T, name string) *backend {
	t.Helper()
	b := &backend{
		name:   name,
		signer: security.NewServiceTokenSigner(&security.SigningConfig{Secret: signingSecret}),
	}
	b.healthy.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !b.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := b.signer.Verify(token, b.name)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var envelope httpbackend.Envelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		b.mu.Lock()
		b.received = append(b.received, envelope)
		b.claims = append(b.claims, claims)
		b.mu.Unlock()

		if b.failing.Load() {
			http.Error(w, "workflow engine unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(httpbackend.CostHeader, "0.003")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"handled_by": b.name,
			"request_id": envelope.RequestID,
		})
	})

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func (b *backend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.received)
}

type stack struct {
	router   *routing.Router
	registry *registry.Registry
	api      *httptest.Server
	n8n      *backend
	temporal *backend
}

// newStack wires real dispatch, probing and HTTP layers over two fake backends
func newStack(t *testing.T, logger *logrus.Logger, journal *audit.Journal) *stack {
	t.Helper()

	n8n := newBackend(t, "n8n")
	temporal := newBackend(t, "temporal")

	reg := registry.New(logger)
	require.NoError(t, reg.Register(types.ServiceEndpoint{
		Name: "n8n", Kind: types.KindWorkflow, BaseAddress: n8n.URL,
		Priority: 3, CostPerRequest: 0.001, Capabilities: []string{"webhooks"},
	}))
	require.NoError(t, reg.Register(types.ServiceEndpoint{
		Name: "temporal", Kind: types.KindOrchestration, BaseAddress: temporal.URL,
		Priority: 3, CostPerRequest: 0.0015, Capabilities: []string{"durable"},
	}))

	signer := security.NewServiceTokenSigner(&security.SigningConfig{Secret: signingSecret})
	adapter := httpbackend.New(&http.Client{Timeout: 5 * time.Second}, signer, logger)

	dispatcher := dispatch.NewDispatcher(reg, logger)
	dispatcher.RegisterAdapter(types.KindWorkflow, adapter)
	dispatcher.RegisterAdapter(types.KindOrchestration, adapter)

	monitor := health.NewMonitor(reg, map[types.ProbeType]health.Prober{
		types.ProbeHTTP: health.NewHTTPProber(nil),
	}, health.MonitorConfig{Interval: time.Hour, ProbeTimeout: 2 * time.Second}, logger)

	router := routing.NewRouter(reg, dispatcher, logger, routing.Options{Monitor: monitor, Journal: journal})

	srv, err := server.NewServer(router, &server.ServerConfig{Port: "0"}, logger)
	require.NoError(t, err)

	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)

	return &stack{router: router, registry: reg, api: api, n8n: n8n, temporal: temporal}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func (s *stack) route(t *testing.T, body string) types.RoutingResult {
	t.Helper()
	resp, err := http.Post(s.api.URL+"/v1/route", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result types.RoutingResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func (s *stack) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(s.api.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRouteThroughHTTP(t *testing.T) {
	s := newStack(t, quietLogger(), nil)
	ctx := context.Background()

	require.NoError(t, s.router.CheckHealth(ctx))
	for _, ep := range s.registry.List() {
		assert.Equal(t, types.HealthHealthy, ep.Health, ep.Name)
	}

	result := s.route(t, `{"id":"wf-1","kind":"workflow","priority":"high","payload":{"workflow_id":"invoice"}}`)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "n8n", result.Decision.SelectedService)
	assert.Equal(t, []string{"temporal"}, result.Decision.FallbackServices)
	assert.Equal(t, 0.003, result.ActualCost)
	output, ok := result.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "n8n", output["handled_by"])
	assert.Equal(t, "wf-1", output["request_id"])

	// Backend saw the envelope and a token scoped to it
	require.Equal(t, 1, s.n8n.calls())
	s.n8n.mu.Lock()
	assert.Equal(t, "invoice", s.n8n.received[0].Payload["workflow_id"])
	assert.Equal(t, types.PriorityHigh, s.n8n.received[0].Priority)
	assert.Equal(t, "wf-1", s.n8n.claims[0].RequestID)
	s.n8n.mu.Unlock()
	assert.Equal(t, 0, s.temporal.calls())
}

func TestHealthFailureShiftsTraffic(t *testing.T) {
	s := newStack(t, quietLogger(), nil)
	ctx := context.Background()

	require.NoError(t, s.router.CheckHealth(ctx))
	first := s.route(t, `{"id":"r1","kind":"workflow"}`)
	assert.Equal(t, "n8n", first.Decision.SelectedService)

	s.n8n.healthy.Store(false)
	require.NoError(t, s.router.CheckHealth(ctx))

	second := s.route(t, `{"id":"r2","kind":"workflow"}`)
	require.True(t, second.Success, second.Error)
	assert.Equal(t, "temporal", second.Decision.SelectedService)
	assert.NotContains(t, second.Decision.FallbackServices, "n8n")

	status, _ := s.get(t, "/health")
	assert.Equal(t, http.StatusOK, status)

	s.temporal.healthy.Store(false)
	require.NoError(t, s.router.CheckHealth(ctx))

	third := s.route(t, `{"id":"r3","kind":"workflow"}`)
	assert.False(t, third.Success)
	assert.Equal(t, types.NoServiceSelected, third.Decision.SelectedService)

	status, _ = s.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	metrics := s.router.GetMetrics()
	assert.Equal(t, int64(3), metrics.TotalRequests)
	assert.Equal(t, int64(2), metrics.SuccessfulRoutes)
	assert.Equal(t, int64(1), metrics.FailedRoutes)
	assert.Equal(t, int64(1), metrics.ServiceUtilization["n8n"])
	assert.Equal(t, int64(1), metrics.ServiceUtilization["temporal"])
}

func TestExecutionFailureAndFallback(t *testing.T) {
	s := newStack(t, quietLogger(), nil)
	require.NoError(t, s.router.CheckHealth(context.Background()))
	s.n8n.failing.Store(true)

	failed := s.route(t, `{"id":"nf-1","kind":"workflow"}`)
	assert.False(t, failed.Success)
	assert.Equal(t, "n8n", failed.Decision.SelectedService)
	assert.Contains(t, failed.Error, "returned 500")
	assert.Equal(t, 0.0, failed.ActualCost)
	assert.Equal(t, 0, s.temporal.calls())

	recovered := s.route(t, `{"id":"fb-1","kind":"workflow","fallback":{"enabled":true}}`)
	require.True(t, recovered.Success, recovered.Error)
	assert.True(t, recovered.FallbackUsed)
	assert.Equal(t, "temporal", recovered.ExecutedService)
	assert.Equal(t, 2, recovered.Attempts)
	assert.Equal(t, 1, s.temporal.calls())

	metrics := s.router.GetMetrics()
	assert.Equal(t, int64(1), metrics.FallbackUsageCount)
	assert.Equal(t, int64(2), metrics.ServiceUtilization["n8n"])
}

func TestDecisionAndIntrospectionEndpoints(t *testing.T) {
	s := newStack(t, quietLogger(), nil)
	require.NoError(t, s.router.CheckHealth(context.Background()))

	resp, err := http.Post(s.api.URL+"/v1/route/decision", "application/json",
		strings.NewReader(`{"id":"d-1","kind":"scheduled","requirements":{"required_capabilities":["durable"]}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision types.RoutingDecision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	assert.Equal(t, "temporal", decision.SelectedService)
	require.Len(t, decision.Alternatives, 1)
	assert.Equal(t, "n8n", decision.Alternatives[0].Service)

	// Decisions dispatch nothing
	assert.Equal(t, 0, s.temporal.calls())

	s.route(t, `{"id":"h-1","kind":"workflow"}`)

	status, body := s.get(t, "/v1/history?limit=10")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"h-1"`)
	assert.NotContains(t, body, `"d-1"`)

	status, body = s.get(t, "/v1/services/temporal")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"health":"healthy"`)

	status, body = s.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `request_router_requests_total{outcome="success"} 1`)
	assert.Contains(t, body, `request_router_endpoint_up{kind="workflow",service="n8n"} 1`)
}

func TestJournalRecordsRoutedRequests(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	journal := audit.NewJournal(&audit.Config{Enabled: true, FlushInterval: 10 * time.Millisecond}, logger)
	s := newStack(t, logger, journal)

	s.router.Start(context.Background())
	require.Eventually(t, func() bool {
		ep, _ := s.registry.Get("n8n")
		return ep.Health == types.HealthHealthy
	}, 2*time.Second, 10*time.Millisecond)

	s.route(t, `{"id":"j-1","kind":"workflow","metadata":{"caller_id":"billing","tags":{"api_key":"secret","team":"finance"}}}`)
	s.router.Shutdown()

	var journaled []*logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Data["journal"] == true {
			journaled = append(journaled, entry)
		}
	}
	require.Len(t, journaled, 1)
	entry := journaled[0]
	assert.Equal(t, "j-1", entry.Data["request_id"])
	assert.Equal(t, "n8n", entry.Data["selected_service"])
	assert.Equal(t, "billing", entry.Data["caller_id"])
	assert.Equal(t, "finance", entry.Data["tag_team"])
	assert.NotEqual(t, "secret", entry.Data["tag_api_key"])
}
