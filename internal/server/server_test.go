package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/request-router/internal/dispatch"
	"github.com/tributary-ai/request-router/internal/middleware"
	"github.com/tributary-ai/request-router/internal/registry"
	"github.com/tributary-ai/request-router/internal/routing"
	"github.com/tributary-ai/request-router/internal/security"
	"github.com/tributary-ai/request-router/internal/types"
)

type echoExecutor struct{}

func (echoExecutor) Execute(ctx context.Context, serviceName string, req *types.RoutingRequest) dispatch.Outcome {
	return dispatch.Outcome{
		Service:   serviceName,
		Output:    map[string]interface{}{"handled_by": serviceName},
		LatencyMs: 4,
		Cost:      0.001,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func healthyEndpoints() []types.ServiceEndpoint {
	return []types.ServiceEndpoint{
		{Name: "temporal", Kind: types.KindOrchestration, Health: types.HealthHealthy, ResponseTimeMs: 200, CostPerRequest: 0.001, Priority: 2},
		{Name: "groq", Kind: types.KindFastInference, Health: types.HealthHealthy, ResponseTimeMs: 80, CostPerRequest: 0.002, Priority: 2},
	}
}

func newTestServer(t *testing.T, config *ServerConfig, endpoints ...types.ServiceEndpoint) *Server {
	t.Helper()
	logger := testLogger()

	reg := registry.New(logger)
	for _, ep := range endpoints {
		require.NoError(t, reg.Register(ep))
	}
	router := routing.NewRouter(reg, echoExecutor{}, logger, routing.Options{})

	srv, err := NewServer(router, config, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var resp types.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandleRoute(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()...)

	rec := do(t, srv, http.MethodPost, "/v1/route", `{"id":"r1","kind":"realtime","priority":"high"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result types.RoutingResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "groq", result.Decision.SelectedService)
	assert.Equal(t, []string{"temporal"}, result.Decision.FallbackServices)
	assert.Equal(t, 0.001, result.ActualCost)
	assert.Equal(t, 1, result.Attempts)
}

func TestHandleRoute_ValidationError(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()...)

	rec := do(t, srv, http.MethodPost, "/v1/route", `{"id":"","kind":"batch"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, "validation_error", resp.Error.Type)
	assert.Equal(t, "400", resp.Error.Code)
	assert.Len(t, resp.Error.Details, 2)

	// Nothing was routed
	assert.Equal(t, int64(0), srv.router.GetMetrics().TotalRequests)
}

func TestHandleRoute_InvalidJSON(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()...)

	rec := do(t, srv, http.MethodPost, "/v1/route", `{"id":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error.Message, "invalid JSON")
}

func TestHandleRoute_NoServiceIsFailedResult(t *testing.T) {
	srv := newTestServer(t, nil, types.ServiceEndpoint{
		Name: "down", Kind: types.KindWorkflow, Health: types.HealthUnhealthy, Priority: 5,
	})

	rec := do(t, srv, http.MethodPost, "/v1/route", `{"id":"r1","kind":"workflow"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.RoutingResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.False(t, result.Success)
	assert.Equal(t, types.NoServiceSelected, result.Decision.SelectedService)
	assert.Contains(t, result.Error, "no available service")
}

func TestHandleRoutingDecision(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()...)

	rec := do(t, srv, http.MethodPost, "/v1/route/decision", `{"id":"d1","kind":"scheduled"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision types.RoutingDecision
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&decision))
	assert.Equal(t, "temporal", decision.SelectedService)
	assert.NotEmpty(t, decision.Reasoning)

	// Decisions are not recorded
	assert.Equal(t, int64(0), srv.router.GetMetrics().TotalRequests)
}

func TestHandleRoutingDecision_NoService(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()...)

	rec := do(t, srv, http.MethodPost, "/v1/route/decision",
		`{"id":"d1","kind":"workflow","excluded_services":["temporal","groq"]}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, "no_available_service", resp.Error.Type)
	assert.Contains(t, resp.Error.Message, "2 excluded")
}

func TestHandleMetrics(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()...)

	for i := 0; i < 3; i++ {
		rec := do(t, srv, http.MethodPost, "/v1/route", fmt.Sprintf(`{"id":"m%d","kind":"realtime"}`, i))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, srv, http.MethodGet, "/v1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics types.RoutingMetrics
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&metrics))
	assert.Equal(t, int64(3), metrics.TotalRequests)
	assert.Equal(t, int64(3), metrics.SuccessfulRoutes)
	assert.Equal(t, int64(3), metrics.ServiceUtilization["groq"])
	assert.Equal(t, 1.0, metrics.SuccessRate)
}

func TestHandleServices(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()...)

	rec := do(t, srv, http.MethodGet, "/v1/services", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Services []types.ServiceEndpoint `json:"services"`
		Count    int                     `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, "temporal", list.Services[0].Name)
	assert.Equal(t, "groq", list.Services[1].Name)

	rec = do(t, srv, http.MethodGet, "/v1/services/groq", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var service types.ServiceEndpoint
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&service))
	assert.Equal(t, types.KindFastInference, service.Kind)

	rec = do(t, srv, http.MethodGet, "/v1/services/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Error.Type)
}

func TestHandleHistory(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()...)

	for i := 0; i < 5; i++ {
		do(t, srv, http.MethodPost, "/v1/route", fmt.Sprintf(`{"id":"h%d","kind":"realtime"}`, i))
	}

	var history struct {
		Results []types.RoutingResult `json:"results"`
		Count   int                   `json:"count"`
	}

	rec := do(t, srv, http.MethodGet, "/v1/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	require.Equal(t, 2, history.Count)
	assert.Equal(t, "h3", history.Results[0].Decision.RequestID)
	assert.Equal(t, "h4", history.Results[1].Decision.RequestID)

	rec = do(t, srv, http.MethodGet, "/v1/history", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	assert.Equal(t, 5, history.Count)

	rec = do(t, srv, http.MethodGet, "/v1/history?limit=50000", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, bad := range []string{"0", "-3", "ten"} {
		rec = do(t, srv, http.MethodGet, "/v1/history?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestHandleHistory_EmptyListsEncodeAsArrays(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()[0])

	rec := do(t, srv, http.MethodPost, "/v1/route", `{"id":"solo","kind":"scheduled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fallback_services":[]`)

	rec = do(t, srv, http.MethodGet, "/v1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fallback_services":[]`)
	assert.Contains(t, rec.Body.String(), `"alternatives":[]`)
	assert.NotContains(t, rec.Body.String(), `"fallback_services":null`)
}

func TestHandleHealthCheck(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()...)
	rec := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["eligible"])

	down := newTestServer(t, nil,
		types.ServiceEndpoint{Name: "a", Kind: types.KindWorkflow, Health: types.HealthUnhealthy},
		types.ServiceEndpoint{Name: "b", Kind: types.KindAgentCrew, Health: types.HealthUnhealthy},
	)
	rec = do(t, down, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	empty := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, empty, http.MethodGet, "/health", "").Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, healthyEndpoints()...)
	do(t, srv, http.MethodPost, "/v1/route", `{"id":"p1","kind":"realtime"}`)

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `request_router_requests_total{outcome="success"} 1`)
	assert.Contains(t, body, `request_router_service_selections_total{service="groq"} 1`)
	assert.Contains(t, body, `request_router_endpoint_up{kind="orchestration",service="temporal"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestOpenAPIDocs(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/docs/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi: 3")

	rec = do(t, srv, http.MethodGet, "/docs/openapi.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	paths, ok := doc["paths"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, paths, "/v1/route")

	rec = do(t, srv, http.MethodGet, "/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http://example.com/docs/openapi.yaml")
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/v2/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Error.Type)

	rec = do(t, srv, http.MethodGet, "/v1/route", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method_not_allowed", decodeError(t, rec).Error.Type)

	rec = do(t, srv, http.MethodDelete, "/v1/services/temporal", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, srv, http.MethodGet, "/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Error.Type)
}

func TestMiddlewareChain(t *testing.T) {
	srv := newTestServer(t, &ServerConfig{
		Port: "0",
		Security: &middleware.SecurityMiddlewareConfig{
			RateLimit: &security.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 1},
		},
		CORS:       middleware.CORSConfig{Enabled: true},
		Validation: &middleware.ValidationConfig{Enabled: true},
	}, healthyEndpoints()...)

	req := httptest.NewRequest(http.MethodPost, "/v1/route", strings.NewReader(`{"id":"r1","kind":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set(security.CallerHeader, "console")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	// Schema validation rejects the unknown kind before the handler runs
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Error.Type)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	// Burst of one is now spent for this caller
	req = httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	req.Header.Set(security.CallerHeader, "console")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestNewServer_InvalidSecurityConfig(t *testing.T) {
	logger := testLogger()
	router := routing.NewRouter(registry.New(logger), echoExecutor{}, logger, routing.Options{})

	_, err := NewServer(router, &ServerConfig{
		Security: &middleware.SecurityMiddlewareConfig{
			Guard: &security.GuardConfig{IPAllowlist: []string{"not-an-ip"}},
		},
	}, logger)
	assert.Error(t, err)
}

func TestJSONCompatible(t *testing.T) {
	in := map[interface{}]interface{}{
		"a": []interface{}{map[interface{}]interface{}{1: "one"}},
	}
	out := jsonCompatible(in)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[{"1":"one"}]}`, string(data))
}
