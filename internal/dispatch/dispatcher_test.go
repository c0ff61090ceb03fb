package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/request-router/internal/providers"
	"github.com/tributary-ai/request-router/internal/registry"
	"github.com/tributary-ai/request-router/internal/types"
)

type funcAdapter struct {
	fn func(ctx context.Context, ep types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error)
}

func (f funcAdapter) Name() string { return "func" }

func (f funcAdapter) Execute(ctx context.Context, ep types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error) {
	return f.fn(ctx, ep, req)
}

func newTestDispatcher(t *testing.T, endpoints ...types.ServiceEndpoint) *Dispatcher {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	reg := registry.New(logger)
	for _, ep := range endpoints {
		require.NoError(t, reg.Register(ep))
	}
	return NewDispatcher(reg, logger)
}

func request(id string) *types.RoutingRequest {
	return &types.RoutingRequest{ID: id, Kind: types.TaskWorkflow, Priority: types.PriorityMedium}
}

func TestExecuteSuccessUsesEndpointCost(t *testing.T) {
	d := newTestDispatcher(t, types.ServiceEndpoint{Name: "n8n", Kind: types.KindWorkflow, CostPerRequest: 0.003})
	d.RegisterAdapter(types.KindWorkflow, funcAdapter{fn: func(ctx context.Context, ep types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error) {
		return &providers.Result{Output: "done"}, nil
	}})

	out := d.Execute(context.Background(), "n8n", request("r1"))
	require.NoError(t, out.Err)
	assert.Equal(t, "done", out.Output)
	assert.Equal(t, 0.003, out.Cost)
	assert.GreaterOrEqual(t, out.LatencyMs, 0.0)
	assert.True(t, d.HasAdapter(types.KindWorkflow))
	assert.False(t, d.HasAdapter(types.KindAgentCrew))
}

func TestExecuteReportedCostWins(t *testing.T) {
	d := newTestDispatcher(t, types.ServiceEndpoint{Name: "n8n", Kind: types.KindWorkflow, CostPerRequest: 0.003})
	d.RegisterAdapter(types.KindWorkflow, funcAdapter{fn: func(ctx context.Context, ep types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error) {
		return &providers.Result{Output: "done", Cost: 0.5}, nil
	}})

	out := d.Execute(context.Background(), "n8n", request("r1"))
	require.NoError(t, out.Err)
	assert.Equal(t, 0.5, out.Cost)
}

func TestExecuteAdapterErrorBecomesExecutionError(t *testing.T) {
	d := newTestDispatcher(t, types.ServiceEndpoint{Name: "crew", Kind: types.KindAgentCrew})
	d.RegisterAdapter(types.KindAgentCrew, funcAdapter{fn: func(ctx context.Context, ep types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error) {
		return &providers.Result{Output: "partial"}, errors.New("agent crashed")
	}})

	out := d.Execute(context.Background(), "crew", request("r1"))
	var execErr *types.ExecutionError
	require.True(t, errors.As(out.Err, &execErr))
	assert.Equal(t, "crew", execErr.Service)
	assert.Contains(t, out.Err.Error(), "agent crashed")
	assert.Nil(t, out.Output)
}

func TestExecuteRecoversPanics(t *testing.T) {
	d := newTestDispatcher(t, types.ServiceEndpoint{Name: "crew", Kind: types.KindAgentCrew})
	d.RegisterAdapter(types.KindAgentCrew, funcAdapter{fn: func(ctx context.Context, ep types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error) {
		panic("nil map")
	}})

	out := d.Execute(context.Background(), "crew", request("r1"))
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "panicked")
}

func TestExecuteUnknownServiceAndMissingAdapter(t *testing.T) {
	d := newTestDispatcher(t, types.ServiceEndpoint{Name: "graph", Kind: types.KindDecisionGraph})

	out := d.Execute(context.Background(), "missing", request("r1"))
	assert.Error(t, out.Err)

	out = d.Execute(context.Background(), "graph", request("r2"))
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "no adapter")
}

func TestExecuteHonorsRequestTimeout(t *testing.T) {
	d := newTestDispatcher(t, types.ServiceEndpoint{Name: "slow", Kind: types.KindOrchestration})
	// ignores its context on purpose
	d.RegisterAdapter(types.KindOrchestration, funcAdapter{fn: func(ctx context.Context, ep types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error) {
		time.Sleep(time.Second)
		return &providers.Result{Output: "late"}, nil
	}})

	timeout := int64(30)
	req := request("r1")
	req.Metadata = &types.RequestMetadata{TimeoutMs: &timeout}

	start := time.Now()
	out := d.Execute(context.Background(), "slow", req)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "timed out")
	assert.True(t, errors.Is(out.Err, context.DeadlineExceeded))
}

func TestTimeoutResolution(t *testing.T) {
	d := newTestDispatcher(t)
	timeout := int64(1500)

	assert.Equal(t, 1500*time.Millisecond, d.timeoutFor(
		types.ServiceEndpoint{Kind: types.KindWorkflow, Timeout: time.Second},
		&types.RoutingRequest{Metadata: &types.RequestMetadata{TimeoutMs: &timeout}}))
	assert.Equal(t, time.Second, d.timeoutFor(
		types.ServiceEndpoint{Kind: types.KindWorkflow, Timeout: time.Second}, &types.RoutingRequest{}))
	assert.Equal(t, 300*time.Second, d.timeoutFor(
		types.ServiceEndpoint{Kind: types.KindAgentCrew}, &types.RoutingRequest{}))
	assert.Equal(t, 30*time.Second, d.timeoutFor(
		types.ServiceEndpoint{Kind: types.KindFastInference}, &types.RoutingRequest{}))
}
