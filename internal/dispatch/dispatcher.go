package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/providers"
	"github.com/tributary-ai/request-router/internal/registry"
	"github.com/tributary-ai/request-router/internal/types"
)

// DefaultTimeouts bound a single execution per service kind when neither
// the request nor the endpoint sets one
var DefaultTimeouts = map[types.ServiceKind]time.Duration{
	types.KindFastInference: 30 * time.Second,
	types.KindOpenAI:        60 * time.Second,
	types.KindAnthropic:     60 * time.Second,
	types.KindBedrock:       60 * time.Second,
	types.KindDecisionGraph: 120 * time.Second,
	types.KindWorkflow:      120 * time.Second,
	types.KindOrchestration: 300 * time.Second,
	types.KindAgentCrew:     300 * time.Second,
}

const fallbackTimeout = 60 * time.Second

// Outcome is the result of one dispatch. Err is always an *types.ExecutionError
// when set; Output is nil on failure.
type Outcome struct {
	Service   string
	Output    interface{}
	LatencyMs float64
	Cost      float64
	Err       error
}

// Dispatcher invokes the adapter registered for an endpoint's kind
type Dispatcher struct {
	registry *registry.Registry
	adapters map[types.ServiceKind]providers.Adapter
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher over the registry with no adapters
func NewDispatcher(reg *registry.Registry, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		adapters: make(map[types.ServiceKind]providers.Adapter),
		logger:   logger,
	}
}

// RegisterAdapter binds an adapter to a service kind. Call during startup only.
func (d *Dispatcher) RegisterAdapter(kind types.ServiceKind, adapter providers.Adapter) {
	d.adapters[kind] = adapter
	d.logger.WithFields(logrus.Fields{
		"kind":    kind,
		"adapter": adapter.Name(),
	}).Info("Adapter registered")
}

// HasAdapter reports whether a kind can be dispatched
func (d *Dispatcher) HasAdapter(kind types.ServiceKind) bool {
	_, ok := d.adapters[kind]
	return ok
}

// Execute runs the request on the named service. It never panics and never
// returns an error directly, failures are reported in the outcome.
func (d *Dispatcher) Execute(ctx context.Context, serviceName string, req *types.RoutingRequest) Outcome {
	start := time.Now()
	outcome := Outcome{Service: serviceName}

	fail := func(err error) Outcome {
		outcome.Err = &types.ExecutionError{Service: serviceName, Err: err}
		outcome.Output = nil
		outcome.LatencyMs = elapsedMs(start)
		return outcome
	}

	endpoint, ok := d.registry.Get(serviceName)
	if !ok {
		return fail(fmt.Errorf("unknown service %q", serviceName))
	}
	adapter, ok := d.adapters[endpoint.Kind]
	if !ok {
		return fail(fmt.Errorf("no adapter for kind %s", endpoint.Kind))
	}

	timeout := d.timeoutFor(endpoint, req)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type adapterReturn struct {
		result *providers.Result
		err    error
	}
	done := make(chan adapterReturn, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- adapterReturn{err: fmt.Errorf("adapter panicked: %v", r)}
			}
		}()
		result, err := adapter.Execute(execCtx, endpoint, req)
		done <- adapterReturn{result: result, err: err}
	}()

	var ret adapterReturn
	select {
	case ret = <-done:
	case <-execCtx.Done():
		ret.err = execCtx.Err()
	}

	if ret.err != nil {
		err := ret.err
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		d.logger.WithFields(logrus.Fields{
			"service":    serviceName,
			"request_id": req.ID,
			"duration":   time.Since(start).String(),
		}).WithError(err).Warn("Execution failed")
		return fail(err)
	}

	outcome.LatencyMs = elapsedMs(start)
	outcome.Cost = endpoint.CostPerRequest
	if ret.result != nil {
		outcome.Output = ret.result.Output
		if ret.result.Cost > 0 {
			outcome.Cost = ret.result.Cost
		}
	}

	d.logger.WithFields(logrus.Fields{
		"service":    serviceName,
		"request_id": req.ID,
		"latency_ms": outcome.LatencyMs,
		"cost":       outcome.Cost,
	}).Debug("Execution finished")

	return outcome
}

func (d *Dispatcher) timeoutFor(endpoint types.ServiceEndpoint, req *types.RoutingRequest) time.Duration {
	if req.Metadata != nil && req.Metadata.TimeoutMs != nil && *req.Metadata.TimeoutMs > 0 {
		return time.Duration(*req.Metadata.TimeoutMs) * time.Millisecond
	}
	if endpoint.Timeout > 0 {
		return endpoint.Timeout
	}
	if timeout, ok := DefaultTimeouts[endpoint.Kind]; ok {
		return timeout
	}
	return fallbackTimeout
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
