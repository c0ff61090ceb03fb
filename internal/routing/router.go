package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/audit"
	"github.com/tributary-ai/request-router/internal/dispatch"
	"github.com/tributary-ai/request-router/internal/health"
	"github.com/tributary-ai/request-router/internal/registry"
	"github.com/tributary-ai/request-router/internal/types"
)

// Executor runs a request on a named service
type Executor interface {
	Execute(ctx context.Context, serviceName string, req *types.RoutingRequest) dispatch.Outcome
}

// Options wires optional collaborators into the router
type Options struct {
	History HistoryConfig
	// Monitor is started and stopped with the router when set
	Monitor *health.Monitor
	// Journal receives every recorded result when set
	Journal *audit.Journal
}

// Router handles request routing to backend services
type Router struct {
	registry  *registry.Registry
	decisions *DecisionMaker
	executor  Executor
	metrics   *Aggregator
	monitor   *health.Monitor
	journal   *audit.Journal
	logger    *logrus.Logger

	lifecycle sync.Mutex
	started   bool
}

// NewRouter creates a router over the registry and executor
func NewRouter(reg *registry.Registry, executor Executor, logger *logrus.Logger, opts Options) *Router {
	return &Router{
		registry:  reg,
		decisions: NewDecisionMaker(reg, logger),
		executor:  executor,
		metrics:   NewAggregator(opts.History),
		monitor:   opts.Monitor,
		journal:   opts.Journal,
		logger:    logger,
	}
}

// Start launches background work: health polling and journal flushing
func (r *Router) Start(ctx context.Context) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.started {
		return
	}
	r.started = true

	if r.journal != nil {
		r.journal.Start()
	}
	if r.monitor != nil {
		r.monitor.Start(ctx)
	}
	r.logger.WithField("services", r.registry.Len()).Info("Router started")
}

// Shutdown stops background work and flushes the journal
func (r *Router) Shutdown() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if !r.started {
		return
	}
	r.started = false

	if r.monitor != nil {
		r.monitor.Stop()
	}
	if r.journal != nil {
		r.journal.Stop()
	}
	r.logger.Info("Router stopped")
}

// CheckHealth runs a single health cycle synchronously
func (r *Router) CheckHealth(ctx context.Context) error {
	if r.monitor == nil {
		return errors.New("no health monitor configured")
	}
	r.monitor.CheckAll(ctx)
	return nil
}

// RouteRequest validates, decides, dispatches and records one request.
// The only error returned is a *types.ValidationError; every later failure
// is reported in the result.
func (r *Router) RouteRequest(ctx context.Context, req *types.RoutingRequest) (*types.RoutingResult, error) {
	start := time.Now()

	validated, err := r.validate(req)
	if err != nil {
		r.logger.WithError(err).Debug("Rejected invalid request")
		return nil, err
	}

	decision, err := r.decisions.Decide(validated)
	routingTime := elapsedMs(start)
	if err != nil {
		result := &types.RoutingResult{
			Decision:      noServiceDecision(validated.ID, err),
			Success:       false,
			Error:         err.Error(),
			Timestamp:     time.Now(),
			RoutingTimeMs: routingTime,
		}
		r.logger.WithError(err).WithField("request_id", validated.ID).Warn("No service available")
		r.record(validated, result)
		return result, nil
	}

	result := r.execute(ctx, validated, decision)
	result.RoutingTimeMs = routingTime

	r.logger.WithFields(logrus.Fields{
		"request_id":      validated.ID,
		"service":         decision.SelectedService,
		"executed":        result.ExecutedService,
		"success":         result.Success,
		"score":           decision.Score,
		"routing_time_ms": routingTime,
		"latency_ms":      result.ActualLatencyMs,
		"fallback_used":   result.FallbackUsed,
	}).Info("Request routed")

	r.record(validated, result)
	return result, nil
}

// Decide returns the decision RouteRequest would act on, without dispatching
// or recording anything
func (r *Router) Decide(ctx context.Context, req *types.RoutingRequest) (*types.RoutingDecision, error) {
	validated, err := r.validate(req)
	if err != nil {
		return nil, err
	}
	return r.decisions.Decide(validated)
}

// GetMetrics returns a point-in-time metrics snapshot
func (r *Router) GetMetrics() types.RoutingMetrics {
	return r.metrics.Snapshot()
}

// GetServiceHealth returns the current registry snapshot
func (r *Router) GetServiceHealth() []types.ServiceEndpoint {
	return r.registry.List()
}

// GetService returns one endpoint from the registry
func (r *Router) GetService(name string) (types.ServiceEndpoint, bool) {
	return r.registry.Get(name)
}

// GetRoutingHistory returns the most recent results, oldest first
func (r *Router) GetRoutingHistory(limit int) []types.RoutingResult {
	return r.metrics.History(limit)
}

func (r *Router) validate(req *types.RoutingRequest) (*types.RoutingRequest, error) {
	if req == nil {
		return nil, &types.ValidationError{Problems: []string{"request is required"}}
	}
	validated := *req
	validated.Normalize()
	if err := validated.Validate(); err != nil {
		return nil, err
	}
	return &validated, nil
}

func (r *Router) execute(ctx context.Context, req *types.RoutingRequest, decision *types.RoutingDecision) *types.RoutingResult {
	outcome := r.executor.Execute(ctx, decision.SelectedService, req)
	latency := outcome.LatencyMs
	attempts := 1

	fallbackUsed := false
	if outcome.Err != nil && req.Fallback != nil && req.Fallback.Enabled {
		for _, name := range r.fallbackCandidates(req, decision) {
			r.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"failed":     outcome.Service,
				"fallback":   name,
			}).Info("Attempting fallback")

			outcome = r.executor.Execute(ctx, name, req)
			latency += outcome.LatencyMs
			attempts++
			fallbackUsed = true
			if outcome.Err == nil {
				break
			}
		}
	}

	result := &types.RoutingResult{
		Decision:        decision,
		ActualLatencyMs: latency,
		Timestamp:       time.Now(),
		ExecutedService: outcome.Service,
		FallbackUsed:    fallbackUsed,
		Attempts:        attempts,
	}
	if outcome.Err != nil {
		result.Error = outcome.Err.Error()
		return result
	}
	result.Success = true
	result.Output = outcome.Output
	result.ActualCost = outcome.Cost
	return result
}

// fallbackCandidates filters the decision's fallbacks against the current
// registry state and the caller's fallback limits
func (r *Router) fallbackCandidates(req *types.RoutingRequest, decision *types.RoutingDecision) []string {
	limit := req.Fallback.MaxAttempts
	var names []string

	for _, name := range decision.FallbackServices {
		if limit > 0 && len(names) == limit {
			break
		}
		endpoint, ok := r.registry.Get(name)
		if !ok || endpoint.Health == types.HealthUnhealthy {
			continue
		}
		if maxIncrease := req.Fallback.MaxCostIncrease; maxIncrease != nil && decision.EstimatedCost > 0 {
			increase := (endpoint.CostPerRequest - decision.EstimatedCost) / decision.EstimatedCost
			if increase > *maxIncrease {
				r.logger.WithFields(logrus.Fields{
					"service":       name,
					"cost_increase": increase,
					"max_allowed":   *maxIncrease,
				}).Debug("Fallback exceeds cost threshold")
				continue
			}
		}
		names = append(names, name)
	}
	return names
}

func (r *Router) record(req *types.RoutingRequest, result *types.RoutingResult) {
	r.metrics.Record(*result)
	if r.journal != nil {
		r.journal.Record(req, result)
	}
}

func noServiceDecision(requestID string, err error) *types.RoutingDecision {
	return &types.RoutingDecision{
		RequestID:        requestID,
		SelectedService:  types.NoServiceSelected,
		FallbackServices: []string{},
		Reasoning:        []string{fmt.Sprintf("no eligible service: %v", err)},
		Alternatives:     []types.Alternative{},
	}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
