package routing

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/registry"
	"github.com/tributary-ai/request-router/internal/types"
)

const (
	maxAlternatives = 3
	maxConfidence   = 0.95
)

// DecisionMaker selects a backend for a request from a registry snapshot
type DecisionMaker struct {
	registry *registry.Registry
	logger   *logrus.Logger
}

// NewDecisionMaker creates a decision maker over the given registry
func NewDecisionMaker(reg *registry.Registry, logger *logrus.Logger) *DecisionMaker {
	return &DecisionMaker{registry: reg, logger: logger}
}

type candidate struct {
	endpoint types.ServiceEndpoint
	result   ScoreResult
}

// Decide scores every eligible endpoint and picks the best. Unhealthy and
// excluded endpoints never become candidates. Equal scores keep registration
// order. The result is deterministic for a given snapshot and request.
func (d *DecisionMaker) Decide(req *types.RoutingRequest) (*types.RoutingDecision, error) {
	snapshot := d.registry.List()
	return decide(snapshot, req, d.logger)
}

func decide(snapshot []types.ServiceEndpoint, req *types.RoutingRequest, logger *logrus.Logger) (*types.RoutingDecision, error) {
	candidates := make([]candidate, 0, len(snapshot))
	unhealthy, excluded := 0, 0

	for _, endpoint := range snapshot {
		if endpoint.Health == types.HealthUnhealthy {
			unhealthy++
			continue
		}
		if req.IsExcluded(endpoint.Name) {
			excluded++
			continue
		}
		candidates = append(candidates, candidate{endpoint: endpoint, result: Score(endpoint, req)})
	}

	if len(candidates) == 0 {
		return nil, &types.NoAvailableServiceError{
			RequestID:  req.ID,
			Considered: len(snapshot),
			Unhealthy:  unhealthy,
			Excluded:   excluded,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].result.Score > candidates[j].result.Score
	})

	selected := candidates[0]
	decision := &types.RoutingDecision{
		RequestID:          req.ID,
		SelectedService:    selected.endpoint.Name,
		FallbackServices:   []string{},
		Reasoning:          selected.result.Reasoning,
		EstimatedLatencyMs: selected.endpoint.ResponseTimeMs,
		EstimatedCost:      selected.endpoint.CostPerRequest,
		Score:              selected.result.Score,
		Confidence:         math.Min(selected.result.Score/100, maxConfidence),
		Alternatives:       []types.Alternative{},
	}

	for _, c := range candidates[1:] {
		if len(decision.Alternatives) == maxAlternatives {
			break
		}
		decision.Alternatives = append(decision.Alternatives, types.Alternative{
			Service:   c.endpoint.Name,
			Score:     c.result.Score,
			Reasoning: c.result.Reasoning,
		})
		decision.FallbackServices = append(decision.FallbackServices, c.endpoint.Name)
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"selected":   decision.SelectedService,
			"score":      decision.Score,
			"candidates": len(candidates),
			"fallbacks":  decision.FallbackServices,
		}).Debug("Routing decision made")
	}

	return decision, nil
}
