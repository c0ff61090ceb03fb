package routing

import (
	"fmt"
	"math"

	"github.com/tributary-ai/request-router/internal/types"
)

// Scoring weights
const (
	priorityWeight = 10.0

	healthyBonus    = 20.0
	degradedBonus   = 5.0
	unhealthyMalus  = -50.0
	latencyMalus    = -30.0
	fastBonus       = 15.0
	fastThresholdMs = 1000.0
	costMalus       = -25.0
	cheapBonus      = 10.0
	cheapThreshold  = 0.005

	capabilityWeight = 40.0
	criticalBonus    = 20.0
	highBonus        = 10.0
	preferredBonus   = 25.0
	excludedMalus    = -100.0

	minScore = 0.0
	maxScore = 100.0
)

// kindAffinity rewards endpoint kinds that suit a task kind
var kindAffinity = map[types.TaskKind]map[types.ServiceKind]float64{
	types.TaskGeneration: {
		types.KindFastInference: 15,
		types.KindOpenAI:        10,
		types.KindAnthropic:     10,
		types.KindBedrock:       5,
	},
	types.TaskWorkflow: {
		types.KindWorkflow:      20,
		types.KindOrchestration: 15,
		types.KindDecisionGraph: 10,
	},
	types.TaskMultiAgent: {
		types.KindAgentCrew:     25,
		types.KindDecisionGraph: 15,
	},
	types.TaskScheduled: {
		types.KindOrchestration: 25,
		types.KindWorkflow:      10,
	},
	types.TaskRealtime: {
		types.KindFastInference: 25,
		types.KindOpenAI:        5,
		types.KindAnthropic:     5,
	},
}

// KindAffinity returns the bonus for routing a task kind to a service kind
func KindAffinity(task types.TaskKind, kind types.ServiceKind) float64 {
	return kindAffinity[task][kind]
}

// ScoreResult is a candidate's score and the rules that produced it
type ScoreResult struct {
	Score     float64
	Reasoning []string
}

// Score rates how well an endpoint fits a request. It is a pure function of
// its inputs. Reasoning gets one entry per rule that fired, in evaluation
// order; the final score is clamped to [0, 100].
func Score(endpoint types.ServiceEndpoint, req *types.RoutingRequest) ScoreResult {
	var reasons []string
	score := float64(endpoint.Priority) * priorityWeight
	reasons = append(reasons, fmt.Sprintf("base priority %d: +%.0f", endpoint.Priority, score))

	switch endpoint.Health {
	case types.HealthHealthy:
		score += healthyBonus
		reasons = append(reasons, fmt.Sprintf("healthy: +%.0f", healthyBonus))
	case types.HealthDegraded:
		score += degradedBonus
		reasons = append(reasons, fmt.Sprintf("degraded: +%.0f", degradedBonus))
	default:
		score += unhealthyMalus
		reasons = append(reasons, fmt.Sprintf("%s health: %.0f", healthLabel(endpoint.Health), unhealthyMalus))
	}

	reqs := req.Requirements
	if reqs != nil && reqs.MaxLatencyMs != nil && endpoint.ResponseTimeMs > *reqs.MaxLatencyMs {
		score += latencyMalus
		reasons = append(reasons, fmt.Sprintf("response time %.0fms exceeds max %.0fms: %.0f",
			endpoint.ResponseTimeMs, *reqs.MaxLatencyMs, latencyMalus))
	} else if endpoint.ResponseTimeMs < fastThresholdMs {
		score += fastBonus
		reasons = append(reasons, fmt.Sprintf("fast response %.0fms: +%.0f", endpoint.ResponseTimeMs, fastBonus))
	}

	if reqs != nil && reqs.MaxCost != nil && endpoint.CostPerRequest > *reqs.MaxCost {
		score += costMalus
		reasons = append(reasons, fmt.Sprintf("cost $%.4f exceeds max $%.4f: %.0f",
			endpoint.CostPerRequest, *reqs.MaxCost, costMalus))
	} else if endpoint.CostPerRequest < cheapThreshold {
		score += cheapBonus
		reasons = append(reasons, fmt.Sprintf("low cost $%.4f: +%.0f", endpoint.CostPerRequest, cheapBonus))
	}

	if reqs != nil && len(reqs.RequiredCapabilities) > 0 {
		matched := 0
		for _, capability := range reqs.RequiredCapabilities {
			if endpoint.HasCapability(capability) {
				matched++
			}
		}
		bonus := float64(matched) / float64(len(reqs.RequiredCapabilities)) * capabilityWeight
		score += bonus
		reasons = append(reasons, fmt.Sprintf("capabilities %d/%d matched: +%.1f",
			matched, len(reqs.RequiredCapabilities), bonus))
	}

	if bonus := KindAffinity(req.Kind, endpoint.Kind); bonus != 0 {
		score += bonus
		reasons = append(reasons, fmt.Sprintf("%s suits %s requests: +%.0f", endpoint.Kind, req.Kind, bonus))
	}

	switch req.Priority {
	case types.PriorityCritical:
		score += criticalBonus
		reasons = append(reasons, fmt.Sprintf("critical priority: +%.0f", criticalBonus))
	case types.PriorityHigh:
		score += highBonus
		reasons = append(reasons, fmt.Sprintf("high priority: +%.0f", highBonus))
	}

	if req.IsPreferred(endpoint.Name) {
		score += preferredBonus
		reasons = append(reasons, fmt.Sprintf("preferred by caller: +%.0f", preferredBonus))
	}
	if req.IsExcluded(endpoint.Name) {
		score += excludedMalus
		reasons = append(reasons, fmt.Sprintf("excluded by caller: %.0f", excludedMalus))
	}

	return ScoreResult{
		Score:     math.Max(minScore, math.Min(maxScore, score)),
		Reasoning: reasons,
	}
}

func healthLabel(h types.HealthState) string {
	if h == "" {
		return string(types.HealthUnknown)
	}
	return string(h)
}
