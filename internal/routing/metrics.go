package routing

import (
	"sync"

	"github.com/tributary-ai/request-router/internal/types"
)

const (
	routingTimeAlpha = 0.1
	successRateAlpha = 0.05

	DefaultHistoryCapacity = 10000
	DefaultHistoryTrimTo   = 5000
)

// HistoryConfig bounds the in-memory routing history
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
	TrimTo   int `yaml:"trim_to"`
}

// Aggregator folds routing results into running metrics and keeps a bounded
// history. Every mutation happens under one lock so counters never drift
// apart under concurrent recording.
type Aggregator struct {
	mu      sync.Mutex
	metrics types.RoutingMetrics
	history []types.RoutingResult
	config  HistoryConfig
}

// NewAggregator creates an aggregator. Zero config values take the defaults.
func NewAggregator(config HistoryConfig) *Aggregator {
	if config.Capacity <= 0 {
		config.Capacity = DefaultHistoryCapacity
	}
	if config.TrimTo <= 0 || config.TrimTo > config.Capacity {
		config.TrimTo = config.Capacity / 2
	}
	return &Aggregator{
		metrics: types.RoutingMetrics{ServiceUtilization: make(map[string]int64)},
		history: make([]types.RoutingResult, 0, 64),
		config:  config,
	}
}

// Record folds one completed routing attempt into the metrics
func (a *Aggregator) Record(result types.RoutingResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := &a.metrics
	first := m.TotalRequests == 0

	m.TotalRequests++
	outcome := 0.0
	if result.Success {
		m.SuccessfulRoutes++
		outcome = 1.0
	} else {
		m.FailedRoutes++
	}

	if first {
		m.AverageRoutingTimeMs = result.RoutingTimeMs
		m.SuccessRate = outcome
	} else {
		m.AverageRoutingTimeMs = ema(m.AverageRoutingTimeMs, result.RoutingTimeMs, routingTimeAlpha)
		m.SuccessRate = ema(m.SuccessRate, outcome, successRateAlpha)
	}

	if result.Decision != nil && result.Decision.SelectedService != types.NoServiceSelected {
		m.ServiceUtilization[result.Decision.SelectedService]++
	}
	if result.FallbackUsed {
		m.FallbackUsageCount++
	}

	a.history = append(a.history, result.Clone())
	if len(a.history) > a.config.Capacity {
		kept := make([]types.RoutingResult, a.config.TrimTo, a.config.Capacity+1)
		copy(kept, a.history[len(a.history)-a.config.TrimTo:])
		a.history = kept
	}
}

// Snapshot returns a copy of the current metrics
func (a *Aggregator) Snapshot() types.RoutingMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.metrics
	out.ServiceUtilization = make(map[string]int64, len(a.metrics.ServiceUtilization))
	for name, count := range a.metrics.ServiceUtilization {
		out.ServiceUtilization[name] = count
	}
	return out
}

// History returns up to limit of the most recent results, oldest first.
// A non-positive limit returns everything retained.
func (a *Aggregator) History(limit int) []types.RoutingResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(a.history) {
		start = len(a.history) - limit
	}
	out := make([]types.RoutingResult, 0, len(a.history)-start)
	for _, r := range a.history[start:] {
		out = append(out, r.Clone())
	}
	return out
}

// HistoryLen returns the number of retained results
func (a *Aggregator) HistoryLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

func ema(current, sample, alpha float64) float64 {
	return current*(1-alpha) + sample*alpha
}
