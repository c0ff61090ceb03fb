package types

import (
	"time"
)

// NoServiceSelected is the selected service name recorded when no
// endpoint was eligible
const NoServiceSelected = "none"

// RoutingDecision is the outcome of selecting a backend for a request
type RoutingDecision struct {
	RequestID       string `json:"request_id"`
	SelectedService string `json:"selected_service"`

	// Ordered alternatives to the selected service, never containing it
	FallbackServices []string `json:"fallback_services"`

	// Human-readable reasoning, one entry per scoring rule that fired
	Reasoning []string `json:"reasoning"`

	// Estimates copied from the selected endpoint snapshot
	EstimatedLatencyMs float64 `json:"estimated_latency_ms"`
	EstimatedCost      float64 `json:"estimated_cost"`

	Score        float64       `json:"score"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is a scored candidate that was not selected
type Alternative struct {
	Service   string   `json:"service"`
	Score     float64  `json:"score"`
	Reasoning []string `json:"reasoning"`
}

// Clone returns a deep copy of the decision
func (d *RoutingDecision) Clone() *RoutingDecision {
	if d == nil {
		return nil
	}
	out := *d
	out.FallbackServices = cloneStrings(d.FallbackServices)
	out.Reasoning = cloneStrings(d.Reasoning)
	if d.Alternatives != nil {
		out.Alternatives = make([]Alternative, len(d.Alternatives))
		for i, alt := range d.Alternatives {
			alt.Reasoning = cloneStrings(alt.Reasoning)
			out.Alternatives[i] = alt
		}
	}
	return &out
}

// RoutingResult is the outcome of one routed request
type RoutingResult struct {
	Decision *RoutingDecision `json:"decision"`
	Output   interface{}      `json:"output,omitempty"`

	ActualLatencyMs float64   `json:"actual_latency_ms"`
	ActualCost      float64   `json:"actual_cost"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	RoutingTimeMs   float64   `json:"routing_time_ms"`

	// Service that produced the final outcome; differs from the selected
	// service only when explicit fallback execution ran
	ExecutedService string `json:"executed_service,omitempty"`
	FallbackUsed    bool   `json:"fallback_used"`
	Attempts        int    `json:"attempts"`
}

// Clone returns a copy of the result with its own decision. Output is
// shared, it is treated as immutable once recorded.
func (r RoutingResult) Clone() RoutingResult {
	out := r
	out.Decision = r.Decision.Clone()
	return out
}

// RoutingMetrics is an aggregate view over all recorded results
type RoutingMetrics struct {
	TotalRequests        int64            `json:"total_requests"`
	SuccessfulRoutes     int64            `json:"successful_routes"`
	FailedRoutes         int64            `json:"failed_routes"`
	AverageRoutingTimeMs float64          `json:"average_routing_time_ms"`
	ServiceUtilization   map[string]int64 `json:"service_utilization"`
	SuccessRate          float64          `json:"success_rate"`
	FallbackUsageCount   int64            `json:"fallback_usage_count"`
}

// ErrorResponse is the JSON envelope for HTTP errors
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a single HTTP error
type ErrorDetail struct {
	Message string   `json:"message"`
	Type    string   `json:"type"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

// cloneStrings copies s, keeping nil and empty distinct so JSON output is unchanged
func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
