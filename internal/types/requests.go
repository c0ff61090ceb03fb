package types

import (
	"fmt"
	"strings"
)

// TaskKind is the kind of work a caller is asking for
type TaskKind string

const (
	TaskGeneration TaskKind = "generation"
	TaskWorkflow   TaskKind = "workflow"
	TaskMultiAgent TaskKind = "multi_agent"
	TaskScheduled  TaskKind = "scheduled"
	TaskRealtime   TaskKind = "realtime"
)

// Priority is the caller-assigned urgency of a request
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// RoutingRequest is an abstract unit of work to be routed to a backend
type RoutingRequest struct {
	ID           string                 `json:"id"`
	Kind         TaskKind               `json:"kind"`
	Priority     Priority               `json:"priority"`
	Requirements *Requirements          `json:"requirements,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Metadata     *RequestMetadata       `json:"metadata,omitempty"`

	// Routing hints; excluded always wins over preferred
	PreferredServices []string `json:"preferred_services,omitempty"`
	ExcludedServices  []string `json:"excluded_services,omitempty"`

	// Fallback execution is opt-in; without it a request is dispatched at most once
	Fallback *FallbackConfig `json:"fallback,omitempty"`
}

// Requirements are optional caller constraints used by scoring
type Requirements struct {
	MaxLatencyMs         *float64 `json:"max_latency_ms,omitempty"`
	MaxCost              *float64 `json:"max_cost,omitempty"`
	MinReliability       *float64 `json:"min_reliability,omitempty"` // 0-1
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	EstimatedDataSizeMB  *float64 `json:"estimated_data_size_mb,omitempty"`
	ExpectedConcurrency  *int     `json:"expected_concurrency,omitempty"`
}

// RequestMetadata carries caller context and the execution timeout
type RequestMetadata struct {
	CallerID  string            `json:"caller_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Source    string            `json:"source,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	TimeoutMs *int64            `json:"timeout_ms,omitempty"`
}

// FallbackConfig enables walking the decision's fallback list when the
// primary dispatch fails
type FallbackConfig struct {
	Enabled         bool     `json:"enabled"`
	MaxAttempts     int      `json:"max_attempts,omitempty"`      // 0 = every fallback
	MaxCostIncrease *float64 `json:"max_cost_increase,omitempty"` // e.g. 0.5 = 50% over the primary
}

// Normalize fills defaults that validation treats as implicit
func (r *RoutingRequest) Normalize() {
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
}

// Validate checks structural validity and returns a *ValidationError
// describing every problem found
func (r *RoutingRequest) Validate() error {
	var problems []string

	if strings.TrimSpace(r.ID) == "" {
		problems = append(problems, "id must not be empty")
	}

	switch r.Kind {
	case TaskGeneration, TaskWorkflow, TaskMultiAgent, TaskScheduled, TaskRealtime:
	case "":
		problems = append(problems, "kind is required")
	default:
		problems = append(problems, fmt.Sprintf("unknown kind %q", r.Kind))
	}

	switch r.Priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		problems = append(problems, fmt.Sprintf("unknown priority %q", r.Priority))
	}

	if req := r.Requirements; req != nil {
		if req.MaxLatencyMs != nil && *req.MaxLatencyMs < 0 {
			problems = append(problems, "requirements.max_latency_ms must not be negative")
		}
		if req.MaxCost != nil && *req.MaxCost < 0 {
			problems = append(problems, "requirements.max_cost must not be negative")
		}
		if req.MinReliability != nil && (*req.MinReliability < 0 || *req.MinReliability > 1) {
			problems = append(problems, "requirements.min_reliability must be between 0 and 1")
		}
		if req.EstimatedDataSizeMB != nil && *req.EstimatedDataSizeMB < 0 {
			problems = append(problems, "requirements.estimated_data_size_mb must not be negative")
		}
		if req.ExpectedConcurrency != nil && *req.ExpectedConcurrency < 0 {
			problems = append(problems, "requirements.expected_concurrency must not be negative")
		}
	}

	if r.Metadata != nil && r.Metadata.TimeoutMs != nil && *r.Metadata.TimeoutMs <= 0 {
		problems = append(problems, "metadata.timeout_ms must be positive")
	}

	if r.Fallback != nil {
		if r.Fallback.MaxAttempts < 0 {
			problems = append(problems, "fallback.max_attempts must not be negative")
		}
		if r.Fallback.MaxCostIncrease != nil && *r.Fallback.MaxCostIncrease < 0 {
			problems = append(problems, "fallback.max_cost_increase must not be negative")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{RequestID: r.ID, Problems: problems}
	}
	return nil
}

// IsPreferred reports whether the named service is in the preferred list
func (r *RoutingRequest) IsPreferred(name string) bool {
	return containsString(r.PreferredServices, name)
}

// IsExcluded reports whether the named service is in the excluded list
func (r *RoutingRequest) IsExcluded(name string) bool {
	return containsString(r.ExcludedServices, name)
}

func containsString(slice []string, value string) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}
