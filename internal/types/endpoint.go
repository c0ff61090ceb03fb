package types

import (
	"time"
)

// HealthState is the last observed health of a backend endpoint
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// Valid reports whether s is one of the known health states
func (s HealthState) Valid() bool {
	switch s {
	case HealthHealthy, HealthDegraded, HealthUnhealthy, HealthUnknown:
		return true
	}
	return false
}

// ServiceKind identifies the family of backend an endpoint belongs to.
// The kind selects both the execution adapter and the default probe.
type ServiceKind string

const (
	KindOrchestration ServiceKind = "orchestration"  // durable workflow engines
	KindWorkflow      ServiceKind = "workflow"       // visual workflow automation
	KindFastInference ServiceKind = "fast_inference" // low-latency model serving
	KindDecisionGraph ServiceKind = "decision_graph" // AI decision graphs
	KindAgentCrew     ServiceKind = "agent_crew"     // multi-agent crews
	KindOpenAI        ServiceKind = "openai"
	KindAnthropic     ServiceKind = "anthropic"
	KindBedrock       ServiceKind = "bedrock"
)

// ServiceKinds lists every supported kind in a stable order
var ServiceKinds = []ServiceKind{
	KindOrchestration,
	KindWorkflow,
	KindFastInference,
	KindDecisionGraph,
	KindAgentCrew,
	KindOpenAI,
	KindAnthropic,
	KindBedrock,
}

// Valid reports whether k is a supported service kind
func (k ServiceKind) Valid() bool {
	for _, known := range ServiceKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ProbeType selects how the health monitor checks an endpoint
type ProbeType string

const (
	ProbeHTTP       ProbeType = "http"
	ProbeGRPC       ProbeType = "grpc"
	ProbeCredential ProbeType = "credential"
)

// ServiceEndpoint is a registered backend capable of executing requests
type ServiceEndpoint struct {
	Name        string      `json:"name" yaml:"name"`
	Kind        ServiceKind `json:"kind" yaml:"kind"`
	BaseAddress string      `json:"base_address" yaml:"base_address"`

	// Dynamic state, written only by the health monitor
	Health             HealthState `json:"health" yaml:"-"`
	LastHealthCheck    time.Time   `json:"last_health_check" yaml:"-"`
	ResponseTimeMs     float64     `json:"response_time_ms" yaml:"-"`
	RateLimitRemaining float64     `json:"rate_limit_remaining" yaml:"-"`

	CostPerRequest float64  `json:"cost_per_request" yaml:"cost_per_request"`
	Capabilities   []string `json:"capabilities" yaml:"capabilities"`
	Priority       int      `json:"priority" yaml:"priority"` // 1-10

	// Static execution settings, not used for scoring
	Probe       ProbeType     `json:"probe,omitempty" yaml:"probe,omitempty"`
	ExecutePath string        `json:"execute_path,omitempty" yaml:"execute_path,omitempty"`
	HealthPath  string        `json:"health_path,omitempty" yaml:"health_path,omitempty"`
	Model       string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Clone returns a deep copy of the endpoint
func (e ServiceEndpoint) Clone() ServiceEndpoint {
	out := e
	if e.Capabilities != nil {
		out.Capabilities = make([]string, len(e.Capabilities))
		copy(out.Capabilities, e.Capabilities)
	}
	return out
}

// HasCapability reports whether the endpoint advertises the given tag
func (e ServiceEndpoint) HasCapability(capability string) bool {
	for _, c := range e.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// EndpointUpdate is a partial update of an endpoint's dynamic state.
// Nil fields are left untouched.
type EndpointUpdate struct {
	Health             *HealthState
	LastHealthCheck    *time.Time
	ResponseTimeMs     *float64
	RateLimitRemaining *float64
}
