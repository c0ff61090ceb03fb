package types

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError is returned when a request is structurally invalid.
// It is the only error surfaced to callers of RouteRequest.
type ValidationError struct {
	RequestID string
	Problems  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid routing request: %s", strings.Join(e.Problems, "; "))
}

// NoAvailableServiceError means every endpoint was unhealthy or excluded
type NoAvailableServiceError struct {
	RequestID  string
	Considered int
	Unhealthy  int
	Excluded   int
}

func (e *NoAvailableServiceError) Error() string {
	return fmt.Sprintf("no available service for request %s (%d registered, %d unhealthy, %d excluded)",
		e.RequestID, e.Considered, e.Unhealthy, e.Excluded)
}

// ExecutionError wraps any failure raised while dispatching to a backend
type ExecutionError struct {
	Service string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution on %s failed: %v", e.Service, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// HealthCheckError is produced by a failed probe. It never leaves the
// health monitor, the endpoint is marked unhealthy instead.
type HealthCheckError struct {
	Service string
	Elapsed time.Duration
	Err     error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("health check for %s failed after %s: %v", e.Service, e.Elapsed, e.Err)
}

func (e *HealthCheckError) Unwrap() error {
	return e.Err
}
