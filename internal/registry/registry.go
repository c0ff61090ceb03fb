package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/types"
)

// ErrEndpointNotFound is returned when an update names an unknown endpoint
var ErrEndpointNotFound = errors.New("endpoint not found")

// Registry holds the known backend endpoints and their latest health.
// Records are replaced whole under the write lock, so readers always see
// a complete snapshot of an endpoint.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]types.ServiceEndpoint
	names     []string // registration order, used for tie-breaking
	logger    *logrus.Logger
}

// New creates an empty registry
func New(logger *logrus.Logger) *Registry {
	return &Registry{
		endpoints: make(map[string]types.ServiceEndpoint),
		names:     make([]string, 0),
		logger:    logger,
	}
}

// Register adds an endpoint. Endpoints start in the unknown health state
// unless the caller set one explicitly.
func (r *Registry) Register(endpoint types.ServiceEndpoint) error {
	if endpoint.Name == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if !endpoint.Kind.Valid() {
		return fmt.Errorf("endpoint %s: unsupported kind %q", endpoint.Name, endpoint.Kind)
	}
	if endpoint.Health == "" {
		endpoint.Health = types.HealthUnknown
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.endpoints[endpoint.Name]; exists {
		return fmt.Errorf("endpoint %s already registered", endpoint.Name)
	}
	r.endpoints[endpoint.Name] = endpoint.Clone()
	r.names = append(r.names, endpoint.Name)

	r.logger.WithFields(logrus.Fields{
		"service": endpoint.Name,
		"kind":    endpoint.Kind,
	}).Info("Endpoint registered")
	return nil
}

// Get returns a copy of the named endpoint
func (r *Registry) Get(name string) (types.ServiceEndpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoint, exists := r.endpoints[name]
	if !exists {
		return types.ServiceEndpoint{}, false
	}
	return endpoint.Clone(), true
}

// List returns copies of all endpoints in registration order
func (r *Registry) List() []types.ServiceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]types.ServiceEndpoint, 0, len(r.names))
	for _, name := range r.names {
		list = append(list, r.endpoints[name].Clone())
	}
	return list
}

// Names returns endpoint names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// Len returns the number of registered endpoints
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Update applies a partial update to the named endpoint's dynamic state
func (r *Registry) Update(name string, update types.EndpointUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.endpoints[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, name)
	}

	next := current.Clone()
	if update.Health != nil {
		next.Health = *update.Health
	}
	if update.LastHealthCheck != nil {
		next.LastHealthCheck = *update.LastHealthCheck
	}
	if update.ResponseTimeMs != nil {
		next.ResponseTimeMs = *update.ResponseTimeMs
	}
	if update.RateLimitRemaining != nil {
		next.RateLimitRemaining = *update.RateLimitRemaining
	}
	r.endpoints[name] = next

	if next.Health != current.Health {
		r.logger.WithFields(logrus.Fields{
			"service": name,
			"from":    current.Health,
			"to":      next.Health,
		}).Info("Endpoint health changed")
	}
	return nil
}
