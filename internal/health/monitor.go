package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/registry"
	"github.com/tributary-ai/request-router/internal/types"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// MonitorConfig controls probe cadence
type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Monitor periodically probes every registered endpoint and writes the
// observed health back to the registry. It is the registry's only writer.
type Monitor struct {
	registry *registry.Registry
	probers  map[types.ProbeType]Prober
	config   MonitorConfig
	logger   *logrus.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewMonitor creates a monitor. Probers are keyed by probe type; endpoints
// whose probe type has no prober are marked unhealthy.
func NewMonitor(reg *registry.Registry, probers map[types.ProbeType]Prober, config MonitorConfig, logger *logrus.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	return &Monitor{
		registry: reg,
		probers:  probers,
		config:   config,
		logger:   logger,
	}
}

// Start runs a first cycle immediately and then one per interval until
// Stop is called or ctx is cancelled. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(ctx, m.done)

	m.logger.WithFields(logrus.Fields{
		"interval":      m.config.Interval.String(),
		"probe_timeout": m.config.ProbeTimeout.String(),
	}).Info("Health monitor started")
}

// Stop cancels the loop and waits for an in-flight cycle to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("Health monitor stopped")
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.CheckAll(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll runs one probe cycle across every endpoint concurrently and
// returns when all probes have finished
func (m *Monitor) CheckAll(ctx context.Context) {
	endpoints := m.registry.List()

	var wg sync.WaitGroup
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(ep types.ServiceEndpoint) {
			defer wg.Done()
			m.checkEndpoint(ctx, ep)
		}(endpoint)
	}
	wg.Wait()
}

func (m *Monitor) checkEndpoint(ctx context.Context, endpoint types.ServiceEndpoint) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	result, err := m.probe(probeCtx, endpoint)
	elapsed := time.Since(start)
	now := time.Now()

	// a cancelled monitor leaves the last observation in place
	if ctx.Err() != nil {
		return
	}

	update := types.EndpointUpdate{LastHealthCheck: &now}
	if err != nil {
		hcErr := &types.HealthCheckError{Service: endpoint.Name, Elapsed: elapsed, Err: err}
		health := types.HealthUnhealthy
		zero := 0.0
		update.Health = &health
		update.ResponseTimeMs = &zero
		m.logger.WithError(hcErr).WithField("service", endpoint.Name).Warn("Health check failed")
	} else {
		health := types.HealthHealthy
		rtt := float64(elapsed.Microseconds()) / 1000.0
		update.Health = &health
		update.ResponseTimeMs = &rtt
		if result != nil && result.RateLimitRemaining != nil {
			update.RateLimitRemaining = result.RateLimitRemaining
		}
		m.logger.WithFields(logrus.Fields{
			"service":          endpoint.Name,
			"response_time_ms": rtt,
		}).Debug("Health check passed")
	}

	if err := m.registry.Update(endpoint.Name, update); err != nil {
		m.logger.WithError(err).WithField("service", endpoint.Name).Error("Failed to record health")
	}
}

func (m *Monitor) probe(ctx context.Context, endpoint types.ServiceEndpoint) (result *ProbeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	probeType := endpoint.Probe
	if probeType == "" {
		probeType = DefaultProbeFor(endpoint.Kind)
	}
	prober, ok := m.probers[probeType]
	if !ok {
		return nil, fmt.Errorf("no prober for probe type %q", probeType)
	}
	return prober.Probe(ctx, endpoint)
}
