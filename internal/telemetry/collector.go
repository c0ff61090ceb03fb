// Package telemetry exports router state to Prometheus.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tributary-ai/request-router/internal/types"
)

const namespace = "request_router"

// Source is the read side of the router that the collector scrapes
type Source interface {
	GetMetrics() types.RoutingMetrics
	GetServiceHealth() []types.ServiceEndpoint
}

// Collector reads a metrics snapshot and the registry at scrape time, so
// exported values always agree with /v1/metrics
type Collector struct {
	source Source

	requests        *prometheus.Desc
	routingTime     *prometheus.Desc
	successRate     *prometheus.Desc
	fallbackUsage   *prometheus.Desc
	selections      *prometheus.Desc
	endpointUp      *prometheus.Desc
	endpointLatency *prometheus.Desc
}

// NewCollector creates a collector over the given source
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "requests_total"),
			"Routed requests by outcome.",
			[]string{"outcome"}, nil),
		routingTime: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "routing_time_ms_avg"),
			"Moving average of routing decision time in milliseconds.",
			nil, nil),
		successRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "success_rate"),
			"Moving average of request success.",
			nil, nil),
		fallbackUsage: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "fallback_usage_total"),
			"Requests that ran on a fallback service.",
			nil, nil),
		selections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "service_selections_total"),
			"Times each service was selected.",
			[]string{"service"}, nil),
		endpointUp: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "endpoint_up"),
			"Endpoint health: 1 healthy, 0.5 degraded, 0 unhealthy, -1 unknown.",
			[]string{"service", "kind"}, nil),
		endpointLatency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "endpoint_response_time_ms"),
			"Last probed response time in milliseconds.",
			[]string{"service"}, nil),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.routingTime
	ch <- c.successRate
	ch <- c.fallbackUsage
	ch <- c.selections
	ch <- c.endpointUp
	ch <- c.endpointLatency
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.GetMetrics()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(m.SuccessfulRoutes), "success")
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(m.FailedRoutes), "failure")
	ch <- prometheus.MustNewConstMetric(c.routingTime, prometheus.GaugeValue, m.AverageRoutingTimeMs)
	ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, m.SuccessRate)
	ch <- prometheus.MustNewConstMetric(c.fallbackUsage, prometheus.CounterValue, float64(m.FallbackUsageCount))

	for service, count := range m.ServiceUtilization {
		ch <- prometheus.MustNewConstMetric(c.selections, prometheus.CounterValue, float64(count), service)
	}

	for _, ep := range c.source.GetServiceHealth() {
		ch <- prometheus.MustNewConstMetric(c.endpointUp, prometheus.GaugeValue, HealthValue(ep.Health), ep.Name, string(ep.Kind))
		ch <- prometheus.MustNewConstMetric(c.endpointLatency, prometheus.GaugeValue, ep.ResponseTimeMs, ep.Name)
	}
}

// HealthValue maps a health state onto the endpoint_up gauge
func HealthValue(state types.HealthState) float64 {
	switch state {
	case types.HealthHealthy:
		return 1
	case types.HealthDegraded:
		return 0.5
	case types.HealthUnhealthy:
		return 0
	default:
		return -1
	}
}
