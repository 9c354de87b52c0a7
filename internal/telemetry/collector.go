package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/ruleengine/rules"
)

// Config names the metric family prefix
type Config struct {
	Namespace string
	Subsystem string
}

// Collector turns engine timing callbacks into Prometheus series.
//
// Metrics:
//   - <ns>_<sub>_operation_duration_seconds: histogram by operation, rule_type and outcome
//   - <ns>_<sub>_operations_total: counter by operation and outcome
//
// The engine reports "rule.execution" once per evaluated rule (tagged with
// rule_type) and "engine.*" once per entry point call.
type Collector struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

var _ rules.MetricsRecorder = (*Collector)(nil)

// NewCollector registers the operation metrics. A nil registry gets a fresh one.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "ruleengine"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "core"
	}

	c := &Collector{
		registry: registry,
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Duration of rule executions and engine entry points in seconds",
				// Rule evaluation is in-process, so 1µs to 16ms
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15),
			},
			[]string{"operation", "rule_type", "outcome"},
		),
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "operations_total",
				Help:      "Total number of rule executions and engine entry point calls",
			},
			[]string{"operation", "outcome"},
		),
	}

	registry.MustRegister(c.duration, c.total)
	return c
}

// RecordMetric implements rules.MetricsRecorder
func (c *Collector) RecordMetric(name string, durationMs float64, tags map[string]string) {
	outcome := "success"
	if tags["success"] == "false" {
		outcome = "failure"
	}
	ruleType := tags["rule_type"]
	if ruleType == "" {
		ruleType = "none"
	}

	c.duration.WithLabelValues(name, ruleType, outcome).Observe(durationMs / 1000)
	c.total.WithLabelValues(name, outcome).Inc()
}

// Registry returns the registry metrics are registered with
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
