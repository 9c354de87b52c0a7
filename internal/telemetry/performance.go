package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liamcoop/ruleengine/rules"
)

// PerformanceSource is anything that can snapshot per-rule statistics.
// *rules.Engine satisfies it.
type PerformanceSource interface {
	Performance() map[string]rules.RulePerformanceMetrics
}

// PerformanceCollector exposes the engine's per-rule running statistics as
// gauges, read fresh on every scrape.
type PerformanceCollector struct {
	source PerformanceSource

	executions *prometheus.Desc
	successes  *prometheus.Desc
	avgTime    *prometheus.Desc
	lastRun    *prometheus.Desc
}

// NewPerformanceCollector builds an unregistered collector over source
func NewPerformanceCollector(cfg Config, source PerformanceSource) *PerformanceCollector {
	if cfg.Namespace == "" {
		cfg.Namespace = "ruleengine"
	}
	name := func(n string) string {
		return prometheus.BuildFQName(cfg.Namespace, "rule", n)
	}
	labels := []string{"rule_id"}
	return &PerformanceCollector{
		source:     source,
		executions: prometheus.NewDesc(name("executions"), "Executions recorded for the rule", labels, nil),
		successes:  prometheus.NewDesc(name("success_ratio"), "Running success rate of the rule", labels, nil),
		avgTime:    prometheus.NewDesc(name("average_execution_milliseconds"), "Running mean execution time of the rule", labels, nil),
		lastRun:    prometheus.NewDesc(name("last_executed_timestamp_seconds"), "Unix time of the rule's last execution", labels, nil),
	}
}

// Describe implements prometheus.Collector
func (c *PerformanceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.executions
	ch <- c.successes
	ch <- c.avgTime
	ch <- c.lastRun
}

// Collect implements prometheus.Collector
func (c *PerformanceCollector) Collect(ch chan<- prometheus.Metric) {
	for id, m := range c.source.Performance() {
		ch <- prometheus.MustNewConstMetric(c.executions, prometheus.GaugeValue, float64(m.ExecutionCount), id)
		ch <- prometheus.MustNewConstMetric(c.successes, prometheus.GaugeValue, m.SuccessRate, id)
		ch <- prometheus.MustNewConstMetric(c.avgTime, prometheus.GaugeValue, m.AverageExecutionTimeMs, id)
		ch <- prometheus.MustNewConstMetric(c.lastRun, prometheus.GaugeValue, float64(m.LastExecutedAt.Unix()), id)
	}
}
