package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/ruleengine/rules"
)

func testConfig() Config {
	return Config{Namespace: "test", Subsystem: "engine"}
}

func TestCollector_RecordMetric(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollector(testConfig(), registry)

	c.RecordMetric(rules.MetricRuleExecution, 2, map[string]string{"rule_id": "r1", "rule_type": "pricing", "success": "true"})
	c.RecordMetric(rules.MetricRuleExecution, 3, map[string]string{"rule_id": "r2", "rule_type": "pricing", "success": "false"})
	c.RecordMetric(rules.MetricEngineExecute, 5, map[string]string{"success": "true"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.total.WithLabelValues(rules.MetricRuleExecution, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.total.WithLabelValues(rules.MetricRuleExecution, "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.total.WithLabelValues(rules.MetricEngineExecute, "success")))

	// one histogram series per operation/rule_type/outcome triple
	assert.Equal(t, 3, testutil.CollectAndCount(c.duration))
}

func TestCollector_DefaultsAndHandler(t *testing.T) {
	c := NewCollector(Config{}, nil)
	require.NotNil(t, c.Registry())

	c.RecordMetric("engine.pricing", 1, nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "ruleengine_core_operations_total")
	assert.Contains(t, rec.Body.String(), `rule_type="none"`)
}

func TestCollector_WiredIntoEngine(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	engine, err := rules.NewEngine(context.Background(), nil,
		rules.WithMetrics(c),
		rules.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.CheckAccess(context.Background(), rules.AccessContext{
		UserProfile: map[string]any{"subscriptionTier": "premium"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.total.WithLabelValues("engine.access", "success")))
}

type fixedPerformance map[string]rules.RulePerformanceMetrics

func (f fixedPerformance) Performance() map[string]rules.RulePerformanceMetrics { return f }

func TestPerformanceCollector(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	source := fixedPerformance{
		"premium-discount": {ExecutionCount: 4, SuccessRate: 0.75, AverageExecutionTimeMs: 1.5, LastExecutedAt: last},
	}
	pc := NewPerformanceCollector(testConfig(), source)

	expected := `
# HELP test_rule_executions Executions recorded for the rule
# TYPE test_rule_executions gauge
test_rule_executions{rule_id="premium-discount"} 4
# HELP test_rule_success_ratio Running success rate of the rule
# TYPE test_rule_success_ratio gauge
test_rule_success_ratio{rule_id="premium-discount"} 0.75
`
	err := testutil.CollectAndCompare(pc, strings.NewReader(expected),
		"test_rule_executions", "test_rule_success_ratio")
	assert.NoError(t, err)
	assert.Equal(t, 4, testutil.CollectAndCount(pc))
}
