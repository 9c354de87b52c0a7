package rules

// MetricsRecorder receives execution timings. Implementations must not block.
type MetricsRecorder interface {
	RecordMetric(name string, durationMs float64, tags map[string]string)
}

type noopRecorder struct{}

func (noopRecorder) RecordMetric(string, float64, map[string]string) {}

// Metric names emitted by the engine
const (
	MetricRuleExecution = "rule.execution"
	MetricEngineExecute = "engine.execute"
)

// CaffeineLimits are the caffeine thresholds used by compliance checks
type CaffeineLimits struct {
	MaxPerServingMg float64 `json:"maxPerServingMg" yaml:"maxPerServingMg"`
}

// Limits is the regulatory data compliance rules fall back to when a rule
// does not carry its own threshold.
type Limits struct {
	AgeRestriction    int            `json:"ageRestriction" yaml:"ageRestriction"`
	Caffeine          CaffeineLimits `json:"caffeine" yaml:"caffeine"`
	BannedIngredients []string       `json:"bannedIngredients" yaml:"bannedIngredients"`
}

// LimitsProvider supplies already-loaded regulatory limits
type LimitsProvider interface {
	GetLimits() Limits
}

// StaticLimits serves a fixed Limits value
type StaticLimits Limits

// GetLimits returns l
func (l StaticLimits) GetLimits() Limits {
	return Limits(l)
}

// DefaultLimits are used when no provider is configured
func DefaultLimits() Limits {
	return Limits{
		AgeRestriction: 16,
		Caffeine: CaffeineLimits{
			MaxPerServingMg: 200,
		},
		BannedIngredients: []string{"dmaa", "ephedra", "dmha"},
	}
}
