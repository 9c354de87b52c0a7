package rules

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
)

// Engine evaluates a fixed rule snapshot against execution contexts.
// It is safe for concurrent use.
type Engine struct {
	store      RuleStore
	repo       *Repository
	sorter     *Sorter
	evaluator  *Evaluator
	dispatcher *Dispatcher
	tracker    *PerformanceTracker
	guards     map[string]*Guard // ruleID -> compiled expression
	metrics    MetricsRecorder
	limits     LimitsProvider
	logger     *slog.Logger
	now        func() time.Time
	closed     atomic.Bool
}

type engineConfig struct {
	logger  *slog.Logger
	metrics MetricsRecorder
	limits  LimitsProvider
	deps    map[string][]string
	cache   RulesCache
	cacheCf CacheConfig
	env     *cel.Env
	now     func() time.Time
}

// Option configures an Engine
type Option func(*engineConfig)

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithMetrics sets the telemetry sink
func WithMetrics(m MetricsRecorder) Option {
	return func(c *engineConfig) { c.metrics = m }
}

// WithLimits sets the regulatory limits used by compliance checks
func WithLimits(p LimitsProvider) Option {
	return func(c *engineConfig) { c.limits = p }
}

// WithDependencies declares rule dependencies out of band (rule ID to the
// IDs it depends on). They are merged with each rule's DependsOn.
func WithDependencies(deps map[string][]string) Option {
	return func(c *engineConfig) { c.deps = deps }
}

// WithCache replaces the applicability cache
func WithCache(cache RulesCache) Option {
	return func(c *engineConfig) { c.cache = cache }
}

// WithCacheConfig configures the default in-memory applicability cache
func WithCacheConfig(cfg CacheConfig) Option {
	return func(c *engineConfig) { c.cacheCf = cfg }
}

// WithEnv compiles guard expressions in a custom CEL environment
func WithEnv(env *cel.Env) Option {
	return func(c *engineConfig) { c.env = env }
}

// WithClock sets the clock used to stamp contexts that carry no timestamp
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) { c.now = now }
}

// NewEngine loads every rule from store, compiles guard expressions and
// indexes the result. The snapshot is not re-read afterwards.
func NewEngine(ctx context.Context, store RuleStore, opts ...Option) (*Engine, error) {
	cfg := engineConfig{
		logger:  slog.Default(),
		metrics: noopRecorder{},
		limits:  StaticLimits(DefaultLimits()),
		cacheCf: DefaultCacheConfig(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if store == nil {
		defaults, err := NewDefaultRuleStore()
		if err != nil {
			return nil, fmt.Errorf("failed to load default rules: %w", err)
		}
		store = defaults
	}

	env := cfg.env
	if env == nil {
		var err error
		if env, err = NewGuardEnv(); err != nil {
			return nil, err
		}
	}

	rules, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	guards := make(map[string]*Guard)
	for _, rule := range rules {
		if err := rule.checkKind(); err != nil {
			return nil, err
		}
		if rule.Expression == "" {
			continue
		}
		guard, err := CompileGuard(env, rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
		guards[rule.ID] = guard
	}

	cache := cfg.cache
	if cache == nil {
		cache = NewInMemoryRulesCache(cfg.cacheCf)
	}
	repo, err := NewRepository(rules, cache, cfg.logger)
	if err != nil {
		return nil, err
	}

	en := &Engine{
		store:      store,
		repo:       repo,
		sorter:     NewSorter(cfg.deps, cfg.logger),
		evaluator:  NewEvaluator(),
		dispatcher: NewDispatcher(cfg.logger),
		tracker:    NewPerformanceTracker(),
		guards:     guards,
		metrics:    cfg.metrics,
		limits:     cfg.limits,
		logger:     cfg.logger,
		now:        cfg.now,
	}

	cfg.logger.InfoContext(ctx, "Rule engine initialized",
		"rule_count", len(rules),
		"guard_count", len(guards),
	)
	return en, nil
}

// ExecuteRules runs every applicable rule of the given types (all types when
// none are given) in priority order. Per-rule failures are reported in the
// results; only a repository fault is returned as an error.
func (en *Engine) ExecuteRules(ctx context.Context, ec ExecutionContext, types ...RuleType) ([]ExecutionResult, error) {
	start := time.Now()
	ec, doc, ordered, err := en.prepare(ctx, ec, types)
	if err != nil {
		en.recordRun(MetricEngineExecute, start, false)
		return nil, err
	}

	results := make([]ExecutionResult, 0, len(ordered))
	for _, rule := range ordered {
		results = append(results, en.executeRule(ctx, rule, ec, doc))
	}

	en.recordRun(MetricEngineExecute, start, true)
	return results, nil
}

// prepare stamps ec, encodes it and returns the applicable rules in
// execution order
func (en *Engine) prepare(ctx context.Context, ec ExecutionContext, types []RuleType) (ExecutionContext, *Document, []*Rule, error) {
	if en.closed.Load() {
		return ec, nil, nil, ErrEngineClosed
	}
	if ec.Timestamp.IsZero() {
		ec.Timestamp = en.now()
	}

	doc, err := NewDocument(ec)
	if err != nil {
		return ec, nil, nil, err
	}

	applicable, err := en.repo.GetApplicableRules(ctx, ec, types...)
	if err != nil {
		en.logger.ErrorContext(ctx, "Failed to resolve applicable rules", "error", err)
		return ec, nil, nil, fmt.Errorf("failed to get applicable rules: %w", err)
	}

	sorted := en.sorter.Sort(ctx, applicable)
	return ec, doc, sorted.Rules, nil
}

// matches reports whether rule's conditions and guard hold for doc
func (en *Engine) matches(ctx context.Context, rule *Rule, doc *Document) bool {
	if !en.evaluator.Conditions(rule.Conditions, doc) {
		return false
	}
	guard, ok := en.guards[rule.ID]
	if !ok {
		return true
	}
	matched, err := guard.Eval(doc.Context())
	if err != nil {
		en.logger.WarnContext(ctx, "Rule expression evaluation failed",
			"rule_id", rule.ID,
			"error", err,
		)
		return false
	}
	return matched
}

func (en *Engine) executeRule(ctx context.Context, rule *Rule, ec ExecutionContext, doc *Document) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		RuleType:        rule.Type,
		ExecutedActions: []ActionResult{},
		Context:         ec,
	}

	if !en.matches(ctx, rule, doc) {
		result.Error = ConditionsNotMet
	} else {
		result.Success = true
		failed := 0
		for _, action := range orderedActions(rule.Actions) {
			ar := en.dispatcher.Execute(ctx, action, doc)
			if !ar.Success {
				failed++
			}
			result.ExecutedActions = append(result.ExecutedActions, ar)
		}
		if failed > 0 {
			result.Success = false
			result.Error = fmt.Sprintf("%d of %d actions failed", failed, len(rule.Actions))
		}
	}

	result.ExecutionTime = time.Since(start)
	en.observeRule(rule, result.Success, result.ExecutionTime)
	return result
}

// orderedActions sorts actions by ascending priority, keeping declaration
// order among equals
func orderedActions(actions []Action) []Action {
	ordered := slices.Clone(actions)
	slices.SortStableFunc(ordered, func(a, b Action) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return ordered
}

func (en *Engine) observeRule(rule *Rule, success bool, elapsed time.Duration) {
	en.tracker.Record(rule.ID, success, elapsed)
	en.metrics.RecordMetric(MetricRuleExecution, durationMs(elapsed), map[string]string{
		"rule_id":   rule.ID,
		"rule_type": string(rule.Type),
		"success":   strconv.FormatBool(success),
	})
}

func (en *Engine) recordRun(name string, start time.Time, success bool) {
	en.metrics.RecordMetric(name, durationMs(time.Since(start)), map[string]string{
		"success": strconv.FormatBool(success),
	})
}

// evaluateMatching runs the shared lookup for the specialized entry points
// and returns the rules whose conditions and guard hold, in execution order
func (en *Engine) evaluateMatching(ctx context.Context, ec ExecutionContext, types ...RuleType) (*Document, []*Rule, error) {
	ec, doc, ordered, err := en.prepare(ctx, ec, types)
	if err != nil {
		return nil, nil, err
	}

	matched := make([]*Rule, 0, len(ordered))
	for _, rule := range ordered {
		start := time.Now()
		ok := en.matches(ctx, rule, doc)
		en.observeRule(rule, ok, time.Since(start))
		if ok {
			matched = append(matched, rule)
		}
	}
	return doc, matched, nil
}

// SetEnabled toggles a rule, writing the change through to the store before
// swapping it into the snapshot
func (en *Engine) SetEnabled(ctx context.Context, ruleID string, enabled bool) (*Rule, error) {
	if en.closed.Load() {
		return nil, ErrEngineClosed
	}
	current, err := en.repo.Get(ruleID)
	if err != nil {
		return nil, err
	}

	updated := current.Clone()
	updated.Enabled = enabled
	updated.UpdatedAt = en.now()
	if err := en.store.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to persist rule %s: %w", ruleID, err)
	}
	if err := en.repo.Replace(updated); err != nil {
		return nil, err
	}

	en.logger.InfoContext(ctx, "Rule toggled", "rule_id", ruleID, "enabled", enabled)
	return updated.Clone(), nil
}

// Rules returns copies of every rule in declaration order
func (en *Engine) Rules() []*Rule {
	snapshot := en.repo.Rules()
	out := make([]*Rule, len(snapshot))
	for i, r := range snapshot {
		out[i] = r.Clone()
	}
	return out
}

// Rule returns a copy of the rule with the given ID
func (en *Engine) Rule(id string) (*Rule, error) {
	r, err := en.repo.Get(id)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Performance returns the running statistics of every executed rule
func (en *Engine) Performance() map[string]RulePerformanceMetrics {
	return en.tracker.Snapshot()
}

// RulePerformance returns the running statistics of one rule
func (en *Engine) RulePerformance(ruleID string) (RulePerformanceMetrics, bool) {
	return en.tracker.Get(ruleID)
}

// SweepCache drops expired applicability cache entries
func (en *Engine) SweepCache() int {
	return en.repo.Sweep()
}

// Repository exposes the applicability index
func (en *Engine) Repository() *Repository {
	return en.repo
}

// Close marks the engine closed. Calls made afterwards return ErrEngineClosed.
func (en *Engine) Close() error {
	en.closed.Store(true)
	return nil
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
