package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Repository holds the engine's rule snapshot and answers which rules apply
// to a context. Rules are replaced, never mutated, so slices handed out by
// GetApplicableRules stay valid after a toggle.
type Repository struct {
	mu    sync.RWMutex
	rules []*Rule // declaration order
	byID  map[string]int
	// generation counts Replace calls; a lookup computed from an older
	// snapshot is not cached
	generation uint64
	cache      RulesCache
	logger     *slog.Logger
}

// NewRepository indexes rules. The cache may be nil to disable memoization.
func NewRepository(rules []*Rule, cache RulesCache, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{
		rules:  make([]*Rule, 0, len(rules)),
		byID:   make(map[string]int, len(rules)),
		cache:  cache,
		logger: logger,
	}
	for _, rule := range rules {
		if _, exists := r.byID[rule.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
		}
		r.byID[rule.ID] = len(r.rules)
		r.rules = append(r.rules, rule)
	}
	return r, nil
}

// GetApplicableRules returns the enabled rules of the requested types (all
// types when none are given) whose region and validity window admit ec.
// Results are memoized by region and types; a hit returns the cached slice.
func (r *Repository) GetApplicableRules(ctx context.Context, ec ExecutionContext, types ...RuleType) ([]*Rule, error) {
	key := cacheKey(ec.Region, types)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			return cached, nil
		}
	}

	applicable, generation, err := r.applicable(ec, types)
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "Applicable rules computed",
		"region", ec.Region,
		"types", types,
		"count", len(applicable),
	)

	r.remember(key, applicable, generation)
	return applicable, nil
}

// applicable filters the current snapshot and reports its generation
func (r *Repository) applicable(ec ExecutionContext, types []RuleType) ([]*Rule, uint64, error) {
	wanted := make(map[RuleType]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	r.mu.RLock()
	snapshot, generation := r.rules, r.generation
	r.mu.RUnlock()

	applicable := make([]*Rule, 0, len(snapshot))
	for _, rule := range snapshot {
		if len(wanted) > 0 {
			if _, ok := wanted[rule.Type]; !ok {
				continue
			}
		}
		if !rule.Enabled {
			continue
		}
		if rule.Metadata.Region != "" && rule.Metadata.Region != ec.Region {
			continue
		}
		within, err := withinWindow(rule, ec.Timestamp)
		if err != nil {
			return nil, 0, err
		}
		if !within {
			continue
		}
		applicable = append(applicable, rule)
	}
	return applicable, generation, nil
}

// remember caches rules unless a Replace happened after they were computed.
// The read lock is held across Set so Replace cannot slip in between.
func (r *Repository) remember(key string, rules []*Rule, generation uint64) {
	if r.cache == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if generation != r.generation {
		return
	}
	r.cache.Set(key, rules)
}

func withinWindow(rule *Rule, at time.Time) (bool, error) {
	from, to := rule.Metadata.ValidFrom, rule.Metadata.ValidTo
	if from != nil && to != nil && from.After(*to) {
		return false, fmt.Errorf("%w: rule %s validity window starts %s after it ends %s",
			ErrMalformedRule, rule.ID, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if from != nil && at.Before(*from) {
		return false, nil
	}
	if to != nil && at.After(*to) {
		return false, nil
	}
	return true, nil
}

// Rules returns the rule snapshot in declaration order
func (r *Repository) Rules() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.rules)
}

// Get returns the rule with the given ID
func (r *Repository) Get(id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return r.rules[i], nil
}

// Replace swaps in a new version of an existing rule and clears the cache
func (r *Repository) Replace(rule *Rule) error {
	r.mu.Lock()
	i, ok := r.byID[rule.ID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	next := slices.Clone(r.rules)
	next[i] = rule
	r.rules = next
	r.generation++
	r.mu.Unlock()

	if r.cache != nil {
		r.cache.Invalidate()
	}
	return nil
}

// Sweep drops expired cache entries
func (r *Repository) Sweep() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.Sweep()
}
