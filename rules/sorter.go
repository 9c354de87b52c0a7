package rules

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
)

// UnmetDependency records a rule scheduled before one of its dependencies
type UnmetDependency struct {
	RuleID    string `json:"ruleId"`
	DependsOn string `json:"dependsOn"`
}

// SortResult is an execution order plus the dependency bookkeeping of that order
type SortResult struct {
	Rules []*Rule
	Unmet []UnmetDependency
}

// Sorter orders rules by descending priority. Declared dependencies are
// tracked but not enforced: a rule whose dependency has not been scheduled
// yet still runs in priority order, and the gap is recorded in Unmet.
type Sorter struct {
	deps   map[string][]string
	logger *slog.Logger
}

// NewSorter creates a sorter with out-of-band dependencies (rule ID to the
// IDs it depends on). Each rule's DependsOn is merged in at sort time.
func NewSorter(deps map[string][]string, logger *slog.Logger) *Sorter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sorter{deps: deps, logger: logger}
}

// Sort returns rules in execution order. Equal priorities keep input order.
func (s *Sorter) Sort(ctx context.Context, rules []*Rule) SortResult {
	ordered := slices.Clone(rules)
	slices.SortStableFunc(ordered, func(a, b *Rule) int {
		return cmp.Compare(b.Priority, a.Priority)
	})

	var unmet []UnmetDependency
	visited := make(map[string]struct{}, len(ordered))
	for _, rule := range ordered {
		for _, dep := range s.dependencies(rule) {
			if _, ok := visited[dep]; ok {
				continue
			}
			unmet = append(unmet, UnmetDependency{RuleID: rule.ID, DependsOn: dep})
			s.logger.DebugContext(ctx, "Rule scheduled before its dependency",
				"rule_id", rule.ID,
				"depends_on", dep,
			)
		}
		visited[rule.ID] = struct{}{}
	}

	return SortResult{Rules: ordered, Unmet: unmet}
}

func (s *Sorter) dependencies(rule *Rule) []string {
	declared := s.deps[rule.ID]
	if len(declared) == 0 {
		return rule.DependsOn
	}
	if len(rule.DependsOn) == 0 {
		return declared
	}
	merged := slices.Concat(declared, rule.DependsOn)
	slices.Sort(merged)
	return slices.Compact(merged)
}

// DetectCycles returns every dependency cycle in deps, each as the path of
// rule IDs that closes on its first element. Used when validating rule sets.
func DetectCycles(deps map[string][]string) [][]string {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(deps))
	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		state[id] = inProgress
		stack = append(stack, id)
		for _, next := range deps[id] {
			switch state[next] {
			case unvisited:
				visit(next)
			case inProgress:
				start := slices.Index(stack, next)
				cycle := slices.Clone(stack[start:])
				cycles = append(cycles, append(cycle, next))
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return cycles
}

// RuleDependencies collects each rule's DependsOn merged with extra
func RuleDependencies(rules []*Rule, extra map[string][]string) map[string][]string {
	deps := make(map[string][]string, len(rules)+len(extra))
	for id, d := range extra {
		deps[id] = slices.Clone(d)
	}
	for _, rule := range rules {
		if len(rule.DependsOn) > 0 {
			deps[rule.ID] = append(deps[rule.ID], rule.DependsOn...)
		}
	}
	return deps
}
