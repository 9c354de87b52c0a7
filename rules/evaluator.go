package rules

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Evaluator applies conditions to documents. It caches compiled regex
// patterns, so one Evaluator should be shared by the rules of an engine.
// The zero value is ready to use.
type Evaluator struct {
	// nil entry marks a pattern that failed to compile
	patterns sync.Map
}

// NewEvaluator returns an Evaluator with an empty pattern cache
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// EvaluateConditions reduces conds with a throwaway Evaluator
func EvaluateConditions(conds []Condition, doc *Document) bool {
	return new(Evaluator).Conditions(conds, doc)
}

// EvaluateCondition applies cond with a throwaway Evaluator
func EvaluateCondition(cond Condition, doc *Document) bool {
	return new(Evaluator).Condition(cond, doc)
}

// Conditions reduces conds left to right starting from true. A condition
// whose LogicalOperator is OR merges into the running result with ||, every
// other condition with &&. An empty list is true.
func (ev *Evaluator) Conditions(conds []Condition, doc *Document) bool {
	acc := true
	for _, cond := range conds {
		result := ev.Condition(cond, doc)
		if cond.LogicalOperator == LogicalOr {
			acc = acc || result
		} else {
			acc = acc && result
		}
	}
	return acc
}

// Condition applies one predicate to the field it names. It never panics;
// operands of the wrong shape make it false.
func (ev *Evaluator) Condition(cond Condition, doc *Document) bool {
	actual, present := doc.Lookup(cond.Field)
	expected := normalizeValue(cond.Value)

	switch cond.Operator {
	case OpEquals:
		return present && strictEqual(actual, expected)
	case OpNotEquals:
		return !(present && strictEqual(actual, expected))
	case OpGreaterThan:
		c, ok := compareValues(actual, expected)
		return present && ok && c > 0
	case OpLessThan:
		c, ok := compareValues(actual, expected)
		return present && ok && c < 0
	case OpContains:
		if !present || actual == nil {
			return false
		}
		return strings.Contains(stringify(actual), stringify(expected))
	case OpIn:
		list, ok := expected.([]any)
		return ok && present && member(actual, list)
	case OpNotIn:
		list, ok := expected.([]any)
		return ok && !(present && member(actual, list))
	case OpBetween:
		return present && evaluateBetween(actual, expected)
	case OpRegex:
		if !present || actual == nil {
			return false
		}
		pattern, ok := expected.(string)
		if !ok {
			return false
		}
		re := ev.compilePattern(pattern)
		return re != nil && re.MatchString(stringify(actual))
	case OpExists:
		return present && actual != nil
	case OpNotExists:
		return !present || actual == nil
	}
	return false
}

func evaluateBetween(actual, expected any) bool {
	bounds, ok := expected.([]any)
	if !ok || len(bounds) != 2 {
		return false
	}
	lo, ok := compareValues(actual, bounds[0])
	if !ok || lo < 0 {
		return false
	}
	hi, ok := compareValues(actual, bounds[1])
	return ok && hi <= 0
}

func member(actual any, list []any) bool {
	for _, item := range list {
		if strictEqual(actual, item) {
			return true
		}
	}
	return false
}

func (ev *Evaluator) compilePattern(pattern string) *regexp.Regexp {
	if cached, ok := ev.patterns.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	ev.patterns.Store(pattern, re)
	return re
}

// normalizeValue maps numbers to float64 and lists to []any so that values
// decoded from YAML, JSON and Go literals compare alike.
func normalizeValue(v any) any {
	if v == nil {
		return nil
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	switch x := v.(type) {
	case string, bool:
		return x
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		return x
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func strictEqual(a, b any) bool {
	a, b = normalizeValue(a), normalizeValue(b)
	switch x := a.(type) {
	case nil:
		return b == nil
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two numbers or two strings. Any other pairing is
// not comparable.
func compareValues(a, b any) (int, bool) {
	a, b = normalizeValue(a), normalizeValue(b)
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

func stringify(v any) string {
	switch x := normalizeValue(v).(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ",")
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
