package rules

import (
	"time"
)

// RuleType identifies the family of business decision a rule contributes to
type RuleType string

const (
	RuleTypePricing          RuleType = "pricing"
	RuleTypeCompliance       RuleType = "compliance"
	RuleTypeAccessControl    RuleType = "access-control"
	RuleTypeFeatureGating    RuleType = "feature-gating"
	RuleTypeContentFiltering RuleType = "content-filtering"
	RuleTypeRecommendation   RuleType = "recommendation"
)

// AllRuleTypes lists every known rule type
var AllRuleTypes = []RuleType{
	RuleTypePricing,
	RuleTypeCompliance,
	RuleTypeAccessControl,
	RuleTypeFeatureGating,
	RuleTypeContentFiltering,
	RuleTypeRecommendation,
}

// Valid reports whether t is one of the known rule types
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypePricing, RuleTypeCompliance, RuleTypeAccessControl,
		RuleTypeFeatureGating, RuleTypeContentFiltering, RuleTypeRecommendation:
		return true
	}
	return false
}

// Operator is the comparison a condition applies to a context field
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not-equals"
	OpGreaterThan Operator = "greater-than"
	OpLessThan    Operator = "less-than"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not-in"
	OpBetween     Operator = "between"
	OpRegex       Operator = "regex"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not-exists"
)

// Valid reports whether op is a supported operator
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains,
		OpIn, OpNotIn, OpBetween, OpRegex, OpExists, OpNotExists:
		return true
	}
	return false
}

// LogicalOperator controls how a condition merges into the running result
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ActionType names the effect a rule requests when it fires
type ActionType string

const (
	ActionCalculatePrice  ActionType = "calculate-price"
	ActionApplyDiscount   ActionType = "apply-discount"
	ActionSetAvailability ActionType = "set-availability"
	ActionGrantAccess     ActionType = "grant-access"
	ActionRestrictAccess  ActionType = "restrict-access"
	ActionEnableFeature   ActionType = "enable-feature"
	ActionDisableFeature  ActionType = "disable-feature"
	ActionFilterContent   ActionType = "filter-content"
	ActionRecommend       ActionType = "recommend"
	ActionLog             ActionType = "log"
	ActionNotify          ActionType = "notify"
)

// AllActionTypes lists every action type the dispatcher must handle
var AllActionTypes = []ActionType{
	ActionCalculatePrice,
	ActionApplyDiscount,
	ActionSetAvailability,
	ActionGrantAccess,
	ActionRestrictAccess,
	ActionEnableFeature,
	ActionDisableFeature,
	ActionFilterContent,
	ActionRecommend,
	ActionLog,
	ActionNotify,
}

// Valid reports whether t is a known action type
func (t ActionType) Valid() bool {
	for _, known := range AllActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Condition is a single predicate over a dot-path field of the execution context
type Condition struct {
	Field           string          `json:"field" yaml:"field"`
	Operator        Operator        `json:"operator" yaml:"operator"`
	Value           any             `json:"value,omitempty" yaml:"value,omitempty"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
	GroupID         string          `json:"groupId,omitempty" yaml:"groupId,omitempty"` // reserved
}

// Action is a typed, parameterized effect. Lower Priority runs first
type Action struct {
	Type       ActionType `json:"type" yaml:"type"`
	Parameters Parameters `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Priority   int        `json:"priority" yaml:"priority"`
}

// Metadata carries the applicability filters and authoring details of a rule
type Metadata struct {
	Region      string     `json:"region,omitempty" yaml:"region,omitempty"`
	UserSegment string     `json:"userSegment,omitempty" yaml:"userSegment,omitempty"`
	ValidFrom   *time.Time `json:"validFrom,omitempty" yaml:"validFrom,omitempty"`
	ValidTo     *time.Time `json:"validTo,omitempty" yaml:"validTo,omitempty"`
	Version     string     `json:"version,omitempty" yaml:"version,omitempty"`
	Author      string     `json:"author,omitempty" yaml:"author,omitempty"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Rule is a named, typed bundle of conditions and ordered actions.
// Rules are treated as immutable once handed to an Engine.
type Rule struct {
	ID          string
	Name        string
	Description string
	Type        RuleType
	Category    string
	Priority    int
	Enabled     bool
	Conditions  []Condition
	Actions     []Action
	Metadata    Metadata

	// Expression is an optional CEL guard that must also hold for the rule to fire
	Expression string

	// DependsOn lists rule IDs this rule expects to run after
	DependsOn []string

	// Kind holds the type-specific part of the rule, if any
	Kind KindSpec

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy of r that shares no slices or maps with it
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	c.Conditions = append([]Condition(nil), r.Conditions...)
	c.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		c.Actions[i] = Action{Type: a.Type, Priority: a.Priority, Parameters: a.Parameters.Clone()}
	}
	c.DependsOn = append([]string(nil), r.DependsOn...)
	c.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	c.Kind = cloneKind(r.Kind)
	return &c
}

// ActionResult is the outcome of dispatching one action
type ActionResult struct {
	ActionType ActionType     `json:"actionType"`
	Success    bool           `json:"success"`
	Result     any            `json:"result"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExecutionResult is the outcome of running one rule against a context
type ExecutionResult struct {
	RuleID          string           `json:"ruleId"`
	RuleName        string           `json:"ruleName"`
	RuleType        RuleType         `json:"ruleType"`
	Success         bool             `json:"success"`
	ExecutedActions []ActionResult   `json:"executedActions"`
	ExecutionTime   time.Duration    `json:"executionTimeNs"`
	Context         ExecutionContext `json:"context"`
	Error           string           `json:"error,omitempty"`
}

// RulePerformanceMetrics holds the running statistics of one rule
type RulePerformanceMetrics struct {
	ExecutionCount         int64     `json:"executionCount"`
	SuccessRate            float64   `json:"successRate"`
	AverageExecutionTimeMs float64   `json:"averageExecutionTimeMs"`
	LastExecutedAt         time.Time `json:"lastExecutedAt"`
}
