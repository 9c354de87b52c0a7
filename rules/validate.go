package rules

import (
	"errors"
	"fmt"
	"regexp"
)

// Validate checks a rule for data the engine would otherwise silently treat
// as false at evaluation time. All problems are reported together.
func (r *Rule) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if r.ID == "" {
		add("id is required")
	}
	if r.Name == "" {
		add("name is required")
	}
	if !r.Type.Valid() {
		add("unknown rule type %q", r.Type)
	}
	if err := r.checkKind(); err != nil {
		errs = append(errs, err)
	}

	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			add("condition %d: %w", i, err)
		}
	}
	for i, a := range r.Actions {
		if !a.Type.Valid() {
			add("action %d: unknown action type %q", i, a.Type)
		}
		if path, bad := nonFinite(map[string]any(a.Parameters)); bad {
			add("action %d: parameter %s is not a finite number", i, path[1:])
		}
	}

	if from, to := r.Metadata.ValidFrom, r.Metadata.ValidTo; from != nil && to != nil && from.After(*to) {
		add("validFrom is after validTo")
	}

	switch spec := r.Kind.(type) {
	case *PricingSpec:
		switch spec.Model {
		case PricingFixed, PricingPercentage, PricingTiered:
		default:
			add("unknown pricing model %q", spec.Model)
		}
	case *ComplianceSpec:
		switch spec.Check {
		case CheckAgeRestriction, CheckCaffeineLimit, CheckBannedIngredients, CheckDisclosure:
		default:
			add("unknown compliance check %q", spec.Check)
		}
		switch spec.Severity {
		case "", SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		default:
			add("unknown severity %q", spec.Severity)
		}
		if path, bad := nonFinite(map[string]any(spec.Requirements)); bad {
			add("requirement %s is not a finite number", path[1:])
		}
	case *AccessSpec:
		if _, ok := TierRank(spec.AccessLevel); !ok {
			add("unknown access level %q", spec.AccessLevel)
		}
	case *GatingSpec:
		if spec.Feature == "" {
			add("gating feature is required")
		}
		switch spec.Strategy {
		case GatingBoolean, GatingUserSegment, GatingWhitelist, GatingRegion:
		case GatingPercentage:
			if spec.RolloutPercentage < 0 || spec.RolloutPercentage > 100 {
				add("rolloutPercentage %g is outside [0, 100]", spec.RolloutPercentage)
			}
		default:
			add("unknown gating strategy %q", spec.Strategy)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: rule %s: %w", ErrMalformedRule, r.ID, errors.Join(errs...))
}

// Validate checks that the operator is known and its value has the shape
// the operator needs
func (c Condition) Validate() error {
	if c.Field == "" {
		return errors.New("field is required")
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	switch c.LogicalOperator {
	case "", LogicalAnd, LogicalOr:
	default:
		return fmt.Errorf("unknown logical operator %q", c.LogicalOperator)
	}

	if path, bad := nonFinite(c.Value); bad {
		return fmt.Errorf("value%s is not a finite number", path)
	}

	value := normalizeValue(c.Value)
	switch c.Operator {
	case OpIn, OpNotIn:
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("%s requires an array value", c.Operator)
		}
	case OpBetween:
		pair, ok := value.([]any)
		if !ok || len(pair) != 2 {
			return errors.New("between requires a [lower, upper] pair")
		}
		order, ok := compareValues(pair[0], pair[1])
		if !ok {
			return errors.New("between bounds must both be numbers or both be strings")
		}
		if order > 0 {
			return errors.New("between lower bound exceeds upper bound")
		}
	case OpRegex:
		pattern, ok := value.(string)
		if !ok {
			return errors.New("regex requires a string pattern")
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
	case OpGreaterThan, OpLessThan:
		switch value.(type) {
		case float64, string:
		default:
			return fmt.Errorf("%s requires a number or string value", c.Operator)
		}
	}
	return nil
}
