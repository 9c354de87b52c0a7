package rules

import "errors"

var (
	// ErrRuleNotFound is returned when a rule ID is unknown to a store or engine
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDuplicateRule is returned when adding a rule whose ID already exists
	ErrDuplicateRule = errors.New("rule already exists")

	// ErrMalformedRule marks rule data the engine cannot interpret
	ErrMalformedRule = errors.New("malformed rule")

	// ErrEngineClosed is returned by entry points after Close
	ErrEngineClosed = errors.New("engine is closed")
)

// ConditionsNotMet is the error text of a rule whose conditions evaluated to false
const ConditionsNotMet = "Rule conditions not met"
