package multitenantengine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/ruleengine/rules"
)

const (
	maxRulesPerTenant = 1000
	maxIdentifierLen  = 100
)

var ruleIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateRuleSet checks a tenant's rules before an engine built from them
// is allowed to serve. Every problem found is reported.
func ValidateRuleSet(ruleSet []*rules.Rule) error {
	if len(ruleSet) > maxRulesPerTenant {
		return fmt.Errorf("rule set contains %d rules, maximum allowed is %d", len(ruleSet), maxRulesPerTenant)
	}

	env, err := rules.NewGuardEnv()
	if err != nil {
		return err
	}

	var errs []error
	seen := make(map[string]struct{}, len(ruleSet))
	for _, r := range ruleSet {
		if err := validateRuleID(r.ID); err != nil {
			errs = append(errs, fmt.Errorf("invalid rule id %q: %w", r.ID, err))
		}
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", rules.ErrDuplicateRule, r.ID))
		}
		seen[r.ID] = struct{}{}

		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
		if r.Expression != "" {
			if _, err := rules.CompileGuard(env, r.Expression); err != nil {
				errs = append(errs, fmt.Errorf("rule %s expression: %w", r.ID, err))
			}
		}
	}

	for _, cycle := range rules.DetectCycles(rules.RuleDependencies(ruleSet, nil)) {
		errs = append(errs, fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> ")))
	}

	return errors.Join(errs...)
}

// validateRuleID checks a rule ID is a 1-100 character slug
func validateRuleID(id string) error {
	if len(id) == 0 {
		return errors.New("identifier cannot be empty")
	}
	if len(id) > maxIdentifierLen {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(id), maxIdentifierLen)
	}
	if !ruleIDPattern.MatchString(id) {
		return fmt.Errorf("must match pattern %s", ruleIDPattern)
	}
	return nil
}
