package multitenantengine

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/liamcoop/ruleengine/rules"
)

func validRule(id string) *rules.Rule {
	return &rules.Rule{
		ID:      id,
		Name:    "Rule " + id,
		Type:    rules.RuleTypeCompliance,
		Enabled: true,
		Conditions: []rules.Condition{
			{Field: "userProfile.age", Operator: rules.OpGreaterThan, Value: 17},
		},
		Actions: []rules.Action{
			{Type: rules.ActionLog, Parameters: rules.Parameters{"message": id}},
		},
	}
}

func TestValidateRuleSet_Valid(t *testing.T) {
	defaults, err := rules.DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules() failed: %v", err)
	}
	if err := ValidateRuleSet(defaults); err != nil {
		t.Errorf("default rule set should be valid, got: %v", err)
	}

	if err := ValidateRuleSet(nil); err != nil {
		t.Errorf("empty rule set should be valid, got: %v", err)
	}
}

func TestValidateRuleSet_DuplicateIDs(t *testing.T) {
	err := ValidateRuleSet([]*rules.Rule{validRule("a"), validRule("a")})
	if !errors.Is(err, rules.ErrDuplicateRule) {
		t.Errorf("Expected ErrDuplicateRule, got: %v", err)
	}
}

func TestValidateRuleSet_InvalidRule(t *testing.T) {
	bad := validRule("bad")
	bad.Conditions[0].Operator = "approximately"

	err := ValidateRuleSet([]*rules.Rule{bad})
	if !errors.Is(err, rules.ErrMalformedRule) {
		t.Errorf("Expected ErrMalformedRule, got: %v", err)
	}
}

func TestValidateRuleSet_Expression(t *testing.T) {
	testCases := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{"Simple boolean", `true`, false},
		{"Profile access", `userProfile.age >= 18`, false},
		{"Request metadata", `request.quantity > 10 && region == "EU"`, false},
		{"Syntax error", `userProfile.age >=`, true},
		{"Undefined variable", `Transaction.Amount > 0`, true},
		{"Mismatched parens", `(userProfile.age >= 18`, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRule("guarded")
			r.Expression = tc.expression
			err := ValidateRuleSet([]*rules.Rule{r})
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateRuleSet() with %q error = %v, wantErr %v", tc.expression, err, tc.wantErr)
			}
		})
	}
}

func TestValidateRuleSet_DependencyCycle(t *testing.T) {
	a := validRule("a")
	a.DependsOn = []string{"b"}
	b := validRule("b")
	b.DependsOn = []string{"a"}

	err := ValidateRuleSet([]*rules.Rule{a, b})
	if err == nil {
		t.Fatal("Expected error for dependency cycle, got nil")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("Expected error message about a cycle, got: %v", err)
	}

	// A dependency on a rule outside the set is tolerated
	c := validRule("c")
	c.DependsOn = []string{"elsewhere"}
	if err := ValidateRuleSet([]*rules.Rule{c}); err != nil {
		t.Errorf("unknown dependency should not fail validation, got: %v", err)
	}
}

func TestValidateRuleSet_ReportsEveryProblem(t *testing.T) {
	first := validRule("first")
	first.Name = ""
	second := validRule("second")
	second.Expression = `nope(`

	err := ValidateRuleSet([]*rules.Rule{first, second})
	if err == nil {
		t.Fatal("Expected errors, got nil")
	}
	if !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "second") {
		t.Errorf("Expected both rules to be reported, got: %v", err)
	}
}

func TestValidateRuleSet_TooManyRules(t *testing.T) {
	ruleSet := make([]*rules.Rule, maxRulesPerTenant+1)
	for i := range ruleSet {
		ruleSet[i] = validRule(fmt.Sprintf("rule-%d", i))
	}

	err := ValidateRuleSet(ruleSet)
	if err == nil || !strings.Contains(err.Error(), "maximum") {
		t.Errorf("Expected error about the rule limit, got: %v", err)
	}
}

func TestValidateRuleID(t *testing.T) {
	testCases := []struct {
		id      string
		wantErr bool
	}{
		{"premium-discount", false},
		{"eu_vat.v2", false},
		{"Rule42", false},
		{"", true},
		{"-leading-dash", true},
		{"has space", true},
		{"semi;colon", true},
		{strings.Repeat("a", maxIdentifierLen), false},
		{strings.Repeat("a", maxIdentifierLen+1), true},
	}

	for _, tc := range testCases {
		t.Run(tc.id, func(t *testing.T) {
			err := validateRuleID(tc.id)
			if (err != nil) != tc.wantErr {
				t.Errorf("validateRuleID(%q) error = %v, wantErr %v", tc.id, err, tc.wantErr)
			}
		})
	}
}

func BenchmarkValidateRuleSet(b *testing.B) {
	defaults, err := rules.DefaultRules()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ValidateRuleSet(defaults)
	}
}
