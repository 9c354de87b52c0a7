package rules

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ComplianceContext describes the recipe and user being checked
type ComplianceContext struct {
	UserID      string         `json:"userId,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	Region      string         `json:"region,omitempty"`
	Language    string         `json:"language,omitempty"`
	UserProfile map[string]any `json:"userProfile,omitempty"`
	Recipe      map[string]any `json:"recipe,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ComplianceFinding is a failed compliance check
type ComplianceFinding struct {
	RuleID         string          `json:"ruleId"`
	RuleName       string          `json:"ruleName"`
	Type           ComplianceCheck `json:"type"`
	Severity       Severity        `json:"severity"`
	RegulatoryBody string          `json:"regulatoryBody,omitempty"`
	Message        string          `json:"message"`
}

// ComplianceResult is the outcome of CheckCompliance
type ComplianceResult struct {
	Compliant    bool                `json:"compliant"`
	Violations   []ComplianceFinding `json:"violations"`
	Warnings     []ComplianceFinding `json:"warnings"`
	CheckedRules []string            `json:"checkedRules"`
}

// CheckCompliance runs the check of every matching compliance rule. Failed
// checks of high or critical severity are violations, the rest warnings.
// With no applicable rules the result is compliant.
func (en *Engine) CheckCompliance(ctx context.Context, cc ComplianceContext) (*ComplianceResult, error) {
	start := time.Now()

	metadata := make(map[string]any, len(cc.Metadata)+1)
	for k, v := range cc.Metadata {
		metadata[k] = v
	}
	if cc.Recipe != nil {
		metadata["recipe"] = cc.Recipe
	}

	ec := ExecutionContext{
		UserID:          cc.UserID,
		UserProfile:     cc.UserProfile,
		Region:          cc.Region,
		Language:        cc.Language,
		SessionID:       cc.SessionID,
		RequestMetadata: metadata,
	}

	doc, matched, err := en.evaluateMatching(ctx, ec, RuleTypeCompliance)
	if err != nil {
		en.recordRun("engine.compliance", start, false)
		return nil, err
	}

	limits := en.limits.GetLimits()
	result := &ComplianceResult{
		Compliant:    true,
		Violations:   []ComplianceFinding{},
		Warnings:     []ComplianceFinding{},
		CheckedRules: []string{},
	}

	for _, rule := range matched {
		spec, ok := rule.Kind.(*ComplianceSpec)
		if !ok {
			continue
		}
		result.CheckedRules = append(result.CheckedRules, rule.ID)

		message, failed := runComplianceCheck(spec, doc, limits)
		if !failed {
			continue
		}
		severity := spec.Severity
		if severity == "" {
			severity = SeverityMedium
		}
		finding := ComplianceFinding{
			RuleID:         rule.ID,
			RuleName:       rule.Name,
			Type:           spec.Check,
			Severity:       severity,
			RegulatoryBody: spec.RegulatoryBody,
			Message:        message,
		}
		if severity == SeverityHigh || severity == SeverityCritical {
			result.Violations = append(result.Violations, finding)
		} else {
			result.Warnings = append(result.Warnings, finding)
		}
	}
	result.Compliant = len(result.Violations) == 0

	if !result.Compliant {
		en.logger.InfoContext(ctx, "Compliance violations found",
			"violations", len(result.Violations),
			"region", cc.Region,
		)
	}
	en.recordRun("engine.compliance", start, true)
	return result, nil
}

// runComplianceCheck returns a message and true when the check fails
func runComplianceCheck(spec *ComplianceSpec, doc *Document, limits Limits) (string, bool) {
	req := spec.Requirements
	switch spec.Check {
	case CheckAgeRestriction:
		minAge := float64(limits.AgeRestriction)
		if v, ok := req.Float("minAge"); ok {
			minAge = v
		}
		age, ok := doc.Float("userProfile.age")
		if !ok {
			return fmt.Sprintf("Age verification required: minimum age is %g", minAge), true
		}
		if age < minAge {
			return fmt.Sprintf("User age %g is below the minimum age of %g", age, minAge), true
		}

	case CheckCaffeineLimit:
		limit := limits.Caffeine.MaxPerServingMg
		if v, ok := req.Float("maxPerServingMg"); ok {
			limit = v
		}
		caffeine, ok := doc.Float("recipe.caffeineMg")
		if ok && limit > 0 && caffeine > limit {
			return fmt.Sprintf("Caffeine content %gmg exceeds the limit of %gmg per serving", caffeine, limit), true
		}

	case CheckBannedIngredients:
		banned := make(map[string]struct{})
		for _, name := range append(req.Strings("bannedIngredients"), limits.BannedIngredients...) {
			banned[strings.ToLower(name)] = struct{}{}
		}
		raw, _ := doc.Lookup("recipe.ingredients")
		var found []string
		for _, ingredient := range ingredientNames(raw) {
			if _, ok := banned[strings.ToLower(ingredient)]; ok {
				found = append(found, ingredient)
			}
		}
		if len(found) > 0 {
			return fmt.Sprintf("Recipe contains banned ingredients: %s", strings.Join(found, ", ")), true
		}

	case CheckDisclosure:
		field, _ := req.String("field")
		if field == "" {
			return "", false
		}
		v, ok := doc.Lookup(field)
		if disclosed, _ := v.(bool); !ok || !disclosed {
			return fmt.Sprintf("Required disclosure %s is missing", field), true
		}
	}
	return "", false
}

// ingredientNames accepts either a list of names or a list of objects with
// a name field
func ingredientNames(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			names = append(names, v)
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}
