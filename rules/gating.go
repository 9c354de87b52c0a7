package rules

import (
	"context"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"
)

// FeatureContext names the feature being evaluated for a user
type FeatureContext struct {
	Feature     string         `json:"feature"`
	UserID      string         `json:"userId,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	Region      string         `json:"region,omitempty"`
	Language    string         `json:"language,omitempty"`
	UserProfile map[string]any `json:"userProfile,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// GatingResult is the outcome of EvaluateFeatureGating
type GatingResult struct {
	Feature  string         `json:"feature"`
	Enabled  bool           `json:"enabled"`
	RuleID   string         `json:"ruleId,omitempty"`
	Strategy GatingStrategy `json:"strategy,omitempty"`
	Reason   string         `json:"reason"`
}

// NoGatingRule is the reason given when no rule decides a feature
const NoGatingRule = "No gating rule found"

// RolloutBucket maps a user onto [0, 100) for a feature. The same pair
// always lands in the same bucket.
func RolloutBucket(feature, userID string) uint64 {
	return xxhash.Sum64String(feature+":"+userID) % 100
}

// EvaluateFeatureGating returns the decision of the first matching rule
// whose strategy gives a definite answer for fc.Feature.
func (en *Engine) EvaluateFeatureGating(ctx context.Context, fc FeatureContext) (*GatingResult, error) {
	start := time.Now()

	metadata := make(map[string]any, len(fc.Metadata)+1)
	for k, v := range fc.Metadata {
		metadata[k] = v
	}
	metadata["feature"] = fc.Feature

	ec := ExecutionContext{
		UserID:          fc.UserID,
		UserProfile:     fc.UserProfile,
		Region:          fc.Region,
		Language:        fc.Language,
		SessionID:       fc.SessionID,
		RequestMetadata: metadata,
	}

	doc, matched, err := en.evaluateMatching(ctx, ec, RuleTypeFeatureGating)
	if err != nil {
		en.recordRun("engine.features", start, false)
		return nil, err
	}

	subject := fc.UserID
	if subject == "" {
		subject = fc.SessionID
	}
	segment, _ := doc.String("userProfile.segment")

	result := &GatingResult{Feature: fc.Feature, Reason: NoGatingRule}
	for _, rule := range matched {
		if spec, ok := rule.Kind.(*GatingSpec); ok && spec.Feature == fc.Feature {
			enabled, reason, definite := decideGate(spec, subject, segment, fc.Region)
			if definite {
				result.Enabled = enabled
				result.RuleID = rule.ID
				result.Strategy = spec.Strategy
				result.Reason = reason
				break
			}
		}

		if enabled, ok := toggleFromActions(rule, fc.Feature); ok {
			result.Enabled = enabled
			result.RuleID = rule.ID
			result.Strategy = ""
			result.Reason = "feature toggled by rule action"
			break
		}
	}

	en.recordRun("engine.features", start, true)
	return result, nil
}

func decideGate(spec *GatingSpec, subject, segment, region string) (enabled bool, reason string, definite bool) {
	switch spec.Strategy {
	case GatingBoolean:
		return spec.Enabled, "boolean flag", true
	case GatingPercentage:
		in := float64(RolloutBucket(spec.Feature, subject)) < spec.RolloutPercentage
		return in, "percentage rollout", true
	case GatingUserSegment:
		if segment != "" && slices.Contains(spec.TargetSegments, segment) {
			return true, "user segment " + segment, true
		}
	case GatingWhitelist:
		if subject != "" && slices.Contains(spec.TargetUsers, subject) {
			return true, "user whitelisted", true
		}
	case GatingRegion:
		if region != "" && slices.Contains(spec.TargetRegions, region) {
			return true, "region " + region, true
		}
	}
	return false, "", false
}

func toggleFromActions(rule *Rule, feature string) (bool, bool) {
	for _, action := range orderedActions(rule.Actions) {
		if action.Type != ActionEnableFeature && action.Type != ActionDisableFeature {
			continue
		}
		if name, _ := action.Parameters.String("feature"); name == feature {
			return action.Type == ActionEnableFeature, true
		}
	}
	return false, false
}
