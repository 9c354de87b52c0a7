package rules

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// AccessContext describes who is asking for what
type AccessContext struct {
	UserID      string         `json:"userId,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	Region      string         `json:"region,omitempty"`
	Language    string         `json:"language,omitempty"`
	UserProfile map[string]any `json:"userProfile,omitempty"`
	Resource    string         `json:"resource,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AccessResult is the outcome of CheckAccess
type AccessResult struct {
	Allowed      bool     `json:"allowed"`
	AccessLevel  string   `json:"accessLevel"`
	Permissions  []string `json:"permissions"`
	Restrictions []string `json:"restrictions"`
	Reasons      []string `json:"reasons"`
}

// accessTiers ranks subscription levels. Unknown required levels rank above
// every tier so that a typo never grants access.
var accessTiers = map[string]int{
	"free":       0,
	"basic":      1,
	"premium":    2,
	"enterprise": 3,
}

// TierRank returns the rank of an access level and whether it is known
func TierRank(level string) (int, bool) {
	rank, ok := accessTiers[strings.ToLower(level)]
	return rank, ok
}

func requiredRank(level string) int {
	if rank, ok := TierRank(level); ok {
		return rank
	}
	return len(accessTiers)
}

// CheckAccess unions the permissions of every matching access rule the
// user's subscription tier satisfies. Any restriction denies access, and a
// requested resource must be among the granted permissions.
func (en *Engine) CheckAccess(ctx context.Context, ac AccessContext) (*AccessResult, error) {
	start := time.Now()

	metadata := make(map[string]any, len(ac.Metadata)+1)
	for k, v := range ac.Metadata {
		metadata[k] = v
	}
	if ac.Resource != "" {
		metadata["resource"] = ac.Resource
	}

	ec := ExecutionContext{
		UserID:          ac.UserID,
		UserProfile:     ac.UserProfile,
		Region:          ac.Region,
		Language:        ac.Language,
		SessionID:       ac.SessionID,
		RequestMetadata: metadata,
	}

	doc, matched, err := en.evaluateMatching(ctx, ec, RuleTypeAccessControl)
	if err != nil {
		en.recordRun("engine.access", start, false)
		return nil, err
	}

	tier, _ := doc.String("userProfile.subscriptionTier")
	tier = strings.ToLower(tier)
	userRank, known := TierRank(tier)
	if !known {
		tier = "free"
	}

	granted := make(map[string]struct{})
	var restrictions, reasons []string

	for _, rule := range matched {
		if spec, ok := rule.Kind.(*AccessSpec); ok {
			restrictions = append(restrictions, spec.Restrictions...)
			if len(spec.Restrictions) > 0 {
				reasons = append(reasons, fmt.Sprintf("%s: restricted", rule.ID))
			}
			if requiredRank(spec.AccessLevel) > userRank {
				reasons = append(reasons, fmt.Sprintf("%s: requires %s access", rule.ID, spec.AccessLevel))
				continue
			}
			for _, p := range spec.Permissions {
				granted[p] = struct{}{}
			}
		}

		for _, action := range orderedActions(rule.Actions) {
			switch action.Type {
			case ActionGrantAccess:
				grant := parseAccessGrant(action.Parameters)
				if grant.AccessLevel != "" && requiredRank(grant.AccessLevel) > userRank {
					continue
				}
				for _, p := range grant.Permissions {
					granted[p] = struct{}{}
				}
			case ActionRestrictAccess:
				restriction := parseAccessRestriction(action.Parameters)
				restrictions = append(restrictions, restriction.Restrictions...)
				if restriction.Reason != "" {
					reasons = append(reasons, restriction.Reason)
				}
			}
		}
	}

	permissions := make([]string, 0, len(granted))
	for p := range granted {
		permissions = append(permissions, p)
	}
	slices.Sort(permissions)
	slices.Sort(restrictions)
	restrictions = slices.Compact(restrictions)

	result := &AccessResult{
		AccessLevel:  tier,
		Permissions:  permissions,
		Restrictions: restrictions,
		Reasons:      reasons,
	}
	if result.Restrictions == nil {
		result.Restrictions = []string{}
	}
	if result.Reasons == nil {
		result.Reasons = []string{}
	}

	switch {
	case len(result.Restrictions) > 0:
		result.Allowed = false
	case ac.Resource != "":
		result.Allowed = slices.Contains(permissions, ac.Resource)
		if !result.Allowed {
			result.Reasons = append(result.Reasons, fmt.Sprintf("no permission for %s", ac.Resource))
		}
	default:
		result.Allowed = len(permissions) > 0
		if !result.Allowed {
			result.Reasons = append(result.Reasons, "no access rule granted permissions")
		}
	}

	en.recordRun("engine.access", start, true)
	return result, nil
}
