package rules

import (
	"cmp"
	"context"
	"slices"
	"time"
)

// ContentItem is a piece of content subject to filtering and recommendation
type ContentItem struct {
	ID        string   `json:"id"`
	Title     string   `json:"title,omitempty"`
	Category  string   `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	AgeRating float64  `json:"ageRating,omitempty"`
}

// ContentContext carries the candidate items for a user
type ContentContext struct {
	UserID      string         `json:"userId,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	Region      string         `json:"region,omitempty"`
	Language    string         `json:"language,omitempty"`
	UserProfile map[string]any `json:"userProfile,omitempty"`
	Items       []ContentItem  `json:"items"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// FilteredItem is an item removed by a content-filtering rule
type FilteredItem struct {
	Item   ContentItem `json:"item"`
	RuleID string      `json:"ruleId"`
	Reason string      `json:"reason"`
}

// ScoredItem is a recommended item
type ScoredItem struct {
	Item    ContentItem `json:"item"`
	Score   float64     `json:"score"`
	RuleIDs []string    `json:"ruleIds"`
}

// ContentResult is the outcome of FilterAndRecommendContent
type ContentResult struct {
	Items           []ContentItem  `json:"items"`
	Filtered        []FilteredItem `json:"filtered"`
	Recommendations []ScoredItem   `json:"recommendations"`
}

// FilterAndRecommendContent removes items excluded by matching
// content-filtering rules, then scores the rest against matching
// recommendation rules. Recommendations are ordered by score and cut to the
// smallest limit any rule asked for.
func (en *Engine) FilterAndRecommendContent(ctx context.Context, cc ContentContext) (*ContentResult, error) {
	start := time.Now()

	metadata := make(map[string]any, len(cc.Metadata)+1)
	for k, v := range cc.Metadata {
		metadata[k] = v
	}
	metadata["itemCount"] = len(cc.Items)

	ec := ExecutionContext{
		UserID:          cc.UserID,
		UserProfile:     cc.UserProfile,
		Region:          cc.Region,
		Language:        cc.Language,
		SessionID:       cc.SessionID,
		RequestMetadata: metadata,
	}

	_, matched, err := en.evaluateMatching(ctx, ec, RuleTypeContentFiltering, RuleTypeRecommendation)
	if err != nil {
		en.recordRun("engine.content", start, false)
		return nil, err
	}

	result := &ContentResult{
		Items:           slices.Clone(cc.Items),
		Filtered:        []FilteredItem{},
		Recommendations: []ScoredItem{},
	}
	if result.Items == nil {
		result.Items = []ContentItem{}
	}

	for _, rule := range matched {
		if rule.Type != RuleTypeContentFiltering {
			continue
		}
		for _, action := range orderedActions(rule.Actions) {
			if action.Type != ActionFilterContent {
				continue
			}
			filter := parseContentFilter(action.Parameters)
			kept := result.Items[:0:0]
			for _, item := range result.Items {
				if reason, excluded := filter.excludes(item); excluded {
					result.Filtered = append(result.Filtered, FilteredItem{Item: item, RuleID: rule.ID, Reason: reason})
					continue
				}
				kept = append(kept, item)
			}
			result.Items = kept
		}
	}

	// Keyed by position; item IDs are optional and may repeat
	scores := make([]*ScoredItem, len(result.Items))
	limit := 0
	for _, rule := range matched {
		if rule.Type != RuleTypeRecommendation {
			continue
		}
		for _, action := range orderedActions(rule.Actions) {
			if action.Type != ActionRecommend {
				continue
			}
			criteria := parseRecommendation(action.Parameters)
			if criteria.Limit > 0 && (limit == 0 || criteria.Limit < limit) {
				limit = criteria.Limit
			}
			for i, item := range result.Items {
				score := criteria.score(item)
				if score <= 0 {
					continue
				}
				entry := scores[i]
				if entry == nil {
					entry = &ScoredItem{Item: item}
					scores[i] = entry
				}
				entry.Score += score
				if !slices.Contains(entry.RuleIDs, rule.ID) {
					entry.RuleIDs = append(entry.RuleIDs, rule.ID)
				}
			}
		}
	}

	for _, entry := range scores {
		if entry != nil {
			result.Recommendations = append(result.Recommendations, *entry)
		}
	}
	slices.SortStableFunc(result.Recommendations, func(a, b ScoredItem) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if limit > 0 && len(result.Recommendations) > limit {
		result.Recommendations = result.Recommendations[:limit]
	}

	en.recordRun("engine.content", start, true)
	return result, nil
}

func (f ContentFilter) excludes(item ContentItem) (string, bool) {
	for _, tag := range item.Tags {
		if slices.Contains(f.ExcludeTags, tag) {
			return "excluded tag " + tag, true
		}
	}
	if item.Category != "" && slices.Contains(f.ExcludeCategories, item.Category) {
		return "excluded category " + item.Category, true
	}
	if f.MaxAgeRating != nil && item.AgeRating > *f.MaxAgeRating {
		return "age rating above limit", true
	}
	return "", false
}

func (rc RecommendationCriteria) score(item ContentItem) float64 {
	overlap := 0
	for _, tag := range item.Tags {
		if slices.Contains(rc.Tags, tag) {
			overlap++
		}
	}
	if item.Category != "" && slices.Contains(rc.Categories, item.Category) {
		overlap++
	}
	return float64(overlap) * rc.Boost
}
