package rules

import (
	"context"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// PricingContext describes the item being priced
type PricingContext struct {
	ProductID string         `json:"productId,omitempty"`
	BaseCost  float64        `json:"baseCost"`
	Quantity  float64        `json:"quantity,omitempty"`
	Currency  string         `json:"currency,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Region    string         `json:"region,omitempty"`
	Language  string         `json:"language,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PriceAdjustment is one step of the running price
type PriceAdjustment struct {
	RuleID     string  `json:"ruleId"`
	RuleName   string  `json:"ruleName"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
	Delta      float64 `json:"delta"`
	PriceAfter float64 `json:"priceAfter"`
}

// PricingResult is the outcome of CalculatePricing
type PricingResult struct {
	BasePrice    float64           `json:"basePrice"`
	Adjustments  []PriceAdjustment `json:"adjustments"`
	TotalPrice   float64           `json:"totalPrice"`
	Currency     string            `json:"currency"`
	AppliedRules []string          `json:"appliedRules"`
}

const defaultCurrency = "USD"

// CalculatePricing runs the matching pricing rules over a running price.
// Each calculate-price and apply-discount action transforms the price left
// by the previous one; the total never drops below zero.
func (en *Engine) CalculatePricing(ctx context.Context, pc PricingContext, userProfile map[string]any) (*PricingResult, error) {
	start := time.Now()

	metadata := maps.Clone(pc.Metadata)
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["basePrice"] = pc.BaseCost
	metadata["baseCost"] = pc.BaseCost
	if pc.Quantity > 0 {
		metadata["quantity"] = pc.Quantity
	}
	if pc.ProductID != "" {
		metadata["productId"] = pc.ProductID
	}

	ec := ExecutionContext{
		UserID:          pc.UserID,
		UserProfile:     userProfile,
		Region:          pc.Region,
		Language:        pc.Language,
		SessionID:       pc.SessionID,
		RequestMetadata: metadata,
	}

	_, matched, err := en.evaluateMatching(ctx, ec, RuleTypePricing)
	if err != nil {
		en.recordRun("engine.pricing", start, false)
		return nil, err
	}

	base := decimal.NewFromFloat(pc.BaseCost)
	price := base
	result := &PricingResult{
		BasePrice:    roundMoney(base),
		Adjustments:  []PriceAdjustment{},
		Currency:     pc.Currency,
		AppliedRules: []string{},
	}

	for _, rule := range matched {
		spec, _ := rule.Kind.(*PricingSpec)
		if result.Currency == "" && spec != nil {
			result.Currency = spec.Currency
		}

		applied := false
		for _, action := range orderedActions(rule.Actions) {
			adj, next, ok := en.priceAction(ctx, rule, spec, action, price, pc.Quantity)
			if !ok {
				continue
			}
			price = next
			result.Adjustments = append(result.Adjustments, adj)
			applied = true
		}
		if applied {
			result.AppliedRules = append(result.AppliedRules, rule.ID)
		}
	}

	if result.Currency == "" {
		result.Currency = defaultCurrency
	}
	result.TotalPrice = roundMoney(price)

	en.recordRun("engine.pricing", start, true)
	return result, nil
}

// priceAction applies one pricing action to price. ok is false for actions
// that do not change the price or whose parameters are unusable.
func (en *Engine) priceAction(ctx context.Context, rule *Rule, spec *PricingSpec, action Action, price decimal.Decimal, quantity float64) (PriceAdjustment, decimal.Decimal, bool) {
	params := action.Parameters
	adj := PriceAdjustment{RuleID: rule.ID, RuleName: rule.Name}
	var next decimal.Decimal

	switch action.Type {
	case ActionCalculatePrice:
		model := PricingModel(params.StringOr("model", params.StringOr("type", "")))
		if model == "" && spec != nil {
			model = spec.Model
		}
		lookup := price
		if quantity > 0 {
			lookup = decimal.NewFromFloat(quantity)
		}
		step, ok, err := applyPricingModel(model, params, price, lookup)
		if err != nil {
			en.logger.WarnContext(ctx, "Skipping pricing action", "rule_id", rule.ID, "error", err)
			return adj, price, false
		}
		if !ok {
			return adj, price, false
		}
		adj.Type = string(model)
		adj.Amount = step.amount.InexactFloat64()
		next = step.price

	case ActionApplyDiscount:
		kind := params.StringOr("type", "percentage")
		off, err := discountAmount(kind, params, price)
		if err != nil {
			en.logger.WarnContext(ctx, "Skipping discount action", "rule_id", rule.ID, "error", err)
			return adj, price, false
		}
		value, _ := params.Float("value")
		adj.Type = "discount-" + kind
		adj.Amount = value
		next = price.Sub(off)

	default:
		return adj, price, false
	}

	if next.IsNegative() {
		next = decimal.Zero
	}
	adj.Delta = roundMoney(next.Sub(price))
	adj.PriceAfter = roundMoney(next)
	return adj, next, true
}
