package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceTier maps an inclusive [Min, Max] quantity band to a price. A nil
// Max leaves the band open-ended.
type PriceTier struct {
	Min   float64  `json:"min"`
	Max   *float64 `json:"max,omitempty"`
	Price float64  `json:"price"`
}

func (t PriceTier) contains(v decimal.Decimal) bool {
	if v.LessThan(decimal.NewFromFloat(t.Min)) {
		return false
	}
	return t.Max == nil || v.LessThanOrEqual(decimal.NewFromFloat(*t.Max))
}

// priceStep is one pricing transformation: the new price and the declared
// amount (percentage, fixed amount or tier price) that produced it.
type priceStep struct {
	price  decimal.Decimal
	amount decimal.Decimal
}

// applyPricingModel transforms price according to model and params. For the
// tiered model, lookup selects the tier; ok is false when no tier matches.
func applyPricingModel(model PricingModel, params Parameters, price, lookup decimal.Decimal) (step priceStep, ok bool, err error) {
	switch model {
	case PricingFixed:
		amount, found := firstDecimal(params, "fixedAmount", "value")
		if !found {
			return step, false, fmt.Errorf("fixed pricing requires fixedAmount")
		}
		return priceStep{price: price.Add(amount), amount: amount}, true, nil

	case PricingPercentage:
		pct, found := firstDecimal(params, "percentage", "value")
		if !found {
			return step, false, fmt.Errorf("percentage pricing requires percentage")
		}
		factor := decimal.NewFromInt(1).Add(pct.Div(decimal.NewFromInt(100)))
		return priceStep{price: price.Mul(factor), amount: pct}, true, nil

	case PricingTiered:
		tiers, err := parseTiers(params)
		if err != nil {
			return step, false, err
		}
		for _, tier := range tiers {
			if tier.contains(lookup) {
				p := decimal.NewFromFloat(tier.Price)
				return priceStep{price: p, amount: p}, true, nil
			}
		}
		return priceStep{price: price}, false, nil
	}
	return step, false, fmt.Errorf("unsupported pricing model %q", model)
}

func parseTiers(params Parameters) ([]PriceTier, error) {
	raw, ok := params.Slice("tiers")
	if !ok {
		return nil, fmt.Errorf("tiered pricing requires tiers")
	}
	tiers := make([]PriceTier, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tier %d is not an object", i)
		}
		p := Parameters(m)
		lo, okMin := p.Float("min")
		price, okPrice := p.Float("price")
		if !okMin || !okPrice {
			return nil, fmt.Errorf("tier %d requires min and price", i)
		}
		tier := PriceTier{Min: lo, Price: price}
		if hi, ok := p.Float("max"); ok {
			tier.Max = &hi
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

// discountAmount is the amount an apply-discount action takes off base
func discountAmount(kind string, params Parameters, base decimal.Decimal) (decimal.Decimal, error) {
	value, ok := params.Decimal("value")
	if !ok {
		return decimal.Zero, fmt.Errorf("discount requires value")
	}
	switch kind {
	case "percentage":
		return base.Mul(value).Div(decimal.NewFromInt(100)), nil
	case "fixed":
		return value, nil
	}
	return decimal.Zero, fmt.Errorf("unsupported discount type %q", kind)
}

func firstDecimal(params Parameters, keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		if d, ok := params.Decimal(key); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// roundMoney rounds to cents and returns a float for JSON payloads
func roundMoney(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
