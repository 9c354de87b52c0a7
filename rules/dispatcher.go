package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceQuote is the result of a calculate-price action
type PriceQuote struct {
	Model      PricingModel `json:"model"`
	BasePrice  float64      `json:"basePrice"`
	FinalPrice float64      `json:"finalPrice"`
	Amount     float64      `json:"amount"`
}

// Discount is the result of an apply-discount action
type Discount struct {
	Type           string  `json:"type"`
	Value          float64 `json:"value"`
	DiscountAmount float64 `json:"discountAmount"`
}

// Availability is the result of a set-availability action
type Availability struct {
	Available bool       `json:"available"`
	Reason    string     `json:"reason,omitempty"`
	Details   Parameters `json:"details,omitempty"`
}

// AccessGrant is the result of a grant-access action
type AccessGrant struct {
	Permissions []string `json:"permissions"`
	AccessLevel string   `json:"accessLevel,omitempty"`
}

// AccessRestriction is the result of a restrict-access action
type AccessRestriction struct {
	Restrictions []string `json:"restrictions"`
	Reason       string   `json:"reason,omitempty"`
}

// FeatureToggle is the result of enable-feature and disable-feature actions
type FeatureToggle struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}

// ContentFilter is the result of a filter-content action
type ContentFilter struct {
	ExcludeTags       []string `json:"excludeTags,omitempty"`
	ExcludeCategories []string `json:"excludeCategories,omitempty"`
	MaxAgeRating      *float64 `json:"maxAgeRating,omitempty"`
}

// RecommendationCriteria is the result of a recommend action
type RecommendationCriteria struct {
	Tags       []string `json:"tags,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Boost      float64  `json:"boost"`
	Limit      int      `json:"limit,omitempty"`
}

// Notification is the result of a notify action
type Notification struct {
	Channel   string     `json:"channel,omitempty"`
	Recipient string     `json:"recipient,omitempty"`
	Message   string     `json:"message"`
	Details   Parameters `json:"details,omitempty"`
}

// LogEntry is the result of a log action
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type actionHandler func(ctx context.Context, action Action, doc *Document) (any, error)

// Dispatcher executes single actions. It never panics and never returns an
// error: every failure becomes an unsuccessful ActionResult.
type Dispatcher struct {
	handlers map[ActionType]actionHandler
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher with a handler for every ActionType
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	d.handlers = map[ActionType]actionHandler{
		ActionCalculatePrice:  d.calculatePrice,
		ActionApplyDiscount:   d.applyDiscount,
		ActionSetAvailability: d.setAvailability,
		ActionGrantAccess:     d.grantAccess,
		ActionRestrictAccess:  d.restrictAccess,
		ActionEnableFeature:   d.toggleFeature(true),
		ActionDisableFeature:  d.toggleFeature(false),
		ActionFilterContent:   d.filterContent,
		ActionRecommend:       d.recommend,
		ActionLog:             d.log,
		ActionNotify:          d.notify,
	}
	return d
}

// Handles reports whether t has a registered handler
func (d *Dispatcher) Handles(t ActionType) bool {
	_, ok := d.handlers[t]
	return ok
}

// Execute runs action against doc
func (d *Dispatcher) Execute(ctx context.Context, action Action, doc *Document) (result ActionResult) {
	result = ActionResult{ActionType: action.Type}

	handler, ok := d.handlers[action.Type]
	if !ok {
		result.Error = fmt.Sprintf("Unknown action type: %s", action.Type)
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "Action handler panicked",
				"action_type", action.Type,
				"panic", r,
			)
			result = ActionResult{
				ActionType: action.Type,
				Error:      fmt.Sprintf("action handler panicked: %v", r),
			}
		}
	}()

	payload, err := handler(ctx, action, doc)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Result = payload
	return result
}

func (d *Dispatcher) calculatePrice(_ context.Context, action Action, doc *Document) (any, error) {
	params := action.Parameters
	base, ok := basePrice(params, doc)
	if !ok {
		return nil, errors.New("basePrice is required")
	}
	model := PricingModel(params.StringOr("model", params.StringOr("type", "")))

	lookup := base
	if q, ok := params.Decimal("quantity"); ok {
		lookup = q
	} else if q, ok := doc.Float("requestMetadata.quantity"); ok {
		lookup = decimal.NewFromFloat(q)
	}

	step, matched, err := applyPricingModel(model, params, base, lookup)
	if err != nil {
		return nil, err
	}
	if !matched {
		step.price = base
	}
	return PriceQuote{
		Model:      model,
		BasePrice:  roundMoney(base),
		FinalPrice: roundMoney(step.price),
		Amount:     step.amount.InexactFloat64(),
	}, nil
}

func (d *Dispatcher) applyDiscount(_ context.Context, action Action, doc *Document) (any, error) {
	params := action.Parameters
	kind := params.StringOr("type", "percentage")

	base := decimal.Zero
	if kind == "percentage" {
		b, ok := doc.Float("requestMetadata.basePrice")
		if !ok {
			return nil, errors.New("percentage discount requires requestMetadata.basePrice")
		}
		base = decimal.NewFromFloat(b)
	}
	amount, err := discountAmount(kind, params, base)
	if err != nil {
		return nil, err
	}
	value, _ := params.Float("value")
	return Discount{
		Type:           kind,
		Value:          value,
		DiscountAmount: roundMoney(amount),
	}, nil
}

func (d *Dispatcher) setAvailability(_ context.Context, action Action, _ *Document) (any, error) {
	available, ok := action.Parameters.Bool("available")
	if !ok {
		available = true
	}
	reason, _ := action.Parameters.String("reason")
	return Availability{Available: available, Reason: reason, Details: action.Parameters.Clone()}, nil
}

func (d *Dispatcher) grantAccess(_ context.Context, action Action, _ *Document) (any, error) {
	return parseAccessGrant(action.Parameters), nil
}

func (d *Dispatcher) restrictAccess(_ context.Context, action Action, _ *Document) (any, error) {
	return parseAccessRestriction(action.Parameters), nil
}

func (d *Dispatcher) toggleFeature(enabled bool) actionHandler {
	return func(_ context.Context, action Action, _ *Document) (any, error) {
		feature, _ := action.Parameters.String("feature")
		return FeatureToggle{Feature: feature, Enabled: enabled}, nil
	}
}

func (d *Dispatcher) filterContent(_ context.Context, action Action, _ *Document) (any, error) {
	return parseContentFilter(action.Parameters), nil
}

func (d *Dispatcher) recommend(_ context.Context, action Action, _ *Document) (any, error) {
	return parseRecommendation(action.Parameters), nil
}

func (d *Dispatcher) log(ctx context.Context, action Action, doc *Document) (any, error) {
	level := strings.ToLower(action.Parameters.StringOr("level", "info"))
	message := action.Parameters.StringOr("message", "Rule log action")
	ec := doc.Context()
	attrs := []any{"user_id", ec.UserID, "session_id", ec.SessionID, "region", ec.Region}

	switch level {
	case "error":
		d.logger.ErrorContext(ctx, message, attrs...)
	case "warn", "warning":
		level = "warn"
		d.logger.WarnContext(ctx, message, attrs...)
	default:
		level = "info"
		d.logger.InfoContext(ctx, message, attrs...)
	}
	return LogEntry{Level: level, Message: message}, nil
}

func (d *Dispatcher) notify(_ context.Context, action Action, _ *Document) (any, error) {
	params := action.Parameters
	channel, _ := params.String("channel")
	recipient, _ := params.String("recipient")
	message, _ := params.String("message")
	return Notification{Channel: channel, Recipient: recipient, Message: message, Details: params.Clone()}, nil
}

func basePrice(params Parameters, doc *Document) (decimal.Decimal, bool) {
	if b, ok := params.Decimal("basePrice"); ok {
		return b, true
	}
	if b, ok := doc.Float("requestMetadata.basePrice"); ok {
		return decimal.NewFromFloat(b), true
	}
	return decimal.Zero, false
}

func parseAccessGrant(params Parameters) AccessGrant {
	level, _ := params.String("accessLevel")
	perms := params.Strings("permissions")
	if perms == nil {
		perms = params.Strings("permission")
	}
	return AccessGrant{Permissions: perms, AccessLevel: level}
}

func parseAccessRestriction(params Parameters) AccessRestriction {
	reason, _ := params.String("reason")
	restrictions := params.Strings("restrictions")
	if restrictions == nil {
		restrictions = params.Strings("restriction")
	}
	return AccessRestriction{Restrictions: restrictions, Reason: reason}
}

func parseContentFilter(params Parameters) ContentFilter {
	f := ContentFilter{
		ExcludeTags:       params.Strings("excludeTags"),
		ExcludeCategories: params.Strings("excludeCategories"),
	}
	if rating, ok := params.Float("maxAgeRating"); ok {
		f.MaxAgeRating = &rating
	}
	return f
}

func parseRecommendation(params Parameters) RecommendationCriteria {
	rc := RecommendationCriteria{
		Tags:       params.Strings("tags"),
		Categories: params.Strings("categories"),
		Boost:      1,
	}
	if boost, ok := params.Float("boost"); ok {
		rc.Boost = boost
	}
	if limit, ok := params.Float("limit"); ok && limit > 0 {
		rc.Limit = int(limit)
	}
	return rc
}
