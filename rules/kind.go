package rules

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// KindSpec is the type-specific extension of a Rule. The set of
// implementations is closed: PricingSpec, ComplianceSpec, AccessSpec and
// GatingSpec.
type KindSpec interface {
	// RuleType is the discriminant the owning rule's Type must match
	RuleType() RuleType
	isKindSpec()
}

// PricingModel selects how calculate-price actions transform a price
type PricingModel string

const (
	PricingFixed      PricingModel = "fixed"
	PricingPercentage PricingModel = "percentage"
	PricingTiered     PricingModel = "tiered"
)

// PricingSpec extends pricing rules
type PricingSpec struct {
	Model    PricingModel `json:"model" yaml:"model"`
	Currency string       `json:"currency,omitempty" yaml:"currency,omitempty"`
}

func (*PricingSpec) RuleType() RuleType { return RuleTypePricing }
func (*PricingSpec) isKindSpec()        {}

// ComplianceCheck names the regulatory check a compliance rule performs
type ComplianceCheck string

const (
	CheckAgeRestriction    ComplianceCheck = "age-restriction"
	CheckCaffeineLimit     ComplianceCheck = "caffeine-limit"
	CheckBannedIngredients ComplianceCheck = "banned-ingredients"
	CheckDisclosure        ComplianceCheck = "disclosure"
)

// Severity of a compliance finding. High and critical findings are violations
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ComplianceSpec extends compliance rules
type ComplianceSpec struct {
	RegulatoryBody string          `json:"regulatoryBody,omitempty" yaml:"regulatoryBody,omitempty"`
	Check          ComplianceCheck `json:"check" yaml:"check"`
	Severity       Severity        `json:"severity" yaml:"severity"`
	Requirements   Parameters      `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

func (*ComplianceSpec) RuleType() RuleType { return RuleTypeCompliance }
func (*ComplianceSpec) isKindSpec()        {}

// AccessSpec extends access-control rules
type AccessSpec struct {
	AccessLevel  string   `json:"accessLevel" yaml:"accessLevel"`
	Permissions  []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Restrictions []string `json:"restrictions,omitempty" yaml:"restrictions,omitempty"`
}

func (*AccessSpec) RuleType() RuleType { return RuleTypeAccessControl }
func (*AccessSpec) isKindSpec()        {}

// GatingStrategy decides how a feature-gating rule resolves for a user
type GatingStrategy string

const (
	GatingBoolean     GatingStrategy = "boolean"
	GatingPercentage  GatingStrategy = "percentage"
	GatingUserSegment GatingStrategy = "user-segment"
	GatingWhitelist   GatingStrategy = "whitelist"
	GatingRegion      GatingStrategy = "region"
)

// GatingSpec extends feature-gating rules
type GatingSpec struct {
	Feature           string         `json:"feature" yaml:"feature"`
	Strategy          GatingStrategy `json:"strategy" yaml:"strategy"`
	Enabled           bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	RolloutPercentage float64        `json:"rolloutPercentage,omitempty" yaml:"rolloutPercentage,omitempty"`
	TargetSegments    []string       `json:"targetSegments,omitempty" yaml:"targetSegments,omitempty"`
	TargetUsers       []string       `json:"targetUsers,omitempty" yaml:"targetUsers,omitempty"`
	TargetRegions     []string       `json:"targetRegions,omitempty" yaml:"targetRegions,omitempty"`
}

func (*GatingSpec) RuleType() RuleType { return RuleTypeFeatureGating }
func (*GatingSpec) isKindSpec()        {}

func cloneKind(k KindSpec) KindSpec {
	switch s := k.(type) {
	case *PricingSpec:
		c := *s
		return &c
	case *ComplianceSpec:
		c := *s
		c.Requirements = s.Requirements.Clone()
		return &c
	case *AccessSpec:
		c := *s
		c.Permissions = append([]string(nil), s.Permissions...)
		c.Restrictions = append([]string(nil), s.Restrictions...)
		return &c
	case *GatingSpec:
		c := *s
		c.TargetSegments = append([]string(nil), s.TargetSegments...)
		c.TargetUsers = append([]string(nil), s.TargetUsers...)
		c.TargetRegions = append([]string(nil), s.TargetRegions...)
		return &c
	}
	return nil
}

// KindEnvelope is the serialized form of a KindSpec: at most one field is set
type KindEnvelope struct {
	Pricing    *PricingSpec    `json:"pricing,omitempty" yaml:"pricing,omitempty"`
	Compliance *ComplianceSpec `json:"compliance,omitempty" yaml:"compliance,omitempty"`
	Access     *AccessSpec     `json:"access,omitempty" yaml:"access,omitempty"`
	Gating     *GatingSpec     `json:"gating,omitempty" yaml:"gating,omitempty"`
}

// WrapKind places k into its envelope slot
func WrapKind(k KindSpec) KindEnvelope {
	var env KindEnvelope
	switch s := k.(type) {
	case *PricingSpec:
		env.Pricing = s
	case *ComplianceSpec:
		env.Compliance = s
	case *AccessSpec:
		env.Access = s
	case *GatingSpec:
		env.Gating = s
	}
	return env
}

// Unwrap returns the single KindSpec held by the envelope, or nil when empty
func (e KindEnvelope) Unwrap() (KindSpec, error) {
	var found []KindSpec
	if e.Pricing != nil {
		found = append(found, e.Pricing)
	}
	if e.Compliance != nil {
		found = append(found, e.Compliance)
	}
	if e.Access != nil {
		found = append(found, e.Access)
	}
	if e.Gating != nil {
		found = append(found, e.Gating)
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %d kind blocks set, at most one allowed", ErrMalformedRule, len(found))
	}
}

// ruleDocument is the wire and file representation of a Rule
type ruleDocument struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Description  string      `json:"description,omitempty" yaml:"description,omitempty"`
	Type         RuleType    `json:"type" yaml:"type"`
	Category     string      `json:"category,omitempty" yaml:"category,omitempty"`
	Priority     int         `json:"priority" yaml:"priority"`
	Enabled      bool        `json:"enabled" yaml:"enabled"`
	Conditions   []Condition `json:"conditions" yaml:"conditions"`
	Actions      []Action    `json:"actions" yaml:"actions"`
	Metadata     Metadata    `json:"metadata" yaml:"metadata"`
	Expression   string      `json:"expression,omitempty" yaml:"expression,omitempty"`
	DependsOn    []string    `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	CreatedAt    *time.Time  `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt    *time.Time  `json:"updatedAt,omitempty" yaml:"-"`
	KindEnvelope `yaml:",inline"`
}

func documentFromRule(r *Rule) ruleDocument {
	doc := ruleDocument{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Type:         r.Type,
		Category:     r.Category,
		Priority:     r.Priority,
		Enabled:      r.Enabled,
		Conditions:   r.Conditions,
		Actions:      r.Actions,
		Metadata:     r.Metadata,
		Expression:   r.Expression,
		DependsOn:    r.DependsOn,
		KindEnvelope: WrapKind(r.Kind),
	}
	if !r.CreatedAt.IsZero() {
		doc.CreatedAt = &r.CreatedAt
	}
	if !r.UpdatedAt.IsZero() {
		doc.UpdatedAt = &r.UpdatedAt
	}
	return doc
}

func (doc ruleDocument) toRule() (*Rule, error) {
	kind, err := doc.KindEnvelope.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", doc.ID, err)
	}
	r := &Rule{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Type:        doc.Type,
		Category:    doc.Category,
		Priority:    doc.Priority,
		Enabled:     doc.Enabled,
		Conditions:  doc.Conditions,
		Actions:     doc.Actions,
		Metadata:    doc.Metadata,
		Expression:  doc.Expression,
		DependsOn:   doc.DependsOn,
		Kind:        kind,
	}
	if doc.CreatedAt != nil {
		r.CreatedAt = *doc.CreatedAt
	}
	if doc.UpdatedAt != nil {
		r.UpdatedAt = *doc.UpdatedAt
	}
	if err := r.checkKind(); err != nil {
		return nil, err
	}
	return r, nil
}

// MarshalJSON encodes the rule with its kind block inlined
func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(documentFromRule(&r))
}

// UnmarshalJSON decodes a rule and checks that its kind matches its type
func (r *Rule) UnmarshalJSON(data []byte) error {
	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	decoded, err := doc.toRule()
	if err != nil {
		return err
	}
	*r = *decoded
	return nil
}

// UnmarshalYAML decodes a rule from a YAML rule file
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	var doc ruleDocument
	if err := node.Decode(&doc); err != nil {
		return err
	}
	decoded, err := doc.toRule()
	if err != nil {
		return err
	}
	*r = *decoded
	return nil
}

// checkKind enforces that the kind discriminant agrees with the rule type
func (r *Rule) checkKind() error {
	if r.Kind == nil {
		return nil
	}
	if r.Kind.RuleType() != r.Type {
		return fmt.Errorf("%w: rule %s has type %q but a %q kind block", ErrMalformedRule, r.ID, r.Type, r.Kind.RuleType())
	}
	return nil
}
