package main

import (
	"time"

	"github.com/liamcoop/ruleengine/internal/logger"
	"github.com/liamcoop/ruleengine/rules"
)

// API request and response models

// ExecuteRequest is the body of POST /api/v1/execute
type ExecuteRequest struct {
	UserID          string           `json:"userId,omitempty"`
	UserProfile     map[string]any   `json:"userProfile,omitempty"`
	Region          string           `json:"region,omitempty"`
	Language        string           `json:"language,omitempty"`
	SessionID       string           `json:"sessionId,omitempty"`
	RequestMetadata map[string]any   `json:"requestMetadata,omitempty"`
	RuleTypes       []rules.RuleType `json:"ruleTypes,omitempty"`
}

// ExecuteResponse carries every rule result in execution order
type ExecuteResponse struct {
	Results       []rules.ExecutionResult `json:"results"`
	ExecutionTime string                  `json:"executionTime"`
}

// PricingRequest is the body of POST /api/v1/pricing
type PricingRequest struct {
	rules.PricingContext
	UserProfile map[string]any `json:"userProfile,omitempty"`
}

// UpdateRuleRequest is the body of PATCH /api/v1/rules/{ruleId}
type UpdateRuleRequest struct {
	Enabled *bool `json:"enabled"`
}

// RulesListResponse lists the rules of one tenant
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// TenantResponse describes a loaded tenant engine
type TenantResponse struct {
	ID       string    `json:"id"`
	Rules    int       `json:"rules"`
	LoadedAt time.Time `json:"loadedAt"`
}

// TenantsListResponse lists loaded tenants
type TenantsListResponse struct {
	Tenants []TenantResponse `json:"tenants"`
}

// PerformanceResponse maps rule IDs to their running statistics
type PerformanceResponse struct {
	Rules map[string]rules.RulePerformanceMetrics `json:"rules"`
}

// StatsResponse is the body of GET /api/v1/stats
type StatsResponse struct {
	Logs          logger.Stats `json:"logs"`
	Tenants       int          `json:"tenants"`
	RulesLoaded   int          `json:"rulesLoaded"`
	CacheSweeps   int64        `json:"cacheSweeps"`
	EntriesSwept  int64        `json:"entriesSwept"`
	UptimeSeconds float64      `json:"uptimeSeconds"`
}

// ErrorResponse is written for every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
