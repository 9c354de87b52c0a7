package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/liamcoop/ruleengine/internal/logger"
	"github.com/liamcoop/ruleengine/multitenantengine"
	"github.com/liamcoop/ruleengine/rules"
)

// tenantHeader selects a tenant engine; the configured default is used without it
const tenantHeader = "X-Tenant-ID"

// engineFor resolves the engine a request should run against and writes
// the error response itself when there is none
func (s *Server) engineFor(w http.ResponseWriter, r *http.Request) (*rules.Engine, bool) {
	tenantID := r.Header.Get(tenantHeader)
	if tenantID == "" {
		tenantID = s.defaultTenant
	}
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, tenantHeader+" header is required", nil)
		return nil, false
	}

	engine, err := s.engineManager.GetEngine(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return nil, false
	}
	return engine, true
}

// sessionID keeps a caller's session or mints one
func sessionID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"ruleSource":    s.cfg.Rules.Source,
		"tenantsLoaded": len(s.engineManager.ListTenants()),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !decode(w, r, &req) {
		return
	}
	for _, t := range req.RuleTypes {
		if !t.Valid() {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown rule type %q", t), nil)
			return
		}
	}

	engine, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	start := time.Now()
	results, err := engine.ExecuteRules(r.Context(), rules.ExecutionContext{
		UserID:          req.UserID,
		UserProfile:     req.UserProfile,
		Region:          req.Region,
		Language:        req.Language,
		SessionID:       sessionID(req.SessionID),
		RequestMetadata: req.RequestMetadata,
	}, req.RuleTypes...)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "rule execution failed", err)
		return
	}

	respondJSON(w, http.StatusOK, ExecuteResponse{
		Results:       results,
		ExecutionTime: time.Since(start).String(),
	})
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	var req PricingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.BaseCost < 0 {
		respondError(w, http.StatusBadRequest, "baseCost must not be negative", nil)
		return
	}

	engine, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	req.SessionID = sessionID(req.SessionID)
	result, err := engine.CalculatePricing(r.Context(), req.PricingContext, req.UserProfile)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "pricing failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	var req rules.ComplianceContext
	if !decode(w, r, &req) {
		return
	}

	engine, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	req.SessionID = sessionID(req.SessionID)
	result, err := engine.CheckCompliance(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "compliance check failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	var req rules.AccessContext
	if !decode(w, r, &req) {
		return
	}

	engine, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	req.SessionID = sessionID(req.SessionID)
	result, err := engine.CheckAccess(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "access check failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	var req rules.FeatureContext
	if !decode(w, r, &req) {
		return
	}
	if req.Feature == "" {
		respondError(w, http.StatusBadRequest, "feature is required", nil)
		return
	}

	engine, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	req.SessionID = sessionID(req.SessionID)
	result, err := engine.EvaluateFeatureGating(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "feature gating failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	var req rules.ContentContext
	if !decode(w, r, &req) {
		return
	}

	engine, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	req.SessionID = sessionID(req.SessionID)
	result, err := engine.FilterAndRecommendContent(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "content filtering failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// List rules handler; ?type= narrows to one rule type
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	filter := rules.RuleType(r.URL.Query().Get("type"))
	if filter != "" && !filter.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown rule type %q", filter), nil)
		return
	}

	list := []*rules.Rule{}
	for _, rule := range engine.Rules() {
		if filter == "" || rule.Type == filter {
			list = append(list, rule)
		}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	rule, err := engine.Rule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler: toggles a rule on or off
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req UpdateRuleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		respondError(w, http.StatusBadRequest, "enabled is required", nil)
		return
	}

	engine, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	rule, err := engine.SetEnabled(r.Context(), chi.URLParam(r, "ruleId"), *req.Enabled)
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Performance handler; ?ruleId= returns a single rule's statistics
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	if id := r.URL.Query().Get("ruleId"); id != "" {
		m, found := engine.RulePerformance(id)
		if !found {
			respondError(w, http.StatusNotFound, "no executions recorded for rule", nil)
			return
		}
		respondJSON(w, http.StatusOK, m)
		return
	}
	respondJSON(w, http.StatusOK, PerformanceResponse{Rules: engine.Performance()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := StatsResponse{
		Logs:          logger.Snapshot(),
		Tenants:       len(s.engineManager.ListTenants()),
		CacheSweeps:   s.cacheSweeps.Load(),
		EntriesSwept:  s.entriesSwept.Load(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	for _, id := range s.engineManager.ListTenants() {
		if te, ok := s.engineManager.Tenant(id); ok {
			stats.RulesLoaded += te.RuleSet
		}
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants := []TenantResponse{}
	for _, id := range s.engineManager.ListTenants() {
		te, ok := s.engineManager.Tenant(id)
		if !ok {
			continue
		}
		tenants = append(tenants, TenantResponse{ID: id, Rules: te.RuleSet, LoadedAt: te.LoadedAt})
	}
	respondJSON(w, http.StatusOK, TenantsListResponse{Tenants: tenants})
}

// Reload handler: rebuilds a tenant's engine from its store
func (s *Server) handleReloadTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	// ReloadTenant would create unknown tenants; new tenants arrive via restart
	if _, ok := s.engineManager.Tenant(tenantID); !ok {
		respondError(w, http.StatusNotFound, "tenant not found", multitenantengine.ErrTenantNotFound)
		return
	}
	if err := s.engineManager.ReloadTenant(r.Context(), tenantID); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "failed to reload tenant", err)
		return
	}

	te, _ := s.engineManager.Tenant(tenantID)
	respondJSON(w, http.StatusOK, TenantResponse{ID: tenantID, Rules: te.RuleSet, LoadedAt: te.LoadedAt})
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}
