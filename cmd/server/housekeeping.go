package main

import (
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"

	"github.com/liamcoop/ruleengine/rules"
)

// slowestRulesReported caps the performance report
const slowestRulesReported = 5

func (s *Server) setupHousekeeping() error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Housekeeping.SweepSchedule, func() { s.sweepCaches() }); err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}
	if _, err := c.AddFunc(s.cfg.Housekeeping.ReportSchedule, s.reportPerformance); err != nil {
		return fmt.Errorf("invalid report schedule: %w", err)
	}
	s.cron = c
	return nil
}

// sweepCaches drops expired applicability entries for every tenant
func (s *Server) sweepCaches() int {
	total := 0
	for _, tenantID := range s.engineManager.ListTenants() {
		engine, err := s.engineManager.GetEngine(tenantID)
		if err != nil {
			// deleted since listing
			continue
		}
		total += engine.SweepCache()
	}
	s.cacheSweeps.Add(1)
	s.entriesSwept.Add(int64(total))
	if total > 0 {
		s.logger.Debug("Swept rule caches", "entries", total)
	}
	return total
}

type rulePerformance struct {
	id string
	rules.RulePerformanceMetrics
}

// reportPerformance logs the slowest rules of each tenant
func (s *Server) reportPerformance() {
	for _, tenantID := range s.engineManager.ListTenants() {
		engine, err := s.engineManager.GetEngine(tenantID)
		if err != nil {
			continue
		}
		slowest := slowestRules(engine.Performance(), slowestRulesReported)
		if len(slowest) == 0 {
			continue
		}
		for _, p := range slowest {
			s.logger.Info("Rule performance",
				"tenant_id", tenantID,
				"rule_id", p.id,
				"executions", p.ExecutionCount,
				"success_rate", p.SuccessRate,
				"avg_ms", p.AverageExecutionTimeMs,
			)
		}
	}
}

func slowestRules(perf map[string]rules.RulePerformanceMetrics, n int) []rulePerformance {
	all := make([]rulePerformance, 0, len(perf))
	for id, m := range perf {
		all = append(all, rulePerformance{id: id, RulePerformanceMetrics: m})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].AverageExecutionTimeMs != all[j].AverageExecutionTimeMs {
			return all[i].AverageExecutionTimeMs > all[j].AverageExecutionTimeMs
		}
		return all[i].id < all[j].id
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// defaultPerformance exposes the default tenant's statistics to the scrape
// collector, following engine swaps on reload
type defaultPerformance struct {
	s *Server
}

func (d defaultPerformance) Performance() map[string]rules.RulePerformanceMetrics {
	engine, err := d.s.engineManager.GetEngine(d.s.defaultTenant)
	if err != nil {
		return nil
	}
	return engine.Performance()
}
