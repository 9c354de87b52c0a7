package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/ruleengine/rules"
)

// Rule sources the server can load from
const (
	SourceEmbedded = "embedded"
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

// Default values for configuration fields
const (
	DefaultPort                 = "8080"
	DefaultReadTimeout          = 15 * time.Second
	DefaultWriteTimeout         = 15 * time.Second
	DefaultIdleTimeout          = 60 * time.Second
	DefaultShutdownTimeout      = 30 * time.Second
	DefaultSlowRequestThreshold = 500 * time.Millisecond
	DefaultRuleSource           = SourceEmbedded
	DefaultCacheTTL             = 5 * time.Minute
	DefaultMetricsNamespace     = "ruleengine"
	DefaultMetricsSubsystem     = "core"
	DefaultSweepSchedule        = "@every 1m"
	DefaultReportSchedule       = "@every 5m"
)

// Config is the server's full configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Rules        RulesConfig        `yaml:"rules"`
	Limits       rules.Limits       `yaml:"limits"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port                 string        `yaml:"port"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
	SlowRequestThreshold time.Duration `yaml:"slow_request_threshold"`
}

// DatabaseConfig holds the Postgres connection string
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RulesConfig selects where rules come from and how long applicability
// lookups are cached
type RulesConfig struct {
	// Source is one of embedded, file or postgres
	Source string `yaml:"source"`

	// File is the YAML rule file read when Source is file
	File string `yaml:"file"`

	// TenantID is the tenant served when no X-Tenant-ID header is sent
	// and Source is postgres
	TenantID string `yaml:"tenant_id"`

	// CacheTTL is the applicability cache lifetime; 0 disables expiry
	CacheTTL *time.Duration `yaml:"cache_ttl"`
}

// MetricsConfig names the Prometheus metric prefix
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// MetricsEnabled reports whether /metrics should be served
func (m MetricsConfig) MetricsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// HousekeepingConfig holds cron schedules for background maintenance
type HousekeepingConfig struct {
	SweepSchedule  string `yaml:"sweep_schedule"`
	ReportSchedule string `yaml:"report_schedule"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// defaults and environment overrides, and validates the result.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.SlowRequestThreshold == 0 {
		cfg.Server.SlowRequestThreshold = DefaultSlowRequestThreshold
	}

	if cfg.Rules.Source == "" {
		cfg.Rules.Source = DefaultRuleSource
	}
	if cfg.Rules.CacheTTL == nil {
		ttl := DefaultCacheTTL
		cfg.Rules.CacheTTL = &ttl
	}

	defaults := rules.DefaultLimits()
	if cfg.Limits.AgeRestriction == 0 {
		cfg.Limits.AgeRestriction = defaults.AgeRestriction
	}
	if cfg.Limits.Caffeine.MaxPerServingMg == 0 {
		cfg.Limits.Caffeine.MaxPerServingMg = defaults.Caffeine.MaxPerServingMg
	}
	if cfg.Limits.BannedIngredients == nil {
		cfg.Limits.BannedIngredients = defaults.BannedIngredients
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}

	if cfg.Housekeeping.SweepSchedule == "" {
		cfg.Housekeeping.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Housekeeping.ReportSchedule == "" {
		cfg.Housekeeping.ReportSchedule = DefaultReportSchedule
	}
}

// applyEnvOverrides lets deployment environment variables win over the file
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("PORT"); val != "" {
		cfg.Server.Port = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Database.URL = val
	}
	if val := os.Getenv("RULE_SOURCE"); val != "" {
		cfg.Rules.Source = strings.ToLower(val)
	}
	if val := os.Getenv("RULES_FILE"); val != "" {
		cfg.Rules.File = val
	}
	if val := os.Getenv("TENANT_ID"); val != "" {
		cfg.Rules.TenantID = val
	}
	if val := os.Getenv("RULE_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Rules.CacheTTL = &d
		}
	}
	if val := os.Getenv("LIMIT_AGE_RESTRICTION"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Limits.AgeRestriction = i
		}
	}
	if val := os.Getenv("LIMIT_CAFFEINE_MG"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Limits.Caffeine.MaxPerServingMg = f
		}
	}
	if val := os.Getenv("BANNED_INGREDIENTS"); val != "" {
		var banned []string
		for _, name := range strings.Split(val, ",") {
			if name = strings.TrimSpace(name); name != "" {
				banned = append(banned, name)
			}
		}
		cfg.Limits.BannedIngredients = banned
	}
	if val := os.Getenv("METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = &b
		}
	}
}
