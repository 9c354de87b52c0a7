package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError is a validation failure for one configuration field
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError carries every field error found
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks the configuration and reports all problems together
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, msg string) {
		errs = append(errs, FieldError{Field: field, Message: msg})
	}

	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		add("server.port", fmt.Sprintf("must be a number between 1 and 65535, got %q", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 || cfg.Server.IdleTimeout < 0 {
		add("server", "timeouts must not be negative")
	}

	switch cfg.Rules.Source {
	case SourceEmbedded:
	case SourceFile:
		if cfg.Rules.File == "" {
			add("rules.file", "is required when rules.source is file")
		}
	case SourcePostgres:
		if cfg.Database.URL == "" {
			add("database.url", "is required when rules.source is postgres")
		}
	default:
		add("rules.source", fmt.Sprintf("must be one of embedded, file, postgres; got %q", cfg.Rules.Source))
	}
	if cfg.Rules.CacheTTL != nil && *cfg.Rules.CacheTTL < 0 {
		add("rules.cache_ttl", "must not be negative")
	}

	if cfg.Limits.AgeRestriction < 0 {
		add("limits.ageRestriction", "must not be negative")
	}
	if cfg.Limits.Caffeine.MaxPerServingMg < 0 {
		add("limits.caffeine.maxPerServingMg", "must not be negative")
	}

	if _, err := cron.ParseStandard(cfg.Housekeeping.SweepSchedule); err != nil {
		add("housekeeping.sweep_schedule", err.Error())
	}
	if _, err := cron.ParseStandard(cfg.Housekeeping.ReportSchedule); err != nil {
		add("housekeeping.report_schedule", err.Error())
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
