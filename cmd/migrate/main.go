package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/liamcoop/ruleengine/internal/logger"
	"github.com/liamcoop/ruleengine/multitenantengine"
	"github.com/liamcoop/ruleengine/rules"
)

func main() {
	var databaseURL string
	var migrationsPath string
	var command string
	var tenantName string
	var rulesFile string

	flag.StringVar(&databaseURL, "database", "", "Database URL (required)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force, seed")
	flag.StringVar(&tenantName, "tenant", "", "Tenant name to seed rules for (seed only)")
	flag.StringVar(&rulesFile, "rules", "", "YAML rule file to seed; the built-in rule set when empty (seed only)")
	flag.Parse()

	log := logger.Setup(context.Background(), logger.ConfigFromEnv())

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal(log, "Database URL is required. Use -database flag or DATABASE_URL environment variable")
	}

	if command == "seed" {
		if err := runSeed(context.Background(), log, databaseURL, tenantName, rulesFile); err != nil {
			logger.Fatal(log, "Failed to seed rules", "error", err)
		}
		return
	}

	log.Info("Connecting to database...", "migrations_path", migrationsPath)

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		logger.Fatal(log, "Failed to create migration instance", "error", err)
	}
	defer m.Close()

	switch command {
	case "up":
		log.Info("Running migrations up...")
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("No migrations to run (database is up to date)")
		} else if err != nil {
			logger.Fatal(log, "Failed to run migrations", "error", err)
		} else {
			log.Info("Migrations completed successfully")
		}

	case "down":
		log.Info("Rolling back migrations...")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal(log, "Failed to rollback migrations", "error", err)
		}
		log.Info("Rollback completed successfully")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logger.Fatal(log, "Failed to get version", "error", err)
		}
		log.Info("Current version", "version", version, "dirty", dirty)

	case "force":
		if len(flag.Args()) < 1 {
			logger.Fatal(log, "Force command requires a version number: -command force <version>")
		}
		var version int
		if _, err := fmt.Sscanf(flag.Arg(0), "%d", &version); err != nil {
			logger.Fatal(log, "Invalid version number", "error", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal(log, "Failed to force version", "error", err)
		}
		log.Info("Forced version", "version", version)

	default:
		logger.Fatal(log, "Unknown command (use: up, down, version, force, seed)", "command", command)
	}
}

func runSeed(ctx context.Context, log *slog.Logger, databaseURL, tenantName, rulesFile string) error {
	if tenantName == "" {
		return errors.New("seed requires -tenant")
	}

	ruleSet, err := loadSeedRules(rulesFile)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	result, err := seedTenant(ctx, db, tenantName, ruleSet)
	if err != nil {
		return err
	}
	log.Info("Seeded rules",
		"tenant", tenantName,
		"tenant_id", result.TenantID,
		"added", result.Added,
		"updated", result.Updated,
	)
	return nil
}

// loadSeedRules reads a rule file, or the built-in set when path is empty,
// and rejects it unless it would load as a tenant rule set
func loadSeedRules(path string) ([]*rules.Rule, error) {
	var ruleSet []*rules.Rule
	if path == "" {
		var err error
		if ruleSet, err = rules.DefaultRules(); err != nil {
			return nil, err
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open rules file: %w", err)
		}
		defer f.Close()
		if ruleSet, err = rules.LoadRulesYAML(f); err != nil {
			return nil, err
		}
	}

	if err := multitenantengine.ValidateRuleSet(ruleSet); err != nil {
		return nil, fmt.Errorf("rule set is invalid: %w", err)
	}
	return ruleSet, nil
}

type seedResult struct {
	TenantID string
	Added    int
	Updated  int
}

// seedTenant upserts the tenant by name and writes every rule into its
// store, replacing rules that already exist
func seedTenant(ctx context.Context, db *sql.DB, tenantName string, ruleSet []*rules.Rule) (seedResult, error) {
	var result seedResult
	err := db.QueryRowContext(ctx, `
		INSERT INTO tenants (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, tenantName).Scan(&result.TenantID)
	if err != nil {
		return result, fmt.Errorf("failed to upsert tenant: %w", err)
	}

	store := rules.NewPostgresRuleStore(db, result.TenantID)
	for _, r := range ruleSet {
		err := store.Add(ctx, r)
		switch {
		case err == nil:
			result.Added++
		case errors.Is(err, rules.ErrDuplicateRule):
			if err := store.Update(ctx, r); err != nil {
				return result, fmt.Errorf("failed to update rule %s: %w", r.ID, err)
			}
			result.Updated++
		default:
			return result, fmt.Errorf("failed to add rule %s: %w", r.ID, err)
		}
	}
	return result, nil
}
