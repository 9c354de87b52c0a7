//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/ruleengine/rules"

	_ "github.com/lib/pq"
)

// setupTestDB creates a PostgreSQL container and returns a connection
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "rules_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=rules_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

// createTenant inserts a tenant row and returns its ID
func createTenant(t *testing.T, db *sql.DB, name string) string {
	var tenantID string
	err := db.QueryRow(`
		INSERT INTO tenants (name) VALUES ($1) RETURNING id
	`, name).Scan(&tenantID)
	if err != nil {
		t.Fatalf("Failed to create tenant: %v", err)
	}
	return tenantID
}

func sampleRule(id string) *rules.Rule {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &rules.Rule{
		ID:          id,
		Name:        "Energy age check",
		Description: "Energy drinks need an age check",
		Type:        rules.RuleTypeCompliance,
		Category:    "safety",
		Priority:    100,
		Enabled:     true,
		Conditions: []rules.Condition{
			{Field: "recipe.category", Operator: rules.OpEquals, Value: "energy"},
			{Field: "recipe.tags", Operator: rules.OpIn, Value: []any{"pre-workout"}, LogicalOperator: rules.LogicalOr},
		},
		Actions: []rules.Action{
			{Type: rules.ActionLog, Priority: 1, Parameters: rules.Parameters{"message": "checked"}},
		},
		Metadata:   rules.Metadata{Region: "US", ValidFrom: &from, Tags: []string{"age"}},
		Expression: `userProfile.age > 0`,
		DependsOn:  []string{"base-rule"},
		Kind: &rules.ComplianceSpec{
			RegulatoryBody: "FDA",
			Check:          rules.CheckAgeRestriction,
			Severity:       rules.SeverityHigh,
			Requirements:   rules.Parameters{"minAge": 16},
		},
	}
}

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := createTenant(t, db, "tenant-crud")
	store := rules.NewPostgresRuleStore(db, tenantID)

	ruleID := uuid.New().String()
	if err := store.Add(ctx, sampleRule(ruleID)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	got, err := store.Get(ctx, ruleID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Type != rules.RuleTypeCompliance || got.Priority != 100 || !got.Enabled {
		t.Errorf("Get() returned unexpected rule: %+v", got)
	}
	if len(got.Conditions) != 2 || got.Conditions[1].LogicalOperator != rules.LogicalOr {
		t.Errorf("conditions did not round-trip: %+v", got.Conditions)
	}
	spec, ok := got.Kind.(*rules.ComplianceSpec)
	if !ok || spec.Check != rules.CheckAgeRestriction || spec.RegulatoryBody != "FDA" {
		t.Errorf("kind did not round-trip: %#v", got.Kind)
	}
	if got.Metadata.ValidFrom == nil || got.Metadata.Region != "US" {
		t.Errorf("metadata did not round-trip: %+v", got.Metadata)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "base-rule" {
		t.Errorf("DependsOn = %v, want [base-rule]", got.DependsOn)
	}

	got.Enabled = false
	got.Priority = 5
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	updated, _ := store.Get(ctx, ruleID)
	if updated.Enabled || updated.Priority != 5 {
		t.Errorf("Update() not persisted: %+v", updated)
	}

	if err := store.Delete(ctx, ruleID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, ruleID); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrRuleNotFound", err)
	}
}

func TestPostgresRuleStore_TenantIsolation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	storeA := rules.NewPostgresRuleStore(db, createTenant(t, db, "tenant-a"))
	storeB := rules.NewPostgresRuleStore(db, createTenant(t, db, "tenant-b"))

	if err := storeA.Add(ctx, sampleRule("shared-id")); err != nil {
		t.Fatalf("Add() to tenant A failed: %v", err)
	}
	if err := storeB.Add(ctx, sampleRule("shared-id")); err != nil {
		t.Fatalf("same rule ID in another tenant should be allowed: %v", err)
	}
	if err := storeB.Add(ctx, sampleRule("only-b")); err != nil {
		t.Fatalf("Add() to tenant B failed: %v", err)
	}

	listA, _ := storeA.List(ctx)
	listB, _ := storeB.List(ctx)
	if len(listA) != 1 || len(listB) != 2 {
		t.Errorf("tenant A has %d rules, tenant B has %d; want 1 and 2", len(listA), len(listB))
	}
	if _, err := storeA.Get(ctx, "only-b"); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("tenant A should not see tenant B rules, got %v", err)
	}
}

func TestPostgresRuleStore_Errors(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := rules.NewPostgresRuleStore(db, createTenant(t, db, "tenant-errors"))
	if err := store.Add(ctx, sampleRule("dup")); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := store.Add(ctx, sampleRule("dup")); !errors.Is(err, rules.ErrDuplicateRule) {
		t.Errorf("duplicate Add() error = %v, want ErrDuplicateRule", err)
	}
	if err := store.Update(ctx, sampleRule(uuid.New().String())); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Update() of missing rule error = %v, want ErrRuleNotFound", err)
	}
	if err := store.Delete(ctx, uuid.New().String()); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Delete() of missing rule error = %v, want ErrRuleNotFound", err)
	}
}

func TestPostgresRuleStore_ListKeepsInsertionOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := rules.NewPostgresRuleStore(db, createTenant(t, db, "tenant-order"))
	ids := []string{"zeta", "alpha", "mid"}
	for _, id := range ids {
		if err := store.Add(ctx, sampleRule(id)); err != nil {
			t.Fatalf("Add(%s) failed: %v", id, err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	for i, r := range list {
		if r.ID != ids[i] {
			t.Errorf("List()[%d] = %s, want %s", i, r.ID, ids[i])
		}
	}
}

func TestEngine_WithPostgresStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := rules.NewPostgresRuleStore(db, createTenant(t, db, "tenant-engine"))
	defaults, err := rules.DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules() failed: %v", err)
	}
	for _, r := range defaults {
		if err := store.Add(ctx, r); err != nil {
			t.Fatalf("Add(%s) failed: %v", r.ID, err)
		}
	}

	engine, err := rules.NewEngine(ctx, store)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	result, err := engine.CheckCompliance(ctx, rules.ComplianceContext{
		Region:      "US",
		UserProfile: map[string]any{"age": 15},
		Recipe:      map[string]any{"category": "energy"},
	})
	if err != nil {
		t.Fatalf("CheckCompliance() failed: %v", err)
	}
	if result.Compliant {
		t.Error("a 15 year old should fail the energy drink age check")
	}

	if _, err := engine.SetEnabled(ctx, "age-verification-energy", false); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}
	persisted, err := store.Get(ctx, "age-verification-energy")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if persisted.Enabled {
		t.Error("SetEnabled() should write through to Postgres")
	}
}

func TestCascadingDelete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tenantID := createTenant(t, db, "tenant-cascade")
	store := rules.NewPostgresRuleStore(db, tenantID)
	if err := store.Add(ctx, sampleRule("r1")); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	if _, err := db.Exec(`DELETE FROM tenants WHERE id = $1`, tenantID); err != nil {
		t.Fatalf("Failed to delete tenant: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM rules WHERE tenant_id = $1`, tenantID).Scan(&count); err != nil {
		t.Fatalf("Failed to count rules: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rules to be deleted with their tenant, %d remain", count)
	}
}
