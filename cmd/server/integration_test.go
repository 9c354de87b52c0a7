//go:build integration

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/ruleengine/internal/config"
	"github.com/liamcoop/ruleengine/rules"
)

// setupTestDB creates a PostgreSQL testcontainer, runs migrations and
// returns the connection string alongside the handle
func setupTestDB(t *testing.T) (*sql.DB, string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	for i := 0; i < 30; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migration, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration: %v", err)
	}
	if _, err := db.Exec(string(migration)); err != nil {
		t.Fatalf("Failed to run migration: %v", err)
	}

	return db, connStr, func() {
		db.Close()
		postgres.Terminate(ctx)
	}
}

func seedTenant(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	var tenantID string
	require.NoError(t, db.QueryRow(`INSERT INTO tenants (name) VALUES ($1) RETURNING id`, name).Scan(&tenantID))

	defaults, err := rules.DefaultRules()
	require.NoError(t, err)
	store := rules.NewPostgresRuleStore(db, tenantID)
	for _, r := range defaults {
		require.NoError(t, store.Add(context.Background(), r))
	}
	return tenantID
}

func TestEndToEnd_PostgresTenants(t *testing.T) {
	db, connStr, cleanup := setupTestDB(t)
	defer cleanup()

	acme := seedTenant(t, db, "acme")
	globex := seedTenant(t, db, "globex")

	cfg := testConfig(t)
	cfg.Rules.Source = config.SourcePostgres
	cfg.Database.URL = connStr
	cfg.Rules.TenantID = acme
	require.NoError(t, config.Validate(cfg))

	s, err := NewServer(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer s.Close()

	rec := doRequest(t, s, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decodeBody[map[string]any](t, rec)["tenantsLoaded"])

	// Disabling dark mode for globex leaves acme untouched
	rec = doRequest(t, s, http.MethodPatch, "/api/v1/rules/dark-mode", map[string]any{"enabled": false}, tenantHeader, globex)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, s, http.MethodPost, "/api/v1/features", rules.FeatureContext{Feature: "dark-mode"}, tenantHeader, globex)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[rules.GatingResult](t, rec).Enabled)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/features", rules.FeatureContext{Feature: "dark-mode"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[rules.GatingResult](t, rec).Enabled, "default tenant is acme")

	// The toggle was written through, so it survives a reload
	rec = doRequest(t, s, http.MethodPost, "/api/v1/tenants/"+globex+"/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, s, http.MethodGet, "/api/v1/rules/dark-mode", nil, tenantHeader, globex)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[rules.Rule](t, rec).Enabled)
}
