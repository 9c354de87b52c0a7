package multitenantengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/liamcoop/ruleengine/rules"
)

var (
	// ErrTenantNotFound is returned for tenants that have no loaded engine
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantExists is returned when creating a tenant that is already loaded
	ErrTenantExists = errors.New("tenant already loaded")
)

// StoreFactory returns the rule store backing one tenant
type StoreFactory func(tenantID string) (rules.RuleStore, error)

// PostgresStoreFactory serves each tenant from its rows of the rules table
func PostgresStoreFactory(db *sql.DB) StoreFactory {
	return func(tenantID string) (rules.RuleStore, error) {
		return rules.NewPostgresRuleStore(db, tenantID), nil
	}
}

// TenantEngine wraps a rules.Engine with tenant-specific metadata
type TenantEngine struct {
	TenantID string
	Engine   *rules.Engine
	RuleSet  int
	LoadedAt time.Time
}

// Manager owns one engine per tenant. Engines are immutable snapshots: a
// reload builds and validates a new engine before swapping it in.
type Manager struct {
	engines map[string]*TenantEngine
	db      *sql.DB
	stores  StoreFactory
	options []rules.Option
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewManager creates a manager. db is only needed by LoadAllTenants and may
// be nil when tenants are created explicitly. opts are applied to every
// tenant engine.
func NewManager(db *sql.DB, stores StoreFactory, logger *slog.Logger, opts ...rules.Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if stores == nil && db != nil {
		stores = PostgresStoreFactory(db)
	}
	return &Manager{
		engines: make(map[string]*TenantEngine),
		db:      db,
		stores:  stores,
		options: opts,
		logger:  logger,
	}
}

// LoadAllTenants builds an engine for every active tenant in the database
// and returns how many were loaded
func (m *Manager) LoadAllTenants(ctx context.Context) (int, error) {
	if m.db == nil {
		return 0, errors.New("tenant loading requires a database")
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id
		FROM tenants
		WHERE active = true
		ORDER BY created_at ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch tenants: %w", err)
	}
	defer rows.Close()

	var tenantIDs []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return 0, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		tenantIDs = append(tenantIDs, tenantID)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating tenant rows: %w", err)
	}

	loaded := 0
	for _, tenantID := range tenantIDs {
		if err := m.ReloadTenant(ctx, tenantID); err != nil {
			return loaded, fmt.Errorf("failed to initialize tenant %s: %w", tenantID, err)
		}
		loaded++
	}

	m.logger.InfoContext(ctx, "Tenants loaded", "tenant_count", loaded)
	return loaded, nil
}

// CreateTenant builds and registers the engine of a tenant not yet loaded
func (m *Manager) CreateTenant(ctx context.Context, tenantID string) error {
	m.mu.RLock()
	_, exists := m.engines[tenantID]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrTenantExists, tenantID)
	}

	te, err := m.buildEngine(ctx, tenantID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.engines[tenantID]; exists {
		m.mu.Unlock()
		te.Engine.Close()
		return fmt.Errorf("%w: %s", ErrTenantExists, tenantID)
	}
	m.engines[tenantID] = te
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Tenant created", "tenant_id", tenantID, "rule_count", te.RuleSet)
	return nil
}

// ReloadTenant rebuilds a tenant's engine from its store and swaps it in.
// If the new rule set fails validation the current engine keeps serving.
// Unknown tenants are created.
//
// The replaced engine is left open so callers that already hold it finish
// against the old rule set; it is released once they drop it.
func (m *Manager) ReloadTenant(ctx context.Context, tenantID string) error {
	te, err := m.buildEngine(ctx, tenantID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	previous := m.engines[tenantID]
	m.engines[tenantID] = te
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Tenant engine swapped",
		"tenant_id", tenantID,
		"rule_count", te.RuleSet,
		"replaced", previous != nil,
	)
	return nil
}

func (m *Manager) buildEngine(ctx context.Context, tenantID string) (*TenantEngine, error) {
	if m.stores == nil {
		return nil, errors.New("no rule store factory configured")
	}
	store, err := m.stores(tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to open store for tenant %s: %w", tenantID, err)
	}

	opts := slices.Concat(m.options, []rules.Option{
		rules.WithLogger(m.logger.With("tenant_id", tenantID)),
	})
	engine, err := rules.NewEngine(ctx, store, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	ruleSet := engine.Rules()
	if err := ValidateRuleSet(ruleSet); err != nil {
		engine.Close()
		m.logger.WarnContext(ctx, "Rejected tenant rule set", "tenant_id", tenantID, "error", err)
		return nil, fmt.Errorf("invalid rule set for tenant %s: %w", tenantID, err)
	}

	return &TenantEngine{
		TenantID: tenantID,
		Engine:   engine,
		RuleSet:  len(ruleSet),
		LoadedAt: time.Now(),
	}, nil
}

// GetEngine retrieves the engine for a specific tenant
func (m *Manager) GetEngine(tenantID string) (*rules.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	te, exists := m.engines[tenantID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return te.Engine, nil
}

// Tenant returns the metadata of a loaded tenant
func (m *Manager) Tenant(tenantID string) (TenantEngine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	te, ok := m.engines[tenantID]
	if !ok {
		return TenantEngine{}, false
	}
	return *te, true
}

// ListTenants returns all loaded tenant IDs, sorted
func (m *Manager) ListTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]string, 0, len(m.engines))
	for tenantID := range m.engines {
		tenants = append(tenants, tenantID)
	}
	slices.Sort(tenants)
	return tenants
}

// DeleteTenant closes and unloads a tenant's engine.
// The tenant's rows in the database are left alone.
func (m *Manager) DeleteTenant(tenantID string) error {
	m.mu.Lock()
	te, exists := m.engines[tenantID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	delete(m.engines, tenantID)
	m.mu.Unlock()

	return te.Engine.Close()
}

// Close closes every tenant engine
func (m *Manager) Close() error {
	m.mu.Lock()
	engines := m.engines
	m.engines = make(map[string]*TenantEngine)
	m.mu.Unlock()

	var errs []error
	for _, te := range engines {
		if err := te.Engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
