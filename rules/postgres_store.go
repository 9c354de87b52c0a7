package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Conditions,
// actions, metadata and the kind settings are stored as JSONB.
type PostgresRuleStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore for a specific tenant
func NewPostgresRuleStore(db *sql.DB, tenantID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		tenantID: tenantID,
	}
}

const ruleColumns = `id, name, description, type, category, priority, enabled,
	conditions, actions, metadata, kind, expression, depends_on, created_at, updated_at`

type encodedRule struct {
	conditions, actions, metadata, kind []byte
}

func encodeRule(rule *Rule) (encodedRule, error) {
	var enc encodedRule
	var err error
	conditions := rule.Conditions
	if conditions == nil {
		conditions = []Condition{}
	}
	actions := rule.Actions
	if actions == nil {
		actions = []Action{}
	}
	if enc.conditions, err = json.Marshal(conditions); err != nil {
		return enc, fmt.Errorf("failed to encode conditions: %w", err)
	}
	if enc.actions, err = json.Marshal(actions); err != nil {
		return enc, fmt.Errorf("failed to encode actions: %w", err)
	}
	if enc.metadata, err = json.Marshal(rule.Metadata); err != nil {
		return enc, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if enc.kind, err = json.Marshal(WrapKind(rule.Kind)); err != nil {
		return enc, fmt.Errorf("failed to encode kind: %w", err)
	}
	return enc, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r         Rule
		ruleType  string
		enc       encodedRule
		dependsOn []string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &ruleType, &r.Category, &r.Priority, &r.Enabled,
		&enc.conditions, &enc.actions, &enc.metadata, &enc.kind, &r.Expression, pq.Array(&dependsOn),
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Type = RuleType(ruleType)
	r.DependsOn = dependsOn

	if err := json.Unmarshal(enc.conditions, &r.Conditions); err != nil {
		return nil, fmt.Errorf("%w: rule %s conditions: %v", ErrMalformedRule, r.ID, err)
	}
	if err := json.Unmarshal(enc.actions, &r.Actions); err != nil {
		return nil, fmt.Errorf("%w: rule %s actions: %v", ErrMalformedRule, r.ID, err)
	}
	if err := json.Unmarshal(enc.metadata, &r.Metadata); err != nil {
		return nil, fmt.Errorf("%w: rule %s metadata: %v", ErrMalformedRule, r.ID, err)
	}
	var env KindEnvelope
	if err := json.Unmarshal(enc.kind, &env); err != nil {
		return nil, fmt.Errorf("%w: rule %s kind: %v", ErrMalformedRule, r.ID, err)
	}
	kind, err := env.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	r.Kind = kind
	if err := r.checkKind(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(ctx context.Context, rule *Rule) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1 AND tenant_id = $2)
	`, rule.ID, s.tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}

	enc, err := encodeRule(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, tenant_id, name, description, type, category, priority, enabled,
			conditions, actions, metadata, kind, expression, depends_on, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, rule.ID, s.tenantID, rule.Name, rule.Description, string(rule.Type), rule.Category, rule.Priority, rule.Enabled,
		enc.conditions, enc.actions, enc.metadata, enc.kind, rule.Expression, pq.Array(nonNil(rule.DependsOn)),
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns all rules for the tenant in insertion order
func (s *PostgresRuleStore) List(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE tenant_id = $1
		ORDER BY position ASC
	`, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule
func (s *PostgresRuleStore) Update(ctx context.Context, rule *Rule) error {
	enc, err := encodeRule(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = $1, description = $2, type = $3, category = $4, priority = $5, enabled = $6,
			conditions = $7, actions = $8, metadata = $9, kind = $10, expression = $11,
			depends_on = $12, updated_at = $13
		WHERE id = $14 AND tenant_id = $15
	`, rule.Name, rule.Description, string(rule.Type), rule.Category, rule.Priority, rule.Enabled,
		enc.conditions, enc.actions, enc.metadata, enc.kind, rule.Expression,
		pq.Array(nonNil(rule.DependsOn)), rule.UpdatedAt, rule.ID, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}

	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	return nil
}
