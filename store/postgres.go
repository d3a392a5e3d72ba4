package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/reactor/engine"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Rule
// definitions are stored as JSONB; the schema lives in migrations/ and is
// managed with golang-migrate (see cmd/migrate).
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a PostgreSQL-backed rule store.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

func (s *PostgresRuleStore) Save(ctx context.Context, rule *engine.Rule) error {
	definition, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to serialize rule %s: %w", rule.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, definition, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET definition = EXCLUDED.definition,
		    enabled = EXCLUDED.enabled,
		    updated_at = EXCLUDED.updated_at
	`, rule.ID, definition, rule.Enabled, rule.CreatedAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*engine.Rule, error) {
	var definition []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT definition FROM rules WHERE id = $1
	`, id).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, &engine.NotFoundError{Kind: "rule", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return decodeRule(definition)
}

func (s *PostgresRuleStore) List(ctx context.Context) ([]*engine.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition FROM rules ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*engine.Rule
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule, err := decodeRule(definition)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	if affected == 0 {
		return &engine.NotFoundError{Kind: "rule", ID: id}
	}
	return nil
}

func decodeRule(definition []byte) (*engine.Rule, error) {
	var rule engine.Rule
	if err := json.Unmarshal(definition, &rule); err != nil {
		return nil, fmt.Errorf("invalid stored rule definition: %w", err)
	}
	return &rule, nil
}
