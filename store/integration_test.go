//go:build integration
// +build integration

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"

	"github.com/liamcoop/reactor/engine"
)

// setupTestDB creates a PostgreSQL container, applies the schema, and
// returns a connection.
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "reactor_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
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

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=reactor_test sslmode=disable", host, port.Port())

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

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "0001_create_rules.up.sql"))
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

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewPostgresRuleStore(db)
	ctx := context.Background()

	ruleID := uuid.New().String()
	rule := &engine.Rule{
		ID:         ruleID,
		Name:       "high-value-orders",
		Enabled:    true,
		Priority:   engine.PriorityHigh,
		Conditions: &engine.Condition{Operator: "gt", Left: "${data.amount}", Right: 100},
		Actions: []*engine.Action{
			{ID: "flag", Type: engine.ActionVariable, Enabled: true,
				Config: map[string]any{"operation": "set", "name": "flagged", "value": true}},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.Save(ctx, rule); err != nil {
		t.Fatalf("Failed to save rule: %v", err)
	}

	retrieved, err := s.Get(ctx, ruleID)
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if retrieved.Name != "high-value-orders" {
		t.Errorf("Expected name 'high-value-orders', got '%s'", retrieved.Name)
	}
	if retrieved.Conditions == nil || retrieved.Conditions.Operator != "gt" {
		t.Errorf("Condition tree did not round-trip: %+v", retrieved.Conditions)
	}
	if len(retrieved.Actions) != 1 || retrieved.Actions[0].Type != engine.ActionVariable {
		t.Errorf("Actions did not round-trip: %+v", retrieved.Actions)
	}

	// Save is an upsert.
	rule.Name = "renamed"
	if err := s.Save(ctx, rule); err != nil {
		t.Fatalf("Failed to upsert rule: %v", err)
	}
	retrieved, err = s.Get(ctx, ruleID)
	if err != nil {
		t.Fatalf("Failed to get rule after upsert: %v", err)
	}
	if retrieved.Name != "renamed" {
		t.Errorf("Expected name 'renamed', got '%s'", retrieved.Name)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 rule, got %d", len(list))
	}

	if err := s.Delete(ctx, ruleID); err != nil {
		t.Fatalf("Failed to delete rule: %v", err)
	}
	if _, err := s.Get(ctx, ruleID); !engine.IsNotFound(err) {
		t.Errorf("Expected NotFoundError after delete, got %v", err)
	}
}

func TestPostgresRuleStore_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewPostgresRuleStore(db)
	ctx := context.Background()

	if _, err := s.Get(ctx, uuid.New().String()); !engine.IsNotFound(err) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
	if err := s.Delete(ctx, uuid.New().String()); !engine.IsNotFound(err) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
}

func TestPostgresRuleStore_ListOrdering(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewPostgresRuleStore(db)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		rule := &engine.Rule{
			ID:        uuid.New().String(),
			Name:      fmt.Sprintf("rule-%d", i),
			Enabled:   true,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := s.Save(ctx, rule); err != nil {
			t.Fatalf("Failed to save rule %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond) // Ensure different timestamps
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("Expected 5 rules, got %d", len(list))
	}
	for i := 0; i < len(list)-1; i++ {
		if list[i].CreatedAt.After(list[i+1].CreatedAt) {
			t.Error("Rules are not ordered by created_at ascending")
		}
	}
}

func TestPostgresRuleStore_LoadIntoEngine(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewPostgresRuleStore(db)
	ctx := context.Background()

	rule := &engine.Rule{
		ID:         uuid.New().String(),
		Name:       "persisted",
		Enabled:    true,
		Conditions: &engine.Condition{Operator: "gt", Left: "${data.amount}", Right: 100},
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := s.Save(ctx, rule); err != nil {
		t.Fatalf("Failed to save rule: %v", err)
	}

	eng := engine.New(engine.DefaultConfig())
	n, err := LoadIntoEngine(ctx, s, eng)
	if err != nil {
		t.Fatalf("Failed to load rules: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 loaded rule, got %d", n)
	}

	report := eng.EvaluateRules(ctx, &engine.EvalContext{Data: map[string]any{"amount": 150}}, engine.EvalOptions{})
	if report.MatchedCount != 1 {
		t.Errorf("Expected the persisted rule to match, got %d", report.MatchedCount)
	}
}
