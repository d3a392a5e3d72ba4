// Package store provides reference persistence for rule definitions.
// Persistence is a caller concern: the engine itself holds rules in
// memory, and a server wires a RuleStore around it to survive restarts.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/liamcoop/reactor/engine"
)

// RuleStore persists rule definitions. Implementations must be safe for
// concurrent use.
type RuleStore interface {
	// Save upserts a rule definition.
	Save(ctx context.Context, rule *engine.Rule) error

	// Get retrieves a rule definition by id.
	Get(ctx context.Context, id string) (*engine.Rule, error)

	// List returns all stored rule definitions.
	List(ctx context.Context) ([]*engine.Rule, error)

	// Delete removes a rule definition.
	Delete(ctx context.Context, id string) error
}

// LoadIntoEngine seeds an engine from a store, registering every stored
// definition. Rules that fail validation abort the load; a store should
// only ever hold definitions the engine accepted.
func LoadIntoEngine(ctx context.Context, s RuleStore, eng *engine.Engine) (int, error) {
	rules, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	for i, rule := range rules {
		if _, err := eng.CreateRule(rule); err != nil {
			return i, fmt.Errorf("loading rule %s: %w", rule.ID, err)
		}
	}
	return len(rules), nil
}

// InMemoryRuleStore implements RuleStore with a map. It backs tests and
// deployments that do not need durability.
type InMemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]*engine.Rule
}

// NewInMemoryRuleStore creates an empty in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{rules: make(map[string]*engine.Rule)}
}

func (s *InMemoryRuleStore) Save(_ context.Context, rule *engine.Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("cannot store a rule without an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
	return nil
}

func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*engine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, &engine.NotFoundError{Kind: "rule", ID: id}
	}
	return rule, nil
}

func (s *InMemoryRuleStore) List(_ context.Context) ([]*engine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule)
	}
	return out, nil
}

func (s *InMemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return &engine.NotFoundError{Kind: "rule", ID: id}
	}
	delete(s.rules, id)
	return nil
}
