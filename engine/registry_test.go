package engine

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestCreateRuleAssignsIDAndDefaults(t *testing.T) {
	e := testEngine(t)

	created := mustCreate(t, e, &Rule{
		Name:    "defaults",
		Enabled: true,
		Actions: []*Action{
			{Type: ActionLog, Enabled: true, Config: map[string]any{"message": "hi"}},
		},
	})

	if created.ID == "" {
		t.Error("a missing rule id should be assigned")
	}
	if created.Priority != PriorityNormal {
		t.Errorf("priority = %s, want normal", created.Priority)
	}
	if created.Actions[0].ID == "" {
		t.Error("a missing action id should be assigned")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
	if created.Stats.EvaluationCount != 0 {
		t.Error("statistics should start at zero")
	}
}

func TestCreateRuleRejectsInvalidDefinitions(t *testing.T) {
	e := testEngine(t)

	cases := []struct {
		name string
		rule *Rule
	}{
		{"nil", nil},
		{"no name", &Rule{}},
		{"bad priority", &Rule{Name: "r", Priority: "urgent"}},
		{"unknown operator", &Rule{Name: "r", Conditions: &Condition{Operator: "frobnicate"}}},
		{"unknown action type", &Rule{Name: "r", Actions: []*Action{{Type: "email"}}}},
		{"webhook without url", &Rule{Name: "r", Actions: []*Action{
			{Type: ActionWebhook, Config: map[string]any{}},
		}}},
	}
	for _, tc := range cases {
		if _, err := e.CreateRule(tc.rule); !IsConfiguration(err) {
			t.Errorf("%s: want ConfigurationError, got %v", tc.name, err)
		}
	}
}

func TestCreateRuleDuplicateID(t *testing.T) {
	e := testEngine(t)
	mustCreate(t, e, &Rule{ID: "dup", Name: "first"})
	if _, err := e.CreateRule(&Rule{ID: "dup", Name: "second"}); !IsConfiguration(err) {
		t.Errorf("duplicate id should be a ConfigurationError, got %v", err)
	}
}

func TestCreateRuleCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRules = 2
	e := New(cfg)

	mustCreate(t, e, &Rule{Name: "one"})
	mustCreate(t, e, &Rule{Name: "two"})
	if _, err := e.CreateRule(&Rule{Name: "three"}); !IsConfiguration(err) {
		t.Errorf("over-capacity create should be a ConfigurationError, got %v", err)
	}

	// Deleting frees capacity.
	rules := e.ListRules(ListFilter{})
	if err := e.DeleteRule(rules[0].ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	mustCreate(t, e, &Rule{Name: "three"})
}

func TestMaxActionsPerRule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActionsPerRule = 2
	e := New(cfg)

	actions := make([]*Action, 3)
	for i := range actions {
		actions[i] = &Action{Type: ActionLog, Config: map[string]any{"message": "m"}}
	}
	if _, err := e.CreateRule(&Rule{Name: "r", Actions: actions}); !IsConfiguration(err) {
		t.Errorf("too many actions should be a ConfigurationError, got %v", err)
	}
}

func TestGetRuleReturnsCopy(t *testing.T) {
	e := testEngine(t)
	created := mustCreate(t, e, &Rule{Name: "isolated", Tags: []string{"a"}})

	got, err := e.GetRule(created.ID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	got.Name = "mutated"
	got.Tags[0] = "z"

	again, err := e.GetRule(created.ID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if again.Name != "isolated" || again.Tags[0] != "a" {
		t.Error("mutating a returned rule should not affect the registry")
	}
}

func TestGetRuleNotFound(t *testing.T) {
	e := testEngine(t)
	_, err := e.GetRule("nope")
	if !IsNotFound(err) {
		t.Errorf("want NotFoundError, got %v", err)
	}
}

func TestUpdateRuleAppliesOnlyProvidedFields(t *testing.T) {
	e := testEngine(t)
	created := mustCreate(t, e, &Rule{
		Name:        "original",
		Description: "desc",
		Enabled:     true,
		Priority:    PriorityHigh,
		Tags:        []string{"keep"},
	})

	high := PriorityCritical
	updated, err := e.UpdateRule(created.ID, RuleUpdate{
		Name:     strPtr("renamed"),
		Priority: &high,
	})
	if err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}

	if updated.Name != "renamed" {
		t.Errorf("name = %s, want renamed", updated.Name)
	}
	if updated.Priority != PriorityCritical {
		t.Errorf("priority = %s, want critical", updated.Priority)
	}
	if updated.Description != "desc" || !updated.Enabled || len(updated.Tags) != 1 {
		t.Error("fields not named in the update should be untouched")
	}
	if updated.UpdatedAt.Before(created.UpdatedAt) {
		t.Error("UpdatedAt should be refreshed")
	}
	if updated.CreatedAt != created.CreatedAt {
		t.Error("CreatedAt should never change")
	}
}

func TestUpdateRuleValidatesReplacement(t *testing.T) {
	e := testEngine(t)
	created := mustCreate(t, e, &Rule{Name: "r"})

	if _, err := e.UpdateRule(created.ID, RuleUpdate{
		Conditions: &Condition{Operator: "bogus"},
	}); !IsConfiguration(err) {
		t.Errorf("invalid replacement conditions should fail, got %v", err)
	}

	bad := Priority("urgent")
	if _, err := e.UpdateRule(created.ID, RuleUpdate{Priority: &bad}); !IsConfiguration(err) {
		t.Errorf("invalid replacement priority should fail, got %v", err)
	}

	// The rule is unchanged after failed updates.
	got, _ := e.GetRule(created.ID)
	if got.Conditions != nil || got.Priority != PriorityNormal {
		t.Error("failed updates must not partially apply")
	}
}

func TestUpdateRuleNotFound(t *testing.T) {
	e := testEngine(t)
	if _, err := e.UpdateRule("ghost", RuleUpdate{Name: strPtr("x")}); !IsNotFound(err) {
		t.Errorf("want NotFoundError, got %v", err)
	}
}

func TestDeleteRuleNotFound(t *testing.T) {
	e := testEngine(t)
	if err := e.DeleteRule("ghost"); !IsNotFound(err) {
		t.Errorf("want NotFoundError, got %v", err)
	}
}

func TestListRulesFilters(t *testing.T) {
	e := testEngine(t)
	mustCreate(t, e, &Rule{ID: "r1", Name: "r1", Enabled: true, Priority: PriorityHigh, Tags: []string{"billing"}})
	mustCreate(t, e, &Rule{ID: "r2", Name: "r2", Enabled: false, Priority: PriorityHigh, Tags: []string{"fraud"}})
	mustCreate(t, e, &Rule{ID: "r3", Name: "r3", Enabled: true, Priority: PriorityLow, Tags: []string{"billing", "fraud"}, Group: "g"})

	if got := len(e.ListRules(ListFilter{})); got != 3 {
		t.Errorf("unfiltered list has %d rules, want 3", got)
	}
	if got := len(e.ListRules(ListFilter{Priority: PriorityHigh})); got != 2 {
		t.Errorf("priority filter matched %d, want 2", got)
	}
	enabled := true
	if got := len(e.ListRules(ListFilter{Enabled: &enabled})); got != 2 {
		t.Errorf("enabled filter matched %d, want 2", got)
	}
	if got := len(e.ListRules(ListFilter{Tags: []string{"fraud"}})); got != 2 {
		t.Errorf("tag filter matched %d, want 2", got)
	}
	if got := len(e.ListRules(ListFilter{Groups: []string{"g"}})); got != 1 {
		t.Errorf("group filter matched %d, want 1", got)
	}
	// Filters combine with AND.
	if got := len(e.ListRules(ListFilter{Priority: PriorityHigh, Tags: []string{"fraud"}})); got != 1 {
		t.Errorf("combined filter matched %d, want 1", got)
	}
	if got := len(e.ListRules(ListFilter{RuleIDs: []string{"r1", "r3"}})); got != 2 {
		t.Errorf("id filter matched %d, want 2", got)
	}
}

func TestListRulesRegistrationOrder(t *testing.T) {
	e := testEngine(t)
	for _, name := range []string{"first", "second", "third"} {
		mustCreate(t, e, &Rule{Name: name})
	}
	rules := e.ListRules(ListFilter{})
	for i, want := range []string{"first", "second", "third"} {
		if rules[i].Name != want {
			t.Errorf("rules[%d] = %s, want %s", i, rules[i].Name, want)
		}
	}
}

func TestGroupLifecycle(t *testing.T) {
	e := testEngine(t)

	r1 := mustCreate(t, e, &Rule{Name: "g1", Group: "checks"})
	r2 := mustCreate(t, e, &Rule{Name: "g2", Group: "checks"})

	g, err := e.GetGroup("checks")
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if g.Mode != GroupSequential {
		t.Errorf("new groups default to sequential, got %s", g.Mode)
	}
	if len(g.RuleIDs) != 2 {
		t.Fatalf("group has %d members, want 2", len(g.RuleIDs))
	}

	if err := e.SetGroupMode("checks", GroupFirstMatch); err != nil {
		t.Fatalf("SetGroupMode failed: %v", err)
	}
	g, _ = e.GetGroup("checks")
	if g.Mode != GroupFirstMatch {
		t.Errorf("mode = %s, want first-match", g.Mode)
	}

	if err := e.SetGroupMode("checks", "random"); !IsConfiguration(err) {
		t.Errorf("unknown mode should be a ConfigurationError, got %v", err)
	}

	// Deleting the last member deletes the group.
	if err := e.DeleteRule(r1.ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if err := e.DeleteRule(r2.ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if _, err := e.GetGroup("checks"); !IsNotFound(err) {
		t.Errorf("empty group should be gone, got %v", err)
	}
}

func TestGroupCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRulesPerGroup = 1
	e := New(cfg)

	mustCreate(t, e, &Rule{Name: "fits", Group: "small"})
	if _, err := e.CreateRule(&Rule{Name: "overflow", Group: "small"}); !IsConfiguration(err) {
		t.Errorf("over-capacity group create should fail, got %v", err)
	}
}

func TestUpdateRuleMovesGroups(t *testing.T) {
	e := testEngine(t)
	created := mustCreate(t, e, &Rule{Name: "mover", Group: "a"})
	mustCreate(t, e, &Rule{Name: "anchor", Group: "a"})

	updated, err := e.UpdateRule(created.ID, RuleUpdate{Group: strPtr("b")})
	if err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}
	if updated.Group != "b" {
		t.Errorf("group = %s, want b", updated.Group)
	}

	a, _ := e.GetGroup("a")
	if len(a.RuleIDs) != 1 {
		t.Errorf("old group has %d members, want 1", len(a.RuleIDs))
	}
	b, _ := e.GetGroup("b")
	if len(b.RuleIDs) != 1 || b.RuleIDs[0] != created.ID {
		t.Errorf("new group members = %v, want [%s]", b.RuleIDs, created.ID)
	}
}

func TestUpdateRuleGroupMoveToFullGroupKeepsOldMembership(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRulesPerGroup = 1
	e := New(cfg)

	mustCreate(t, e, &Rule{Name: "occupant", Group: "full"})
	mover := mustCreate(t, e, &Rule{Name: "mover", Group: "home"})

	if _, err := e.UpdateRule(mover.ID, RuleUpdate{Group: strPtr("full")}); !IsConfiguration(err) {
		t.Fatalf("move into a full group should fail, got %v", err)
	}

	// The failed move leaves the old membership intact.
	home, err := e.GetGroup("home")
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if len(home.RuleIDs) != 1 || home.RuleIDs[0] != mover.ID {
		t.Errorf("home members = %v, want [%s]", home.RuleIDs, mover.ID)
	}
	got, _ := e.GetRule(mover.ID)
	if got.Group != "home" {
		t.Errorf("rule group = %s, want home", got.Group)
	}
}

func TestUpdateRuleTimeout(t *testing.T) {
	e := testEngine(t)
	created := mustCreate(t, e, &Rule{Name: "r"})

	d := 2 * time.Second
	updated, err := e.UpdateRule(created.ID, RuleUpdate{Timeout: &d})
	if err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}
	if updated.Timeout != d {
		t.Errorf("timeout = %s, want %s", updated.Timeout, d)
	}
}
