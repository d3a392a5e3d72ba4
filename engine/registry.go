package engine

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// CreateRule validates and registers a rule. A missing id is assigned,
// statistics start at zero, and group membership is established (creating
// the group on first reference). Capacity limits are enforced for both the
// registry and the rule's group.
func (e *Engine) CreateRule(def *Rule) (*Rule, error) {
	if def == nil {
		return nil, configErrorf("rule definition is nil")
	}
	if err := e.validateRule(def); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.rules) >= e.cfg.MaxRules {
		return nil, configErrorf("registry holds %d rules, maximum is %d", len(e.rules), e.cfg.MaxRules)
	}

	rule := cloneRule(def)
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, exists := e.rules[rule.ID]; exists {
		return nil, configErrorf("rule %s already exists", rule.ID)
	}
	if rule.Priority == "" {
		rule.Priority = PriorityNormal
	}
	for _, a := range rule.Actions {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
	}

	if rule.Group != "" {
		if err := e.attachToGroup(rule.Group, rule.ID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.Stats = RuleStats{}
	e.seq++
	rule.seq = e.seq
	e.rules[rule.ID] = rule

	return cloneRule(rule), nil
}

// UpdateRule applies the allow-listed mutable fields, re-validating any
// replaced conditions or actions, and refreshes UpdatedAt. Cached results
// for the rule are invalidated so a stale definition can never serve a hit.
func (e *Engine) UpdateRule(id string, upd RuleUpdate) (*Rule, error) {
	if upd.Conditions != nil {
		if err := e.validateCondition(upd.Conditions); err != nil {
			return nil, err
		}
	}
	if upd.Actions != nil {
		if err := e.validateActions(upd.Actions); err != nil {
			return nil, err
		}
	}
	if upd.Priority != nil && !upd.Priority.Valid() {
		return nil, configErrorf("unknown priority %q", *upd.Priority)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return nil, &NotFoundError{Kind: "rule", ID: id}
	}

	// Replace rather than mutate: in-flight evaluations hold the copy they
	// fetched at filter time and are unaffected.
	next := cloneRule(rule)

	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.Enabled != nil {
		next.Enabled = *upd.Enabled
	}
	if upd.Priority != nil {
		next.Priority = *upd.Priority
	}
	if upd.Tags != nil {
		next.Tags = slices.Clone(upd.Tags)
	}
	if upd.Timeout != nil {
		next.Timeout = *upd.Timeout
	}
	if upd.Conditions != nil {
		next.Conditions = cloneCondition(upd.Conditions)
	}
	if upd.Actions != nil {
		next.Actions = cloneActions(upd.Actions)
		for _, a := range next.Actions {
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
		}
	}
	if upd.Variables != nil {
		next.Variables = cloneMap(upd.Variables)
	}
	if upd.Group != nil && *upd.Group != rule.Group {
		// Attach before detaching so a full target group leaves the old
		// membership intact.
		if *upd.Group != "" {
			if err := e.attachToGroup(*upd.Group, id); err != nil {
				return nil, err
			}
		}
		e.detachFromGroup(rule.Group, id)
		next.Group = *upd.Group
	}

	next.UpdatedAt = time.Now()
	e.rules[id] = next
	e.cache.invalidateRule(id)

	return cloneRule(next), nil
}

// DeleteRule removes a rule, detaches it from its group (deleting the
// group if it becomes empty), and drops its cached results.
func (e *Engine) DeleteRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return &NotFoundError{Kind: "rule", ID: id}
	}
	e.detachFromGroup(rule.Group, id)
	delete(e.rules, id)
	e.cache.invalidateRule(id)
	return nil
}

// GetRule returns a copy of the rule with the given id.
func (e *Engine) GetRule(id string) (*Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rule, ok := e.rules[id]
	if !ok {
		return nil, &NotFoundError{Kind: "rule", ID: id}
	}
	return cloneRule(rule), nil
}

// ListRules returns copies of the rules matching every supplied filter
// criterion, in registration order.
func (e *Engine) ListRules(filter ListFilter) []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Rule
	for _, rule := range e.rules {
		if matchesFilter(rule, filter) {
			out = append(out, cloneRule(rule))
		}
	}
	slices.SortFunc(out, func(a, b *Rule) int {
		return int(a.seq) - int(b.seq)
	})
	return out
}

// GetGroup returns a copy of the named group.
func (e *Engine) GetGroup(name string) (*Group, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	g, ok := e.groups[name]
	if !ok {
		return nil, &NotFoundError{Kind: "group", ID: name}
	}
	return &Group{Name: g.Name, Mode: g.Mode, MaxRules: g.MaxRules, RuleIDs: slices.Clone(g.RuleIDs)}, nil
}

// SetGroupMode declares a group's execution mode, creating the group if it
// does not exist yet.
func (e *Engine) SetGroupMode(name string, mode GroupMode) error {
	switch mode {
	case GroupSequential, GroupParallel, GroupFirstMatch:
	default:
		return configErrorf("unknown group mode %q", mode)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.groups[name]
	if !ok {
		g = &Group{Name: name, MaxRules: e.cfg.MaxRulesPerGroup}
		e.groups[name] = g
	}
	g.Mode = mode
	return nil
}

// attachToGroup requires e.mu held.
func (e *Engine) attachToGroup(name, ruleID string) error {
	g, ok := e.groups[name]
	if !ok {
		g = &Group{Name: name, Mode: GroupSequential, MaxRules: e.cfg.MaxRulesPerGroup}
		e.groups[name] = g
	}
	if len(g.RuleIDs) >= g.MaxRules {
		return configErrorf("group %s holds %d rules, maximum is %d", name, len(g.RuleIDs), g.MaxRules)
	}
	g.RuleIDs = append(g.RuleIDs, ruleID)
	return nil
}

// detachFromGroup requires e.mu held. Empty groups are deleted.
func (e *Engine) detachFromGroup(name, ruleID string) {
	if name == "" {
		return
	}
	g, ok := e.groups[name]
	if !ok {
		return
	}
	g.RuleIDs = slices.DeleteFunc(g.RuleIDs, func(id string) bool { return id == ruleID })
	if len(g.RuleIDs) == 0 {
		delete(e.groups, name)
	}
}

func matchesFilter(r *Rule, f ListFilter) bool {
	if len(f.RuleIDs) > 0 && !slices.Contains(f.RuleIDs, r.ID) {
		return false
	}
	if len(f.Groups) > 0 && !slices.Contains(f.Groups, r.Group) {
		return false
	}
	if f.Priority != "" && r.Priority != f.Priority {
		return false
	}
	if len(f.Tags) > 0 {
		hit := false
		for _, tag := range f.Tags {
			if slices.Contains(r.Tags, tag) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if f.Enabled != nil && r.Enabled != *f.Enabled {
		return false
	}
	return true
}

// --- copy helpers (copy-on-read semantics for the registry) ---

func cloneRule(r *Rule) *Rule {
	out := *r
	out.Tags = slices.Clone(r.Tags)
	out.Actions = cloneActions(r.Actions)
	out.Conditions = cloneCondition(r.Conditions)
	out.Variables = cloneMap(r.Variables)
	return &out
}

func cloneActions(actions []*Action) []*Action {
	if actions == nil {
		return nil
	}
	out := make([]*Action, len(actions))
	for i, a := range actions {
		cp := *a
		cp.Config = cloneMap(a.Config)
		out[i] = &cp
	}
	return out
}

func cloneCondition(c *Condition) *Condition {
	if c == nil {
		return nil
	}
	out := *c
	if c.Conditions != nil {
		out.Conditions = make([]*Condition, len(c.Conditions))
		for i, child := range c.Conditions {
			out.Conditions[i] = cloneCondition(child)
		}
	}
	out.Args = slices.Clone(c.Args)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
