package engine

import (
	"sync"
	"sync/atomic"
)

// globalScope holds the engine's global variable map: readable by every
// evaluation, writable by variable actions with scope global and by the
// engine's own accessors.
type globalScope struct {
	mu   sync.RWMutex
	vars map[string]any
}

func newGlobalScope() *globalScope {
	return &globalScope{vars: make(map[string]any)}
}

func (g *globalScope) get(name string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vars[name]
	return v, ok
}

func (g *globalScope) set(name string, v any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vars[name] = v
}

func (g *globalScope) del(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.vars, name)
}

func (g *globalScope) snapshot() map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]any, len(g.vars))
	for k, v := range g.vars {
		out[k] = v
	}
	return out
}

// counters are engine-lifetime totals, safe for concurrent updates.
type counters struct {
	EvaluationCalls atomic.Int64
	RulesEvaluated  atomic.Int64
	RulesMatched    atomic.Int64
	ActionsExecuted atomic.Int64
	ActionsFailed   atomic.Int64
	CacheHits       atomic.Int64
	CacheMisses     atomic.Int64
}

// CounterSnapshot is a point-in-time copy of the engine's counters.
type CounterSnapshot struct {
	EvaluationCalls int64 `json:"evaluation_calls"`
	RulesEvaluated  int64 `json:"rules_evaluated"`
	RulesMatched    int64 `json:"rules_matched"`
	ActionsExecuted int64 `json:"actions_executed"`
	ActionsFailed   int64 `json:"actions_failed"`
	CacheHits       int64 `json:"cache_hits"`
	CacheMisses     int64 `json:"cache_misses"`
}

func (c *counters) snapshot() CounterSnapshot {
	return CounterSnapshot{
		EvaluationCalls: c.EvaluationCalls.Load(),
		RulesEvaluated:  c.RulesEvaluated.Load(),
		RulesMatched:    c.RulesMatched.Load(),
		ActionsExecuted: c.ActionsExecuted.Load(),
		ActionsFailed:   c.ActionsFailed.Load(),
		CacheHits:       c.CacheHits.Load(),
		CacheMisses:     c.CacheMisses.Load(),
	}
}
