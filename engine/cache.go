package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// cacheEntry is a memoized condition result: the match outcome and the
// trace that explains it. Action results are never cached.
type cacheEntry struct {
	matched bool
	trace   []TraceEntry
}

// evalCache memoizes condition results keyed by a fingerprint of the rule
// id and the evaluation context. It is a pure optimization: on capacity
// overflow it is cleared wholesale rather than partially evicted, and
// entries for a rule are invalidated whenever that rule changes.
type evalCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	max     int
}

func newEvalCache(max int) *evalCache {
	return &evalCache{
		entries: make(map[string]cacheEntry),
		max:     max,
	}
}

// fingerprint builds a stable cache key from the rule id plus a
// canonicalized serialization of data and the full variable scope,
// globals included: conditions resolve through the merged scope, so a
// global write must produce a different key.
// encoding/json sorts map keys, which gives the canonical ordering.
// Unserializable contexts yield no key and are simply not cached.
func fingerprint(ruleID string, data, vars, globals map[string]any) (string, bool) {
	payload := struct {
		Data    map[string]any `json:"data"`
		Vars    map[string]any `json:"vars"`
		Globals map[string]any `json:"globals"`
	}{Data: data, Vars: vars, Globals: globals}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(append([]byte(ruleID+"\x00"), raw...))
	return ruleID + "\x00" + hex.EncodeToString(sum[:]), true
}

func (c *evalCache) get(key string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *evalCache) put(key string, entry cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.entries = make(map[string]cacheEntry)
	}
	// Store a copy of the trace so later report readers cannot mutate it.
	trace := make([]TraceEntry, len(entry.trace))
	copy(trace, entry.trace)
	entry.trace = trace
	c.entries[key] = entry
}

// invalidateRule drops every entry written for ruleID. Called on
// UpdateRule/DeleteRule so a stale definition can never serve a hit.
func (c *evalCache) invalidateRule(ruleID string) {
	prefix := ruleID + "\x00"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}

func (c *evalCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *evalCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
