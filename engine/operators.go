package engine

import (
	"context"
	"sync"
)

// OperatorFunc is a caller-registered condition operator. It receives the
// full condition node and the live evaluation context and decides the
// node's boolean outcome. It runs under the configured function timeout.
type OperatorFunc func(ctx context.Context, cond *Condition, ec *EvalContext) (bool, error)

// builtinOperators is the fixed operator vocabulary handled directly by
// the evaluator. Custom operators may not shadow these.
var builtinOperators = map[string]bool{
	"and": true, "or": true, "not": true, "xor": true,
	"eq": true, "ne": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "nin": true,
	"contains": true, "startsWith": true, "endsWith": true,
	"matches": true, "between": true, "exists": true, "function": true,
}

// operatorSet holds caller-registered operators. Safe for concurrent use.
type operatorSet struct {
	mu  sync.RWMutex
	ops map[string]OperatorFunc
}

func newOperatorSet() *operatorSet {
	return &operatorSet{ops: make(map[string]OperatorFunc)}
}

func (s *operatorSet) register(name string, fn OperatorFunc) error {
	if name == "" || fn == nil {
		return configErrorf("operator registration requires a name and a function")
	}
	if builtinOperators[name] {
		return configErrorf("cannot override builtin operator %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[name] = fn
	return nil
}

func (s *operatorSet) lookup(name string) (OperatorFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.ops[name]
	return fn, ok
}

// known reports whether name is a valid operator, builtin or registered.
func (s *operatorSet) known(name string) bool {
	if builtinOperators[name] {
		return true
	}
	_, ok := s.lookup(name)
	return ok
}
