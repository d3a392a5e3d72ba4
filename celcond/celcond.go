// Package celcond plugs a CEL-backed condition operator into the engine.
// It is the rich, opt-in counterpart to the engine's small built-in
// expression language: the collaborator decides whether to register it,
// the same way the unsafe-expression flag is an explicit opt-in.
//
// Registered as operator "cel", a node evaluates its Left operand as a CEL
// expression over three declared variables: data, variables and metadata.
//
//	{"operator": "cel", "left": "data.amount > 100 && variables.tier == 'gold'"}
package celcond

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/reactor/engine"
)

// costLimit bounds CEL evaluation so a hostile expression cannot exhaust
// the evaluator.
const costLimit = 1_000_000

// Operator compiles and caches CEL programs per expression source.
type Operator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// New creates the operator with an environment exposing the evaluation
// context's three maps as dynamic variables.
func New() (*Operator, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.DynType),
		cel.Variable("variables", cel.DynType),
		cel.Variable("metadata", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Operator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Register wires the operator into an engine under the name "cel".
func Register(eng *engine.Engine) (*Operator, error) {
	op, err := New()
	if err != nil {
		return nil, err
	}
	if err := eng.RegisterOperator("cel", op.Eval); err != nil {
		return nil, err
	}
	return op, nil
}

// Eval implements engine.OperatorFunc. Non-boolean results are false.
func (o *Operator) Eval(ctx context.Context, cond *engine.Condition, ec *engine.EvalContext) (bool, error) {
	src, ok := cond.Left.(string)
	if !ok || src == "" {
		return false, fmt.Errorf("cel operator expects an expression string in left")
	}

	prog, err := o.program(src)
	if err != nil {
		return false, err
	}

	out, _, err := prog.ContextEval(ctx, map[string]any{
		"data":      orEmpty(ec.Data),
		"variables": orEmpty(ec.Variables),
		"metadata":  orEmpty(ec.Metadata),
	})
	if err != nil {
		return false, err
	}
	result, _ := out.Value().(bool)
	return result, nil
}

// program returns the cached compiled program for src, compiling on first
// use with type checking and the cost limit applied.
func (o *Operator) program(src string) (cel.Program, error) {
	o.mu.RLock()
	prog, ok := o.programs[src]
	o.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := o.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := o.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	o.mu.Lock()
	o.programs[src] = prog
	o.mu.Unlock()
	return prog, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
