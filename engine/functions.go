package engine

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

// FunctionFunc is a callable condition function, builtin or
// caller-registered, dispatched by the `function` operator and by custom
// actions. Runs under the configured function timeout.
type FunctionFunc func(ctx context.Context, args ...any) (any, error)

// functionSet holds builtin and caller-registered functions.
type functionSet struct {
	mu  sync.RWMutex
	fns map[string]FunctionFunc
}

func newFunctionSet() *functionSet {
	s := &functionSet{fns: make(map[string]FunctionFunc)}
	for name, fn := range builtinFunctions() {
		s.fns[name] = fn
	}
	return s
}

func (s *functionSet) register(name string, fn FunctionFunc) error {
	if name == "" || fn == nil {
		return configErrorf("function registration requires a name and a function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns[name] = fn
	return nil
}

func (s *functionSet) lookup(name string) (FunctionFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.fns[name]
	return fn, ok
}

func builtinFunctions() map[string]FunctionFunc {
	return map[string]FunctionFunc{
		"len": func(_ context.Context, args ...any) (any, error) {
			if len(args) != 1 {
				return nil, configErrorf("len expects 1 argument, got %d", len(args))
			}
			switch v := args[0].(type) {
			case string:
				return float64(len(v)), nil
			case []any:
				return float64(len(v)), nil
			case map[string]any:
				return float64(len(v)), nil
			case nil:
				return float64(0), nil
			default:
				return nil, configErrorf("len does not apply to %T", args[0])
			}
		},
		"upper": stringFn("upper", strings.ToUpper),
		"lower": stringFn("lower", strings.ToLower),
		"trim":  stringFn("trim", strings.TrimSpace),
		"abs": func(_ context.Context, args ...any) (any, error) {
			f, err := singleNumber("abs", args)
			if err != nil {
				return nil, err
			}
			return math.Abs(f), nil
		},
		"round": func(_ context.Context, args ...any) (any, error) {
			f, err := singleNumber("round", args)
			if err != nil {
				return nil, err
			}
			return math.Round(f), nil
		},
		"min": reduceFn("min", math.Min),
		"max": reduceFn("max", math.Max),
		"now": func(_ context.Context, args ...any) (any, error) {
			if len(args) != 0 {
				return nil, configErrorf("now expects no arguments")
			}
			return time.Now().UTC().Format(time.RFC3339), nil
		},
		"coalesce": func(_ context.Context, args ...any) (any, error) {
			for _, a := range args {
				if a != nil && a != "" {
					return a, nil
				}
			}
			return nil, nil
		},
		"concat": func(_ context.Context, args ...any) (any, error) {
			var sb strings.Builder
			for _, a := range args {
				sb.WriteString(stringify(a))
			}
			return sb.String(), nil
		},
	}
}

func stringFn(name string, fn func(string) string) FunctionFunc {
	return func(_ context.Context, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, configErrorf("%s expects 1 argument, got %d", name, len(args))
		}
		return fn(stringify(args[0])), nil
	}
}

func singleNumber(name string, args []any) (float64, error) {
	if len(args) != 1 {
		return 0, configErrorf("%s expects 1 argument, got %d", name, len(args))
	}
	f, ok := toFloat(args[0])
	if !ok {
		return 0, configErrorf("%s expects a number, got %T", name, args[0])
	}
	return f, nil
}

func reduceFn(name string, fn func(float64, float64) float64) FunctionFunc {
	return func(_ context.Context, args ...any) (any, error) {
		if len(args) == 0 {
			return nil, configErrorf("%s expects at least 1 argument", name)
		}
		acc, ok := toFloat(args[0])
		if !ok {
			return nil, configErrorf("%s expects numbers, got %T", name, args[0])
		}
		for _, a := range args[1:] {
			f, ok := toFloat(a)
			if !ok {
				return nil, configErrorf("%s expects numbers, got %T", name, a)
			}
			acc = fn(acc, f)
		}
		return acc, nil
	}
}
