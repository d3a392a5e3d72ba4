package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// toFloat coerces the numeric types JSON decoding and Go callers produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// equalValues implements eq/ne semantics: numeric values compare by value
// regardless of concrete type, everything else by deep equality.
func equalValues(left, right any) bool {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls == rs
		}
	}
	return reflect.DeepEqual(left, right)
}

// orderValues compares left and right for gt/gte/lt/lte: -1, 0 or 1.
// Numbers (including numeric strings) compare numerically, strings
// lexically; anything else is a configuration error.
func orderValues(left, right any) (int, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch {
		case lf < rf:
			return -1, nil
		case lf > rf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch {
		case ls < rs:
			return -1, nil
		case ls > rs:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, configErrorf("cannot order %T against %T", left, right)
}

// toList normalizes a resolved operand into a []any for in/nin/between.
func toList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			out := make([]any, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				out[i] = rv.Index(i).Interface()
			}
			return out, true
		}
		return nil, false
	}
}

// truthy converts an expression result into the boolean a condition needs.
// Non-boolean results are false, matching the engine's treatment of
// non-boolean expressions elsewhere.
func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// describeOperand renders an operand for trace entries.
func describeOperand(v any) any {
	switch v.(type) {
	case nil, bool, string, float64, int, int64:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
