package engine

import (
	"fmt"
	"regexp"
	"strings"
)

var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// scope is the merged variable view for one rule's evaluation: call-level
// variables shadow rule-local variables, which shadow engine globals. Local
// writes land in the call-level map so they are visible to subsequent
// actions, subsequent rules in the same call, and the caller afterwards.
type scope struct {
	data     map[string]any
	vars     map[string]any // call-level, live
	ruleVars map[string]any
	globals  *globalScope
	meta     map[string]any
	deleted  map[string]struct{}
}

func newScope(ec *EvalContext, rule *Rule, globals *globalScope) *scope {
	if ec.Variables == nil {
		ec.Variables = make(map[string]any)
	}
	var ruleVars map[string]any
	if rule != nil {
		ruleVars = rule.Variables
	}
	return &scope{
		data:     ec.Data,
		vars:     ec.Variables,
		ruleVars: ruleVars,
		globals:  globals,
		meta:     ec.Metadata,
	}
}

// lookup resolves a plain variable name through the layered scope.
func (s *scope) lookup(name string) (any, bool) {
	if _, gone := s.deleted[name]; gone {
		return nil, false
	}
	if v, ok := s.vars[name]; ok {
		return v, true
	}
	if v, ok := s.ruleVars[name]; ok {
		return v, true
	}
	if s.globals != nil {
		if v, ok := s.globals.get(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (s *scope) set(name string, v any) {
	delete(s.deleted, name)
	s.vars[name] = v
}

func (s *scope) del(name string) {
	delete(s.vars, name)
	if s.deleted == nil {
		s.deleted = make(map[string]struct{})
	}
	s.deleted[name] = struct{}{}
}

// resolvePath resolves a `${...}` reference body. Plain names go through
// the variable scope first, then data; dotted paths descend into nested
// maps. The `data.` prefix addresses the data map explicitly.
func (s *scope) resolvePath(path string) (any, bool) {
	if v, ok := s.lookup(path); ok {
		return v, true
	}
	segs := strings.Split(path, ".")
	if segs[0] == "data" {
		if len(segs) == 1 {
			return s.data, s.data != nil
		}
		return descend(s.data, segs[1:])
	}
	if segs[0] == "metadata" && len(segs) > 1 {
		return descend(s.meta, segs[1:])
	}
	if len(segs) > 1 {
		if root, ok := s.lookup(segs[0]); ok {
			return descend(root, segs[1:])
		}
	}
	return descend(s.data, segs)
}

// exists reports field presence in the variable scope or in data.
func (s *scope) exists(field string) bool {
	_, ok := s.resolvePath(field)
	return ok
}

func descend(v any, segs []string) (any, bool) {
	cur := v
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// asEvalContext exposes the scope to custom operators and functions. The
// variables map is the live call-level scope, so mutations made by the
// callee are visible to subsequent actions.
func (s *scope) asEvalContext() *EvalContext {
	return &EvalContext{
		Data:      s.data,
		Variables: s.vars,
		Metadata:  s.meta,
	}
}

// resolveValue resolves operand values before comparison or execution.
// A string that is exactly one `${name}` reference resolves to the
// referenced value, falling back to the literal source string when the
// reference is unresolved. Strings with embedded references are
// interpolated. Lists and maps resolve element-wise.
func (s *scope) resolveValue(v any) any {
	switch val := v.(type) {
	case string:
		if m := refPattern.FindStringSubmatch(val); m != nil && m[0] == val {
			if resolved, ok := s.resolvePath(m[1]); ok {
				return resolved
			}
			return val
		}
		if strings.Contains(val, "${") {
			return s.interpolate(val)
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.resolveValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = s.resolveValue(item)
		}
		return out
	default:
		return v
	}
}

// interpolate substitutes every `${name}` reference inside s with its
// resolved value, leaving unresolved references as literal text.
func (s *scope) interpolate(text string) string {
	return refPattern.ReplaceAllStringFunc(text, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v, ok := s.resolvePath(name); ok {
			return stringify(v)
		}
		return ref
	})
}

// stringify renders a resolved value for string operators and interpolation.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
