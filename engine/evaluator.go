package engine

import (
	"context"
	"regexp"
	"strings"
)

// evaluator walks one rule's condition tree against a merged scope,
// recording a trace entry for every node it visits.
type evaluator struct {
	eng   *Engine
	sc    *scope
	rule  *Rule
	trace []TraceEntry
}

func newEvaluator(eng *Engine, sc *scope, rule *Rule) *evaluator {
	return &evaluator{eng: eng, sc: sc, rule: rule}
}

// record appends a trace entry and passes the result through.
func (ev *evaluator) record(operator string, operands []any, result bool, err error) (bool, error) {
	entry := TraceEntry{Operator: operator, Operands: operands, Result: result}
	if err != nil {
		entry.Error = err.Error()
	}
	ev.trace = append(ev.trace, entry)
	return result, err
}

// evaluate decides a condition node. A nil node matches unconditionally.
// depth increments on every descent into a logical operator's children;
// exceeding the configured maximum is fatal for this rule only.
func (ev *evaluator) evaluate(ctx context.Context, cond *Condition, depth int) (bool, error) {
	if cond == nil {
		return true, nil
	}
	if depth > ev.eng.cfg.MaxConditionDepth {
		return false, &DepthExceededError{RuleID: ev.rule.ID, Depth: depth, Max: ev.eng.cfg.MaxConditionDepth}
	}

	if cond.Literal != nil {
		return ev.record("literal", nil, *cond.Literal, nil)
	}
	if cond.Expression != "" {
		return ev.evalExpressionNode(cond.Expression)
	}

	switch cond.Operator {
	case "and":
		return ev.evalAnd(ctx, cond, depth)
	case "or":
		return ev.evalOr(ctx, cond, depth)
	case "not":
		return ev.evalNot(ctx, cond, depth)
	case "xor":
		return ev.evalXor(ctx, cond, depth)
	case "eq", "ne", "gt", "gte", "lt", "lte":
		return ev.evalComparison(cond)
	case "in", "nin":
		return ev.evalMembership(cond)
	case "contains", "startsWith", "endsWith":
		return ev.evalStringOp(cond)
	case "matches":
		return ev.evalMatches(cond)
	case "between":
		return ev.evalBetween(cond)
	case "exists":
		return ev.evalExists(cond)
	case "function":
		return ev.evalFunction(ctx, cond)
	case "":
		return ev.record("", nil, false, configErrorf("condition node has no operator"))
	default:
		return ev.evalCustom(ctx, cond)
	}
}

func (ev *evaluator) evalExpressionNode(src string) (bool, error) {
	if !ev.eng.cfg.AllowUnsafeExpressions {
		return ev.record("expression", []any{src}, false,
			configErrorf("string expression conditions are disabled (AllowUnsafeExpressions is off)"))
	}
	result, err := evalExpression(src, ev.sc)
	return ev.record("expression", []any{src}, result, err)
}

// evalAnd is true for an empty child list and short-circuits on the first
// false child.
func (ev *evaluator) evalAnd(ctx context.Context, cond *Condition, depth int) (bool, error) {
	for _, child := range cond.Conditions {
		matched, err := ev.evaluate(ctx, child, depth+1)
		if err != nil {
			return false, err
		}
		if !matched {
			return ev.record("and", nil, false, nil)
		}
	}
	return ev.record("and", nil, true, nil)
}

// evalOr is false for an empty child list and short-circuits on the first
// true child.
func (ev *evaluator) evalOr(ctx context.Context, cond *Condition, depth int) (bool, error) {
	for _, child := range cond.Conditions {
		matched, err := ev.evaluate(ctx, child, depth+1)
		if err != nil {
			return false, err
		}
		if matched {
			return ev.record("or", nil, true, nil)
		}
	}
	return ev.record("or", nil, false, nil)
}

// evalNot negates its single child; with no child it is true.
func (ev *evaluator) evalNot(ctx context.Context, cond *Condition, depth int) (bool, error) {
	if len(cond.Conditions) == 0 {
		return ev.record("not", nil, true, nil)
	}
	if len(cond.Conditions) > 1 {
		return ev.record("not", nil, false, configErrorf("not expects a single condition, got %d", len(cond.Conditions)))
	}
	matched, err := ev.evaluate(ctx, cond.Conditions[0], depth+1)
	if err != nil {
		return false, err
	}
	return ev.record("not", nil, !matched, nil)
}

// evalXor requires exactly two children and is true iff exactly one is true.
func (ev *evaluator) evalXor(ctx context.Context, cond *Condition, depth int) (bool, error) {
	if len(cond.Conditions) != 2 {
		return ev.record("xor", nil, false, configErrorf("xor expects exactly 2 conditions, got %d", len(cond.Conditions)))
	}
	a, err := ev.evaluate(ctx, cond.Conditions[0], depth+1)
	if err != nil {
		return false, err
	}
	b, err := ev.evaluate(ctx, cond.Conditions[1], depth+1)
	if err != nil {
		return false, err
	}
	return ev.record("xor", nil, a != b, nil)
}

func (ev *evaluator) evalComparison(cond *Condition) (bool, error) {
	left := ev.sc.resolveValue(cond.Left)
	right := ev.sc.resolveValue(cond.Right)
	operands := []any{describeOperand(left), describeOperand(right)}

	switch cond.Operator {
	case "eq":
		return ev.record("eq", operands, equalValues(left, right), nil)
	case "ne":
		return ev.record("ne", operands, !equalValues(left, right), nil)
	}

	cmp, err := orderValues(left, right)
	if err != nil {
		return ev.record(cond.Operator, operands, false, err)
	}
	var result bool
	switch cond.Operator {
	case "gt":
		result = cmp > 0
	case "gte":
		result = cmp >= 0
	case "lt":
		result = cmp < 0
	case "lte":
		result = cmp <= 0
	}
	return ev.record(cond.Operator, operands, result, nil)
}

func (ev *evaluator) evalMembership(cond *Condition) (bool, error) {
	left := ev.sc.resolveValue(cond.Left)
	right := ev.sc.resolveValue(cond.Right)
	operands := []any{describeOperand(left), describeOperand(right)}

	list, ok := toList(right)
	if !ok {
		return ev.record(cond.Operator, operands, false,
			configErrorf("%s expects a list on the right, got %T", cond.Operator, right))
	}
	found := false
	for _, item := range list {
		if equalValues(left, item) {
			found = true
			break
		}
	}
	if cond.Operator == "nin" {
		found = !found
	}
	return ev.record(cond.Operator, operands, found, nil)
}

func (ev *evaluator) evalStringOp(cond *Condition) (bool, error) {
	left := stringify(ev.sc.resolveValue(cond.Left))
	right := stringify(ev.sc.resolveValue(cond.Right))
	operands := []any{left, right}

	var result bool
	switch cond.Operator {
	case "contains":
		result = strings.Contains(left, right)
	case "startsWith":
		result = strings.HasPrefix(left, right)
	case "endsWith":
		result = strings.HasSuffix(left, right)
	}
	return ev.record(cond.Operator, operands, result, nil)
}

func (ev *evaluator) evalMatches(cond *Condition) (bool, error) {
	left := stringify(ev.sc.resolveValue(cond.Left))
	right := ev.sc.resolveValue(cond.Right)
	operands := []any{left, describeOperand(right)}

	var re *regexp.Regexp
	switch pat := right.(type) {
	case *regexp.Regexp:
		re = pat
	case string:
		var err error
		re, err = regexp.Compile(pat)
		if err != nil {
			return ev.record("matches", operands, false, configErrorf("invalid pattern %q: %v", pat, err))
		}
	default:
		return ev.record("matches", operands, false, configErrorf("matches expects a pattern string, got %T", right))
	}
	return ev.record("matches", operands, re.MatchString(left), nil)
}

// evalBetween checks inclusive range membership against a [min, max] pair.
func (ev *evaluator) evalBetween(cond *Condition) (bool, error) {
	left := ev.sc.resolveValue(cond.Left)
	right := ev.sc.resolveValue(cond.Right)
	operands := []any{describeOperand(left), describeOperand(right)}

	bounds, ok := toList(right)
	if !ok || len(bounds) != 2 {
		return ev.record("between", operands, false,
			configErrorf("between expects a [min, max] pair on the right"))
	}
	lo, err := orderValues(left, bounds[0])
	if err != nil {
		return ev.record("between", operands, false, err)
	}
	hi, err := orderValues(left, bounds[1])
	if err != nil {
		return ev.record("between", operands, false, err)
	}
	return ev.record("between", operands, lo >= 0 && hi <= 0, nil)
}

func (ev *evaluator) evalExists(cond *Condition) (bool, error) {
	if cond.Field == "" {
		return ev.record("exists", nil, false, configErrorf("exists requires a field name"))
	}
	return ev.record("exists", []any{cond.Field}, ev.sc.exists(cond.Field), nil)
}

// evalFunction dispatches to a builtin or registered function under the
// function timeout and interprets the result as a boolean.
func (ev *evaluator) evalFunction(ctx context.Context, cond *Condition) (bool, error) {
	if cond.Function == "" {
		return ev.record("function", nil, false, configErrorf("function condition requires a name"))
	}
	fn, ok := ev.eng.functions.lookup(cond.Function)
	if !ok {
		return ev.record("function", []any{cond.Function}, false,
			configErrorf("unknown function %q", cond.Function))
	}

	args := make([]any, len(cond.Args))
	for i, a := range cond.Args {
		args[i] = ev.sc.resolveValue(a)
	}
	operands := append([]any{cond.Function}, args...)

	out, err := runWithTimeout(ctx, "function "+cond.Function, ev.eng.cfg.FunctionTimeout,
		func(cctx context.Context) (any, error) {
			return fn(cctx, args...)
		})
	if err != nil {
		return ev.record("function", operands, false, err)
	}
	return ev.record("function", operands, truthy(out), nil)
}

// evalCustom delegates to a caller-registered operator, passing the whole
// node and the live evaluation context.
func (ev *evaluator) evalCustom(ctx context.Context, cond *Condition) (bool, error) {
	fn, ok := ev.eng.operators.lookup(cond.Operator)
	if !ok {
		return ev.record(cond.Operator, nil, false, configErrorf("unknown operator %q", cond.Operator))
	}

	ec := ev.sc.asEvalContext()
	out, err := runWithTimeout(ctx, "operator "+cond.Operator, ev.eng.cfg.FunctionTimeout,
		func(cctx context.Context) (any, error) {
			return fn(cctx, cond, ec)
		})
	if err != nil {
		return ev.record(cond.Operator, nil, false, err)
	}
	matched, _ := out.(bool)
	return ev.record(cond.Operator, nil, matched, nil)
}
