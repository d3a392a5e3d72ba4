package celcond

import (
	"context"
	"testing"

	"github.com/liamcoop/reactor/engine"
)

func TestEvalAgainstContext(t *testing.T) {
	op, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ec := &engine.EvalContext{
		Data:      map[string]any{"amount": 150.0, "status": "open"},
		Variables: map[string]any{"tier": "gold"},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`data.amount > 100.0`, true},
		{`data.amount > 1000.0`, false},
		{`data.status == 'open' && variables.tier == 'gold'`, true},
		{`'amount' in data`, true},
		{`data.amount * 2.0 == 300.0`, true},
	}
	for _, tc := range cases {
		got, err := op.Eval(context.Background(), &engine.Condition{Operator: "cel", Left: tc.expr}, ec)
		if err != nil {
			t.Errorf("%q: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	op, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ec := &engine.EvalContext{}

	if _, err := op.Eval(context.Background(), &engine.Condition{Operator: "cel"}, ec); err == nil {
		t.Error("missing expression should fail")
	}
	if _, err := op.Eval(context.Background(), &engine.Condition{Operator: "cel", Left: "1 +"}, ec); err == nil {
		t.Error("malformed expression should fail")
	}
}

func TestNonBooleanResultIsFalse(t *testing.T) {
	op, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, err := op.Eval(context.Background(),
		&engine.Condition{Operator: "cel", Left: `1 + 1`}, &engine.EvalContext{})
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if got {
		t.Error("a numeric CEL result should not count as a match")
	}
}

func TestProgramCacheReuse(t *testing.T) {
	op, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ec := &engine.EvalContext{Data: map[string]any{"n": 1.0}}

	for i := 0; i < 3; i++ {
		if _, err := op.Eval(context.Background(), &engine.Condition{Operator: "cel", Left: `data.n > 0.0`}, ec); err != nil {
			t.Fatalf("Eval %d failed: %v", i, err)
		}
	}
	op.mu.RLock()
	defer op.mu.RUnlock()
	if len(op.programs) != 1 {
		t.Errorf("program cache holds %d entries, want 1", len(op.programs))
	}
}

func TestRegisterWiresTheEngine(t *testing.T) {
	eng := engine.New(engine.DefaultConfig())
	if _, err := Register(eng); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	created, err := eng.CreateRule(&engine.Rule{
		Name:       "cel rule",
		Enabled:    true,
		Conditions: &engine.Condition{Operator: "cel", Left: `data.amount > 100.0`},
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	report := eng.EvaluateRules(context.Background(),
		&engine.EvalContext{Data: map[string]any{"amount": 150.0}}, engine.EvalOptions{})
	if report.MatchedCount != 1 {
		t.Errorf("matched %d, want 1 for rule %s", report.MatchedCount, created.ID)
	}

	report = eng.EvaluateRules(context.Background(),
		&engine.EvalContext{Data: map[string]any{"amount": 50.0}}, engine.EvalOptions{})
	if report.MatchedCount != 0 {
		t.Errorf("matched %d, want 0", report.MatchedCount)
	}
}
