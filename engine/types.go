package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders rule evaluation. Critical rules evaluate first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// rank returns the evaluation order for a priority; lower evaluates first.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Rule is a named, prioritized (conditions -> actions) automation unit.
// Rules are owned by the engine's registry; callers receive copies and
// mutate only through CreateRule/UpdateRule/DeleteRule.
type Rule struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	Priority    Priority       `json:"priority"`
	Group       string         `json:"group,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
	Conditions  *Condition     `json:"conditions,omitempty"`
	Actions     []*Action      `json:"actions,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Stats       RuleStats      `json:"stats"`

	// seq preserves registration order for stable priority ties.
	seq uint64
}

// RuleStats tracks per-rule evaluation statistics. Updated by the engine
// during evaluation; never by callers.
type RuleStats struct {
	EvaluationCount    int64         `json:"evaluation_count"`
	MatchCount         int64         `json:"match_count"`
	ActionSuccessCount int64         `json:"action_success_count"`
	ActionFailureCount int64         `json:"action_failure_count"`
	AvgEvaluationTime  time.Duration `json:"avg_evaluation_time"`
	LastEvaluatedAt    time.Time     `json:"last_evaluated_at,omitzero"`
	LastMatchedAt      time.Time     `json:"last_matched_at,omitzero"`
}

// GroupMode declares how a group's rules are evaluated.
type GroupMode string

const (
	GroupSequential GroupMode = "sequential"
	GroupParallel   GroupMode = "parallel"
	GroupFirstMatch GroupMode = "first-match"
)

// Group is a named bucket of rule ids used for filtering and ordering.
type Group struct {
	Name     string    `json:"name"`
	Mode     GroupMode `json:"mode"`
	MaxRules int       `json:"max_rules"`
	RuleIDs  []string  `json:"rule_ids"`
}

// Condition is a node in a rule's condition tree. A node is one of three
// shapes, mirrored in its JSON form:
//
//   - a literal boolean (JSON true/false),
//   - a free-form string expression (JSON string), evaluated by the
//     sandboxed expression evaluator when unsafe expressions are enabled,
//   - a structured node (JSON object) with an operator and operands.
//
// Logical operators carry child nodes in Conditions; comparison and string
// operators carry Left/Right operands; exists uses Field; function uses
// Function and Args. Operands may be `${name}` references resolved against
// the evaluation context.
type Condition struct {
	Operator   string       `json:"operator,omitempty"`
	Conditions []*Condition `json:"conditions,omitempty"`
	Left       any          `json:"left,omitempty"`
	Right      any          `json:"right,omitempty"`
	Field      string       `json:"field,omitempty"`
	Function   string       `json:"function,omitempty"`
	Args       []any        `json:"args,omitempty"`

	Literal    *bool  `json:"-"`
	Expression string `json:"-"`
}

// conditionAlias avoids UnmarshalJSON recursion on the object form.
type conditionAlias Condition

// UnmarshalJSON accepts the three node shapes: bool, string, or object.
func (c *Condition) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty condition")
	}
	switch b[0] {
	case 't', 'f':
		var v bool
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*c = Condition{Literal: &v}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Condition{Expression: s}
		return nil
	case '{':
		var a conditionAlias
		if err := json.Unmarshal(b, &a); err != nil {
			return err
		}
		*c = Condition(a)
		return nil
	default:
		return fmt.Errorf("condition must be a boolean, string or object, got %s", string(b))
	}
}

// MarshalJSON emits the same shape the node was parsed from.
func (c *Condition) MarshalJSON() ([]byte, error) {
	if c.Literal != nil {
		return json.Marshal(*c.Literal)
	}
	if c.Expression != "" {
		return json.Marshal(c.Expression)
	}
	return json.Marshal(conditionAlias(*c))
}

// ActionType identifies the side effect an action performs.
type ActionType string

const (
	ActionLog          ActionType = "log"
	ActionVariable     ActionType = "variable"
	ActionWebhook      ActionType = "webhook"
	ActionNotification ActionType = "notification"
	ActionWorkflow     ActionType = "workflow"
	ActionCustom       ActionType = "custom"
)

// Action is one side effect in a rule's ordered action list. Config is
// type-specific and validated at rule creation/update time; string values
// inside it may contain `${var}` references resolved just before execution.
type Action struct {
	ID      string         `json:"id"`
	Type    ActionType     `json:"type"`
	Config  map[string]any `json:"config,omitempty"`
	Enabled bool           `json:"enabled"`
}

// ActionStatus is the outcome of a single action execution.
type ActionStatus string

const (
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
	ActionSkipped ActionStatus = "skipped"
)

// ActionResult records the outcome of one action execution.
type ActionResult struct {
	ActionID string        `json:"action_id"`
	Type     ActionType    `json:"type"`
	Status   ActionStatus  `json:"status"`
	Error    string        `json:"error,omitempty"`
	Output   any           `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// EvalContext is the per-call evaluation context supplied by the caller.
// Data holds externally supplied facts and is treated as read-only.
// Variables is the call-level variable scope: it shadows rule-local and
// engine-global variables during lookup, receives local variable-action
// writes, and is visible to the caller after EvaluateRules returns.
type EvalContext struct {
	Data      map[string]any `json:"data,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
}

// EvalOptions filters and bounds a single EvaluateRules call.
type EvalOptions struct {
	RuleIDs          []string `json:"rule_ids,omitempty"`
	Groups           []string `json:"groups,omitempty"`
	Priority         Priority `json:"priority,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	StopOnFirstMatch bool     `json:"stop_on_first_match,omitempty"`
	MaxMatches       int      `json:"max_matches,omitempty"`
}

// TraceEntry explains one step of condition evaluation: the operator, its
// resolved operands, and the boolean outcome.
type TraceEntry struct {
	Operator string `json:"operator"`
	Operands []any  `json:"operands,omitempty"`
	Result   bool   `json:"result"`
	Error    string `json:"error,omitempty"`
}

// RuleMatch is one matched rule in an evaluation report.
type RuleMatch struct {
	RuleID         string         `json:"rule_id"`
	RuleName       string         `json:"rule_name"`
	Priority       Priority       `json:"priority"`
	ConditionTrace []TraceEntry   `json:"condition_trace,omitempty"`
	ActionResults  []ActionResult `json:"action_results,omitempty"`
	Duration       time.Duration  `json:"duration"`
}

// EvalError records a per-rule evaluation failure that did not abort the batch.
type EvalError struct {
	RuleID string `json:"rule_id"`
	Error  string `json:"error"`
}

// EvaluationReport aggregates the outcome of one EvaluateRules call.
type EvaluationReport struct {
	EvaluatedCount  int           `json:"evaluated_count"`
	MatchedCount    int           `json:"matched_count"`
	ExecutedActions int           `json:"executed_actions"`
	FailedActions   int           `json:"failed_actions"`
	Matches         []RuleMatch   `json:"matches"`
	Errors          []EvalError   `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// ListFilter selects rules in ListRules. All supplied criteria must hold.
type ListFilter struct {
	RuleIDs  []string
	Groups   []string
	Priority Priority
	Tags     []string
	Enabled  *bool
}

// RuleUpdate carries the allow-listed mutable fields for UpdateRule.
// Nil fields are left unchanged; non-nil conditions/actions are re-validated
// before replacing the existing ones.
type RuleUpdate struct {
	Name        *string
	Description *string
	Enabled     *bool
	Priority    *Priority
	Group       *string
	Tags        []string
	Timeout     *time.Duration
	Conditions  *Condition
	Actions     []*Action
	Variables   map[string]any
}

// WebhookRequest is the assembled payload for a webhook action. The engine
// only assembles it; delivery belongs to the collaborator-supplied Transport.
type WebhookRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// WebhookResponse is what a Transport reports back for a delivered webhook.
type WebhookResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body,omitempty"`
}

// Transport delivers webhook requests on behalf of the engine.
type Transport interface {
	Do(ctx context.Context, req WebhookRequest) (WebhookResponse, error)
}
