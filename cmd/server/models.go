package main

import (
	"github.com/liamcoop/reactor/engine"
)

// API request and response models.

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string             `json:"id,omitempty"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"` // default true
	Priority    engine.Priority    `json:"priority,omitempty"`
	Group       string             `json:"group,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	TimeoutMs   int64              `json:"timeout_ms,omitempty"`
	Conditions  *engine.Condition  `json:"conditions,omitempty"`
	Actions     []*engine.Action   `json:"actions,omitempty"`
	Variables   map[string]any     `json:"variables,omitempty"`
}

// UpdateRuleRequest is the request body for updating a rule. Absent fields
// are left unchanged.
type UpdateRuleRequest struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Priority    *engine.Priority  `json:"priority,omitempty"`
	Group       *string           `json:"group,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	TimeoutMs   *int64            `json:"timeout_ms,omitempty"`
	Conditions  *engine.Condition `json:"conditions,omitempty"`
	Actions     []*engine.Action  `json:"actions,omitempty"`
	Variables   map[string]any    `json:"variables,omitempty"`
}

// EvaluateRequest is the request body for an evaluation call.
type EvaluateRequest struct {
	Data      map[string]any     `json:"data,omitempty"`
	Variables map[string]any     `json:"variables,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	Options   engine.EvalOptions `json:"options,omitempty"`
}

// EvaluateResponse pairs the evaluation report with the final variable
// scope, including mutations performed by variable actions.
type EvaluateResponse struct {
	Report    *engine.EvaluationReport `json:"report"`
	Variables map[string]any           `json:"variables,omitempty"`
}

// StatsResponse reports engine counters and process log totals.
type StatsResponse struct {
	Engine        engine.CounterSnapshot `json:"engine"`
	TotalErrors   int64                  `json:"total_errors"`
	TotalWarnings int64                  `json:"total_warnings"`
}
