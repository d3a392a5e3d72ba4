package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// LogConfig configures a log action.
type LogConfig struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// VariableConfig configures a variable action. Operation is one of
// set, delete or increment; Scope is local (default) or global.
type VariableConfig struct {
	Operation string   `json:"operation"`
	Name      string   `json:"name"`
	Value     any      `json:"value"`
	Scope     string   `json:"scope"`
	Amount    *float64 `json:"amount"`
}

// WebhookConfig configures a webhook action. The engine assembles the
// request; delivery is the collaborator transport's concern.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// NotificationConfig configures a notification action. The engine emits a
// notification intent; a collaborator dispatches it.
type NotificationConfig struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

// WorkflowConfig configures a workflow action. The engine emits a trigger
// intent for the external workflow engine; it never executes workflows.
type WorkflowConfig struct {
	WorkflowID string         `json:"workflow_id"`
	Input      map[string]any `json:"input"`
}

// CustomConfig configures a custom action dispatched to a registered
// function with resolved parameters and the live evaluation context.
type CustomConfig struct {
	Function string         `json:"function"`
	Params   map[string]any `json:"params"`
}

// runActions executes a matched rule's actions strictly in list order.
// Each action's config is resolved against the context immediately before
// execution and each action runs under its own timeout. A failed or
// timed-out action is recorded and execution continues with the next one.
func (e *Engine) runActions(ctx context.Context, rule *Rule, sc *scope) []ActionResult {
	results := make([]ActionResult, 0, len(rule.Actions))
	timeout := e.cfg.ActionTimeout
	if rule.Timeout > 0 {
		timeout = rule.Timeout
	}

	for _, action := range rule.Actions {
		if !action.Enabled {
			results = append(results, ActionResult{
				ActionID: action.ID,
				Type:     action.Type,
				Status:   ActionSkipped,
			})
			continue
		}

		start := time.Now()
		resolved, _ := sc.resolveValue(action.Config).(map[string]any)

		out, err := runWithTimeout(ctx, "action "+action.ID, timeout,
			func(cctx context.Context) (any, error) {
				return e.execAction(cctx, action, resolved, rule, sc)
			})

		result := ActionResult{
			ActionID: action.ID,
			Type:     action.Type,
			Duration: time.Since(start),
			Output:   out,
		}
		if err != nil {
			result.Status = ActionFailed
			result.Error = err.Error()
			e.counters.ActionsFailed.Add(1)
			e.emit(Event{
				Type:   EventActionFailed,
				RuleID: rule.ID,
				Payload: map[string]any{
					"action_id": action.ID,
					"type":      string(action.Type),
					"error":     err.Error(),
				},
			})
		} else {
			result.Status = ActionSuccess
			e.counters.ActionsExecuted.Add(1)
			e.emit(Event{
				Type:   EventActionExecuted,
				RuleID: rule.ID,
				Payload: map[string]any{
					"action_id": action.ID,
					"type":      string(action.Type),
				},
			})
		}
		results = append(results, result)
	}
	return results
}

func (e *Engine) execAction(ctx context.Context, action *Action, resolved map[string]any, rule *Rule, sc *scope) (any, error) {
	a := &Action{ID: action.ID, Type: action.Type, Config: resolved, Enabled: action.Enabled}
	switch action.Type {
	case ActionLog:
		return e.execLog(a, rule)
	case ActionVariable:
		return e.execVariable(a, sc)
	case ActionWebhook:
		return e.execWebhook(ctx, a)
	case ActionNotification:
		return e.execNotification(a, rule)
	case ActionWorkflow:
		return e.execWorkflow(a, rule, sc)
	case ActionCustom:
		return e.execCustom(ctx, a, sc)
	default:
		return nil, configErrorf("unknown action type %q", action.Type)
	}
}

// execLog records a leveled message. It always succeeds.
func (e *Engine) execLog(a *Action, rule *Rule) (any, error) {
	var cfg LogConfig
	if err := decodeConfig(a, &cfg); err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	e.logger.Log(context.Background(), level, cfg.Message, "rule_id", rule.ID, "rule_name", rule.Name)
	return cfg.Message, nil
}

func (e *Engine) execVariable(a *Action, sc *scope) (any, error) {
	var cfg VariableConfig
	if err := decodeConfig(a, &cfg); err != nil {
		return nil, err
	}
	global := cfg.Scope == "global"

	switch cfg.Operation {
	case "set":
		if global {
			e.globals.set(cfg.Name, cfg.Value)
		} else {
			sc.set(cfg.Name, cfg.Value)
		}
		return cfg.Value, nil

	case "delete":
		if global {
			e.globals.del(cfg.Name)
		} else {
			sc.del(cfg.Name)
		}
		return nil, nil

	case "increment":
		amount := 1.0
		if cfg.Amount != nil {
			amount = *cfg.Amount
		}
		var base any
		var ok bool
		if global {
			base, ok = e.globals.get(cfg.Name)
		} else {
			base, ok = sc.lookup(cfg.Name)
		}
		current := 0.0
		if ok {
			f, numeric := toFloat(base)
			if !numeric {
				return nil, configErrorf("cannot increment non-numeric variable %q (%T)", cfg.Name, base)
			}
			current = f
		}
		next := current + amount
		if global {
			e.globals.set(cfg.Name, next)
		} else {
			sc.set(cfg.Name, next)
		}
		return next, nil

	default:
		return nil, configErrorf("unknown variable operation %q", cfg.Operation)
	}
}

// execWebhook assembles the request and hands it to the collaborator
// transport. Without a transport the action fails.
func (e *Engine) execWebhook(ctx context.Context, a *Action) (any, error) {
	var cfg WebhookConfig
	if err := decodeConfig(a, &cfg); err != nil {
		return nil, err
	}
	if e.transport == nil {
		return nil, configErrorf("webhook action %s: no transport configured", a.ID)
	}
	method := cfg.Method
	if method == "" {
		method = "POST"
	}
	resp, err := e.transport.Do(ctx, WebhookRequest{
		Method:  strings.ToUpper(method),
		URL:     cfg.URL,
		Headers: cfg.Headers,
		Body:    cfg.Body,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"status_code": resp.StatusCode}, nil
}

// execNotification emits a notification intent for a collaborator to
// dispatch; the engine does not deliver it.
func (e *Engine) execNotification(a *Action, rule *Rule) (any, error) {
	var cfg NotificationConfig
	if err := decodeConfig(a, &cfg); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"channel":   cfg.Channel,
		"recipient": cfg.Recipient,
		"subject":   cfg.Subject,
		"message":   cfg.Message,
	}
	e.emit(Event{Type: EventNotification, RuleID: rule.ID, Payload: payload})
	return payload, nil
}

// execWorkflow emits a workflow-trigger intent for the external workflow
// engine. Input values are already resolved; the current variable scope
// rides along for the consumer.
func (e *Engine) execWorkflow(a *Action, rule *Rule, sc *scope) (any, error) {
	var cfg WorkflowConfig
	if err := decodeConfig(a, &cfg); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"workflow_id": cfg.WorkflowID,
		"input":       cfg.Input,
		"variables":   sc.vars,
	}
	e.emit(Event{Type: EventWorkflowTrigger, RuleID: rule.ID, Payload: payload})
	return payload, nil
}

func (e *Engine) execCustom(ctx context.Context, a *Action, sc *scope) (any, error) {
	var cfg CustomConfig
	if err := decodeConfig(a, &cfg); err != nil {
		return nil, err
	}
	fn, ok := e.functions.lookup(cfg.Function)
	if !ok {
		return nil, configErrorf("custom action %s: unknown function %q", a.ID, cfg.Function)
	}
	return fn(ctx, cfg.Params, sc.asEvalContext())
}
