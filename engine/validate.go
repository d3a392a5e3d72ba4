package engine

import (
	"regexp"

	"github.com/mitchellh/mapstructure"
)

// validateRule checks a rule definition's shape at create/update time.
// Depth is deliberately not enforced here: depth overflow is an
// evaluation-time error so that over-deep rules surface in evaluation
// reports rather than being unrepresentable.
func (e *Engine) validateRule(r *Rule) error {
	if r.Name == "" {
		return configErrorf("rule requires a name")
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return configErrorf("unknown priority %q", r.Priority)
	}
	if err := e.validateCondition(r.Conditions); err != nil {
		return err
	}
	return e.validateActions(r.Actions)
}

// validateCondition checks a condition tree's static shape: operators must
// be known, arity constraints that are visible without context must hold,
// and expression nodes must parse (and be enabled).
func (e *Engine) validateCondition(cond *Condition) error {
	if cond == nil {
		return nil
	}
	if cond.Literal != nil {
		return nil
	}
	if cond.Expression != "" {
		if !e.cfg.AllowUnsafeExpressions {
			return configErrorf("string expression conditions are disabled (AllowUnsafeExpressions is off)")
		}
		_, err := parseExpression(cond.Expression)
		return err
	}

	switch cond.Operator {
	case "and", "or":
		// Empty child lists are legal (and=true, or=false).
	case "not":
		if len(cond.Conditions) > 1 {
			return configErrorf("not expects a single condition, got %d", len(cond.Conditions))
		}
	case "xor":
		if len(cond.Conditions) != 2 {
			return configErrorf("xor expects exactly 2 conditions, got %d", len(cond.Conditions))
		}
	case "eq", "ne", "gt", "gte", "lt", "lte", "in", "nin",
		"contains", "startsWith", "endsWith", "between":
		// Operand shapes may be ${ref}s; checked at evaluation time.
	case "matches":
		if pat, ok := cond.Right.(string); ok && !refPattern.MatchString(pat) {
			if _, err := regexp.Compile(pat); err != nil {
				return configErrorf("invalid pattern %q: %v", pat, err)
			}
		}
	case "exists":
		if cond.Field == "" {
			return configErrorf("exists requires a field name")
		}
	case "function":
		if cond.Function == "" {
			return configErrorf("function condition requires a name")
		}
	case "":
		return configErrorf("condition node has no operator")
	default:
		if !e.operators.known(cond.Operator) {
			return configErrorf("unknown operator %q", cond.Operator)
		}
	}

	for _, child := range cond.Conditions {
		if err := e.validateCondition(child); err != nil {
			return err
		}
	}
	return nil
}

// validateActions checks action list length and each action's type-specific
// configuration. Configs are decoded here with the same decoder the
// executor uses, so a rule that validates will also decode at run time.
func (e *Engine) validateActions(actions []*Action) error {
	if len(actions) > e.cfg.MaxActionsPerRule {
		return configErrorf("rule has %d actions, maximum is %d", len(actions), e.cfg.MaxActionsPerRule)
	}
	for _, a := range actions {
		if a == nil {
			return configErrorf("action list contains a nil action")
		}
		if err := validateActionConfig(a); err != nil {
			return err
		}
	}
	return nil
}

func validateActionConfig(a *Action) error {
	switch a.Type {
	case ActionLog:
		var cfg LogConfig
		return decodeConfig(a, &cfg)
	case ActionVariable:
		var cfg VariableConfig
		if err := decodeConfig(a, &cfg); err != nil {
			return err
		}
		switch cfg.Operation {
		case "set", "delete", "increment":
		default:
			return configErrorf("variable action %s: unknown operation %q", a.ID, cfg.Operation)
		}
		if cfg.Name == "" {
			return configErrorf("variable action %s requires a variable name", a.ID)
		}
		if cfg.Scope != "" && cfg.Scope != "local" && cfg.Scope != "global" {
			return configErrorf("variable action %s: unknown scope %q", a.ID, cfg.Scope)
		}
		return nil
	case ActionWebhook:
		var cfg WebhookConfig
		if err := decodeConfig(a, &cfg); err != nil {
			return err
		}
		if cfg.URL == "" {
			return configErrorf("webhook action %s requires a url", a.ID)
		}
		return nil
	case ActionNotification:
		var cfg NotificationConfig
		if err := decodeConfig(a, &cfg); err != nil {
			return err
		}
		if cfg.Message == "" {
			return configErrorf("notification action %s requires a message", a.ID)
		}
		return nil
	case ActionWorkflow:
		var cfg WorkflowConfig
		if err := decodeConfig(a, &cfg); err != nil {
			return err
		}
		if cfg.WorkflowID == "" {
			return configErrorf("workflow action %s requires a workflow id", a.ID)
		}
		return nil
	case ActionCustom:
		var cfg CustomConfig
		if err := decodeConfig(a, &cfg); err != nil {
			return err
		}
		if cfg.Function == "" {
			return configErrorf("custom action %s requires a function name", a.ID)
		}
		return nil
	default:
		return configErrorf("unknown action type %q", a.Type)
	}
}

// decodeConfig maps an action's free-form config into its typed form.
// Weak typing tolerates JSON's habit of delivering numbers as float64 and
// booleans as strings from interpolated values.
func decodeConfig(a *Action, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return configErrorf("action %s: %v", a.ID, err)
	}
	if err := dec.Decode(a.Config); err != nil {
		return configErrorf("action %s (%s): invalid config: %v", a.ID, a.Type, err)
	}
	return nil
}
