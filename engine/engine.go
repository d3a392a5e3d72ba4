package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Config holds engine limits and collaborator hooks. Construct with
// DefaultConfig and override what you need; the zero value is not usable.
type Config struct {
	MaxRules          int
	MaxActionsPerRule int
	MaxConditionDepth int
	MaxRulesPerGroup  int
	MaxCacheEntries   int
	CacheEnabled      bool
	FunctionTimeout   time.Duration
	ActionTimeout     time.Duration

	// AllowUnsafeExpressions enables free-form string conditions evaluated
	// by the sandboxed expression language. Keep it off for rule sources
	// you do not trust.
	AllowUnsafeExpressions bool

	// Logger receives engine and log-action output; defaults to slog.Default.
	Logger *slog.Logger

	// Transport delivers webhook actions. Without one, webhook actions fail.
	Transport Transport
}

// DefaultConfig returns the engine's default limits.
func DefaultConfig() Config {
	return Config{
		MaxRules:          1000,
		MaxActionsPerRule: 20,
		MaxConditionDepth: 10,
		MaxRulesPerGroup:  100,
		MaxCacheEntries:   1000,
		CacheEnabled:      true,
		FunctionTimeout:   5 * time.Second,
		ActionTimeout:     10 * time.Second,
	}
}

// Engine owns the rule registry, the evaluation cache, the operator and
// function registries, and the global variable scope. Construct one per
// deployment and pass it explicitly; there is no package-level instance.
// Registry mutations are safe concurrently with in-flight evaluations:
// evaluations act on the copies they fetched at filter time.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	transport Transport

	mu     sync.RWMutex
	rules  map[string]*Rule
	groups map[string]*Group
	seq    uint64

	cache     *evalCache
	operators *operatorSet
	functions *functionSet
	globals   *globalScope
	subs      subscribers
	counters  counters
}

// New constructs an engine from cfg. Unset limits fall back to
// DefaultConfig values field by field; the caller's hooks and flags are
// kept as given.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MaxRules <= 0 {
		cfg.MaxRules = def.MaxRules
	}
	if cfg.MaxActionsPerRule <= 0 {
		cfg.MaxActionsPerRule = def.MaxActionsPerRule
	}
	if cfg.MaxConditionDepth <= 0 {
		cfg.MaxConditionDepth = def.MaxConditionDepth
	}
	if cfg.MaxRulesPerGroup <= 0 {
		cfg.MaxRulesPerGroup = def.MaxRulesPerGroup
	}
	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = def.MaxCacheEntries
	}
	if cfg.FunctionTimeout <= 0 {
		cfg.FunctionTimeout = def.FunctionTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		transport: cfg.Transport,
		rules:     make(map[string]*Rule),
		groups:    make(map[string]*Group),
		cache:     newEvalCache(cfg.MaxCacheEntries),
		operators: newOperatorSet(),
		functions: newFunctionSet(),
		globals:   newGlobalScope(),
	}
}

// RegisterOperator registers a custom condition operator.
func (e *Engine) RegisterOperator(name string, fn OperatorFunc) error {
	return e.operators.register(name, fn)
}

// RegisterFunction registers a callable function for `function` conditions
// and custom actions.
func (e *Engine) RegisterFunction(name string, fn FunctionFunc) error {
	return e.functions.register(name, fn)
}

// Subscribe registers an event listener; the returned closure removes it.
func (e *Engine) Subscribe(fn func(Event)) func() {
	return e.subs.add(fn)
}

// SetGlobalVariable writes to the engine-global variable scope.
func (e *Engine) SetGlobalVariable(name string, v any) { e.globals.set(name, v) }

// GetGlobalVariable reads from the engine-global variable scope.
func (e *Engine) GetGlobalVariable(name string) (any, bool) { return e.globals.get(name) }

// DeleteGlobalVariable removes a global variable.
func (e *Engine) DeleteGlobalVariable(name string) { e.globals.del(name) }

// GlobalVariables returns a copy of the global variable scope.
func (e *Engine) GlobalVariables() map[string]any { return e.globals.snapshot() }

// Counters returns a snapshot of the engine-lifetime totals.
func (e *Engine) Counters() CounterSnapshot { return e.counters.snapshot() }

// ClearCache drops every cached condition result.
func (e *Engine) ClearCache() { e.cache.clear() }

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.subs.emit(ev)
}

// candidates selects enabled rules matching the evaluation options and
// orders them by priority, preserving registration order within a rank.
// It returns copies, so concurrent registry mutations cannot affect an
// in-flight evaluation.
func (e *Engine) candidates(opts EvalOptions) []*Rule {
	enabled := true
	filter := ListFilter{
		RuleIDs:  opts.RuleIDs,
		Groups:   opts.Groups,
		Priority: opts.Priority,
		Tags:     opts.Tags,
		Enabled:  &enabled,
	}
	rules := e.ListRules(filter)
	slices.SortStableFunc(rules, func(a, b *Rule) int {
		if d := a.Priority.rank() - b.Priority.rank(); d != 0 {
			return d
		}
		return int(a.seq) - int(b.seq)
	})
	return rules
}

// groupMode reads a group's declared mode at evaluation time.
func (e *Engine) groupMode(name string) GroupMode {
	if name == "" {
		return GroupSequential
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if g, ok := e.groups[name]; ok {
		return g.Mode
	}
	return GroupSequential
}

// EvaluateRules evaluates the selected rules against the supplied context
// and executes the actions of every matching rule. Per-rule evaluation
// errors are collected in the report; they never abort the batch. Variable
// mutations performed by actions land in ec.Variables and are visible to
// the caller when the report returns.
func (e *Engine) EvaluateRules(ctx context.Context, ec *EvalContext, opts EvalOptions) *EvaluationReport {
	start := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	if ec == nil {
		ec = &EvalContext{}
	}
	if ec.Timestamp.IsZero() {
		ec.Timestamp = start
	}
	if ec.Variables == nil {
		ec.Variables = make(map[string]any)
	}

	e.counters.EvaluationCalls.Add(1)
	report := &EvaluationReport{Matches: []RuleMatch{}}
	matchedFirstMatchGroups := make(map[string]bool)

	for _, rule := range e.candidates(opts) {
		// A first-match group stops evaluating its remaining members once
		// one of them matched.
		if rule.Group != "" && matchedFirstMatchGroups[rule.Group] {
			continue
		}

		ruleStart := time.Now()
		sc := newScope(ec, rule, e.globals)
		matched, trace, err := e.evaluateConditions(ctx, rule, sc, ec)
		ruleDur := time.Since(ruleStart)

		report.EvaluatedCount++
		e.counters.RulesEvaluated.Add(1)

		if err != nil {
			report.Errors = append(report.Errors, EvalError{RuleID: rule.ID, Error: err.Error()})
			e.updateStats(rule.ID, false, ruleDur, 0, 0)
			e.emit(Event{
				Type:    EventEngineError,
				RuleID:  rule.ID,
				Payload: map[string]any{"error": err.Error()},
			})
			continue
		}

		if !matched {
			e.updateStats(rule.ID, false, ruleDur, 0, 0)
			continue
		}

		report.MatchedCount++
		e.counters.RulesMatched.Add(1)
		e.emit(Event{
			Type:    EventRuleMatched,
			RuleID:  rule.ID,
			Payload: map[string]any{"rule_name": rule.Name, "priority": string(rule.Priority)},
		})

		actionResults := e.runActions(ctx, rule, sc)
		succeeded, failed := 0, 0
		for _, ar := range actionResults {
			switch ar.Status {
			case ActionSuccess:
				succeeded++
			case ActionFailed:
				failed++
			}
		}
		report.ExecutedActions += succeeded
		report.FailedActions += failed

		report.Matches = append(report.Matches, RuleMatch{
			RuleID:         rule.ID,
			RuleName:       rule.Name,
			Priority:       rule.Priority,
			ConditionTrace: trace,
			ActionResults:  actionResults,
			Duration:       time.Since(ruleStart),
		})
		e.updateStats(rule.ID, true, ruleDur, succeeded, failed)

		if rule.Group != "" && e.groupMode(rule.Group) == GroupFirstMatch {
			matchedFirstMatchGroups[rule.Group] = true
		}
		if opts.StopOnFirstMatch {
			break
		}
		if opts.MaxMatches > 0 && report.MatchedCount >= opts.MaxMatches {
			break
		}
	}

	report.Duration = time.Since(start)
	e.emit(Event{
		Type: EventEvaluationCompleted,
		Payload: map[string]any{
			"evaluated": report.EvaluatedCount,
			"matched":   report.MatchedCount,
		},
	})
	return report
}

// evaluateConditions decides one rule's condition tree, consulting the
// evaluation cache first. The cache short-circuits condition evaluation
// only; it never caches action effects, and caching never changes results.
func (e *Engine) evaluateConditions(ctx context.Context, rule *Rule, sc *scope, ec *EvalContext) (bool, []TraceEntry, error) {
	var key string
	cacheable := false
	if e.cfg.CacheEnabled {
		key, cacheable = fingerprint(rule.ID, ec.Data, ec.Variables, e.globals.snapshot())
		if cacheable {
			if entry, ok := e.cache.get(key); ok {
				e.counters.CacheHits.Add(1)
				return entry.matched, entry.trace, nil
			}
			e.counters.CacheMisses.Add(1)
		}
	}

	ev := newEvaluator(e, sc, rule)
	matched, err := ev.evaluate(ctx, rule.Conditions, 0)
	if err != nil {
		return false, ev.trace, err
	}
	if cacheable {
		e.cache.put(key, cacheEntry{matched: matched, trace: ev.trace})
	}
	return matched, ev.trace, nil
}

// updateStats folds one evaluation into the owned rule's statistics.
// The rolling average uses the standard incremental form.
func (e *Engine) updateStats(id string, matched bool, dur time.Duration, succeeded, failed int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return // deleted mid-evaluation
	}
	st := &rule.Stats
	st.EvaluationCount++
	st.AvgEvaluationTime += (dur - st.AvgEvaluationTime) / time.Duration(st.EvaluationCount)
	st.LastEvaluatedAt = time.Now()
	if matched {
		st.MatchCount++
		st.LastMatchedAt = st.LastEvaluatedAt
	}
	st.ActionSuccessCount += int64(succeeded)
	st.ActionFailureCount += int64(failed)
}
