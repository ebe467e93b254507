package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/tdaniel1925/easemail-rules/internal/logger"
)

// Engine evaluates a user's rules against incoming messages and executes
// matching actions. It holds no per-invocation state: statistics live in the
// store, so concurrent ProcessEmail calls for different messages need no
// coordination. The only in-process state is the compiled-expression cache
// and the active-rules cache, both safe for concurrent use.
type Engine struct {
	env      *cel.Env
	store    RuleStore
	mailbox  Mailbox
	cache    RulesCache
	programs map[string]cel.Program // ruleID -> compiled expression
	mu       sync.RWMutex
}

// NewEngine creates an engine with the default in-memory rules cache.
func NewEngine(store RuleStore, mailbox Mailbox) (*Engine, error) {
	return NewEngineWithCache(store, mailbox, NewInMemoryRulesCache(DefaultCacheConfig()))
}

// NewEngineWithCache creates an engine with a caller-provided rules cache.
func NewEngineWithCache(store RuleStore, mailbox Mailbox, cache RulesCache) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("Message", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		store:    store,
		mailbox:  mailbox,
		cache:    cache,
		programs: make(map[string]cel.Program),
	}, nil
}

// ProcessEmail runs the user's active rules against one message, in priority
// order, and updates rule statistics for every match. Only a failure to load
// the rule set fails the invocation; everything below that is isolated per
// rule and per action, because this runs behind the sync pipeline and must
// never take it down.
func (en *Engine) ProcessEmail(ctx context.Context, msg *Message, userID string) (*ProcessingSummary, error) {
	activeRules, err := en.activeRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for user %s: %w", userID, err)
	}

	summary := &ProcessingSummary{
		MessageID: msg.ID,
		UserID:    userID,
	}

	for _, rule := range activeRules {
		result := RuleResult{RuleID: rule.ID, RuleName: rule.Name}

		matched, evalErr := en.ruleMatches(rule, msg)
		if evalErr != nil {
			// The rule stays inert this run; the rest of the set
			// still gets evaluated.
			result.Err = evalErr
			logger.Warn("rule evaluation failed",
				"ruleId", rule.ID, "messageId", msg.ID, "error", evalErr)
			summary.Results = append(summary.Results, result)
			continue
		}

		result.Matched = matched
		if !matched {
			summary.Results = append(summary.Results, result)
			continue
		}

		result.Actions = ExecuteActions(ctx, en.mailbox, rule.Actions, msg)
		succeeded := true
		for _, ar := range result.Actions {
			if ar.Err != nil {
				succeeded = false
				logger.Warn("rule action failed",
					"ruleId", rule.ID, "messageId", msg.ID,
					"action", ar.Action.Type, "error", ar.Err)
			}
		}

		if err := en.store.RecordRun(ctx, userID, rule.ID, succeeded, time.Now()); err != nil {
			logger.Error("failed to record rule run",
				"ruleId", rule.ID, "messageId", msg.ID, "error", err)
		}

		summary.Results = append(summary.Results, result)

		if rule.StopProcessing {
			summary.Stopped = true
			summary.StoppedBy = rule.ID
			break
		}
	}

	return summary, nil
}

// activeRules returns the user's enabled rules, from cache when possible.
func (en *Engine) activeRules(ctx context.Context, userID string) ([]*Rule, error) {
	if cached := en.cache.Get(userID); cached != nil {
		return cached, nil
	}

	activeRules, err := en.store.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	en.cache.Set(userID, activeRules)
	return activeRules, nil
}

// ruleMatches decides whether one rule fires for a message. The condition
// group and the optional CEL expression must both hold; a rule with neither
// never matches. Expression compile failures resolve to non-match so a
// malformed rule degrades to inert instead of crashing the run; evaluation
// errors are reported so the orchestrator can log them.
func (en *Engine) ruleMatches(rule *Rule, msg *Message) (bool, error) {
	if len(rule.Conditions) == 0 && rule.Expression == "" {
		return false, nil
	}

	if len(rule.Conditions) > 0 {
		if !EvaluateConditions(rule.Conditions, rule.MatchAll, msg) {
			return false, nil
		}
	}

	if rule.Expression == "" {
		return true, nil
	}

	prog, err := en.programFor(rule)
	if err != nil {
		logger.Warn("rule expression does not compile",
			"ruleId", rule.ID, "error", err)
		return false, nil
	}

	out, _, err := prog.Eval(map[string]any{"Message": messageFacts(msg)})
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}

	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

// programFor returns the compiled program for a rule's expression, compiling
// and caching it on first use.
func (en *Engine) programFor(rule *Rule) (cel.Program, error) {
	en.mu.RLock()
	prog, exists := en.programs[rule.ID]
	en.mu.RUnlock()
	if exists {
		return prog, nil
	}

	if err := en.CompileRule(rule.ID, rule.Expression); err != nil {
		return nil, err
	}

	en.mu.RLock()
	prog = en.programs[rule.ID]
	en.mu.RUnlock()
	return prog, nil
}

// CompileRule compiles a rule's expression to a CEL program and caches it.
// The cost limit keeps a pathological expression from eating the worker.
func (en *Engine) CompileRule(ruleID, expression string) error {
	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := en.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(1000000),
	)
	if err != nil {
		return fmt.Errorf("program creation error: %w", err)
	}

	en.mu.Lock()
	en.programs[ruleID] = prog
	en.mu.Unlock()

	return nil
}

// AddRule validates, compiles, and stores a new rule.
func (en *Engine) AddRule(ctx context.Context, r *Rule) error {
	if err := ValidateRule(r); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if r.Expression != "" {
		if err := en.CompileRule(r.ID, r.Expression); err != nil {
			return fmt.Errorf("rule validation failed: %w", err)
		}
	}

	if err := en.store.Add(ctx, r); err != nil {
		// Remove the compiled program if the store rejects the rule.
		en.dropProgram(r.ID)
		return err
	}

	en.cache.Invalidate(r.UserID)
	return nil
}

// UpdateRule validates an updated rule, recompiles its expression, and stores it.
func (en *Engine) UpdateRule(ctx context.Context, r *Rule) error {
	if err := ValidateRule(r); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if r.Expression != "" {
		if err := en.CompileRule(r.ID, r.Expression); err != nil {
			return fmt.Errorf("rule validation failed: %w", err)
		}
	} else {
		en.dropProgram(r.ID)
	}

	if err := en.store.Update(ctx, r); err != nil {
		return err
	}

	en.cache.Invalidate(r.UserID)
	return nil
}

// DeleteRule removes a rule from the store and the compiled-program cache.
func (en *Engine) DeleteRule(ctx context.Context, userID, ruleID string) error {
	if err := en.store.Delete(ctx, userID, ruleID); err != nil {
		return err
	}

	en.dropProgram(ruleID)
	en.cache.Invalidate(userID)
	return nil
}

func (en *Engine) dropProgram(ruleID string) {
	en.mu.Lock()
	delete(en.programs, ruleID)
	en.mu.Unlock()
}

// messageFacts flattens a message into the map the CEL expression sees as
// the Message variable.
func messageFacts(msg *Message) map[string]any {
	return map[string]any{
		"ID":             msg.ID,
		"FromAddress":    msg.FromAddress,
		"FromName":       msg.FromName,
		"ToAddresses":    msg.ToAddresses,
		"CcAddresses":    msg.CcAddresses,
		"Subject":        msg.Subject,
		"Snippet":        msg.Snippet,
		"Body":           msg.Body,
		"IsRead":         msg.IsRead,
		"IsStarred":      msg.IsStarred,
		"HasAttachments": msg.HasAttachments,
		"Folder":         msg.Folder,
		"Labels":         msg.Labels,
		"ReceivedAt":     msg.ReceivedAt,
	}
}
