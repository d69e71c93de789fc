package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brackish/memoflow/service/db"
)

// Engine evaluates memos against an ordered rule list with first-match-wins
// semantics. Rule order is configuration, not code: reordering the configured
// list reorders evaluation without touching dispatch logic.
type Engine struct {
	rules  []Rule
	logger *slog.Logger
}

// NewEngine creates an Engine over the given rules, evaluated in slice order.
func NewEngine(ruleList []Rule, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules:  ruleList,
		logger: logger.With("component", "rule_engine"),
	}
}

// Rules returns the configured rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate runs the memo through the rules in priority order. The first rule
// that matches wins and later rules are skipped. A rule that errors or panics
// is treated as deferred for this memo and evaluation falls through to the
// next rule, so a single bad rule cannot block all processing; if any rule
// deferred and none matched, the overall outcome is Deferred and the memo is
// retried on a later pass.
func (e *Engine) Evaluate(ctx context.Context, memo *db.Memo, nodeCtx Context) Outcome {
	deferred := false
	var deferredNote string

	for _, rule := range e.rules {
		outcome, err := e.evaluateRule(ctx, rule, memo, nodeCtx)
		if err != nil {
			e.logger.WarnContext(ctx, "rule evaluation deferred",
				"rule", rule.Name(),
				"hash", memo.Hash,
				"error", err,
			)
			deferred = true
			deferredNote = fmt.Sprintf("rule %s deferred: %v", rule.Name(), err)
			continue
		}

		switch outcome.Kind {
		case KindMatched:
			e.logger.DebugContext(ctx, "rule matched",
				"rule", outcome.RuleName,
				"hash", memo.Hash,
				"has_action", outcome.Action != nil,
			)
			return outcome
		case KindDeferred:
			deferred = true
			deferredNote = outcome.Notes
		case KindNoMatch:
			// try the next rule
		}
	}

	if deferred {
		return Deferred(deferredNote)
	}
	return NoMatch()
}

// evaluateRule invokes a single rule, converting a panic into an error so one
// misbehaving predicate cannot take down the dispatch loop.
func (e *Engine) evaluateRule(ctx context.Context, rule Rule, memo *db.Memo, nodeCtx Context) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Evaluate(ctx, memo, nodeCtx)
}
