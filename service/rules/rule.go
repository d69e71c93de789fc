package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/brackish/memoflow/service/db"
)

// Context carries read-only node-local state into rule evaluation. Predicates
// must be side-effect-free functions of the memo and this context so a retried
// evaluation cannot corrupt state.
type Context struct {
	// NodeAddress is the monitored account the memo was observed for.
	NodeAddress string
}

// Rule is a named predicate plus optional response action over a memo.
type Rule interface {
	Name() string

	// Evaluate inspects the memo and returns an Outcome. A returned error
	// means the rule could not decide (transient failure); the engine treats
	// it as deferred for this rule and falls through to the next one.
	Evaluate(ctx context.Context, memo *db.Memo, nodeCtx Context) (Outcome, error)
}

// Classifier is the external scoring service some rules consult. It is
// consumed as an opaque scoring function; calls may time out.
type Classifier interface {
	Score(ctx context.Context, text string) (float64, error)
}

// PatternRule is the standard configured rule: a memo-field pattern, an
// optional jq predicate over the memo payload, an optional classifier score
// threshold, and an optional response action template.
type PatternRule struct {
	name       string
	pattern    Pattern
	matchCode  *gojq.Code // nil when no jq predicate is configured
	classifier Classifier // nil when the rule does not classify
	minScore   float64
	response   *ResponseTemplate
}

// ResponseTemplate describes the response transaction a matched rule requests.
// The destination is always the memo's sender: a response goes back to the
// account that sent the request.
type ResponseTemplate struct {
	Amount     string
	MemoType   string
	MemoFormat string
	MemoData   string
}

// Name returns the configured rule name.
func (r *PatternRule) Name() string { return r.name }

// Evaluate applies the pattern, then the jq predicate, then the classifier
// threshold, in that order. The first check that fails yields NoMatch; a
// classifier transport error yields an error so the engine defers the memo.
func (r *PatternRule) Evaluate(ctx context.Context, memo *db.Memo, nodeCtx Context) (Outcome, error) {
	if !r.pattern.Matches(memo) {
		return NoMatch(), nil
	}

	if r.matchCode != nil {
		matched, err := r.evalJQ(memo)
		if err != nil {
			return Outcome{}, fmt.Errorf("rule %s: jq predicate: %w", r.name, err)
		}
		if !matched {
			return NoMatch(), nil
		}
	}

	if r.classifier != nil {
		text := ""
		if memo.MemoData != nil {
			text = *memo.MemoData
		}
		score, err := r.classifier.Score(ctx, text)
		if err != nil {
			return Outcome{}, fmt.Errorf("rule %s: classifier: %w", r.name, err)
		}
		if score < r.minScore {
			return NoMatch(), nil
		}
	}

	var action *ResponseAction
	if r.response != nil {
		action = &ResponseAction{
			Destination: memo.Account,
			Amount:      r.response.Amount,
			MemoType:    r.response.MemoType,
			MemoFormat:  r.response.MemoFormat,
			MemoData:    r.response.MemoData,
		}
	}
	return Matched(r.name, action), nil
}

// evalJQ runs the compiled jq predicate against a document assembled from the
// memo. The memo_data payload is exposed both raw (.memo_data) and, when it is
// valid JSON, parsed (.memo). The first emitted value decides the match.
func (r *PatternRule) evalJQ(memo *db.Memo) (bool, error) {
	doc := map[string]any{
		"hash":        memo.Hash,
		"account":     memo.Account,
		"destination": memo.Destination,
	}
	if memo.Amount != nil {
		doc["amount"] = *memo.Amount
	}
	if memo.MemoType != nil {
		doc["memo_type"] = *memo.MemoType
	}
	if memo.MemoFormat != nil {
		doc["memo_format"] = *memo.MemoFormat
	}
	if memo.MemoData != nil {
		doc["memo_data"] = *memo.MemoData
		var parsed any
		if err := json.Unmarshal([]byte(*memo.MemoData), &parsed); err == nil {
			doc["memo"] = parsed
		}
	}

	iter := r.matchCode.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, err
	}
	return isTruthy(v), nil
}

// isTruthy follows jq semantics: false and null are falsy, everything else is
// truthy.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}
