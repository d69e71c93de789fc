package rules

import "fmt"

// Kind discriminates the Outcome variants.
type Kind int

const (
	// KindNoMatch means no rule applies; the memo is recorded as processed
	// with no rule name.
	KindNoMatch Kind = iota

	// KindMatched means a rule claimed the memo, optionally with a response
	// action for the dispatcher to execute.
	KindMatched

	// KindDeferred means there was insufficient information to decide (e.g. a
	// classifier call timed out); the memo stays unprocessed and is retried
	// on a later pass.
	KindDeferred
)

func (k Kind) String() string {
	switch k {
	case KindNoMatch:
		return "no_match"
	case KindMatched:
		return "matched"
	case KindDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ResponseAction describes a response transaction a matched rule wants
// submitted. Rules only describe the action; the dispatcher executes it.
type ResponseAction struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount,omitempty"`
	MemoType    string `json:"memo_type,omitempty"`
	MemoFormat  string `json:"memo_format,omitempty"`
	MemoData    string `json:"memo_data,omitempty"`
}

// Outcome is the result of evaluating a memo against the rule set.
// It is a tagged variant rather than an error: NoMatch and Deferred are
// ordinary control flow, not failures.
type Outcome struct {
	Kind     Kind
	RuleName string          // set when Kind == KindMatched
	Action   *ResponseAction // optional, only when Kind == KindMatched
	Notes    string          // human-readable context, stored with the result
}

// NoMatch returns the outcome for a memo no rule claims.
func NoMatch() Outcome {
	return Outcome{Kind: KindNoMatch}
}

// Matched returns the outcome for a memo claimed by the named rule.
func Matched(ruleName string, action *ResponseAction) Outcome {
	return Outcome{Kind: KindMatched, RuleName: ruleName, Action: action}
}

// Deferred returns the outcome for a memo that could not be decided yet.
func Deferred(reason string) Outcome {
	return Outcome{Kind: KindDeferred, Notes: reason}
}
