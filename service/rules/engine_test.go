package rules

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brackish/memoflow/service/db"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func strPtr(s string) *string { return &s }

func testMemo(hash string) *db.Memo {
	return &db.Memo{
		Hash:        hash,
		Account:     "rUser",
		Destination: "rNode",
		Datetime:    time.Date(2024, 3, 20, 14, 30, 0, 0, time.UTC),
		MemoType:    strPtr("tip/request"),
		MemoFormat:  strPtr("text/plain"),
		MemoData:    strPtr(`{"message": "can i get a tip?"}`),
	}
}

// stubRule lets tests script each rule slot in the engine's order.
type stubRule struct {
	name    string
	outcome Outcome
	err     error
	panics  bool
	calls   int
}

func (s *stubRule) Name() string { return s.name }

func (s *stubRule) Evaluate(ctx context.Context, memo *db.Memo, nodeCtx Context) (Outcome, error) {
	s.calls++
	if s.panics {
		panic("rule blew up")
	}
	return s.outcome, s.err
}

func TestEngineFirstMatchWins(t *testing.T) {
	ruleA := &stubRule{name: "rule-a", outcome: Matched("rule-a", nil)}
	ruleB := &stubRule{name: "rule-b", outcome: Matched("rule-b", nil)}
	engine := NewEngine([]Rule{ruleA, ruleB}, testLogger())

	outcome := engine.Evaluate(context.Background(), testMemo("A1"), Context{NodeAddress: "rNode"})

	assert.Equal(t, KindMatched, outcome.Kind)
	assert.Equal(t, "rule-a", outcome.RuleName)
	assert.Equal(t, 1, ruleA.calls)
	assert.Equal(t, 0, ruleB.calls, "evaluation must stop at the first match")
}

func TestEngineNoMatch(t *testing.T) {
	ruleA := &stubRule{name: "rule-a", outcome: NoMatch()}
	ruleB := &stubRule{name: "rule-b", outcome: NoMatch()}
	engine := NewEngine([]Rule{ruleA, ruleB}, testLogger())

	outcome := engine.Evaluate(context.Background(), testMemo("A1"), Context{})

	assert.Equal(t, KindNoMatch, outcome.Kind)
	assert.Equal(t, 1, ruleA.calls)
	assert.Equal(t, 1, ruleB.calls)
}

func TestEngineErroringRuleFallsThrough(t *testing.T) {
	bad := &stubRule{name: "bad", err: errors.New("classifier timeout")}
	good := &stubRule{name: "good", outcome: Matched("good", nil)}
	engine := NewEngine([]Rule{bad, good}, testLogger())

	outcome := engine.Evaluate(context.Background(), testMemo("A1"), Context{})

	assert.Equal(t, KindMatched, outcome.Kind)
	assert.Equal(t, "good", outcome.RuleName, "a failing rule must not block later rules")
}

func TestEngineAllDeferred(t *testing.T) {
	bad := &stubRule{name: "bad", err: errors.New("classifier timeout")}
	miss := &stubRule{name: "miss", outcome: NoMatch()}
	engine := NewEngine([]Rule{bad, miss}, testLogger())

	outcome := engine.Evaluate(context.Background(), testMemo("A1"), Context{})

	assert.Equal(t, KindDeferred, outcome.Kind, "an undecided rule must leave the memo in the backlog")
	assert.Contains(t, outcome.Notes, "classifier timeout")
}

func TestEnginePanickingRuleIsIsolated(t *testing.T) {
	angry := &stubRule{name: "angry", panics: true}
	good := &stubRule{name: "good", outcome: Matched("good", nil)}
	engine := NewEngine([]Rule{angry, good}, testLogger())

	outcome := engine.Evaluate(context.Background(), testMemo("A1"), Context{})

	assert.Equal(t, KindMatched, outcome.Kind)
	assert.Equal(t, "good", outcome.RuleName)
}

func TestEngineRuleDeferredOutcome(t *testing.T) {
	undecided := &stubRule{name: "undecided", outcome: Deferred("waiting on response tx")}
	engine := NewEngine([]Rule{undecided}, testLogger())

	outcome := engine.Evaluate(context.Background(), testMemo("A1"), Context{})

	assert.Equal(t, KindDeferred, outcome.Kind)
	assert.Equal(t, "waiting on response tx", outcome.Notes)
}

func TestPatternRuleEvaluate(t *testing.T) {
	nodeCtx := Context{NodeAddress: "rNode"}

	t.Run("pattern and jq both gate the match", func(t *testing.T) {
		built, err := (&Config{Rules: []RuleSpec{{
			Name:     "tip-request",
			MemoType: `^tip/request$`,
			Match:    `.memo.message | contains("tip")`,
			Response: &ResponseSpec{MemoType: "tip/receipt", MemoData: "thanks", Amount: "1"},
		}}}).Build(nil)
		require.NoError(t, err)
		rule := built[0]

		outcome, err := rule.Evaluate(context.Background(), testMemo("A1"), nodeCtx)
		require.NoError(t, err)
		assert.Equal(t, KindMatched, outcome.Kind)
		assert.Equal(t, "tip-request", outcome.RuleName)
		require.NotNil(t, outcome.Action)
		assert.Equal(t, "rUser", outcome.Action.Destination, "response goes back to the sender")
		assert.Equal(t, "tip/receipt", outcome.Action.MemoType)

		// jq predicate rejects a payload without the keyword
		memo := testMemo("A2")
		memo.MemoData = strPtr(`{"message": "unrelated"}`)
		outcome, err = rule.Evaluate(context.Background(), memo, nodeCtx)
		require.NoError(t, err)
		assert.Equal(t, KindNoMatch, outcome.Kind)
	})

	t.Run("pattern mismatch yields no match without running jq", func(t *testing.T) {
		built, err := (&Config{Rules: []RuleSpec{{
			Name:     "tip-request",
			MemoType: `^tip/request$`,
			Match:    `error("must not run")`,
		}}}).Build(nil)
		require.NoError(t, err)

		memo := testMemo("A3")
		memo.MemoType = strPtr("chat/message")
		outcome, err := built[0].Evaluate(context.Background(), memo, nodeCtx)
		require.NoError(t, err)
		assert.Equal(t, KindNoMatch, outcome.Kind)
	})

	t.Run("missing memo field fails a required matcher", func(t *testing.T) {
		built, err := (&Config{Rules: []RuleSpec{{
			Name:     "tip-request",
			MemoType: `^tip/request$`,
		}}}).Build(nil)
		require.NoError(t, err)

		memo := testMemo("A4")
		memo.MemoType = nil
		outcome, err := built[0].Evaluate(context.Background(), memo, nodeCtx)
		require.NoError(t, err)
		assert.Equal(t, KindNoMatch, outcome.Kind)
	})

	t.Run("classifier gates the match", func(t *testing.T) {
		classifier := &stubClassifier{score: 0.9}
		built, err := (&Config{Rules: []RuleSpec{{
			Name:     "spam-filter",
			MemoType: `^tip/request$`,
			Classify: &ClassifySpec{MinScore: 0.8},
		}}}).Build(classifier)
		require.NoError(t, err)
		rule := built[0]

		outcome, err := rule.Evaluate(context.Background(), testMemo("A5"), nodeCtx)
		require.NoError(t, err)
		assert.Equal(t, KindMatched, outcome.Kind)

		classifier.score = 0.3
		outcome, err = rule.Evaluate(context.Background(), testMemo("A6"), nodeCtx)
		require.NoError(t, err)
		assert.Equal(t, KindNoMatch, outcome.Kind)
	})

	t.Run("classifier failure defers", func(t *testing.T) {
		classifier := &stubClassifier{err: errors.New("request timed out")}
		built, err := (&Config{Rules: []RuleSpec{{
			Name:     "spam-filter",
			MemoType: `^tip/request$`,
			Classify: &ClassifySpec{MinScore: 0.8},
		}}}).Build(classifier)
		require.NoError(t, err)

		_, err = built[0].Evaluate(context.Background(), testMemo("A7"), nodeCtx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	})
}

type stubClassifier struct {
	score float64
	err   error
}

func (s *stubClassifier) Score(ctx context.Context, text string) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.score, nil
}
