package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRulesYAML = `
rules:
  - name: tip-request
    memo_type: "^tip/request$"
    match: '.memo.message | contains("tip")'
    response:
      memo_type: tip/receipt
      memo_data: thanks
      amount: "1"
  - name: chat-message
    memo_type: "^chat/"
  - name: spam-filter
    memo_data: "."
    classify:
      min_score: 0.8
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleRulesYAML))
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 3)

	assert.Equal(t, "tip-request", cfg.Rules[0].Name)
	assert.Equal(t, "^tip/request$", cfg.Rules[0].MemoType)
	require.NotNil(t, cfg.Rules[0].Response)
	assert.Equal(t, "tip/receipt", cfg.Rules[0].Response.MemoType)

	require.NotNil(t, cfg.Rules[2].Classify)
	assert.Equal(t, 0.8, cfg.Rules[2].Classify.MinScore)
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "not yaml",
			yaml: "rules: [",
			want: "failed to parse",
		},
		{
			name: "no rules",
			yaml: "rules: []",
			want: "no rules",
		},
		{
			name: "unnamed rule",
			yaml: "rules:\n  - memo_type: x\n",
			want: "no name",
		},
		{
			name: "duplicate names",
			yaml: "rules:\n  - name: a\n    memo_type: x\n  - name: a\n    memo_type: y\n",
			want: "duplicate rule name",
		},
		{
			name: "no predicate",
			yaml: "rules:\n  - name: a\n",
			want: "no predicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRulesYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Rules, 3)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestBuild(t *testing.T) {
	t.Run("preserves config order", func(t *testing.T) {
		cfg, err := ParseConfig([]byte(sampleRulesYAML))
		require.NoError(t, err)

		built, err := cfg.Build(&stubClassifier{score: 1})
		require.NoError(t, err)
		require.Len(t, built, 3)
		assert.Equal(t, "tip-request", built[0].Name())
		assert.Equal(t, "chat-message", built[1].Name())
		assert.Equal(t, "spam-filter", built[2].Name())
	})

	t.Run("rejects bad regex", func(t *testing.T) {
		cfg := &Config{Rules: []RuleSpec{{Name: "bad", MemoType: "("}}}
		_, err := cfg.Build(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `rule "bad"`)
	})

	t.Run("rejects bad jq", func(t *testing.T) {
		cfg := &Config{Rules: []RuleSpec{{Name: "bad", Match: ".foo |"}}}
		_, err := cfg.Build(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `rule "bad"`)
	})

	t.Run("rejects classify without classifier", func(t *testing.T) {
		cfg := &Config{Rules: []RuleSpec{{
			Name:     "spam-filter",
			MemoData: ".",
			Classify: &ClassifySpec{MinScore: 0.5},
		}}}
		_, err := cfg.Build(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "classifier")
	})
}
