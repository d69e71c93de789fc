package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// createTestApp builds the CLI with the same command tree as main.
func createTestApp() *cli.App {
	return &cli.App{
		Name: "memoflow",
		Commands: []*cli.Command{
			{
				Name: "db",
				Subcommands: []*cli.Command{
					listMemosCommand(),
					getMemoCommand(),
					backlogCommand(),
					reprocessCommand(),
				},
			},
			{
				Name: "rules",
				Subcommands: []*cli.Command{
					lintRulesCommand(),
					showRulesCommand(),
				},
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
			},
		},
	}
}

// runApp runs the CLI with stdout and stderr captured.
func runApp(t *testing.T, args []string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	oldStderr := os.Stderr
	r2, w2, _ := os.Pipe()
	os.Stderr = w2

	app := createTestApp()
	err := app.Run(args)

	w.Close()
	w2.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	var buf bytes.Buffer
	buf.ReadFrom(r)
	var buf2 bytes.Buffer
	buf2.ReadFrom(r2)

	return buf.String() + buf2.String(), err
}

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validRulesYAML = `rules:
  - name: tip-request
    memo_type: "^tip/request$"
    match: '.message | test("tip")'
    response:
      amount: "1"
      memo_type: tip/response
      memo_data: "thanks!"
  - name: spam-filter
    memo_type: "^chat/"
    classify:
      min_score: 0.8
`

func TestLintRulesCommand(t *testing.T) {
	t.Run("valid rules", func(t *testing.T) {
		path := writeRulesFile(t, validRulesYAML)
		output, err := runApp(t, []string{"memoflow", "rules", "lint", path})
		require.NoError(t, err)
		assert.Contains(t, output, "is valid")
		assert.Contains(t, output, "2 rules")
	})

	t.Run("bad regex", func(t *testing.T) {
		path := writeRulesFile(t, "rules:\n  - name: broken\n    memo_type: \"[\"\n")
		_, err := runApp(t, []string{"memoflow", "rules", "lint", path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rules config invalid")
	})

	t.Run("duplicate names", func(t *testing.T) {
		path := writeRulesFile(t, "rules:\n  - name: a\n    memo_type: x\n  - name: a\n    memo_type: y\n")
		_, err := runApp(t, []string{"memoflow", "rules", "lint", path})
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := runApp(t, []string{"memoflow", "rules", "lint", "/nonexistent/rules.yaml"})
		require.Error(t, err)
	})
}

func TestShowRulesCommand(t *testing.T) {
	path := writeRulesFile(t, validRulesYAML)

	output, err := runApp(t, []string{"memoflow", "rules", "show", path})
	require.NoError(t, err)

	assert.Contains(t, output, "tip-request")
	assert.Contains(t, output, "spam-filter")
	assert.Contains(t, output, ">= 0.80")
	assert.Contains(t, output, "first match wins")
}
