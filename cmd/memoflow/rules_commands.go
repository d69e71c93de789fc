package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brackish/memoflow/service/rules"
	"github.com/urfave/cli/v2"
)

// lintClassifier satisfies the classifier interface during linting so rules
// that gate on classification still compile. It is never invoked.
type lintClassifier struct{}

func (lintClassifier) Score(ctx context.Context, text string) (float64, error) {
	return 0, nil
}

func lintRulesCommand() *cli.Command {
	return &cli.Command{
		Name:      "lint",
		Usage:     "Validate a rule configuration file",
		ArgsUsage: "<rules.yaml>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: rules file path")
			}

			path := c.Args().First()
			cfg, err := rules.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("rules config invalid: %w", err)
			}

			// Compile everything so bad regexes and jq expressions are
			// caught here instead of at worker startup.
			if _, err := cfg.Build(lintClassifier{}); err != nil {
				return fmt.Errorf("rules config invalid: %w", err)
			}

			fmt.Printf("✓ %s is valid (%d rules)\n", path, len(cfg.Rules))
			return nil
		},
	}
}

func showRulesCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show the rules in a configuration file in evaluation order",
		ArgsUsage: "<rules.yaml>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: rules file path")
			}

			cfg, err := rules.LoadConfig(c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to load rules: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(cfg.Rules)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tNAME\tMEMO TYPE\tMATCH\tCLASSIFY\tRESPONDS")
			for i, spec := range cfg.Rules {
				classify := "-"
				if spec.Classify != nil {
					classify = fmt.Sprintf(">= %.2f", spec.Classify.MinScore)
				}
				match := spec.Match
				if match == "" {
					match = "-"
				}
				memoType := spec.MemoType
				if memoType == "" {
					memoType = "-"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%v\n",
					i+1,
					spec.Name,
					memoType,
					match,
					classify,
					spec.Response != nil,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d rules (first match wins)\n", len(cfg.Rules))
			return nil
		},
	}
}
