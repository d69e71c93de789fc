package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	memoflow "github.com/brackish/memoflow/client"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the memoflow service",
		Subcommands: []*cli.Command{
			reviewCommand(),
			awaitCommand(),
		},
	}
}

func reviewCommand() *cli.Command {
	return &cli.Command{
		Name:      "review",
		Usage:     "Mark a memo's processing result as reviewed",
		ArgsUsage: "<hash>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "notes",
				Aliases: []string{"m"},
				Usage:   "Review notes to attach to the result",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			hash := c.Args().First()
			apiClient := memoflow.NewClient(c.String("server-url"), nil, nil)

			var notes *string
			if n := c.String("notes"); n != "" {
				notes = &n
			}

			result, err := apiClient.Review(context.Background(), hash, notes)
			if err != nil {
				return fmt.Errorf("failed to review memo: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Printf("✓ Memo reviewed: %s\n", hash)
			fmt.Printf("  Reviewed At: %s\n", result.ReviewedAt.Format(time.RFC3339))
			if result.Notes != nil {
				fmt.Printf("  Notes:       %s\n", *result.Notes)
			}
			return nil
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a memo has a terminal processing result",
		ArgsUsage: "<hash>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the memo to be processed",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			hash := c.Args().First()
			timeout := c.Duration("timeout")

			httpClient := &http.Client{Timeout: 30 * time.Second}
			apiClient := memoflow.NewClient(c.String("server-url"), httpClient, nil)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			result, err := apiClient.AwaitProcessed(ctx, hash)
			if err != nil {
				return fmt.Errorf("failed waiting for memo: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Printf("✓ Memo processed: %s\n", hash)
			fmt.Printf("  Rule:        %s\n", formatOptional(result.RuleName))
			fmt.Printf("  Response Tx: %s\n", formatOptional(result.ResponseTxHash))
			fmt.Printf("  Processed:   %s\n", result.ProcessedAt.Format(time.RFC3339))
			return nil
		},
	}
}
