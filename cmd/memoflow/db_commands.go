package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brackish/memoflow/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listMemosCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-memos",
		Usage:     "List memos observed for a node address",
		Aliases:   []string{"ls"},
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "all",
				Aliases: []string{"a"},
				Usage:   "Include processed memos (default shows only the backlog)",
			},
			&cli.StringFlag{
				Name:  "order",
				Usage: "Sort order over memo datetime (asc or desc)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of memos to list (0 lists everything)",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of memos to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: node address")
			}

			address := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			params := db.ListMemosParams{
				NodeAddress:      address,
				IncludeProcessed: c.Bool("all"),
				Order:            db.ParseOrder(c.String("order")),
			}
			if limit := int32(c.Int("limit")); limit > 0 {
				params.Limit = &limit
			}
			if offset := int32(c.Int("offset")); offset > 0 {
				params.Offset = &offset
			}

			memos, err := store.ListMemos(context.Background(), params)
			if err != nil {
				return fmt.Errorf("failed to list memos: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(memos)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HASH\tACCOUNT\tDESTINATION\tLEDGER\tTYPE\tPROCESSED\tRULE\tDATETIME")
			for _, m := range memos {
				processed := "-"
				rule := "-"
				if m.Result != nil {
					processed = fmt.Sprintf("%v", m.Result.Processed)
					rule = formatOptional(m.Result.RuleName)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					m.Memo.Hash,
					m.Memo.Account,
					m.Memo.Destination,
					m.Memo.LedgerIndex,
					formatOptional(m.Memo.MemoType),
					processed,
					rule,
					m.Memo.Datetime.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d memos\n", len(memos))
			return nil
		},
	}
}

func getMemoCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-memo",
		Usage:     "Get memo details and its processing result",
		Aliases:   []string{"get"},
		ArgsUsage: "<hash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			hash := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			memo, err := store.GetMemo(ctx, hash)
			if err != nil {
				return fmt.Errorf("failed to get memo: %w", err)
			}

			result, err := store.GetProcessingResult(ctx, hash)
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("failed to get processing result: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(db.MemoWithResult{Memo: *memo, Result: result})
			}

			// Pretty output
			fmt.Printf("Hash:         %s\n", memo.Hash)
			fmt.Printf("Account:      %s\n", memo.Account)
			fmt.Printf("Destination:  %s\n", memo.Destination)
			fmt.Printf("Amount:       %s\n", formatOptional(memo.Amount))
			fmt.Printf("Ledger Index: %d\n", memo.LedgerIndex)
			fmt.Printf("Datetime:     %s\n", memo.Datetime.Format(time.RFC3339))
			fmt.Printf("Memo Type:    %s\n", formatOptional(memo.MemoType))
			fmt.Printf("Memo Format:  %s\n", formatOptional(memo.MemoFormat))
			fmt.Printf("Memo Data:    %s\n", formatOptional(memo.MemoData))

			if result == nil {
				fmt.Printf("\nProcessing:   pending (in backlog)\n")
				return nil
			}

			fmt.Printf("\nProcessed:    %v\n", result.Processed)
			fmt.Printf("Rule:         %s\n", formatOptional(result.RuleName))
			fmt.Printf("Response Tx:  %s\n", formatOptional(result.ResponseTxHash))
			fmt.Printf("Notes:        %s\n", formatOptional(result.Notes))
			fmt.Printf("Processed At: %s\n", result.ProcessedAt.Format(time.RFC3339))
			if result.ReviewedAt != nil {
				fmt.Printf("Reviewed At:  %s\n", result.ReviewedAt.Format(time.RFC3339))
			} else {
				fmt.Printf("Reviewed At:  never\n")
			}

			return nil
		},
	}
}

func backlogCommand() *cli.Command {
	return &cli.Command{
		Name:      "backlog",
		Usage:     "Count unprocessed memos for a node address",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: node address")
			}

			address := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			count, err := store.CountBacklog(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to count backlog: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{"address": address, "backlog": count})
			}

			fmt.Printf("Backlog for %s: %d memos\n", address, count)
			return nil
		},
	}
}

func reprocessCommand() *cli.Command {
	return &cli.Command{
		Name:      "reprocess",
		Usage:     "Clear processing results so memos are re-evaluated",
		ArgsUsage: "<hash> [hash...]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("requires at least one transaction hash")
			}

			hashes := c.Args().Slice()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			cleared, err := store.ClearProcessingResults(context.Background(), hashes)
			if err != nil {
				return fmt.Errorf("failed to clear processing results: %w", err)
			}

			fmt.Printf("✓ Cleared %d processing result(s); memos return to the backlog\n", cleared)
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "(none)"
}
