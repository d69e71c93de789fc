// Package ingest pulls transactions for watched accounts off the ledger and
// reconciles them into the memo store. The ledger feed is at-least-once, so
// redelivery is absorbed at the storage boundary rather than tracked here.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/brackish/memoflow/service/db"
	"github.com/brackish/memoflow/service/ledger"
	"github.com/brackish/memoflow/service/metrics"
	"github.com/brackish/memoflow/service/nats"
)

// LedgerClient is the slice of the ledger client the ingestor consumes.
type LedgerClient interface {
	AccountTransactions(ctx context.Context, params ledger.AccountTransactionsParams) ([]*ledger.Transaction, error)
}

// Store is the slice of the database store the ingestor consumes.
type Store interface {
	InsertMemo(ctx context.Context, params db.InsertMemoParams) (bool, error)
	MaxLedgerIndex(ctx context.Context, account string) (int64, error)
}

// Ingestor polls the ledger for one or more accounts and writes observed
// transactions into the store.
type Ingestor struct {
	ledger    LedgerClient
	store     Store
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	pageLimit int
}

// NewIngestor creates an Ingestor. publisher and m may be nil; events and
// metrics are then skipped.
func NewIngestor(lc LedgerClient, store Store, publisher nats.Publisher, m *metrics.Metrics, pageLimit int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Ingestor{
		ledger:    lc,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("component", "ingestor"),
		pageLimit: pageLimit,
	}
}

// PollResult summarizes one polling pass for an account.
type PollResult struct {
	Account string `json:"account"`
	Fetched int    `json:"fetched"`
	Written int    `json:"written"`
	Skipped int    `json:"skipped"`
}

// PollOnce fetches transactions for the account since the last stored ledger
// index and inserts any not yet present. The boundary ledger is refetched on
// every pass because it may have been partially observed; the insert-if-absent
// write makes the refetch harmless.
func (i *Ingestor) PollOnce(ctx context.Context, account string) (*PollResult, error) {
	minLedger, err := i.store.MaxLedgerIndex(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to determine resume point for %s: %w", account, err)
	}
	if minLedger == 0 {
		minLedger = -1
	}

	txs, err := i.ledger.AccountTransactions(ctx, ledger.AccountTransactionsParams{
		Account:   account,
		MinLedger: minLedger,
		PageLimit: i.pageLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions for %s: %w", account, err)
	}

	result := &PollResult{Account: account, Fetched: len(txs)}
	if i.metrics != nil {
		i.metrics.RecordMemosFetched(account, len(txs))
	}

	var observed []*nats.MemoEvent
	for _, tx := range txs {
		if skip, reason := i.shouldSkip(tx); skip {
			result.Skipped++
			i.recordSkip(account, reason)
			continue
		}

		memo := memoFromTransaction(tx)
		inserted, err := i.store.InsertMemo(ctx, db.InsertMemoParams{
			Hash:        memo.Hash,
			Account:     memo.Account,
			Destination: memo.Destination,
			Amount:      memo.Amount,
			Datetime:    memo.Datetime,
			LedgerIndex: memo.LedgerIndex,
			MemoType:    memo.MemoType,
			MemoFormat:  memo.MemoFormat,
			MemoData:    memo.MemoData,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to insert memo %s: %w", tx.Hash, err)
		}
		if i.metrics != nil {
			i.metrics.RecordMemoParsed(account, "success")
		}

		if !inserted {
			result.Skipped++
			i.recordSkip(account, "duplicate")
			continue
		}
		result.Written++
		observed = append(observed, nats.ObservedEvent(memo))
	}

	if i.metrics != nil {
		i.metrics.RecordMemosWritten(account, result.Written)
		if result.Fetched > 0 {
			i.metrics.RecordDeduplicationRatio(account, float64(result.Skipped)/float64(result.Fetched))
		}
	}

	// Eventing is best-effort: a NATS outage must not stall ingestion.
	if i.publisher != nil && len(observed) > 0 {
		if err := i.publisher.PublishMemoEventBatch(ctx, observed); err != nil {
			i.logger.WarnContext(ctx, "failed to publish observed events",
				"account", account,
				"count", len(observed),
				"error", err,
			)
		}
	}

	i.logger.InfoContext(ctx, "poll complete",
		"account", account,
		"fetched", result.Fetched,
		"written", result.Written,
		"skipped", result.Skipped,
	)
	return result, nil
}

func (i *Ingestor) shouldSkip(tx *ledger.Transaction) (bool, string) {
	if !tx.Validated {
		return true, "unvalidated"
	}
	if tx.TransactionType != "" && tx.TransactionType != "Payment" {
		return true, "not_payment"
	}
	return false, ""
}

func (i *Ingestor) recordSkip(account, reason string) {
	if i.metrics != nil {
		i.metrics.RecordMemosSkipped(account, reason, 1)
	}
}

func memoFromTransaction(tx *ledger.Transaction) *db.Memo {
	return &db.Memo{
		Hash:        tx.Hash,
		Account:     tx.Account,
		Destination: tx.Destination,
		Amount:      tx.Amount,
		Datetime:    tx.CloseTime,
		LedgerIndex: tx.LedgerIndex,
		MemoType:    tx.MemoType,
		MemoFormat:  tx.MemoFormat,
		MemoData:    tx.MemoData,
	}
}
