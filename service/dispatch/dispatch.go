// Package dispatch drains the memo backlog: each cycle pulls a batch of
// unprocessed memos, runs them through the rule engine, and records terminal
// outcomes. Crash recovery falls out of the storage model: an interrupted
// cycle leaves memos without result rows, and the next cycle picks them up.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brackish/memoflow/service/db"
	"github.com/brackish/memoflow/service/metrics"
	"github.com/brackish/memoflow/service/nats"
	"github.com/brackish/memoflow/service/rules"
)

// DefaultBatchSize bounds one cycle when the caller doesn't say otherwise.
const DefaultBatchSize = 100

// Store is the slice of the database store the dispatcher consumes.
type Store interface {
	ListMemos(ctx context.Context, params db.ListMemosParams) ([]*db.MemoWithResult, error)
	UpsertProcessingResult(ctx context.Context, params db.UpsertProcessingResultParams) (*db.ProcessingResult, error)
	CountBacklog(ctx context.Context, nodeAddress string) (int64, error)
}

// Evaluator runs one memo through the configured rules.
type Evaluator interface {
	Evaluate(ctx context.Context, memo *db.Memo, nodeCtx rules.Context) rules.Outcome
}

// Submitter sends a response transaction and returns its hash.
type Submitter interface {
	Submit(ctx context.Context, account string, action *rules.ResponseAction) (string, error)
}

// Dispatcher polls the backlog for one node address and processes it.
type Dispatcher struct {
	store       Store
	engine      Evaluator
	submitter   Submitter
	publisher   nats.Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	nodeAddress string
	batchSize   int32
	interval    time.Duration
}

// Config configures a Dispatcher.
type Config struct {
	NodeAddress string
	BatchSize   int32
	Interval    time.Duration
}

// NewDispatcher creates a Dispatcher. publisher and m may be nil; events and
// metrics are then skipped.
func NewDispatcher(store Store, engine Evaluator, submitter Submitter, publisher nats.Publisher, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Dispatcher{
		store:       store,
		engine:      engine,
		submitter:   submitter,
		publisher:   publisher,
		metrics:     m,
		logger:      logger.With("component", "dispatcher", "node_address", cfg.NodeAddress),
		nodeAddress: cfg.NodeAddress,
		batchSize:   cfg.BatchSize,
		interval:    cfg.Interval,
	}
}

// CycleResult summarizes one dispatch cycle.
type CycleResult struct {
	NodeAddress string `json:"node_address"`
	Evaluated   int    `json:"evaluated"`
	Matched     int    `json:"matched"`
	NoMatch     int    `json:"no_match"`
	Deferred    int    `json:"deferred"`
	Submitted   int    `json:"submitted"`
	Failed      int    `json:"failed"`
}

// Run polls the backlog on the configured interval until the context is
// cancelled. Cycle errors are logged, not fatal; consecutive failures back
// off exponentially up to maxBackoff before the cycle is retried.
func (d *Dispatcher) Run(ctx context.Context) error {
	const maxBackoff = 5 * time.Minute

	d.logger.InfoContext(ctx, "dispatcher started",
		"interval", d.interval.String(),
		"batch_size", d.batchSize,
	)

	backoff := d.interval
	for {
		wait := d.interval
		if _, err := d.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				d.logger.InfoContext(ctx, "dispatcher stopped")
				return ctx.Err()
			}
			d.logger.ErrorContext(ctx, "dispatch cycle failed",
				"backoff", backoff.String(),
				"error", err,
			)
			wait = backoff
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = d.interval
		}

		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "dispatcher stopped")
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RunCycle processes one batch of unprocessed memos, oldest first. Memos
// whose outcome is deferred get no result row and stay in the backlog; memos
// whose response submission fails get a non-terminal row carrying the error
// so the next cycle retries them.
func (d *Dispatcher) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := time.Now()

	limit := d.batchSize
	memos, err := d.store.ListMemos(ctx, db.ListMemosParams{
		NodeAddress:      d.nodeAddress,
		IncludeProcessed: false,
		Order:            db.OrderDatetimeAsc,
		Limit:            &limit,
	})
	if err != nil {
		d.recordCycle("error", start)
		return nil, fmt.Errorf("failed to load backlog: %w", err)
	}

	result := &CycleResult{NodeAddress: d.nodeAddress}
	var processed []*nats.MemoEvent

	for _, item := range memos {
		// Stop between memos on cancellation; everything already recorded
		// stays recorded, the rest remains in the backlog.
		if err := ctx.Err(); err != nil {
			d.recordCycle("cancelled", start)
			return result, err
		}

		memo := &item.Memo
		result.Evaluated++

		outcome := d.engine.Evaluate(ctx, memo, rules.Context{NodeAddress: d.nodeAddress})
		row, err := d.applyOutcome(ctx, memo, outcome, result)
		if err != nil {
			d.recordCycle("error", start)
			return result, err
		}
		if row != nil {
			processed = append(processed, nats.ProcessedEvent(memo, row))
		}
	}

	// Eventing is best-effort: a NATS outage must not stall dispatch.
	if d.publisher != nil && len(processed) > 0 {
		if err := d.publisher.PublishMemoEventBatch(ctx, processed); err != nil {
			d.logger.WarnContext(ctx, "failed to publish processed events",
				"count", len(processed),
				"error", err,
			)
		}
	}

	if d.metrics != nil {
		if backlog, err := d.store.CountBacklog(ctx, d.nodeAddress); err == nil {
			d.metrics.RecordBacklogSize(d.nodeAddress, float64(backlog))
		}
	}
	d.recordCycle("success", start)

	d.logger.InfoContext(ctx, "dispatch cycle complete",
		"evaluated", result.Evaluated,
		"matched", result.Matched,
		"no_match", result.NoMatch,
		"deferred", result.Deferred,
		"submitted", result.Submitted,
		"failed", result.Failed,
	)
	return result, nil
}

// applyOutcome records the outcome for one memo. It returns the written
// result row, or nil when the outcome leaves the memo in the backlog.
func (d *Dispatcher) applyOutcome(ctx context.Context, memo *db.Memo, outcome rules.Outcome, result *CycleResult) (*db.ProcessingResult, error) {
	switch outcome.Kind {
	case rules.KindNoMatch:
		result.NoMatch++
		d.recordOutcome("no_match", "")
		// Terminal: nothing configured cares about this memo.
		row, err := d.store.UpsertProcessingResult(ctx, db.UpsertProcessingResultParams{
			Hash:      memo.Hash,
			Processed: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record no-match for %s: %w", memo.Hash, err)
		}
		return row, nil

	case rules.KindDeferred:
		result.Deferred++
		d.recordOutcome("deferred", "")
		d.logger.DebugContext(ctx, "memo deferred",
			"hash", memo.Hash,
			"notes", outcome.Notes,
		)
		return nil, nil

	case rules.KindMatched:
		result.Matched++
		d.recordOutcome("matched", outcome.RuleName)
		return d.applyMatch(ctx, memo, outcome, result)

	default:
		return nil, fmt.Errorf("unknown outcome kind %v for %s", outcome.Kind, memo.Hash)
	}
}

func (d *Dispatcher) applyMatch(ctx context.Context, memo *db.Memo, outcome rules.Outcome, result *CycleResult) (*db.ProcessingResult, error) {
	ruleName := outcome.RuleName

	if outcome.Action == nil {
		row, err := d.store.UpsertProcessingResult(ctx, db.UpsertProcessingResultParams{
			Hash:      memo.Hash,
			Processed: true,
			RuleName:  &ruleName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record match for %s: %w", memo.Hash, err)
		}
		return row, nil
	}

	if d.submitter == nil {
		result.Failed++
		d.logger.WarnContext(ctx, "rule requires a response but no submitter is configured",
			"hash", memo.Hash,
			"rule", ruleName,
		)
		notes := "no response submitter configured"
		row, err := d.store.UpsertProcessingResult(ctx, db.UpsertProcessingResultParams{
			Hash:      memo.Hash,
			Processed: false,
			RuleName:  &ruleName,
			Notes:     &notes,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record missing submitter for %s: %w", memo.Hash, err)
		}
		return row, nil
	}

	respHash, submitErr := d.submitter.Submit(ctx, d.nodeAddress, outcome.Action)
	if submitErr != nil {
		result.Failed++
		d.logger.WarnContext(ctx, "response submission failed",
			"hash", memo.Hash,
			"rule", ruleName,
			"error", submitErr,
		)
		notes := fmt.Sprintf("submission failed: %v", submitErr)
		row, err := d.store.UpsertProcessingResult(ctx, db.UpsertProcessingResultParams{
			Hash:      memo.Hash,
			Processed: false,
			RuleName:  &ruleName,
			Notes:     &notes,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record submission failure for %s: %w", memo.Hash, err)
		}
		return row, nil
	}

	result.Submitted++
	row, err := d.store.UpsertProcessingResult(ctx, db.UpsertProcessingResultParams{
		Hash:           memo.Hash,
		Processed:      true,
		RuleName:       &ruleName,
		ResponseTxHash: &respHash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record response for %s: %w", memo.Hash, err)
	}
	return row, nil
}

func (d *Dispatcher) recordOutcome(outcome, rule string) {
	if d.metrics != nil {
		d.metrics.RecordDispatchOutcome(d.nodeAddress, outcome, rule)
	}
}

func (d *Dispatcher) recordCycle(status string, start time.Time) {
	if d.metrics != nil {
		d.metrics.RecordDispatchCycle(d.nodeAddress, status, time.Since(start).Seconds())
	}
}
