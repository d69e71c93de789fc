package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brackish/memoflow/service/dispatch"
	"github.com/brackish/memoflow/service/ingest"
	"github.com/brackish/memoflow/service/metrics"
)

// IngestAccountInput contains the input parameters for one ingestion pass.
type IngestAccountInput struct {
	Account string `json:"account"`
}

// IngestAccountResult contains the result of one ingestion pass.
type IngestAccountResult struct {
	Account  string    `json:"account"`
	Fetched  int       `json:"fetched"`
	Written  int       `json:"written"`
	Skipped  int       `json:"skipped"`
	PollTime time.Time `json:"poll_time"`
}

// ProcessBacklogInput contains the input parameters for one dispatch cycle.
type ProcessBacklogInput struct {
	NodeAddress string `json:"node_address"`
}

// ProcessBacklogResult contains the result of one dispatch cycle.
type ProcessBacklogResult struct {
	NodeAddress string `json:"node_address"`
	Evaluated   int    `json:"evaluated"`
	Matched     int    `json:"matched"`
	NoMatch     int    `json:"no_match"`
	Deferred    int    `json:"deferred"`
	Submitted   int    `json:"submitted"`
	Failed      int    `json:"failed"`
}

// IngestorInterface defines the ingestion operation needed by activities.
// This allows for easy mocking in tests.
type IngestorInterface interface {
	PollOnce(ctx context.Context, account string) (*ingest.PollResult, error)
}

// DispatcherFactory returns the dispatcher for a node address. Each node
// address has its own dispatcher because the rule context is per-node.
type DispatcherFactory func(nodeAddress string) DispatcherInterface

// DispatcherInterface defines the dispatch operation needed by activities.
type DispatcherInterface interface {
	RunCycle(ctx context.Context) (*dispatch.CycleResult, error)
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit; the heavy lifting lives in the ingest and
// dispatch packages so it stays testable without a Temporal server.
type Activities struct {
	ingestor    IngestorInterface
	dispatchers DispatcherFactory
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If m is nil, no metrics will be recorded.
func NewActivities(ingestor IngestorInterface, dispatchers DispatcherFactory, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		ingestor:    ingestor,
		dispatchers: dispatchers,
		metrics:     m,
		logger:      logger.With("component", "temporal_activities"),
	}
}

func statusFromErr(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// IngestAccount runs one ingestion pass for an account. Transient ledger or
// database failures surface as activity errors so Temporal's retry policy
// handles them.
func (a *Activities) IngestAccount(ctx context.Context, input IngestAccountInput) (*IngestAccountResult, error) {
	start := time.Now()

	result, err := a.ingestor.PollOnce(ctx, input.Account)

	if a.metrics != nil {
		duration := time.Since(start).Seconds()
		a.metrics.RecordActivityDuration("IngestAccount", input.Account, duration)
		a.metrics.RecordWorkflowExecution("PollAccount", input.Account, statusFromErr(err), duration)
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "ingest activity failed",
			"account", input.Account,
			"error", err,
		)
		return nil, fmt.Errorf("failed to ingest account %s: %w", input.Account, err)
	}

	return &IngestAccountResult{
		Account:  result.Account,
		Fetched:  result.Fetched,
		Written:  result.Written,
		Skipped:  result.Skipped,
		PollTime: start.UTC(),
	}, nil
}

// ProcessBacklog runs one dispatch cycle for a node address.
func (a *Activities) ProcessBacklog(ctx context.Context, input ProcessBacklogInput) (*ProcessBacklogResult, error) {
	start := time.Now()

	d := a.dispatchers(input.NodeAddress)
	if d == nil {
		return nil, fmt.Errorf("no dispatcher configured for node address %s", input.NodeAddress)
	}

	result, err := d.RunCycle(ctx)

	if a.metrics != nil {
		duration := time.Since(start).Seconds()
		a.metrics.RecordActivityDuration("ProcessBacklog", input.NodeAddress, duration)
		a.metrics.RecordWorkflowExecution("ProcessBacklog", input.NodeAddress, statusFromErr(err), duration)
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "dispatch activity failed",
			"node_address", input.NodeAddress,
			"error", err,
		)
		return nil, fmt.Errorf("failed to process backlog for %s: %w", input.NodeAddress, err)
	}

	return &ProcessBacklogResult{
		NodeAddress: result.NodeAddress,
		Evaluated:   result.Evaluated,
		Matched:     result.Matched,
		NoMatch:     result.NoMatch,
		Deferred:    result.Deferred,
		Submitted:   result.Submitted,
		Failed:      result.Failed,
	}, nil
}
