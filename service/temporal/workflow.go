package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// PollAccountInput is the input to PollAccountWorkflow.
type PollAccountInput struct {
	Account string `json:"account"`
}

// PollAccountResult summarizes one scheduled ingestion run.
type PollAccountResult struct {
	Account  string    `json:"account"`
	Fetched  int       `json:"fetched"`
	Written  int       `json:"written"`
	Skipped  int       `json:"skipped"`
	PollTime time.Time `json:"poll_time"`
	Error    *string   `json:"error,omitempty"`
}

// PollAccountWorkflow is the Temporal workflow that ingests new ledger
// transactions for one account. It is triggered by a schedule at the
// configured poll interval; the ingest activity resumes from the highest
// ledger index already stored, so overlapping runs only cost duplicate
// fetches, never duplicate rows.
func PollAccountWorkflow(ctx workflow.Context, input PollAccountInput) (*PollAccountResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PollAccountWorkflow started", "account", input.Account)

	result := &PollAccountResult{
		Account:  input.Account,
		PollTime: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var ingestResult *IngestAccountResult
	err := workflow.ExecuteActivity(ctx, a.IngestAccount, IngestAccountInput{Account: input.Account}).Get(ctx, &ingestResult)
	if err != nil {
		errMsg := fmt.Sprintf("failed to ingest account: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to ingest account: %w", err)
	}

	result.Fetched = ingestResult.Fetched
	result.Written = ingestResult.Written
	result.Skipped = ingestResult.Skipped

	logger.Info("PollAccountWorkflow completed successfully",
		"account", input.Account,
		"fetched", result.Fetched,
		"written", result.Written,
		"skipped", result.Skipped,
	)
	return result, nil
}

// ProcessBacklogWorkflowInput is the input to ProcessBacklogWorkflow.
type ProcessBacklogWorkflowInput struct {
	NodeAddress string `json:"node_address"`
}

// ProcessBacklogWorkflow is the Temporal workflow that runs one dispatch
// cycle over a node address's backlog. Deferred memos and failed submissions
// stay in the backlog and are retried on the next scheduled run, so the
// workflow itself never loops.
func ProcessBacklogWorkflow(ctx workflow.Context, input ProcessBacklogWorkflowInput) (*ProcessBacklogResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ProcessBacklogWorkflow started", "node_address", input.NodeAddress)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 600 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var cycleResult *ProcessBacklogResult
	err := workflow.ExecuteActivity(ctx, a.ProcessBacklog, ProcessBacklogInput{NodeAddress: input.NodeAddress}).Get(ctx, &cycleResult)
	if err != nil {
		return nil, fmt.Errorf("failed to process backlog: %w", err)
	}

	logger.Info("ProcessBacklogWorkflow completed successfully",
		"node_address", input.NodeAddress,
		"evaluated", cycleResult.Evaluated,
		"matched", cycleResult.Matched,
		"deferred", cycleResult.Deferred,
		"failed", cycleResult.Failed,
	)
	return cycleResult, nil
}
