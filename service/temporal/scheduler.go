package temporal

import (
	"context"
)

// Scheduler manages Temporal schedules for the pipeline. Each watched account
// gets two schedules: one triggering PollAccountWorkflow (ingestion) and one
// triggering ProcessBacklogWorkflow (dispatch).
type Scheduler interface {
	// CreateAccountSchedules creates the ingest and dispatch schedules for
	// an account.
	CreateAccountSchedules(ctx context.Context, account string) error

	// DeleteAccountSchedules deletes both schedules for an account.
	// This stops the account from being polled and dispatched.
	DeleteAccountSchedules(ctx context.Context, account string) error

	// PauseSchedule pauses one schedule by ID.
	PauseSchedule(ctx context.Context, id string) error

	// ResumeSchedule resumes one schedule by ID.
	ResumeSchedule(ctx context.Context, id string) error

	// ListSchedules returns the IDs of the pipeline's schedules.
	ListSchedules(ctx context.Context) ([]string, error)
}

// IngestScheduleID returns the Temporal schedule ID for ingesting an account.
func IngestScheduleID(account string) string {
	return "ingest-" + account
}

// DispatchScheduleID returns the Temporal schedule ID for dispatching an
// account's backlog.
func DispatchScheduleID(account string) string {
	return "dispatch-" + account
}
