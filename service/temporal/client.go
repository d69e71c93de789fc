package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client           client.Client
	taskQueue        string
	pollInterval     time.Duration
	dispatchInterval time.Duration
	logger           *slog.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Host             string
	Namespace        string
	TaskQueue        string
	PollInterval     time.Duration
	DispatchInterval time.Duration
}

// NewClient creates a new Temporal client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", cfg.Host,
		"namespace", cfg.Namespace,
		"task_queue", cfg.TaskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Host,
		Namespace: cfg.Namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:           c,
		taskQueue:        cfg.TaskQueue,
		pollInterval:     cfg.PollInterval,
		dispatchInterval: cfg.DispatchInterval,
		logger:           logger,
	}, nil
}

// CreateAccountSchedules creates the ingest and dispatch schedules for an
// account. Existing schedules are left untouched.
func (c *Client) CreateAccountSchedules(ctx context.Context, account string) error {
	ingestID := IngestScheduleID(account)
	err := c.createSchedule(ctx, ingestID, c.pollInterval, client.ScheduleWorkflowAction{
		ID:        "poll-account-" + account,
		Workflow:  "PollAccountWorkflow",
		TaskQueue: c.taskQueue,
		Args:      []interface{}{PollAccountInput{Account: account}},
	}, account)
	if err != nil {
		return err
	}

	dispatchID := DispatchScheduleID(account)
	return c.createSchedule(ctx, dispatchID, c.dispatchInterval, client.ScheduleWorkflowAction{
		ID:        "process-backlog-" + account,
		Workflow:  "ProcessBacklogWorkflow",
		TaskQueue: c.taskQueue,
		Args:      []interface{}{ProcessBacklogWorkflowInput{NodeAddress: account}},
	}, account)
}

func (c *Client) createSchedule(ctx context.Context, id string, interval time.Duration, action client.ScheduleWorkflowAction, account string) error {
	c.logger.Debug("creating schedule",
		"schedule_id", id,
		"interval", interval,
	)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &action,
		Memo: map[string]interface{}{
			"account":    account,
			"created_by": "memoflow",
		},
	})
	if err != nil {
		// Re-registering an account is a no-op.
		if errors.Is(err, temporalsdk.ErrScheduleAlreadyRunning) {
			c.logger.Debug("schedule already exists", "schedule_id", id)
			return nil
		}
		c.logger.Error("failed to create schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("schedule created",
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteAccountSchedules deletes both schedules for an account.
func (c *Client) DeleteAccountSchedules(ctx context.Context, account string) error {
	for _, id := range []string{IngestScheduleID(account), DispatchScheduleID(account)} {
		handle := c.client.ScheduleClient().GetHandle(ctx, id)
		if err := handle.Delete(ctx); err != nil {
			c.logger.Error("failed to delete schedule",
				"schedule_id", id,
				"error", err,
			)
			return fmt.Errorf("failed to delete schedule %q: %w", id, err)
		}
		c.logger.Info("schedule deleted", "schedule_id", id)
	}
	return nil
}

// PauseSchedule pauses one schedule by ID.
func (c *Client) PauseSchedule(ctx context.Context, id string) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: "paused by memoflow"}); err != nil {
		return fmt.Errorf("failed to pause schedule %q: %w", id, err)
	}
	c.logger.Info("schedule paused", "schedule_id", id)
	return nil
}

// ResumeSchedule resumes one schedule by ID.
func (c *Client) ResumeSchedule(ctx context.Context, id string) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: "resumed by memoflow"}); err != nil {
		return fmt.Errorf("failed to resume schedule %q: %w", id, err)
	}
	c.logger.Info("schedule resumed", "schedule_id", id)
	return nil
}

// ListSchedules returns the IDs of all schedules visible to this namespace.
func (c *Client) ListSchedules(ctx context.Context) ([]string, error) {
	iter, err := c.client.ScheduleClient().List(ctx, client.ScheduleListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	var ids []string
	for iter.HasNext() {
		entry, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read schedule list: %w", err)
		}
		ids = append(ids, entry.ID)
	}
	return ids, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
