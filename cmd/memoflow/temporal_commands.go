package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brackish/memoflow/service/temporal"
	"github.com/urfave/cli/v2"
)

func createSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-schedules",
		Usage:     "Create the ingest and dispatch schedules for a node account",
		ArgsUsage: "<account>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "How often to poll the ledger for new memos",
			},
			&cli.DurationFlag{
				Name:  "dispatch-interval",
				Usage: "How often to run a dispatch cycle over the backlog",
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Temporal task queue the worker listens on",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "memoflow-pipeline",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: node account")
			}

			account := c.Args().First()
			temporalClient, err := getScheduleClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			if err := temporalClient.CreateAccountSchedules(context.Background(), account); err != nil {
				return fmt.Errorf("failed to create schedules: %w", err)
			}

			fmt.Printf("✓ Schedules created for %s:\n", account)
			fmt.Printf("  %s\n", temporal.IngestScheduleID(account))
			fmt.Printf("  %s\n", temporal.DispatchScheduleID(account))
			return nil
		},
	}
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List all Temporal schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getScheduleClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ids, err := temporalClient.ListSchedules(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(ids)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE ID")
			for _, id := range ids {
				fmt.Fprintf(w, "%s\n", id)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", len(ids))
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause-schedule",
		Usage:     "Pause a Temporal schedule",
		ArgsUsage: "<schedule-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule ID")
			}

			scheduleID := c.Args().First()
			temporalClient, err := getScheduleClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			if err := temporalClient.PauseSchedule(context.Background(), scheduleID); err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}

			fmt.Printf("✓ Schedule paused: %s\n", scheduleID)
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume-schedule",
		Usage:     "Resume a paused Temporal schedule",
		ArgsUsage: "<schedule-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule ID")
			}

			scheduleID := c.Args().First()
			temporalClient, err := getScheduleClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			if err := temporalClient.ResumeSchedule(context.Background(), scheduleID); err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}

			fmt.Printf("✓ Schedule resumed: %s\n", scheduleID)
			return nil
		},
	}
}

func deleteSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-schedules",
		Usage:     "Delete the ingest and dispatch schedules for a node account",
		ArgsUsage: "<account>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: node account")
			}

			account := c.Args().First()
			temporalClient, err := getScheduleClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			if err := temporalClient.DeleteAccountSchedules(context.Background(), account); err != nil {
				return fmt.Errorf("failed to delete schedules: %w", err)
			}

			fmt.Printf("✓ Schedules deleted for %s\n", account)
			return nil
		},
	}
}

// getScheduleClient builds a schedule-management client from the global
// flags. The poll and dispatch intervals only matter for create-schedules;
// zero values fall back to the client defaults.
func getScheduleClient(c *cli.Context) (*temporal.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = os.Getenv("TEMPORAL_HOST")
	}
	if host == "" {
		host = "localhost:7233"
	}

	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = os.Getenv("TEMPORAL_NAMESPACE")
	}
	if namespace == "" {
		namespace = "default"
	}

	return temporal.NewClient(temporal.ClientConfig{
		Host:             host,
		Namespace:        namespace,
		TaskQueue:        c.String("task-queue"),
		PollInterval:     c.Duration("poll-interval"),
		DispatchInterval: c.Duration("dispatch-interval"),
	}, nil)
}
