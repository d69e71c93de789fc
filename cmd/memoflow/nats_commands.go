package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brackish/memoflow/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to memo events published to JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to memo events",
		ArgsUsage: "[observed|processed]",
		Description: `Subscribe to memo events published to NATS JetStream.

Events are published to memos.observed when ingestion stores a new memo and
to memos.processed when a dispatch cycle records a terminal result. With no
argument, both kinds are streamed.

Example:
  memoflow nats subscribe processed --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "memoflow-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				kind := c.Args().First()
				if kind != string(natspkg.EventObserved) && kind != string(natspkg.EventProcessed) {
					return fmt.Errorf("unknown event kind %q (want observed or processed)", kind)
				}
				subject = "memos." + kind
			}

			return streamMemoEvents(subject, c.String("nats-url"), c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

// streamMemoEvents connects to NATS and prints memo events until interrupted.
func streamMemoEvents(subject, natsURL string, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for memo events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	consume, err := cons.Consume(func(msg jetstream.Msg) {
		var event natspkg.MemoEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			msg.Ack()
			return
		}

		if jsonOutput {
			data, _ := json.Marshal(event)
			fmt.Println(string(data))
		} else {
			fmt.Printf("[%s] %s\n", event.Kind, event.Hash)
			fmt.Printf("   %s -> %s (ledger %d)\n", event.Account, event.Destination, event.LedgerIndex)
			if event.MemoType != nil {
				fmt.Printf("   Type: %s\n", *event.MemoType)
			}
			if event.RuleName != nil {
				fmt.Printf("   Rule: %s\n", *event.RuleName)
			}
			if event.ResponseTxHash != nil {
				fmt.Printf("   Response Tx: %s\n", *event.ResponseTxHash)
			}
			fmt.Printf("   Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))
		}

		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consume.Stop()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	if !jsonOutput {
		fmt.Println("\nDone.")
	}
	return nil
}
