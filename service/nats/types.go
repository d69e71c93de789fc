package nats

import (
	"time"

	"github.com/brackish/memoflow/service/db"
)

// EventKind distinguishes the lifecycle stage a memo event reports.
type EventKind string

const (
	// EventObserved is published when a memo transaction is first written to
	// the database.
	EventObserved EventKind = "observed"

	// EventProcessed is published when dispatch records a terminal
	// processing result for a memo.
	EventProcessed EventKind = "processed"
)

// MemoEvent is the payload published to "memos.{kind}" in JetStream.
type MemoEvent struct {
	Kind EventKind `json:"kind"`

	// Transaction identifiers
	Hash        string `json:"hash"`
	Account     string `json:"account"`
	Destination string `json:"destination"`
	LedgerIndex int64  `json:"ledger_index"`

	// Memo content
	MemoType   *string `json:"memo_type,omitempty"`
	MemoFormat *string `json:"memo_format,omitempty"`
	MemoData   *string `json:"memo_data,omitempty"`

	// Processing details, set for EventProcessed only
	Processed      *bool   `json:"processed,omitempty"`
	RuleName       *string `json:"rule_name,omitempty"`
	ResponseTxHash *string `json:"response_tx_hash,omitempty"`

	// Timing information
	Datetime    time.Time `json:"datetime"`
	PublishedAt time.Time `json:"published_at"`
}

// ObservedEvent builds the event published when a memo is first stored.
func ObservedEvent(memo *db.Memo) *MemoEvent {
	return &MemoEvent{
		Kind:        EventObserved,
		Hash:        memo.Hash,
		Account:     memo.Account,
		Destination: memo.Destination,
		LedgerIndex: memo.LedgerIndex,
		MemoType:    memo.MemoType,
		MemoFormat:  memo.MemoFormat,
		MemoData:    memo.MemoData,
		Datetime:    memo.Datetime,
		PublishedAt: time.Now().UTC(),
	}
}

// ProcessedEvent builds the event published when dispatch records a result.
func ProcessedEvent(memo *db.Memo, result *db.ProcessingResult) *MemoEvent {
	event := ObservedEvent(memo)
	event.Kind = EventProcessed
	event.Processed = &result.Processed
	event.RuleName = result.RuleName
	event.ResponseTxHash = result.ResponseTxHash
	event.PublishedAt = time.Now().UTC()
	return event
}
