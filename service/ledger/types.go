package ledger

import (
	"encoding/json"
	"time"
)

// Transaction is a parsed ledger transaction. This is our domain model,
// independent of the RPC response format: memo fields are already decoded
// from their hex wire encoding and the close time is UTC.
type Transaction struct {
	Hash            string
	TransactionType string
	Account         string
	Destination     string
	Amount          *string // drops for the native asset, issued value otherwise
	LedgerIndex     int64
	CloseTime       time.Time
	MemoType        *string
	MemoFormat      *string
	MemoData        *string
	Validated       bool
}

// HasMemo reports whether any memo field was attached to the transaction.
func (t *Transaction) HasMemo() bool {
	return t.MemoType != nil || t.MemoFormat != nil || t.MemoData != nil
}

// rawTransaction mirrors the ledger's JSON transaction encoding. Field casing
// follows the wire format, which capitalizes transaction fields and lowercases
// metadata added by the server.
type rawTransaction struct {
	Hash            string           `json:"hash"`
	TransactionType string           `json:"TransactionType"`
	Account         string           `json:"Account"`
	Destination     string           `json:"Destination"`
	Amount          json.RawMessage  `json:"Amount"`
	Memos           []rawMemoWrapper `json:"Memos"`
	Date            int64            `json:"date"`
	LedgerIndex     int64            `json:"ledger_index"`
}

type rawMemoWrapper struct {
	Memo rawMemo `json:"Memo"`
}

// rawMemo carries the hex-encoded memo fields as they appear on the wire.
type rawMemo struct {
	MemoType   string `json:"MemoType"`
	MemoFormat string `json:"MemoFormat"`
	MemoData   string `json:"MemoData"`
}

// issuedAmount is the object form of Amount used for non-native assets.
type issuedAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
}

// accountTxEntry is one element of an account_tx result page.
type accountTxEntry struct {
	Tx        *rawTransaction `json:"tx"`
	Validated bool            `json:"validated"`
}

type accountTxResult struct {
	Account      string           `json:"account"`
	Transactions []accountTxEntry `json:"transactions"`
	Marker       json.RawMessage  `json:"marker,omitempty"`
	Status       string           `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Error        string           `json:"error,omitempty"`
}

type txResult struct {
	rawTransaction
	Validated    bool   `json:"validated"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Error        string `json:"error,omitempty"`
}
