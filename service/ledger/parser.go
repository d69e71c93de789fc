package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// rippleEpochOffset is the number of seconds between the Unix epoch and the
// ledger epoch (2000-01-01T00:00:00Z). Wire close times count from the latter.
const rippleEpochOffset = 946684800

// closeTimeToUTC converts a wire close time to UTC.
func closeTimeToUTC(closeTime int64) time.Time {
	return time.Unix(closeTime+rippleEpochOffset, 0).UTC()
}

// decodeMemoField decodes one hex-encoded memo field. An empty field decodes
// to nil. Fields that are not valid hex, or whose bytes are not valid UTF-8,
// are kept in their wire form rather than dropped so nothing observed on the
// ledger is lost.
func decodeMemoField(hexField string) *string {
	if hexField == "" {
		return nil
	}
	raw, err := hex.DecodeString(hexField)
	if err != nil || !utf8.Valid(raw) {
		return &hexField
	}
	decoded := string(raw)
	return &decoded
}

// parseAmount normalizes the two wire encodings of Amount: a bare string of
// native-asset drops, or an object carrying an issued-currency value.
func parseAmount(raw json.RawMessage) (*string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var drops string
	if err := json.Unmarshal(raw, &drops); err == nil {
		return &drops, nil
	}
	var issued issuedAmount
	if err := json.Unmarshal(raw, &issued); err != nil {
		return nil, fmt.Errorf("unrecognized amount encoding: %s", raw)
	}
	return &issued.Value, nil
}

// parseTransaction converts a raw wire transaction into the domain model.
// Only the first attached memo is considered; the systems feeding this
// pipeline write a single memo per transaction.
func parseTransaction(raw *rawTransaction, validated bool) (*Transaction, error) {
	if raw == nil {
		return nil, fmt.Errorf("transaction entry has no tx body")
	}
	if raw.Hash == "" {
		return nil, fmt.Errorf("transaction has no hash")
	}
	if raw.Account == "" {
		return nil, fmt.Errorf("transaction %s has no account", raw.Hash)
	}

	amount, err := parseAmount(raw.Amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", raw.Hash, err)
	}

	tx := &Transaction{
		Hash:            raw.Hash,
		TransactionType: raw.TransactionType,
		Account:         raw.Account,
		Destination:     raw.Destination,
		Amount:          amount,
		LedgerIndex:     raw.LedgerIndex,
		CloseTime:       closeTimeToUTC(raw.Date),
		Validated:       validated,
	}

	if len(raw.Memos) > 0 {
		memo := raw.Memos[0].Memo
		tx.MemoType = decodeMemoField(memo.MemoType)
		tx.MemoFormat = decodeMemoField(memo.MemoFormat)
		tx.MemoData = decodeMemoField(memo.MemoData)
	}

	return tx, nil
}
