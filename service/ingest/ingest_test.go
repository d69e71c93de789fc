package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brackish/memoflow/service/db"
	"github.com/brackish/memoflow/service/ledger"
	"github.com/brackish/memoflow/service/nats"
)

type fakeLedger struct {
	txs        []*ledger.Transaction
	err        error
	lastParams ledger.AccountTransactionsParams
}

func (f *fakeLedger) AccountTransactions(ctx context.Context, params ledger.AccountTransactionsParams) ([]*ledger.Transaction, error) {
	f.lastParams = params
	return f.txs, f.err
}

type fakeStore struct {
	memos     map[string]db.InsertMemoParams
	maxLedger int64
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{memos: make(map[string]db.InsertMemoParams)}
}

func (f *fakeStore) InsertMemo(ctx context.Context, params db.InsertMemoParams) (bool, error) {
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, ok := f.memos[params.Hash]; ok {
		return false, nil
	}
	f.memos[params.Hash] = params
	return true, nil
}

func (f *fakeStore) MaxLedgerIndex(ctx context.Context, account string) (int64, error) {
	return f.maxLedger, nil
}

func strPtr(s string) *string { return &s }

func validatedTx(hash string, ledgerIndex int64) *ledger.Transaction {
	return &ledger.Transaction{
		Hash:            hash,
		TransactionType: "Payment",
		Account:         "rUser",
		Destination:     "rNode",
		Amount:          strPtr("1000000"),
		LedgerIndex:     ledgerIndex,
		CloseTime:       time.Date(2024, 3, 20, 14, 30, 0, 0, time.UTC),
		MemoType:        strPtr("tip/request"),
		MemoData:        strPtr("can i get a tip?"),
		Validated:       true,
	}
}

func TestPollOnce(t *testing.T) {
	lc := &fakeLedger{txs: []*ledger.Transaction{
		validatedTx("TX1", 100),
		validatedTx("TX2", 101),
	}}
	store := newFakeStore()
	pub := nats.NewMockPublisher()
	ing := NewIngestor(lc, store, pub, nil, 0, nil)

	result, err := ing.PollOnce(context.Background(), "rNode")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 0, result.Skipped)
	assert.Len(t, store.memos, 2)
	assert.Equal(t, int64(-1), lc.lastParams.MinLedger, "first poll starts from the earliest ledger")

	events := pub.GetPublishedEventsByKind(nats.EventObserved)
	require.Len(t, events, 2)
	assert.Equal(t, "TX1", events[0].Hash)
}

func TestPollOnceResumesFromStoredLedger(t *testing.T) {
	lc := &fakeLedger{}
	store := newFakeStore()
	store.maxLedger = 500
	ing := NewIngestor(lc, store, nil, nil, 0, nil)

	_, err := ing.PollOnce(context.Background(), "rNode")
	require.NoError(t, err)
	assert.Equal(t, int64(500), lc.lastParams.MinLedger)
}

func TestPollOnceRedelivery(t *testing.T) {
	lc := &fakeLedger{txs: []*ledger.Transaction{
		validatedTx("TX1", 100),
		validatedTx("TX2", 101),
	}}
	store := newFakeStore()
	pub := nats.NewMockPublisher()
	ing := NewIngestor(lc, store, pub, nil, 0, nil)

	_, err := ing.PollOnce(context.Background(), "rNode")
	require.NoError(t, err)
	pub.Reset()

	// the feed redelivers TX2 alongside a new transaction
	lc.txs = []*ledger.Transaction{
		validatedTx("TX2", 101),
		validatedTx("TX3", 102),
	}
	result, err := ing.PollOnce(context.Background(), "rNode")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, store.memos, 3)

	events := pub.GetPublishedEventsByKind(nats.EventObserved)
	require.Len(t, events, 1, "only the new transaction is announced")
	assert.Equal(t, "TX3", events[0].Hash)
}

func TestPollOnceSkipsNonPayments(t *testing.T) {
	unvalidated := validatedTx("TX1", 100)
	unvalidated.Validated = false
	trustSet := validatedTx("TX2", 101)
	trustSet.TransactionType = "TrustSet"

	lc := &fakeLedger{txs: []*ledger.Transaction{unvalidated, trustSet, validatedTx("TX3", 102)}}
	store := newFakeStore()
	ing := NewIngestor(lc, store, nil, nil, 0, nil)

	result, err := ing.PollOnce(context.Background(), "rNode")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 2, result.Skipped)
	_, ok := store.memos["TX3"]
	assert.True(t, ok)
}

func TestPollOnceFetchError(t *testing.T) {
	lc := &fakeLedger{err: errors.New("endpoint unreachable")}
	ing := NewIngestor(lc, newFakeStore(), nil, nil, 0, nil)

	_, err := ing.PollOnce(context.Background(), "rNode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint unreachable")
}

func TestPollOncePublishFailureDoesNotFail(t *testing.T) {
	lc := &fakeLedger{txs: []*ledger.Transaction{validatedTx("TX1", 100)}}
	store := newFakeStore()
	pub := nats.NewMockPublisher()
	pub.SetPublishError(errors.New("nats down"))
	ing := NewIngestor(lc, store, pub, nil, 0, nil)

	result, err := ing.PollOnce(context.Background(), "rNode")
	require.NoError(t, err, "eventing is best-effort")
	assert.Equal(t, 1, result.Written)
}
