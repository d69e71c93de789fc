package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func i32Ptr(n int32) *int32 { return &n }

func insertTestMemo(t *testing.T, store *TestStore, hash, account, destination string, at time.Time) {
	t.Helper()

	inserted, err := store.InsertMemo(context.Background(), InsertMemoParams{
		Hash:        hash,
		Account:     account,
		Destination: destination,
		Datetime:    at,
		LedgerIndex: 1000,
		MemoType:    strPtr("memo/test"),
		MemoData:    strPtr("payload for " + hash),
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestInsertMemo(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("first observation inserts", func(t *testing.T) {
		amount := "1000000"
		inserted, err := store.InsertMemo(ctx, InsertMemoParams{
			Hash:        "A1",
			Account:     "rNode",
			Destination: "rUser",
			Amount:      &amount,
			Datetime:    now,
			LedgerIndex: 84000001,
			MemoType:    strPtr("tip/request"),
			MemoFormat:  strPtr("text/plain"),
			MemoData:    strPtr("please tip me"),
		})
		require.NoError(t, err)
		assert.True(t, inserted)

		memo, err := store.GetMemo(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, "rNode", memo.Account)
		assert.Equal(t, "rUser", memo.Destination)
		require.NotNil(t, memo.Amount)
		assert.Equal(t, amount, *memo.Amount)
		require.NotNil(t, memo.MemoType)
		assert.Equal(t, "tip/request", *memo.MemoType)
		assert.WithinDuration(t, now, memo.Datetime, time.Microsecond)
	})

	t.Run("redelivery is a no-op", func(t *testing.T) {
		// Same hash with different fields: the original row wins.
		inserted, err := store.InsertMemo(ctx, InsertMemoParams{
			Hash:        "A1",
			Account:     "rOther",
			Destination: "rElse",
			Datetime:    now.Add(time.Hour),
			LedgerIndex: 84000002,
		})
		require.NoError(t, err)
		assert.False(t, inserted)

		memo, err := store.GetMemo(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, "rNode", memo.Account)
	})

	t.Run("get missing memo", func(t *testing.T) {
		_, err := store.GetMemo(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpsertProcessingResult(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	insertTestMemo(t, store, "B1", "rNode", "rUser", now)

	t.Run("idempotent upsert", func(t *testing.T) {
		params := UpsertProcessingResultParams{
			Hash:           "B1",
			Processed:      true,
			RuleName:       strPtr("tip-request"),
			ResponseTxHash: strPtr("R1"),
			Notes:          strPtr("response submitted"),
		}

		first, err := store.UpsertProcessingResult(ctx, params)
		require.NoError(t, err)

		second, err := store.UpsertProcessingResult(ctx, params)
		require.NoError(t, err)

		assert.Equal(t, first.Hash, second.Hash)
		assert.Equal(t, first.Processed, second.Processed)
		assert.Equal(t, *first.RuleName, *second.RuleName)
		assert.Equal(t, *first.ResponseTxHash, *second.ResponseTxHash)
		assert.Equal(t, *first.Notes, *second.Notes)
	})

	t.Run("upsert preserves reviewed_at", func(t *testing.T) {
		reviewedAt := now.Add(time.Minute)
		_, err := store.RecordReview(ctx, "B1", strPtr("looks right"), reviewedAt)
		require.NoError(t, err)

		result, err := store.UpsertProcessingResult(ctx, UpsertProcessingResultParams{
			Hash:      "B1",
			Processed: true,
			RuleName:  strPtr("tip-request"),
		})
		require.NoError(t, err)
		require.NotNil(t, result.ReviewedAt)
		assert.WithinDuration(t, reviewedAt, *result.ReviewedAt, time.Microsecond)
	})

	t.Run("unknown memo hash is rejected", func(t *testing.T) {
		_, err := store.UpsertProcessingResult(ctx, UpsertProcessingResultParams{
			Hash:      "never-ingested",
			Processed: true,
		})
		assert.ErrorIs(t, err, ErrMemoNotFound)
	})
}

func TestRecordReview(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	insertTestMemo(t, store, "C1", "rNode", "rUser", now)

	t.Run("review before dispatch creates unprocessed row", func(t *testing.T) {
		result, err := store.RecordReview(ctx, "C1", strPtr("flagging for follow-up"), now)
		require.NoError(t, err)
		assert.False(t, result.Processed)
		assert.Nil(t, result.RuleName)
		require.NotNil(t, result.ReviewedAt)
	})

	t.Run("review does not clobber dispatcher fields", func(t *testing.T) {
		_, err := store.UpsertProcessingResult(ctx, UpsertProcessingResultParams{
			Hash:           "C1",
			Processed:      true,
			RuleName:       strPtr("tip-request"),
			ResponseTxHash: strPtr("R9"),
		})
		require.NoError(t, err)

		result, err := store.RecordReview(ctx, "C1", strPtr("confirmed"), now.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, result.Processed)
		require.NotNil(t, result.RuleName)
		assert.Equal(t, "tip-request", *result.RuleName)
		require.NotNil(t, result.ResponseTxHash)
		assert.Equal(t, "R9", *result.ResponseTxHash)
		require.NotNil(t, result.Notes)
		assert.Equal(t, "confirmed", *result.Notes)
	})

	t.Run("review without notes keeps existing notes", func(t *testing.T) {
		insertTestMemo(t, store, "C2", "rNode", "rUser", now)
		_, err := store.UpsertProcessingResult(ctx, UpsertProcessingResultParams{
			Hash:      "C2",
			Processed: false,
			RuleName:  strPtr("tip-request"),
			Notes:     strPtr("submission failed: timeout"),
		})
		require.NoError(t, err)

		result, err := store.RecordReview(ctx, "C2", nil, now.Add(time.Minute))
		require.NoError(t, err)
		require.NotNil(t, result.Notes)
		assert.Equal(t, "submission failed: timeout", *result.Notes)
		require.NotNil(t, result.ReviewedAt)
	})

	t.Run("review of unknown memo is rejected", func(t *testing.T) {
		_, err := store.RecordReview(ctx, "never-ingested", nil, now)
		assert.ErrorIs(t, err, ErrMemoNotFound)
	})
}

func TestListMemos(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	base := time.Date(2024, 3, 20, 14, 30, 0, 0, time.UTC)

	// Three memos involving rNode (two inbound, one outbound) and one that
	// does not involve rNode at all.
	insertTestMemo(t, store, "D1", "rUser", "rNode", base)
	insertTestMemo(t, store, "D2", "rNode", "rUser", base.Add(time.Minute))
	insertTestMemo(t, store, "D3", "rOther", "rNode", base.Add(2*time.Minute))
	insertTestMemo(t, store, "D4", "rStranger", "rNobody", base.Add(3*time.Minute))

	t.Run("node filter matches both directions", func(t *testing.T) {
		rows, err := store.ListMemos(ctx, ListMemosParams{
			NodeAddress: "rNode",
			Order:       OrderDatetimeAsc,
		})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "D1", rows[0].Memo.Hash)
		assert.Equal(t, "D2", rows[1].Memo.Hash)
		assert.Equal(t, "D3", rows[2].Memo.Hash)
		// Unprocessed memos carry no result.
		for _, row := range rows {
			assert.Nil(t, row.Result)
		}
	})

	t.Run("descending order", func(t *testing.T) {
		rows, err := store.ListMemos(ctx, ListMemosParams{
			NodeAddress: "rNode",
			Order:       OrderDatetimeDesc,
		})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "D3", rows[0].Memo.Hash)
	})

	t.Run("processed memos leave the backlog", func(t *testing.T) {
		_, err := store.UpsertProcessingResult(ctx, UpsertProcessingResultParams{
			Hash:      "D1",
			Processed: true,
			RuleName:  strPtr("tip-request"),
		})
		require.NoError(t, err)

		backlog, err := store.ListMemos(ctx, ListMemosParams{
			NodeAddress: "rNode",
			Order:       OrderDatetimeAsc,
		})
		require.NoError(t, err)
		require.Len(t, backlog, 2)
		assert.Equal(t, "D2", backlog[0].Memo.Hash)

		all, err := store.ListMemos(ctx, ListMemosParams{
			NodeAddress:      "rNode",
			IncludeProcessed: true,
			Order:            OrderDatetimeAsc,
		})
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.NotNil(t, all[0].Result)
		assert.True(t, all[0].Result.Processed)
		require.NotNil(t, all[0].Result.RuleName)
		assert.Equal(t, "tip-request", *all[0].Result.RuleName)
	})

	t.Run("non-terminal result stays in backlog", func(t *testing.T) {
		_, err := store.UpsertProcessingResult(ctx, UpsertProcessingResultParams{
			Hash:      "D2",
			Processed: false,
			RuleName:  strPtr("tip-request"),
			Notes:     strPtr("submission failed: timeout"),
		})
		require.NoError(t, err)

		backlog, err := store.ListMemos(ctx, ListMemosParams{
			NodeAddress: "rNode",
			Order:       OrderDatetimeAsc,
		})
		require.NoError(t, err)
		require.Len(t, backlog, 2)
		require.NotNil(t, backlog[0].Result)
		assert.False(t, backlog[0].Result.Processed)
	})

	t.Run("pagination yields disjoint concatenable batches", func(t *testing.T) {
		all, err := store.ListMemos(ctx, ListMemosParams{
			NodeAddress:      "rNode",
			IncludeProcessed: true,
			Order:            OrderDatetimeAsc,
			Limit:            i32Ptr(4),
		})
		require.NoError(t, err)

		first, err := store.ListMemos(ctx, ListMemosParams{
			NodeAddress:      "rNode",
			IncludeProcessed: true,
			Order:            OrderDatetimeAsc,
			Limit:            i32Ptr(2),
		})
		require.NoError(t, err)

		second, err := store.ListMemos(ctx, ListMemosParams{
			NodeAddress:      "rNode",
			IncludeProcessed: true,
			Order:            OrderDatetimeAsc,
			Offset:           i32Ptr(2),
			Limit:            i32Ptr(2),
		})
		require.NoError(t, err)

		var combined []string
		for _, row := range append(first, second...) {
			combined = append(combined, row.Memo.Hash)
		}
		var expected []string
		for _, row := range all {
			expected = append(expected, row.Memo.Hash)
		}
		assert.Equal(t, expected, combined)
	})

	t.Run("backlog count", func(t *testing.T) {
		count, err := store.CountBacklog(ctx, "rNode")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("clear results returns memo to backlog", func(t *testing.T) {
		n, err := store.ClearProcessingResults(ctx, []string{"D1"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		count, err := store.CountBacklog(ctx, "rNode")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})
}

func TestParseOrder(t *testing.T) {
	tests := []struct {
		in   string
		want Order
	}{
		{"datetime ASC", OrderDatetimeAsc},
		{"asc", OrderDatetimeAsc},
		{"datetime DESC", OrderDatetimeDesc},
		{"desc", OrderDatetimeDesc},
		{"", OrderUnspecified},
		{"bogus", OrderUnspecified},
		{"datetime; DROP TABLE", OrderUnspecified},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseOrder(tt.in), "input %q", tt.in)
	}
}

func TestMaxLedgerIndex(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	max, err := store.MaxLedgerIndex(ctx, "rNode")
	require.NoError(t, err)
	assert.Equal(t, int64(0), max, "no memos yet")

	now := time.Now().UTC().Truncate(time.Microsecond)
	for i, hash := range []string{"L1", "L2", "L3"} {
		inserted, err := store.InsertMemo(ctx, InsertMemoParams{
			Hash:        hash,
			Account:     "rUser",
			Destination: "rNode",
			Datetime:    now,
			LedgerIndex: int64(500 + i),
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	max, err = store.MaxLedgerIndex(ctx, "rNode")
	require.NoError(t, err)
	assert.Equal(t, int64(502), max)

	max, err = store.MaxLedgerIndex(ctx, "rElse")
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)
}
