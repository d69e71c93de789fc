package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brackish/memoflow/service/rules"
)

func rpcHandler(t *testing.T, handle func(method string, params map[string]any) any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string           `json:"method"`
			Params []map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Params, 1)

		result := handle(req.Method, req.Params[0])
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"result": result})
	}
}

func txJSON(hash string, memoTypeHex string) map[string]any {
	tx := map[string]any{
		"hash":            hash,
		"TransactionType": "Payment",
		"Account":         "rSender",
		"Destination":     "rNode",
		"Amount":          "1000000",
		"date":            768602652,
		"ledger_index":    100,
	}
	if memoTypeHex != "" {
		tx["Memos"] = []map[string]any{
			{"Memo": map[string]any{"MemoType": memoTypeHex}},
		}
	}
	return tx
}

func TestAccountTransactionsPagination(t *testing.T) {
	var calls int
	srv := httptest.NewServer(rpcHandler(t, func(method string, params map[string]any) any {
		calls++
		require.Equal(t, "account_tx", method)
		assert.Equal(t, "rNode", params["account"])

		switch calls {
		case 1:
			assert.Nil(t, params["marker"], "first page carries no marker")
			return map[string]any{
				"status": "success",
				"transactions": []map[string]any{
					{"tx": txJSON("TX1", "7469702f72657175657374"), "validated": true},
					{"tx": txJSON("TX2", ""), "validated": true},
				},
				"marker": map[string]any{"ledger": 100, "seq": 5},
			}
		case 2:
			require.NotNil(t, params["marker"], "second page echoes the marker")
			return map[string]any{
				"status": "success",
				"transactions": []map[string]any{
					{"tx": txJSON("TX3", ""), "validated": true},
				},
			}
		default:
			t.Fatalf("unexpected call %d", calls)
			return nil
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil, nil)
	txs, err := c.AccountTransactions(context.Background(), AccountTransactionsParams{Account: "rNode"})
	require.NoError(t, err)

	require.Len(t, txs, 3)
	assert.Equal(t, "TX1", txs[0].Hash)
	require.NotNil(t, txs[0].MemoType)
	assert.Equal(t, "tip/request", *txs[0].MemoType)
	assert.Equal(t, "TX3", txs[2].Hash)
	assert.Equal(t, 2, calls)
}

func TestAccountTransactionsStuckMarker(t *testing.T) {
	var calls int
	srv := httptest.NewServer(rpcHandler(t, func(method string, params map[string]any) any {
		calls++
		return map[string]any{
			"status": "success",
			"transactions": []map[string]any{
				{"tx": txJSON(fmt.Sprintf("TX%d", calls), ""), "validated": true},
			},
			"marker": map[string]any{"ledger": 100, "seq": 5},
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil, nil)
	txs, err := c.AccountTransactions(context.Background(), AccountTransactionsParams{Account: "rNode"})
	require.NoError(t, err)

	// the marker never advances past page two, so pagination stops there
	assert.Len(t, txs, 2)
	assert.Equal(t, 2, calls)
}

func TestAccountTransactionsSkipsUnparseable(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(method string, params map[string]any) any {
		return map[string]any{
			"status": "success",
			"transactions": []map[string]any{
				{"tx": map[string]any{"Account": "rSender"}, "validated": true}, // no hash
				{"tx": txJSON("TX1", ""), "validated": true},
			},
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil, nil)
	txs, err := c.AccountTransactions(context.Background(), AccountTransactionsParams{Account: "rNode"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "TX1", txs[0].Hash)
}

func TestAccountTransactionsEndpointError(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(method string, params map[string]any) any {
		return map[string]any{
			"status":        "error",
			"error":         "actNotFound",
			"error_message": "Account not found.",
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil, nil)
	_, err := c.AccountTransactions(context.Background(), AccountTransactionsParams{Account: "rMissing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actNotFound")
}

func TestGetTransaction(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(method string, params map[string]any) any {
		require.Equal(t, "tx", method)
		assert.Equal(t, "TX1", params["transaction"])
		result := txJSON("TX1", "7469702f72657175657374")
		result["status"] = "success"
		result["validated"] = true
		return result
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil, nil)
	tx, err := c.GetTransaction(context.Background(), "TX1")
	require.NoError(t, err)
	assert.Equal(t, "TX1", tx.Hash)
	assert.True(t, tx.Validated)
}

func TestHTTPSubmitter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/submit", r.URL.Path)

		var req submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rNode", req.Account)
		assert.Equal(t, "rUser", req.Destination)
		assert.Equal(t, "tip/receipt", req.MemoType)

		json.NewEncoder(w).Encode(submitResponse{Hash: "RESP1"})
	}))
	defer srv.Close()

	s := NewHTTPSubmitter(srv.URL, nil, nil, nil)
	hash, err := s.Submit(context.Background(), "rNode", &rules.ResponseAction{
		Destination: "rUser",
		Amount:      "1",
		MemoType:    "tip/receipt",
	})
	require.NoError(t, err)
	assert.Equal(t, "RESP1", hash)
}

func TestHTTPSubmitterRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{Error: "insufficient balance"})
	}))
	defer srv.Close()

	s := NewHTTPSubmitter(srv.URL, nil, nil, nil)
	_, err := s.Submit(context.Background(), "rNode", &rules.ResponseAction{Destination: "rUser"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
}
