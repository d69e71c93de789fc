package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brackish/memoflow/service/metrics"
)

const (
	// maxPages bounds marker pagination so a misbehaving endpoint that keeps
	// returning fresh markers cannot spin the poller forever.
	maxPages = 50

	// maxRetries is the number of attempts per RPC call.
	maxRetries = 3
)

// Client talks JSON-RPC to a ledger node over HTTP. It only uses read
// methods; response transactions go through a Submitter, not this client.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a ledger client for the given RPC endpoint.
// If m is nil, no metrics will be recorded.
func NewClient(endpoint string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger.With("component", "ledger_client"),
		metrics:    m,
	}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
}

// call performs one JSON-RPC request with retry and exponential backoff on
// transport errors and server-side throttling.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: []any{params}})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second // 1s, 2s
			c.logger.WarnContext(ctx, "retrying RPC call",
				"method", method,
				"attempt", attempt+1,
				"backoff_seconds", backoff.Seconds(),
				"error", lastErr,
			)
			if c.metrics != nil {
				c.metrics.RecordRPCRetry(method, "timeout_or_error")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.doCall(ctx, method, body, result)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", method, maxRetries, lastErr)
}

func (c *Client) doCall(ctx context.Context, method string, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil || (resp != nil && resp.StatusCode != http.StatusOK) {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
	}

	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if err := json.Unmarshal(rr.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// AccountTransactionsParams selects the transactions to fetch.
type AccountTransactionsParams struct {
	Account string
	// MinLedger restricts the fetch to ledgers at or above this index.
	// Use -1 for the earliest available ledger.
	MinLedger int64
	// PageLimit is the per-page transaction count requested from the
	// endpoint; zero lets the endpoint choose.
	PageLimit int
}

// AccountTransactions fetches all transactions touching the account, paging
// through the endpoint's marker protocol until the marker stops advancing.
// Entries that fail to parse are logged and skipped rather than failing the
// whole fetch.
func (c *Client) AccountTransactions(ctx context.Context, params AccountTransactionsParams) ([]*Transaction, error) {
	type accountTxParams struct {
		Account        string          `json:"account"`
		LedgerIndexMin int64           `json:"ledger_index_min"`
		LedgerIndexMax int64           `json:"ledger_index_max"`
		Limit          int             `json:"limit,omitempty"`
		Marker         json.RawMessage `json:"marker,omitempty"`
	}

	minLedger := params.MinLedger
	if minLedger == 0 {
		minLedger = -1
	}

	var (
		txs    []*Transaction
		marker json.RawMessage
	)

	for page := 0; page < maxPages; page++ {
		var result accountTxResult
		err := c.call(ctx, "account_tx", accountTxParams{
			Account:        params.Account,
			LedgerIndexMin: minLedger,
			LedgerIndexMax: -1,
			Limit:          params.PageLimit,
			Marker:         marker,
		}, &result)
		if err != nil {
			return nil, err
		}
		if result.Status == "error" {
			return nil, fmt.Errorf("account_tx error for %s: %s %s", params.Account, result.Error, result.ErrorMessage)
		}

		if c.metrics != nil {
			c.metrics.RecordRPCTxsPerCall(c.endpoint, float64(len(result.Transactions)))
		}

		for _, entry := range result.Transactions {
			tx, err := parseTransaction(entry.Tx, entry.Validated)
			if err != nil {
				c.logger.WarnContext(ctx, "skipping unparseable transaction",
					"account", params.Account,
					"error", err,
				)
				continue
			}
			txs = append(txs, tx)
		}

		if len(result.Marker) == 0 {
			break
		}
		// A marker identical to the one we just sent means the endpoint is
		// not advancing; stop rather than loop.
		if bytes.Equal(result.Marker, marker) {
			c.logger.WarnContext(ctx, "account_tx marker did not advance, stopping pagination",
				"account", params.Account,
			)
			break
		}
		marker = result.Marker
	}

	c.logger.DebugContext(ctx, "fetched account transactions",
		"account", params.Account,
		"count", len(txs),
	)
	return txs, nil
}

// GetTransaction fetches a single transaction by hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	type txParams struct {
		Transaction string `json:"transaction"`
	}

	var result txResult
	if err := c.call(ctx, "tx", txParams{Transaction: hash}, &result); err != nil {
		return nil, err
	}
	if result.Status == "error" {
		return nil, fmt.Errorf("tx error for %s: %s %s", hash, result.Error, result.ErrorMessage)
	}
	return parseTransaction(&result.rawTransaction, result.Validated)
}
