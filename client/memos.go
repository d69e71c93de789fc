package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned when the server has no memo or processing result
// for the requested hash.
var ErrNotFound = errors.New("not found")

// Memo is a transaction memo observed on the ledger.
type Memo struct {
	Hash        string    `json:"hash"`
	Account     string    `json:"account"`
	Destination string    `json:"destination"`
	Amount      *string   `json:"amount,omitempty"`
	Datetime    time.Time `json:"datetime"`
	LedgerIndex int64     `json:"ledger_index"`
	MemoType    *string   `json:"memo_type,omitempty"`
	MemoFormat  *string   `json:"memo_format,omitempty"`
	MemoData    *string   `json:"memo_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProcessingResult is the durable outcome of rule evaluation for one memo.
type ProcessingResult struct {
	Hash           string     `json:"hash"`
	Processed      bool       `json:"processed"`
	RuleName       *string    `json:"rule_name,omitempty"`
	ResponseTxHash *string    `json:"response_tx_hash,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	ProcessedAt    time.Time  `json:"processed_at"`
}

// MemoWithResult pairs a memo with its processing result. Result is nil
// while the memo is still in the backlog.
type MemoWithResult struct {
	Memo   Memo              `json:"memo"`
	Result *ProcessingResult `json:"result,omitempty"`
}

// ListMemosOptions narrows a ListMemos call. The zero value lists the
// unprocessed backlog in the server's default order.
type ListMemosOptions struct {
	IncludeProcessed bool
	Order            string // "asc" or "desc" over memo datetime
	Offset           int
	Limit            int
}

// Client is the HTTP client for the memo pipeline service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new memo pipeline client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListMemos retrieves memos observed for a node address.
func (c *Client) ListMemos(ctx context.Context, address string, opts ListMemosOptions) ([]*MemoWithResult, error) {
	q := url.Values{}
	q.Set("address", address)
	if opts.IncludeProcessed {
		q.Set("include_processed", "true")
	}
	if opts.Order != "" {
		q.Set("order", opts.Order)
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/memos?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var memos []*MemoWithResult
	if err := json.NewDecoder(resp.Body).Decode(&memos); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("memos listed", "address", address, "count", len(memos))
	return memos, nil
}

// GetMemo retrieves one memo and its processing result, if any.
func (c *Client) GetMemo(ctx context.Context, hash string) (*MemoWithResult, error) {
	u := fmt.Sprintf("%s/api/v1/memos/%s", c.baseURL, url.PathEscape(hash))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("memo %s: %w", hash, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var memo MemoWithResult
	if err := json.NewDecoder(resp.Body).Decode(&memo); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &memo, nil
}

// Backlog returns the number of unprocessed memos for a node address.
func (c *Client) Backlog(ctx context.Context, address string) (int64, error) {
	q := url.Values{}
	q.Set("address", address)
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/backlog?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, c.parseErrorResponse(resp)
	}

	var body struct {
		Backlog int64 `json:"backlog"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return body.Backlog, nil
}

// Review marks a memo's processing result as reviewed. The review timestamp
// is assigned by the server.
func (c *Client) Review(ctx context.Context, hash string, notes *string) (*ProcessingResult, error) {
	body, err := json.Marshal(map[string]*string{"notes": notes})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/memos/%s/review", c.baseURL, url.PathEscape(hash))
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("memo %s: %w", hash, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var result ProcessingResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("memo reviewed", "hash", hash)
	return &result, nil
}

// Reprocess clears a memo's processing result so the next dispatch cycle
// evaluates it again.
func (c *Client) Reprocess(ctx context.Context, hash string) error {
	u := fmt.Sprintf("%s/api/v1/memos/%s/reprocess", c.baseURL, url.PathEscape(hash))
	req, err := http.NewRequestWithContext(ctx, "POST", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("memo %s: %w", hash, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("memo queued for reprocessing", "hash", hash)
	return nil
}

// RegisterAccount tells the server to start polling a node account and
// dispatching its backlog.
func (c *Client) RegisterAccount(ctx context.Context, address string) error {
	body, err := json.Marshal(map[string]string{"address": address})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/accounts", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("account registered", "address", address)
	return nil
}

// UnregisterAccount tells the server to stop polling a node account. Stored
// memos and results are retained.
func (c *Client) UnregisterAccount(ctx context.Context, address string) error {
	u := fmt.Sprintf("%s/api/v1/accounts/%s", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("account unregistered", "address", address)
	return nil
}

// AwaitProcessed polls until the memo has a terminal processing result
// (processed=true) or the context is done. The poll interval is fixed at one
// second; callers bound the wait with a context deadline.
func (c *Client) AwaitProcessed(ctx context.Context, hash string) (*ProcessingResult, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		memo, err := c.GetMemo(ctx, hash)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if memo != nil && memo.Result != nil && memo.Result.Processed {
			return memo.Result, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for memo %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
