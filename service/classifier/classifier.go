// Package classifier calls an external scoring service over HTTP. The service
// is opaque to this codebase: it takes memo text and returns a score in [0, 1]
// that rules compare against their configured threshold.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single scoring call. Dispatch treats a timeout as a
// deferral, not a failure, so a slow classifier delays memos rather than
// misclassifying them.
const DefaultTimeout = 10 * time.Second

// Client scores memo text against a remote classification endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a classifier client for the given base URL.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.With("component", "classifier"),
	}
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score submits text to the scoring endpoint and returns the score. Any
// transport or protocol failure is returned as an error; callers decide
// whether that blocks or defers the memo.
func (c *Client) Score(ctx context.Context, text string) (float64, error) {
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("score request returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if sr.Score < 0 || sr.Score > 1 {
		return 0, fmt.Errorf("score %v out of range", sr.Score)
	}

	c.logger.DebugContext(ctx, "scored memo text", "score", sr.Score)
	return sr.Score, nil
}
