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

	"github.com/brackish/memoflow/service/rules"
)

// HTTPSubmitter sends response transactions through an external submission
// service that holds the node's keys. Signing never happens in this process.
type HTTPSubmitter struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    submitterMetrics
}

// submitterMetrics is the slice of the metrics surface the submitter needs,
// so tests can pass a nil recorder without pulling in Prometheus.
type submitterMetrics interface {
	RecordResponseSubmission(nodeAddress, status string)
}

// NewHTTPSubmitter creates a submitter for the given submission service URL.
func NewHTTPSubmitter(baseURL string, httpClient *http.Client, m submitterMetrics, logger *slog.Logger) *HTTPSubmitter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &HTTPSubmitter{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.With("component", "submitter"),
		metrics:    m,
	}
}

type submitRequest struct {
	Account     string `json:"account"`
	Destination string `json:"destination"`
	Amount      string `json:"amount,omitempty"`
	MemoType    string `json:"memo_type,omitempty"`
	MemoFormat  string `json:"memo_format,omitempty"`
	MemoData    string `json:"memo_data,omitempty"`
}

type submitResponse struct {
	Hash  string `json:"hash"`
	Error string `json:"error,omitempty"`
}

// Submit sends one response transaction from account and returns the hash of
// the submitted transaction. A non-2xx reply or transport failure is an
// error; the caller decides whether to leave the memo for a later pass.
func (s *HTTPSubmitter) Submit(ctx context.Context, account string, action *rules.ResponseAction) (string, error) {
	body, err := json.Marshal(submitRequest{
		Account:     account,
		Destination: action.Destination,
		Amount:      action.Amount,
		MemoType:    action.MemoType,
		MemoFormat:  action.MemoFormat,
		MemoData:    action.MemoData,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/v1/submit", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.recordSubmission(account, "error")
		return "", fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		s.recordSubmission(account, "error")
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("submit returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		s.recordSubmission(account, "error")
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if sr.Error != "" {
		s.recordSubmission(account, "rejected")
		return "", fmt.Errorf("submission rejected: %s", sr.Error)
	}
	if sr.Hash == "" {
		s.recordSubmission(account, "error")
		return "", fmt.Errorf("submit response has no hash")
	}

	s.recordSubmission(account, "success")
	s.logger.InfoContext(ctx, "submitted response transaction",
		"account", account,
		"destination", action.Destination,
		"hash", sr.Hash,
	)
	return sr.Hash, nil
}

func (s *HTTPSubmitter) recordSubmission(account, status string) {
	if s.metrics != nil {
		s.metrics.RecordResponseSubmission(account, status)
	}
}
