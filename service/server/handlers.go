package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode"

	"github.com/brackish/memoflow/service/db"
	"github.com/brackish/memoflow/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for review notes
	maxAddressLength   = 100
	maxNotesLength     = 4096
)

// memoResponse is the JSON shape of a stored memo.
type memoResponse struct {
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

// resultResponse is the JSON shape of a processing result.
type resultResponse struct {
	Hash           string     `json:"hash"`
	Processed      bool       `json:"processed"`
	RuleName       *string    `json:"rule_name,omitempty"`
	ResponseTxHash *string    `json:"response_tx_hash,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	ProcessedAt    time.Time  `json:"processed_at"`
}

// memoWithResultResponse joins a memo with its processing result, if any.
type memoWithResultResponse struct {
	Memo   memoResponse    `json:"memo"`
	Result *resultResponse `json:"result,omitempty"`
}

func memoToResponse(m *db.Memo) memoResponse {
	return memoResponse{
		Hash:        m.Hash,
		Account:     m.Account,
		Destination: m.Destination,
		Amount:      m.Amount,
		Datetime:    m.Datetime,
		LedgerIndex: m.LedgerIndex,
		MemoType:    m.MemoType,
		MemoFormat:  m.MemoFormat,
		MemoData:    m.MemoData,
		CreatedAt:   m.CreatedAt,
	}
}

func resultToResponse(r *db.ProcessingResult) *resultResponse {
	if r == nil {
		return nil
	}
	return &resultResponse{
		Hash:           r.Hash,
		Processed:      r.Processed,
		RuleName:       r.RuleName,
		ResponseTxHash: r.ResponseTxHash,
		Notes:          r.Notes,
		ReviewedAt:     r.ReviewedAt,
		ProcessedAt:    r.ProcessedAt,
	}
}

// handleListMemos returns a handler that lists memos for a node address.
// GET /api/v1/memos?address=&include_processed=&order=&offset=&limit=
//
// The pagination and ordering parameters are operator-facing and lenient:
// non-numeric offset/limit and unrecognized order values degrade to their
// defaults rather than rejecting the request. Only a missing address is an
// error.
func handleListMemos(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		address := query.Get("address")
		if address == "" {
			writeError(w, "address query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		includeProcessed := query.Get("include_processed") == "true"
		order := db.ParseOrder(query.Get("order"))

		// Absent or non-numeric limit means no limit at all; the full result
		// set is the documented default for this read path.
		var limit *int32
		if parsed, err := strconv.ParseInt(query.Get("limit"), 10, 32); err == nil && parsed > 0 {
			v := int32(parsed)
			limit = &v
		}

		var offset *int32
		if parsed, err := strconv.ParseInt(query.Get("offset"), 10, 32); err == nil && parsed > 0 {
			v := int32(parsed)
			offset = &v
		}

		memos, err := store.ListMemos(r.Context(), db.ListMemosParams{
			NodeAddress:      address,
			IncludeProcessed: includeProcessed,
			Order:            order,
			Offset:           offset,
			Limit:            limit,
		})
		if err != nil {
			logger.Error("failed to list memos", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("memos listed", "address", address, "count", len(memos))

		resp := make([]memoWithResultResponse, len(memos))
		for i, m := range memos {
			resp[i] = memoWithResultResponse{
				Memo:   memoToResponse(&m.Memo),
				Result: resultToResponse(m.Result),
			}
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleGetMemo returns a handler that fetches one memo and its processing
// result. GET /api/v1/memos/{hash}
func handleGetMemo(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := r.PathValue("hash")
		if err := validateHash(hash); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		memo, err := store.GetMemo(r.Context(), hash)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "memo not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get memo", "hash", hash, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// A memo with no processing result is still in the backlog; the
		// result is simply omitted from the response.
		result, err := store.GetProcessingResult(r.Context(), hash)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			logger.Error("failed to get processing result", "hash", hash, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, memoWithResultResponse{
			Memo:   memoToResponse(memo),
			Result: resultToResponse(result),
		}, http.StatusOK)
	})
}

// reviewRequest is the body for POST /api/v1/memos/{hash}/review.
type reviewRequest struct {
	Notes *string `json:"notes"`
}

// handleReviewMemo returns a handler that marks a processing result as
// reviewed. The review timestamp is set server-side; callers only supply
// optional notes. POST /api/v1/memos/{hash}/review
func handleReviewMemo(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := r.PathValue("hash")
		if err := validateHash(hash); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req reviewRequest
		body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Notes != nil && len(*req.Notes) > maxNotesLength {
			writeError(w, fmt.Sprintf("notes too long: maximum length is %d characters", maxNotesLength), http.StatusBadRequest)
			return
		}

		result, err := store.RecordReview(r.Context(), hash, req.Notes, time.Now().UTC())
		if err != nil {
			if errors.Is(err, db.ErrMemoNotFound) {
				writeError(w, "memo not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to record review", "hash", hash, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("memo reviewed", "hash", hash)
		writeJSON(w, resultToResponse(result), http.StatusOK)
	})
}

// handleReprocessMemo returns a handler that clears a memo's processing
// result so the next dispatch cycle evaluates it again.
// POST /api/v1/memos/{hash}/reprocess
func handleReprocessMemo(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := r.PathValue("hash")
		if err := validateHash(hash); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		cleared, err := store.ClearProcessingResults(r.Context(), []string{hash})
		if err != nil {
			logger.Error("failed to clear processing result", "hash", hash, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if cleared == 0 {
			writeError(w, "no processing result for memo", http.StatusNotFound)
			return
		}

		logger.Info("memo queued for reprocessing", "hash", hash)
		writeJSON(w, map[string]string{
			"hash":   hash,
			"status": "queued",
		}, http.StatusOK)
	})
}

// handleBacklog returns a handler that reports the number of unprocessed
// memos for a node address. GET /api/v1/backlog?address=
func handleBacklog(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("address")
		if address == "" {
			writeError(w, "address query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		count, err := store.CountBacklog(r.Context(), address)
		if err != nil {
			logger.Error("failed to count backlog", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"address": address,
			"backlog": count,
		}, http.StatusOK)
	})
}

// registerAccountRequest is the body for POST /api/v1/accounts.
type registerAccountRequest struct {
	Address string `json:"address"`
}

// handleRegisterAccount returns a handler that creates the polling and
// dispatch schedules for a node account. Creation is idempotent: registering
// an already-registered account succeeds. POST /api/v1/accounts
func handleRegisterAccount(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req registerAccountRequest
		body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.Address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := scheduler.CreateAccountSchedules(r.Context(), req.Address); err != nil {
			logger.Error("failed to create account schedules", "address", req.Address, "error", err)
			writeError(w, "failed to create schedules", http.StatusInternalServerError)
			return
		}

		logger.Info("account registered", "address", req.Address)
		writeJSON(w, map[string]string{
			"address": req.Address,
			"status":  "registered",
		}, http.StatusCreated)
	})
}

// handleUnregisterAccount returns a handler that deletes an account's
// schedules. Stored memos and results are retained.
// DELETE /api/v1/accounts/{address}
func handleUnregisterAccount(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := scheduler.DeleteAccountSchedules(r.Context(), address); err != nil {
			logger.Error("failed to delete account schedules", "address", address, "error", err)
			writeError(w, "failed to delete schedules", http.StatusInternalServerError)
			return
		}

		logger.Info("account unregistered", "address", address)
		writeJSON(w, map[string]string{
			"address": address,
			"status":  "unregistered",
		}, http.StatusOK)
	})
}

// validateAddress validates a ledger address for basic shape and safety.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: maximum length is %d characters", maxAddressLength)
	}
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("address contains invalid characters")
		}
	}
	return nil
}

// validateHash checks a transaction hash path parameter.
func validateHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("hash is required")
	}
	if len(hash) > 128 {
		return fmt.Errorf("hash too long")
	}
	for _, r := range hash {
		if r == 0 || unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("hash contains invalid characters")
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
