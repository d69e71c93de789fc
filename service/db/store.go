package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMemoNotFound is returned when a processing result write references a
	// memo hash that was never ingested. Ingestion always precedes dispatch,
	// so hitting this indicates an ordering bug, not a transient condition.
	ErrMemoNotFound = errors.New("processing result references unknown memo hash")
)

// Order is a sort directive for ListMemos over the memo datetime.
type Order int

const (
	// OrderUnspecified sorts by insertion order (created_at, then hash).
	// This is the documented fallback for absent or unrecognized directives.
	OrderUnspecified Order = iota
	OrderDatetimeAsc
	OrderDatetimeDesc
)

// ParseOrder maps an order directive string to an Order. Unrecognized input
// degrades to OrderUnspecified rather than erroring; this is an operator-facing
// read path.
func ParseOrder(s string) Order {
	switch s {
	case "datetime ASC", "asc", "ASC":
		return OrderDatetimeAsc
	case "datetime DESC", "desc", "DESC":
		return OrderDatetimeDesc
	default:
		return OrderUnspecified
	}
}

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Memo represents one observed ledger transaction relevant to a monitored
// node account. Memos are append-only: created exactly once on first
// observation and never mutated or deleted.
type Memo struct {
	Hash        string
	Account     string
	Destination string
	Amount      *string // raw ledger amount, nil when the tx carried none
	Datetime    time.Time
	LedgerIndex int64
	MemoType    *string
	MemoFormat  *string
	MemoData    *string
	CreatedAt   time.Time
}

// InsertMemoParams contains the parameters for inserting a memo.
type InsertMemoParams struct {
	Hash        string
	Account     string
	Destination string
	Amount      *string
	Datetime    time.Time
	LedgerIndex int64
	MemoType    *string
	MemoFormat  *string
	MemoData    *string
}

// InsertMemo inserts a memo if no row with the same hash exists.
// Re-delivery from the at-least-once upstream feed is not an error: the
// insert is a no-op and InsertMemo reports inserted=false.
func (s *Store) InsertMemo(ctx context.Context, params InsertMemoParams) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO transaction_memos
			(hash, account, destination, amount, datetime, ledger_index, memo_type, memo_format, memo_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (hash) DO NOTHING`,
		params.Hash,
		params.Account,
		params.Destination,
		pgtextFromStringPtr(params.Amount),
		pgtype.Timestamptz{Time: params.Datetime, Valid: true},
		params.LedgerIndex,
		pgtextFromStringPtr(params.MemoType),
		pgtextFromStringPtr(params.MemoFormat),
		pgtextFromStringPtr(params.MemoData),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert memo %s: %w", params.Hash, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetMemo retrieves a memo by its transaction hash.
func (s *Store) GetMemo(ctx context.Context, hash string) (*Memo, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT hash, account, destination, amount, datetime, ledger_index,
		       memo_type, memo_format, memo_data, created_at
		FROM transaction_memos
		WHERE hash = $1`, hash)

	memo, err := scanMemo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get memo %s: %w", hash, err)
	}
	return memo, nil
}

// ProcessingResult represents the durable outcome of rule evaluation for one
// memo. At most one result exists per memo hash.
type ProcessingResult struct {
	Hash           string
	Processed      bool
	RuleName       *string
	ResponseTxHash *string
	Notes          *string
	ReviewedAt     *time.Time
	ProcessedAt    time.Time
}

// UpsertProcessingResultParams contains the parameters for recording a
// processing outcome.
type UpsertProcessingResultParams struct {
	Hash           string
	Processed      bool
	RuleName       *string
	ResponseTxHash *string
	Notes          *string
}

// UpsertProcessingResult records the outcome of a dispatch pass for a memo.
// The upsert is idempotent on hash and is the single concurrency-safety
// boundary between dispatcher workers: concurrent writes for the same hash
// serialize on the primary key and converge to one terminal row.
//
// The review fields (reviewed_at) are deliberately not touched here; the
// review workflow owns them via RecordReview.
func (s *Store) UpsertProcessingResult(ctx context.Context, params UpsertProcessingResultParams) (*ProcessingResult, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transaction_processing_results
			(hash, processed, rule_name, response_tx_hash, notes, processed_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (hash) DO UPDATE SET
			processed        = EXCLUDED.processed,
			rule_name        = EXCLUDED.rule_name,
			response_tx_hash = EXCLUDED.response_tx_hash,
			notes            = EXCLUDED.notes,
			processed_at     = now()
		RETURNING hash, processed, rule_name, response_tx_hash, notes, reviewed_at, processed_at`,
		params.Hash,
		params.Processed,
		pgtextFromStringPtr(params.RuleName),
		pgtextFromStringPtr(params.ResponseTxHash),
		pgtextFromStringPtr(params.Notes),
	)

	result, err := scanProcessingResult(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrMemoNotFound, params.Hash)
		}
		return nil, fmt.Errorf("failed to upsert processing result for %s: %w", params.Hash, err)
	}
	return result, nil
}

// RecordReview updates only the review fields for a memo's processing result.
// If the dispatcher has not recorded a result yet, a row is created with
// processed=false so the reviewer's notes are not lost; an existing row keeps
// its processed/rule_name/response_tx_hash untouched. A review without notes
// keeps whatever notes the row already carries, so marking a memo reviewed
// never erases the dispatcher's diagnostics.
func (s *Store) RecordReview(ctx context.Context, hash string, notes *string, reviewedAt time.Time) (*ProcessingResult, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transaction_processing_results (hash, processed, notes, reviewed_at)
		VALUES ($1, false, $2, $3)
		ON CONFLICT (hash) DO UPDATE SET
			notes       = COALESCE(EXCLUDED.notes, transaction_processing_results.notes),
			reviewed_at = EXCLUDED.reviewed_at
		RETURNING hash, processed, rule_name, response_tx_hash, notes, reviewed_at, processed_at`,
		hash,
		pgtextFromStringPtr(notes),
		pgtype.Timestamptz{Time: reviewedAt, Valid: true},
	)

	result, err := scanProcessingResult(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrMemoNotFound, hash)
		}
		return nil, fmt.Errorf("failed to record review for %s: %w", hash, err)
	}
	return result, nil
}

// GetProcessingResult retrieves the processing result for a memo hash.
func (s *Store) GetProcessingResult(ctx context.Context, hash string) (*ProcessingResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT hash, processed, rule_name, response_tx_hash, notes, reviewed_at, processed_at
		FROM transaction_processing_results
		WHERE hash = $1`, hash)

	result, err := scanProcessingResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get processing result %s: %w", hash, err)
	}
	return result, nil
}

// ClearProcessingResults removes processing results for the given hashes so
// the memos return to the backlog and are re-evaluated on the next cycle.
func (s *Store) ClearProcessingResults(ctx context.Context, hashes []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM transaction_processing_results
		WHERE hash = ANY($1)`, hashes)
	if err != nil {
		return 0, fmt.Errorf("failed to clear processing results: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MemoWithResult pairs a memo with its processing result, which is nil while
// the memo has never been through a dispatch pass.
type MemoWithResult struct {
	Memo   Memo
	Result *ProcessingResult
}

// ListMemosParams contains the query surface parameters.
// Offset and Limit are optional: nil Offset means 0, nil Limit means
// unbounded. Callers that parse these from external input are expected to
// degrade invalid values to nil rather than rejecting the request.
type ListMemosParams struct {
	NodeAddress      string
	IncludeProcessed bool
	Order            Order
	Offset           *int32
	Limit            *int32
}

// ListMemos returns memos observed for a node address (as sender or receiver),
// each joined with its processing result if one exists.
//
// With IncludeProcessed=false, only backlog rows are returned: memos with no
// processing result row, or one with processed=false.
//
// Offset/limit pagination is not snapshot-isolated against concurrent
// inserts; acceptable for backlog draining, not for strict audit export.
func (s *Store) ListMemos(ctx context.Context, params ListMemosParams) ([]*MemoWithResult, error) {
	query := `
		SELECT m.hash, m.account, m.destination, m.amount, m.datetime, m.ledger_index,
		       m.memo_type, m.memo_format, m.memo_data, m.created_at,
		       r.hash, r.processed, r.rule_name, r.response_tx_hash, r.notes, r.reviewed_at, r.processed_at
		FROM transaction_memos m
		LEFT JOIN transaction_processing_results r ON r.hash = m.hash
		WHERE (m.account = $1 OR m.destination = $1)`

	if !params.IncludeProcessed {
		query += `
		AND (r.hash IS NULL OR NOT r.processed)`
	}

	switch params.Order {
	case OrderDatetimeAsc:
		query += `
		ORDER BY m.datetime ASC, m.hash ASC`
	case OrderDatetimeDesc:
		query += `
		ORDER BY m.datetime DESC, m.hash ASC`
	default:
		query += `
		ORDER BY m.created_at ASC, m.hash ASC`
	}

	args := []any{params.NodeAddress}
	if params.Limit != nil {
		args = append(args, *params.Limit)
		query += fmt.Sprintf(`
		LIMIT $%d`, len(args))
	}
	offset := int32(0)
	if params.Offset != nil {
		offset = *params.Offset
	}
	args = append(args, offset)
	query += fmt.Sprintf(`
		OFFSET $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memos: %w", err)
	}
	defer rows.Close()

	var out []*MemoWithResult
	for rows.Next() {
		item, err := scanMemoWithResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memo row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memo rows: %w", err)
	}
	return out, nil
}

// CountBacklog counts memos for a node address with no terminal processing
// result.
func (s *Store) CountBacklog(ctx context.Context, nodeAddress string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM transaction_memos m
		LEFT JOIN transaction_processing_results r ON r.hash = m.hash
		WHERE (m.account = $1 OR m.destination = $1)
		AND (r.hash IS NULL OR NOT r.processed)`, nodeAddress).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count backlog: %w", err)
	}
	return count, nil
}

// MaxLedgerIndex returns the highest ledger index stored for an account, or
// zero when no memos exist yet. Pollers use it to resume where they left off.
func (s *Store) MaxLedgerIndex(ctx context.Context, account string) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(ledger_index), 0)
		FROM transaction_memos
		WHERE account = $1 OR destination = $1`, account).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max ledger index: %w", err)
	}
	return max, nil
}

// Row scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemo(row rowScanner) (*Memo, error) {
	var m Memo
	var amount, memoType, memoFormat, memoData pgtype.Text
	var datetime, createdAt pgtype.Timestamptz

	err := row.Scan(
		&m.Hash, &m.Account, &m.Destination, &amount, &datetime, &m.LedgerIndex,
		&memoType, &memoFormat, &memoData, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	m.Amount = stringPtrFromPgtext(amount)
	m.Datetime = datetime.Time
	m.MemoType = stringPtrFromPgtext(memoType)
	m.MemoFormat = stringPtrFromPgtext(memoFormat)
	m.MemoData = stringPtrFromPgtext(memoData)
	m.CreatedAt = createdAt.Time
	return &m, nil
}

func scanProcessingResult(row rowScanner) (*ProcessingResult, error) {
	var r ProcessingResult
	var ruleName, responseTxHash, notes pgtype.Text
	var reviewedAt, processedAt pgtype.Timestamptz

	err := row.Scan(&r.Hash, &r.Processed, &ruleName, &responseTxHash, &notes, &reviewedAt, &processedAt)
	if err != nil {
		return nil, err
	}

	r.RuleName = stringPtrFromPgtext(ruleName)
	r.ResponseTxHash = stringPtrFromPgtext(responseTxHash)
	r.Notes = stringPtrFromPgtext(notes)
	r.ReviewedAt = timePtrFromPgTimestamptz(reviewedAt)
	r.ProcessedAt = processedAt.Time
	return &r, nil
}

func scanMemoWithResult(row rowScanner) (*MemoWithResult, error) {
	var m Memo
	var amount, memoType, memoFormat, memoData pgtype.Text
	var datetime, createdAt pgtype.Timestamptz

	var resultHash, ruleName, responseTxHash, notes pgtype.Text
	var processed pgtype.Bool
	var reviewedAt, processedAt pgtype.Timestamptz

	err := row.Scan(
		&m.Hash, &m.Account, &m.Destination, &amount, &datetime, &m.LedgerIndex,
		&memoType, &memoFormat, &memoData, &createdAt,
		&resultHash, &processed, &ruleName, &responseTxHash, &notes, &reviewedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Amount = stringPtrFromPgtext(amount)
	m.Datetime = datetime.Time
	m.MemoType = stringPtrFromPgtext(memoType)
	m.MemoFormat = stringPtrFromPgtext(memoFormat)
	m.MemoData = stringPtrFromPgtext(memoData)
	m.CreatedAt = createdAt.Time

	item := &MemoWithResult{Memo: m}
	if resultHash.Valid {
		item.Result = &ProcessingResult{
			Hash:           resultHash.String,
			Processed:      processed.Bool,
			RuleName:       stringPtrFromPgtext(ruleName),
			ResponseTxHash: stringPtrFromPgtext(responseTxHash),
			Notes:          stringPtrFromPgtext(notes),
			ReviewedAt:     timePtrFromPgTimestamptz(reviewedAt),
			ProcessedAt:    processedAt.Time,
		}
	}
	return item, nil
}

// Conversion helpers between pgx types and domain types

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// isForeignKeyViolation reports whether err is a Postgres foreign key
// constraint violation (SQLSTATE 23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
