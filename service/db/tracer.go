package db

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// queryMetrics is the slice of the metrics surface the tracer needs.
type queryMetrics interface {
	RecordDBQuery(operation, table string, duration float64, err error)
}

// QueryTracer records query timings through pgx's tracing hooks. Install it
// on the pool config so every query the Store issues is observed without
// instrumenting each method by hand.
type QueryTracer struct {
	metrics queryMetrics
}

// NewQueryTracer creates a tracer that reports to m.
func NewQueryTracer(m queryMetrics) *QueryTracer {
	return &QueryTracer{metrics: m}
}

type queryStartKey struct{}

type queryStart struct {
	start     time.Time
	operation string
	table     string
}

func (t *QueryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{
		start:     time.Now(),
		operation: operationFromSQL(data.SQL),
		table:     tableFromSQL(data.SQL),
	})
}

func (t *QueryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	t.metrics.RecordDBQuery(qs.operation, qs.table, time.Since(qs.start).Seconds(), data.Err)
}

// operationFromSQL returns the SQL verb, lowercased.
func operationFromSQL(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

// tableFromSQL extracts the primary table name from the statement. The
// store's queries are all plain INSERT/SELECT/UPDATE/DELETE, so scanning for
// the keyword that precedes the table name is enough.
func tableFromSQL(sql string) string {
	fields := strings.Fields(sql)
	for i, f := range fields {
		switch strings.ToUpper(f) {
		case "INTO", "FROM", "UPDATE":
			if i+1 < len(fields) {
				return strings.Trim(fields[i+1], "(,;")
			}
		}
	}
	return "unknown"
}
