package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger RPC Metrics
	ledgerRPCCallsTotal   *prometheus.CounterVec
	ledgerRPCCallDuration *prometheus.HistogramVec
	ledgerRPCRetries      *prometheus.CounterVec
	ledgerTxsPerCall      *prometheus.HistogramVec

	// Ingestion Metrics
	memosFetchedTotal    *prometheus.CounterVec
	memosParsedTotal     *prometheus.CounterVec
	memosWrittenTotal    *prometheus.CounterVec
	memosSkippedTotal    *prometheus.CounterVec
	memoDeduplicationRatio *prometheus.GaugeVec

	// Dispatch Metrics
	dispatchCyclesTotal    *prometheus.CounterVec
	dispatchCycleDuration  *prometheus.HistogramVec
	dispatchOutcomesTotal  *prometheus.CounterVec
	responseSubmissions    *prometheus.CounterVec
	backlogSize            *prometheus.GaugeVec

	// Workflow Metrics
	workflowExecutionsTotal *prometheus.CounterVec
	workflowDuration        *prometheus.HistogramVec
	activityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Ledger RPC Metrics
		ledgerRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rpc_calls_total",
				Help: "Total number of ledger RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		ledgerRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_rpc_call_duration_seconds",
				Help:    "Duration of ledger RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		ledgerRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rpc_retries_total",
				Help: "Total number of ledger RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		ledgerTxsPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_rpc_transactions_per_call",
				Help:    "Number of transactions returned per account_tx call",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"endpoint"},
		),

		// Ingestion Metrics
		memosFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memos_fetched_total",
				Help: "Total number of transactions fetched from the ledger",
			},
			[]string{"account"},
		),
		memosParsedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memos_parsed_total",
				Help: "Total number of transactions parsed into memos",
			},
			[]string{"account", "status"},
		),
		memosWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memos_written_total",
				Help: "Total number of memos written to the database",
			},
			[]string{"account"},
		),
		memosSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memos_skipped_total",
				Help: "Total number of memos skipped",
			},
			[]string{"account", "reason"},
		),
		memoDeduplicationRatio: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memo_deduplication_ratio",
				Help: "Ratio of skipped memos to total fetched memos (0.0-1.0)",
			},
			[]string{"account"},
		),

		// Dispatch Metrics
		dispatchCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_cycles_total",
				Help: "Total number of dispatch cycles",
			},
			[]string{"node_address", "status"},
		),
		dispatchCycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_cycle_duration_seconds",
				Help:    "Duration of dispatch cycles in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"node_address"},
		),
		dispatchOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_outcomes_total",
				Help: "Total number of memo evaluation outcomes by rule",
			},
			[]string{"node_address", "outcome", "rule"},
		),
		responseSubmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "response_submissions_total",
				Help: "Total number of response transaction submissions",
			},
			[]string{"node_address", "status"},
		),
		backlogSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "backlog_size",
				Help: "Number of memos awaiting processing",
			},
			[]string{"node_address"},
		),

		// Workflow Metrics
		workflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_executions_total",
				Help: "Total number of workflow executions",
			},
			[]string{"workflow", "account", "status"},
		),
		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_duration_seconds",
				Help:    "Duration of workflow executions in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"workflow", "account", "status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activity_duration_seconds",
				Help:    "Duration of workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "account"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Ledger RPC metric helpers

// RecordRPCCall records a ledger RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.ledgerRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.ledgerRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.ledgerRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordRPCTxsPerCall records the number of transactions fetched in one call.
func (m *Metrics) RecordRPCTxsPerCall(endpoint string, count float64) {
	m.ledgerTxsPerCall.WithLabelValues(endpoint).Observe(count)
}

// Ingestion metric helpers

// RecordMemosFetched records transactions fetched from the ledger.
func (m *Metrics) RecordMemosFetched(account string, count int) {
	m.memosFetchedTotal.WithLabelValues(account).Add(float64(count))
}

// RecordMemoParsed records a transaction parse attempt.
func (m *Metrics) RecordMemoParsed(account, status string) {
	m.memosParsedTotal.WithLabelValues(account, status).Inc()
}

// RecordMemosWritten records memos written to the database.
func (m *Metrics) RecordMemosWritten(account string, count int) {
	m.memosWrittenTotal.WithLabelValues(account).Add(float64(count))
}

// RecordMemosSkipped records memos skipped.
func (m *Metrics) RecordMemosSkipped(account, reason string, count int) {
	m.memosSkippedTotal.WithLabelValues(account, reason).Add(float64(count))
}

// RecordDeduplicationRatio records the deduplication efficiency ratio.
func (m *Metrics) RecordDeduplicationRatio(account string, ratio float64) {
	m.memoDeduplicationRatio.WithLabelValues(account).Set(ratio)
}

// Dispatch metric helpers

// RecordDispatchCycle records a dispatch cycle with duration.
func (m *Metrics) RecordDispatchCycle(nodeAddress, status string, duration float64) {
	m.dispatchCyclesTotal.WithLabelValues(nodeAddress, status).Inc()
	m.dispatchCycleDuration.WithLabelValues(nodeAddress).Observe(duration)
}

// RecordDispatchOutcome records one memo evaluation outcome. The rule label is
// empty for no-match and deferred outcomes.
func (m *Metrics) RecordDispatchOutcome(nodeAddress, outcome, rule string) {
	m.dispatchOutcomesTotal.WithLabelValues(nodeAddress, outcome, rule).Inc()
}

// RecordResponseSubmission records a response transaction submission attempt.
func (m *Metrics) RecordResponseSubmission(nodeAddress, status string) {
	m.responseSubmissions.WithLabelValues(nodeAddress, status).Inc()
}

// RecordBacklogSize records the current backlog depth.
func (m *Metrics) RecordBacklogSize(nodeAddress string, size float64) {
	m.backlogSize.WithLabelValues(nodeAddress).Set(size)
}

// Workflow metric helpers

// RecordWorkflowExecution records a workflow execution with duration.
func (m *Metrics) RecordWorkflowExecution(workflow, account, status string, duration float64) {
	m.workflowExecutionsTotal.WithLabelValues(workflow, account, status).Inc()
	m.workflowDuration.WithLabelValues(workflow, account, status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, account string, duration float64) {
	m.activityDuration.WithLabelValues(activity, account).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
