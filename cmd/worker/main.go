package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brackish/memoflow/service/classifier"
	"github.com/brackish/memoflow/service/config"
	"github.com/brackish/memoflow/service/db"
	"github.com/brackish/memoflow/service/dispatch"
	"github.com/brackish/memoflow/service/ingest"
	"github.com/brackish/memoflow/service/ledger"
	"github.com/brackish/memoflow/service/metrics"
	natspkg "github.com/brackish/memoflow/service/nats"
	"github.com/brackish/memoflow/service/rules"
	"github.com/brackish/memoflow/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize database connection pool with query timing
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.ConnConfig.Tracer = db.NewQueryTracer(metricsCollector)
	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	// Start metrics HTTP server
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Initialize ledger RPC client
	ledgerClient := ledger.NewClient(cfg.LedgerRPCURL, nil, metricsCollector, logger)
	logger.Info("initialized ledger RPC client", "url", cfg.LedgerRPCURL)

	// Initialize NATS publisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Load the rule set. A classifier client is only wired when a scoring
	// endpoint is configured; building a classify-gated rule without one is
	// a startup error.
	ruleConfig, err := rules.LoadConfig(cfg.RulesPath)
	if err != nil {
		logger.Error("failed to load rules", "path", cfg.RulesPath, "error", err)
		os.Exit(1)
	}

	var ruleClassifier rules.Classifier
	if cfg.ClassifierURL != "" {
		ruleClassifier = classifier.NewClient(cfg.ClassifierURL, &http.Client{Timeout: cfg.ClassifierTimeout}, logger)
		logger.Info("initialized classifier client", "url", cfg.ClassifierURL)
	}

	ruleList, err := ruleConfig.Build(ruleClassifier)
	if err != nil {
		logger.Error("failed to build rules", "error", err)
		os.Exit(1)
	}
	engine := rules.NewEngine(ruleList, logger)
	logger.Info("rule engine initialized", "rules", len(ruleList))

	// Initialize ingestor
	ingestor := ingest.NewIngestor(ledgerClient, store, natsPublisher, metricsCollector, 0, logger)

	// Initialize response submitter
	var submitter dispatch.Submitter
	if cfg.SubmitURL != "" {
		submitter = ledger.NewHTTPSubmitter(cfg.SubmitURL, nil, metricsCollector, logger)
		logger.Info("initialized response submitter", "url", cfg.SubmitURL)
	}

	// One dispatcher per configured node account
	dispatchers := make(map[string]*dispatch.Dispatcher, len(cfg.NodeAccounts))
	for _, account := range cfg.NodeAccounts {
		dispatchers[account] = dispatch.NewDispatcher(store, engine, submitter, natsPublisher, metricsCollector, dispatch.Config{
			NodeAddress: account,
			BatchSize:   int32(cfg.DispatchBatch),
			Interval:    cfg.DispatchInterval,
		}, logger)
	}
	dispatcherFactory := func(nodeAddress string) temporal.DispatcherInterface {
		d, ok := dispatchers[nodeAddress]
		if !ok {
			return nil
		}
		return d
	}

	// Initialize Temporal worker
	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Ingestor:          ingestor,
		Dispatchers:       dispatcherFactory,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"node_accounts", len(cfg.NodeAccounts),
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
