package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/brackish/memoflow/service/config"
	"github.com/brackish/memoflow/service/db"
	"github.com/brackish/memoflow/service/metrics"
	"github.com/brackish/memoflow/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the memo pipeline service.
type Server struct {
	addr           string
	cfg            *config.Config
	store          *db.Store
	scheduler      temporal.Scheduler
	temporalClient *temporal.Client
	metrics        *metrics.Metrics
	logger         *slog.Logger
	server         *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to create/delete Temporal schedules for account
// polling and backlog dispatch. The metrics collector is optional - if nil,
// the /metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store *db.Store, scheduler temporal.Scheduler, temporalClient *temporal.Client, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:           addr,
		cfg:            cfg,
		store:          store,
		scheduler:      scheduler,
		temporalClient: temporalClient,
		metrics:        m,
		logger:         logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Memo routes
	mux.Handle("GET /api/v1/memos", handleListMemos(s.store, s.logger))
	mux.Handle("GET /api/v1/memos/{hash}", handleGetMemo(s.store, s.logger))
	mux.Handle("POST /api/v1/memos/{hash}/review", handleReviewMemo(s.store, s.logger))
	mux.Handle("POST /api/v1/memos/{hash}/reprocess", handleReprocessMemo(s.store, s.logger))
	mux.Handle("GET /api/v1/backlog", handleBacklog(s.store, s.logger))

	// Account schedule routes
	if s.scheduler != nil {
		mux.Handle("POST /api/v1/accounts", handleRegisterAccount(s.scheduler, s.logger))
		mux.Handle("DELETE /api/v1/accounts/{address}", handleUnregisterAccount(s.scheduler, s.logger))
	} else {
		s.logger.Warn("scheduler not configured, account registration endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS and request metrics middleware
	handler := corsMiddleware(mux)
	if s.metrics != nil {
		handler = metrics.HTTPMetricsMiddleware(s.metrics, "api")(handler)
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
