package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/brackish/memoflow/service/config"
	"github.com/brackish/memoflow/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Applies the database schema. Safe to run repeatedly; every statement is
// IF NOT EXISTS.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting schema migration")

	cfg := config.MustLoad()

	ctx := context.Background()
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
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

	if err := db.Migrate(ctx, dbPool); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	logger.Info("schema migration complete")
}
