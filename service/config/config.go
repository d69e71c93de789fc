package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Ledger configuration
	LedgerRPCURL string
	SubmitURL    string

	// Classifier configuration
	ClassifierURL     string
	ClassifierTimeout time.Duration

	// Rule configuration
	RulesPath string

	// Node accounts whose memos are ingested and dispatched
	NodeAccounts []string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Pipeline configuration
	PollInterval     time.Duration
	DispatchInterval time.Duration
	DispatchBatch    int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Ledger configuration
	cfg.LedgerRPCURL = os.Getenv("LEDGER_RPC_URL")
	if cfg.LedgerRPCURL == "" {
		errs = append(errs, fmt.Errorf("LEDGER_RPC_URL is required"))
	}
	cfg.SubmitURL = os.Getenv("SUBMIT_URL")

	// Classifier configuration; optional, rules that classify fail at
	// startup if it is unset
	cfg.ClassifierURL = os.Getenv("CLASSIFIER_URL")
	classifierTimeout, err := parseDuration("CLASSIFIER_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ClassifierTimeout = classifierTimeout
	}

	// Rule configuration
	cfg.RulesPath = getEnvOrDefault("RULES_PATH", "rules.yaml")

	// Node accounts (comma-separated)
	if accounts := os.Getenv("NODE_ACCOUNTS"); accounts != "" {
		for _, a := range strings.Split(accounts, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.NodeAccounts = append(cfg.NodeAccounts, a)
			}
		}
	}
	if len(cfg.NodeAccounts) == 0 {
		errs = append(errs, fmt.Errorf("NODE_ACCOUNTS is required"))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "memoflow-pipeline")

	// Pipeline configuration
	pollInterval, err := parseDuration("POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = pollInterval
	}

	dispatchInterval, err := parseDuration("DISPATCH_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DispatchInterval = dispatchInterval
	}

	dispatchBatch, err := parseInt("DISPATCH_BATCH", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DispatchBatch = dispatchBatch
	}

	if cfg.DispatchBatch <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_BATCH must be positive"))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.LedgerRPCURL == "" {
		errs = append(errs, fmt.Errorf("LedgerRPCURL is required"))
	}

	if len(c.NodeAccounts) == 0 {
		errs = append(errs, fmt.Errorf("NodeAccounts is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("PollInterval must be at least 1 second"))
	}

	if c.DispatchInterval < time.Second {
		errs = append(errs, fmt.Errorf("DispatchInterval must be at least 1 second"))
	}

	if c.DispatchBatch <= 0 {
		errs = append(errs, fmt.Errorf("DispatchBatch must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
