package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("LEDGER_RPC_URL", "https://ledger.example.com")
	t.Setenv("NODE_ACCOUNTS", "rNode1, rNode2")
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "https://ledger.example.com", cfg.LedgerRPCURL)
	assert.Equal(t, []string{"rNode1", "rNode2"}, cfg.NodeAccounts)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, "rules.yaml", cfg.RulesPath)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.DispatchInterval)
	assert.Equal(t, 100, cfg.DispatchBatch)
	assert.Equal(t, 10*time.Second, cfg.ClassifierTimeout)
	assert.Equal(t, "memoflow-pipeline", cfg.TemporalTaskQueue)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("DATABASE_URL")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_MissingLedgerRPCURL(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("LEDGER_RPC_URL")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "LEDGER_RPC_URL is required")
}

func TestLoad_MissingNodeAccounts(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("NODE_ACCOUNTS")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "NODE_ACCOUNTS is required")
}

func TestLoad_InvalidDispatchInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISPATCH_INTERVAL", "invalid")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_InvalidDispatchBatch(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISPATCH_BATCH", "-5")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DISPATCH_BATCH must be positive")
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("RULES_PATH", "/etc/memoflow/rules.yaml")
	t.Setenv("POLL_INTERVAL", "1m")
	t.Setenv("DISPATCH_BATCH", "25")
	t.Setenv("CLASSIFIER_URL", "https://classifier.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "/etc/memoflow/rules.yaml", cfg.RulesPath)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 25, cfg.DispatchBatch)
	assert.Equal(t, "https://classifier.example.com", cfg.ClassifierURL)
}

func TestValidate(t *testing.T) {
	valid := &Config{
		DatabaseURL:       "postgres://localhost/test",
		LedgerRPCURL:      "https://ledger.example.com",
		NodeAccounts:      []string{"rNode1"},
		TemporalHost:      "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "memoflow-pipeline",
		PollInterval:      30 * time.Second,
		DispatchInterval:  30 * time.Second,
		DispatchBatch:     100,
	}
	require.NoError(t, valid.Validate())

	invalid := *valid
	invalid.NodeAccounts = nil
	invalid.DispatchBatch = 0
	err := invalid.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NodeAccounts is required")
	assert.Contains(t, err.Error(), "DispatchBatch must be positive")
}
