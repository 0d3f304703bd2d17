package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-foundation/splitpay/mechanisms/svm"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "splitpay.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := load("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, svm.DefaultProgramAddress, cfg.ProgramID)
	assert.Equal(t, svm.DevnetUSDCAddress, cfg.USDCMint)
	assert.Equal(t, uint64(1_000_000), cfg.PaymentAmount)
	assert.Equal(t, ":3001", cfg.Addr())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
port = 8080
payment_amount = 2500
settlement_mode = "transfers"
finality_interval = "500ms"

[prices]
"/api/demo/get-data" = 10

[log]
level = "debug"
format = "text"
`)
	cfg, err := load(path, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, uint64(2500), cfg.PaymentAmount)
	assert.Equal(t, string(svm.ModeTransfers), cfg.SettlementMode)
	assert.Equal(t, 500*time.Millisecond, cfg.FinalityInterval)
	assert.Equal(t, uint64(10), cfg.Prices["/api/demo/get-data"])
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	assert.Equal(t, svm.DevnetRPCURL, cfg.RPCURL)
	assert.Equal(t, 5, cfg.FinalityAttempts)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "prot = 8080\n")
	_, err := load(path, envMap(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prot")
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "port = 8080\n")
	cfg, err := load(path, envMap(map[string]string{
		"PORT":             "9090",
		"SOLANA_RPC_URL":   "http://localhost:8899",
		"PAYMENT_AMOUNT":   "42",
		"DATABASE_URL":     "postgres://u:p@localhost/splitpay",
		"REDIS_URL":        "redis://localhost:6379/0",
		"LOG_LEVEL":        "warn",
		"BUILD_RATE_LIMIT": "0.5",
		"SETTLEMENT_MODE":  "transfers",
	}))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://localhost:8899", cfg.RPCURL)
	assert.Equal(t, uint64(42), cfg.PaymentAmount)
	assert.Equal(t, "postgres://u:p@localhost/splitpay", cfg.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 0.5, cfg.BuildRateLimit)
	assert.Equal(t, string(svm.ModeTransfers), cfg.SettlementMode)
}

func TestLoadUsesProcessEnvironment(t *testing.T) {
	t.Setenv("PORT", "7070")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"non-numeric port", map[string]string{"PORT": "abc"}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"zero amount", map[string]string{"PAYMENT_AMOUNT": "0"}},
		{"negative amount", map[string]string{"PAYMENT_AMOUNT": "-1"}},
		{"bad program id", map[string]string{"SPLITTER_PROGRAM_ID": "not-base58"}},
		{"bad mint", map[string]string{"USDC_MINT": "xyz"}},
		{"bad rpc url", map[string]string{"SOLANA_RPC_URL": "devnet"}},
		{"bad mode", map[string]string{"SETTLEMENT_MODE": "lazy"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"negative rate", map[string]string{"BUILD_RATE_LIMIT": "-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load("", envMap(tt.env))
			assert.Error(t, err)
		})
	}
}
