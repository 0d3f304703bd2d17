// Package config loads the server configuration from an optional TOML file,
// a .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/x402-foundation/splitpay"
	"github.com/x402-foundation/splitpay/internal/logging"
	"github.com/x402-foundation/splitpay/mechanisms/svm"
)

type Config struct {
	Port           int               `toml:"port"`
	RPCURL         string            `toml:"rpc_url"`
	Network        string            `toml:"network"`
	ProgramID      string            `toml:"program_id"`
	USDCMint       string            `toml:"usdc_mint"`
	PaymentAmount  uint64            `toml:"payment_amount"`
	Prices         map[string]uint64 `toml:"prices"`
	SettlementMode string            `toml:"settlement_mode"`

	// ComputeUnitPrice in micro-lamports; zero leaves the compute budget alone.
	ComputeUnitPrice uint64 `toml:"compute_unit_price"`
	ComputeUnitLimit uint32 `toml:"compute_unit_limit"`

	// DatabaseURL selects the store: empty for in-memory, a postgres:// URL,
	// or a SQLite file path.
	DatabaseURL string `toml:"database_url"`
	// RedisURL enables the shared verification store when set.
	RedisURL string `toml:"redis_url"`

	BuildRateLimit float64 `toml:"build_rate_limit"`
	BuildBurst     int     `toml:"build_burst"`

	FinalityAttempts int           `toml:"finality_attempts"`
	FinalityInterval time.Duration `toml:"finality_interval"`

	Log logging.Config `toml:"log"`
}

// Default returns the devnet configuration.
func Default() *Config {
	return &Config{
		Port:             3001,
		RPCURL:           svm.DevnetRPCURL,
		Network:          string(splitpay.DefaultNetwork),
		ProgramID:        svm.DefaultProgramAddress,
		USDCMint:         svm.DevnetUSDCAddress,
		PaymentAmount:    splitpay.DefaultAmount,
		SettlementMode:   string(svm.ModeAtomic),
		BuildRateLimit:   10,
		BuildBurst:       20,
		FinalityAttempts: 5,
		FinalityInterval: 2 * time.Second,
		Log: logging.Config{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path (optional), then .env in the working directory (optional),
// then the environment, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("SOLANA_RPC_URL", &c.RPCURL)
	str("SOLANA_NETWORK", &c.Network)
	str("SPLITTER_PROGRAM_ID", &c.ProgramID)
	str("USDC_MINT", &c.USDCMint)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("SETTLEMENT_MODE", &c.SettlementMode)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v, ok := lookup("PAYMENT_AMOUNT"); ok && v != "" {
		amount, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid PAYMENT_AMOUNT %q: %w", v, err)
		}
		c.PaymentAmount = amount
	}
	if v, ok := lookup("BUILD_RATE_LIMIT"); ok && v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid BUILD_RATE_LIMIT %q: %w", v, err)
		}
		c.BuildRateLimit = limit
	}
	if v, ok := lookup("COMPUTE_UNIT_PRICE"); ok && v != "" {
		price, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid COMPUTE_UNIT_PRICE %q: %w", v, err)
		}
		c.ComputeUnitPrice = price
	}
	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if u, err := url.Parse(c.RPCURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid rpc url %q", c.RPCURL)
	}
	if c.Network == "" {
		return fmt.Errorf("network is required")
	}
	if _, err := svm.ParseAddress(c.ProgramID); err != nil {
		return fmt.Errorf("invalid program id: %w", err)
	}
	if _, err := svm.ParseAddress(c.USDCMint); err != nil {
		return fmt.Errorf("invalid usdc mint: %w", err)
	}
	if c.PaymentAmount == 0 {
		return fmt.Errorf("payment amount must be positive")
	}
	for resource, amount := range c.Prices {
		if amount == 0 {
			return fmt.Errorf("price for %s must be positive", resource)
		}
	}
	if _, err := svm.ParseSettlementMode(c.SettlementMode); err != nil {
		return err
	}
	if c.BuildRateLimit < 0 {
		return fmt.Errorf("build rate limit must not be negative")
	}
	if c.FinalityAttempts < 1 {
		return fmt.Errorf("finality attempts must be at least 1")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}
