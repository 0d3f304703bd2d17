package splitpay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/x402-foundation/splitpay/internal/logging"
)

// CreateSplitterRequest is the input to ConfigGateway.Create.
type CreateSplitterRequest struct {
	ID        string `json:"splitterPDA"`
	Merchant  string `json:"merchant"`
	Agent     string `json:"agent"`
	Platform  string `json:"platform"`
	Shares    Shares `json:"shares"`
	Authority string `json:"authority"`
	// InitializationSignature, when set, must be a successful
	// initialize_splitter transaction for exactly this configuration; the
	// splitter is then marked ready.
	InitializationSignature string `json:"initializationSignature,omitempty"`
}

// ConfigGateway guards the config store: nothing is written unless the
// shares sum to 100, every address parses and the splitter ID matches its
// derivation from the authority.
type ConfigGateway struct {
	store     ConfigStore
	addresses AddressValidator
	ledger    TransactionSource
	setup     SetupInspector
	logger    *slog.Logger
	now       func() time.Time
}

// GatewayOption configures a ConfigGateway.
type GatewayOption func(*ConfigGateway)

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *ConfigGateway) {
		g.logger = logger
	}
}

// WithSetupInspector sets the check run against readiness transactions.
// By default the address validator is used if it implements SetupInspector.
func WithSetupInspector(setup SetupInspector) GatewayOption {
	return func(g *ConfigGateway) {
		g.setup = setup
	}
}

// WithGatewayClock overrides time.Now, for tests.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *ConfigGateway) {
		g.now = now
	}
}

// NewConfigGateway creates a gateway. ledger may be nil, in which case
// readiness can never be confirmed.
func NewConfigGateway(store ConfigStore, addresses AddressValidator, ledger TransactionSource, opts ...GatewayOption) *ConfigGateway {
	g := &ConfigGateway{
		store:     store,
		addresses: addresses,
		ledger:    ledger,
		logger:    logging.Discard(),
		now:       time.Now,
	}
	if setup, ok := addresses.(SetupInspector); ok {
		g.setup = setup
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Create validates and stores a new splitter configuration.
func (g *ConfigGateway) Create(ctx context.Context, req CreateSplitterRequest) (*SplitterConfig, error) {
	if err := ValidateShares(req.Shares); err != nil {
		return nil, err
	}
	for _, addr := range []string{req.Merchant, req.Agent, req.Platform, req.Authority} {
		if err := g.addresses.ValidateAddress(addr); err != nil {
			return nil, WrapPaymentError(ErrCodeInvalidAddress, fmt.Sprintf("invalid address %q", addr), err)
		}
	}

	derived, err := g.addresses.DeriveSplitterID(req.Authority)
	if err != nil {
		return nil, WrapPaymentError(ErrCodeInvalidAddress, "cannot derive splitter address", err)
	}
	if req.ID != "" && req.ID != derived {
		return nil, NewPaymentError(ErrCodeInvalidAddress, "splitter address does not match authority derivation",
			map[string]interface{}{"expected": derived, "got": req.ID})
	}

	exists, err := g.store.Exists(ctx, derived)
	if err != nil {
		return nil, fmt.Errorf("failed to check splitter existence: %w", err)
	}
	if exists {
		return nil, NewPaymentError(ErrCodeInvalidRequest, "splitter already exists",
			map[string]interface{}{"splitter": derived})
	}

	now := g.now().UTC()
	cfg := &SplitterConfig{
		ID:        derived,
		Merchant:  req.Merchant,
		Agent:     req.Agent,
		Platform:  req.Platform,
		Shares:    req.Shares,
		Authority: req.Authority,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.InitializationSignature != "" {
		if err := g.confirmOnLedger(ctx, req.InitializationSignature, cfg); err != nil {
			return nil, err
		}
		cfg.OnChainReady = true
	}

	if err := g.store.Put(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to store splitter: %w", err)
	}

	g.logger.Info("splitter created", logging.Splitter(cfg.ID), slog.Bool("ready", cfg.OnChainReady))
	return cfg, nil
}

// Get returns the configuration, mapping a missing record to ErrSplitterNotFound.
func (g *ConfigGateway) Get(ctx context.Context, id string) (*SplitterConfig, error) {
	cfg, err := g.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, NewPaymentError(ErrCodeSplitterNotFound, "splitter not found",
			map[string]interface{}{"splitter": id})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load splitter: %w", err)
	}
	return cfg, nil
}

// Resolve returns a configuration the payment protocol may trust: it exists,
// its shares are valid and it has been confirmed on the ledger.
func (g *ConfigGateway) Resolve(ctx context.Context, id string) (*SplitterConfig, error) {
	cfg, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateShares(cfg.Shares); err != nil {
		return nil, err
	}
	if !cfg.OnChainReady {
		return nil, NewPaymentError(ErrCodeSplitterNotReady, "splitter is not initialized on chain",
			map[string]interface{}{"splitter": id})
	}
	return cfg, nil
}

func (g *ConfigGateway) ListByAuthority(ctx context.Context, authority string) ([]*SplitterConfig, error) {
	if err := g.addresses.ValidateAddress(authority); err != nil {
		return nil, WrapPaymentError(ErrCodeInvalidAddress, "invalid authority", err)
	}
	return g.store.ListByAuthority(ctx, authority)
}

func (g *ConfigGateway) List(ctx context.Context) ([]*SplitterConfig, error) {
	return g.store.List(ctx)
}

// UpdateShares changes the percentages of a splitter. signature must be a
// successful update_shares transaction signed by the splitter authority and
// carrying exactly the new shares, so the stored split never drifts from the
// on-chain one.
func (g *ConfigGateway) UpdateShares(ctx context.Context, id, authority string, shares Shares, signature string) (*SplitterConfig, error) {
	if err := ValidateShares(shares); err != nil {
		return nil, err
	}
	cfg, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.Authority != authority {
		return nil, NewPaymentError(ErrCodeInvalidRequest, "only the splitter authority may update shares",
			map[string]interface{}{"splitter": id})
	}
	if signature == "" {
		return nil, NewPaymentError(ErrCodeInvalidRequest, "share update requires a confirmed update_shares signature",
			map[string]interface{}{"splitter": id})
	}

	updated := *cfg
	updated.Shares = shares
	updated.UpdatedAt = g.now().UTC()
	if err := g.confirmOnLedger(ctx, signature, &updated); err != nil {
		return nil, err
	}
	updated.OnChainReady = true

	if err := g.store.Put(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to store splitter: %w", err)
	}
	g.logger.Info("splitter shares updated", logging.Splitter(id), slog.Bool("ready", updated.OnChainReady))
	return &updated, nil
}

// MarkReady flips OnChainReady after checking that signature is a
// successful transaction that set up the stored configuration on chain.
func (g *ConfigGateway) MarkReady(ctx context.Context, id, signature string) (*SplitterConfig, error) {
	cfg, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.OnChainReady {
		return cfg, nil
	}
	if err := g.confirmOnLedger(ctx, signature, cfg); err != nil {
		return nil, err
	}

	ready := *cfg
	ready.OnChainReady = true
	ready.UpdatedAt = g.now().UTC()
	if err := g.store.Put(ctx, &ready); err != nil {
		return nil, fmt.Errorf("failed to store splitter: %w", err)
	}
	g.logger.Info("splitter ready", logging.Splitter(id), logging.Proof(signature))
	return &ready, nil
}

func (g *ConfigGateway) confirmOnLedger(ctx context.Context, signature string, cfg *SplitterConfig) error {
	if g.ledger == nil {
		return NewPaymentError(ErrCodeLedgerUnavailable, "no ledger configured", nil)
	}
	if g.setup == nil {
		return NewPaymentError(ErrCodeLedgerUnavailable, "no setup inspector configured", nil)
	}
	tx, err := g.ledger.GetTransaction(ctx, signature)
	if err != nil {
		return WrapPaymentError(ErrCodeLedgerUnavailable, "failed to query initialization transaction", err)
	}
	if tx == nil || !tx.Found {
		return NewPaymentError(ErrCodeProofNotFound, "initialization transaction not found",
			map[string]interface{}{"signature": signature})
	}
	if tx.Err != nil {
		return NewPaymentError(ErrCodePaymentFailed, "initialization transaction failed",
			map[string]interface{}{"signature": signature, "ledgerError": fmt.Sprint(tx.Err)})
	}
	if err := g.setup.InspectSetup(tx, cfg); err != nil {
		return WrapPaymentError(ErrCodePaymentFailed, "transaction does not set up this splitter", err)
	}
	return nil
}
