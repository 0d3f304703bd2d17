package splitpay_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x402-foundation/splitpay"
)

// mockLedger answers transaction lookups from a fixed table.
type mockLedger struct {
	mu    sync.Mutex
	txs   map[string]*splitpay.LedgerTransaction
	err   error
	delay time.Duration
	calls atomic.Int32
	// foundAfter makes a transaction visible only from the given call on.
	foundAfter int32
}

func newMockLedger() *mockLedger {
	return &mockLedger{txs: make(map[string]*splitpay.LedgerTransaction)}
}

func (m *mockLedger) confirm(signature string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[signature] = &splitpay.LedgerTransaction{Signature: signature, Found: true}
}

// setupTx is the Raw payload of a transaction that initialized or updated
// a splitter.
type setupTx struct {
	splitter  string
	authority string
	shares    splitpay.Shares
}

// setUp records signature as a successful transaction that set splitter's
// shares, signed by authority.
func (m *mockLedger) setUp(signature, splitter, authority string, shares splitpay.Shares) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[signature] = &splitpay.LedgerTransaction{
		Signature: signature,
		Found:     true,
		Raw:       setupTx{splitter: splitter, authority: authority, shares: shares},
	}
}

func (m *mockLedger) fail(signature string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[signature] = &splitpay.LedgerTransaction{
		Signature: signature,
		Found:     true,
		Err:       map[string]interface{}{"InstructionError": []interface{}{0, "InsufficientFunds"}},
	}
}

func (m *mockLedger) GetTransaction(ctx context.Context, signature string) (*splitpay.LedgerTransaction, error) {
	call := m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	if call < m.foundAfter {
		return &splitpay.LedgerTransaction{Signature: signature}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[signature]; ok {
		cp := *tx
		return &cp, nil
	}
	return &splitpay.LedgerTransaction{Signature: signature}, nil
}

// mockAddresses accepts any identity not prefixed with "bad" and derives
// splitter IDs by prefixing the authority.
type mockAddresses struct{}

func (mockAddresses) ValidateAddress(address string) error {
	if address == "" || strings.HasPrefix(address, "bad") {
		return errors.New("invalid address")
	}
	return nil
}

func (a mockAddresses) DeriveSplitterID(authority string) (string, error) {
	if err := a.ValidateAddress(authority); err != nil {
		return "", err
	}
	return "splitter-" + authority, nil
}

func (mockAddresses) InspectSetup(tx *splitpay.LedgerTransaction, cfg *splitpay.SplitterConfig) error {
	setup, ok := tx.Raw.(setupTx)
	switch {
	case !ok:
		return errors.New("transaction does not touch a splitter")
	case setup.splitter != cfg.ID:
		return errors.New("transaction sets up another splitter")
	case setup.authority != cfg.Authority:
		return errors.New("transaction is not signed by the authority")
	case setup.shares != cfg.Shares:
		return errors.New("transaction sets other shares")
	}
	return nil
}

// mockInspector rejects transactions listed in mismatched.
type mockInspector struct {
	mismatched map[string]bool
}

func (m *mockInspector) Inspect(tx *splitpay.LedgerTransaction, _ *splitpay.SplitterConfig, _ splitpay.Splits) error {
	if m.mismatched[tx.Signature] {
		return errors.New("transaction pays another splitter")
	}
	return nil
}

func readyConfig(shares splitpay.Shares) *splitpay.SplitterConfig {
	return &splitpay.SplitterConfig{
		ID:           "splitter-authority",
		Merchant:     "merchant",
		Agent:        "agent",
		Platform:     "platform",
		Shares:       shares,
		Authority:    "authority",
		OnChainReady: true,
	}
}
