package splitpay

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("splitpay: record not found")

// ConfigStore persists splitter configurations.
// Implementations must be safe for concurrent use.
type ConfigStore interface {
	Get(ctx context.Context, id string) (*SplitterConfig, error)
	Put(ctx context.Context, cfg *SplitterConfig) error
	Exists(ctx context.Context, id string) (bool, error)
	ListByAuthority(ctx context.Context, authority string) ([]*SplitterConfig, error)
	List(ctx context.Context) ([]*SplitterConfig, error)
}

// RecordStore persists payment records keyed by proof identifier.
//
// InsertIfAbsent must be atomic: when two callers race on the same ProofID,
// exactly one record is stored and both callers receive it. inserted reports
// whether this call created it.
type RecordStore interface {
	GetByProof(ctx context.Context, proofID string) (*PaymentRecord, error)
	InsertIfAbsent(ctx context.Context, rec *PaymentRecord) (stored *PaymentRecord, inserted bool, err error)
	ListBySplitter(ctx context.Context, splitterID string) ([]*PaymentRecord, error)
	Stats(ctx context.Context) (Stats, error)
}

// UsageStore appends usage events.
type UsageStore interface {
	RecordUsage(ctx context.Context, ev *UsageEvent) error
}

// LedgerTransaction is what the ledger reports about a transaction.
// Found is false when the ledger does not know the signature at the
// requested commitment. Err is the execution error, nil on success.
// Raw carries the ledger-specific transaction for instruction inspection.
type LedgerTransaction struct {
	Signature string
	Found     bool
	Err       interface{}
	Raw       interface{}
}

// Succeeded reports whether the transaction executed without error.
func (t *LedgerTransaction) Succeeded() bool {
	return t != nil && t.Found && t.Err == nil
}

// TransactionSource looks up transactions by signature.
type TransactionSource interface {
	GetTransaction(ctx context.Context, signature string) (*LedgerTransaction, error)
}

// ProofInspector checks that a successful transaction actually pays the
// expected split to the expected splitter.
type ProofInspector interface {
	Inspect(tx *LedgerTransaction, cfg *SplitterConfig, splits Splits) error
}

// AddressValidator checks participant identities and splitter derivation.
type AddressValidator interface {
	ValidateAddress(address string) error
	DeriveSplitterID(authority string) (string, error)
}

// SetupInspector checks that a successful transaction initialized or
// updated cfg's splitter on chain, signed by its authority, with exactly
// cfg's shares and recipients.
type SetupInspector interface {
	InspectSetup(tx *LedgerTransaction, cfg *SplitterConfig) error
}
