package splitpay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/x402-foundation/splitpay/internal/logging"
	"github.com/x402-foundation/splitpay/internal/metrics"
)

var tracer = otel.Tracer("github.com/x402-foundation/splitpay")

// Verification outcomes used as metric labels.
const (
	OutcomeConfirmed         = "confirmed"
	OutcomeReplayed          = "replayed"
	OutcomeNotFound          = "not_found"
	OutcomeFailed            = "failed"
	OutcomeMismatch          = "mismatch"
	OutcomeLedgerUnavailable = "ledger_unavailable"
	OutcomeInvalid           = "invalid"
)

// ConfigResolver loads splitter configurations.
type ConfigResolver interface {
	Get(ctx context.Context, id string) (*SplitterConfig, error)
}

// VerifyRequest identifies the proof to verify and what it is expected to pay for.
type VerifyRequest struct {
	ProofID    string
	SplitterID string
	Payer      string
	Resource   string
	Amount     uint64
}

// VerifyResult is the outcome of a successful verification. Replayed is true
// when the record already existed and the ledger was not consulted again.
type VerifyResult struct {
	Record   *PaymentRecord
	Replayed bool
}

// ProofVerifier turns a ledger signature into a confirmed PaymentRecord
// exactly once per signature.
type ProofVerifier struct {
	records   RecordStore
	configs   ConfigResolver
	ledger    TransactionSource
	inspector ProofInspector
	inFlight  VerificationStore

	pollAttempts int
	pollInterval time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// VerifierOption configures a ProofVerifier.
type VerifierOption func(*ProofVerifier)

// WithInspector enables instruction-level checking of proof transactions.
func WithInspector(inspector ProofInspector) VerifierOption {
	return func(v *ProofVerifier) {
		v.inspector = inspector
	}
}

// WithVerificationStore replaces the in-process in-flight tracker, e.g. with
// a shared store when several replicas serve the same records.
func WithVerificationStore(store VerificationStore) VerifierOption {
	return func(v *ProofVerifier) {
		v.inFlight = store
	}
}

// WithFinalityPolling makes the verifier ask the ledger up to attempts times,
// interval apart, before reporting a proof as not found.
func WithFinalityPolling(attempts int, interval time.Duration) VerifierOption {
	return func(v *ProofVerifier) {
		if attempts < 1 {
			attempts = 1
		}
		v.pollAttempts = attempts
		v.pollInterval = interval
	}
}

func WithVerifierLogger(logger *slog.Logger) VerifierOption {
	return func(v *ProofVerifier) {
		v.logger = logger
	}
}

func WithVerifierMetrics(m *metrics.Metrics) VerifierOption {
	return func(v *ProofVerifier) {
		v.metrics = m
	}
}

// NewProofVerifier creates a verifier.
//
// Default configuration:
//   - VerificationCache with 10-minute TTL
//   - a single ledger lookup per verification
//   - no instruction inspection
func NewProofVerifier(records RecordStore, configs ConfigResolver, ledger TransactionSource, opts ...VerifierOption) *ProofVerifier {
	v := &ProofVerifier{
		records:      records,
		configs:      configs,
		ledger:       ledger,
		pollAttempts: 1,
		logger:       logging.Discard(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.inFlight == nil {
		v.inFlight = NewVerificationCache(10 * time.Minute)
	}
	return v
}

// Verify checks req.ProofID against the record store and, if unknown, the
// ledger. Concurrent calls for the same proof produce a single record.
func (v *ProofVerifier) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "splitpay.Verify")
	span.SetAttributes(
		attribute.String("splitpay.proof", req.ProofID),
		attribute.String("splitpay.splitter", req.SplitterID),
	)
	defer span.End()

	res, err := v.verify(ctx, req)

	outcome := outcomeOf(res, err)
	v.metrics.ObserveVerify(outcome, start)
	span.SetAttributes(attribute.String("splitpay.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		v.logger.Warn("proof rejected", logging.Proof(req.ProofID), logging.Splitter(req.SplitterID),
			slog.String("outcome", outcome), logging.Error(err))
		return nil, err
	}
	v.logger.Debug("proof accepted", logging.Proof(req.ProofID), logging.Splitter(req.SplitterID),
		slog.Bool("replayed", res.Replayed))
	return res, nil
}

func (v *ProofVerifier) verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.ProofID == "" || req.SplitterID == "" {
		return nil, NewPaymentError(ErrCodeInvalidRequest, "proof and splitter are required", nil)
	}

	existing, err := v.records.GetByProof(ctx, req.ProofID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load payment record: %w", err)
	}
	if existing != nil && existing.Status.IsTerminal() {
		return replay(existing, req)
	}

	status, cached, done, err := v.inFlight.CheckAndMark(ctx, req.ProofID)
	if err != nil {
		// The record store's unique key still guarantees a single record.
		v.logger.Warn("verification store unavailable", logging.Proof(req.ProofID), logging.Error(err))
		return v.verifyOnLedger(ctx, req)
	}

	switch status {
	case CacheHit:
		return replay(cached, req)

	case CacheInFlight:
		rec, err := v.inFlight.WaitForResult(ctx, req.ProofID, done)
		if err != nil {
			return nil, WrapPaymentError(ErrCodeProofNotFound, "verification interrupted", err)
		}
		if rec != nil {
			return replay(rec, req)
		}
		// The other verification failed; take the in-flight slot ourselves.
		return v.verify(ctx, req)

	case CacheMiss:
	}

	res, err := v.verifyOnLedger(ctx, req)
	if err != nil {
		v.inFlight.Fail(ctx, req.ProofID, done)
		return nil, err
	}
	v.inFlight.Complete(ctx, req.ProofID, res.Record, done)
	return res, nil
}

func (v *ProofVerifier) verifyOnLedger(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	cfg, err := v.configs.Get(ctx, req.SplitterID)
	if err != nil {
		return nil, err
	}
	splits, err := ComputeSplits(req.Amount, cfg.Shares)
	if err != nil {
		return nil, err
	}

	tx, err := v.awaitTransaction(ctx, req.ProofID)
	if err != nil {
		return nil, err
	}

	rec := &PaymentRecord{
		ID:             uuid.NewString(),
		ProofID:        req.ProofID,
		SplitterID:     cfg.ID,
		Payer:          req.Payer,
		TotalAmount:    splits.Total,
		MerchantAmount: splits.Merchant,
		AgentAmount:    splits.Agent,
		PlatformAmount: splits.Platform,
		Resource:       req.Resource,
		CreatedAt:      v.now().UTC(),
	}

	if tx.Err != nil {
		rec.Status = StatusFailed
		if _, _, err := v.records.InsertIfAbsent(ctx, rec); err != nil {
			v.logger.Error("failed to store failed payment record", logging.Proof(req.ProofID), logging.Error(err))
		}
		return nil, NewPaymentError(ErrCodePaymentFailed, "payment transaction failed on ledger",
			map[string]interface{}{"signature": req.ProofID, "ledgerError": fmt.Sprint(tx.Err)})
	}

	if v.inspector != nil {
		if err := v.inspector.Inspect(tx, cfg, splits); err != nil {
			return nil, &PaymentError{
				Code:    ErrCodePaymentFailed,
				Message: "transaction does not pay the expected split",
				Details: map[string]interface{}{"signature": req.ProofID, "reason": "proof_mismatch"},
				cause:   err,
			}
		}
	}

	rec.Status = StatusConfirmed
	stored, inserted, err := v.records.InsertIfAbsent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to store payment record: %w", err)
	}
	if !inserted {
		return replay(stored, req)
	}
	return &VerifyResult{Record: stored}, nil
}

// awaitTransaction polls the ledger a bounded number of times.
func (v *ProofVerifier) awaitTransaction(ctx context.Context, signature string) (*LedgerTransaction, error) {
	for attempt := range v.pollAttempts {
		tx, err := v.ledger.GetTransaction(ctx, signature)
		if err != nil {
			var pe *PaymentError
			if errors.As(err, &pe) {
				return nil, err
			}
			return nil, WrapPaymentError(ErrCodeLedgerUnavailable, "failed to query ledger", err)
		}
		if tx != nil && tx.Found {
			return tx, nil
		}

		if attempt < v.pollAttempts-1 {
			select {
			case <-time.After(v.pollInterval):
			case <-ctx.Done():
				return nil, WrapPaymentError(ErrCodeProofNotFound, "transaction not yet final", ctx.Err())
			}
		}
	}
	return nil, NewPaymentError(ErrCodeProofNotFound, "transaction not found or not yet final",
		map[string]interface{}{"signature": signature})
}

// replay returns an existing record as the verification result, provided it
// authorises a payment to the requested splitter.
func replay(rec *PaymentRecord, req VerifyRequest) (*VerifyResult, error) {
	if rec.Status != StatusConfirmed {
		return nil, NewPaymentError(ErrCodePaymentFailed, "payment transaction failed on ledger",
			map[string]interface{}{"signature": rec.ProofID})
	}
	if rec.SplitterID != req.SplitterID {
		return nil, NewPaymentError(ErrCodePaymentFailed, "proof was used for a different splitter",
			map[string]interface{}{"signature": rec.ProofID, "reason": "proof_mismatch"})
	}
	if rec.TotalAmount < req.Amount {
		return nil, NewPaymentError(ErrCodePaymentFailed, "proof pays less than the resource price",
			map[string]interface{}{"signature": rec.ProofID, "paid": rec.TotalAmount, "required": req.Amount})
	}
	return &VerifyResult{Record: rec, Replayed: true}, nil
}

func outcomeOf(res *VerifyResult, err error) string {
	if err == nil {
		if res.Replayed {
			return OutcomeReplayed
		}
		return OutcomeConfirmed
	}
	var pe *PaymentError
	if !errors.As(err, &pe) {
		return OutcomeInvalid
	}
	switch pe.Code {
	case ErrCodeProofNotFound:
		return OutcomeNotFound
	case ErrCodeLedgerUnavailable:
		return OutcomeLedgerUnavailable
	case ErrCodePaymentFailed:
		if pe.Details["reason"] == "proof_mismatch" {
			return OutcomeMismatch
		}
		return OutcomeFailed
	}
	return OutcomeInvalid
}
