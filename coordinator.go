package splitpay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/x402-foundation/splitpay/internal/logging"
	"github.com/x402-foundation/splitpay/internal/metrics"
)

// SplitterResolver returns splitter configurations the protocol may trust.
type SplitterResolver interface {
	Resolve(ctx context.Context, id string) (*SplitterConfig, error)
}

// Verifier verifies payment proofs.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
}

// Request is one inbound call for a protected resource.
type Request struct {
	Resource   string
	SplitterID string
	ProofID    string
	Payer      string
}

// ResultKind is the terminal state a request reached.
type ResultKind int

const (
	// ResultChallenge: no proof was presented, pay and retry.
	ResultChallenge ResultKind = iota
	// ResultGranted: the proof was accepted, serve the resource.
	ResultGranted
	// ResultDenied: the proof was rejected, pay again with a new proof.
	ResultDenied
	// ResultError: the request cannot be processed (bad splitter, ledger down).
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultChallenge:
		return "challenge"
	case ResultGranted:
		return "granted"
	case ResultDenied:
		return "denied"
	case ResultError:
		return "error"
	}
	return "unknown"
}

// Result contains the outcome of processing a request.
type Result struct {
	Kind      ResultKind
	Challenge *PaymentChallenge
	Record    *PaymentRecord
	Splits    []RecipientAmount
	Replayed  bool
	Err       error
}

// Coordinator decides, per request, between issuing a challenge and serving
// the protected resource. It keeps no state across requests; the record
// store is the only durable state.
type Coordinator struct {
	mu sync.RWMutex

	splitters SplitterResolver
	issuer    *ChallengeIssuer
	verifier  Verifier
	usage     UsageStore

	beforeVerifyHooks []BeforeVerifyHook
	afterGrantHooks   []AfterGrantHook
	onDenyHooks       []OnDenyHook

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithCoordinatorMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator wires the protocol components together. usage may be nil.
func NewCoordinator(splitters SplitterResolver, issuer *ChallengeIssuer, verifier Verifier, usage UsageStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		splitters: splitters,
		issuer:    issuer,
		verifier:  verifier,
		usage:     usage,
		logger:    logging.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issuer returns the challenge issuer, for price lookups.
func (c *Coordinator) Issuer() *ChallengeIssuer {
	return c.issuer
}

// Process runs the AwaitingProof -> Verifying -> Granted/Denied state machine
// for one request.
func (c *Coordinator) Process(ctx context.Context, req Request) Result {
	cfg, err := c.splitters.Resolve(ctx, req.SplitterID)
	if err != nil {
		return Result{Kind: ResultError, Err: err}
	}

	if req.ProofID == "" {
		challenge, err := c.issuer.IssueChallenge(req.Resource, cfg)
		if err != nil {
			return Result{Kind: ResultError, Err: err}
		}
		return Result{Kind: ResultChallenge, Challenge: challenge}
	}

	if reason, aborted := c.runBeforeVerify(ctx, req); aborted {
		err := NewPaymentError(ErrCodePaymentFailed, reason, nil)
		return c.deny(ctx, req, cfg, err)
	}

	res, err := c.verifier.Verify(ctx, VerifyRequest{
		ProofID:    req.ProofID,
		SplitterID: cfg.ID,
		Payer:      req.Payer,
		Resource:   req.Resource,
		Amount:     c.issuer.Price(req.Resource),
	})
	if err != nil {
		var pe *PaymentError
		if errors.As(err, &pe) && (pe.Code == ErrCodeProofNotFound || pe.Code == ErrCodePaymentFailed) {
			return c.deny(ctx, req, cfg, err)
		}
		return Result{Kind: ResultError, Err: err}
	}

	return c.grant(ctx, req, cfg, res)
}

func (c *Coordinator) grant(ctx context.Context, req Request, cfg *SplitterConfig, res *VerifyResult) Result {
	rec := res.Record
	if !res.Replayed {
		c.recordUsage(ctx, req, rec)
		c.metrics.IncGrant()
	}

	c.mu.RLock()
	hooks := c.afterGrantHooks
	c.mu.RUnlock()
	for _, hook := range hooks {
		hook(GrantContext{Ctx: ctx, Request: req, Record: rec, Replayed: res.Replayed, Timestamp: c.now()})
	}

	splits := Splits{
		Total:    rec.TotalAmount,
		Merchant: rec.MerchantAmount,
		Agent:    rec.AgentAmount,
		Platform: rec.PlatformAmount,
	}
	splits.Residual = splits.Total - splits.Distributed()

	return Result{
		Kind:     ResultGranted,
		Record:   rec,
		Splits:   RecipientAmounts(cfg, splits),
		Replayed: res.Replayed,
	}
}

func (c *Coordinator) deny(ctx context.Context, req Request, cfg *SplitterConfig, err error) Result {
	c.mu.RLock()
	hooks := c.onDenyHooks
	c.mu.RUnlock()
	for _, hook := range hooks {
		hook(DenyContext{Ctx: ctx, Request: req, Error: err, Timestamp: c.now()})
	}

	return Result{
		Kind:      ResultDenied,
		Challenge: c.issuer.DenialChallenge(req.Resource, cfg, err),
		Err:       err,
	}
}

func (c *Coordinator) runBeforeVerify(ctx context.Context, req Request) (string, bool) {
	c.mu.RLock()
	hooks := c.beforeVerifyHooks
	c.mu.RUnlock()

	for _, hook := range hooks {
		result, err := hook(VerifyContext{Ctx: ctx, Request: req, Timestamp: c.now()})
		if err != nil {
			c.logger.Warn("before-verify hook failed", logging.Proof(req.ProofID), logging.Error(err))
		}
		if result != nil && result.Abort {
			return result.Reason, true
		}
	}
	return "", false
}

// recordUsage appends the usage event for a first grant. Usage is analytics
// only, so a failure is logged and the grant stands.
func (c *Coordinator) recordUsage(ctx context.Context, req Request, rec *PaymentRecord) {
	if c.usage == nil {
		return
	}
	ev := &UsageEvent{
		ID:         uuid.NewString(),
		SplitterID: rec.SplitterID,
		Resource:   req.Resource,
		Payer:      req.Payer,
		ProofID:    rec.ProofID,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.usage.RecordUsage(ctx, ev); err != nil {
		c.logger.Error("failed to record usage", logging.Proof(rec.ProofID), logging.Splitter(rec.SplitterID), logging.Error(err))
	}
}
