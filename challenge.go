package splitpay

import (
	"strconv"

	"github.com/x402-foundation/splitpay/internal/metrics"
)

// Default payment parameters for Solana devnet.
const (
	DefaultNetwork Network = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	DefaultAmount  uint64  = 1_000_000
)

// ChallengeIssuer builds payment-required documents. The amount for a
// resource is fixed by the issuer's price table, never by the caller.
type ChallengeIssuer struct {
	asset         string
	network       Network
	programID     string
	defaultAmount uint64
	prices        map[string]uint64
	metrics       *metrics.Metrics
}

// IssuerOption configures a ChallengeIssuer.
type IssuerOption func(*ChallengeIssuer)

// WithNetwork sets the network identifier advertised in challenges.
func WithNetwork(network Network) IssuerOption {
	return func(i *ChallengeIssuer) {
		i.network = network
	}
}

// WithProgramID sets the settlement program advertised in challenges.
func WithProgramID(programID string) IssuerOption {
	return func(i *ChallengeIssuer) {
		i.programID = programID
	}
}

// WithDefaultAmount sets the amount charged for resources without an explicit price.
func WithDefaultAmount(amount uint64) IssuerOption {
	return func(i *ChallengeIssuer) {
		i.defaultAmount = amount
	}
}

// WithPrice fixes the amount charged for one resource.
func WithPrice(resource string, amount uint64) IssuerOption {
	return func(i *ChallengeIssuer) {
		i.prices[resource] = amount
	}
}

// WithIssuerMetrics records issued challenges.
func WithIssuerMetrics(m *metrics.Metrics) IssuerOption {
	return func(i *ChallengeIssuer) {
		i.metrics = m
	}
}

// NewChallengeIssuer creates an issuer for the given asset (token mint).
func NewChallengeIssuer(asset string, opts ...IssuerOption) *ChallengeIssuer {
	i := &ChallengeIssuer{
		asset:         asset,
		network:       DefaultNetwork,
		defaultAmount: DefaultAmount,
		prices:        make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Price returns the fixed amount charged for resource.
func (i *ChallengeIssuer) Price(resource string) uint64 {
	if amount, ok := i.prices[resource]; ok {
		return amount
	}
	return i.defaultAmount
}

// IssueChallenge builds the payment-required document for resource, paid
// through cfg. Unready splitters are never offered.
func (i *ChallengeIssuer) IssueChallenge(resource string, cfg *SplitterConfig) (*PaymentChallenge, error) {
	accept, err := i.buildAccept(resource, cfg)
	if err != nil {
		return nil, err
	}
	i.metrics.IncChallenge()
	return &PaymentChallenge{
		ProtocolVersion: ProtocolVersion,
		Accepts:         []PaymentAccept{*accept},
	}, nil
}

// DenialChallenge builds the challenge-shaped body returned when a presented
// proof was rejected. It carries the rejection code so the caller knows to
// pay again rather than resubmit the same proof.
func (i *ChallengeIssuer) DenialChallenge(resource string, cfg *SplitterConfig, cause error) *PaymentChallenge {
	ch := &PaymentChallenge{
		ProtocolVersion: ProtocolVersion,
		Error:           ErrorCode(cause),
		Retryable:       IsRetryable(cause),
		Accepts:         []PaymentAccept{},
	}
	if ch.Error == "" {
		ch.Error = ErrCodePaymentFailed
	}
	if accept, err := i.buildAccept(resource, cfg); err == nil {
		ch.Accepts = append(ch.Accepts, *accept)
	}
	return ch
}

func (i *ChallengeIssuer) buildAccept(resource string, cfg *SplitterConfig) (*PaymentAccept, error) {
	if cfg == nil {
		return nil, NewPaymentError(ErrCodeSplitterNotFound, "no splitter configuration", nil)
	}
	if !cfg.OnChainReady {
		return nil, NewPaymentError(ErrCodeSplitterNotReady, "splitter is not initialized on chain",
			map[string]interface{}{"splitter": cfg.ID})
	}

	total := i.Price(resource)
	splits, err := ComputeSplits(total, cfg.Shares)
	if err != nil {
		return nil, err
	}

	return &PaymentAccept{
		Asset:             i.asset,
		Network:           i.network,
		PayTo:             cfg.ID,
		MaxAmountRequired: strconv.FormatUint(total, 10),
		Resource:          resource,
		ProgramID:         i.programID,
		Recipients:        RecipientAmounts(cfg, splits),
		Residual:          splits.Residual,
	}, nil
}
