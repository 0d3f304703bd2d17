package svm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/x402-foundation/splitpay"
	"github.com/x402-foundation/splitpay/internal/logging"
	"github.com/x402-foundation/splitpay/internal/metrics"
)

var tracer = otel.Tracer("github.com/x402-foundation/splitpay/mechanisms/svm")

// AccountChecker reports whether an account exists on the ledger.
type AccountChecker interface {
	AccountExists(ctx context.Context, address solana.PublicKey) (bool, error)
}

// BuildResult is a settlement transaction together with the split it pays.
type BuildResult struct {
	Transaction     *UnsignedTransaction
	Splits          splitpay.Splits
	Recipients      []splitpay.RecipientAmount
	MissingAccounts []string
}

// TransactionBuilder builds unsigned settlement transactions for splitters.
type TransactionBuilder struct {
	accounts         AccountChecker
	programID        solana.PublicKey
	mint             solana.PublicKey
	decimals         uint8
	mode             SettlementMode
	computeUnitPrice uint64
	computeUnitLimit uint32

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// BuilderOption configures a TransactionBuilder.
type BuilderOption func(*TransactionBuilder)

func WithBuilderProgramID(programID solana.PublicKey) BuilderOption {
	return func(b *TransactionBuilder) {
		b.programID = programID
	}
}

// WithMint sets the token mint and its decimals.
func WithMint(mint solana.PublicKey, decimals uint8) BuilderOption {
	return func(b *TransactionBuilder) {
		b.mint = mint
		b.decimals = decimals
	}
}

// WithSettlementMode selects atomic or three-transfer settlement.
func WithSettlementMode(mode SettlementMode) BuilderOption {
	return func(b *TransactionBuilder) {
		b.mode = mode
	}
}

// WithComputeBudget prepends compute budget instructions. A zero price
// disables them.
func WithComputeBudget(unitLimit uint32, microLamportsPerUnit uint64) BuilderOption {
	return func(b *TransactionBuilder) {
		b.computeUnitLimit = unitLimit
		b.computeUnitPrice = microLamportsPerUnit
	}
}

func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *TransactionBuilder) {
		b.logger = logger
	}
}

func WithBuilderMetrics(m *metrics.Metrics) BuilderOption {
	return func(b *TransactionBuilder) {
		b.metrics = m
	}
}

// NewTransactionBuilder creates a builder that looks up token accounts
// through accounts. Defaults: the deployed splitter program, devnet USDC,
// atomic mode, no compute budget instructions.
func NewTransactionBuilder(accounts AccountChecker, opts ...BuilderOption) *TransactionBuilder {
	b := &TransactionBuilder{
		accounts:  accounts,
		programID: DefaultProgramID,
		mint:      DevnetUSDCMint,
		decimals:  USDCDecimals,
		mode:      ModeAtomic,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Mode returns the settlement mode in effect.
func (b *TransactionBuilder) Mode() SettlementMode {
	return b.mode
}

// BuildSettlementTransaction builds the unsigned transaction that pays
// amount from payer through cfg. The split is always recomputed from cfg.
func (b *TransactionBuilder) BuildSettlementTransaction(ctx context.Context, cfg *splitpay.SplitterConfig, payer string, amount uint64) (*BuildResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "svm.BuildSettlementTransaction")
	span.SetAttributes(attribute.String("splitpay.splitter", cfg.ID), attribute.String("splitpay.mode", string(b.mode)))
	defer span.End()

	res, err := b.build(ctx, cfg, payer, amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, splitpay.ErrorCode(err))
		return nil, err
	}
	b.metrics.ObserveBuild(string(b.mode), len(res.MissingAccounts), start)
	b.logger.Debug("settlement transaction built", logging.Splitter(cfg.ID), logging.Payer(payer),
		slog.Int("missingAccounts", len(res.MissingAccounts)), slog.String("mode", string(b.mode)))
	return res, nil
}

func (b *TransactionBuilder) build(ctx context.Context, cfg *splitpay.SplitterConfig, payer string, amount uint64) (*BuildResult, error) {
	if !cfg.OnChainReady {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeSplitterNotReady, "splitter is not initialized on chain",
			map[string]interface{}{"splitter": cfg.ID})
	}

	splits, err := splitpay.ComputeSplits(amount, cfg.Shares)
	if err != nil {
		return nil, err
	}

	payerKey, err := parseParticipant("payer", payer)
	if err != nil {
		return nil, err
	}
	splitterKey, err := parseParticipant("splitter", cfg.ID)
	if err != nil {
		return nil, err
	}
	var recipients [3]solana.PublicKey
	for i, role := range splitpay.Roles {
		if recipients[i], err = parseParticipant(string(role), cfg.Recipient(role)); err != nil {
			return nil, err
		}
	}

	payerATA, _, err := solana.FindAssociatedTokenAddress(payerKey, b.mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive payer token account: %w", err)
	}
	var recipientATAs [3]solana.PublicKey
	for i, owner := range recipients {
		if recipientATAs[i], _, err = solana.FindAssociatedTokenAddress(owner, b.mint); err != nil {
			return nil, fmt.Errorf("failed to derive %s token account: %w", splitpay.Roles[i], err)
		}
	}

	exists, err := b.checkAccounts(ctx, recipientATAs)
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction
	if b.computeUnitPrice > 0 {
		budget, err := b.computeBudgetInstructions()
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, budget...)
	}

	// Account creation must precede every transfer into that account.
	var missing []string
	for i, ok := range exists {
		if ok {
			continue
		}
		instructions = append(instructions, NewCreateIdempotentATAInstruction(payerKey, recipients[i], b.mint))
		missing = append(missing, recipientATAs[i].String())
	}

	switch b.mode {
	case ModeAtomic:
		ix, err := NewSplitPaymentInstruction(b.programID, SplitPaymentAccounts{
			Splitter:             splitterKey,
			Payer:                payerKey,
			PayerTokenAccount:    payerATA,
			MerchantTokenAccount: recipientATAs[0],
			AgentTokenAccount:    recipientATAs[1],
			PlatformTokenAccount: recipientATAs[2],
			TokenProgram:         solana.TokenProgramID,
		}, splits.Total)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, ix)

	case ModeTransfers:
		for i, role := range splitpay.Roles {
			ix, err := token.NewTransferCheckedInstructionBuilder().
				SetAmount(splits.Of(role)).
				SetDecimals(b.decimals).
				SetSourceAccount(payerATA).
				SetMintAccount(b.mint).
				SetDestinationAccount(recipientATAs[i]).
				SetOwnerAccount(payerKey).
				ValidateAndBuild()
			if err != nil {
				return nil, fmt.Errorf("failed to build %s transfer instruction: %w", role, err)
			}
			instructions = append(instructions, ix)
		}

	default:
		return nil, fmt.Errorf("unknown settlement mode %q", b.mode)
	}

	tx, err := NewUnsignedTransaction(payerKey, b.mode, instructions...)
	if err != nil {
		return nil, err
	}

	return &BuildResult{
		Transaction:     tx,
		Splits:          splits,
		Recipients:      splitpay.RecipientAmounts(cfg, splits),
		MissingAccounts: missing,
	}, nil
}

// checkAccounts looks up the recipient token accounts concurrently.
func (b *TransactionBuilder) checkAccounts(ctx context.Context, addrs [3]solana.PublicKey) ([3]bool, error) {
	var exists [3]bool
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range addrs {
		g.Go(func() error {
			ok, err := b.accounts.AccountExists(gctx, addr)
			if err != nil {
				return fmt.Errorf("%s token account %s: %w", splitpay.Roles[i], addr, err)
			}
			exists[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var pe *splitpay.PaymentError
		if errors.As(err, &pe) {
			return exists, err
		}
		return exists, splitpay.WrapPaymentError(splitpay.ErrCodeLedgerUnavailable, "failed to look up token accounts", err)
	}
	return exists, nil
}

func (b *TransactionBuilder) computeBudgetInstructions() ([]solana.Instruction, error) {
	limit := b.computeUnitLimit
	if limit == 0 {
		limit = 200_000
	}
	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(limit).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(b.computeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute price instruction: %w", err)
	}
	return []solana.Instruction{cuLimit, cuPrice}, nil
}

// NewCreateIdempotentATAInstruction creates wallet's associated token
// account for mint, funded by payer. The idempotent variant succeeds if the
// account already exists, so a concurrent creation does not fail the payment.
func NewCreateIdempotentATAInstruction(payer, wallet, mint solana.PublicKey) solana.Instruction {
	ata, _, _ := solana.FindAssociatedTokenAddress(wallet, mint)
	metas := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(wallet),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.TokenProgramID),
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, metas, []byte{1})
}

func parseParticipant(role, address string) (solana.PublicKey, error) {
	pk, err := ParseAddress(address)
	if err != nil {
		return solana.PublicKey{}, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidAddress,
			fmt.Sprintf("invalid %s address", role), err)
	}
	return pk, nil
}
