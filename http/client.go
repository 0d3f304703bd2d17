package http

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	solana "github.com/gagliardetto/solana-go"

	"github.com/x402-foundation/splitpay"
	"github.com/x402-foundation/splitpay/internal/logging"
	"github.com/x402-foundation/splitpay/mechanisms/svm"
)

// ClientState is a step of the caller-side payment flow.
type ClientState string

const (
	StateIdle              ClientState = "idle"
	StateRequested         ClientState = "requested"
	StateChallengeReceived ClientState = "challenge_received"
	StatePaying            ClientState = "paying"
	StateSubmitted         ClientState = "submitted"
	StateConfirmed         ClientState = "confirmed"
	StateRetried           ClientState = "retried"
	StateDone              ClientState = "done"
)

// Ledger is what the client needs from the chain to settle a payment.
// *svm.RPCLedger implements it.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Submit(ctx context.Context, tx *solana.Transaction) (string, error)
	SignatureStatus(ctx context.Context, signature string) (confirmed bool, txErr interface{}, err error)
}

// BuildAPI builds unsigned settlement transactions. *APIClient implements it.
type BuildAPI interface {
	BuildSplitTx(ctx context.Context, req BuildSplitTxRequest) (*BuildSplitTxResponse, error)
}

// SplitterSource returns the configuration a challenge is checked against.
type SplitterSource interface {
	GetSplitter(ctx context.Context, id string) (*splitpay.SplitterConfig, error)
}

// ChainSplitters reads splitter configurations from their on-chain accounts.
type ChainSplitters struct {
	ledger *svm.RPCLedger
}

// NewChainSplitters creates a SplitterSource backed by ledger.
func NewChainSplitters(ledger *svm.RPCLedger) *ChainSplitters {
	return &ChainSplitters{ledger: ledger}
}

func (s *ChainSplitters) GetSplitter(ctx context.Context, id string) (*splitpay.SplitterConfig, error) {
	key, err := svm.ParseAddress(id)
	if err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidAddress, "invalid splitter address", err)
	}
	acc, err := s.ledger.FetchSplitter(ctx, key)
	if err != nil {
		return nil, err
	}
	return acc.Config(id), nil
}

// PaymentClient performs requests against payment-gated resources. On a 402
// it checks the challenge, pays through the splitter once and retries the
// request with the proof.
type PaymentClient struct {
	httpClient *http.Client
	builder    BuildAPI
	splitters  SplitterSource
	ledger     Ledger
	signer     svm.TransactionSigner

	programID solana.PublicKey
	mint      solana.PublicKey
	inspector *svm.Inspector

	pollAttempts    int
	pollInterval    time.Duration
	maxPollInterval time.Duration

	onState func(ClientState)
	logger  *slog.Logger
}

// ClientOption configures a PaymentClient.
type ClientOption func(*PaymentClient)

// WithHTTPClient sets the client used for resource requests.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *PaymentClient) {
		c.httpClient = client
	}
}

// WithSplitterSource sets where splitter configurations are read from.
// Defaults to the build API when it implements SplitterSource.
func WithSplitterSource(source SplitterSource) ClientOption {
	return func(c *PaymentClient) {
		c.splitters = source
	}
}

// WithSettlementProgram pins the splitter program and token mint the client
// pays through. Challenges naming another program or asset are refused.
// Defaults to svm.DefaultProgramID and svm.DevnetUSDCMint.
func WithSettlementProgram(programID, mint solana.PublicKey) ClientOption {
	return func(c *PaymentClient) {
		c.programID = programID
		c.mint = mint
	}
}

// WithConfirmationPolling bounds how long the client waits for its payment
// to confirm. The interval doubles after each attempt up to maxInterval.
func WithConfirmationPolling(attempts int, interval, maxInterval time.Duration) ClientOption {
	return func(c *PaymentClient) {
		c.pollAttempts = attempts
		c.pollInterval = interval
		c.maxPollInterval = maxInterval
	}
}

// WithStateObserver is called on every state transition.
func WithStateObserver(fn func(ClientState)) ClientOption {
	return func(c *PaymentClient) {
		c.onState = fn
	}
}

func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *PaymentClient) {
		c.logger = logger
	}
}

// NewPaymentClient creates a client that pays with signer.
func NewPaymentClient(builder BuildAPI, ledger Ledger, signer svm.TransactionSigner, opts ...ClientOption) *PaymentClient {
	c := &PaymentClient{
		httpClient:      http.DefaultClient,
		builder:         builder,
		ledger:          ledger,
		signer:          signer,
		programID:       svm.DefaultProgramID,
		mint:            svm.DevnetUSDCMint,
		pollAttempts:    10,
		pollInterval:    500 * time.Millisecond,
		maxPollInterval: 4 * time.Second,
		logger:          logging.Discard(),
	}
	if source, ok := builder.(SplitterSource); ok {
		c.splitters = source
	}
	for _, opt := range opts {
		opt(c)
	}
	c.inspector = svm.NewInspector(c.programID, c.mint)
	return c
}

// Post sends a JSON POST with payment handling.
func (c *PaymentClient) Post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(req)
}

// Get sends a GET with payment handling.
func (c *PaymentClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do sends req. A 402 answer is paid once and the request retried once with
// the proof headers; a second 402 fails with ChallengeLoop.
func (c *PaymentClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	c.transition(StateIdle)

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	c.transition(StateRequested)
	resp, err := c.send(req, body, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		c.transition(StateDone)
		return resp, nil
	}

	challengeBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	c.transition(StateChallengeReceived)
	p, err := c.acceptChallenge(ctx, challengeBody)
	if err != nil {
		return nil, err
	}

	c.transition(StatePaying)
	tx, err := c.buildAndSign(ctx, p)
	if err != nil {
		return nil, err
	}

	signature, err := c.ledger.Submit(ctx, tx)
	if err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeLedgerUnavailable, "failed to submit payment", err)
	}
	c.transition(StateSubmitted)
	c.logger.Info("payment submitted", logging.Proof(signature), logging.Splitter(p.cfg.ID))

	if err := c.awaitConfirmation(ctx, signature); err != nil {
		return nil, err
	}
	c.transition(StateConfirmed)

	c.transition(StateRetried)
	resp, err = c.send(req, body, map[string]string{
		HeaderProofSignature: signature,
		HeaderPayerIdentity:  c.signer.Address().String(),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeChallengeLoop, "payment was not accepted by the server",
			map[string]interface{}{"signature": signature})
	}

	c.transition(StateDone)
	return resp, nil
}

func (c *PaymentClient) send(req *http.Request, body []byte, headers map[string]string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	}
	for k, v := range headers {
		out.Header.Set(k, v)
	}
	return c.httpClient.Do(out)
}

// payment is an accepted challenge with its split recomputed from the
// splitter configuration.
type payment struct {
	cfg      *splitpay.SplitterConfig
	amount   uint64
	splits   splitpay.Splits
	expected []splitpay.RecipientAmount
}

// acceptChallenge validates the challenge and recomputes its split from the
// splitter configuration.
func (c *PaymentClient) acceptChallenge(ctx context.Context, body []byte) (*payment, error) {
	challenge, err := ValidateChallenge(body)
	if err != nil {
		return nil, err
	}
	accept := challenge.Accepts[0]

	if accept.Asset != c.mint.String() {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeInvalidRequest, "challenge asks for another asset",
			map[string]interface{}{"asset": accept.Asset})
	}
	if accept.ProgramID != "" && accept.ProgramID != c.programID.String() {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeInvalidRequest, "challenge names another splitter program",
			map[string]interface{}{"programId": accept.ProgramID})
	}

	amount, err := strconv.ParseUint(accept.MaxAmountRequired, 10, 64)
	if err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest, "invalid challenge amount", err)
	}
	if c.splitters == nil {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeInvalidRequest, "no splitter source configured", nil)
	}
	cfg, err := c.splitters.GetSplitter(ctx, accept.PayTo)
	if err != nil {
		return nil, err
	}
	splits, err := splitpay.ComputeSplits(amount, cfg.Shares)
	if err != nil {
		return nil, err
	}
	expected := splitpay.RecipientAmounts(cfg, splits)

	if len(accept.Recipients) > 0 && !sameRecipients(accept.Recipients, expected) {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeInvalidRequest,
			"challenge recipients do not match the splitter configuration",
			map[string]interface{}{"splitter": accept.PayTo})
	}
	return &payment{cfg: cfg, amount: amount, splits: splits, expected: expected}, nil
}

// buildAndSign fetches the settlement transaction and signs it only after
// checking that its instructions move exactly the expected split.
func (c *PaymentClient) buildAndSign(ctx context.Context, p *payment) (*solana.Transaction, error) {
	payer := c.signer.Address()
	built, err := c.builder.BuildSplitTx(ctx, BuildSplitTxRequest{
		SplitterID:    p.cfg.ID,
		PayerIdentity: payer.String(),
		Amount:        p.amount,
	})
	if err != nil {
		return nil, err
	}
	if !sameRecipients(built.Recipients(), p.expected) {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeInvalidRequest,
			"built transaction does not pay the expected split",
			map[string]interface{}{"splitter": p.cfg.ID})
	}

	unsigned, err := svm.DecodeUnsignedTransaction(built.Transaction)
	if err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest, "invalid transaction from build endpoint", err)
	}
	if unsigned.Payer != payer.String() {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeInvalidRequest, "transaction was built for another payer",
			map[string]interface{}{"payer": unsigned.Payer})
	}

	blockhash, err := c.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeLedgerUnavailable, "failed to get blockhash", err)
	}
	tx, err := unsigned.Assemble(blockhash, payer)
	if err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest, "failed to assemble transaction", err)
	}
	if err := c.inspector.CheckSettlement(tx, p.cfg, p.splits); err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest,
			"built transaction does not pay the expected split", err)
	}
	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// awaitConfirmation polls the signature status with exponential backoff.
// Running out of attempts is ProofNotFound: the payment may still land, so
// the caller can retry with the same signature later.
func (c *PaymentClient) awaitConfirmation(ctx context.Context, signature string) error {
	delay := c.pollInterval
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if c.maxPollInterval > 0 && delay > c.maxPollInterval {
				delay = c.maxPollInterval
			}
		}

		confirmed, txErr, err := c.ledger.SignatureStatus(ctx, signature)
		if err != nil {
			c.logger.Warn("signature status query failed", logging.Proof(signature), logging.Error(err))
			continue
		}
		if !confirmed {
			continue
		}
		if txErr != nil {
			return splitpay.NewPaymentError(splitpay.ErrCodePaymentFailed, "payment transaction failed",
				map[string]interface{}{"signature": signature, "error": txErr})
		}
		return nil
	}
	return splitpay.NewPaymentError(splitpay.ErrCodeProofNotFound, "payment not confirmed in time",
		map[string]interface{}{"signature": signature})
}

func (c *PaymentClient) transition(state ClientState) {
	c.logger.Debug("payment client state", slog.String("state", string(state)))
	if c.onState != nil {
		c.onState(state)
	}
}

func sameRecipients(got, want []splitpay.RecipientAmount) bool {
	if len(got) != len(want) {
		return false
	}
	index := make(map[splitpay.Role]splitpay.RecipientAmount, len(want))
	for _, r := range want {
		index[r.Role] = r
	}
	for _, r := range got {
		w, ok := index[r.Role]
		if !ok || w.Address != r.Address || w.Amount != r.Amount {
			return false
		}
	}
	return true
}
