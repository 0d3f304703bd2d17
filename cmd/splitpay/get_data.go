package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	splitpayhttp "github.com/x402-foundation/splitpay/http"
	"github.com/x402-foundation/splitpay/mechanisms/svm"
)

type getDataConfiguration struct {
	Base       *baseConfiguration
	URL        string
	SplitterID string
	PrivateKey string
	Mint       string
	FromChain  bool
	Attempts   int
	Interval   time.Duration
}

func newGetDataCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &getDataConfiguration{Base: baseConfig}
	cmd := &cobra.Command{
		Use:   "get-data",
		Short: "Pays for and fetches a protected resource",
		Long: `Requests the protected resource, pays the returned challenge through the splitter
and retries the request with the payment proof.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getDataRunFunc(cmd, config)
		},
	}
	cmd.Flags().StringVar(&config.URL, "url", "", "protected resource URL (default: <api>/api/demo/get-data)")
	cmd.Flags().StringVarP(&config.SplitterID, "splitter", "s", "", "splitter account that receives the payment")
	cmd.Flags().StringVarP(&config.PrivateKey, "key", "k", envOr("SOLANA_PRIVATE_KEY", ""), "payer private key in base58")
	cmd.Flags().StringVar(&config.Mint, "mint", envOr("USDC_MINT", svm.DevnetUSDCAddress), "token mint the payment must be made in")
	cmd.Flags().BoolVar(&config.FromChain, "from-chain", false, "check the challenge against the on-chain splitter account instead of the API")
	cmd.Flags().IntVar(&config.Attempts, "confirm-attempts", 10, "confirmation polls before giving up")
	cmd.Flags().DurationVar(&config.Interval, "confirm-interval", 500*time.Millisecond, "first delay between confirmation polls")
	_ = cmd.MarkFlagRequired("splitter")
	return cmd
}

func getDataRunFunc(cmd *cobra.Command, config *getDataConfiguration) error {
	if config.PrivateKey == "" {
		return fmt.Errorf("a payer key is required: pass --key or set SOLANA_PRIVATE_KEY")
	}
	signer, err := svm.NewWalletSignerFromPrivateKey(config.PrivateKey)
	if err != nil {
		return err
	}
	programID, err := config.Base.programID()
	if err != nil {
		return err
	}
	mint, err := svm.ParseAddress(config.Mint)
	if err != nil {
		return fmt.Errorf("invalid --mint: %w", err)
	}
	target := config.URL
	if target == "" {
		target = strings.TrimRight(config.Base.APIURL, "/") + "/api/demo/get-data"
	}

	logger := config.Base.logger
	ledger := svm.NewRPCLedger(config.Base.RPCURL)
	opts := []splitpayhttp.ClientOption{
		splitpayhttp.WithClientLogger(logger),
		splitpayhttp.WithSettlementProgram(programID, mint),
		splitpayhttp.WithConfirmationPolling(config.Attempts, config.Interval, 8*config.Interval),
		splitpayhttp.WithStateObserver(func(s splitpayhttp.ClientState) {
			logger.Info("payment state", slog.String("state", string(s)))
		}),
	}
	if config.FromChain {
		opts = append(opts, splitpayhttp.WithSplitterSource(splitpayhttp.NewChainSplitters(ledger)))
	}
	client := splitpayhttp.NewPaymentClient(config.Base.apiClient(), ledger, signer, opts...)

	body, err := json.Marshal(map[string]string{"splitterPDA": config.SplitterID})
	if err != nil {
		return err
	}
	resp, err := client.Post(cmd.Context(), target, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resource returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	out := struct {
		Data    json.RawMessage              `json:"data"`
		Payment *splitpayhttp.PaymentReceipt `json:"payment,omitempty"`
	}{Data: json.RawMessage(data)}
	if !json.Valid(data) {
		quoted, _ := json.Marshal(string(data))
		out.Data = quoted
	}
	if header := resp.Header.Get(splitpayhttp.HeaderPaymentResponse); header != "" {
		receipt, err := splitpayhttp.DecodePaymentReceipt(header)
		if err != nil {
			return err
		}
		out.Payment = receipt
	}
	return printJSON(cmd.OutOrStdout(), out)
}
