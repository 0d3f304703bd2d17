package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	solana "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	splitpayhttp "github.com/x402-foundation/splitpay/http"
	"github.com/x402-foundation/splitpay/internal/logging"
	"github.com/x402-foundation/splitpay/mechanisms/svm"
)

type baseConfiguration struct {
	APIURL    string
	RPCURL    string
	ProgramID string
	LogLevel  string

	logger *slog.Logger
}

func (c *baseConfiguration) addConfigurationFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.APIURL, "api", envOr("SPLITPAY_API_URL", splitpayhttp.DefaultAPIURL), "splitpay server base URL")
	cmd.PersistentFlags().StringVar(&c.RPCURL, "rpc", envOr("SOLANA_RPC_URL", svm.DevnetRPCURL), "Solana RPC endpoint")
	cmd.PersistentFlags().StringVar(&c.ProgramID, "program", envOr("SPLITTER_PROGRAM_ID", svm.DefaultProgramAddress), "splitter program ID")
	cmd.PersistentFlags().StringVar(&c.LogLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level (debug, info, warn, error)")
}

func (c *baseConfiguration) programID() (solana.PublicKey, error) {
	pk, err := svm.ParseAddress(c.ProgramID)
	if err != nil {
		return pk, fmt.Errorf("invalid --program: %w", err)
	}
	return pk, nil
}

func (c *baseConfiguration) apiClient() *splitpayhttp.APIClient {
	return splitpayhttp.NewAPIClient(&splitpayhttp.APIConfig{URL: c.APIURL})
}

func newBaseCmd() *cobra.Command {
	config := &baseConfiguration{}
	baseCmd := &cobra.Command{
		Use:           "splitpay",
		Short:         "The splitpay caller CLI",
		Long:          `Pays for split-payment protected resources and prepares splitter transactions for the splitter authority to sign.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, _, err := logging.New("splitpay", logging.Config{Level: config.LogLevel, Format: "text"})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			config.logger = logger
			return nil
		},
	}
	config.addConfigurationFlags(baseCmd)

	baseCmd.AddCommand(newGetDataCmd(config))
	baseCmd.AddCommand(newSplitterCmd(config))
	return baseCmd
}

// envOr loads .env once and returns the value of key or def.
func envOr(key, def string) string {
	loadDotEnv()
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var dotEnvLoaded bool

func loadDotEnv() {
	if dotEnvLoaded {
		return
	}
	dotEnvLoaded = true
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: failed to load .env:", err)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
