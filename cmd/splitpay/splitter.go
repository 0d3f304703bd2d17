package main

import (
	"fmt"
	"strconv"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/x402-foundation/splitpay"
	"github.com/x402-foundation/splitpay/mechanisms/svm"
)

func newSplitterCmd(baseConfig *baseConfiguration) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "splitter",
		Short: "Manages splitter accounts",
	}
	cmd.AddCommand(newDeriveCmd(baseConfig))
	cmd.AddCommand(newInitTxCmd(baseConfig))
	cmd.AddCommand(newUpdateTxCmd(baseConfig))
	cmd.AddCommand(newCreateCmd(baseConfig))
	cmd.AddCommand(newConfirmCmd(baseConfig))
	cmd.AddCommand(newShowCmd(baseConfig))
	return cmd
}

// parseShares reads "merchant,agent,platform" percentages.
func parseShares(s string) (splitpay.Shares, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return splitpay.Shares{}, fmt.Errorf("shares must be merchant,agent,platform, got %q", s)
	}
	var vals [3]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return splitpay.Shares{}, fmt.Errorf("invalid share %q: %w", p, err)
		}
		vals[i] = uint8(v)
	}
	shares := splitpay.Shares{Merchant: vals[0], Agent: vals[1], Platform: vals[2]}
	if err := splitpay.ValidateShares(shares); err != nil {
		return splitpay.Shares{}, err
	}
	return shares, nil
}

func newDeriveCmd(baseConfig *baseConfiguration) *cobra.Command {
	var authority string
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Prints the splitter address of an authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			programID, err := baseConfig.programID()
			if err != nil {
				return err
			}
			auth, err := svm.ParseAddress(authority)
			if err != nil {
				return err
			}
			pda, bump, err := svm.DeriveSplitterAddress(auth, programID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"splitterPDA": pda.String(),
				"bump":        bump,
				"authority":   auth.String(),
				"programId":   programID.String(),
			})
		},
	}
	cmd.Flags().StringVarP(&authority, "authority", "a", "", "splitter authority wallet")
	_ = cmd.MarkFlagRequired("authority")
	return cmd
}

type splitterTxOutput struct {
	SplitterID  string `json:"splitterPDA"`
	Transaction string `json:"transaction"`
}

func encodeInstruction(payer solana.PublicKey, splitter solana.PublicKey, ix solana.Instruction) (*splitterTxOutput, error) {
	tx, err := svm.NewUnsignedTransaction(payer, svm.ModeAtomic, ix)
	if err != nil {
		return nil, err
	}
	encoded, err := tx.Encode()
	if err != nil {
		return nil, err
	}
	return &splitterTxOutput{SplitterID: splitter.String(), Transaction: encoded}, nil
}

type initTxConfiguration struct {
	Authority string
	Merchant  string
	Agent     string
	Platform  string
	Shares    string
}

func (c *initTxConfiguration) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.Authority, "authority", "a", "", "splitter authority wallet")
	cmd.Flags().StringVar(&c.Merchant, "merchant", "", "merchant wallet")
	cmd.Flags().StringVar(&c.Agent, "agent", "", "agent wallet")
	cmd.Flags().StringVar(&c.Platform, "platform", "", "platform wallet")
	cmd.Flags().StringVar(&c.Shares, "shares", "", "merchant,agent,platform percentages summing to 100")
	for _, name := range []string{"authority", "merchant", "agent", "platform", "shares"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func (c *initTxConfiguration) parse() (auth, merchant, agent, platform solana.PublicKey, shares splitpay.Shares, err error) {
	if auth, err = svm.ParseAddress(c.Authority); err != nil {
		return
	}
	if merchant, err = svm.ParseAddress(c.Merchant); err != nil {
		return
	}
	if agent, err = svm.ParseAddress(c.Agent); err != nil {
		return
	}
	if platform, err = svm.ParseAddress(c.Platform); err != nil {
		return
	}
	shares, err = parseShares(c.Shares)
	return
}

func newInitTxCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &initTxConfiguration{}
	cmd := &cobra.Command{
		Use:   "init-tx",
		Short: "Prints an unsigned initialize_splitter transaction",
		Long:  `Prints an unsigned initialize_splitter transaction for the authority to sign and submit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			programID, err := baseConfig.programID()
			if err != nil {
				return err
			}
			auth, merchant, agent, platform, shares, err := config.parse()
			if err != nil {
				return err
			}
			splitter, _, err := svm.DeriveSplitterAddress(auth, programID)
			if err != nil {
				return err
			}
			ix, err := svm.NewInitializeSplitterInstruction(programID, auth, merchant, agent, platform, shares)
			if err != nil {
				return err
			}
			out, err := encodeInstruction(auth, splitter, ix)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	config.addFlags(cmd)
	return cmd
}

func newUpdateTxCmd(baseConfig *baseConfiguration) *cobra.Command {
	var authority, sharesFlag string
	cmd := &cobra.Command{
		Use:   "update-tx",
		Short: "Prints an unsigned update_shares transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			programID, err := baseConfig.programID()
			if err != nil {
				return err
			}
			auth, err := svm.ParseAddress(authority)
			if err != nil {
				return err
			}
			shares, err := parseShares(sharesFlag)
			if err != nil {
				return err
			}
			splitter, _, err := svm.DeriveSplitterAddress(auth, programID)
			if err != nil {
				return err
			}
			ix, err := svm.NewUpdateSharesInstruction(programID, auth, shares)
			if err != nil {
				return err
			}
			out, err := encodeInstruction(auth, splitter, ix)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&authority, "authority", "a", "", "splitter authority wallet")
	cmd.Flags().StringVar(&sharesFlag, "shares", "", "merchant,agent,platform percentages summing to 100")
	_ = cmd.MarkFlagRequired("authority")
	_ = cmd.MarkFlagRequired("shares")
	return cmd
}

func newCreateCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &initTxConfiguration{}
	var signature string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Registers a splitter with the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			programID, err := baseConfig.programID()
			if err != nil {
				return err
			}
			auth, merchant, agent, platform, shares, err := config.parse()
			if err != nil {
				return err
			}
			splitter, _, err := svm.DeriveSplitterAddress(auth, programID)
			if err != nil {
				return err
			}
			cfg, err := baseConfig.apiClient().CreateSplitter(cmd.Context(), splitpay.CreateSplitterRequest{
				ID:                      splitter.String(),
				Merchant:                merchant.String(),
				Agent:                   agent.String(),
				Platform:                platform.String(),
				Shares:                  shares,
				Authority:               auth.String(),
				InitializationSignature: signature,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
	config.addFlags(cmd)
	cmd.Flags().StringVar(&signature, "init-signature", "", "signature of the confirmed initialize_splitter transaction")
	return cmd
}

func newConfirmCmd(baseConfig *baseConfiguration) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <splitter> <signature>",
		Short: "Marks a splitter ready once its initialization is confirmed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseConfig.apiClient().ConfirmInitialization(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func newShowCmd(baseConfig *baseConfiguration) *cobra.Command {
	var fromChain bool
	cmd := &cobra.Command{
		Use:   "show <splitter>",
		Short: "Prints a splitter configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fromChain {
				cfg, err := baseConfig.apiClient().GetSplitter(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			id, err := svm.ParseAddress(args[0])
			if err != nil {
				return err
			}
			acc, err := svm.NewRPCLedger(baseConfig.RPCURL).FetchSplitter(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acc.Config(id.String()))
		},
	}
	cmd.Flags().BoolVar(&fromChain, "from-chain", false, "read the on-chain splitter account instead of the server")
	return cmd
}
