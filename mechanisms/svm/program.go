package svm

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"

	"github.com/x402-foundation/splitpay"
)

// Discriminator is the 8-byte prefix the splitter program uses to tag
// instructions and accounts.
type Discriminator [8]byte

func sighash(namespace, name string) Discriminator {
	var d Discriminator
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	copy(d[:], sum[:8])
	return d
}

var (
	InitializeSplitterDiscriminator = sighash("global", "initialize_splitter")
	SplitPaymentDiscriminator       = sighash("global", "split_payment")
	UpdateSharesDiscriminator       = sighash("global", "update_shares")
	SplitterAccountDiscriminator    = sighash("account", "Splitter")
)

type sharesArgs struct {
	MerchantShare uint8
	AgentShare    uint8
	PlatformShare uint8
}

type splitPaymentArgs struct {
	Amount uint64
}

func encodeInstructionData(d Discriminator, args interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(d[:], false); err != nil {
		return nil, err
	}
	if err := enc.Encode(args); err != nil {
		return nil, fmt.Errorf("failed to encode instruction args: %w", err)
	}
	return buf.Bytes(), nil
}

// SplitPaymentAccounts lists the accounts of a split_payment instruction in
// program order.
type SplitPaymentAccounts struct {
	Splitter             solana.PublicKey
	Payer                solana.PublicKey
	PayerTokenAccount    solana.PublicKey
	MerchantTokenAccount solana.PublicKey
	AgentTokenAccount    solana.PublicKey
	PlatformTokenAccount solana.PublicKey
	TokenProgram         solana.PublicKey
}

// NewSplitPaymentInstruction builds the atomic three-way transfer instruction.
func NewSplitPaymentInstruction(programID solana.PublicKey, accounts SplitPaymentAccounts, amount uint64) (solana.Instruction, error) {
	data, err := encodeInstructionData(SplitPaymentDiscriminator, splitPaymentArgs{Amount: amount})
	if err != nil {
		return nil, err
	}
	tokenProgram := accounts.TokenProgram
	if tokenProgram.IsZero() {
		tokenProgram = solana.TokenProgramID
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.Splitter),
		solana.Meta(accounts.Payer).WRITE().SIGNER(),
		solana.Meta(accounts.PayerTokenAccount).WRITE(),
		solana.Meta(accounts.MerchantTokenAccount).WRITE(),
		solana.Meta(accounts.AgentTokenAccount).WRITE(),
		solana.Meta(accounts.PlatformTokenAccount).WRITE(),
		solana.Meta(tokenProgram),
	}
	return solana.NewInstruction(programID, metas, data), nil
}

// DecodeSplitPaymentAmount returns the amount argument of split_payment
// instruction data, or false if data is not a split_payment call.
func DecodeSplitPaymentAmount(data []byte) (uint64, bool) {
	if len(data) < 8 || !bytes.Equal(data[:8], SplitPaymentDiscriminator[:]) {
		return 0, false
	}
	var args splitPaymentArgs
	if err := bin.NewBorshDecoder(data[8:]).Decode(&args); err != nil {
		return 0, false
	}
	return args.Amount, true
}

// DecodeSharesArgs returns the discriminator and shares argument of
// initialize_splitter or update_shares instruction data. It reports false
// for any other instruction.
func DecodeSharesArgs(data []byte) (Discriminator, splitpay.Shares, bool) {
	var d Discriminator
	if len(data) < 8 {
		return d, splitpay.Shares{}, false
	}
	copy(d[:], data[:8])
	if d != InitializeSplitterDiscriminator && d != UpdateSharesDiscriminator {
		return d, splitpay.Shares{}, false
	}
	var args sharesArgs
	if err := bin.NewBorshDecoder(data[8:]).Decode(&args); err != nil {
		return d, splitpay.Shares{}, false
	}
	return d, splitpay.Shares{Merchant: args.MerchantShare, Agent: args.AgentShare, Platform: args.PlatformShare}, true
}

// NewInitializeSplitterInstruction builds the instruction that creates the
// splitter account for authority.
func NewInitializeSplitterInstruction(programID, authority, merchant, agent, platform solana.PublicKey, shares splitpay.Shares) (solana.Instruction, error) {
	if err := splitpay.ValidateShares(shares); err != nil {
		return nil, err
	}
	splitter, _, err := DeriveSplitterAddress(authority, programID)
	if err != nil {
		return nil, err
	}
	data, err := encodeInstructionData(InitializeSplitterDiscriminator, sharesArgs{
		MerchantShare: shares.Merchant,
		AgentShare:    shares.Agent,
		PlatformShare: shares.Platform,
	})
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(splitter).WRITE(),
		solana.Meta(authority).WRITE().SIGNER(),
		solana.Meta(merchant),
		solana.Meta(agent),
		solana.Meta(platform),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(programID, metas, data), nil
}

// NewUpdateSharesInstruction builds the instruction that changes the
// percentages of authority's splitter.
func NewUpdateSharesInstruction(programID, authority solana.PublicKey, shares splitpay.Shares) (solana.Instruction, error) {
	if err := splitpay.ValidateShares(shares); err != nil {
		return nil, err
	}
	splitter, _, err := DeriveSplitterAddress(authority, programID)
	if err != nil {
		return nil, err
	}
	data, err := encodeInstructionData(UpdateSharesDiscriminator, sharesArgs{
		MerchantShare: shares.Merchant,
		AgentShare:    shares.Agent,
		PlatformShare: shares.Platform,
	})
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(splitter).WRITE(),
		solana.Meta(authority).SIGNER(),
	}
	return solana.NewInstruction(programID, metas, data), nil
}

// SplitterAccount is the on-chain state of a splitter.
type SplitterAccount struct {
	Merchant      solana.PublicKey
	Agent         solana.PublicKey
	Platform      solana.PublicKey
	MerchantShare uint8
	AgentShare    uint8
	PlatformShare uint8
	Authority     solana.PublicKey
	Bump          uint8
}

// Shares returns the account's percentages.
func (a *SplitterAccount) Shares() splitpay.Shares {
	return splitpay.Shares{Merchant: a.MerchantShare, Agent: a.AgentShare, Platform: a.PlatformShare}
}

// Config renders the account as a ready splitter configuration with the given ID.
func (a *SplitterAccount) Config(id string) *splitpay.SplitterConfig {
	return &splitpay.SplitterConfig{
		ID:           id,
		Merchant:     a.Merchant.String(),
		Agent:        a.Agent.String(),
		Platform:     a.Platform.String(),
		Shares:       a.Shares(),
		Authority:    a.Authority.String(),
		OnChainReady: true,
	}
}

// DecodeSplitterAccount parses raw account data, checking the account tag.
func DecodeSplitterAccount(data []byte) (*SplitterAccount, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("splitter account data too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], SplitterAccountDiscriminator[:]) {
		return nil, fmt.Errorf("account is not a splitter")
	}
	var acc SplitterAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&acc); err != nil {
		return nil, fmt.Errorf("failed to decode splitter account: %w", err)
	}
	return &acc, nil
}

// EncodeSplitterAccount produces raw account data for acc. The program
// writes this layout; it is used to build fixtures.
func EncodeSplitterAccount(acc *SplitterAccount) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(SplitterAccountDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.Encode(acc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
