package svm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// UnsignedTransactionVersion is the envelope format version.
const UnsignedTransactionVersion = 1

// SettlementMode selects how the payment is split on chain.
type SettlementMode string

const (
	// ModeAtomic calls the splitter program once; all three transfers
	// succeed or none do.
	ModeAtomic SettlementMode = "atomic"
	// ModeTransfers emits three independent SPL transfers. They still share
	// one transaction, but the split program never sees the payment.
	ModeTransfers SettlementMode = "transfers"
)

// ParseSettlementMode validates a mode name. Empty means ModeAtomic.
func ParseSettlementMode(s string) (SettlementMode, error) {
	switch SettlementMode(s) {
	case "", ModeAtomic:
		return ModeAtomic, nil
	case ModeTransfers:
		return ModeTransfers, nil
	}
	return "", fmt.Errorf("unknown settlement mode %q", s)
}

// AccountEnvelope is an account reference of an instruction.
type AccountEnvelope struct {
	PublicKey  string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// InstructionEnvelope is one instruction of an unsigned transaction.
type InstructionEnvelope struct {
	ProgramID string            `json:"programId"`
	Accounts  []AccountEnvelope `json:"accounts"`
	Data      []byte            `json:"data"`
}

// UnsignedTransaction is a settlement transaction without signatures, fee
// payer or recent blockhash. The signer adds those in Assemble, so the
// envelope can be relayed without binding it to a point in time.
type UnsignedTransaction struct {
	Version      int                   `json:"version"`
	Payer        string                `json:"payer"`
	Mode         SettlementMode        `json:"mode"`
	Instructions []InstructionEnvelope `json:"instructions"`
}

// NewUnsignedTransaction captures instructions into an envelope.
func NewUnsignedTransaction(payer solana.PublicKey, mode SettlementMode, instructions ...solana.Instruction) (*UnsignedTransaction, error) {
	tx := &UnsignedTransaction{
		Version: UnsignedTransactionVersion,
		Payer:   payer.String(),
		Mode:    mode,
	}
	for i, ix := range instructions {
		data, err := ix.Data()
		if err != nil {
			return nil, fmt.Errorf("failed to read instruction %d data: %w", i, err)
		}
		env := InstructionEnvelope{
			ProgramID: ix.ProgramID().String(),
			Data:      data,
		}
		for _, meta := range ix.Accounts() {
			env.Accounts = append(env.Accounts, AccountEnvelope{
				PublicKey:  meta.PublicKey.String(),
				IsSigner:   meta.IsSigner,
				IsWritable: meta.IsWritable,
			})
		}
		tx.Instructions = append(tx.Instructions, env)
	}
	return tx, nil
}

// Encode returns the base64 wire form.
func (u *UnsignedTransaction) Encode() (string, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("failed to marshal unsigned transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeUnsignedTransaction parses the base64 wire form.
func DecodeUnsignedTransaction(encoded string) (*UnsignedTransaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 transaction: %w", err)
	}
	var u UnsignedTransaction
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal unsigned transaction: %w", err)
	}
	if u.Version != UnsignedTransactionVersion {
		return nil, fmt.Errorf("unsupported unsigned transaction version %d", u.Version)
	}
	if len(u.Instructions) == 0 {
		return nil, fmt.Errorf("unsigned transaction has no instructions")
	}
	return &u, nil
}

// SolanaInstructions converts the envelope back to instructions.
func (u *UnsignedTransaction) SolanaInstructions() ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(u.Instructions))
	for i, env := range u.Instructions {
		programID, err := ParseAddress(env.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		metas := make(solana.AccountMetaSlice, 0, len(env.Accounts))
		for _, acc := range env.Accounts {
			pk, err := ParseAddress(acc.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}
			metas = append(metas, solana.NewAccountMeta(pk, acc.IsWritable, acc.IsSigner))
		}
		out = append(out, solana.NewInstruction(programID, metas, env.Data))
	}
	return out, nil
}

// Assemble binds the envelope to a blockhash and fee payer, producing a
// transaction ready to be signed.
func (u *UnsignedTransaction) Assemble(recentBlockhash solana.Hash, feePayer solana.PublicKey) (*solana.Transaction, error) {
	instructions, err := u.SolanaInstructions()
	if err != nil {
		return nil, err
	}
	builder := solana.NewTransactionBuilder().
		SetRecentBlockHash(recentBlockhash).
		SetFeePayer(feePayer)
	for _, ix := range instructions {
		builder = builder.AddInstruction(ix)
	}
	tx, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}
