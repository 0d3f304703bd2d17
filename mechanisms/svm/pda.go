package svm

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// DeriveSplitterAddress computes the splitter PDA owned by authority.
func DeriveSplitterAddress(authority, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(SplitterSeed), authority.Bytes()}, programID)
}

// ParseAddress parses a base58 account address.
func ParseAddress(address string) (solana.PublicKey, error) {
	if address == "" {
		return solana.PublicKey{}, fmt.Errorf("empty address")
	}
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	return pk, nil
}

// Addresses validates Solana identities and derives splitter IDs for one
// program. It implements splitpay.AddressValidator.
type Addresses struct {
	ProgramID solana.PublicKey
}

// NewAddresses returns a validator for programID.
func NewAddresses(programID solana.PublicKey) *Addresses {
	return &Addresses{ProgramID: programID}
}

func (a *Addresses) ValidateAddress(address string) error {
	_, err := ParseAddress(address)
	return err
}

func (a *Addresses) DeriveSplitterID(authority string) (string, error) {
	pk, err := ParseAddress(authority)
	if err != nil {
		return "", err
	}
	pda, _, err := DeriveSplitterAddress(pk, a.ProgramID)
	if err != nil {
		return "", fmt.Errorf("failed to derive splitter address: %w", err)
	}
	return pda.String(), nil
}
