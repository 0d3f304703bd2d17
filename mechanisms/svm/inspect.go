package svm

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/x402-foundation/splitpay"
)

// Inspector checks that a confirmed transaction pays the expected split
// through the expected splitter. It implements splitpay.ProofInspector.
//
// Either a split_payment call carrying the full amount, or token transfers
// crediting each recipient's token account with its share, is accepted.
type Inspector struct {
	programID solana.PublicKey
	mint      solana.PublicKey
}

// NewInspector creates an inspector for programID and mint.
func NewInspector(programID, mint solana.PublicKey) *Inspector {
	return &Inspector{programID: programID, mint: mint}
}

func (i *Inspector) Inspect(ltx *splitpay.LedgerTransaction, cfg *splitpay.SplitterConfig, splits splitpay.Splits) error {
	ct, ok := ltx.Raw.(*ConfirmedTransaction)
	if !ok || ct == nil || ct.Transaction == nil {
		return fmt.Errorf("transaction %s has no instruction data", ltx.Signature)
	}
	tx := ct.Transaction

	splitter, err := ParseAddress(cfg.ID)
	if err != nil {
		return err
	}
	var want [3]solana.PublicKey
	for idx, role := range splitpay.Roles {
		owner, err := ParseAddress(cfg.Recipient(role))
		if err != nil {
			return err
		}
		if want[idx], _, err = solana.FindAssociatedTokenAddress(owner, i.mint); err != nil {
			return err
		}
	}

	var credited [3]uint64
	for n, ix := range tx.Message.Instructions {
		programID, err := tx.Message.ResolveProgramIDIndex(ix.ProgramIDIndex)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", n, err)
		}
		accounts, err := resolveAccounts(tx, ix.Accounts)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", n, err)
		}

		switch {
		case programID.Equals(i.programID):
			amount, ok := DecodeSplitPaymentAmount(ix.Data)
			if !ok {
				continue
			}
			if len(accounts) < 6 {
				return fmt.Errorf("split_payment instruction %d has %d accounts", n, len(accounts))
			}
			if !accounts[0].PublicKey.Equals(splitter) {
				return fmt.Errorf("split_payment instruction %d targets splitter %s, want %s", n, accounts[0].PublicKey, splitter)
			}
			for idx := range want {
				if !accounts[3+idx].PublicKey.Equals(want[idx]) {
					return fmt.Errorf("split_payment instruction %d pays %s account %s, want %s",
						n, splitpay.Roles[idx], accounts[3+idx].PublicKey, want[idx])
				}
			}
			if amount < splits.Total {
				return fmt.Errorf("split_payment instruction %d pays %d, want %d", n, amount, splits.Total)
			}
			return nil

		case programID.Equals(solana.TokenProgramID):
			dest, amount, ok := decodeTokenTransfer(accounts, ix.Data)
			if !ok {
				continue
			}
			for idx := range want {
				if dest.Equals(want[idx]) {
					credited[idx] += amount
				}
			}
		}
	}

	for idx, role := range splitpay.Roles {
		if credited[idx] < splits.Of(role) {
			return fmt.Errorf("transaction credits %s with %d, want %d", role, credited[idx], splits.Of(role))
		}
	}
	return nil
}

// CheckSettlement checks a transaction before the payer signs it. It must
// move exactly splits through cfg's splitter, either as one split_payment
// call or as one token transfer per recipient, and may otherwise only create
// recipient token accounts or set the compute budget.
func (i *Inspector) CheckSettlement(tx *solana.Transaction, cfg *splitpay.SplitterConfig, splits splitpay.Splits) error {
	splitter, err := ParseAddress(cfg.ID)
	if err != nil {
		return err
	}
	var owners, want [3]solana.PublicKey
	for idx, role := range splitpay.Roles {
		if owners[idx], err = ParseAddress(cfg.Recipient(role)); err != nil {
			return err
		}
		if want[idx], _, err = solana.FindAssociatedTokenAddress(owners[idx], i.mint); err != nil {
			return err
		}
	}

	var (
		credited  [3]uint64
		transfers int
		atomic    bool
	)
	for n, ix := range tx.Message.Instructions {
		programID, err := tx.Message.ResolveProgramIDIndex(ix.ProgramIDIndex)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", n, err)
		}
		accounts, err := resolveAccounts(tx, ix.Accounts)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", n, err)
		}

		switch {
		case programID.Equals(computebudget.ProgramID):

		case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
			if len(accounts) < 4 || !accounts[3].PublicKey.Equals(i.mint) || !isRecipient(accounts[2].PublicKey, owners) {
				return fmt.Errorf("instruction %d creates a token account for someone else", n)
			}

		case programID.Equals(i.programID):
			amount, ok := DecodeSplitPaymentAmount(ix.Data)
			if !ok || atomic || len(accounts) < 6 {
				return fmt.Errorf("instruction %d is not a single split_payment call", n)
			}
			if !accounts[0].PublicKey.Equals(splitter) {
				return fmt.Errorf("split_payment instruction %d targets splitter %s, want %s", n, accounts[0].PublicKey, splitter)
			}
			for idx := range want {
				if !accounts[3+idx].PublicKey.Equals(want[idx]) {
					return fmt.Errorf("split_payment instruction %d pays %s account %s, want %s",
						n, splitpay.Roles[idx], accounts[3+idx].PublicKey, want[idx])
				}
			}
			if amount != splits.Total {
				return fmt.Errorf("split_payment instruction %d pays %d, want %d", n, amount, splits.Total)
			}
			atomic = true

		case programID.Equals(solana.TokenProgramID):
			dest, amount, ok := decodeTokenTransfer(accounts, ix.Data)
			if !ok {
				return fmt.Errorf("instruction %d is not a token transfer", n)
			}
			idx := recipientIndex(dest, want)
			if idx < 0 {
				return fmt.Errorf("instruction %d transfers to %s, which is not a recipient", n, dest)
			}
			credited[idx] += amount
			transfers++

		default:
			return fmt.Errorf("instruction %d calls unexpected program %s", n, programID)
		}
	}

	switch {
	case atomic && transfers == 0:
		return nil
	case atomic:
		return fmt.Errorf("transaction mixes split_payment with %d token transfers", transfers)
	case transfers == 0:
		return fmt.Errorf("transaction moves no tokens")
	}
	for idx, role := range splitpay.Roles {
		if credited[idx] != splits.Of(role) {
			return fmt.Errorf("transaction credits %s with %d, want %d", role, credited[idx], splits.Of(role))
		}
	}
	return nil
}

func isRecipient(key solana.PublicKey, owners [3]solana.PublicKey) bool {
	return recipientIndex(key, owners) >= 0
}

func recipientIndex(key solana.PublicKey, keys [3]solana.PublicKey) int {
	for idx := range keys {
		if key.Equals(keys[idx]) {
			return idx
		}
	}
	return -1
}

func resolveAccounts(tx *solana.Transaction, indexes []uint16) ([]*solana.AccountMeta, error) {
	keys := tx.Message.AccountKeys
	out := make([]*solana.AccountMeta, 0, len(indexes))
	for _, idx := range indexes {
		if int(idx) >= len(keys) {
			return nil, fmt.Errorf("account index %d out of range", idx)
		}
		out = append(out, solana.Meta(keys[idx]))
	}
	return out, nil
}

// decodeTokenTransfer returns the destination and amount of a Transfer or
// TransferChecked instruction.
func decodeTokenTransfer(accounts []*solana.AccountMeta, data []byte) (solana.PublicKey, uint64, bool) {
	inst, err := token.DecodeInstruction(accounts, data)
	if err != nil {
		return solana.PublicKey{}, 0, false
	}
	switch impl := inst.Impl.(type) {
	case *token.TransferChecked:
		if impl.Amount == nil || impl.GetDestinationAccount() == nil {
			return solana.PublicKey{}, 0, false
		}
		return impl.GetDestinationAccount().PublicKey, *impl.Amount, true
	case *token.Transfer:
		if impl.Amount == nil || impl.GetDestinationAccount() == nil {
			return solana.PublicKey{}, 0, false
		}
		return impl.GetDestinationAccount().PublicKey, *impl.Amount, true
	}
	return solana.PublicKey{}, 0, false
}
