package svm

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	"github.com/x402-foundation/splitpay"
)

// InspectSetup checks that ltx ran initialize_splitter or update_shares on
// cfg's splitter, signed by cfg's authority, with cfg's shares. An
// initialization must also name cfg's recipients in program order.
// It implements splitpay.SetupInspector.
func (a *Addresses) InspectSetup(ltx *splitpay.LedgerTransaction, cfg *splitpay.SplitterConfig) error {
	ct, ok := ltx.Raw.(*ConfirmedTransaction)
	if !ok || ct == nil || ct.Transaction == nil {
		return fmt.Errorf("transaction %s has no instruction data", ltx.Signature)
	}
	tx := ct.Transaction

	splitter, err := ParseAddress(cfg.ID)
	if err != nil {
		return err
	}
	authority, err := ParseAddress(cfg.Authority)
	if err != nil {
		return err
	}

	for n, ix := range tx.Message.Instructions {
		programID, err := tx.Message.ResolveProgramIDIndex(ix.ProgramIDIndex)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", n, err)
		}
		if !programID.Equals(a.ProgramID) {
			continue
		}
		kind, shares, ok := DecodeSharesArgs(ix.Data)
		if !ok {
			continue
		}
		accounts, err := resolveAccounts(tx, ix.Accounts)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", n, err)
		}
		if len(accounts) < 2 || !accounts[0].PublicKey.Equals(splitter) {
			continue
		}

		if !accounts[1].PublicKey.Equals(authority) || !tx.Message.IsSigner(authority) {
			return fmt.Errorf("instruction %d is not signed by splitter authority %s", n, authority)
		}
		if shares != cfg.Shares {
			return fmt.Errorf("instruction %d sets shares %d/%d/%d, want %d/%d/%d", n,
				shares.Merchant, shares.Agent, shares.Platform,
				cfg.Shares.Merchant, cfg.Shares.Agent, cfg.Shares.Platform)
		}
		if kind == InitializeSplitterDiscriminator {
			if err := checkInitRecipients(accounts, cfg); err != nil {
				return fmt.Errorf("instruction %d: %w", n, err)
			}
		}
		return nil
	}
	return fmt.Errorf("transaction %s does not initialize or update splitter %s", ltx.Signature, splitter)
}

func checkInitRecipients(accounts []*solana.AccountMeta, cfg *splitpay.SplitterConfig) error {
	if len(accounts) < 5 {
		return fmt.Errorf("initialize_splitter has %d accounts", len(accounts))
	}
	for idx, role := range splitpay.Roles {
		want, err := ParseAddress(cfg.Recipient(role))
		if err != nil {
			return err
		}
		if !accounts[2+idx].PublicKey.Equals(want) {
			return fmt.Errorf("initialize_splitter names %s %s, want %s", role, accounts[2+idx].PublicKey, want)
		}
	}
	return nil
}
