package svm

import (
	"context"
	"errors"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x402-foundation/splitpay"
)

// RPCLedger reads and writes the Solana ledger over JSON-RPC. It implements
// splitpay.TransactionSource and AccountChecker.
type RPCLedger struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

// NewRPCLedger creates a ledger client for rpcURL at confirmed commitment.
func NewRPCLedger(rpcURL string) *RPCLedger {
	return &RPCLedger{
		client:     rpc.New(rpcURL),
		commitment: rpc.CommitmentConfirmed,
	}
}

// Client exposes the underlying RPC client.
func (l *RPCLedger) Client() *rpc.Client {
	return l.client
}

// GetTransaction looks up a transaction by signature. A transaction the
// ledger does not know yet is reported with Found false and no error.
func (l *RPCLedger) GetTransaction(ctx context.Context, signature string) (*splitpay.LedgerTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidAddress, "invalid transaction signature", err)
	}

	maxVersion := uint64(0)
	out, err := l.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     l.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return &splitpay.LedgerTransaction{Signature: signature}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getTransaction %s: %w", signature, err)
	}
	if out == nil || out.Transaction == nil {
		return &splitpay.LedgerTransaction{Signature: signature}, nil
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", signature, err)
	}

	result := &splitpay.LedgerTransaction{
		Signature: signature,
		Found:     true,
		Raw:       &ConfirmedTransaction{Slot: out.Slot, Transaction: tx, Meta: out.Meta},
	}
	if out.Meta != nil && out.Meta.Err != nil {
		result.Err = out.Meta.Err
	}
	return result, nil
}

// ConfirmedTransaction is the Raw payload of a LedgerTransaction returned by
// RPCLedger.
type ConfirmedTransaction struct {
	Slot        uint64
	Transaction *solana.Transaction
	Meta        *rpc.TransactionMeta
}

// AccountExists reports whether address holds an account.
func (l *RPCLedger) AccountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	out, err := l.client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: l.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getAccountInfo %s: %w", address, err)
	}
	return out != nil && out.Value != nil, nil
}

// FetchSplitter reads and decodes the on-chain splitter account at id.
func (l *RPCLedger) FetchSplitter(ctx context.Context, id solana.PublicKey) (*SplitterAccount, error) {
	out, err := l.client.GetAccountInfoWithOpts(ctx, id, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: l.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeSplitterNotReady, "splitter account does not exist",
			map[string]interface{}{"splitter": id.String()})
	}
	if err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeLedgerUnavailable, "failed to fetch splitter account", err)
	}
	if out == nil || out.Value == nil {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeSplitterNotReady, "splitter account does not exist",
			map[string]interface{}{"splitter": id.String()})
	}
	return DecodeSplitterAccount(out.Value.Data.GetBinary())
}

// LatestBlockhash returns a recent blockhash for transaction assembly.
func (l *RPCLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// Submit broadcasts a signed transaction and returns its signature.
func (l *RPCLedger) Submit(ctx context.Context, tx *solana.Transaction) (string, error) {
	sig, err := l.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: l.commitment,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig.String(), nil
}

// SignatureStatus reports whether signature reached confirmed commitment and,
// if it did, the execution error.
func (l *RPCLedger) SignatureStatus(ctx context.Context, signature string) (confirmed bool, txErr interface{}, err error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, nil, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidAddress, "invalid transaction signature", err)
	}
	out, err := l.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, nil, fmt.Errorf("getSignatureStatuses %s: %w", signature, err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil, nil
	}
	st := out.Value[0]
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return true, st.Err, nil
	}
	return false, nil, nil
}
