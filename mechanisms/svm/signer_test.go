package svm

import (
	"context"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-foundation/splitpay"
)

func TestWalletSignerSignsSettlementTransaction(t *testing.T) {
	wallet := solana.NewWallet()
	signer, err := NewWalletSignerFromPrivateKey(wallet.PrivateKey.String())
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey(), signer.Address())

	p := newParticipants(t, splitpay.Shares{Merchant: 90, Agent: 7, Platform: 3})
	p.payer = signer.Address()
	res, err := NewTransactionBuilder(&fakeAccounts{}).BuildSettlementTransaction(context.Background(), p.cfg, p.payer.String(), 10)
	require.NoError(t, err)
	tx, err := res.Transaction.Assemble(solana.Hash{7}, signer.Address())
	require.NoError(t, err)

	require.NoError(t, signer.SignTransaction(context.Background(), tx))
	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())
}

func TestWalletSignerValidation(t *testing.T) {
	_, err := NewWalletSigner(solana.PublicKey{}, func(context.Context, *solana.Transaction) error { return nil })
	assert.Error(t, err)

	_, err = NewWalletSigner(solana.NewWallet().PublicKey(), nil)
	assert.Error(t, err)

	_, err = NewWalletSignerFromPrivateKey("invalid")
	assert.Error(t, err)
}

func TestWalletSignerRejectsForeignTransaction(t *testing.T) {
	signer, err := NewWalletSignerFromPrivateKey(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	p := newParticipants(t, splitpay.Shares{Merchant: 90, Agent: 7, Platform: 3})
	res, err := NewTransactionBuilder(&fakeAccounts{}).BuildSettlementTransaction(context.Background(), p.cfg, p.payer.String(), 10)
	require.NoError(t, err)
	tx, err := res.Transaction.Assemble(solana.Hash{7}, p.payer)
	require.NoError(t, err)

	assert.Error(t, signer.SignTransaction(context.Background(), tx))
}
