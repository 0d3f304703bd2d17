package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// TransactionSigner signs settlement transactions for the paying wallet.
type TransactionSigner interface {
	Address() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// SignTransactionFunc defines the callback used to sign Solana transactions.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// WalletSigner implements TransactionSigner using a signing callback, so
// keys can live in a wallet or HSM outside the process.
type WalletSigner struct {
	publicKey       solana.PublicKey
	signTransaction SignTransactionFunc
}

// NewWalletSigner creates a signer from a public key and signing callback.
func NewWalletSigner(publicKey solana.PublicKey, signFunc SignTransactionFunc) (*WalletSigner, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}
	return &WalletSigner{
		publicKey:       publicKey,
		signTransaction: signFunc,
	}, nil
}

// NewWalletSignerFromPrivateKey creates a signer from a base58-encoded
// private key.
//
// Example:
//
//	signer, err := svm.NewWalletSignerFromPrivateKey(os.Getenv("PAYER_PRIVATE_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewWalletSignerFromPrivateKey(privateKeyBase58 string) (*WalletSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	signFunc := func(ctx context.Context, tx *solana.Transaction) error {
		return signWithPrivateKey(ctx, privateKey, tx)
	}
	return NewWalletSigner(privateKey.PublicKey(), signFunc)
}

// Address returns the Solana public key of the signer.
func (s *WalletSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction adds the signer's signature at its account index.
func (s *WalletSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.signTransaction(ctx, tx)
}

func signWithPrivateKey(_ context.Context, privateKey solana.PrivateKey, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}
	if int(accountIndex) >= int(tx.Message.Header.NumRequiredSignatures) {
		return fmt.Errorf("signer %s is not a required signer of the transaction", privateKey.PublicKey())
	}

	if len(tx.Signatures) <= int(accountIndex) {
		grown := make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
		copy(grown, tx.Signatures)
		tx.Signatures = grown
	}
	tx.Signatures[accountIndex] = signature
	return nil
}
