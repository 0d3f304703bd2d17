package http

import (
	"fmt"

	"github.com/x402-foundation/splitpay"
	"github.com/x402-foundation/splitpay/mechanisms/svm"
)

// BuildSplitTxRequest asks the server for an unsigned settlement transaction.
type BuildSplitTxRequest struct {
	SplitterID    string `json:"splitterId"`
	PayerIdentity string `json:"payerIdentity"`
	Amount        uint64 `json:"amount"`
}

// SplitEntry is one recipient's part of a built transaction.
type SplitEntry struct {
	Address    string `json:"address"`
	Amount     uint64 `json:"amount"`
	Percentage uint8  `json:"percentage"`
}

// BuildSplitTxResponse carries the encoded unsigned transaction and the split
// it pays, so the payer can check it before signing.
type BuildSplitTxResponse struct {
	Transaction     string                       `json:"transaction"`
	Splits          map[splitpay.Role]SplitEntry `json:"splits"`
	Mode            svm.SettlementMode           `json:"mode"`
	Residual        uint64                       `json:"residual"`
	MissingAccounts []string                     `json:"missingAccounts,omitempty"`
}

// NewBuildSplitTxResponse renders a builder result.
func NewBuildSplitTxResponse(res *svm.BuildResult) (*BuildSplitTxResponse, error) {
	encoded, err := res.Transaction.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	splits := make(map[splitpay.Role]SplitEntry, len(res.Recipients))
	for _, r := range res.Recipients {
		splits[r.Role] = SplitEntry{Address: r.Address, Amount: r.Amount, Percentage: r.Share}
	}
	return &BuildSplitTxResponse{
		Transaction:     encoded,
		Splits:          splits,
		Mode:            res.Transaction.Mode,
		Residual:        res.Splits.Residual,
		MissingAccounts: res.MissingAccounts,
	}, nil
}

// Recipients returns the splits in merchant, agent, platform order.
func (r *BuildSplitTxResponse) Recipients() []splitpay.RecipientAmount {
	out := make([]splitpay.RecipientAmount, 0, len(r.Splits))
	for _, role := range []splitpay.Role{splitpay.RoleMerchant, splitpay.RoleAgent, splitpay.RolePlatform} {
		if e, ok := r.Splits[role]; ok {
			out = append(out, splitpay.RecipientAmount{Role: role, Address: e.Address, Share: e.Percentage, Amount: e.Amount})
		}
	}
	return out
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Network   string `json:"network"`
	ProgramID string `json:"programId"`
	Mode      string `json:"mode"`
}
