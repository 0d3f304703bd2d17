package splitpay

import (
	"time"
)

// ProtocolVersion is the version carried in every challenge document.
const ProtocolVersion = 1

// Network is a CAIP-2 chain identifier such as
// "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1".
type Network string

// Role identifies one of the three split recipients.
type Role string

const (
	RoleMerchant Role = "merchant"
	RoleAgent    Role = "agent"
	RolePlatform Role = "platform"
)

// Roles lists the recipients in settlement order.
var Roles = [3]Role{RoleMerchant, RoleAgent, RolePlatform}

// Shares holds the three recipient percentages. A valid set sums to exactly 100.
type Shares struct {
	Merchant uint8 `json:"merchant"`
	Agent    uint8 `json:"agent"`
	Platform uint8 `json:"platform"`
}

// Of returns the share assigned to role.
func (s Shares) Of(role Role) uint8 {
	switch role {
	case RoleMerchant:
		return s.Merchant
	case RoleAgent:
		return s.Agent
	case RolePlatform:
		return s.Platform
	}
	return 0
}

// SplitterConfig is the off-ledger record of an on-ledger splitter account.
//
// ID is the program-derived address of the splitter, computed from Authority.
// It is never accepted from a caller without checking that derivation.
type SplitterConfig struct {
	ID           string    `json:"id"`
	Merchant     string    `json:"merchantWallet"`
	Agent        string    `json:"agentWallet"`
	Platform     string    `json:"platformWallet"`
	Shares       Shares    `json:"shares"`
	Authority    string    `json:"authority"`
	OnChainReady bool      `json:"onChainReady"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Recipient returns the wallet address for role.
func (c *SplitterConfig) Recipient(role Role) string {
	switch role {
	case RoleMerchant:
		return c.Merchant
	case RoleAgent:
		return c.Agent
	case RolePlatform:
		return c.Platform
	}
	return ""
}

// RecipientAmount describes what one recipient receives from a payment.
type RecipientAmount struct {
	Role    Role   `json:"role"`
	Address string `json:"address"`
	Share   uint8  `json:"share"`
	Amount  uint64 `json:"amount"`
}

// PaymentAccept is one accepted way of paying for a resource.
type PaymentAccept struct {
	Asset             string            `json:"asset"`
	Network           Network           `json:"network"`
	PayTo             string            `json:"payTo"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	ProgramID         string            `json:"programId,omitempty"`
	Recipients        []RecipientAmount `json:"recipients,omitempty"`
	Residual          uint64            `json:"residual"`
}

// PaymentChallenge is the body of a payment-required response.
type PaymentChallenge struct {
	ProtocolVersion int             `json:"protocolVersion"`
	Error           string          `json:"error,omitempty"`
	Retryable       bool            `json:"retryable,omitempty"`
	Accepts         []PaymentAccept `json:"accepts"`
}

// RecordStatus is the lifecycle state of a PaymentRecord.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusConfirmed RecordStatus = "confirmed"
	StatusFailed    RecordStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s RecordStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// PaymentRecord is the durable result of verifying one proof. ProofID is
// globally unique.
type PaymentRecord struct {
	ID             string       `json:"id"`
	ProofID        string       `json:"proofId"`
	SplitterID     string       `json:"splitterId"`
	Payer          string       `json:"payer,omitempty"`
	TotalAmount    uint64       `json:"totalAmount"`
	MerchantAmount uint64       `json:"merchantAmount"`
	AgentAmount    uint64       `json:"agentAmount"`
	PlatformAmount uint64       `json:"platformAmount"`
	Status         RecordStatus `json:"status"`
	Resource       string       `json:"resource"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// UsageEvent records a single successful access to a protected resource.
type UsageEvent struct {
	ID         string    `json:"id"`
	SplitterID string    `json:"splitterId"`
	Resource   string    `json:"resource"`
	Payer      string    `json:"payer,omitempty"`
	ProofID    string    `json:"proofId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Stats aggregates payment records.
type Stats struct {
	TotalSplitters  int64  `json:"totalSplitters"`
	TotalPayments   int64  `json:"totalPayments"`
	ConfirmedVolume uint64 `json:"confirmedVolume"`
	TotalUsage      int64  `json:"totalUsage"`
}
