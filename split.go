package splitpay

import (
	"fmt"
	"math/bits"
)

// Splits is the result of dividing a total among the three recipients.
// Residual is the floor-rounding remainder that no recipient receives.
type Splits struct {
	Total    uint64 `json:"total"`
	Merchant uint64 `json:"merchant"`
	Agent    uint64 `json:"agent"`
	Platform uint64 `json:"platform"`
	Residual uint64 `json:"residual"`
}

// Of returns the amount assigned to role.
func (s Splits) Of(role Role) uint64 {
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

// Distributed returns the sum of the three recipient amounts.
func (s Splits) Distributed() uint64 {
	return s.Merchant + s.Agent + s.Platform
}

// ValidateShares returns ErrInvalidShares unless the percentages sum to 100.
func ValidateShares(shares Shares) error {
	sum := uint(shares.Merchant) + uint(shares.Agent) + uint(shares.Platform)
	if sum != 100 {
		return NewPaymentError(ErrCodeInvalidShares,
			fmt.Sprintf("shares must sum to 100, got %d", sum),
			map[string]interface{}{"merchant": shares.Merchant, "agent": shares.Agent, "platform": shares.Platform})
	}
	return nil
}

// ComputeSplits divides total by the given percentages, rounding each
// amount down. The residual is reported, never distributed.
func ComputeSplits(total uint64, shares Shares) (Splits, error) {
	if err := ValidateShares(shares); err != nil {
		return Splits{}, err
	}

	s := Splits{
		Total:    total,
		Merchant: percentOf(total, shares.Merchant),
		Agent:    percentOf(total, shares.Agent),
		Platform: percentOf(total, shares.Platform),
	}
	s.Residual = total - s.Distributed()
	return s, nil
}

// percentOf computes floor(total*pct/100) without overflowing uint64.
// pct is at most 100, so the high word of the product is always below the divisor.
func percentOf(total uint64, pct uint8) uint64 {
	hi, lo := bits.Mul64(total, uint64(pct))
	q, _ := bits.Div64(hi, lo, 100)
	return q
}

// RecipientAmounts renders splits for cfg in settlement order.
func RecipientAmounts(cfg *SplitterConfig, splits Splits) []RecipientAmount {
	out := make([]RecipientAmount, 0, len(Roles))
	for _, role := range Roles {
		out = append(out, RecipientAmount{
			Role:    role,
			Address: cfg.Recipient(role),
			Share:   cfg.Shares.Of(role),
			Amount:  splits.Of(role),
		})
	}
	return out
}
