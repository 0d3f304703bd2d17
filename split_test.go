package splitpay

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSplits_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		total  uint64
		shares Shares
		want   Splits
	}{
		{
			name:   "70/20/10",
			total:  1_000_000,
			shares: Shares{Merchant: 70, Agent: 20, Platform: 10},
			want:   Splits{Total: 1_000_000, Merchant: 700_000, Agent: 200_000, Platform: 100_000},
		},
		{
			name:   "98/1/1",
			total:  1_000_000,
			shares: Shares{Merchant: 98, Agent: 1, Platform: 1},
			want:   Splits{Total: 1_000_000, Merchant: 980_000, Agent: 10_000, Platform: 10_000},
		},
		{
			name:   "residual",
			total:  10,
			shares: Shares{Merchant: 33, Agent: 33, Platform: 34},
			want:   Splits{Total: 10, Merchant: 3, Agent: 3, Platform: 3, Residual: 1},
		},
		{
			name:   "zero total",
			total:  0,
			shares: Shares{Merchant: 50, Agent: 25, Platform: 25},
			want:   Splits{},
		},
		{
			name:   "all to merchant",
			total:  12345,
			shares: Shares{Merchant: 100},
			want:   Splits{Total: 12345, Merchant: 12345},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeSplits(tt.total, tt.shares)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeSplits_Bounds(t *testing.T) {
	totals := []uint64{0, 1, 2, 3, 7, 99, 100, 101, 999, 10_000, 1_000_001, math.MaxUint64}
	for _, total := range totals {
		for m := 0; m <= 100; m += 7 {
			for a := 0; a <= 100-m; a += 3 {
				shares := Shares{Merchant: uint8(m), Agent: uint8(a), Platform: uint8(100 - m - a)}
				s, err := ComputeSplits(total, shares)
				require.NoError(t, err)

				assert.LessOrEqual(t, s.Distributed(), total)
				assert.Less(t, total-s.Distributed(), uint64(3))
				assert.Equal(t, total-s.Distributed(), s.Residual)
			}
		}
	}
}

func TestComputeSplits_LargeTotalDoesNotOverflow(t *testing.T) {
	s, err := ComputeSplits(math.MaxUint64, Shares{Merchant: 100})
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), s.Merchant)
	assert.Zero(t, s.Residual)
}

func TestComputeSplits_InvalidShares(t *testing.T) {
	cases := []Shares{
		{Merchant: 70, Agent: 20, Platform: 5},
		{Merchant: 100, Agent: 1},
		{},
		{Merchant: 255, Agent: 255, Platform: 255},
	}
	for _, shares := range cases {
		_, err := ComputeSplits(1000, shares)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidShares), "got %v", err)
		assert.False(t, IsRetryable(err))
	}
}

func TestRecipientAmounts_Order(t *testing.T) {
	cfg := &SplitterConfig{
		Merchant: "m", Agent: "a", Platform: "p",
		Shares: Shares{Merchant: 70, Agent: 20, Platform: 10},
	}
	s, err := ComputeSplits(1000, cfg.Shares)
	require.NoError(t, err)

	out := RecipientAmounts(cfg, s)
	require.Len(t, out, 3)
	assert.Equal(t, RecipientAmount{Role: RoleMerchant, Address: "m", Share: 70, Amount: 700}, out[0])
	assert.Equal(t, RecipientAmount{Role: RoleAgent, Address: "a", Share: 20, Amount: 200}, out[1])
	assert.Equal(t, RecipientAmount{Role: RolePlatform, Address: "p", Share: 10, Amount: 100}, out[2])
}
