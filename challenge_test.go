package splitpay_test

import (
	"errors"
	"testing"

	"github.com/x402-foundation/splitpay"
)

func TestIssueChallenge(t *testing.T) {
	tests := []struct {
		name   string
		shares splitpay.Shares
		want   [3]uint64
	}{
		{"70/20/10", splitpay.Shares{Merchant: 70, Agent: 20, Platform: 10}, [3]uint64{700_000, 200_000, 100_000}},
		{"98/1/1", splitpay.Shares{Merchant: 98, Agent: 1, Platform: 1}, [3]uint64{980_000, 10_000, 10_000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := splitpay.NewChallengeIssuer("usdc-mint", splitpay.WithProgramID("program"))
			ch, err := issuer.IssueChallenge("/api/demo/get-data", readyConfig(tt.shares))
			if err != nil {
				t.Fatalf("IssueChallenge failed: %v", err)
			}
			if ch.ProtocolVersion != 1 {
				t.Errorf("expected protocol version 1, got %d", ch.ProtocolVersion)
			}
			if len(ch.Accepts) != 1 {
				t.Fatalf("expected exactly one accepts entry, got %d", len(ch.Accepts))
			}

			accept := ch.Accepts[0]
			if accept.MaxAmountRequired != "1000000" {
				t.Errorf("expected amount 1000000, got %s", accept.MaxAmountRequired)
			}
			if accept.PayTo != "splitter-authority" {
				t.Errorf("expected payTo splitter, got %s", accept.PayTo)
			}
			if accept.Network != splitpay.DefaultNetwork {
				t.Errorf("unexpected network %s", accept.Network)
			}
			if len(accept.Recipients) != 3 {
				t.Fatalf("expected three recipients, got %d", len(accept.Recipients))
			}
			var sum uint64
			for i, r := range accept.Recipients {
				if r.Amount != tt.want[i] {
					t.Errorf("%s: expected %d, got %d", r.Role, tt.want[i], r.Amount)
				}
				sum += r.Amount
			}
			if sum != 1_000_000 || accept.Residual != 0 {
				t.Errorf("expected exact split, sum=%d residual=%d", sum, accept.Residual)
			}
		})
	}
}

func TestIssueChallengePricing(t *testing.T) {
	issuer := splitpay.NewChallengeIssuer("usdc-mint",
		splitpay.WithDefaultAmount(500),
		splitpay.WithPrice("/premium", 10_001))

	if got := issuer.Price("/anything"); got != 500 {
		t.Errorf("expected default price 500, got %d", got)
	}

	ch, err := issuer.IssueChallenge("/premium", readyConfig(splitpay.Shares{Merchant: 90, Agent: 7, Platform: 3}))
	if err != nil {
		t.Fatal(err)
	}
	accept := ch.Accepts[0]
	if accept.MaxAmountRequired != "10001" {
		t.Errorf("expected 10001, got %s", accept.MaxAmountRequired)
	}
	// 9000 + 700 + 300 = 10000; the leftover unit stays with the payer.
	if accept.Residual != 1 {
		t.Errorf("expected residual 1, got %d", accept.Residual)
	}
}

func TestIssueChallengeRejectsUnreadySplitter(t *testing.T) {
	issuer := splitpay.NewChallengeIssuer("usdc-mint")
	cfg := readyConfig(splitpay.Shares{Merchant: 90, Agent: 7, Platform: 3})
	cfg.OnChainReady = false

	_, err := issuer.IssueChallenge("/r", cfg)
	if !errors.Is(err, splitpay.ErrSplitterNotReady) {
		t.Fatalf("expected splitter_not_ready, got %v", err)
	}
}

func TestDenialChallenge(t *testing.T) {
	issuer := splitpay.NewChallengeIssuer("usdc-mint")
	cfg := readyConfig(splitpay.Shares{Merchant: 90, Agent: 7, Platform: 3})

	ch := issuer.DenialChallenge("/r", cfg, splitpay.NewPaymentError(splitpay.ErrCodeProofNotFound, "not final", nil))
	if ch.Error != splitpay.ErrCodeProofNotFound {
		t.Errorf("expected proof_not_found, got %s", ch.Error)
	}
	if !ch.Retryable {
		t.Error("proof_not_found should be retryable")
	}
	if len(ch.Accepts) != 1 {
		t.Errorf("denial should still offer the payment terms, got %d accepts", len(ch.Accepts))
	}

	ch = issuer.DenialChallenge("/r", cfg, errors.New("boom"))
	if ch.Error != splitpay.ErrCodePaymentFailed || ch.Retryable {
		t.Errorf("unexpected denial for plain error: %+v", ch)
	}
}
