package splitpay_test

import (
	"context"
	"errors"
	"testing"

	"github.com/x402-foundation/splitpay"
	"github.com/x402-foundation/splitpay/store/memory"
)

type coordinatorFixture struct {
	coordinator *splitpay.Coordinator
	store       *memory.Store
	ledger      *mockLedger
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	store := memory.New()
	ledger := newMockLedger()
	gw := splitpay.NewConfigGateway(store, mockAddresses{}, ledger)
	if err := store.Put(context.Background(), readyConfig(splitpay.Shares{Merchant: 70, Agent: 20, Platform: 10})); err != nil {
		t.Fatal(err)
	}
	issuer := splitpay.NewChallengeIssuer("usdc-mint")
	verifier := splitpay.NewProofVerifier(store, gw, ledger)
	return &coordinatorFixture{
		coordinator: splitpay.NewCoordinator(gw, issuer, verifier, store),
		store:       store,
		ledger:      ledger,
	}
}

func TestCoordinatorChallengeWithoutProof(t *testing.T) {
	f := newCoordinatorFixture(t)
	res := f.coordinator.Process(context.Background(), splitpay.Request{
		Resource:   "/api/demo/get-data",
		SplitterID: "splitter-authority",
	})

	if res.Kind != splitpay.ResultChallenge {
		t.Fatalf("expected challenge, got %s (%v)", res.Kind, res.Err)
	}
	if len(res.Challenge.Accepts) != 1 {
		t.Fatalf("expected one accepts entry, got %d", len(res.Challenge.Accepts))
	}
	if got := res.Challenge.Accepts[0].Recipients[0].Amount; got != 700_000 {
		t.Errorf("expected merchant amount 700000, got %d", got)
	}
}

func TestCoordinatorGrantRecordsUsageOnce(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)
	f.ledger.confirm("sig-1")

	var grants []bool
	f.coordinator.OnGranted(func(gc splitpay.GrantContext) {
		grants = append(grants, gc.Replayed)
	})

	req := splitpay.Request{
		Resource:   "/api/demo/get-data",
		SplitterID: "splitter-authority",
		ProofID:    "sig-1",
		Payer:      "payer",
	}
	first := f.coordinator.Process(ctx, req)
	if first.Kind != splitpay.ResultGranted {
		t.Fatalf("expected granted, got %s (%v)", first.Kind, first.Err)
	}
	if first.Replayed {
		t.Error("first grant must not be a replay")
	}
	if len(first.Splits) != 3 || first.Splits[2].Amount != 100_000 {
		t.Errorf("unexpected splits: %+v", first.Splits)
	}

	second := f.coordinator.Process(ctx, req)
	if second.Kind != splitpay.ResultGranted || !second.Replayed {
		t.Fatalf("expected replayed grant, got %s replayed=%v", second.Kind, second.Replayed)
	}

	usage := f.store.Usage()
	if len(usage) != 1 {
		t.Fatalf("expected one usage event, got %d", len(usage))
	}
	if usage[0].ProofID != "sig-1" || usage[0].Resource != "/api/demo/get-data" {
		t.Errorf("unexpected usage event: %+v", usage[0])
	}
	if len(grants) != 2 || grants[0] || !grants[1] {
		t.Errorf("unexpected grant hook calls: %v", grants)
	}
}

func TestCoordinatorDeniesFailedPayment(t *testing.T) {
	ctx := context.Background()
	f := newCoordinatorFixture(t)
	f.ledger.fail("sig-failed")

	var denied error
	f.coordinator.OnDenied(func(dc splitpay.DenyContext) {
		denied = dc.Error
	})

	res := f.coordinator.Process(ctx, splitpay.Request{
		Resource:   "/api/demo/get-data",
		SplitterID: "splitter-authority",
		ProofID:    "sig-failed",
	})
	if res.Kind != splitpay.ResultDenied {
		t.Fatalf("expected denied, got %s", res.Kind)
	}
	if res.Challenge == nil || res.Challenge.Error != splitpay.ErrCodePaymentFailed {
		t.Errorf("expected payment_failed challenge, got %+v", res.Challenge)
	}
	if !errors.Is(denied, splitpay.ErrPaymentFailed) {
		t.Errorf("deny hook saw %v", denied)
	}
	if len(f.store.Usage()) != 0 {
		t.Error("denied request must not record usage")
	}
	stats, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ConfirmedVolume != 0 {
		t.Errorf("failed payment counted as confirmed volume: %d", stats.ConfirmedVolume)
	}
}

func TestCoordinatorDeniesUnknownProof(t *testing.T) {
	f := newCoordinatorFixture(t)
	res := f.coordinator.Process(context.Background(), splitpay.Request{
		Resource:   "/r",
		SplitterID: "splitter-authority",
		ProofID:    "sig-unknown",
	})
	if res.Kind != splitpay.ResultDenied {
		t.Fatalf("expected denied, got %s", res.Kind)
	}
	if !res.Challenge.Retryable {
		t.Error("unknown proof denial should be retryable")
	}
}

func TestCoordinatorErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown splitter", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		res := f.coordinator.Process(ctx, splitpay.Request{Resource: "/r", SplitterID: "splitter-nobody"})
		if res.Kind != splitpay.ResultError || !errors.Is(res.Err, splitpay.ErrSplitterNotFound) {
			t.Fatalf("expected splitter_not_found error, got %s %v", res.Kind, res.Err)
		}
	})

	t.Run("ledger down", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		f.ledger.err = errors.New("timeout")
		res := f.coordinator.Process(ctx, splitpay.Request{Resource: "/r", SplitterID: "splitter-authority", ProofID: "sig"})
		if res.Kind != splitpay.ResultError || !errors.Is(res.Err, splitpay.ErrLedgerUnavailable) {
			t.Fatalf("expected ledger_unavailable error, got %s %v", res.Kind, res.Err)
		}
	})

	t.Run("before-verify hook aborts", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		f.ledger.confirm("sig")
		f.coordinator.OnBeforeVerify(func(splitpay.VerifyContext) (*splitpay.BeforeHookResult, error) {
			return &splitpay.BeforeHookResult{Abort: true, Reason: "payer blocked"}, nil
		})
		res := f.coordinator.Process(ctx, splitpay.Request{Resource: "/r", SplitterID: "splitter-authority", ProofID: "sig"})
		if res.Kind != splitpay.ResultDenied {
			t.Fatalf("expected denied, got %s", res.Kind)
		}
		if f.ledger.calls.Load() != 0 {
			t.Error("aborted request must not reach the ledger")
		}
	})
}
