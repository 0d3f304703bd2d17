package splitpay_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/x402-foundation/splitpay"
	"github.com/x402-foundation/splitpay/store/memory"
)

func newGateway(ledger splitpay.TransactionSource) (*splitpay.ConfigGateway, *memory.Store) {
	store := memory.New()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gw := splitpay.NewConfigGateway(store, mockAddresses{}, ledger,
		splitpay.WithGatewayClock(func() time.Time { return fixed }))
	return gw, store
}

func validCreateRequest() splitpay.CreateSplitterRequest {
	return splitpay.CreateSplitterRequest{
		Merchant:  "merchant",
		Agent:     "agent",
		Platform:  "platform",
		Shares:    splitpay.Shares{Merchant: 90, Agent: 7, Platform: 3},
		Authority: "authority",
	}
}

func TestGatewayCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a not-ready splitter", func(t *testing.T) {
		gw, store := newGateway(nil)
		cfg, err := gw.Create(ctx, validCreateRequest())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if cfg.ID != "splitter-authority" {
			t.Errorf("expected derived ID, got %s", cfg.ID)
		}
		if cfg.OnChainReady {
			t.Error("splitter without initialization signature must not be ready")
		}
		if ok, _ := store.Exists(ctx, cfg.ID); !ok {
			t.Error("splitter was not stored")
		}
	})

	t.Run("confirms initialization signature", func(t *testing.T) {
		ledger := newMockLedger()
		ledger.setUp("init-sig", "splitter-authority", "authority", validCreateRequest().Shares)
		gw, _ := newGateway(ledger)

		req := validCreateRequest()
		req.InitializationSignature = "init-sig"
		cfg, err := gw.Create(ctx, req)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if !cfg.OnChainReady {
			t.Error("expected splitter to be ready")
		}
	})

	t.Run("rejects a successful transaction that set up nothing", func(t *testing.T) {
		ledger := newMockLedger()
		ledger.confirm("unrelated-transfer")
		gw, store := newGateway(ledger)

		req := validCreateRequest()
		req.InitializationSignature = "unrelated-transfer"
		_, err := gw.Create(ctx, req)
		if !errors.Is(err, splitpay.ErrPaymentFailed) {
			t.Fatalf("expected payment_failed, got %v", err)
		}
		if ok, _ := store.Exists(ctx, "splitter-authority"); ok {
			t.Error("unrelated transaction must not store the splitter")
		}
	})

	t.Run("rejects initialization with other shares", func(t *testing.T) {
		ledger := newMockLedger()
		ledger.setUp("init-sig", "splitter-authority", "authority", splitpay.Shares{Merchant: 10, Agent: 10, Platform: 80})
		gw, _ := newGateway(ledger)

		req := validCreateRequest()
		req.InitializationSignature = "init-sig"
		if _, err := gw.Create(ctx, req); !errors.Is(err, splitpay.ErrPaymentFailed) {
			t.Fatalf("expected payment_failed, got %v", err)
		}
	})

	t.Run("rejects failed initialization", func(t *testing.T) {
		ledger := newMockLedger()
		ledger.fail("init-sig")
		gw, store := newGateway(ledger)

		req := validCreateRequest()
		req.InitializationSignature = "init-sig"
		_, err := gw.Create(ctx, req)
		if !errors.Is(err, splitpay.ErrPaymentFailed) {
			t.Fatalf("expected payment_failed, got %v", err)
		}
		if ok, _ := store.Exists(ctx, "splitter-authority"); ok {
			t.Error("failed initialization must not store the splitter")
		}
	})

	tests := []struct {
		name    string
		mutate  func(*splitpay.CreateSplitterRequest)
		wantErr error
	}{
		{"shares over 100", func(r *splitpay.CreateSplitterRequest) { r.Shares.Platform = 4 }, splitpay.ErrInvalidShares},
		{"shares under 100", func(r *splitpay.CreateSplitterRequest) { r.Shares = splitpay.Shares{} }, splitpay.ErrInvalidShares},
		{"bad merchant", func(r *splitpay.CreateSplitterRequest) { r.Merchant = "bad-merchant" }, splitpay.ErrInvalidAddress},
		{"missing agent", func(r *splitpay.CreateSplitterRequest) { r.Agent = "" }, splitpay.ErrInvalidAddress},
		{"bad authority", func(r *splitpay.CreateSplitterRequest) { r.Authority = "bad" }, splitpay.ErrInvalidAddress},
		{"id not derived from authority", func(r *splitpay.CreateSplitterRequest) { r.ID = "splitter-someone" }, splitpay.ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, store := newGateway(nil)
			req := validCreateRequest()
			tt.mutate(&req)
			_, err := gw.Create(ctx, req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			all, _ := store.List(ctx)
			if len(all) != 0 {
				t.Errorf("rejected request stored %d splitters", len(all))
			}
		})
	}

	t.Run("rejects duplicates", func(t *testing.T) {
		gw, _ := newGateway(nil)
		if _, err := gw.Create(ctx, validCreateRequest()); err != nil {
			t.Fatal(err)
		}
		_, err := gw.Create(ctx, validCreateRequest())
		if !errors.Is(err, splitpay.ErrInvalidRequest) {
			t.Fatalf("expected invalid_request, got %v", err)
		}
	})
}

func TestGatewayResolve(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	ledger.setUp("init-sig", "splitter-authority", "authority", validCreateRequest().Shares)
	ledger.setUp("other-init-sig", "splitter-other", "other", validCreateRequest().Shares)
	ledger.confirm("unrelated-transfer")
	gw, _ := newGateway(ledger)

	if _, err := gw.Resolve(ctx, "splitter-nobody"); !errors.Is(err, splitpay.ErrSplitterNotFound) {
		t.Fatalf("expected splitter_not_found, got %v", err)
	}

	cfg, err := gw.Create(ctx, validCreateRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gw.Resolve(ctx, cfg.ID); !errors.Is(err, splitpay.ErrSplitterNotReady) {
		t.Fatalf("expected splitter_not_ready, got %v", err)
	}

	if _, err := gw.MarkReady(ctx, cfg.ID, "unknown-sig"); !errors.Is(err, splitpay.ErrProofNotFound) {
		t.Fatalf("expected proof_not_found, got %v", err)
	}
	for _, sig := range []string{"unrelated-transfer", "other-init-sig"} {
		if _, err := gw.MarkReady(ctx, cfg.ID, sig); !errors.Is(err, splitpay.ErrPaymentFailed) {
			t.Fatalf("MarkReady with %s: expected payment_failed, got %v", sig, err)
		}
		if _, err := gw.Resolve(ctx, cfg.ID); !errors.Is(err, splitpay.ErrSplitterNotReady) {
			t.Fatalf("MarkReady with %s must leave the splitter not ready, got %v", sig, err)
		}
	}
	if _, err := gw.MarkReady(ctx, cfg.ID, "init-sig"); err != nil {
		t.Fatalf("MarkReady failed: %v", err)
	}
	resolved, err := gw.Resolve(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !resolved.OnChainReady {
		t.Error("expected ready splitter")
	}
}

func TestGatewayUpdateShares(t *testing.T) {
	ctx := context.Background()
	newShares := splitpay.Shares{Merchant: 70, Agent: 20, Platform: 10}
	ledger := newMockLedger()
	ledger.setUp("init-sig", "splitter-authority", "authority", validCreateRequest().Shares)
	ledger.setUp("update-sig", "splitter-authority", "authority", newShares)
	ledger.setUp("stale-update-sig", "splitter-authority", "authority", splitpay.Shares{Merchant: 0, Agent: 0, Platform: 100})
	ledger.confirm("unrelated-transfer")
	gw, store := newGateway(ledger)

	req := validCreateRequest()
	req.InitializationSignature = "init-sig"
	cfg, err := gw.Create(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := gw.UpdateShares(ctx, cfg.ID, "someone-else", newShares, "update-sig"); !errors.Is(err, splitpay.ErrInvalidRequest) {
		t.Fatalf("expected invalid_request for foreign authority, got %v", err)
	}
	if _, err := gw.UpdateShares(ctx, cfg.ID, "authority", splitpay.Shares{Merchant: 100, Agent: 1}, "update-sig"); !errors.Is(err, splitpay.ErrInvalidShares) {
		t.Fatalf("expected invalid_shares, got %v", err)
	}
	if _, err := gw.UpdateShares(ctx, cfg.ID, "authority", newShares, ""); !errors.Is(err, splitpay.ErrInvalidRequest) {
		t.Fatalf("expected invalid_request without signature, got %v", err)
	}
	for _, sig := range []string{"unrelated-transfer", "stale-update-sig"} {
		if _, err := gw.UpdateShares(ctx, cfg.ID, "authority", newShares, sig); !errors.Is(err, splitpay.ErrPaymentFailed) {
			t.Fatalf("UpdateShares with %s: expected payment_failed, got %v", sig, err)
		}
	}

	stored, err := store.Get(ctx, cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Shares != req.Shares || !stored.OnChainReady {
		t.Fatalf("rejected updates changed the splitter: %+v", stored)
	}

	updated, err := gw.UpdateShares(ctx, cfg.ID, "authority", newShares, "update-sig")
	if err != nil {
		t.Fatal(err)
	}
	if !updated.OnChainReady {
		t.Error("confirmed share update must keep the splitter ready")
	}
	if updated.Shares != newShares {
		t.Errorf("expected %+v, got %+v", newShares, updated.Shares)
	}
}

func TestGatewayListByAuthority(t *testing.T) {
	ctx := context.Background()
	gw, _ := newGateway(nil)
	if _, err := gw.Create(ctx, validCreateRequest()); err != nil {
		t.Fatal(err)
	}
	other := validCreateRequest()
	other.Authority = "other"
	if _, err := gw.Create(ctx, other); err != nil {
		t.Fatal(err)
	}

	mine, err := gw.ListByAuthority(ctx, "authority")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].ID != "splitter-authority" {
		t.Errorf("unexpected splitters: %+v", mine)
	}
	all, err := gw.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 splitters, got %d", len(all))
	}
	if _, err := gw.ListByAuthority(ctx, "bad"); !errors.Is(err, splitpay.ErrInvalidAddress) {
		t.Errorf("expected invalid_address, got %v", err)
	}
}
