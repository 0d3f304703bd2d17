package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-foundation/splitpay"
)

func TestSplitterRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, splitpay.ErrNotFound)

	now := time.Now()
	require.NoError(t, s.Put(ctx, &splitpay.SplitterConfig{ID: "a", Authority: "auth", CreatedAt: now}))
	require.NoError(t, s.Put(ctx, &splitpay.SplitterConfig{ID: "b", Authority: "auth", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.Put(ctx, &splitpay.SplitterConfig{ID: "c", Authority: "other", CreatedAt: now}))

	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	got.Authority = "mutated"
	again, _ := s.Get(ctx, "a")
	assert.Equal(t, "auth", again.Authority)

	owned, err := s.ListByAuthority(ctx, "auth")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "b", owned[0].ID)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestInsertIfAbsentConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New()

	const n = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		ids      = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := &splitpay.PaymentRecord{ID: string(rune('A' + i)), ProofID: "sig", Status: splitpay.StatusConfirmed}
			stored, ok, err := s.InsertIfAbsent(ctx, rec)
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if ok {
				inserted++
			}
			ids[stored.ID] = true
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Len(t, ids, 1)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Put(ctx, &splitpay.SplitterConfig{ID: "a"}))
	_, _, _ = s.InsertIfAbsent(ctx, &splitpay.PaymentRecord{ProofID: "1", SplitterID: "a", TotalAmount: 100, Status: splitpay.StatusConfirmed})
	_, _, _ = s.InsertIfAbsent(ctx, &splitpay.PaymentRecord{ProofID: "2", SplitterID: "a", TotalAmount: 50, Status: splitpay.StatusFailed})
	require.NoError(t, s.RecordUsage(ctx, &splitpay.UsageEvent{ProofID: "1"}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, splitpay.Stats{TotalSplitters: 1, TotalPayments: 2, ConfirmedVolume: 100, TotalUsage: 1}, st)

	recs, err := s.ListBySplitter(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Len(t, s.Usage(), 1)
}
