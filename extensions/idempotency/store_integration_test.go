//go:build integration

package idempotency_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/x402-foundation/splitpay"
	"github.com/x402-foundation/splitpay/extensions/idempotency"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := idempotency.NewRedisStore(newRedisClient(t), idempotency.WithPollInterval(5*time.Millisecond))

	status, rec, done, err := store.CheckAndMark(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, splitpay.CacheMiss, status)
	assert.Nil(t, rec)

	status, _, _, err = store.CheckAndMark(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, splitpay.CacheInFlight, status)

	want := &splitpay.PaymentRecord{ID: "rec-1", ProofID: "sig-1", SplitterID: "s", TotalAmount: 100, Status: splitpay.StatusConfirmed}
	store.Complete(ctx, "sig-1", want, done)

	status, rec, _, err = store.CheckAndMark(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, splitpay.CacheHit, status)
	require.NotNil(t, rec)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, uint64(100), rec.TotalAmount)
}

func TestRedisStoreFailReleasesLock(t *testing.T) {
	ctx := context.Background()
	store := idempotency.NewRedisStore(newRedisClient(t), idempotency.WithPollInterval(5*time.Millisecond))

	_, _, done, err := store.CheckAndMark(ctx, "sig-2")
	require.NoError(t, err)

	waited := make(chan *splitpay.PaymentRecord, 1)
	go func() {
		rec, err := store.WaitForResult(ctx, "sig-2", nil)
		assert.NoError(t, err)
		waited <- rec
	}()

	time.Sleep(20 * time.Millisecond)
	store.Fail(ctx, "sig-2", done)

	select {
	case rec := <-waited:
		assert.Nil(t, rec, "waiters of a failed verification get no record")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not observe the released lock")
	}

	status, _, _, err := store.CheckAndMark(ctx, "sig-2")
	require.NoError(t, err)
	assert.Equal(t, splitpay.CacheMiss, status, "failed verification is not cached")
}

func TestRedisStoreAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	client := newRedisClient(t)

	var winners atomic.Int32
	var wg sync.WaitGroup
	results := make([]*splitpay.PaymentRecord, 6)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each goroutine plays a separate replica with its own store.
			store := idempotency.NewRedisStore(client, idempotency.WithPollInterval(5*time.Millisecond))
			status, rec, done, err := store.CheckAndMark(ctx, "sig-3")
			if !assert.NoError(t, err) {
				return
			}
			switch status {
			case splitpay.CacheMiss:
				winners.Add(1)
				time.Sleep(30 * time.Millisecond)
				rec = &splitpay.PaymentRecord{ID: "rec-3", ProofID: "sig-3", Status: splitpay.StatusConfirmed}
				store.Complete(ctx, "sig-3", rec, done)
			case splitpay.CacheInFlight:
				rec, err = store.WaitForResult(ctx, "sig-3", done)
				if !assert.NoError(t, err) {
					return
				}
			}
			results[i] = rec
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	for _, rec := range results {
		if assert.NotNil(t, rec) {
			assert.Equal(t, "rec-3", rec.ID)
		}
	}
}
