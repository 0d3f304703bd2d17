package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/x402-foundation/splitpay"
)

// releaseScript deletes the lock only if this process still owns it, so a
// lock that expired and was taken over is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements splitpay.VerificationStore on Redis.
// It is safe for concurrent use.
type RedisStore struct {
	client       redis.UniversalClient
	ttl          time.Duration
	lockTTL      time.Duration
	pollInterval time.Duration
	prefix       string

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisStore creates a store on client.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	s := &RedisStore{
		client:       client,
		ttl:          defaultTTL,
		lockTTL:      defaultLockTTL,
		pollInterval: defaultPollInterval,
		prefix:       defaultKeyPrefix,
		tokens:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) resultKey(key string) string { return s.prefix + "result:" + key }
func (s *RedisStore) lockKey(key string) string   { return s.prefix + "lock:" + key }

// CheckAndMark implements splitpay.VerificationStore.
func (s *RedisStore) CheckAndMark(ctx context.Context, key string) (splitpay.CacheStatus, *splitpay.PaymentRecord, chan struct{}, error) {
	rec, err := s.get(ctx, key)
	if err != nil {
		return splitpay.CacheMiss, nil, nil, err
	}
	if rec != nil {
		return splitpay.CacheHit, rec, nil, nil
	}

	token := uuid.NewString()
	acquired, err := s.client.SetNX(ctx, s.lockKey(key), token, s.lockTTL).Result()
	if err != nil {
		return splitpay.CacheMiss, nil, nil, fmt.Errorf("acquire verification lock: %w", err)
	}
	done := make(chan struct{})
	if !acquired {
		return splitpay.CacheInFlight, nil, done, nil
	}

	s.mu.Lock()
	s.tokens[key] = token
	s.mu.Unlock()
	return splitpay.CacheMiss, nil, done, nil
}

// WaitForResult implements splitpay.VerificationStore. It polls until the
// lock holder caches a record or releases the lock.
func (s *RedisStore) WaitForResult(ctx context.Context, key string, _ chan struct{}) (*splitpay.PaymentRecord, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		rec, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
		held, err := s.client.Exists(ctx, s.lockKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("check verification lock: %w", err)
		}
		if held == 0 {
			// Holder failed or its lock expired: one more read catches a
			// Complete that landed between the two calls.
			return s.get(ctx, key)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Complete implements splitpay.VerificationStore. Errors are not returned:
// the record is already durable in the record store.
func (s *RedisStore) Complete(ctx context.Context, key string, rec *splitpay.PaymentRecord, done chan struct{}) {
	if data, err := json.Marshal(rec); err == nil {
		s.client.Set(ctx, s.resultKey(key), data, s.ttl)
	}
	s.release(ctx, key)
	closeOnce(done)
}

// Fail implements splitpay.VerificationStore.
func (s *RedisStore) Fail(ctx context.Context, key string, done chan struct{}) {
	s.release(ctx, key)
	closeOnce(done)
}

// Get returns the cached record for key, or nil.
func (s *RedisStore) Get(ctx context.Context, key string) (*splitpay.PaymentRecord, error) {
	return s.get(ctx, key)
}

func (s *RedisStore) get(ctx context.Context, key string) (*splitpay.PaymentRecord, error) {
	data, err := s.client.Get(ctx, s.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read verification result: %w", err)
	}
	var rec splitpay.PaymentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode verification result: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) release(ctx context.Context, key string) {
	s.mu.Lock()
	token, ok := s.tokens[key]
	delete(s.tokens, key)
	s.mu.Unlock()
	if !ok {
		return
	}
	releaseScript.Run(ctx, s.client, []string{s.lockKey(key)}, token)
}

func closeOnce(done chan struct{}) {
	if done == nil {
		return
	}
	select {
	case <-done:
	default:
		close(done)
	}
}
