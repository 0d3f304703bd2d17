package splitpay

import (
	"context"
	"sync"
	"time"
)

// CacheStatus represents the result of checking a verification store.
type CacheStatus int

const (
	// CacheMiss means no cached result and no in-flight verification.
	CacheMiss CacheStatus = iota
	// CacheHit means a cached result was found.
	CacheHit
	// CacheInFlight means another request is currently verifying this proof.
	CacheInFlight
)

// VerificationStore collapses concurrent verifications of one proof.
// Implementations must be safe for concurrent use.
type VerificationStore interface {
	// CheckAndMark atomically checks the store and marks the key as in-flight if needed.
	//
	// Returns:
	//   - CacheHit + record: return it immediately
	//   - CacheInFlight + done: another request is verifying, wait on done
	//   - CacheMiss + done: this request should proceed (now marked in-flight)
	CheckAndMark(ctx context.Context, key string) (CacheStatus, *PaymentRecord, chan struct{}, error)

	// WaitForResult waits for an in-flight verification to finish. A nil
	// record with nil error means the other request failed and the caller
	// should try again.
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*PaymentRecord, error)

	// Complete caches the record and releases waiters.
	Complete(ctx context.Context, key string, rec *PaymentRecord, done chan struct{})

	// Fail removes the in-flight marker without caching anything.
	Fail(ctx context.Context, key string, done chan struct{})
}

// VerificationCache is the in-process VerificationStore. Only confirmed
// records are cached; failures are never cached so a proof that was not yet
// final can be presented again.
type VerificationCache struct {
	mu       sync.Mutex
	results  map[string]*PaymentRecord
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewVerificationCache creates a cache whose entries live for ttl.
func NewVerificationCache(ttl time.Duration) *VerificationCache {
	return &VerificationCache{
		results:  make(map[string]*PaymentRecord),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// CheckAndMark implements VerificationStore.
func (c *VerificationCache) CheckAndMark(_ context.Context, key string) (CacheStatus, *PaymentRecord, chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if rec, ok := c.results[key]; ok {
				return CacheHit, rec, nil, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return CacheInFlight, nil, done, nil
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return CacheMiss, nil, done, nil
}

// WaitForResult implements VerificationStore.
func (c *VerificationCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*PaymentRecord, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached record for key, or nil.
func (c *VerificationCache) Get(key string) *PaymentRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}
	return c.results[key]
}

// Complete implements VerificationStore.
func (c *VerificationCache) Complete(_ context.Context, key string, rec *PaymentRecord, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = rec
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Fail implements VerificationStore.
func (c *VerificationCache) Fail(_ context.Context, key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *VerificationCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
