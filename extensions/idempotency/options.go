package idempotency

import "time"

const (
	defaultTTL          = 10 * time.Minute
	defaultLockTTL      = 30 * time.Second
	defaultPollInterval = 50 * time.Millisecond
	defaultKeyPrefix    = "splitpay:verify:"
)

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithTTL sets how long confirmed records stay cached.
//
// Default: 10 minutes
func WithTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithLockTTL bounds how long a crashed replica can hold a proof.
// It must exceed the verifier's worst-case ledger polling time.
//
// Default: 30 seconds
func WithLockTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		s.lockTTL = ttl
	}
}

// WithPollInterval sets how often waiting replicas check for a result.
//
// Default: 50 milliseconds
func WithPollInterval(interval time.Duration) Option {
	return func(s *RedisStore) {
		s.pollInterval = interval
	}
}

// WithKeyPrefix namespaces the store's keys, e.g. per environment.
func WithKeyPrefix(prefix string) Option {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}
