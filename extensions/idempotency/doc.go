// Package idempotency provides a shared verification store for deployments
// that run several API replicas against the same record store.
//
// # Overview
//
// splitpay.ProofVerifier collapses concurrent verifications of one proof so
// the ledger is asked once per proof. The default splitpay.VerificationCache
// does this within a single process. RedisStore does it across processes:
// the first replica to see a proof takes a short-lived lock in Redis, the
// others wait for its result.
//
// # Usage
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := idempotency.NewRedisStore(client,
//	    idempotency.WithTTL(30*time.Minute),
//	)
//	verifier := splitpay.NewProofVerifier(records, gateway, ledger,
//	    splitpay.WithVerificationStore(store),
//	)
//
// # How It Works
//
// 1. CheckAndMark reads the cached record for the proof, if any
// 2. Otherwise it tries SET NX on a lock key; the winner verifies
// 3. Losers poll until the record is cached or the lock disappears
// 4. Complete caches the confirmed record and releases the lock
//
// Failed verifications are NOT cached, allowing a proof that was not yet
// final to be presented again. The record store's unique proof key remains
// the final guarantee of a single record; this store only saves ledger
// round-trips.
package idempotency
