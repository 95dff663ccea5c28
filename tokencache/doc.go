// Package tokencache provides the key/TTL stores used to cache OAuth2 access tokens.
//
// A Store exposes two operations: FetchOrCompute, which returns a cached value or computes,
// stores and returns a new one, and Delete, which drops a value unconditionally. Stores add
// no cross-call locking beyond their own single-key atomicity; a duplicate token exchange
// during a miss window is acceptable because token exchange is idempotent.
//
// # Implementations
//
//   - MemoryStore: in-process map with lazy expiry and per-key singleflight (the default)
//   - NullStore: never stores; every fetch computes
//   - RedisStore: shares tokens across processes through github.com/redis/go-redis/v9
//
// # Quick Start
//
//	store := tokencache.NewMemoryStore()
//	token, err := store.FetchOrCompute(ctx, "key", time.Hour, func(ctx context.Context) (string, time.Duration, error) {
//	    return exchange(ctx)
//	})
//
// All implementations are safe for concurrent use.
package tokencache
