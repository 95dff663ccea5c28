package tokencache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces a value on a cache miss. A positive expiresIn shorter than the
// requested TTL shortens the lifetime of the stored entry.
type ComputeFunc func(ctx context.Context) (value string, expiresIn time.Duration, err error)

// Store is a key/TTL cache for access tokens.
//
// FetchOrCompute returns the cached value for key if present and unexpired. Otherwise it
// invokes compute, stores the result under key and returns it. Compute errors are returned
// unchanged and nothing is stored.
//
// Delete removes any cached value for key. Deleting an absent key is not an error.
type Store interface {
	FetchOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (string, error)
	Delete(ctx context.Context, key string) error
}

// effectiveTTL bounds ttl by expiresIn when the latter is known and shorter.
func effectiveTTL(ttl, expiresIn time.Duration) time.Duration {
	if expiresIn > 0 && (ttl <= 0 || expiresIn < ttl) {
		return expiresIn
	}
	return ttl
}

// shared runs fn once per key across concurrent callers. fn runs on a context that is not
// cancelled with the caller's, so a caller that gives up does not fail the callers still
// waiting on the same key. Each caller stops waiting when its own ctx is done.
func shared(ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (string, error)) (string, error) {
	ch := group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// NullStore never stores anything; every FetchOrCompute invokes compute.
type NullStore struct{}

// FetchOrCompute always computes.
func (NullStore) FetchOrCompute(ctx context.Context, _ string, _ time.Duration, compute ComputeFunc) (string, error) {
	value, _, err := compute(ctx)
	if err != nil {
		return "", err
	}
	return value, nil
}

// Delete is a no-op.
func (NullStore) Delete(context.Context, string) error {
	return nil
}

var (
	_ Store = NullStore{}
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
