package tokencache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// RedisStore is a Store backed by Redis, suitable for sharing tokens between processes.
//
// Read errors degrade to a miss so a token can still be obtained while Redis is unavailable.
// Write errors are logged and otherwise ignored. Delete errors are returned.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
	logger    logrus.FieldLogger
	group     singleflight.Group
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix prepends prefix to every key written to Redis.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// WithRedisLogger sets the logger used to report degraded Redis operations.
func WithRedisLogger(logger logrus.FieldLogger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchOrCompute implements Store.
func (s *RedisStore) FetchOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (string, error) {
	redisKey := s.keyPrefix + key

	if value, ok := s.get(ctx, redisKey); ok {
		return value, nil
	}

	return shared(ctx, &s.group, redisKey, func(ctx context.Context) (string, error) {
		if value, ok := s.get(ctx, redisKey); ok {
			return value, nil
		}
		value, expiresIn, err := compute(ctx)
		if err != nil {
			return "", err
		}
		if err := s.client.Set(ctx, redisKey, value, effectiveTTL(ttl, expiresIn)).Err(); err != nil {
			s.warn(err, redisKey, "tokencache: failed to store token in redis")
		}
		return value, nil
	})
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("tokencache: delete %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, key string) (string, bool) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.warn(err, key, "tokencache: redis read failed, treating as miss")
		}
		return "", false
	}
	return value, true
}

func (s *RedisStore) warn(err error, key, msg string) {
	if s.logger == nil {
		return
	}
	s.logger.WithError(err).WithField("key", key).Warn(msg)
}
