// Package redis keeps checkout idempotency keys in Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/go-redis/redis/v8"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// pending marks a key whose checkout has not finished.
const pending = "\x00pending"

// DefaultTTL is how long a finished checkout can be replayed.
const DefaultTTL = 24 * time.Hour

var _ order.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore claims idempotency keys with SETNX.
type IdempotencyStore struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	return connect(ctx, &goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewClientFromURL connects using a redis:// or rediss:// URL.
func NewClientFromURL(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return connect(ctx, opts)
}

func connect(ctx context.Context, opts *goredis.Options) (*goredis.Client, error) {
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return rdb, nil
}

// NewIdempotencyStore creates a store. A non-positive ttl means DefaultTTL.
func NewIdempotencyStore(rdb *goredis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func redisKey(key string) string {
	return fmt.Sprintf("idempotency:checkout:%s", key)
}

// Claim takes the key for a new checkout. When the key is already held it
// returns the finished order id, or an empty id while that checkout runs.
func (s *IdempotencyStore) Claim(ctx context.Context, key string) (string, bool, error) {
	k := redisKey(key)
	ok, err := s.rdb.SetNX(ctx, k, pending, s.ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "setnx")
	}
	if ok {
		return "", true, nil
	}

	v, err := s.rdb.Get(ctx, k).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		// Expired between SETNX and GET; the caller may retry.
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrap(err, "get")
	case v == pending:
		return "", false, nil
	default:
		return v, false, nil
	}
}

// Complete stores the order id for replays.
func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.rdb.Set(ctx, redisKey(key), orderID, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "set")
	}
	return nil
}

// Release frees the key so the checkout can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}
