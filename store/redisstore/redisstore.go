// Package redisstore is the production store.KV backing, implemented against
// github.com/redis/go-redis/v9.
//
// CompareAndRenew and CompareAndDelete use Lua scripts (EVAL) so the value check and the
// mutation happen atomically on the server; a plain GET followed by a separate EXPIRE/DEL
// would race against a concurrent lock holder performing the same heartbeat.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openhab/cloud-tunnelgw/store"
	"github.com/redis/go-redis/v9"
)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end
`)

var deleteScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Store adapts a *redis.Client to store.KV.
type Store struct {
	rdb *redis.Client
}

// Config configures the underlying redis.Client.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// New dials a redis client. The connection is lazy; use Ping to verify reachability.
func New(cfg Config) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// Ping verifies connectivity, wrapping failures as store.ErrUnavailable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapUnavailable(err)
	}
	return v, true, nil
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return ok, nil
}

func (s *Store) CompareAndRenew(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, s.rdb, []string{key}, expected, int64(ttl/time.Second)).Int64()
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return res == 1, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := deleteScript.Run(ctx, s.rdb, []string{key}, expected).Int64()
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return res == 1, nil
}

func (s *Store) TTLOf(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, wrapUnavailable(err)
	}
	if d < 0 {
		// -2: key does not exist. -1: key exists without a TTL; callers treat that as "no
		// expiry" rather than "absent".
		if d == -2 {
			return 0, false, nil
		}
		return 0, true, nil
	}
	return d, true, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

var _ store.KV = (*Store)(nil)
