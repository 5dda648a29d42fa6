// Package cache is the Redis-backed implementation of core.CacheStore,
// holding synthesized manifests under a short TTL (spec §4.6).
package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/log"
)

// Store is a Redis-backed core.CacheStore.
type Store struct {
	client *redis.Client
	log    log.Logger
}

// Open connects to a Redis instance at addr.
func Open(ctx context.Context, addr, password string, db int, logger log.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, berrors.InternalError("cache: connecting to redis: %s", err)
	}
	logger.Info("connected to cache store %s", addr)
	return &Store{client: client, log: logger}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, berrors.InternalError("cache: get %q: %s", key, err)
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return berrors.InternalError("cache: set %q: %s", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return berrors.InternalError("cache: delete %q: %s", key, err)
	}
	return nil
}
