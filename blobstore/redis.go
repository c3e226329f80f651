package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to every blob name stored in redis.
const DefaultRedisPrefix = "mediacache:"

// Redis stores blobs as plain string keys.
type Redis struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// RedisConfig configures OpenRedis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// OpenRedis dials a redis server and verifies it with PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("blobstore: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("blobstore: redis ping: %w", err)
	}
	r := NewRedis(client, cfg.Prefix)
	r.owned = true
	return r, nil
}

// NewRedis wraps an existing client. The caller keeps ownership of client.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(name string) string {
	return r.prefix + name
}

// Read returns the value stored at the prefixed key.
func (r *Redis) Read(ctx context.Context, name string) ([]byte, bool, error) {
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("blobstore: redis get %q: %w", name, err)
	}
	return data, true, nil
}

// Write sets the prefixed key without expiry.
func (r *Redis) Write(ctx context.Context, name string, blob []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(name), blob, 0).Err(); err != nil {
		return fmt.Errorf("blobstore: redis set %q: %w", name, err)
	}
	return nil
}

// Remove deletes the prefixed key. Idempotent - no error on miss.
func (r *Redis) Remove(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(name)).Err(); err != nil {
		return fmt.Errorf("blobstore: redis del %q: %w", name, err)
	}
	return nil
}

// Close closes the client when it was created by OpenRedis.
func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

var _ Storage = (*Redis)(nil)
