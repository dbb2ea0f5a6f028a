// Package ratelimit provides the counter storage behind the host's rate
// limiter. Limits are per process with the memory backend and shared
// between hosts with the redis backend.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/memory/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	keyPrefix = "bundlebridge:ratelimit:"
)

// NewStorage creates the storage for backend. redisURL is only read for
// the redis backend.
func NewStorage(backend, redisURL string) (fiber.Storage, error) {
	switch backend {
	case "", BackendMemory:
		return memory.New(memory.Config{GCInterval: 10 * time.Minute}), nil
	case BackendRedis:
		return NewRedisStorage(redisURL)
	default:
		return nil, fmt.Errorf("unknown rate limit storage %q (valid: memory, redis)", backend)
	}
}

// RedisStorage implements fiber.Storage on a Redis compatible server
// (Redis, Valkey, Dragonfly).
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage connects to url, e.g. redis://:password@redis:6379/1,
// and fails when the server does not answer a ping.
func NewRedisStorage(url string) (*RedisStorage, error) {
	if url == "" {
		return nil, errors.New("redis url is required for the redis rate limit storage")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis for rate limiting")

	return &RedisStorage{client: client}, nil
}

func (s *RedisStorage) Get(key string) ([]byte, error) {
	ctx, cancel := opContext()
	defer cancel()

	val, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (s *RedisStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	ctx, cancel := opContext()
	defer cancel()

	return s.client.Set(ctx, keyPrefix+key, val, exp).Err()
}

func (s *RedisStorage) Delete(key string) error {
	if key == "" {
		return nil
	}
	ctx, cancel := opContext()
	defer cancel()

	return s.client.Del(ctx, keyPrefix+key).Err()
}

// Reset removes every limiter key, leaving other data on the server alone.
func (s *RedisStorage) Reset() error {
	ctx, cancel := opContext()
	defer cancel()

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
