// Package kvcache provides the key-value cache layered in front of the
// durable stores, with a memory driver and a redis driver behind one
// interface.
package kvcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Driver selects the cache backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

// ErrInvalidDriver is returned for an unknown driver name.
var ErrInvalidDriver = errors.New("invalid cache driver")

// Store is a minimal key-value cache. A miss is (value="", ok=false, err=nil).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Options configures driver construction.
type Options struct {
	RedisClient *redis.Client
	RedisTTL    time.Duration
}

// New creates a Store for the given driver.
func New(driver Driver, opts Options) (Store, error) {
	switch driver {
	case DriverMemory:
		return &memoryStore{values: make(map[string]string)}, nil
	case DriverRedis:
		if opts.RedisClient == nil {
			return nil, errors.New("redis driver requires a client")
		}
		ttl := opts.RedisTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		return &redisStore{client: opts.RedisClient, ttl: ttl}, nil
	default:
		return nil, ErrInvalidDriver
	}
}

type memoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func (s *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, s.ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
