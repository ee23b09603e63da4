package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "insight:"
	opTimeout = 500 * time.Millisecond
)

type redisCache struct {
	client redis.UniversalClient

	mu    sync.Mutex
	stats Stats
}

// NewRedis returns a Redis-backed cache.
func NewRedis(addr, password string, db int) Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return NewRedisWithClient(client)
}

// NewRedisWithClient wraps an existing client; used by tests with redismock.
func NewRedisWithClient(client redis.UniversalClient) Cache {
	return &redisCache{
		client: client,
		stats:  Stats{Backend: "redis", Connected: true},
	}
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	v, err := r.client.Get(opCtx, keyPrefix+key).Bytes()
	if err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if err == redis.Nil {
			r.stats.TotalMisses++
		} else {
			r.stats.ErrorCount++
			r.stats.LastError = fmt.Sprintf("get: %v", err)
			r.stats.Connected = false
		}
		return nil, false
	}

	r.mu.Lock()
	r.stats.TotalHits++
	r.stats.Connected = true
	r.mu.Unlock()
	return v, true
}

func (r *redisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.client.Set(opCtx, keyPrefix+key, val, ttl).Err(); err != nil {
		r.mu.Lock()
		r.stats.ErrorCount++
		r.stats.LastError = fmt.Sprintf("set: %v", err)
		r.stats.Connected = false
		r.mu.Unlock()
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	r.mu.Lock()
	r.stats.TotalSets++
	r.stats.Connected = true
	r.mu.Unlock()
	return nil
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.client.Del(opCtx, keyPrefix+key).Err()
}

func (r *redisCache) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.HitRate = hitRate(s.TotalHits, s.TotalMisses)
	return s
}

func (r *redisCache) Health(ctx context.Context) bool {
	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pong, err := r.client.Ping(opCtx).Result()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil || pong != "PONG" {
		r.stats.Connected = false
		r.stats.ErrorCount++
		r.stats.LastError = fmt.Sprintf("ping: %v", err)
		return false
	}
	r.stats.Connected = true
	r.stats.LastPing = time.Now()
	return true
}

func (r *redisCache) Close() error {
	return r.client.Close()
}
