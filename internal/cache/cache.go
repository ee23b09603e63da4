// Package cache provides the TTL cache backing provider responses.
// Redis is used when configured, an in-process map otherwise.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/config"
)

// Cache is the shared TTL cache contract.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Stats() Stats
	Health(ctx context.Context) bool
	Close() error
}

// Stats reports cache performance counters.
type Stats struct {
	Backend     string    `json:"backend"`
	TotalHits   int64     `json:"total_hits"`
	TotalMisses int64     `json:"total_misses"`
	TotalSets   int64     `json:"total_sets"`
	HitRate     float64   `json:"hit_rate"`
	ErrorCount  int64     `json:"error_count"`
	LastError   string    `json:"last_error,omitempty"`
	Connected   bool      `json:"connected"`
	LastPing    time.Time `json:"last_ping,omitempty"`
	Keys        int       `json:"keys,omitempty"`
}

// NewAuto selects Redis when an address is configured, memory otherwise.
func NewAuto(cfg *config.Settings) Cache {
	if cfg != nil && cfg.RedisAddr != "" {
		c := NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if c.Health(ctx) {
			log.Info().Str("addr", cfg.RedisAddr).Msg("Cache backend: redis")
			return c
		}
		log.Warn().Str("addr", cfg.RedisAddr).Msg("Redis unreachable, falling back to memory cache")
		_ = c.Close()
	}
	log.Info().Msg("Cache backend: memory")
	return NewMemory()
}

type memory struct {
	mu    sync.Mutex
	m     map[string]entry
	stats Stats
}

type entry struct {
	b   []byte
	exp time.Time
}

// NewMemory returns an in-process cache with per-entry expiry.
func NewMemory() Cache {
	return &memory{
		m:     make(map[string]entry),
		stats: Stats{Backend: "memory", Connected: true},
	}
}

func (c *memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		if ok {
			delete(c.m, key)
		}
		c.stats.TotalMisses++
		return nil, false
	}
	c.stats.TotalHits++
	return append([]byte(nil), e.b...), true
}

func (c *memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
	c.stats.TotalSets++
	return nil
}

func (c *memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func (c *memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Keys = len(c.m)
	s.HitRate = hitRate(s.TotalHits, s.TotalMisses)
	return s
}

func (c *memory) Health(_ context.Context) bool { return true }

func (c *memory) Close() error { return nil }

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
