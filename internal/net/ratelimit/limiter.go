// Package ratelimit provides token-bucket limiting for outbound provider
// calls and inbound API clients.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/defiinsight/insight/internal/config"
)

// Limiter rate-limits requests per key (host for outbound, client IP for
// inbound) using token buckets.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter with the given refill rate and burst capacity.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring the write lock.
	if limiter, exists := l.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[key] = limiter
	return limiter
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	return l.getLimiter(key).Allow()
}

// Wait blocks until a request for key is allowed or the context ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.getLimiter(key).Wait(ctx)
}

// Stats returns per-key limiter state.
func (l *Limiter) Stats() map[string]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]Stats, len(l.limiters))
	now := time.Now()
	for key, limiter := range l.limiters {
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()

		stats[key] = Stats{
			Key:             key,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
			NextAllowedAt:   now.Add(delay),
			Throttled:       delay > 0,
		}
	}
	return stats
}

// Stats describes the state of a single keyed bucket.
type Stats struct {
	Key             string    `json:"key"`
	RPS             float64   `json:"rps"`
	Burst           int       `json:"burst"`
	TokensAvailable float64   `json:"tokens_available"`
	NextAllowedAt   time.Time `json:"next_allowed_at"`
	Throttled       bool      `json:"throttled"`
}

// Manager holds one limiter per provider, built from the providers config.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// NewManagerFromConfig builds limiters for every enabled provider.
func NewManagerFromConfig(cfg *config.ProvidersConfig) *Manager {
	m := NewManager()
	for name, p := range cfg.Providers {
		if p.Enabled {
			m.AddProvider(name, float64(p.RPS), p.Burst)
		}
	}
	return m
}

// AddProvider registers a limiter for a provider.
func (m *Manager) AddProvider(name string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = NewLimiter(rps, burst)
}

// Wait blocks until the provider's bucket for host allows a request.
// Unknown providers are not limited.
func (m *Manager) Wait(ctx context.Context, provider, host string) error {
	m.mu.RLock()
	limiter, exists := m.limiters[provider]
	m.mu.RUnlock()
	if !exists {
		return nil
	}
	return limiter.Wait(ctx, host)
}

// Allow reports whether the provider's bucket for host has capacity.
func (m *Manager) Allow(provider, host string) bool {
	m.mu.RLock()
	limiter, exists := m.limiters[provider]
	m.mu.RUnlock()
	if !exists {
		return true
	}
	return limiter.Allow(host)
}

// Stats returns limiter state for all providers.
func (m *Manager) Stats() map[string]map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]map[string]Stats, len(m.limiters))
	for provider, limiter := range m.limiters {
		stats[provider] = limiter.Stats()
	}
	return stats
}

// ClientLimiter rate-limits inbound API clients by IP. The window/token pair
// mirrors the service's RATE_LIMIT_* settings: tokens per window refilled
// continuously.
type ClientLimiter struct {
	limiter *Limiter
}

// NewClientLimiter allows tokens requests per window for each client key.
func NewClientLimiter(tokens int, window time.Duration) *ClientLimiter {
	rps := float64(tokens) / window.Seconds()
	return &ClientLimiter{limiter: NewLimiter(rps, tokens)}
}

// Allow reports whether the client may proceed.
func (c *ClientLimiter) Allow(clientKey string) bool {
	return c.limiter.Allow(clientKey)
}
