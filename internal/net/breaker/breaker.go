// Package breaker guards provider calls with circuit breakers and ordered
// fallback chains.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/defiinsight/insight/internal/config"
)

// ErrUnknownProvider is returned when no breaker is registered for a name.
var ErrUnknownProvider = errors.New("circuit breaker not registered for provider")

// Manager holds one circuit breaker per provider plus its fallback chain.
type Manager struct {
	mu        sync.RWMutex
	breakers  map[string]*gobreaker.CircuitBreaker
	configs   map[string]config.CircuitConfig
	fallbacks map[string][]string

	// openedAt has its own lock: gobreaker fires OnStateChange from inside
	// State() and Execute() calls made while mu is held.
	openMu   sync.Mutex
	openedAt map[string]time.Time
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		configs:   make(map[string]config.CircuitConfig),
		fallbacks: make(map[string][]string),
		openedAt:  make(map[string]time.Time),
	}
}

// NewManagerFromConfig registers a breaker for every enabled provider.
func NewManagerFromConfig(cfg *config.ProvidersConfig) *Manager {
	m := NewManager()
	for name, p := range cfg.Providers {
		if p.Enabled {
			m.Register(name, p.Circuit, p.Fallbacks)
		}
	}
	return m
}

// Register adds a breaker for provider with the given trip settings.
func (m *Manager) Register(provider string, cc config.CircuitConfig, fallbacks []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs[provider] = cc
	m.fallbacks[provider] = fallbacks

	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: cc.MaxRequests,
		Interval:    time.Duration(cc.IntervalMS) * time.Millisecond,
		Timeout:     time.Duration(cc.TimeoutMS) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cc.ConsecutiveFailures {
				return true
			}
			if counts.Requests >= 10 {
				errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
				return errorRate >= cc.ErrorRateThreshold
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.openMu.Lock()
			if to == gobreaker.StateOpen {
				m.openedAt[name] = time.Now()
			} else {
				delete(m.openedAt, name)
			}
			m.openMu.Unlock()

			evt := log.Warn()
			if to == gobreaker.StateClosed {
				evt = log.Info()
			}
			evt.Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	}

	m.breakers[provider] = gobreaker.NewCircuitBreaker(settings)
}

// Execute runs fn under the provider's breaker. Providers without a breaker
// run unguarded.
func (m *Manager) Execute(provider string, fn func() (interface{}, error)) (interface{}, error) {
	m.mu.RLock()
	cb, exists := m.breakers[provider]
	m.mu.RUnlock()

	if !exists {
		return fn()
	}
	return cb.Execute(fn)
}

// Open reports whether the provider's circuit is currently open.
func (m *Manager) Open(provider string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cb, exists := m.breakers[provider]
	return exists && cb.State() == gobreaker.StateOpen
}

// Fallbacks returns the configured fallback chain for provider.
func (m *Manager) Fallbacks(provider string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fallbacks[provider]
}

// Status describes one breaker for status endpoints and metrics.
type Status struct {
	Provider            string    `json:"provider"`
	State               string    `json:"state"`
	Requests            uint32    `json:"requests"`
	TotalFailures       uint32    `json:"total_failures"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	ErrorRate           float64   `json:"error_rate"`
	NextReset           time.Time `json:"next_reset,omitempty"`
	Fallbacks           []string  `json:"fallbacks,omitempty"`
}

// StatusFor returns the breaker status for one provider.
func (m *Manager) StatusFor(provider string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cb, exists := m.breakers[provider]
	if !exists {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	counts := cb.Counts()
	s := Status{
		Provider:            provider,
		State:               cb.State().String(),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		Fallbacks:           m.fallbacks[provider],
	}
	if counts.Requests > 0 {
		s.ErrorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
	}
	if cb.State() == gobreaker.StateOpen {
		m.openMu.Lock()
		openedAt, known := m.openedAt[provider]
		m.openMu.Unlock()
		if known {
			s.NextReset = openedAt.Add(time.Duration(m.configs[provider].TimeoutMS) * time.Millisecond)
		}
	}
	return s, nil
}

// StatusAll returns statuses for every registered provider.
func (m *Manager) StatusAll() map[string]Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make(map[string]Status, len(names))
	for _, name := range names {
		if s, err := m.StatusFor(name); err == nil {
			out[name] = s
		}
	}
	return out
}

// Healthy reports whether no registered breaker is open.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cb := range m.breakers {
		if cb.State() == gobreaker.StateOpen {
			return false
		}
	}
	return true
}
