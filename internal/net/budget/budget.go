// Package budget tracks per-provider daily request budgets with UTC resets.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/config"
)

// ExhaustedError is returned when a provider's daily budget is spent.
type ExhaustedError struct {
	Provider string
	Used     int64
	Limit    int64
	ResetsAt time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("daily budget exhausted for %s: %d/%d used, resets at %s",
		e.Provider, e.Used, e.Limit, e.ResetsAt.Format("15:04 UTC"))
}

// Tracker counts requests for one provider against its daily limit.
type Tracker struct {
	provider      string
	limit         int64
	resetHour     int
	warnThreshold float64

	mu        sync.Mutex
	used      int64
	lastReset time.Time
	warned    bool
	nowFunc   func() time.Time
}

// NewTracker creates a tracker for provider with the given daily limit.
func NewTracker(provider string, limit int64, resetHour int, warnThreshold float64) *Tracker {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	if warnThreshold <= 0 || warnThreshold > 1 {
		warnThreshold = 0.8
	}
	t := &Tracker{
		provider:      provider,
		limit:         limit,
		resetHour:     resetHour,
		warnThreshold: warnThreshold,
		nowFunc:       func() time.Time { return time.Now().UTC() },
	}
	t.lastReset = lastResetTime(t.nowFunc(), resetHour)
	return t
}

func lastResetTime(now time.Time, resetHour int) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Hour() >= resetHour {
		return today
	}
	return today.AddDate(0, 0, -1)
}

func (t *Tracker) resetIfDue() {
	now := t.nowFunc()
	if now.After(t.lastReset.Add(24 * time.Hour)) {
		t.used = 0
		t.warned = false
		t.lastReset = lastResetTime(now, t.resetHour)
	}
}

// Consume records one request. It fails once the daily limit is reached and
// logs a single warning when usage crosses the warn threshold.
func (t *Tracker) Consume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfDue()

	if t.used >= t.limit {
		return &ExhaustedError{
			Provider: t.provider,
			Used:     t.used,
			Limit:    t.limit,
			ResetsAt: t.lastReset.Add(24 * time.Hour),
		}
	}
	t.used++

	if !t.warned && float64(t.used) >= t.warnThreshold*float64(t.limit) {
		t.warned = true
		log.Warn().
			Str("provider", t.provider).
			Int64("used", t.used).
			Int64("limit", t.limit).
			Msg("Provider budget warn threshold crossed")
	}
	return nil
}

// Stats reports current budget usage.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfDue()
	return Stats{
		Provider:    t.provider,
		Limit:       t.limit,
		Used:        t.used,
		Remaining:   t.limit - t.used,
		Utilization: float64(t.used) / float64(t.limit),
		NextReset:   t.lastReset.Add(24 * time.Hour),
		Exhausted:   t.used >= t.limit,
	}
}

// Stats is a snapshot of a tracker's usage.
type Stats struct {
	Provider    string    `json:"provider"`
	Limit       int64     `json:"limit"`
	Used        int64     `json:"used"`
	Remaining   int64     `json:"remaining"`
	Utilization float64   `json:"utilization"`
	NextReset   time.Time `json:"next_reset"`
	Exhausted   bool      `json:"exhausted"`
}

// Manager holds budget trackers for all configured providers.
type Manager struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewManagerFromConfig builds trackers from the providers config.
func NewManagerFromConfig(cfg *config.ProvidersConfig) *Manager {
	m := &Manager{trackers: make(map[string]*Tracker)}
	for name, p := range cfg.Providers {
		if p.Enabled {
			m.trackers[name] = NewTracker(name, int64(p.DailyBudget), cfg.Budget.ResetHour, cfg.Budget.WarnThreshold)
		}
	}
	return m
}

// Consume records a request for provider. Unknown providers are unbudgeted.
func (m *Manager) Consume(provider string) error {
	m.mu.RLock()
	tracker, exists := m.trackers[provider]
	m.mu.RUnlock()
	if !exists {
		return nil
	}
	return tracker.Consume()
}

// Stats returns budget snapshots for every tracked provider.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stats, len(m.trackers))
	for name, tracker := range m.trackers {
		out[name] = tracker.Stats()
	}
	return out
}
