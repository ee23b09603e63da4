// Package telegram defines the channel message source consumed by the
// sentiment agent. Deployments without Telegram credentials run on the
// deterministic simulated source, so sentiment analyses stay reproducible
// in development and in tests.
package telegram

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Message is one channel post.
type Message struct {
	Channel  string    `json:"channel"`
	Author   string    `json:"author"`
	Text     string    `json:"text"`
	PostedAt time.Time `json:"posted_at"`
	Views    int       `json:"views"`
	Replies  int       `json:"replies"`
}

// Source returns recent channel messages that mention a symbol.
type Source interface {
	MessagesAbout(ctx context.Context, symbol string, limit int) ([]Message, error)
}

// DefaultChannels are the public channels watched when none are configured.
var DefaultChannels = []string{"crypto_signals", "whale_alerts", "defi_discussions"}

var bullishTexts = []string{
	"%s breaking out of the range, volume is confirming the move",
	"Accumulating more %s on this dip, the thesis has not changed",
	"%s on-chain activity keeps climbing, smart money is positioning",
	"New partnership announced for %s, this is bigger than people think",
	"%s holding support beautifully, higher low after higher low",
	"The %s chart looks ready, just waiting for the weekly close",
}

var bearishTexts = []string{
	"%s rejected at resistance again, taking profits here",
	"Whale wallets moving %s to exchanges, be careful this week",
	"%s volume is drying up, this rally has no legs",
	"Unlock schedule for %s looks heavy next month, expect pressure",
	"%s lost the key level, next support is much lower",
}

var neutralTexts = []string{
	"What is everyone's take on %s after the latest update?",
	"Anyone following the %s governance vote this week?",
	"%s trading sideways for days now, waiting for a direction",
	"Comparing %s fees with the usual alternatives, numbers in thread",
	"Summary of today's %s community call is up",
}

// Simulated is a deterministic message source. The same symbol on the same
// UTC day always yields the same messages.
type Simulated struct {
	channels []string
	now      func() time.Time
}

func NewSimulated(channels ...string) *Simulated {
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	return &Simulated{channels: channels, now: time.Now}
}

func (s *Simulated) MessagesAbout(_ context.Context, symbol string, limit int) ([]Message, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("telegram: empty symbol")
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	now := s.now().UTC()
	seed := daySeed(symbol, now)

	count := 6 + seed%7
	if count > limit {
		count = limit
	}

	msgs := make([]Message, 0, count)
	for i := 0; i < count; i++ {
		text := pickText(seed, i, symbol)
		channel := s.channels[(seed+i)%len(s.channels)]
		views := 500 + (seed*(i+3))%4500
		msgs = append(msgs, Message{
			Channel:  channel,
			Author:   fmt.Sprintf("user_%04d", (seed+i*7)%10000),
			Text:     text,
			PostedAt: now.Add(-time.Duration(i) * 90 * time.Minute),
			Views:    views,
			Replies:  views / 40,
		})
	}
	return msgs, nil
}

// pickText rotates through the template pools with a per-symbol lean: a
// third of symbols read mostly bullish, a third mostly bearish, the rest
// mixed.
func pickText(seed, i int, symbol string) string {
	lean := seed % 3
	var pool []string
	switch (lean + i) % 3 {
	case 0:
		pool = bullishTexts
	case 1:
		pool = neutralTexts
	default:
		if lean == 1 {
			pool = bearishTexts
		} else {
			pool = bullishTexts
		}
	}
	return fmt.Sprintf(pool[(seed+i)%len(pool)], symbol)
}

func daySeed(symbol string, now time.Time) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s:%s", symbol, now.Format("2006-01-02"))
	return int(h.Sum32() % 100000)
}
