package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
}

func TestSimulatedIsDeterministic(t *testing.T) {
	src := NewSimulated()
	src.now = fixedClock

	first, err := src.MessagesAbout(context.Background(), "BTC", 20)
	require.NoError(t, err)
	second, err := src.MessagesAbout(context.Background(), "btc", 20)
	require.NoError(t, err)

	assert.Equal(t, first, second, "same symbol and day must yield identical messages")
}

func TestSimulatedMessageShape(t *testing.T) {
	src := NewSimulated("alpha_calls")
	src.now = fixedClock

	msgs, err := src.MessagesAbout(context.Background(), "SOL", 20)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.LessOrEqual(t, len(msgs), 20)

	for _, m := range msgs {
		assert.Equal(t, "alpha_calls", m.Channel)
		assert.Contains(t, m.Text, "SOL")
		assert.NotEmpty(t, m.Author)
		assert.Positive(t, m.Views)
		assert.False(t, m.PostedAt.IsZero())
	}
}

func TestSimulatedHonorsLimit(t *testing.T) {
	src := NewSimulated()
	src.now = fixedClock

	msgs, err := src.MessagesAbout(context.Background(), "ETH", 3)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestSimulatedRejectsEmptySymbol(t *testing.T) {
	src := NewSimulated()

	_, err := src.MessagesAbout(context.Background(), "  ", 10)
	assert.Error(t, err)
}

func TestSimulatedVariesAcrossSymbols(t *testing.T) {
	src := NewSimulated()
	src.now = fixedClock

	btc, err := src.MessagesAbout(context.Background(), "BTC", 20)
	require.NoError(t, err)
	doge, err := src.MessagesAbout(context.Background(), "DOGE", 20)
	require.NoError(t, err)

	assert.NotEqual(t, btc[0].Text, doge[0].Text)
}
