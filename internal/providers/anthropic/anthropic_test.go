package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiinsight/insight/internal/cache"
	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

func newClient(t *testing.T, handler http.Handler, apiKey string) *Client {
	t.Helper()
	base := "http://unused.local"
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		base = srv.URL
	}
	cfg := &config.ProvidersConfig{
		Providers: map[string]config.ProviderConfig{},
		Budget:    config.BudgetConfig{WarnThreshold: 0.8},
		Global:    config.GlobalConfig{MaxConcurrentPerHost: 4, UserAgent: "insight-test/1.0"},
	}
	return New(providers.New(cfg, cache.NewMemory()), config.ProviderConfig{BaseURL: base}, apiKey, "")
}

func completionReply(text string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content":     []map[string]string{{"type": "text", "text": text}},
			"model":       DefaultModel,
			"stop_reason": "end_turn",
		})
	})
}

func TestScoreTextKeylessUsesLexicon(t *testing.T) {
	client := newClient(t, nil, "")

	s, err := client.ScoreText(context.Background(), "massive pump and rally, very bullish breakout", "BTC")
	require.NoError(t, err)

	assert.True(t, s.Simulated)
	assert.Greater(t, s.Score, 50.0, "all-positive text scores above neutral")
	assert.Contains(t, []string{"slightly_positive", "positive", "very_positive"}, s.Label)
	assert.Contains(t, s.Keywords, "bullish")
}

func TestLexiconScoreBearish(t *testing.T) {
	lex := NewLexicon()

	s := lex.Score("obvious scam, expect a rug and a dump")
	assert.Less(t, s.Score, 50.0)
	assert.Equal(t, "very_negative", s.Label, "three negatives and no positives bottom out")
	assert.True(t, s.Simulated)
}

func TestLexiconScoreNeutral(t *testing.T) {
	lex := NewLexicon()

	s := lex.Score("the protocol released its quarterly report today")
	assert.InDelta(t, 50.0, s.Score, 0.001)
	assert.Equal(t, "neutral", s.Label)
	assert.InDelta(t, 0.35, s.Confidence, 0.001, "no matches keeps confidence low")
	assert.Empty(t, s.Keywords)
}

func TestLexiconScoreMixed(t *testing.T) {
	lex := NewLexicon()

	// Two positive hits against one negative: 50 + (1/3)*50.
	s := lex.Score("bullish rally despite the fud")
	assert.InDelta(t, 66.67, s.Score, 0.01)
	assert.Equal(t, "positive", s.Label)
}

func TestLabelBands(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{90, "very_positive"},
		{85, "very_positive"},
		{70, "positive"},
		{60, "slightly_positive"},
		{50, "neutral"},
		{45, "neutral"},
		{40, "slightly_negative"},
		{20, "negative"},
		{10, "very_negative"},
		{0, "very_negative"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, labelFor(tc.score), "score %.0f", tc.score)
	}
}

func TestScoreTextParsesCompletion(t *testing.T) {
	var gotReq messageRequest
	var gotHeaders http.Header
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		completionReply(`Here is the analysis:
{"score": 78, "sentiment": "positive", "confidence": 0.9, "keywords": ["upgrade", "adoption"]}`).ServeHTTP(w, r)
	}), "sk-test")

	s, err := client.ScoreText(context.Background(), "major upgrade shipping, adoption growing", "ETH")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", gotHeaders.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", gotHeaders.Get("anthropic-version"))
	assert.Equal(t, DefaultModel, gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Contains(t, gotReq.Messages[0].Content, "ETH")

	assert.False(t, s.Simulated)
	assert.InDelta(t, 78, s.Score, 0.001)
	assert.Equal(t, "positive", s.Label)
	assert.InDelta(t, 0.9, s.Confidence, 0.001)
	assert.Equal(t, []string{"upgrade", "adoption"}, s.Keywords)
}

func TestScoreTextClampsOutOfRangeScore(t *testing.T) {
	client := newClient(t, completionReply(`{"score": 240, "sentiment": "", "confidence": 3}`), "sk-test")

	s, err := client.ScoreText(context.Background(), "text", "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 100, s.Score, 0.001)
	assert.InDelta(t, 1, s.Confidence, 0.001)
	assert.Equal(t, "very_positive", s.Label, "empty label is derived from the score")
}

func TestScoreTextFallsBackOnProse(t *testing.T) {
	client := newClient(t, completionReply("I cannot produce JSON for this."), "sk-test")

	s, err := client.ScoreText(context.Background(), "bullish rally", "BTC")
	require.NoError(t, err)
	assert.True(t, s.Simulated, "unparseable completions degrade to the lexicon")
	assert.Greater(t, s.Score, 50.0)
}

func TestScoreTextTruncatesLongInput(t *testing.T) {
	var gotReq messageRequest
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		completionReply(`{"score": 50, "sentiment": "neutral", "confidence": 0.5}`).ServeHTTP(w, r)
	}), "sk-test")

	_, err := client.ScoreText(context.Background(), strings.Repeat("a", 9000), "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(gotReq.Messages[0].Content), maxTextLen+3)
	assert.True(t, strings.HasSuffix(gotReq.Messages[0].Content, "..."))
}

func TestSummarizeEmptyInput(t *testing.T) {
	client := newClient(t, nil, "sk-test")

	s, err := client.Summarize(context.Background(), nil, "BTC")
	require.NoError(t, err)
	assert.True(t, s.Simulated)
	assert.Equal(t, "neutral", s.Sentiment)
}

func TestSummarizeKeylessAggregates(t *testing.T) {
	client := newClient(t, nil, "")

	s, err := client.Summarize(context.Background(), []string{
		"bullish breakout incoming",
		"rally continues, strong gains",
		"some fud but mostly pump talk",
	}, "SOL")
	require.NoError(t, err)

	assert.True(t, s.Simulated)
	assert.Contains(t, s.Summary, "3 posts")
	assert.NotEmpty(t, s.KeyPoints)
	assert.Contains(t, []string{"slightly_positive", "positive", "very_positive"}, s.Sentiment)
}

func TestSummarizeParsesCompletion(t *testing.T) {
	client := newClient(t, completionReply(`{
		"summary": "Discussion centers on the upcoming upgrade.",
		"sentiment": "slightly_positive",
		"key_points": ["upgrade timeline", "staking yields"],
		"controversies": ["validator concentration"],
		"insights": ["watch the fork date"]
	}`), "sk-test")

	s, err := client.Summarize(context.Background(), []string{"post one", "post two"}, "ETH")
	require.NoError(t, err)

	assert.False(t, s.Simulated)
	assert.Equal(t, "slightly_positive", s.Sentiment)
	assert.Len(t, s.KeyPoints, 2)
	assert.Equal(t, []string{"validator concentration"}, s.Controversies)
}

func TestSummarizeFallsBackToProse(t *testing.T) {
	client := newClient(t, completionReply("Plain prose answer with no structure."), "sk-test")

	s, err := client.Summarize(context.Background(), []string{"post"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Plain prose answer with no structure.", s.Summary)
	assert.Equal(t, "neutral", s.Sentiment)
}

func TestExtractJSON(t *testing.T) {
	got, err := extractJSON(`prefix {"a": 1} suffix`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, got)

	_, err = extractJSON("no json here")
	assert.Error(t, err)
}
