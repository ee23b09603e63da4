package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiinsight/insight/internal/providers/anthropic"
	"github.com/defiinsight/insight/internal/providers/cryptopanic"
	"github.com/defiinsight/insight/internal/providers/telegram"
)

type stubScorer struct {
	summary       *anthropic.Summary
	summarizeErr  error
	summarizeGot  []string
	scoreByPhrase map[string]anthropic.Sentiment
}

func (s *stubScorer) ScoreText(_ context.Context, text, _ string) (*anthropic.Sentiment, error) {
	for phrase, sentiment := range s.scoreByPhrase {
		if strings.Contains(text, phrase) {
			out := sentiment
			return &out, nil
		}
	}
	return &anthropic.Sentiment{Score: 50, Label: "neutral", Confidence: 0.1}, nil
}

func (s *stubScorer) Summarize(_ context.Context, texts []string, _ string) (*anthropic.Summary, error) {
	s.summarizeGot = texts
	if s.summarizeErr != nil {
		return nil, s.summarizeErr
	}
	return s.summary, nil
}

type stubTextSource struct {
	name  string
	posts []SourcePost
	err   error
}

func (s *stubTextSource) Name() string { return s.name }

func (s *stubTextSource) Posts(_ context.Context, _ string) ([]SourcePost, error) {
	return s.posts, s.err
}

func postsWith(text string, n int, authors ...string) []SourcePost {
	posts := make([]SourcePost, n)
	for i := range posts {
		author := ""
		if i < len(authors) {
			author = authors[i]
		}
		posts[i] = SourcePost{Text: text, Author: author, Interactions: 10}
	}
	return posts
}

func TestSentimentAgentWeightedOverall(t *testing.T) {
	scorer := &stubScorer{
		scoreByPhrase: map[string]anthropic.Sentiment{
			"to the moon": {Score: 80, Label: "positive", Confidence: 0.8, Keywords: []string{"moon"}},
			"dump":        {Score: 40, Label: "slightly_negative", Confidence: 0.4},
		},
		summary: &anthropic.Summary{
			Summary:   "Bulls argue flows, bears argue fees.",
			Sentiment: "slightly_positive",
			KeyPoints: []string{"ETF flows", "network fees", "dev activity", "regulation", "memes"},
		},
	}
	agent := NewSentimentAgent(btcResolver(), scorer,
		&stubTextSource{name: "news", posts: postsWith("btc to the moon", 4, "coindesk", "theblock", "coindesk", "decrypt")},
		&stubTextSource{name: "telegram", posts: postsWith("whales dump again", 2, "user_1", "user_2")},
		&stubTextSource{name: "social", err: errors.New("api key missing")},
	)

	res, err := agent.Analyze(context.Background(), Request{Token: "btc"})
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", res.Token)

	report, ok := res.Data.(*SentimentReport)
	require.True(t, ok)

	// (80*0.8 + 40*0.4) / 1.2
	assert.InDelta(t, 66.67, report.Overall.Score, 0.01)
	assert.Equal(t, "positive", report.Overall.Label)
	assert.InDelta(t, 0.4, report.Overall.Confidence, 0.001)

	require.Len(t, report.Sources, 3)
	assert.Equal(t, 4, report.Sources["news"].SampleSize)
	assert.Equal(t, []string{"moon"}, report.Sources["news"].Keywords)
	assert.True(t, report.Sources["social"].NoData, "dead source degrades to no_data")
	assert.Equal(t, 50.0, report.Sources["social"].Score)

	assert.Equal(t, 6, report.Engagement.TotalMentions)
	assert.Equal(t, "medium", report.Engagement.ActivityLevel)
	assert.Equal(t, 5, report.Engagement.UniqueAuthors)
	assert.InDelta(t, 10.0, report.Engagement.AvgInteractions, 0.001)
	assert.Equal(t, 4, report.Engagement.MentionsBySource["news"])

	require.Len(t, report.Trends.Topics, 5)
	assert.Equal(t, "high", report.Trends.Topics[0].Relevance)
	assert.Equal(t, "high", report.Trends.Topics[1].Relevance)
	assert.Equal(t, "medium", report.Trends.Topics[2].Relevance)
	assert.Equal(t, "low", report.Trends.Topics[4].Relevance)
	assert.False(t, report.Trends.Simulated)
	require.NotEmpty(t, scorer.summarizeGot)
	assert.LessOrEqual(t, len(scorer.summarizeGot), maxScoredTexts)
}

func TestSentimentAgentNoDataAnywhere(t *testing.T) {
	scorer := &stubScorer{}
	agent := NewSentimentAgent(btcResolver(), scorer,
		&stubTextSource{name: "news"},
		&stubTextSource{name: "telegram"},
	)

	res, err := agent.Analyze(context.Background(), Request{Token: "btc"})
	require.NoError(t, err)

	report := res.Data.(*SentimentReport)
	assert.Equal(t, 50.0, report.Overall.Score)
	assert.Equal(t, "neutral", report.Overall.Label)
	assert.Zero(t, report.Overall.Confidence)
	assert.Equal(t, "low", report.Engagement.ActivityLevel)
	assert.True(t, report.Trends.Simulated)
	assert.NotEmpty(t, report.Trends.Topics, "trends fall back to defaults")
}

func TestSentimentAgentSummarizeFailure(t *testing.T) {
	scorer := &stubScorer{summarizeErr: errors.New("model unavailable")}
	agent := NewSentimentAgent(btcResolver(), scorer,
		&stubTextSource{name: "news", posts: postsWith("steady chop", 3)},
	)

	res, err := agent.Analyze(context.Background(), Request{Token: "btc"})
	require.NoError(t, err)

	report := res.Data.(*SentimentReport)
	assert.True(t, report.Trends.Simulated)
	assert.Equal(t, defaultTrends, report.Trends.Topics)
}

func TestClassifySentimentBands(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{90, "very_positive"},
		{70, "positive"},
		{60, "slightly_positive"},
		{50, "neutral"},
		{40, "slightly_negative"},
		{20, "negative"},
		{5, "very_negative"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifySentiment(tc.score), "score %.0f", tc.score)
	}
}

type stubNewsFeed struct {
	page *cryptopanic.PostsPage
}

func (s *stubNewsFeed) Posts(_ context.Context, _ cryptopanic.PostsQuery) (*cryptopanic.PostsPage, error) {
	return s.page, nil
}

func TestNewsSourceMapsPosts(t *testing.T) {
	feed := &stubNewsFeed{page: &cryptopanic.PostsPage{Results: []cryptopanic.Post{
		{
			Title:       "Bitcoin ETF sees record inflows",
			Domain:      "coindesk.com",
			PublishedAt: "2026-08-20T10:00:00Z",
			Votes:       cryptopanic.Votes{Positive: 12, Negative: 2, Important: 3, Comments: 5},
		},
	}}}

	posts, err := NewNewsSource(feed).Posts(context.Background(), "BTC")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Bitcoin ETF sees record inflows", posts[0].Text)
	assert.Equal(t, "coindesk.com", posts[0].Author)
	assert.Equal(t, 22, posts[0].Interactions)
	assert.Equal(t, time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), posts[0].PublishedAt)
}

func TestTelegramSourceMapsMessages(t *testing.T) {
	posts, err := NewTelegramSource(telegram.NewSimulated()).Posts(context.Background(), "PEPE")
	require.NoError(t, err)
	require.NotEmpty(t, posts)
	for _, p := range posts {
		assert.Contains(t, p.Text, "PEPE")
		assert.NotEmpty(t, p.Author)
	}
}
