package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/providers/anthropic"
	"github.com/defiinsight/insight/internal/providers/cryptopanic"
	"github.com/defiinsight/insight/internal/providers/lunarcrush"
	"github.com/defiinsight/insight/internal/providers/telegram"
)

const (
	sourceTimeout  = 10 * time.Second
	maxScoredTexts = 10
)

// SourcePost is one piece of text about a token from any venue.
type SourcePost struct {
	Text         string
	Author       string
	PublishedAt  time.Time
	Interactions int
}

// TextSource yields recent posts about a symbol from one venue.
type TextSource interface {
	Name() string
	Posts(ctx context.Context, symbol string) ([]SourcePost, error)
}

// Scorer is the slice of the Anthropic client the sentiment agent needs.
type Scorer interface {
	ScoreText(ctx context.Context, text, token string) (*anthropic.Sentiment, error)
	Summarize(ctx context.Context, texts []string, token string) (*anthropic.Summary, error)
}

// SentimentReport is the sentiment agent's payload.
type SentimentReport struct {
	Token      string                     `json:"token"`
	CoinID     string                     `json:"coin_id"`
	Overall    OverallSentiment           `json:"overall_sentiment"`
	Sources    map[string]SourceSentiment `json:"sources"`
	Engagement EngagementInfo             `json:"engagement"`
	Trends     DiscussionTrends           `json:"discussion_trends"`
}

type OverallSentiment struct {
	Score      float64 `json:"score"`
	Label      string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

type SourceSentiment struct {
	Score      float64  `json:"score"`
	Label      string   `json:"sentiment"`
	Confidence float64  `json:"confidence"`
	SampleSize int      `json:"sample_size"`
	Keywords   []string `json:"keywords,omitempty"`
	NoData     bool     `json:"no_data,omitempty"`
}

type EngagementInfo struct {
	TotalMentions    int            `json:"total_mentions"`
	MentionsBySource map[string]int `json:"mentions_by_source"`
	UniqueAuthors    int            `json:"unique_authors"`
	AvgInteractions  float64        `json:"avg_interactions"`
	ActivityLevel    string         `json:"activity_level"` // high, medium, low
}

type DiscussionTrends struct {
	Summary   string       `json:"summary,omitempty"`
	Sentiment string       `json:"sentiment,omitempty"`
	Topics    []TrendTopic `json:"topics"`
	Simulated bool         `json:"is_simulated,omitempty"`
}

type TrendTopic struct {
	Topic     string `json:"topic"`
	Relevance string `json:"relevance"` // high, medium, low
}

// SentimentAgent aggregates community and news chatter about a token into
// one weighted score. Each source is fetched and scored independently; a
// dead source degrades to a neutral no-data entry instead of failing the
// analysis.
type SentimentAgent struct {
	resolver Resolver
	scorer   Scorer
	sources  []TextSource
}

func NewSentimentAgent(resolver Resolver, scorer Scorer, sources ...TextSource) *SentimentAgent {
	return &SentimentAgent{resolver: resolver, scorer: scorer, sources: sources}
}

func (a *SentimentAgent) Name() string { return "sentiment" }

func (a *SentimentAgent) Validate(req Request) error {
	if strings.TrimSpace(req.Token) == "" {
		return &ValidationError{Field: "token", Reason: "token reference is required"}
	}
	return nil
}

func (a *SentimentAgent) Analyze(ctx context.Context, req Request) (*Result, error) {
	res, err := a.resolver.Resolve(ctx, req.Token)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", req.Token, err)
	}

	type sourceOutcome struct {
		sentiment SourceSentiment
		posts     []SourcePost
	}

	outcomes := make(map[string]sourceOutcome, len(a.sources))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, src := range a.sources {
		wg.Add(1)
		go func(src TextSource) {
			defer wg.Done()

			srcCtx, cancel := context.WithTimeout(ctx, sourceTimeout)
			defer cancel()

			posts, err := src.Posts(srcCtx, res.Symbol)
			if err != nil {
				log.Warn().
					Err(err).
					Str("source", src.Name()).
					Str("token", res.ID).
					Msg("Sentiment source unavailable")
				posts = nil
			}
			sentiment := a.scoreSource(srcCtx, res.Symbol, posts)

			mu.Lock()
			outcomes[src.Name()] = sourceOutcome{sentiment: sentiment, posts: posts}
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	report := &SentimentReport{
		Token:   res.Symbol,
		CoinID:  res.ID,
		Sources: make(map[string]SourceSentiment, len(outcomes)),
	}

	var all []SourcePost
	mentions := make(map[string]int, len(outcomes))
	for name, out := range outcomes {
		report.Sources[name] = out.sentiment
		mentions[name] = len(out.posts)
		all = append(all, out.posts...)
	}

	report.Overall = overallSentiment(report.Sources)
	report.Engagement = engagementOf(all, mentions)
	report.Trends = a.discussionTrends(ctx, res.Symbol, all)

	return &Result{Token: res.ID, Symbol: res.Symbol, Data: report}, nil
}

// scoreSource rates one venue's texts as a single batch. No posts, or a
// scorer failure, yields the neutral no-data entry.
func (a *SentimentAgent) scoreSource(ctx context.Context, symbol string, posts []SourcePost) SourceSentiment {
	if len(posts) == 0 {
		return SourceSentiment{Score: 50, Label: "neutral", NoData: true}
	}

	texts := make([]string, 0, maxScoredTexts)
	for _, p := range posts {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		texts = append(texts, p.Text)
		if len(texts) == maxScoredTexts {
			break
		}
	}
	if len(texts) == 0 {
		return SourceSentiment{Score: 50, Label: "neutral", NoData: true}
	}

	scored, err := a.scorer.ScoreText(ctx, strings.Join(texts, "\n"), symbol)
	if err != nil {
		log.Warn().Err(err).Str("token", symbol).Msg("Scoring failed, treating source as neutral")
		return SourceSentiment{Score: 50, Label: "neutral", NoData: true}
	}

	return SourceSentiment{
		Score:      scored.Score,
		Label:      scored.Label,
		Confidence: scored.Confidence,
		SampleSize: len(posts),
		Keywords:   scored.Keywords,
	}
}

// overallSentiment is the confidence-weighted average across sources.
// All-neutral inputs (every source at zero confidence) stay at 50.
func overallSentiment(sources map[string]SourceSentiment) OverallSentiment {
	var weighted, confSum float64
	for _, s := range sources {
		weighted += s.Score * s.Confidence
		confSum += s.Confidence
	}
	if confSum == 0 {
		return OverallSentiment{Score: 50, Label: "neutral"}
	}

	score := weighted / confSum
	avgConf := confSum / float64(len(sources))
	return OverallSentiment{
		Score:      score,
		Label:      classifySentiment(score),
		Confidence: avgConf,
	}
}

func classifySentiment(score float64) string {
	switch {
	case score >= 85:
		return "very_positive"
	case score >= 65:
		return "positive"
	case score >= 55:
		return "slightly_positive"
	case score >= 45:
		return "neutral"
	case score >= 35:
		return "slightly_negative"
	case score >= 15:
		return "negative"
	default:
		return "very_negative"
	}
}

func engagementOf(posts []SourcePost, mentions map[string]int) EngagementInfo {
	info := EngagementInfo{
		TotalMentions:    len(posts),
		MentionsBySource: mentions,
	}

	authors := make(map[string]struct{})
	total := 0
	for _, p := range posts {
		if p.Author != "" {
			authors[strings.ToLower(p.Author)] = struct{}{}
		}
		total += p.Interactions
	}
	info.UniqueAuthors = len(authors)
	if len(posts) > 0 {
		info.AvgInteractions = float64(total) / float64(len(posts))
	}

	switch {
	case info.TotalMentions > 10:
		info.ActivityLevel = "high"
	case info.TotalMentions > 5:
		info.ActivityLevel = "medium"
	default:
		info.ActivityLevel = "low"
	}
	return info
}

// defaultTrends stands in when there is nothing to summarize.
var defaultTrends = []TrendTopic{
	{Topic: "price action", Relevance: "high"},
	{Topic: "project fundamentals", Relevance: "medium"},
	{Topic: "market conditions", Relevance: "medium"},
}

func (a *SentimentAgent) discussionTrends(ctx context.Context, symbol string, posts []SourcePost) DiscussionTrends {
	if len(posts) == 0 {
		return DiscussionTrends{Topics: defaultTrends, Simulated: true}
	}

	// Busiest posts first so the summary covers what people actually
	// engaged with.
	sorted := make([]SourcePost, len(posts))
	copy(sorted, posts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Interactions > sorted[j].Interactions
	})

	texts := make([]string, 0, maxScoredTexts)
	for _, p := range sorted {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		texts = append(texts, p.Text)
		if len(texts) == maxScoredTexts {
			break
		}
	}

	sum, err := a.scorer.Summarize(ctx, texts, symbol)
	if err != nil || sum == nil {
		log.Warn().Err(err).Str("token", symbol).Msg("Trend summary failed, using defaults")
		return DiscussionTrends{Topics: defaultTrends, Simulated: true}
	}

	trends := DiscussionTrends{
		Summary:   sum.Summary,
		Sentiment: sum.Sentiment,
		Simulated: sum.Simulated,
	}
	for i, point := range sum.KeyPoints {
		relevance := "low"
		switch {
		case i < 2:
			relevance = "high"
		case i < 4:
			relevance = "medium"
		}
		trends.Topics = append(trends.Topics, TrendTopic{Topic: point, Relevance: relevance})
	}
	if len(trends.Topics) == 0 {
		trends.Topics = defaultTrends
		trends.Simulated = true
	}
	return trends
}

// --- sources ---

// NewsFeed is the slice of the CryptoPanic client the news source needs.
type NewsFeed interface {
	Posts(ctx context.Context, q cryptopanic.PostsQuery) (*cryptopanic.PostsPage, error)
}

type newsSource struct {
	feed NewsFeed
}

// NewNewsSource adapts CryptoPanic headlines into sentiment posts.
func NewNewsSource(feed NewsFeed) TextSource {
	return &newsSource{feed: feed}
}

func (s *newsSource) Name() string { return "news" }

func (s *newsSource) Posts(ctx context.Context, symbol string) ([]SourcePost, error) {
	page, err := s.feed.Posts(ctx, cryptopanic.PostsQuery{Currencies: symbol, Kind: "news"})
	if err != nil {
		return nil, err
	}

	posts := make([]SourcePost, 0, len(page.Results))
	for _, p := range page.Results {
		published, _ := time.Parse(time.RFC3339, p.PublishedAt)
		posts = append(posts, SourcePost{
			Text:         p.Title,
			Author:       p.Domain,
			PublishedAt:  published,
			Interactions: p.Votes.Positive + p.Votes.Negative + p.Votes.Important + p.Votes.Comments,
		})
	}
	return posts, nil
}

// SocialFeed is the slice of the LunarCrush client the social source needs.
type SocialFeed interface {
	Feeds(ctx context.Context, symbol string, limit int) ([]lunarcrush.Feed, error)
}

type socialSource struct {
	feed SocialFeed
}

// NewSocialSource adapts the LunarCrush social feed into sentiment posts.
func NewSocialSource(feed SocialFeed) TextSource {
	return &socialSource{feed: feed}
}

func (s *socialSource) Name() string { return "social" }

func (s *socialSource) Posts(ctx context.Context, symbol string) ([]SourcePost, error) {
	feeds, err := s.feed.Feeds(ctx, symbol, 20)
	if err != nil {
		return nil, err
	}

	posts := make([]SourcePost, 0, len(feeds))
	for _, f := range feeds {
		posts = append(posts, SourcePost{
			Text:        f.Title,
			Author:      f.Type,
			PublishedAt: time.Unix(f.Time, 0).UTC(),
		})
	}
	return posts, nil
}

type telegramSource struct {
	src telegram.Source
}

// NewTelegramSource adapts channel messages into sentiment posts.
func NewTelegramSource(src telegram.Source) TextSource {
	return &telegramSource{src: src}
}

func (s *telegramSource) Name() string { return "telegram" }

func (s *telegramSource) Posts(ctx context.Context, symbol string) ([]SourcePost, error) {
	msgs, err := s.src.MessagesAbout(ctx, symbol, 20)
	if err != nil {
		return nil, err
	}

	posts := make([]SourcePost, 0, len(msgs))
	for _, m := range msgs {
		posts = append(posts, SourcePost{
			Text:         m.Text,
			Author:       m.Author,
			PublishedAt:  m.PostedAt,
			Interactions: m.Replies + m.Views/100,
		})
	}
	return posts, nil
}
