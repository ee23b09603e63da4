// Package anthropic scores free-form text sentiment for the analysis agents
// through the Claude messages API. Without an API key every operation falls
// back to the deterministic lexicon scorer so analyses keep working offline,
// flagged as simulated.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/net/budget"
	"github.com/defiinsight/insight/internal/providers"
)

const providerName = "anthropic"

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-haiku-20240307"

const apiVersion = "2023-06-01"

const (
	maxTextLen       = 8000
	maxCombinedLen   = 12000
	maxTexts         = 10
	scoreMaxTokens   = 300
	summaryMaxTokens = 800
)

// Client scores and summarizes text through the messages API.
type Client struct {
	transport *providers.Client
	baseURL   string
	apiKey    string
	model     string
	lexicon   *Lexicon
}

func New(transport *providers.Client, cfg config.ProviderConfig, apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		transport: transport,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		lexicon:   NewLexicon(),
	}
}

// Sentiment is one scored piece of text.
type Sentiment struct {
	Score      float64  `json:"score"`
	Label      string   `json:"sentiment"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
	Simulated  bool     `json:"is_simulated,omitempty"`
}

const scoreSystemPrompt = `You are a sentiment analyst specialized in cryptocurrencies and DeFi.
Rate the overall sentiment of the provided text toward the mentioned asset or protocol.
Respond with JSON only, using these keys:
- score: 0 to 100, where 0 is extremely negative, 50 is neutral and 100 is extremely positive
- sentiment: one of "very_negative", "negative", "slightly_negative", "neutral", "slightly_positive", "positive", "very_positive"
- confidence: your confidence in the analysis, 0 to 1
- keywords: the 3-5 most important words of the text`

// ScoreText rates the sentiment of text toward token on a 0-100 scale. API
// and parse failures degrade to the lexicon scorer rather than erroring, so
// a sentiment analysis never dies on a single bad completion.
func (c *Client) ScoreText(ctx context.Context, text, token string) (*Sentiment, error) {
	if c.apiKey == "" {
		s := c.lexicon.Score(text)
		return &s, nil
	}

	if len(text) > maxTextLen {
		text = text[:maxTextLen] + "..."
	}
	prompt := text
	if token != "" {
		prompt = fmt.Sprintf("Text about %s:\n\n%s", token, text)
	}

	raw, err := c.complete(ctx, scoreSystemPrompt, prompt, scoreMaxTokens)
	if err != nil {
		log.Warn().Err(err).Str("token", token).Msg("Sentiment completion failed, using lexicon")
		s := c.lexicon.Score(text)
		return &s, nil
	}

	payload, err := extractJSON(raw)
	if err != nil {
		log.Warn().Str("token", token).Msg("Completion carried no JSON, using lexicon")
		s := c.lexicon.Score(text)
		return &s, nil
	}

	var s Sentiment
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		log.Warn().Err(err).Str("token", token).Msg("Completion JSON did not parse, using lexicon")
		ls := c.lexicon.Score(text)
		return &ls, nil
	}

	s.Score = clamp(s.Score, 0, 100)
	s.Confidence = clamp(s.Confidence, 0, 1)
	if s.Label == "" {
		s.Label = labelFor(s.Score)
	}
	return &s, nil
}

// Summary condenses a batch of discussions about a token.
type Summary struct {
	Summary       string   `json:"summary"`
	Sentiment     string   `json:"sentiment"`
	KeyPoints     []string `json:"key_points"`
	Controversies []string `json:"controversies,omitempty"`
	Insights      []string `json:"insights,omitempty"`
	Simulated     bool     `json:"is_simulated,omitempty"`
}

const summarySystemPrompt = `You are an analyst specialized in cryptocurrencies and DeFi.
Analyze the provided discussions and produce a concise summary of the main themes.
Respond with JSON only, using these keys:
- summary: 2-3 paragraphs covering the main discussion themes
- sentiment: the predominant overall sentiment ("very_negative", "negative", "slightly_negative", "neutral", "slightly_positive", "positive", "very_positive")
- key_points: 3-7 key points extracted from the discussions
- controversies: notable controversies or points of disagreement
- insights: up to 3 important insights or conclusions`

// Summarize condenses up to ten discussion texts into one report. Keyless
// operation aggregates lexicon scores instead of calling the API.
func (c *Client) Summarize(ctx context.Context, texts []string, token string) (*Summary, error) {
	if len(texts) == 0 {
		return &Summary{
			Summary:   "No discussion data available to summarize.",
			Sentiment: "neutral",
			Simulated: true,
		}, nil
	}
	if c.apiKey == "" {
		return c.lexiconSummary(texts), nil
	}

	if len(texts) > maxTexts {
		texts = texts[:maxTexts]
	}
	combined := strings.Join(texts, "\n---\n")
	if len(combined) > maxCombinedLen {
		combined = combined[:maxCombinedLen] + "..."
	}

	focus := ""
	if token != "" {
		focus = " about " + token
	}
	prompt := fmt.Sprintf("Please analyze these discussions%s:\n\n%s", focus, combined)

	raw, err := c.complete(ctx, summarySystemPrompt, prompt, summaryMaxTokens)
	if err != nil {
		log.Warn().Err(err).Str("token", token).Msg("Summary completion failed, using lexicon aggregate")
		return c.lexiconSummary(texts), nil
	}

	payload, err := extractJSON(raw)
	if err != nil {
		// Keep at least the prose when the model ignored the JSON instruction.
		if len(raw) > 500 {
			raw = raw[:500] + "..."
		}
		return &Summary{Summary: raw, Sentiment: "neutral"}, nil
	}

	var s Summary
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		if len(raw) > 500 {
			raw = raw[:500] + "..."
		}
		return &Summary{Summary: raw, Sentiment: "neutral"}, nil
	}
	if s.Sentiment == "" {
		s.Sentiment = "neutral"
	}
	return &s, nil
}

type messageRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// complete performs one messages call with up to three attempts on transient
// failures.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	body, err := json.Marshal(messageRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []chatMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: encoding request: %w", err)
	}

	var resp messageResponse
	err = retry.Do(
		func() error {
			return c.transport.Fetch(ctx, providers.Request{
				Provider: providerName,
				Method:   http.MethodPost,
				URL:      c.baseURL + "/messages",
				Headers: map[string]string{
					"x-api-key":         c.apiKey,
					"anthropic-version": apiVersion,
				},
				Body: body,
			}, &resp)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(shouldRetry),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", errors.New("anthropic: empty completion")
	}
	return resp.Content[0].Text, nil
}

// shouldRetry keeps retries away from errors another attempt cannot fix:
// client errors, exhausted budgets, and open circuits.
func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, providers.ErrDisabled) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var be *budget.ExhaustedError
	if errors.As(err, &be) {
		return false
	}
	var ue *providers.UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode >= 500 || ue.RateLimited()
	}
	return true
}

// extractJSON pulls the JSON object out of a completion that may wrap it in
// prose.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", errors.New("anthropic: no JSON object in completion")
	}
	return s[start : end+1], nil
}

func labelFor(score float64) string {
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

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
