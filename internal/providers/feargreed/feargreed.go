// Package feargreed is the alternative.me Fear & Greed Index client.
package feargreed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/providers"
)

const providerName = "feargreed"

const indexTTL = time.Hour

// MaxHistoryDays caps history requests.
const MaxHistoryDays = 100

// ErrInsufficientData is returned when there are not enough points for a
// trend comparison.
var ErrInsufficientData = errors.New("feargreed: insufficient data for trend analysis")

// Client calls alternative.me through the shared guarded transport.
type Client struct {
	transport *providers.Client
	baseURL   string
}

func New(transport *providers.Client, cfg config.ProviderConfig) *Client {
	return &Client{
		transport: transport,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// IndexPoint is one reading of the index.
type IndexPoint struct {
	Value           int       `json:"value"`
	Classification  string    `json:"value_classification"`
	Timestamp       time.Time `json:"timestamp"`
	Date            string    `json:"date"`
	TimeUntilUpdate int64     `json:"time_until_update,omitempty"`
}

// The API returns every numeric field as a string.
type apiPoint struct {
	Value           string `json:"value"`
	Classification  string `json:"value_classification"`
	Timestamp       string `json:"timestamp"`
	TimeUntilUpdate string `json:"time_until_update"`
}

func (c *Client) fetch(ctx context.Context, limit int) ([]IndexPoint, error) {
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	var resp struct {
		Data []apiPoint `json:"data"`
	}
	err := c.transport.Fetch(ctx, providers.Request{
		Provider: providerName,
		URL:      c.baseURL + "/?" + params.Encode(),
		CacheKey: fmt.Sprintf("fng:limit=%d", limit),
		TTL:      indexTTL,
	}, &resp)
	if err != nil && !errors.Is(err, providers.ErrDegraded) {
		return nil, err
	}

	points := make([]IndexPoint, 0, len(resp.Data))
	for _, p := range resp.Data {
		value, err := strconv.Atoi(p.Value)
		if err != nil {
			continue
		}
		ts, _ := strconv.ParseInt(p.Timestamp, 10, 64)
		point := IndexPoint{
			Value:          value,
			Classification: p.Classification,
			Timestamp:      time.Unix(ts, 0).UTC(),
			Date:           time.Unix(ts, 0).UTC().Format("2006-01-02"),
		}
		if p.TimeUntilUpdate != "" {
			point.TimeUntilUpdate, _ = strconv.ParseInt(p.TimeUntilUpdate, 10, 64)
		}
		points = append(points, point)
	}
	return points, nil
}

// Current returns today's index reading.
func (c *Client) Current(ctx context.Context) (*IndexPoint, error) {
	points, err := c.fetch(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, errors.New("feargreed: empty response")
	}
	return &points[0], nil
}

// Historical returns up to MaxHistoryDays readings, newest first.
func (c *Client) Historical(ctx context.Context, days int) ([]IndexPoint, error) {
	if days <= 0 {
		days = 30
	}
	if days > MaxHistoryDays {
		days = MaxHistoryDays
	}
	return c.fetch(ctx, days)
}

// Average is the mean index value over a window.
type Average struct {
	AverageValue   float64 `json:"average_value"`
	Classification string  `json:"classification"`
	Days           int     `json:"days"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
}

// GetAverage computes the mean index over the last days readings.
func (c *Client) GetAverage(ctx context.Context, days int) (*Average, error) {
	points, err := c.Historical(ctx, days)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, errors.New("feargreed: empty response")
	}

	sum := 0
	for _, p := range points {
		sum += p.Value
	}
	avg := float64(sum) / float64(len(points))

	return &Average{
		AverageValue:   round1(avg),
		Classification: Classify(avg),
		Days:           days,
		StartDate:      points[len(points)-1].Date,
		EndDate:        points[0].Date,
	}, nil
}

// Trend compares the last week against the one before it.
type Trend struct {
	RecentAverage         float64 `json:"recent_average"`
	EarlierAverage        float64 `json:"earlier_average"`
	ChangePercentage      float64 `json:"change_percentage"`
	Trend                 string  `json:"trend"`
	RecentClassification  string  `json:"recent_classification"`
	EarlierClassification string  `json:"earlier_classification"`
}

// GetTrend analyzes direction over the last two weeks. Needs at least 8
// readings: 7 recent plus at least one earlier.
func (c *Client) GetTrend(ctx context.Context, days int) (*Trend, error) {
	points, err := c.Historical(ctx, days)
	if err != nil {
		return nil, err
	}
	if len(points) < 8 {
		return nil, ErrInsufficientData
	}

	recent := points[:7]
	earlierEnd := len(points)
	if earlierEnd > 14 {
		earlierEnd = 14
	}
	earlier := points[7:earlierEnd]

	recentAvg := mean(recent)
	earlierAvg := mean(earlier)

	change := 0.0
	if earlierAvg != 0 {
		change = (recentAvg - earlierAvg) / earlierAvg * 100
	}

	var direction string
	switch {
	case change > 10:
		direction = "strong rise"
	case change > 3:
		direction = "rise"
	case change < -10:
		direction = "strong fall"
	case change < -3:
		direction = "fall"
	default:
		direction = "stable"
	}

	return &Trend{
		RecentAverage:         round1(recentAvg),
		EarlierAverage:        round1(earlierAvg),
		ChangePercentage:      round1(change),
		Trend:                 direction,
		RecentClassification:  Classify(recentAvg),
		EarlierClassification: Classify(earlierAvg),
	}, nil
}

// Classify maps an index value to its sentiment band.
func Classify(value float64) string {
	switch {
	case value <= 20:
		return "Extreme Fear"
	case value <= 40:
		return "Fear"
	case value <= 60:
		return "Neutral"
	case value <= 80:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}

func mean(points []IndexPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	sum := 0
	for _, p := range points {
		sum += p.Value
	}
	return float64(sum) / float64(len(points))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
