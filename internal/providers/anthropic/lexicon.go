package anthropic

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Lexicon is the deterministic fallback scorer. It counts crypto-flavored
// positive and negative words and maps the balance onto the same 0-100 scale
// the API produces.
type Lexicon struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

var positiveWords = []string{
	"bullish", "moon", "pump", "surge", "rally", "breakout", "adoption",
	"partnership", "upgrade", "ath", "gain", "gains", "profit", "buy",
	"strong", "growth", "soar", "undervalued", "accumulate", "support",
}

var negativeWords = []string{
	"bearish", "dump", "crash", "scam", "rug", "rugpull", "hack", "exploit",
	"fud", "sell", "drop", "decline", "loss", "losses", "fear", "lawsuit",
	"delisting", "ponzi", "overvalued", "liquidation",
}

func NewLexicon() *Lexicon {
	l := &Lexicon{
		positive: make(map[string]struct{}, len(positiveWords)),
		negative: make(map[string]struct{}, len(negativeWords)),
	}
	for _, w := range positiveWords {
		l.positive[w] = struct{}{}
	}
	for _, w := range negativeWords {
		l.negative[w] = struct{}{}
	}
	return l
}

// Score rates text on the 0-100 scale. No matched words reads as neutral 50
// with low confidence.
func (l *Lexicon) Score(text string) Sentiment {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var pos, neg int
	var matched []string
	seen := make(map[string]struct{})
	for _, w := range words {
		_, isPos := l.positive[w]
		_, isNeg := l.negative[w]
		if !isPos && !isNeg {
			continue
		}
		if isPos {
			pos++
		} else {
			neg++
		}
		if _, dup := seen[w]; !dup && len(matched) < 5 {
			matched = append(matched, w)
			seen[w] = struct{}{}
		}
	}

	score := 50.0
	hits := pos + neg
	if hits > 0 {
		score = clamp(50+float64(pos-neg)/float64(hits)*50, 0, 100)
	}

	confidence := 0.35
	if hits > 0 {
		confidence = math.Min(0.85, 0.45+0.08*float64(hits))
	}

	return Sentiment{
		Score:      score,
		Label:      labelFor(score),
		Confidence: confidence,
		Keywords:   matched,
		Simulated:  true,
	}
}

// lexiconSummary aggregates lexicon scores over a batch of texts.
func (c *Client) lexiconSummary(texts []string) *Summary {
	var total float64
	keywordCounts := make(map[string]int)
	for _, t := range texts {
		s := c.lexicon.Score(t)
		total += s.Score
		for _, k := range s.Keywords {
			keywordCounts[k]++
		}
	}
	avg := total / float64(len(texts))

	keywords := make([]string, 0, len(keywordCounts))
	for k := range keywordCounts {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if keywordCounts[keywords[i]] != keywordCounts[keywords[j]] {
			return keywordCounts[keywords[i]] > keywordCounts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > 7 {
		keywords = keywords[:7]
	}

	label := labelFor(avg)
	return &Summary{
		Summary: fmt.Sprintf(
			"Aggregated sentiment across %d posts reads %s with an average score of %.0f.",
			len(texts), strings.ReplaceAll(label, "_", " "), avg),
		Sentiment: label,
		KeyPoints: keywords,
		Simulated: true,
	}
}
