// Package oracle defines the Classifier interface for advisory text
// classification services.
//
// An oracle looks at a transcript and returns a sentiment label with a score.
// Its opinion is only ever blended into the rule-based conversation risk; it
// never decides a verdict on its own. A Classifier that is unreachable simply
// returns an error and the caller proceeds without it.
//
// Implementations must be safe for concurrent use.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Well-known labels.
const (
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
	LabelPositive = "positive"
)

// ErrMalformed is returned when a backend answer cannot be parsed into a
// Classification.
var ErrMalformed = errors.New("oracle: malformed classification")

// Classification is a sentiment label and the classifier's score for it.
type Classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier is the abstraction over any text classification backend.
type Classifier interface {
	// Classify labels text. An error means the oracle is unavailable for this
	// request.
	Classify(ctx context.Context, text string) (Classification, error)
}

// RiskFromSentiment maps a classification onto a fraud risk in [0,1].
// Strongly negative text (score > 0.7) maps to 0.6·score. Very positive text
// (score > 0.8) maps to 0.3·score, since unsolicited enthusiasm is a mild
// scam marker. Everything else maps to 0.
func RiskFromSentiment(c Classification) float64 {
	score := math.Max(0, math.Min(c.Score, 1))
	switch strings.ToLower(strings.TrimSpace(c.Label)) {
	case LabelNegative:
		if score > 0.7 {
			return score * 0.6
		}
	case LabelPositive:
		if score > 0.8 {
			return score * 0.3
		}
	}
	return 0
}

// SystemPrompt instructs a chat model to answer with a bare JSON object.
const SystemPrompt = `You classify the sentiment of phone call transcripts.
Answer with a single JSON object and nothing else:
{"label": "negative" | "neutral" | "positive", "score": <confidence between 0 and 1>}`

// UserPrompt wraps a transcript for classification.
func UserPrompt(transcript string) string {
	return "Transcript:\n" + transcript
}

// ParseClassification extracts a Classification from a model reply. It
// tolerates surrounding prose and Markdown code fences by decoding the first
// {...} span. The label is lower-cased and must be one of the well-known
// labels; the score must lie in [0,1].
func ParseClassification(reply string) (Classification, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end < start {
		return Classification{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformed, truncate(reply, 80))
	}

	var c Classification
	if err := json.Unmarshal([]byte(reply[start:end+1]), &c); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	c.Label = strings.ToLower(strings.TrimSpace(c.Label))
	switch c.Label {
	case LabelNegative, LabelNeutral, LabelPositive:
	default:
		return Classification{}, fmt.Errorf("%w: unknown label %q", ErrMalformed, c.Label)
	}
	if math.IsNaN(c.Score) || c.Score < 0 || c.Score > 1 {
		return Classification{}, fmt.Errorf("%w: score %v out of range", ErrMalformed, c.Score)
	}
	return c, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
