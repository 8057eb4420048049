// Package store defines the persisted form of a finished call and the
// repository interfaces used to save and query call history.
//
// The call controller only needs a [Sink]. The history API, retention loop
// and similarity search use the wider [Repository]. Two implementations are
// provided: store/postgres (pgx + pgvector) and store/memstore (in-process).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/callsentry/pkg/acoustic"
	"github.com/MrWong99/callsentry/pkg/conversation"
	"github.com/MrWong99/callsentry/pkg/fusion"
)

// ErrNotFound is returned by Get when no record has the requested id.
var ErrNotFound = errors.New("store: record not found")

// HighRiskThreshold is the fused risk above which a call counts as high risk
// in [Stats].
const HighRiskThreshold = 0.7

// Pipeline stage names recorded in [Record.FailedStages].
const (
	StageTranscription = "transcription"
	StageOracle        = "oracle"
	StageEmbedding     = "embedding"
)

// ConversationSummary is the persisted digest of a conversation analysis.
type ConversationSummary struct {
	Turns           int                   `json:"turns"`
	Keywords        []string              `json:"keywords"`
	Phrases         []string              `json:"phrases"`
	TacticsCount    int                   `json:"tactics_count"`
	CallerPressure  float64               `json:"caller_pressure"`
	VictimConfusion float64               `json:"victim_confusion"`
	Flow            conversation.Flow     `json:"flow"`
	Patterns        conversation.Patterns `json:"patterns"`
	Risk            float64               `json:"risk"`
	Confidence      float64               `json:"confidence"`
	Reasoning       string                `json:"reasoning"`
}

// Summarize condenses a conversation analysis for storage.
func Summarize(r conversation.Result) ConversationSummary {
	return ConversationSummary{
		Turns:           len(r.Evidence.Turns),
		Keywords:        r.Evidence.Keywords,
		Phrases:         r.Evidence.Phrases,
		TacticsCount:    r.Evidence.TacticsCount,
		CallerPressure:  r.Evidence.CallerPressure,
		VictimConfusion: r.Evidence.VictimConfusion,
		Flow:            r.Evidence.Flow,
		Patterns:        r.Evidence.Patterns,
		Risk:            r.Risk,
		Confidence:      r.Confidence,
		Reasoning:       r.Reasoning,
	}
}

// Record is one finished call.
type Record struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at"`
	Duration   time.Duration `json:"duration"`
	Transcript string        `json:"transcript"`

	AudioFeatures acoustic.FeatureBundle `json:"audio_features"`
	AudioRisk     float64                `json:"audio_risk"`
	Conversation  ConversationSummary    `json:"conversation"`
	Fusion        fusion.Result          `json:"fusion"`

	FusedRisk    float64 `json:"fused_risk"`
	IsSuspicious bool    `json:"is_suspicious"`

	// FailedStages names the final-pass stages that failed; their fields
	// are left zero.
	FailedStages []string `json:"failed_stages,omitempty"`

	// Embedding is the transcript embedding used for similarity search.
	// Query results do not populate it.
	Embedding []float32 `json:"-"`
}

// Analysis is one intermediate verdict recorded while a call was live.
type Analysis struct {
	CallID           string    `json:"call_id"`
	At               time.Time `json:"at"`
	Transcript       string    `json:"transcript"`
	AudioRisk        float64   `json:"audio_risk"`
	ConversationRisk float64   `json:"conversation_risk"`
	FusedRisk        float64   `json:"fused_risk"`
	IsSuspicious     bool      `json:"is_suspicious"`
	Reasoning        string    `json:"reasoning"`
}

// Stats aggregates the calls started in a time window.
type Stats struct {
	Total          int           `json:"total"`
	Suspicious     int           `json:"suspicious"`
	HighRisk       int           `json:"high_risk"`
	AvgRisk        float64       `json:"avg_risk"`
	AvgDuration    time.Duration `json:"avg_duration"`
	SuspiciousRate float64       `json:"suspicious_rate"`
}

// Match is a record returned by a similarity search.
type Match struct {
	Record
	// Distance is the cosine distance to the query vector (0 = identical).
	Distance float64 `json:"distance"`
}

// Sink receives finished call records.
type Sink interface {
	Save(ctx context.Context, r Record) error
}

// AnalysisSink receives per-tick verdicts. Saving them is best effort.
type AnalysisSink interface {
	SaveAnalysis(ctx context.Context, a Analysis) error
}

// Repository stores call records and answers historical queries.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	Sink
	AnalysisSink

	// Get returns the record with id or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Suspicious returns suspicious calls started at or after since,
	// highest fused risk first.
	Suspicious(ctx context.Context, since time.Time) ([]Record, error)

	// Stats aggregates calls started at or after since.
	Stats(ctx context.Context, since time.Time) (Stats, error)

	// Cleanup deletes records and analyses started before olderThan and
	// returns the number of call records removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Similar returns the k records whose transcript embeddings are closest
	// to embedding, nearest first. Records without an embedding are skipped.
	Similar(ctx context.Context, embedding []float32, k int) ([]Match, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// SuspiciousRate returns suspicious/total, or 0 when total is 0.
func SuspiciousRate(suspicious, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(suspicious) / float64(total)
}
