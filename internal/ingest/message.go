package ingest

import (
	"github.com/MrWong99/callsentry/internal/call"
	"github.com/MrWong99/callsentry/pkg/store"
)

// Event types pushed to the client as JSON text frames.
const (
	TypeStarted = "started"
	TypeVerdict = "verdict"
	TypeAlert   = "alert"
	TypeFinal   = "final"
)

// TypeEnd is the client's request to end the call: {"type":"end"}.
const TypeEnd = "end"

// Event is one server → client message.
type Event struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`

	// SampleRate is the rate the detector runs at; set on "started".
	SampleRate int `json:"sample_rate,omitempty"`

	Verdict *call.Verdict `json:"verdict,omitempty"`
	Alert   *call.Alert   `json:"alert,omitempty"`
	Final   *Summary      `json:"final,omitempty"`
}

// Summary is the finished call as reported to the client.
type Summary struct {
	DurationSeconds float64  `json:"duration_seconds"`
	Transcript      string   `json:"transcript"`
	AudioRisk       float64  `json:"audio_risk"`
	FusedRisk       float64  `json:"fused_risk"`
	IsSuspicious    bool     `json:"is_suspicious"`
	Reasoning       string   `json:"reasoning"`
	FailedStages    []string `json:"failed_stages,omitempty"`

	// Persisted is false when the record could not be stored.
	Persisted bool `json:"persisted"`
}

func summarize(rec store.Record, persisted bool) *Summary {
	return &Summary{
		DurationSeconds: rec.Duration.Seconds(),
		Transcript:      rec.Transcript,
		AudioRisk:       rec.AudioRisk,
		FusedRisk:       rec.FusedRisk,
		IsSuspicious:    rec.IsSuspicious,
		Reasoning:       rec.Fusion.Reasoning,
		FailedStages:    rec.FailedStages,
		Persisted:       persisted,
	}
}

type clientMessage struct {
	Type string `json:"type"`
}
