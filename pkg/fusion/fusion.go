// Package fusion combines the acoustic and conversational risk signals of a
// call into one explainable verdict.
package fusion

import (
	"fmt"
	"math"
	"strings"
)

// DefaultSuspiciousThreshold is the fused risk at or above which a call is
// flagged when no other threshold is configured.
const DefaultSuspiciousThreshold = 0.6

const (
	audioWeight        = 0.5
	conversationWeight = 0.5
	// oracleShare is the part of the conversation side taken by the oracle
	// when an oracle signal is available.
	oracleShare = 0.3
)

// Contribution source names.
const (
	SourceAudio        = "audio"
	SourceConversation = "conversation"
	SourceOracle       = "oracle"
)

// OracleSignal is an advisory opinion from an external text classifier.
type OracleSignal struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
	// Risk is the signal already mapped onto a fraud risk in [0,1].
	Risk float64 `json:"risk"`
}

// Input collects the per-analyzer results to fuse.
type Input struct {
	AudioRisk       float64
	AudioConfidence float64
	// AudioFactors names the acoustic triggers that fired, for reasoning.
	AudioFactors []string

	ConversationRisk       float64
	ConversationConfidence float64
	ConversationReasoning  string

	// Oracle is nil when no classifier is configured or it was unavailable.
	Oracle *OracleSignal
}

// Contribution records how one source entered the fused risk.
type Contribution struct {
	Source string  `json:"source"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// Result is the fused verdict.
type Result struct {
	FusedRisk           float64        `json:"fused_risk"`
	IsSuspicious        bool           `json:"is_suspicious"`
	Confidence          float64        `json:"confidence"`
	Reasoning           string         `json:"reasoning"`
	ContributingFactors []Contribution `json:"contributing_factors"`
}

// Option configures an [Engine].
type Option func(*Engine)

// WithSuspiciousThreshold overrides [DefaultSuspiciousThreshold].
func WithSuspiciousThreshold(t float64) Option {
	return func(e *Engine) {
		e.threshold = t
	}
}

// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	threshold float64
}

// New returns an Engine with the given options applied.
func New(opts ...Option) *Engine {
	e := &Engine{threshold: DefaultSuspiciousThreshold}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Threshold returns the suspicious threshold in use.
func (e *Engine) Threshold() float64 { return e.threshold }

// Fuse averages audio and conversation risk. An oracle signal is blended
// into the conversation side (0.7 rules, 0.3 oracle) but never replaces it.
func (e *Engine) Fuse(in Input) Result {
	audio := clamp01(in.AudioRisk)
	rules := clamp01(in.ConversationRisk)

	conv := rules
	factors := []Contribution{{Source: SourceAudio, Weight: audioWeight, Value: audio}}
	if in.Oracle != nil {
		o := clamp01(in.Oracle.Risk)
		conv = (1-oracleShare)*rules + oracleShare*o
		factors = append(factors,
			Contribution{Source: SourceConversation, Weight: conversationWeight * (1 - oracleShare), Value: rules},
			Contribution{Source: SourceOracle, Weight: conversationWeight * oracleShare, Value: o},
		)
	} else {
		factors = append(factors, Contribution{Source: SourceConversation, Weight: conversationWeight, Value: rules})
	}

	fused := clamp01(audioWeight*audio + conversationWeight*conv)
	return Result{
		FusedRisk:           fused,
		IsSuspicious:        fused >= e.threshold,
		Confidence:          math.Max(clamp01(in.AudioConfidence), clamp01(in.ConversationConfidence)),
		Reasoning:           reasoning(in, audio),
		ContributingFactors: factors,
	}
}

func reasoning(in Input, audio float64) string {
	var parts []string
	if in.ConversationReasoning != "" {
		parts = append(parts, in.ConversationReasoning)
	}
	audioPart := fmt.Sprintf("Audio risk %.2f", audio)
	if len(in.AudioFactors) > 0 {
		audioPart += " (" + strings.Join(in.AudioFactors, ", ") + ")"
	}
	parts = append(parts, audioPart)
	if in.Oracle != nil {
		parts = append(parts, fmt.Sprintf("Classifier %s (%.2f)", in.Oracle.Label, in.Oracle.Score))
	}
	return strings.Join(parts, "; ")
}

// clamp01 bounds v to [0,1]; NaN maps to 0.
func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
