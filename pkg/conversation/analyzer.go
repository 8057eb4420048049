// Package conversation scores a call transcript for fraud by segmenting it
// into speaker turns and matching it against configurable evidence tables.
//
// The analyzer is a pure function of its input and its immutable tables. It
// never returns an error: empty input yields a neutral zero-risk result.
package conversation

import (
	"fmt"
	"math"
	"strings"
)

// Flow classifies the overall shape of a conversation.
type Flow string

const (
	FlowNormal            Flow = "normal"
	FlowCallerDominant    Flow = "caller_dominant"
	FlowSuspiciousPattern Flow = "suspicious_pattern"
)

// NothingToAnalyze is the reasoning reported for empty transcripts.
const NothingToAnalyze = "No text to analyze"

// Evidence is everything the analyzer found in one transcript.
type Evidence struct {
	Turns           []Turn   `json:"turns"`
	Keywords        []string `json:"keywords"`
	Phrases         []string `json:"phrases"`
	TacticsCount    int      `json:"tactics_count"`
	UrgencyCount    int      `json:"urgency_count"`
	CallerPressure  float64  `json:"caller_pressure"`
	VictimConfusion float64  `json:"victim_confusion"`
	Flow            Flow     `json:"flow"`
	Escalated       bool     `json:"escalated"`
	Patterns        Patterns `json:"patterns"`
}

// Result is the outcome of [Analyzer.Analyze].
type Result struct {
	Evidence   Evidence `json:"evidence"`
	Risk       float64  `json:"risk"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithSegmenter replaces the default turn segmentation strategy.
func WithSegmenter(s Segmenter) Option {
	return func(a *Analyzer) {
		a.segmenter = s
	}
}

// Analyzer is safe for concurrent use; it holds no mutable state.
type Analyzer struct {
	tables    Tables
	segmenter Segmenter
}

// New returns an Analyzer over a private copy of tables. Entries are
// lower-cased once here so matching can stay allocation-light.
func New(tables Tables, opts ...Option) *Analyzer {
	a := &Analyzer{
		tables: Tables{
			FraudKeywords:     lowerAll(tables.FraudKeywords),
			SuspiciousPhrases: lowerAll(tables.SuspiciousPhrases),
			FraudTactics:      lowerAll(tables.FraudTactics),
			PressureWords:     lowerAll(tables.PressureWords),
			ConfusionWords:    lowerAll(tables.ConfusionWords),
			UrgencyWords:      lowerAll(tables.UrgencyWords),
		},
		segmenter: DefaultSegmenter(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Tables returns a copy of the analyzer's (lower-cased) evidence tables.
func (a *Analyzer) Tables() Tables {
	return Tables{
		FraudKeywords:     append([]string(nil), a.tables.FraudKeywords...),
		SuspiciousPhrases: append([]string(nil), a.tables.SuspiciousPhrases...),
		FraudTactics:      append([]string(nil), a.tables.FraudTactics...),
		PressureWords:     append([]string(nil), a.tables.PressureWords...),
		ConfusionWords:    append([]string(nil), a.tables.ConfusionWords...),
		UrgencyWords:      append([]string(nil), a.tables.UrgencyWords...),
	}
}

// Analyze segments transcript, gathers evidence and scores it.
func (a *Analyzer) Analyze(transcript string) Result {
	if strings.TrimSpace(transcript) == "" {
		return Result{Reasoning: NothingToAnalyze}
	}

	turns, _ := a.segmenter.Segment(transcript)
	lower := strings.ToLower(transcript)

	ev := Evidence{
		Turns:        turns,
		Keywords:     matched(a.tables.FraudKeywords, lower),
		Phrases:      matched(a.tables.SuspiciousPhrases, lower),
		TacticsCount: len(matched(a.tables.FraudTactics, lower)),
		UrgencyCount: len(matched(a.tables.UrgencyWords, lower)),
		Patterns:     MatchPatterns(transcript),
	}

	var caller, victim []string
	for _, t := range turns {
		switch t.Speaker {
		case RoleCaller:
			caller = append(caller, strings.ToLower(t.Text))
		case RoleVictim:
			victim = append(victim, strings.ToLower(t.Text))
		}
	}

	ev.Flow = a.classifyFlow(caller, victim)
	if len(caller) >= 2 {
		ev.Escalated = hits(a.tables.PressureWords, caller[len(caller)-1]) > hits(a.tables.PressureWords, caller[0])
	}
	ev.CallerPressure = behaviourScore(a.tables.PressureWords, caller)
	ev.VictimConfusion = behaviourScore(a.tables.ConfusionWords, victim)

	risk := score(ev)
	return Result{
		Evidence:   ev,
		Risk:       risk,
		Confidence: confidence(ev),
		Reasoning:  reasoning(ev, risk),
	}
}

func (a *Analyzer) classifyFlow(caller, victim []string) Flow {
	if float64(len(caller)) > 1.5*float64(len(victim)) {
		return FlowCallerDominant
	}
	joined := strings.Join(caller, " ")
	for _, tactic := range a.tables.FraudTactics {
		if strings.Contains(joined, tactic) {
			return FlowSuspiciousPattern
		}
	}
	return FlowNormal
}

// behaviourScore is the mean number of word hits per turn, capped at 1.
func behaviourScore(words, turns []string) float64 {
	total := 0
	for _, t := range turns {
		total += hits(words, t)
	}
	return math.Min(float64(total)/float64(max(len(turns), 1)), 1)
}

func score(ev Evidence) float64 {
	var risk float64
	switch ev.Flow {
	case FlowSuspiciousPattern:
		risk += 0.3
	case FlowCallerDominant:
		risk += 0.15
	}
	if ev.Escalated {
		risk += 0.1
	}
	risk += 0.2 * ev.CallerPressure
	risk += 0.2 * ev.VictimConfusion
	risk += 0.05 * float64(len(ev.Keywords))
	risk += 0.08 * float64(len(ev.Phrases))
	risk += 0.10 * float64(ev.TacticsCount)
	risk += 0.02 * float64(ev.UrgencyCount)
	return math.Min(risk, 1)
}

func confidence(ev Evidence) float64 {
	c := 0.6
	switch n := len(ev.Turns); {
	case n > 4:
		c += 0.2
	case n > 2:
		c += 0.1
	}
	if len(ev.Keywords) > 0 || len(ev.Phrases) > 0 {
		c += 0.2
	}
	return math.Min(c, 1)
}

const (
	maxKeywordSamples = 3
	maxPhraseSamples  = 2
)

func reasoning(ev Evidence, risk float64) string {
	var reasons []string
	if ev.Flow == FlowSuspiciousPattern {
		reasons = append(reasons, "Suspicious conversation pattern detected")
	}
	if ev.Escalated {
		reasons = append(reasons, "Caller pressure escalated during conversation")
	}
	if ev.CallerPressure > 0.5 {
		reasons = append(reasons, fmt.Sprintf("High caller pressure level (%.2f)", ev.CallerPressure))
	}
	if ev.VictimConfusion > 0.3 {
		reasons = append(reasons, fmt.Sprintf("Victim confusion indicators (%.2f)", ev.VictimConfusion))
	}
	if len(ev.Keywords) > 0 {
		reasons = append(reasons, "Fraud keywords: "+strings.Join(head(ev.Keywords, maxKeywordSamples), ", "))
	}
	if len(ev.Phrases) > 0 {
		reasons = append(reasons, "Suspicious phrases: "+strings.Join(head(ev.Phrases, maxPhraseSamples), ", "))
	}
	if ev.TacticsCount > 0 {
		reasons = append(reasons, fmt.Sprintf("%d fraud tactics detected", ev.TacticsCount))
	}
	reasons = append(reasons, Tier(risk))
	return strings.Join(reasons, "; ")
}

// Tier labels a risk value as high (> 0.7), medium (> 0.4) or low.
func Tier(risk float64) string {
	switch {
	case risk > 0.7:
		return "HIGH RISK: Multiple fraud indicators present"
	case risk > 0.4:
		return "MEDIUM RISK: Some suspicious patterns detected"
	default:
		return "LOW RISK: Conversation appears normal"
	}
}

// matched returns the entries of list that occur in text, in list order.
func matched(list []string, text string) []string {
	out := []string{}
	for _, entry := range list {
		if entry != "" && strings.Contains(text, entry) {
			out = append(out, entry)
		}
	}
	return out
}

func hits(list []string, text string) int {
	n := 0
	for _, entry := range list {
		if entry != "" && strings.Contains(text, entry) {
			n++
		}
	}
	return n
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
