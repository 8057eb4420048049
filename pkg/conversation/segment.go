package conversation

import (
	"regexp"
	"strings"
	"unicode"
)

// Role is the inferred part a speaker plays in the call.
type Role string

const (
	RoleCaller Role = "caller"
	RoleVictim Role = "victim"
)

// Turn is one contiguous utterance attributed to a single speaker.
type Turn struct {
	// Speaker is the normalised role of the speaker.
	Speaker Role `json:"speaker"`

	// Label is the raw label found in the transcript ("agent", "customer").
	// Empty when the role was assigned by a heuristic.
	Label string `json:"label,omitempty"`

	Text  string `json:"text"`
	Index int    `json:"index"`
}

// Segmenter splits a transcript into turns. ok reports whether the strategy
// applied to the transcript at all; a false result lets a [Chain] try the
// next strategy.
type Segmenter interface {
	Segment(transcript string) (turns []Turn, ok bool)
}

// Chain tries each segmenter in order and returns the first result that
// applies. When none applies it returns nil.
type Chain []Segmenter

var _ Segmenter = Chain(nil)

func (c Chain) Segment(transcript string) ([]Turn, bool) {
	for _, s := range c {
		if turns, ok := s.Segment(transcript); ok {
			return turns, true
		}
	}
	return nil, false
}

// DefaultSegmenter parses explicit speaker labels and falls back to
// alternating sentences.
func DefaultSegmenter() Segmenter {
	return Chain{LabeledSegmenter{}, AlternatingSegmenter{}}
}

var speakerLabel = regexp.MustCompile(`(?i)\b(caller|agent|representative|victim|customer|user)\s*:`)

var labelRoles = map[string]Role{
	"caller":         RoleCaller,
	"agent":          RoleCaller,
	"representative": RoleCaller,
	"victim":         RoleVictim,
	"customer":       RoleVictim,
	"user":           RoleVictim,
}

// LabeledSegmenter extracts turns introduced by speaker labels such as
// "Caller:" or "Customer:". Each turn runs until the next label. Text before
// the first label is ignored. It does not apply when no label is present.
type LabeledSegmenter struct{}

var _ Segmenter = LabeledSegmenter{}

func (LabeledSegmenter) Segment(transcript string) ([]Turn, bool) {
	locs := speakerLabel.FindAllStringSubmatchIndex(transcript, -1)
	if len(locs) == 0 {
		return nil, false
	}
	var turns []Turn
	for i, loc := range locs {
		end := len(transcript)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		text := strings.TrimSpace(transcript[loc[1]:end])
		if text == "" {
			continue
		}
		label := strings.ToLower(transcript[loc[2]:loc[3]])
		turns = append(turns, Turn{
			Speaker: labelRoles[label],
			Label:   label,
			Text:    text,
			Index:   len(turns),
		})
	}
	return turns, true
}

var sentenceBreak = regexp.MustCompile(`[.!?]+`)

// AlternatingSegmenter splits on sentence terminators and assigns roles
// caller, victim, caller, ... to the non-empty sentences. This is an
// approximation for transcripts without diarization: it has no knowledge of
// who actually spoke and should not be read as ground truth. It always
// applies.
type AlternatingSegmenter struct{}

var _ Segmenter = AlternatingSegmenter{}

func (AlternatingSegmenter) Segment(transcript string) ([]Turn, bool) {
	var turns []Turn
	for _, s := range sentenceBreak.Split(transcript, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		role := RoleCaller
		if len(turns)%2 == 1 {
			role = RoleVictim
		}
		turns = append(turns, Turn{Speaker: role, Text: s, Index: len(turns)})
	}
	return turns, true
}

// splitWords lower-cases s and splits it into letter/digit/apostrophe runs.
func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
