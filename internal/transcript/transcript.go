// Package transcript repairs raw speech-to-text output before it is
// analysed.
//
// Recognisers routinely mishear exactly the words fraud detection depends on
// ("suspendid", "bit coin"). A [Repairer] walks the transcript and snaps
// tokens, or pairs of tokens that were split apart, onto the evidence
// vocabulary when a [Matcher] is confident they sound the same. Everything
// else is left untouched, including punctuation.
//
// Sounding alike is not enough on its own. A rewrite must keep the consonants
// of the heard word in order, so only vowel-level mishearings are repaired
// ("suspendid" is, "suspenders" and "express" are not). Inflections of a
// vocabulary word ("suspend" for "suspended") are real speech and stay, and
// function words ("the", "it") are never glued onto a neighbour.
package transcript

import (
	"strings"
	"unicode"
)

// Correction records one substitution.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
}

// Matcher maps a candidate token onto a vocabulary word.
//
// Implementations must be safe for concurrent use.
type Matcher interface {
	// Match returns the vocabulary word candidate most plausibly is.
	Match(candidate string) (word string, confidence float64, matched bool)

	// Contains reports whether word already is a vocabulary word.
	Contains(word string) bool
}

const (
	defaultMinTokenLength = 4
	defaultMaxSpan        = 2
)

// Option configures a [Repairer].
type Option func(*Repairer)

// WithMinTokenLength skips tokens shorter than n letters. Default: 4.
func WithMinTokenLength(n int) Option {
	return func(r *Repairer) { r.minLen = n }
}

// WithMaxSpan sets how many adjacent tokens may be joined into one word.
// Default: 2.
func WithMaxSpan(n int) Option {
	return func(r *Repairer) { r.maxSpan = max(n, 1) }
}

// Repairer is safe for concurrent use.
type Repairer struct {
	matcher Matcher
	minLen  int
	maxSpan int
}

// New returns a Repairer backed by m.
func New(m Matcher, opts ...Option) *Repairer {
	r := &Repairer{matcher: m, minLen: defaultMinTokenLength, maxSpan: defaultMaxSpan}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Repair returns text with misheard vocabulary words restored.
func (r *Repairer) Repair(text string) string {
	out, _ := r.RepairDetailed(text)
	return out
}

// RepairDetailed is Repair plus the list of substitutions made.
//
// At each position the longest span of up to maxSpan tokens whose joined
// letters match a vocabulary word wins. Tokens that already are vocabulary
// words are never rewritten or joined.
func (r *Repairer) RepairDetailed(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || r.matcher == nil {
		return text, nil
	}
	cores := make([]token, len(tokens))
	for i, t := range tokens {
		cores[i] = split(t)
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n, word, conf := r.matchAt(cores, i)
		if n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		original := joinRaw(tokens[i : i+n])
		out = append(out, cores[i].lead+matchCase(cores[i].core, word)+cores[i+n-1].trail)
		corrections = append(corrections, Correction{Original: original, Corrected: word, Confidence: conf})
		i += n
	}
	return strings.Join(out, " "), corrections
}

// matchAt returns the number of tokens consumed at i, or 0 for no change.
func (r *Repairer) matchAt(cores []token, i int) (int, string, float64) {
	maxN := min(r.maxSpan, len(cores)-i)
	for n := maxN; n >= 1; n-- {
		span := cores[i : i+n]
		if !r.joinable(span) {
			continue
		}
		var b strings.Builder
		for _, c := range span {
			b.WriteString(c.core)
		}
		candidate := b.String()
		if len(candidate) < r.minLen || r.matcher.Contains(candidate) && n == 1 {
			continue
		}
		word, conf, ok := r.matcher.Match(candidate)
		if !ok || (n == 1 && strings.EqualFold(word, candidate)) {
			continue
		}
		if !plausible(strings.ToLower(candidate), word) {
			continue
		}
		return n, word, conf
	}
	return 0, "", 0
}

// joinable reports whether span may be treated as one spoken word: inner
// tokens carry no punctuation and none of them is a vocabulary word.
func (r *Repairer) joinable(span []token) bool {
	for j, c := range span {
		if c.core == "" {
			return false
		}
		if len(span) > 1 {
			if r.matcher.Contains(c.core) || isFunctionWord(c.core) {
				return false
			}
			if j < len(span)-1 && c.trail != "" || j > 0 && c.lead != "" {
				return false
			}
		}
	}
	return true
}

// plausible reports whether heard can be a mishearing of word rather than
// a different real word: neither is a proper prefix of the other and both
// share the same consonant skeleton.
func plausible(heard, word string) bool {
	if heard == word {
		return true
	}
	if strings.HasPrefix(word, heard) || strings.HasPrefix(heard, word) {
		return false
	}
	return skeleton(heard) == skeleton(word)
}

func skeleton(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		switch unicode.ToLower(r) {
		case 'a', 'e', 'i', 'o', 'u', 'y':
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

var functionWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "can": {}, "did": {}, "do": {}, "for": {}, "from": {},
	"had": {}, "has": {}, "have": {}, "he": {}, "her": {}, "him": {}, "his": {},
	"i": {}, "if": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {},
	"my": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "our": {},
	"she": {}, "so": {}, "that": {}, "the": {}, "them": {}, "then": {},
	"they": {}, "this": {}, "to": {}, "up": {}, "us": {}, "was": {}, "we": {},
	"were": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

func isFunctionWord(s string) bool {
	if len([]rune(s)) <= 2 {
		return true
	}
	_, ok := functionWords[strings.ToLower(s)]
	return ok
}

type token struct {
	lead, core, trail string
}

// split separates leading and trailing punctuation from a token.
func split(t string) token {
	start := strings.IndexFunc(t, isWordRune)
	if start < 0 {
		return token{lead: t}
	}
	end := strings.LastIndexFunc(t, isWordRune)
	// LastIndexFunc returns the byte offset of the rune's first byte.
	for end+1 < len(t) && !isRuneStart(t[end+1]) {
		end++
	}
	return token{lead: t[:start], core: t[start : end+1], trail: t[end+1:]}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func joinRaw(ts []string) string { return strings.Join(ts, " ") }

// matchCase capitalises word when the original started with a capital.
func matchCase(original, word string) string {
	if original == "" || word == "" {
		return word
	}
	first := []rune(original)[0]
	if unicode.IsUpper(first) {
		rs := []rune(word)
		rs[0] = unicode.ToUpper(rs[0])
		return string(rs)
	}
	return word
}

// Vocabulary returns the words of at least minLen letters, lower-cased. Short
// vocabulary words collide with everyday speech and are left to exact matching
// in the analyzer.
func Vocabulary(words []string, minLen int) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if len([]rune(w)) >= minLen && !strings.ContainsRune(w, ' ') {
			out = append(out, w)
		}
	}
	return out
}
