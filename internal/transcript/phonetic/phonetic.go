// Package phonetic snaps misheard transcript tokens onto a fixed vocabulary
// using Double Metaphone codes and Jaro-Winkler similarity.
//
// A candidate is accepted only when both hold:
//
//  1. its Double Metaphone codes overlap with those of a vocabulary word, and
//  2. the Jaro-Winkler similarity between the two spellings is at least the
//     configured threshold (default 0.85).
//
// Among accepted words the most similar one wins. A pure spelling fallback
// without phonetic agreement can be enabled with [WithFuzzyThreshold]; it is
// off by default because short everyday words ("very") sit close to fraud
// vocabulary ("verify") in spelling but not in sound.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultThreshold      = 0.85
	defaultMaxLengthDelta = 2
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum Jaro-Winkler score for a phonetically
// agreeing word. Default: 0.85.
func WithThreshold(t float64) Option {
	return func(m *Matcher) { m.threshold = t }
}

// WithFuzzyThreshold enables the spelling-only fallback at threshold t.
// Values above 1 disable it, which is the default.
func WithFuzzyThreshold(t float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = t }
}

// WithMaxLengthDelta bounds how many characters a candidate may differ in
// length from a vocabulary word. Default: 2.
func WithMaxLengthDelta(n int) Option {
	return func(m *Matcher) { m.maxLengthDelta = n }
}

type entry struct {
	word  string
	codes [2]string
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	threshold      float64
	fuzzyThreshold float64
	maxLengthDelta int
	vocab          []entry
}

// New prepares vocabulary for matching. Words are lower-cased; blanks and
// duplicates are dropped.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		threshold:      defaultThreshold,
		fuzzyThreshold: 2,
		maxLengthDelta: defaultMaxLengthDelta,
	}
	for _, o := range opts {
		o(m)
	}

	seen := make(map[string]struct{}, len(vocabulary))
	for _, w := range vocabulary {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		p, s := matchr.DoubleMetaphone(w)
		m.vocab = append(m.vocab, entry{word: w, codes: [2]string{p, s}})
	}
	return m
}

// Len returns the number of vocabulary words.
func (m *Matcher) Len() int { return len(m.vocab) }

// Contains reports whether word is itself a vocabulary word.
func (m *Matcher) Contains(word string) bool {
	word = strings.ToLower(word)
	for _, e := range m.vocab {
		if e.word == word {
			return true
		}
	}
	return false
}

// Match returns the vocabulary word that candidate most plausibly is. When
// matched is false, word is empty and confidence is 0.
func (m *Matcher) Match(candidate string) (word string, confidence float64, matched bool) {
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if candidate == "" || len(m.vocab) == 0 {
		return "", 0, false
	}
	cp, cs := matchr.DoubleMetaphone(candidate)

	var (
		best         entry
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range m.vocab {
		if abs(len(e.word)-len(candidate)) > m.maxLengthDelta {
			continue
		}
		score := matchr.JaroWinkler(candidate, e.word, false)
		if codesOverlap(cp, cs, e.codes) {
			if score >= m.threshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = e, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	if best.word == "" {
		return "", 0, false
	}
	return best.word, bestScore, true
}

func codesOverlap(p, s string, codes [2]string) bool {
	for _, a := range [2]string{p, s} {
		if a == "" {
			continue
		}
		if a == codes[0] || a == codes[1] {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
