package conversation

// Tables holds the phrase lists the analyzer matches against. All matching
// is case-insensitive substring matching, so entries should be lower case
// fragments rather than whole words.
type Tables struct {
	FraudKeywords     []string `yaml:"fraud_keywords"`
	SuspiciousPhrases []string `yaml:"suspicious_phrases"`
	FraudTactics      []string `yaml:"fraud_tactics"`
	PressureWords     []string `yaml:"pressure_words"`
	ConfusionWords    []string `yaml:"confusion_words"`
	UrgencyWords      []string `yaml:"urgency_words"`
}

// DefaultTables returns the built-in evidence tables. The returned value
// owns fresh slices and may be modified by the caller.
func DefaultTables() Tables {
	return Tables{
		FraudKeywords: []string{
			"bank account", "credit card", "social security", "urgent", "verify",
			"suspended", "expired", "immediate action", "immediately", "press 1",
			"call back", "refund", "prize", "winner", "congratulations", "free",
			"limited time", "act now", "final notice", "you've been selected",
			"confirm your identity", "irs", "tax", "arrest", "lawsuit", "police",
			"fbi", "government",
		},
		SuspiciousPhrases: []string{
			"don't tell anyone", "keep this confidential", "this offer expires",
			"you must act immediately", "your account will be closed",
			"your account has been suspended", "verify your account",
			"we need to verify", "for security purposes", "this is your final warning",
			"you have been selected", "congratulations you've won", "claim your prize",
			"send money", "wire transfer", "gift cards", "bitcoin", "cryptocurrency",
		},
		FraudTactics: []string{
			"account suspended", "account has been suspended", "verify immediately",
			"final notice", "act now or", "limited time", "don't tell anyone",
			"this is confidential", "for security purposes",
		},
		PressureWords: []string{
			"you must", "you need to", "required by law", "immediately",
			"urgent", "now", "quickly", "press 1", "don't hang up",
		},
		ConfusionWords: []string{
			"what?", "i don't understand", "why?", "i didn't know",
			"really?", "are you sure?", "i'm confused", "wait",
		},
		UrgencyWords: []string{"urgent", "immediate", "now", "quickly"},
	}
}

// Vocabulary returns every distinct single word that occurs in the keyword,
// phrase and tactic lists. Transcript repair uses it as the set of terms
// worth snapping misheard tokens onto.
func (t Tables) Vocabulary() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{t.FraudKeywords, t.SuspiciousPhrases, t.FraudTactics} {
		for _, entry := range list {
			for _, w := range splitWords(entry) {
				if len(w) < 4 {
					continue
				}
				if _, ok := seen[w]; ok {
					continue
				}
				seen[w] = struct{}{}
				out = append(out, w)
			}
		}
	}
	return out
}
