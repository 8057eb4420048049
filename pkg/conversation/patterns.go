package conversation

import "regexp"

// Patterns lists the regular-expression families that matched a transcript.
// They are reported as supporting evidence only and do not feed the risk
// score.
type Patterns struct {
	Urgency      []string `json:"urgency,omitempty"`
	Financial    []string `json:"financial,omitempty"`
	Verification []string `json:"verification,omitempty"`
}

// Count returns the total number of matched patterns.
func (p Patterns) Count() int {
	return len(p.Urgency) + len(p.Financial) + len(p.Verification)
}

var (
	urgencyPatterns = compileAll(
		`act (now|immediately|fast|quickly)`,
		`(urgent|emergency|asap)`,
		`(expires?|deadline) (today|soon|in \d+)`,
		`(last|final) (chance|opportunity|warning)`,
		`(limited|short) time`,
	)
	financialPatterns = compileAll(
		`(bank|credit card|account) (number|details|information)`,
		`(social security|ssn) number`,
		`(send|wire|transfer) money`,
		`(gift card|bitcoin|cryptocurrency)`,
		`(refund|rebate|prize|lottery)`,
		`\$\d+|\d+ dollars`,
	)
	verificationPatterns = compileAll(
		`(verify|confirm|validate) (your|account|identity)`,
		`(security|verification) (code|pin|password)`,
		`(update|provide) (your|personal) (information|details)`,
		`(suspended|locked|frozen) (account|card)`,
		`(unauthorized|suspicious) (activity|transaction)`,
	)
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// MatchPatterns reports which pattern families occur in text. Each entry is
// the first matching substring of one pattern.
func MatchPatterns(text string) Patterns {
	return Patterns{
		Urgency:      firstMatches(urgencyPatterns, text),
		Financial:    firstMatches(financialPatterns, text),
		Verification: firstMatches(verificationPatterns, text),
	}
}

func firstMatches(res []*regexp.Regexp, text string) []string {
	var out []string
	for _, re := range res {
		if m := re.FindString(text); m != "" {
			out = append(out, m)
		}
	}
	return out
}
