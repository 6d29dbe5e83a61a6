package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/lazypower/persona/internal/profile"
)

// Keyword lists for the heuristic paths. Matching is a lowercase substring
// test against one sentence, German and English side by side.
var (
	goalKeywords        = []string{"ziel", "möchte", "will", "want", "goal", "hope to", "plan to", "would like"}
	preferenceKeywords  = []string{"mag ", "liebe", "bevorzuge", "gerne", "lieber", "prefer", "i like", "i love", "enjoy"}
	challengeKeywords   = []string{"problem", "schwierig", "schwer", "herausforderung", "sorge", "angst", "struggle", "difficult", "hard for me", "challenge", "worried"}
	achievementKeywords = []string{"geschafft", "erreicht", "endlich", "stolz", "managed to", "achieved", "finally", "proud", "i did it"}

	experienceKeywords = map[profile.Experience][]string{
		profile.ExperienceBeginner:     {"anfänger", "neu dabei", "beginner", "just started", "new to"},
		profile.ExperienceIntermediate: {"fortgeschritten", "etwas erfahrung", "intermediate", "some experience"},
		profile.ExperienceExpert:       {"experte", "profi", "expert", "professional", "years of experience"},
	}
	frequencyKeywords = map[profile.Frequency][]string{
		profile.FrequencyDaily:   {"täglich", "jeden tag", "daily", "every day"},
		profile.FrequencyWeekly:  {"wöchentlich", "jede woche", "weekly", "every week"},
		profile.FrequencyMonthly: {"monatlich", "jeden monat", "monthly", "every month"},
		profile.FrequencyRare:    {"selten", "ab und zu", "rarely", "occasionally"},
	}
)

const minSentenceChars = 8

// sentences splits text on sentence punctuation and line breaks, dropping
// fragments too short to carry meaning.
func sentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', '\n', '\r', ';':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) >= minSentenceChars {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// matchExperience returns the first experience level whose keywords occur in
// lower, checking from most to least specific.
func matchExperience(lower string) profile.Experience {
	for _, e := range []profile.Experience{profile.ExperienceExpert, profile.ExperienceIntermediate, profile.ExperienceBeginner} {
		if containsAny(lower, experienceKeywords[e]) {
			return e
		}
	}
	return ""
}

func matchFrequency(lower string) profile.Frequency {
	for _, f := range []profile.Frequency{profile.FrequencyDaily, profile.FrequencyWeekly, profile.FrequencyMonthly, profile.FrequencyRare} {
		if containsAny(lower, frequencyKeywords[f]) {
			return f
		}
	}
	return ""
}
