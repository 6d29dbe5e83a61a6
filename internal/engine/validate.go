package engine

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/lazypower/persona/internal/profile"
)

// truncateClean cuts s to at most maxRunes runes, backing up to the last
// word boundary when one sits in the second half of the kept text.
func truncateClean(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}

	truncated := r[:maxRunes]
	for i := len(truncated) - 1; i > maxRunes/2; i-- {
		if unicode.IsSpace(truncated[i]) {
			truncated = truncated[:i]
			break
		}
	}
	return strings.TrimSpace(string(truncated))
}

// capList trims entries, drops empties and case-insensitive duplicates,
// truncates each entry and keeps at most profile.MaxListItems.
func capList(field string, items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		it = truncateClean(it, profile.MaxListItemChars)
		key := strings.ToLower(it)
		if it == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	if len(out) > profile.MaxListItems {
		slog.Debug("engine: capping extracted list", "field", field, "entries", len(out), "max", profile.MaxListItems)
		out = out[:profile.MaxListItems]
	}
	return out
}

// clampExtraction enforces every field bound so nothing oversized reaches
// the profile.
func clampExtraction(x Extraction) Extraction {
	x.Name = truncateClean(firstLine(x.Name), profile.MaxNameChars)
	x.Category = truncateClean(firstLine(x.Category), profile.MaxCategoryChars)
	x.Data.Goals = capList("goals", x.Data.Goals)
	x.Data.Preferences = capList("preferences", x.Data.Preferences)
	x.Data.Challenges = capList("challenges", x.Data.Challenges)
	x.Data.Experience = profile.ParseExperience(string(x.Data.Experience))
	x.Data.Frequency = profile.ParseFrequency(string(x.Data.Frequency))
	x.Data.Notes = truncateClean(x.Data.Notes, profile.MaxNotesChars)
	return x
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return s
}

// textNearIdentical returns true if two strings are >95% similar by
// character-bigram Jaccard overlap, ignoring case.
func textNearIdentical(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}

	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return false
	}

	shared := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			shared++
		}
	}
	union := len(bigramsA) + len(bigramsB) - shared
	return float64(shared)/float64(union) > 0.95
}

func bigrams(s string) map[[2]rune]bool {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	m := make(map[[2]rune]bool, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		m[[2]rune{r[i], r[i+1]}] = true
	}
	return m
}

// hasSimilarMemory reports whether p already holds a memory whose content is
// near-identical to content.
func hasSimilarMemory(p *profile.Profile, content string) bool {
	for _, m := range p.Memories {
		if textNearIdentical(m.Content, content) {
			return true
		}
	}
	return false
}
