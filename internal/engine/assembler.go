package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/lazypower/persona/internal/chat"
	"github.com/lazypower/persona/internal/llm"
	"github.com/lazypower/persona/internal/profile"
)

const (
	// DefaultHistoryWindow is how many prior messages go into a prompt.
	DefaultHistoryWindow = 10
	noneStated           = "none stated"
	minQueryTermChars    = 4
)

// Assembler builds the message sequence for a persona reply and turns any
// backend failure into a fallback text.
type Assembler struct {
	Client      llm.Client
	RecallLimit int
	Window      int
	Temperature float64
	MaxTokens   int
}

// Reply is the outcome of one Respond call. Text is never empty.
type Reply struct {
	Text       string
	MemoryIDs  []string // memories placed in the prompt
	Fallback   bool
	TokensUsed int
	Cause      error // why Fallback is set
}

// Respond produces the assistant text for userMessage. recent holds the
// conversation so far, oldest first, without userMessage itself.
func (a *Assembler) Respond(ctx context.Context, userMessage string, p *profile.Profile, recent []chat.Message, now time.Time) Reply {
	memories := relevantMemories(p, userMessage, a.recallLimit(), now)
	req := a.BuildRequest(userMessage, p, memories, recent)

	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}

	resp, err := a.Client.Complete(ctx, req)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}
	if err != nil {
		cause := fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		slog.Warn("engine: fallback response", "profile_id", p.ID, "err", cause)
		return Reply{Text: FallbackText(p), MemoryIDs: ids, Fallback: true, Cause: cause}
	}

	return Reply{
		Text:       strings.TrimSpace(resp.Content),
		MemoryIDs:  ids,
		TokensUsed: resp.TokensUsed,
	}
}

// BuildRequest assembles the persona block, the last Window messages of
// recent and the new user message.
func (a *Assembler) BuildRequest(userMessage string, p *profile.Profile, memories []profile.ScoredMemory, recent []chat.Message) llm.Request {
	window := a.Window
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}

	msgs := make([]llm.Message, 0, len(recent)+1)
	for _, m := range recent {
		role := llm.RoleUser
		if m.Role == chat.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userMessage})

	return llm.Request{
		System:      PersonaPrompt(p, memories),
		Messages:    msgs,
		MaxTokens:   a.MaxTokens,
		Temperature: a.Temperature,
	}
}

func (a *Assembler) recallLimit() int {
	if a.RecallLimit <= 0 {
		return profile.DefaultRecallLimit
	}
	return a.RecallLimit
}

// PersonaPrompt renders the system block describing the persona and its user.
// Empty fields read "none stated" so the model never sees a blank.
func PersonaPrompt(p *profile.Profile, memories []profile.ScoredMemory) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a personal AI companion", p.Name)
	if p.Category != "" {
		fmt.Fprintf(&b, " for %s", p.Category)
	}
	b.WriteString(". Stay in character and answer in the language the user writes in.\n\n")

	b.WriteString("ABOUT THE USER:\n")
	fmt.Fprintf(&b, "- Goals: %s\n", listOrNone(p.Data.Goals))
	fmt.Fprintf(&b, "- Preferences: %s\n", listOrNone(p.Data.Preferences))
	fmt.Fprintf(&b, "- Challenges: %s\n", listOrNone(p.Data.Challenges))
	fmt.Fprintf(&b, "- Experience: %s\n", textOrNone(string(p.Data.Experience)))
	fmt.Fprintf(&b, "- Frequency: %s\n", textOrNone(string(p.Data.Frequency)))
	fmt.Fprintf(&b, "- Notes: %s\n", textOrNone(p.Data.Notes))
	for _, k := range slices.Sorted(maps.Keys(p.CustomFields)) {
		fmt.Fprintf(&b, "- %s: %s\n", k, fieldText(p.CustomFields[k]))
	}

	s := p.Style()
	b.WriteString("\nCOMMUNICATION STYLE (0 = low, 1 = high):\n")
	fmt.Fprintf(&b, "- formality %.2f, enthusiasm %.2f, directness %.2f, supportiveness %.2f\n",
		s.Formality, s.Enthusiasm, s.Directness, s.Supportiveness)

	traits := p.Traits()
	if len(traits) > 0 {
		parts := make([]string, len(traits))
		for i, t := range traits {
			parts[i] = fmt.Sprintf("%s (%.2f)", t.Name, t.Strength)
		}
		fmt.Fprintf(&b, "- traits: %s\n", strings.Join(parts, ", "))
	}

	if len(memories) > 0 {
		b.WriteString("\nWHAT YOU REMEMBER:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- [%s] %s", m.Type, m.Content)
			if m.Context != "" {
				fmt.Fprintf(&b, " (%s)", m.Context)
			}
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// FallbackText is the reply used when the backend cannot answer.
func FallbackText(p *profile.Profile) string {
	name := "Your companion"
	if p != nil && strings.TrimSpace(p.Name) != "" {
		name = p.Name
	}
	return fmt.Sprintf("%s can't answer right now. Please try again in a moment.", name)
}

// fieldText renders a custom field by its declared type.
func fieldText(f profile.Field) string {
	switch f.Type {
	case profile.FieldNumber:
		if v, ok := f.Number(); ok {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
	case profile.FieldBool:
		if v, ok := f.Bool(); ok {
			if v {
				return "yes"
			}
			return "no"
		}
	}
	return textOrNone(f.Value)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return noneStated
	}
	return strings.Join(items, "; ")
}

func textOrNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return noneStated
	}
	return s
}

// relevantMemories runs recall once per significant word of the message and
// keeps each memory's best score. Relevant matches whole substrings, so the
// message is split rather than passed as one query.
func relevantMemories(p *profile.Profile, message string, limit int, now time.Time) []profile.ScoredMemory {
	best := make(map[string]profile.ScoredMemory)
	for _, term := range queryTerms(message) {
		hits, err := p.Relevant(term, limit, now)
		if err != nil {
			continue
		}
		for _, h := range hits {
			if cur, ok := best[h.ID]; !ok || h.Score > cur.Score {
				best[h.ID] = h
			}
		}
	}

	out := make([]profile.ScoredMemory, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// queryTerms lowercases message and returns its distinct words of at least
// minQueryTermChars letters, in order of first appearance.
func queryTerms(message string) []string {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if utf8.RuneCountInString(w) < minQueryTermChars || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}
