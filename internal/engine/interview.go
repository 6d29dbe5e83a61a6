package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lazypower/persona/internal/chat"
	"github.com/lazypower/persona/internal/llm"
	"github.com/lazypower/persona/internal/profile"
)

const interviewMaxTokens = 200

// Canned questions, asked in order of the first thing still unknown.
var interviewSteps = []struct {
	missing  func(p *profile.Profile) bool
	question string
}{
	{func(p *profile.Profile) bool { return len(p.Data.Goals) == 0 }, "What would you like to achieve with my help?"},
	{func(p *profile.Profile) bool { return len(p.Data.Preferences) == 0 }, "How do you like to be supported: short nudges, detailed plans, or something else?"},
	{func(p *profile.Profile) bool { return len(p.Data.Challenges) == 0 }, "What usually gets in your way?"},
	{func(p *profile.Profile) bool { return p.Data.Experience == "" }, "How much experience do you already have with this?"},
	{func(p *profile.Profile) bool { return p.Data.Frequency == "" }, "How often would you like to talk: daily, weekly, or now and then?"},
}

const interviewDone = "Is there anything else I should know about you?"

// knownFacts lists what the profile already says, for the interview prompt.
func knownFacts(p *profile.Profile) []string {
	var known []string
	if p.Name != "" {
		known = append(known, "name: "+p.Name)
	}
	if p.Category != "" {
		known = append(known, "area: "+p.Category)
	}
	if len(p.Data.Goals) > 0 {
		known = append(known, "goals: "+strings.Join(p.Data.Goals, "; "))
	}
	if len(p.Data.Preferences) > 0 {
		known = append(known, "preferences: "+strings.Join(p.Data.Preferences, "; "))
	}
	if len(p.Data.Challenges) > 0 {
		known = append(known, "challenges: "+strings.Join(p.Data.Challenges, "; "))
	}
	if p.Data.Experience != "" {
		known = append(known, "experience: "+string(p.Data.Experience))
	}
	if p.Data.Frequency != "" {
		known = append(known, "frequency: "+string(p.Data.Frequency))
	}
	return known
}

// cannedQuestion picks the next scripted question for p.
func cannedQuestion(p *profile.Profile) string {
	for _, step := range interviewSteps {
		if step.missing(p) {
			return step.question
		}
	}
	return interviewDone
}

// interviewQuestion asks the backend for the next setup question at the
// interview temperature, falling back to the scripted sequence.
func interviewQuestion(ctx context.Context, client llm.Client, p *profile.Profile, recent []chat.Message, window int, temperature float64) Reply {
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
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != llm.RoleUser {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: "Please ask me your next question."})
	}

	resp, err := client.Complete(ctx, llm.Request{
		System:      llm.InterviewPrompt(knownFacts(p)),
		Messages:    msgs,
		MaxTokens:   interviewMaxTokens,
		Temperature: temperature,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		slog.Warn("engine: interview fallback", "profile_id", p.ID, "err", err)
		return Reply{Text: cannedQuestion(p), Fallback: true, Cause: ErrBackendUnavailable}
	}
	return Reply{Text: strings.TrimSpace(resp.Content), TokensUsed: resp.TokensUsed}
}
