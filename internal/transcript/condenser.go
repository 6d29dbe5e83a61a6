// Package transcript flattens a chat into compact text for extraction prompts.
package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/lazypower/persona/internal/chat"
)

const (
	edgeAssistantMax = 1000
	midAssistantMax  = 200
)

// Condense renders messages in order as labelled turns.
// - every user message is kept whole (that is where the profile signal is)
// - first and last assistant replies: up to 1000 chars
// - other assistant replies: up to 200 chars + "..."
func Condense(messages []chat.Message) string {
	if len(messages) == 0 {
		return ""
	}

	lastAssistant := -1
	firstAssistant := -1
	for i, m := range messages {
		if m.Role == chat.RoleAssistant {
			if firstAssistant < 0 {
				firstAssistant = i
			}
			lastAssistant = i
		}
	}

	var b strings.Builder
	for i, m := range messages {
		switch m.Role {
		case chat.RoleUser:
			b.WriteString("[USER] ")
			b.WriteString(m.Content)
		case chat.RoleAssistant:
			b.WriteString("[ASSISTANT] ")
			limit := midAssistantMax
			if i == firstAssistant || i == lastAssistant {
				limit = edgeAssistantMax
			}
			b.WriteString(clip(m.Content, limit))
		default:
			continue
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// UserText joins only the user turns, one per line.
func UserText(messages []chat.Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == chat.RoleUser {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
