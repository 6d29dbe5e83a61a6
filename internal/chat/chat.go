// Package chat models a persona conversation and derives its statistics.
package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/persona/internal/profile"
)

// Role is who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// MaxMessageChars bounds a single message body.
	MaxMessageChars  = 8000
	maxCommentChars  = 500
	charsPerToken    = 4
	perMessageTokens = 4
)

// Feedback is the user's judgement of one assistant message.
type Feedback struct {
	Helpful bool   `json:"helpful"`
	Rating  int    `json:"rating,omitempty"` // 1-5, 0 when not given
	Comment string `json:"comment,omitempty"`
}

// Validate checks rating range and comment length.
func (f Feedback) Validate() error {
	if f.Rating != 0 && (f.Rating < 1 || f.Rating > 5) {
		return fmt.Errorf("%w: rating must be 1-5, got %d", profile.ErrInvalidInput, f.Rating)
	}
	if len([]rune(f.Comment)) > maxCommentChars {
		return fmt.Errorf("%w: comment longer than %d chars", profile.ErrInvalidInput, maxCommentChars)
	}
	return nil
}

// Metadata is per-message bookkeeping.
type Metadata struct {
	TokenEstimate  int       `json:"token_estimate"`
	ResponseTimeMs int64     `json:"response_time_ms,omitempty"`
	Feedback       *Feedback `json:"feedback,omitempty"`
}

// Message is a single turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

// Chat is an ordered, append-only conversation owned by a profile.
type Chat struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	Messages  []Message `json:"messages"`
	Stats     Stats     `json:"stats"`

	// FoldedSessionLength is the session length this chat currently
	// contributes to the profile's rolling average.
	FoldedSessionLength float64 `json:"folded_session_length"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New starts an empty chat for profileID.
func New(profileID string, now time.Time) *Chat {
	c := &Chat{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.Stats = Recompute(nil)
	return c
}

// EstimateTokens is a rough token count: ~4 characters per token plus a
// small per-message overhead for role framing.
func EstimateTokens(content string) int {
	return len(content)/charsPerToken + perMessageTokens
}

// Append adds a message and recomputes stats. Timestamps never go backwards:
// a message stamped before the last one is moved up to the last timestamp.
func (c *Chat) Append(role Role, content string, now time.Time, meta Metadata) (Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return Message{}, fmt.Errorf("%w: unknown role %q", profile.ErrInvalidInput, role)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, fmt.Errorf("%w: message content required", profile.ErrInvalidInput)
	}
	if n := len([]rune(content)); n > MaxMessageChars {
		return Message{}, fmt.Errorf("%w: message %d chars, max %d", profile.ErrInvalidInput, n, MaxMessageChars)
	}
	if n := len(c.Messages); n > 0 && now.Before(c.Messages[n-1].Timestamp) {
		now = c.Messages[n-1].Timestamp
	}
	if meta.TokenEstimate == 0 {
		meta.TokenEstimate = EstimateTokens(content)
	}

	msg := Message{Role: role, Content: content, Timestamp: now, Metadata: meta}
	c.Messages = append(c.Messages, msg)
	c.Stats = Recompute(c.Messages)
	c.UpdatedAt = now
	return msg, nil
}

// SetFeedback attaches feedback to the assistant message at index.
func (c *Chat) SetFeedback(index int, f Feedback, now time.Time) error {
	if index < 0 || index >= len(c.Messages) {
		return fmt.Errorf("%w: message index %d out of range", profile.ErrInvalidInput, index)
	}
	if c.Messages[index].Role != RoleAssistant {
		return fmt.Errorf("%w: feedback only applies to assistant messages", profile.ErrInvalidInput)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	f.Comment = strings.TrimSpace(f.Comment)
	c.Messages[index].Metadata.Feedback = &f
	c.Stats = Recompute(c.Messages)
	c.UpdatedAt = now
	return nil
}

// Recent returns a copy of the last n messages in their original order.
func (c *Chat) Recent(n int) []Message {
	if n <= 0 {
		return nil
	}
	start := len(c.Messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(c.Messages)-start)
	copy(out, c.Messages[start:])
	return out
}
