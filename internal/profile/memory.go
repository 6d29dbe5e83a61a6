package profile

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MemoryType categorizes a retained observation.
type MemoryType string

const (
	MemoryPreference   MemoryType = "preference"
	MemoryFact         MemoryType = "fact"
	MemoryGoal         MemoryType = "goal"
	MemoryFeedback     MemoryType = "feedback"
	MemoryContext      MemoryType = "context"
	MemoryPattern      MemoryType = "pattern"
	MemoryConversation MemoryType = "conversation"
	MemoryAchievement  MemoryType = "achievement"
	MemoryConcern      MemoryType = "concern"
	MemoryInsight      MemoryType = "insight"
)

// ValidMemoryTypes lists every accepted MemoryType.
var ValidMemoryTypes = []MemoryType{
	MemoryPreference, MemoryFact, MemoryGoal, MemoryFeedback, MemoryContext,
	MemoryPattern, MemoryConversation, MemoryAchievement, MemoryConcern, MemoryInsight,
}

// Source records how a memory was learned.
type Source string

const (
	SourceConversation Source = "conversation"
	SourceInterview    Source = "interview"
	SourceFeedback     Source = "feedback"
	SourceAnalysis     Source = "analysis"
)

// ValidSources lists every accepted Source.
var ValidSources = []Source{SourceConversation, SourceInterview, SourceFeedback, SourceAnalysis}

// Memory store bounds. A write that pushes the store above MaxMemories trims
// it to RetainedMemories before returning.
const (
	MaxMemories           = 100
	RetainedMemories      = 80
	MaxMemoryContentChars = 500
	DefaultImportance     = 0.5
)

// Memory is one retained fact or observation about the user.
type Memory struct {
	ID               string     `json:"id"`
	Type             MemoryType `json:"type"`
	Content          string     `json:"content"`
	Context          string     `json:"context,omitempty"`
	Importance       float64    `json:"importance"`
	Source           Source     `json:"source"`
	CreatedAt        time.Time  `json:"created_at"`
	LastReferencedAt time.Time  `json:"last_referenced_at,omitzero"`
	ReferenceCount   int        `json:"reference_count"`
}

// MemoryInput is the caller-supplied part of a new memory. A nil Importance
// means DefaultImportance.
type MemoryInput struct {
	Type       MemoryType `json:"type"`
	Content    string     `json:"content"`
	Context    string     `json:"context,omitempty"`
	Importance *float64   `json:"importance,omitempty"`
	Source     Source     `json:"source"`
}

// Importance is a convenience for building a MemoryInput literal.
func Importance(v float64) *float64 { return &v }

func validMemoryType(t MemoryType) bool {
	for _, v := range ValidMemoryTypes {
		if v == t {
			return true
		}
	}
	return false
}

func validSource(s Source) bool {
	for _, v := range ValidSources {
		if v == s {
			return true
		}
	}
	return false
}

// clampUnit pins v into [0,1].
func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// AddMemory appends a memory and evicts down to RetainedMemories when the
// store grows past MaxMemories. Importance outside [0,1] is clamped; empty or
// oversized content and unknown type/source are rejected.
func (p *Profile) AddMemory(in MemoryInput, now time.Time) (Memory, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return Memory{}, fmt.Errorf("%w: memory content required", ErrInvalidInput)
	}
	if n := len([]rune(content)); n > MaxMemoryContentChars {
		return Memory{}, fmt.Errorf("%w: memory content %d chars, max %d", ErrInvalidInput, n, MaxMemoryContentChars)
	}
	memContext := strings.TrimSpace(in.Context)
	if n := len([]rune(memContext)); n > MaxMemoryContentChars {
		return Memory{}, fmt.Errorf("%w: memory context %d chars, max %d", ErrInvalidInput, n, MaxMemoryContentChars)
	}
	if !validMemoryType(in.Type) {
		return Memory{}, fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, in.Type)
	}
	if !validSource(in.Source) {
		return Memory{}, fmt.Errorf("%w: unknown memory source %q", ErrInvalidInput, in.Source)
	}

	importance := DefaultImportance
	if in.Importance != nil {
		if math.IsNaN(*in.Importance) {
			return Memory{}, fmt.Errorf("%w: importance is NaN", ErrInvalidInput)
		}
		importance = clampUnit(*in.Importance)
	}

	m := Memory{
		ID:         uuid.NewString(),
		Type:       in.Type,
		Content:    content,
		Context:    memContext,
		Importance: importance,
		Source:     in.Source,
		CreatedAt:  now,
	}
	p.Memories = append(p.Memories, m)
	if len(p.Memories) > MaxMemories {
		p.evictMemories()
	}
	p.UpdatedAt = now
	return m, nil
}

// importanceTieWindow is the importance gap within which recency decides
// which of two memories is retained.
const importanceTieWindow = 0.1

// evictMemories drops memories until RetainedMemories remain. Each round
// removes the oldest memory among those within importanceTieWindow of the
// least important one, so a memory never goes while one more than
// importanceTieWindow less important survives.
func (p *Profile) evictMemories() {
	for len(p.Memories) > RetainedMemories {
		floor := p.Memories[0].Importance
		for _, m := range p.Memories[1:] {
			floor = min(floor, m.Importance)
		}
		victim := -1
		for i, m := range p.Memories {
			if m.Importance-floor > importanceTieWindow+1e-9 {
				continue
			}
			if victim < 0 || evictsBefore(m, p.Memories[victim]) {
				victim = i
			}
		}
		p.Memories = slices.Delete(p.Memories, victim, victim+1)
	}
}

// evictsBefore orders eviction candidates: older first, then less
// important, then ID for a total order.
func evictsBefore(a, b Memory) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.Importance != b.Importance {
		return a.Importance < b.Importance
	}
	return a.ID > b.ID
}

// MemoryByID returns a pointer into the store, or nil.
func (p *Profile) MemoryByID(id string) *Memory {
	for i := range p.Memories {
		if p.Memories[i].ID == id {
			return &p.Memories[i]
		}
	}
	return nil
}

// MarkReferenced records that the given memories were placed into a prompt.
// Unknown IDs are ignored (the memory may have been evicted meanwhile).
func (p *Profile) MarkReferenced(ids []string, now time.Time) int {
	marked := 0
	for _, id := range ids {
		if m := p.MemoryByID(id); m != nil {
			m.ReferenceCount++
			m.LastReferencedAt = now
			marked++
		}
	}
	return marked
}
