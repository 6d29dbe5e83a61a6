package profile

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxEvolutionTextChars = 500

// Style holds the communication-style parameters, each in [0,1].
type Style struct {
	Formality      float64 `json:"formality"`
	Enthusiasm     float64 `json:"enthusiasm"`
	Directness     float64 `json:"directness"`
	Supportiveness float64 `json:"supportiveness"`
}

// DefaultStyle is the neutral midpoint style.
func DefaultStyle() Style {
	return Style{Formality: 0.5, Enthusiasm: 0.5, Directness: 0.5, Supportiveness: 0.5}
}

// Clamp pins every parameter into [0,1]; NaN becomes 0.5.
func (s Style) Clamp() Style {
	fix := func(v float64) float64 {
		if math.IsNaN(v) {
			return 0.5
		}
		return clampUnit(v)
	}
	return Style{
		Formality:      fix(s.Formality),
		Enthusiasm:     fix(s.Enthusiasm),
		Directness:     fix(s.Directness),
		Supportiveness: fix(s.Supportiveness),
	}
}

// Trait is a named personality trait with a strength in [0,1].
type Trait struct {
	Name     string  `json:"name"`
	Strength float64 `json:"strength"`
}

// EvolutionEvent is one entry of the append-only personality audit trail.
type EvolutionEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Change    string    `json:"change"`
	Reason    string    `json:"reason"`
}

// Personality is the current style/trait snapshot plus its history.
type Personality struct {
	Style            Style            `json:"communication_style"`
	Traits           []Trait          `json:"traits"`
	EvolutionHistory []EvolutionEvent `json:"evolution_history"`
}

// Style returns the current communication style.
func (p *Profile) Style() Style {
	return p.Personality.Style
}

// Traits returns a copy of the current trait list.
func (p *Profile) Traits() []Trait {
	out := make([]Trait, len(p.Personality.Traits))
	copy(out, p.Personality.Traits)
	return out
}

// SetStyle replaces the style snapshot with a clamped copy of s. It does not
// touch the evolution trail; pair it with RecordEvolution.
func (p *Profile) SetStyle(s Style) {
	p.Personality.Style = s.Clamp()
}

// SetTrait adds or updates a trait by case-insensitive name.
func (p *Profile) SetTrait(name string, strength float64) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: trait name required", ErrInvalidInput)
	}
	if math.IsNaN(strength) {
		return fmt.Errorf("%w: trait strength is NaN", ErrInvalidInput)
	}
	strength = clampUnit(strength)
	for i := range p.Personality.Traits {
		if strings.EqualFold(p.Personality.Traits[i].Name, name) {
			p.Personality.Traits[i].Strength = strength
			return nil
		}
	}
	p.Personality.Traits = append(p.Personality.Traits, Trait{Name: name, Strength: strength})
	return nil
}

// RecordEvolution appends an event to the audit trail and bumps the
// evolution counter. Events are never edited or removed afterwards.
func (p *Profile) RecordEvolution(change, reason string, now time.Time) (EvolutionEvent, error) {
	change = strings.TrimSpace(change)
	reason = strings.TrimSpace(reason)
	if change == "" {
		return EvolutionEvent{}, fmt.Errorf("%w: evolution change required", ErrInvalidInput)
	}
	if len([]rune(change)) > maxEvolutionTextChars || len([]rune(reason)) > maxEvolutionTextChars {
		return EvolutionEvent{}, fmt.Errorf("%w: evolution text longer than %d chars", ErrInvalidInput, maxEvolutionTextChars)
	}

	ev := EvolutionEvent{
		ID:        uuid.NewString(),
		Timestamp: now,
		Change:    change,
		Reason:    reason,
	}
	p.Personality.EvolutionHistory = append(p.Personality.EvolutionHistory, ev)
	p.Stats.EvolutionCount++
	p.UpdatedAt = now
	return ev, nil
}
