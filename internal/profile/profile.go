// Package profile holds the persona entity and the engine pieces that live
// inside it: the bounded memory store, query-ranked recall, and the
// personality evolution ledger.
package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Experience is the user's self-described experience level.
type Experience string

const (
	ExperienceBeginner     Experience = "beginner"
	ExperienceIntermediate Experience = "intermediate"
	ExperienceExpert       Experience = "expert"
)

// Frequency is how often the user expects to talk to the persona.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyRare    Frequency = "rare"
)

// ParseExperience maps free text onto an Experience. Unknown values yield "".
func ParseExperience(s string) Experience {
	switch e := Experience(strings.ToLower(strings.TrimSpace(s))); e {
	case ExperienceBeginner, ExperienceIntermediate, ExperienceExpert:
		return e
	}
	return ""
}

// ParseFrequency maps free text onto a Frequency. Unknown values yield "".
func ParseFrequency(s string) Frequency {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyRare:
		return f
	}
	return ""
}

// Field limits shared by manual edits and extraction.
const (
	MaxNameChars     = 100
	MaxCategoryChars = 50
	MaxNotesChars    = 1000
	MaxListItemChars = 200
	MaxListItems     = 5
)

// Data is the descriptive part of a persona.
type Data struct {
	Goals       []string   `json:"goals"`
	Preferences []string   `json:"preferences"`
	Challenges  []string   `json:"challenges"`
	Experience  Experience `json:"experience,omitempty"`
	Frequency   Frequency  `json:"frequency,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// Stats are the per-profile usage counters.
type Stats struct {
	TotalConversations   int       `json:"total_conversations"`
	TotalMessages        int       `json:"total_messages"`
	AverageSessionLength float64   `json:"average_session_length"` // minutes
	LastUsed             time.Time `json:"last_used"`
	SatisfactionScore    float64   `json:"satisfaction_score"`
	EvolutionCount       int       `json:"evolution_count"`
}

// Profile is one persona owned by exactly one user.
type Profile struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Name         string           `json:"name"`
	Category     string           `json:"category"`
	Data         Data             `json:"profile_data"`
	Personality  Personality      `json:"personality"`
	Memories     []Memory         `json:"memories"`
	Stats        Stats            `json:"stats"`
	CustomFields map[string]Field `json:"custom_fields,omitempty"`
	Version      int64            `json:"version"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// New creates an empty profile with a neutral communication style.
func New(userID, name, category string, now time.Time) (*Profile, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	category = strings.TrimSpace(category)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	if len([]rune(name)) > MaxNameChars {
		return nil, fmt.Errorf("%w: name longer than %d chars", ErrInvalidInput, MaxNameChars)
	}
	if len([]rune(category)) > MaxCategoryChars {
		return nil, fmt.Errorf("%w: category longer than %d chars", ErrInvalidInput, MaxCategoryChars)
	}

	return &Profile{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Category:    category,
		Personality: Personality{Style: DefaultStyle()},
		Stats:       Stats{SatisfactionScore: 0.5},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Touch marks the profile as used at now.
func (p *Profile) Touch(now time.Time) {
	p.Stats.LastUsed = now
	p.UpdatedAt = now
}

// SetData replaces the profile data after checking its bounds.
func (p *Profile) SetData(d Data) error {
	if err := d.Validate(); err != nil {
		return err
	}
	p.Data = d
	return nil
}

// Validate rejects oversized or malformed profile data.
func (d Data) Validate() error {
	lists := map[string][]string{
		"goals":       d.Goals,
		"preferences": d.Preferences,
		"challenges":  d.Challenges,
	}
	for name, items := range lists {
		if len(items) > MaxListItems {
			return fmt.Errorf("%w: %s has %d entries, max %d", ErrInvalidInput, name, len(items), MaxListItems)
		}
		for _, it := range items {
			if len([]rune(it)) > MaxListItemChars {
				return fmt.Errorf("%w: %s entry longer than %d chars", ErrInvalidInput, name, MaxListItemChars)
			}
		}
	}
	if d.Experience != "" && ParseExperience(string(d.Experience)) == "" {
		return fmt.Errorf("%w: unknown experience %q", ErrInvalidInput, d.Experience)
	}
	if d.Frequency != "" && ParseFrequency(string(d.Frequency)) == "" {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidInput, d.Frequency)
	}
	if len([]rune(d.Notes)) > MaxNotesChars {
		return fmt.Errorf("%w: notes longer than %d chars", ErrInvalidInput, MaxNotesChars)
	}
	return nil
}
