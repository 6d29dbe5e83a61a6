package profile

import (
	"sort"
	"strings"
	"time"
)

// DefaultRecallLimit is the number of memories Relevant returns when the
// caller has no preference.
const DefaultRecallLimit = 5

// Scoring weights for recall ranking.
const (
	weightImportance = 0.4
	weightRecency    = 0.3
	weightReferences = 0.3
)

// ScoredMemory is a recall hit with the score it was ranked by.
type ScoredMemory struct {
	Memory
	Score float64 `json:"score"`
}

// recencyFactor is the age of a memory in days at now. It grows with age,
// so older memories score higher; this matches the ranking existing profiles
// were built against. Change it here if the direction is ever reversed.
func recencyFactor(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		return 0
	}
	return age.Hours() / 24
}

// Score is the composite ranking value of m at now.
func Score(m Memory, now time.Time) float64 {
	return weightImportance*m.Importance +
		weightRecency*recencyFactor(m.CreatedAt, now) +
		weightReferences*float64(m.ReferenceCount)
}

// Relevant returns up to limit memories whose content or context contains
// query (case-insensitive), best first. It does not mutate the profile;
// callers that use the results in a prompt should call MarkReferenced.
func (p *Profile) Relevant(query string, limit int, now time.Time) ([]ScoredMemory, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, ErrInvalidQuery
	}
	if limit <= 0 || len(p.Memories) == 0 {
		return []ScoredMemory{}, nil
	}

	var hits []ScoredMemory
	for _, m := range p.Memories {
		if !strings.Contains(strings.ToLower(m.Content), q) &&
			!strings.Contains(strings.ToLower(m.Context), q) {
			continue
		}
		hits = append(hits, ScoredMemory{Memory: m, Score: Score(m, now)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []ScoredMemory{}
	}
	return hits, nil
}
