package profile

import "math"

// Normalize repairs documents that were written outside AddMemory (imports,
// older schema versions): importance and style are clamped into [0,1],
// reference counts are made non-negative, and the memory bound is applied.
// It reports whether anything changed.
func (p *Profile) Normalize() bool {
	changed := false

	for i := range p.Memories {
		m := &p.Memories[i]
		fixed := m.Importance
		if math.IsNaN(fixed) {
			fixed = DefaultImportance
		}
		fixed = clampUnit(fixed)
		if fixed != m.Importance {
			m.Importance = fixed
			changed = true
		}
		if m.ReferenceCount < 0 {
			m.ReferenceCount = 0
			changed = true
		}
	}
	if len(p.Memories) > MaxMemories {
		p.evictMemories()
		changed = true
	}

	if s := p.Personality.Style.Clamp(); s != p.Personality.Style {
		p.Personality.Style = s
		changed = true
	}
	for i := range p.Personality.Traits {
		t := &p.Personality.Traits[i]
		fixed := t.Strength
		if math.IsNaN(fixed) {
			fixed = 0
		}
		fixed = clampUnit(fixed)
		if fixed != t.Strength {
			t.Strength = fixed
			changed = true
		}
	}

	if sat := clampUnit(p.Stats.SatisfactionScore); sat != p.Stats.SatisfactionScore || math.IsNaN(p.Stats.SatisfactionScore) {
		if math.IsNaN(sat) {
			sat = 0.5
		}
		p.Stats.SatisfactionScore = sat
		changed = true
	}
	if n := len(p.Personality.EvolutionHistory); p.Stats.EvolutionCount < n {
		p.Stats.EvolutionCount = n
		changed = true
	}
	return changed
}
