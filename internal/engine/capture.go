package engine

import (
	"log/slog"
	"strings"
	"time"

	"github.com/lazypower/persona/internal/profile"
)

// maxCapturedPerMessage bounds how many memories one user message can create.
const maxCapturedPerMessage = 3

type captureRule struct {
	memType    profile.MemoryType
	importance float64
	keywords   []string
}

// Checked in order; a sentence becomes at most one memory.
var captureRules = []captureRule{
	{profile.MemoryAchievement, 0.6, achievementKeywords},
	{profile.MemoryGoal, 0.7, goalKeywords},
	{profile.MemoryConcern, 0.6, challengeKeywords},
	{profile.MemoryPreference, 0.6, preferenceKeywords},
}

// captureMemories scans a user message for goal, concern, preference and
// achievement sentences and stores each as a conversation memory, skipping
// sentences the profile already remembers.
func captureMemories(p *profile.Profile, text string, now time.Time) []profile.Memory {
	var captured []profile.Memory
	for _, s := range sentences(text) {
		if len(captured) == maxCapturedPerMessage {
			break
		}
		lower := strings.ToLower(s)
		for _, rule := range captureRules {
			if !containsAny(lower, rule.keywords) {
				continue
			}
			content := truncateClean(s, profile.MaxMemoryContentChars)
			if hasSimilarMemory(p, content) {
				break
			}
			m, err := p.AddMemory(profile.MemoryInput{
				Type:       rule.memType,
				Content:    content,
				Importance: profile.Importance(rule.importance),
				Source:     profile.SourceConversation,
			}, now)
			if err != nil {
				slog.Debug("engine: skipping captured memory", "err", err)
				break
			}
			captured = append(captured, m)
			break
		}
	}
	return captured
}
