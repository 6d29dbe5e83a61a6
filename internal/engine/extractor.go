package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lazypower/persona/internal/chat"
	"github.com/lazypower/persona/internal/llm"
	"github.com/lazypower/persona/internal/profile"
	"github.com/lazypower/persona/internal/transcript"
)

// Extraction sources.
const (
	ExtractedByLLM       = "llm"
	ExtractedByHeuristic = "heuristic"
)

// Extraction is the persona setup recovered from a conversation. Every field
// is already within profile bounds.
type Extraction struct {
	Name     string       `json:"name"`
	Category string       `json:"category"`
	Data     profile.Data `json:"profile_data"`
	Source   string       `json:"source"`
}

// ProfileExtractor turns a conversation into an Extraction. Implementations
// never fail on bad model output; they fall back to something deterministic.
type ProfileExtractor interface {
	Extract(ctx context.Context, messages []chat.Message) (Extraction, error)
}

// extractionCandidate is the JSON structure returned by the extraction LLM.
type extractionCandidate struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Goals       []string `json:"goals"`
	Preferences []string `json:"preferences"`
	Challenges  []string `json:"challenges"`
	Experience  string   `json:"experience"`
	Frequency   string   `json:"frequency"`
	Notes       string   `json:"notes"`
}

const extractionSchema = `{
  "type": "object",
  "properties": {
    "name":        {"type": "string"},
    "category":    {"type": "string"},
    "goals":       {"type": ["array", "null"], "items": {"type": "string"}},
    "preferences": {"type": ["array", "null"], "items": {"type": "string"}},
    "challenges":  {"type": ["array", "null"], "items": {"type": "string"}},
    "experience":  {"type": ["string", "null"]},
    "frequency":   {"type": ["string", "null"]},
    "notes":       {"type": ["string", "null"]}
  }
}`

var compiledExtractionSchema = jsonschema.MustCompileString("extraction.json", extractionSchema)

// LLMExtractor asks the backend for the fields and falls back to Fallback
// (normally a HeuristicExtractor) when the call fails or the reply does not
// parse.
type LLMExtractor struct {
	Client      llm.Client
	Fallback    ProfileExtractor
	Temperature float64
	MaxTokens   int
}

// Extract implements ProfileExtractor.
func (x *LLMExtractor) Extract(ctx context.Context, messages []chat.Message) (Extraction, error) {
	condensed := transcript.Condense(messages)
	if condensed == "" {
		return x.fallback(ctx, messages)
	}

	resp, err := x.Client.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: llm.ExtractionPrompt(condensed)}},
		MaxTokens:   x.MaxTokens,
		Temperature: x.Temperature,
	})
	if err != nil {
		slog.Warn("engine: extraction backend failed, using heuristic", "err", fmt.Errorf("%w: %v", ErrBackendUnavailable, err))
		return x.fallback(ctx, messages)
	}

	cand, err := parseExtractionResponse(resp.Content)
	if err != nil {
		slog.Warn("engine: extraction output unusable, using heuristic", "err", err)
		return x.fallback(ctx, messages)
	}

	return clampExtraction(Extraction{
		Name:     cand.Name,
		Category: cand.Category,
		Data: profile.Data{
			Goals:       cand.Goals,
			Preferences: cand.Preferences,
			Challenges:  cand.Challenges,
			Experience:  profile.Experience(cand.Experience),
			Frequency:   profile.Frequency(cand.Frequency),
			Notes:       cand.Notes,
		},
		Source: ExtractedByLLM,
	}), nil
}

func (x *LLMExtractor) fallback(ctx context.Context, messages []chat.Message) (Extraction, error) {
	if x.Fallback == nil {
		return HeuristicExtractor{}.Extract(ctx, messages)
	}
	return x.Fallback.Extract(ctx, messages)
}

var (
	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
	tagPattern   = regexp.MustCompile(`(?is)<(json|output|result)>\s*(.*?)\s*</(json|output|result)>`)
)

// stripMarkers removes wrapping the model likes to add around JSON: markdown
// fences, <json> style tags and a leading "JSON:" label.
func stripMarkers(content string) string {
	content = strings.TrimSpace(content)
	if m := fencePattern.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	if m := tagPattern.FindStringSubmatch(content); m != nil {
		content = m[2]
	}
	for _, label := range []string{"JSON:", "json:", "Output:", "Result:"} {
		content = strings.TrimPrefix(strings.TrimSpace(content), label)
	}
	return strings.TrimSpace(content)
}

// parseExtractionResponse finds the JSON object in the reply, checks its
// shape against the schema and decodes it.
func parseExtractionResponse(content string) (extractionCandidate, error) {
	content = stripMarkers(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return extractionCandidate{}, fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}
	raw := content[start : end+1]

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return extractionCandidate{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := compiledExtractionSchema.Validate(doc); err != nil {
		return extractionCandidate{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var cand extractionCandidate
	if err := json.Unmarshal([]byte(raw), &cand); err != nil {
		return extractionCandidate{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return cand, nil
}

// HeuristicExtractor is the deterministic keyword extractor: the first user
// message names the persona and later user sentences are sorted into goals,
// preferences and challenges by keyword.
type HeuristicExtractor struct{}

// Extract implements ProfileExtractor. It never returns an error.
func (HeuristicExtractor) Extract(_ context.Context, messages []chat.Message) (Extraction, error) {
	var users []string
	for _, m := range messages {
		if m.Role == chat.RoleUser {
			users = append(users, m.Content)
		}
	}

	x := Extraction{Source: ExtractedByHeuristic}
	if len(users) == 0 {
		return x, nil
	}
	x.Name = users[0]

	for _, msg := range users[1:] {
		for _, s := range sentences(msg) {
			lower := strings.ToLower(s)
			if containsAny(lower, goalKeywords) {
				x.Data.Goals = append(x.Data.Goals, s)
			}
			if containsAny(lower, preferenceKeywords) {
				x.Data.Preferences = append(x.Data.Preferences, s)
			}
			if containsAny(lower, challengeKeywords) {
				x.Data.Challenges = append(x.Data.Challenges, s)
			}
		}
		lower := strings.ToLower(msg)
		if x.Data.Experience == "" {
			x.Data.Experience = matchExperience(lower)
		}
		if x.Data.Frequency == "" {
			x.Data.Frequency = matchFrequency(lower)
		}
	}
	return clampExtraction(x), nil
}
