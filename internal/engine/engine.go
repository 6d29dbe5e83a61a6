package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/lazypower/persona/internal/chat"
	"github.com/lazypower/persona/internal/config"
	"github.com/lazypower/persona/internal/llm"
	"github.com/lazypower/persona/internal/profile"
)

// Store is the document store the engine reads and writes. Every mutation is
// a load, in-memory change and save of whole documents.
type Store interface {
	LoadProfile(ctx context.Context, id string) (*profile.Profile, error)
	SaveProfile(ctx context.Context, p *profile.Profile) error
	ListProfiles(ctx context.Context, userID string) ([]*profile.Profile, error)
	ListProfileIDs(ctx context.Context) ([]string, error)
	DeleteProfile(ctx context.Context, id string) error
	LoadChat(ctx context.Context, id string) (*chat.Chat, error)
	SaveChatAndProfile(ctx context.Context, c *chat.Chat, p *profile.Profile) error
	ListChats(ctx context.Context, profileID string) ([]*chat.Chat, error)
}

// Options tune the engine. Zero values fall back to the config defaults.
type Options struct {
	RecallLimit           int
	HistoryWindow         int
	ChatTemperature       float64
	ExtractionTemperature float64
	ChatMaxTokens         int
	ExtractionMaxTokens   int
	MaxConcurrent         int64
	BackendTimeout        time.Duration
	Clock                 func() time.Time
}

// OptionsFromConfig copies the engine section of the config.
func OptionsFromConfig(c config.EngineConfig) Options {
	return Options{
		RecallLimit:           c.RecallLimit,
		HistoryWindow:         c.HistoryWindow,
		ChatTemperature:       c.ChatTemperature,
		ExtractionTemperature: c.ExtractionTemperature,
		ChatMaxTokens:         c.ChatMaxTokens,
		ExtractionMaxTokens:   c.ExtractionMaxTokens,
		MaxConcurrent:         c.MaxConcurrent,
		BackendTimeout:        c.BackendTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := config.Default().Engine
	if o.RecallLimit <= 0 {
		o.RecallLimit = d.RecallLimit
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = d.HistoryWindow
	}
	if o.ChatTemperature <= 0 {
		o.ChatTemperature = d.ChatTemperature
	}
	if o.ExtractionTemperature <= 0 {
		o.ExtractionTemperature = d.ExtractionTemperature
	}
	if o.ChatMaxTokens <= 0 {
		o.ChatMaxTokens = d.ChatMaxTokens
	}
	if o.ExtractionMaxTokens <= 0 {
		o.ExtractionMaxTokens = d.ExtractionMaxTokens
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = d.MaxConcurrent
	}
	if o.BackendTimeout <= 0 {
		o.BackendTimeout = d.BackendTimeout
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Engine runs the persona pipelines on top of a Store and an LLM client.
type Engine struct {
	store     Store
	llm       llm.Client
	opts      Options
	locks     keyedMutex
	assembler *Assembler
	extractor ProfileExtractor
	cron      *cron.Cron
}

// New creates an Engine. Backend calls made through it are bounded by
// opts.MaxConcurrent and opts.BackendTimeout.
func New(st Store, client llm.Client, opts Options) *Engine {
	opts = opts.withDefaults()
	bounded := &boundedClient{
		Client:  client,
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		timeout: opts.BackendTimeout,
	}
	return &Engine{
		store: st,
		llm:   bounded,
		opts:  opts,
		assembler: &Assembler{
			Client:      bounded,
			RecallLimit: opts.RecallLimit,
			Window:      opts.HistoryWindow,
			Temperature: opts.ChatTemperature,
			MaxTokens:   opts.ChatMaxTokens,
		},
		extractor: &LLMExtractor{
			Client:      bounded,
			Fallback:    HeuristicExtractor{},
			Temperature: opts.ExtractionTemperature,
			MaxTokens:   opts.ExtractionMaxTokens,
		},
	}
}

// boundedClient limits concurrent backend calls and gives each one a deadline.
type boundedClient struct {
	llm.Client
	sem     *semaphore.Weighted
	timeout time.Duration
}

func (b *boundedClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for backend slot: %w", err)
	}
	defer b.sem.Release(1)
	return b.Client.Complete(ctx, req)
}

func (e *Engine) now() time.Time {
	return e.opts.Clock()
}

// NewProfile is the input to CreateProfile.
type NewProfile struct {
	UserID       string                   `json:"user_id"`
	Name         string                   `json:"name"`
	Category     string                   `json:"category"`
	Data         profile.Data             `json:"profile_data"`
	Style        *profile.Style           `json:"communication_style,omitempty"`
	Traits       []profile.Trait          `json:"traits,omitempty"`
	CustomFields map[string]profile.Field `json:"custom_fields,omitempty"`
	Memories     []profile.MemoryInput    `json:"memories,omitempty"`
}

// CreateProfile validates and stores a new persona.
func (e *Engine) CreateProfile(ctx context.Context, in NewProfile) (*profile.Profile, error) {
	now := e.now()
	p, err := profile.New(in.UserID, in.Name, in.Category, now)
	if err != nil {
		return nil, err
	}
	if err := p.SetData(in.Data); err != nil {
		return nil, err
	}
	if in.Style != nil {
		p.SetStyle(*in.Style)
	}
	for _, t := range in.Traits {
		if err := p.SetTrait(t.Name, t.Strength); err != nil {
			return nil, err
		}
	}
	for k, f := range in.CustomFields {
		if err := p.SetField(k, f); err != nil {
			return nil, err
		}
	}
	for _, m := range in.Memories {
		if _, err := p.AddMemory(m, now); err != nil {
			return nil, err
		}
	}

	if err := e.store.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	slog.Info("engine: profile created", "profile_id", p.ID, "user_id", p.UserID)
	return p, nil
}

// GetProfile loads one profile.
func (e *Engine) GetProfile(ctx context.Context, id string) (*profile.Profile, error) {
	return e.store.LoadProfile(ctx, id)
}

// ListProfiles lists a user's profiles; an empty userID lists all.
func (e *Engine) ListProfiles(ctx context.Context, userID string) ([]*profile.Profile, error) {
	return e.store.ListProfiles(ctx, userID)
}

// DeleteProfile removes a profile and its chats.
func (e *Engine) DeleteProfile(ctx context.Context, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()
	return e.store.DeleteProfile(ctx, id)
}

// GetChat loads one chat.
func (e *Engine) GetChat(ctx context.Context, id string) (*chat.Chat, error) {
	return e.store.LoadChat(ctx, id)
}

// ListChats lists a profile's chats, oldest first.
func (e *Engine) ListChats(ctx context.Context, profileID string) ([]*chat.Chat, error) {
	return e.store.ListChats(ctx, profileID)
}

// StartChat opens a new conversation with a persona.
func (e *Engine) StartChat(ctx context.Context, profileID string) (*chat.Chat, error) {
	unlock := e.locks.Lock(profileID)
	defer unlock()

	p, err := e.store.LoadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	c := chat.New(p.ID, now)

	p.Stats.TotalConversations++
	p.Stats.AverageSessionLength = chat.RollingAverage(p.Stats.AverageSessionLength, p.Stats.TotalConversations, 0)
	p.Touch(now)

	if err := e.store.SaveChatAndProfile(ctx, c, p); err != nil {
		return nil, err
	}
	return c, nil
}

// foldSession replaces c's contribution to the profile's average session
// length with its current length. StartChat admits every chat with length
// zero, so c is always one of the TotalConversations samples.
func foldSession(p *profile.Profile, c *chat.Chat) {
	n := p.Stats.TotalConversations
	if n <= 0 {
		return
	}
	length := c.Stats.SessionLength()
	avg := chat.RemoveFromAverage(p.Stats.AverageSessionLength, n, c.FoldedSessionLength)
	p.Stats.AverageSessionLength = chat.RollingAverage(avg, n, length)
	c.FoldedSessionLength = length
}

// MessageReply is the result of SendMessage.
type MessageReply struct {
	Message   chat.Message     `json:"message"`
	Index     int              `json:"index"`
	Fallback  bool             `json:"fallback"`
	Memories  []string         `json:"memories_used"`
	Captured  []profile.Memory `json:"memories_captured"`
	ChatStats chat.Stats       `json:"chat_stats"`
}

// lockChat loads the chat to find its owner and locks that profile.
func (e *Engine) lockChat(ctx context.Context, chatID string) (func(), error) {
	c, err := e.store.LoadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return e.locks.Lock(c.ProfileID), nil
}

// loadPair reloads the chat and its profile; callers hold the profile lock.
func (e *Engine) loadPair(ctx context.Context, chatID string) (*chat.Chat, *profile.Profile, error) {
	c, err := e.store.LoadChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	p, err := e.store.LoadProfile(ctx, c.ProfileID)
	if err != nil {
		return nil, nil, err
	}
	return c, p, nil
}

// savePair stores the chat and its profile together; a failure leaves both
// documents as they were.
func (e *Engine) savePair(ctx context.Context, c *chat.Chat, p *profile.Profile) error {
	return e.store.SaveChatAndProfile(ctx, c, p)
}

// SendMessage appends a user message, asks the persona for a reply and
// appends that too. The profile lock is released while the backend works, so
// the user message and the reply are two separate load-mutate-save steps.
// Backend failures produce a fallback reply, never an error.
func (e *Engine) SendMessage(ctx context.Context, chatID, text string) (*MessageReply, error) {
	var (
		p        *profile.Profile
		recent   []chat.Message
		captured []profile.Memory
	)

	unlock, err := e.lockChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	err = func() error {
		defer unlock()
		c, lp, err := e.loadPair(ctx, chatID)
		if err != nil {
			return err
		}
		now := e.now()
		msg, err := c.Append(chat.RoleUser, text, now, chat.Metadata{})
		if err != nil {
			return err
		}
		lp.Stats.TotalMessages++
		lp.Touch(now)
		captured = captureMemories(lp, msg.Content, now)

		if err := e.savePair(ctx, c, lp); err != nil {
			return err
		}
		p = lp
		recent = c.Recent(e.opts.HistoryWindow + 1)
		recent = recent[:len(recent)-1]
		text = msg.Content
		return nil
	}()
	if err != nil {
		return nil, err
	}

	started := time.Now()
	reply := e.assembler.Respond(ctx, text, p, recent, e.now())
	latency := time.Since(started).Milliseconds()
	if latency <= 0 {
		latency = 1
	}

	unlock = e.locks.Lock(p.ID)
	defer unlock()

	c, p, err := e.loadPair(ctx, chatID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	msg, err := c.Append(chat.RoleAssistant, reply.Text, now, chat.Metadata{ResponseTimeMs: latency})
	if err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}
	p.MarkReferenced(reply.MemoryIDs, now)
	p.Stats.TotalMessages++
	foldSession(p, c)
	p.Touch(now)

	if err := e.savePair(ctx, c, p); err != nil {
		return nil, err
	}

	return &MessageReply{
		Message:   msg,
		Index:     len(c.Messages) - 1,
		Fallback:  reply.Fallback,
		Memories:  nonNil(reply.MemoryIDs),
		Captured:  nonNilMemories(captured),
		ChatStats: c.Stats,
	}, nil
}

// satisfactionAlpha weights the newest rating in the satisfaction average.
const satisfactionAlpha = 0.2

// Feedback records the user's judgement of an assistant message, updates the
// profile's satisfaction score and keeps a non-empty comment as a memory.
func (e *Engine) Feedback(ctx context.Context, chatID string, index int, fb chat.Feedback) (chat.Stats, error) {
	unlock, err := e.lockChat(ctx, chatID)
	if err != nil {
		return chat.Stats{}, err
	}
	defer unlock()

	c, p, err := e.loadPair(ctx, chatID)
	if err != nil {
		return chat.Stats{}, err
	}
	now := e.now()
	if err := c.SetFeedback(index, fb, now); err != nil {
		return chat.Stats{}, err
	}

	sample := 0.0
	switch {
	case fb.Rating > 0:
		sample = float64(fb.Rating-1) / 4
	case fb.Helpful:
		sample = 1
	}
	p.Stats.SatisfactionScore = (1-satisfactionAlpha)*p.Stats.SatisfactionScore + satisfactionAlpha*sample

	if comment := c.Messages[index].Metadata.Feedback.Comment; comment != "" {
		_, err := p.AddMemory(profile.MemoryInput{
			Type:    profile.MemoryFeedback,
			Content: truncateClean(comment, profile.MaxMemoryContentChars),
			Context: "reply: " + truncateClean(c.Messages[index].Content, 200),
			Source:  profile.SourceFeedback,
		}, now)
		if err != nil {
			return chat.Stats{}, err
		}
	}
	p.UpdatedAt = now

	if err := e.savePair(ctx, c, p); err != nil {
		return chat.Stats{}, err
	}
	return c.Stats, nil
}

// StyleChange sets communication style values; nil fields stay as they are.
type StyleChange struct {
	Formality      *float64 `json:"formality,omitempty"`
	Enthusiasm     *float64 `json:"enthusiasm,omitempty"`
	Directness     *float64 `json:"directness,omitempty"`
	Supportiveness *float64 `json:"supportiveness,omitempty"`
}

// AdjustStyle applies a style change and records it in the evolution ledger.
// The numbers are changed first; the ledger entry only describes them.
func (e *Engine) AdjustStyle(ctx context.Context, profileID string, change StyleChange, reason string) (profile.EvolutionEvent, error) {
	unlock := e.locks.Lock(profileID)
	defer unlock()

	p, err := e.store.LoadProfile(ctx, profileID)
	if err != nil {
		return profile.EvolutionEvent{}, err
	}

	before := p.Style()
	next := before
	apply := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&next.Formality, change.Formality)
	apply(&next.Enthusiasm, change.Enthusiasm)
	apply(&next.Directness, change.Directness)
	apply(&next.Supportiveness, change.Supportiveness)
	p.SetStyle(next)

	desc := describeStyleChange(before, p.Style())
	if desc == "" {
		return profile.EvolutionEvent{}, fmt.Errorf("%w: style change has no effect", profile.ErrInvalidInput)
	}
	now := e.now()
	ev, err := p.RecordEvolution(desc, reason, now)
	if err != nil {
		return profile.EvolutionEvent{}, err
	}
	p.UpdatedAt = now

	if err := e.store.SaveProfile(ctx, p); err != nil {
		return profile.EvolutionEvent{}, fmt.Errorf("save profile: %w", err)
	}
	return ev, nil
}

func describeStyleChange(a, b profile.Style) string {
	var parts []string
	add := func(name string, x, y float64) {
		if x != y {
			parts = append(parts, fmt.Sprintf("%s %.2f -> %.2f", name, x, y))
		}
	}
	add("formality", a.Formality, b.Formality)
	add("enthusiasm", a.Enthusiasm, b.Enthusiasm)
	add("directness", a.Directness, b.Directness)
	add("supportiveness", a.Supportiveness, b.Supportiveness)
	return strings.Join(parts, ", ")
}

// RememberFact stores an explicit memory on a profile.
func (e *Engine) RememberFact(ctx context.Context, profileID string, in profile.MemoryInput) (profile.Memory, error) {
	unlock := e.locks.Lock(profileID)
	defer unlock()

	p, err := e.store.LoadProfile(ctx, profileID)
	if err != nil {
		return profile.Memory{}, err
	}
	now := e.now()
	m, err := p.AddMemory(in, now)
	if err != nil {
		return profile.Memory{}, err
	}
	p.UpdatedAt = now
	if err := e.store.SaveProfile(ctx, p); err != nil {
		return profile.Memory{}, fmt.Errorf("save profile: %w", err)
	}
	return m, nil
}

// Recall ranks a profile's memories against query without touching them.
func (e *Engine) Recall(ctx context.Context, profileID, query string, limit int) ([]profile.ScoredMemory, error) {
	p, err := e.store.LoadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return p.Relevant(query, limit, e.now())
}

// ContextPreview is the persona block a reply to Message would be built from.
type ContextPreview struct {
	Message  string                 `json:"message"`
	System   string                 `json:"system"`
	Memories []profile.ScoredMemory `json:"memories"`
}

// PreviewContext assembles the system prompt for message without calling the
// backend or marking any memory as referenced.
func (e *Engine) PreviewContext(ctx context.Context, profileID, message string) (ContextPreview, error) {
	p, err := e.store.LoadProfile(ctx, profileID)
	if err != nil {
		return ContextPreview{}, err
	}
	mems := relevantMemories(p, message, e.assembler.recallLimit(), e.now())
	return ContextPreview{
		Message:  message,
		System:   PersonaPrompt(p, mems),
		Memories: mems,
	}, nil
}

// ExtractProfile summarizes a chat into persona fields.
func (e *Engine) ExtractProfile(ctx context.Context, chatID string) (Extraction, error) {
	c, err := e.store.LoadChat(ctx, chatID)
	if err != nil {
		return Extraction{}, err
	}
	return e.extractor.Extract(ctx, c.Messages)
}

// ApplyExtraction merges an extraction into a profile: non-empty fields
// replace the stored ones, and new goals and challenges are remembered.
func (e *Engine) ApplyExtraction(ctx context.Context, profileID string, x Extraction) (*profile.Profile, error) {
	x = clampExtraction(x)

	unlock := e.locks.Lock(profileID)
	defer unlock()

	p, err := e.store.LoadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	if x.Name != "" {
		p.Name = x.Name
	}
	if x.Category != "" {
		p.Category = x.Category
	}
	d := p.Data
	if len(x.Data.Goals) > 0 {
		d.Goals = x.Data.Goals
	}
	if len(x.Data.Preferences) > 0 {
		d.Preferences = x.Data.Preferences
	}
	if len(x.Data.Challenges) > 0 {
		d.Challenges = x.Data.Challenges
	}
	if x.Data.Experience != "" {
		d.Experience = x.Data.Experience
	}
	if x.Data.Frequency != "" {
		d.Frequency = x.Data.Frequency
	}
	if x.Data.Notes != "" {
		d.Notes = x.Data.Notes
	}
	if err := p.SetData(d); err != nil {
		return nil, err
	}

	now := e.now()
	remember := func(items []string, t profile.MemoryType, importance float64) {
		for _, it := range items {
			if hasSimilarMemory(p, it) {
				continue
			}
			if _, err := p.AddMemory(profile.MemoryInput{
				Type: t, Content: it, Importance: profile.Importance(importance), Source: profile.SourceAnalysis,
			}, now); err != nil {
				slog.Debug("engine: skipping extracted memory", "err", err)
			}
		}
	}
	remember(x.Data.Goals, profile.MemoryGoal, 0.7)
	remember(x.Data.Challenges, profile.MemoryConcern, 0.6)
	p.UpdatedAt = now

	if err := e.store.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}

// InterviewQuestion asks the next persona-setup question and appends it to
// the chat as an assistant turn.
func (e *Engine) InterviewQuestion(ctx context.Context, chatID string) (*MessageReply, error) {
	c, err := e.store.LoadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	p, err := e.store.LoadProfile(ctx, c.ProfileID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	reply := interviewQuestion(ctx, e.llm, p, c.Messages, e.opts.HistoryWindow, e.opts.ExtractionTemperature)
	latency := max(time.Since(started).Milliseconds(), 1)

	unlock := e.locks.Lock(c.ProfileID)
	defer unlock()

	c, p, err = e.loadPair(ctx, chatID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	msg, err := c.Append(chat.RoleAssistant, reply.Text, now, chat.Metadata{ResponseTimeMs: latency})
	if err != nil {
		return nil, fmt.Errorf("append question: %w", err)
	}
	p.Stats.TotalMessages++
	foldSession(p, c)
	p.Touch(now)
	if err := e.savePair(ctx, c, p); err != nil {
		return nil, err
	}

	return &MessageReply{
		Message:   msg,
		Index:     len(c.Messages) - 1,
		Fallback:  reply.Fallback,
		Memories:  []string{},
		Captured:  []profile.Memory{},
		ChatStats: c.Stats,
	}, nil
}

// SweepResult reports one maintenance pass.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// Sweep normalizes every stored profile and saves the ones that changed.
// A failing profile is logged and skipped.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	ids, err := e.store.ListProfileIDs(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list profiles: %w", err)
	}

	var res SweepResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++
		repaired, err := e.sweepOne(ctx, id)
		if err != nil {
			slog.Warn("engine: sweep failed", "profile_id", id, "err", err)
			res.Failed++
			continue
		}
		if repaired {
			res.Repaired++
		}
	}
	return res, nil
}

func (e *Engine) sweepOne(ctx context.Context, id string) (bool, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.store.LoadProfile(ctx, id)
	if err != nil {
		return false, err
	}
	if !p.Normalize() {
		return false, nil
	}
	p.UpdatedAt = e.now()
	return true, e.store.SaveProfile(ctx, p)
}

// StartMaintenance runs a sweep now and then on the given cron schedule.
func (e *Engine) StartMaintenance(schedule string) error {
	run := func() {
		res, err := e.Sweep(context.Background())
		if err != nil {
			slog.Error("engine: sweep", "err", err)
			return
		}
		if res.Repaired > 0 || res.Failed > 0 {
			slog.Info("engine: sweep done", "scanned", res.Scanned, "repaired", res.Repaired, "failed", res.Failed)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}
	run()
	c.Start()
	e.cron = c
	return nil
}

// Stop shuts down the engine's background jobs and waits for a running
// sweep to finish.
func (e *Engine) Stop() {
	if e.cron == nil {
		return
	}
	<-e.cron.Stop().Done()
	e.cron = nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMemories(s []profile.Memory) []profile.Memory {
	if s == nil {
		return []profile.Memory{}
	}
	return s
}
