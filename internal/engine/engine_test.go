package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lazypower/persona/internal/chat"
	"github.com/lazypower/persona/internal/llm"
	"github.com/lazypower/persona/internal/profile"
	"github.com/lazypower/persona/internal/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestEngine(t *testing.T, client llm.Client) (*Engine, *store.DB, *testClock) {
	t.Helper()
	db := testDB(t)
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	e := New(db, client, Options{Clock: clock.Now})
	t.Cleanup(e.Stop)
	return e, db, clock
}

func createCoach(t *testing.T, e *Engine) *profile.Profile {
	t.Helper()
	p, err := e.CreateProfile(context.Background(), NewProfile{
		UserID:   "user-1",
		Name:     "Coach",
		Category: "fitness",
	})
	require.NoError(t, err)
	return p
}

func replyWith(text string) *llm.MockClient {
	return &llm.MockClient{Response: &llm.Response{Content: text, Provider: "mock"}}
}

func TestCreateProfile_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t, replyWith("ok"))
	ctx := context.Background()

	_, err := e.CreateProfile(ctx, NewProfile{UserID: "u", Name: "  "})
	assert.ErrorIs(t, err, profile.ErrInvalidInput)

	_, err = e.CreateProfile(ctx, NewProfile{
		UserID: "u",
		Name:   "Coach",
		Data:   profile.Data{Goals: []string{"a", "b", "c", "d", "e", "f"}},
	})
	assert.ErrorIs(t, err, profile.ErrInvalidInput)

	style := profile.Style{Formality: 2, Enthusiasm: 0.8, Directness: 0.5, Supportiveness: 0.5}
	p, err := e.CreateProfile(ctx, NewProfile{
		UserID: "u",
		Name:   "Coach",
		Style:  &style,
		Traits: []profile.Trait{{Name: "patient", Strength: 0.9}},
		Memories: []profile.MemoryInput{
			{Type: profile.MemoryPreference, Content: "Likes short answers", Source: profile.SourceInterview},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Style().Formality)
	assert.Len(t, p.Traits(), 1)
	assert.Len(t, p.Memories, 1)
	assert.Equal(t, int64(1), p.Version)

	got, err := e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
}

func TestSendMessage_StoresExchangeAndCapturesGoal(t *testing.T) {
	mock := replyWith("Let's get you there!")
	e, _, clock := newTestEngine(t, mock)
	ctx := context.Background()

	p := createCoach(t, e)
	c, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	r, err := e.SendMessage(ctx, c.ID, "I want to run a marathon this year.")
	require.NoError(t, err)
	assert.Equal(t, "Let's get you there!", r.Message.Content)
	assert.Equal(t, chat.RoleAssistant, r.Message.Role)
	assert.False(t, r.Fallback)
	assert.Equal(t, 1, r.Index)
	require.Len(t, r.Captured, 1)
	assert.Equal(t, profile.MemoryGoal, r.Captured[0].Type)
	assert.Equal(t, 0.7, r.Captured[0].Importance)
	assert.Positive(t, r.Message.Metadata.ResponseTimeMs)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "You are Coach")
	assert.Contains(t, calls[0].System, "ABOUT THE USER")
	assert.Equal(t, 0.7, calls[0].Temperature)
	assert.Equal(t, 1024, calls[0].MaxTokens)
	require.Len(t, calls[0].Messages, 1)
	assert.Equal(t, "I want to run a marathon this year.", calls[0].Messages[0].Content)

	stored, err := e.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, chat.RoleUser, stored.Messages[0].Role)
	assert.Equal(t, chat.RoleAssistant, stored.Messages[1].Role)
	assert.Equal(t, 2, stored.Stats.MessageCount)

	got, err := e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stats.TotalMessages)
	assert.Equal(t, 1, got.Stats.TotalConversations)
	assert.Len(t, got.Memories, 1)
	assert.Equal(t, clock.Now(), got.Stats.LastUsed)
}

func TestSendMessage_ReferencesRecalledMemories(t *testing.T) {
	mock := replyWith("Early runs it is.")
	e, _, clock := newTestEngine(t, mock)
	ctx := context.Background()

	p := createCoach(t, e)
	m, err := e.RememberFact(ctx, p.ID, profile.MemoryInput{
		Type:    profile.MemoryPreference,
		Content: "Prefers morning runs before work",
		Source:  profile.SourceInterview,
	})
	require.NoError(t, err)
	c, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)

	r, err := e.SendMessage(ctx, c.ID, "How should I plan my runs?")
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, r.Memories)
	assert.Empty(t, r.Captured)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "WHAT YOU REMEMBER")
	assert.Contains(t, calls[0].System, "Prefers morning runs before work")

	got, err := e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	ref := got.MemoryByID(m.ID)
	require.NotNil(t, ref)
	assert.Equal(t, 1, ref.ReferenceCount)
	assert.Equal(t, clock.Now(), ref.LastReferencedAt)
}

func TestSendMessage_FallbackWhenBackendFails(t *testing.T) {
	mock := &llm.MockClient{Err: errors.New("connection refused")}
	e, _, _ := newTestEngine(t, mock)
	ctx := context.Background()

	p := createCoach(t, e)
	c, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)

	want := "Coach can't answer right now. Please try again in a moment."
	for i := range 2 {
		r, err := e.SendMessage(ctx, c.ID, fmt.Sprintf("hello there %d", i))
		require.NoError(t, err)
		assert.True(t, r.Fallback)
		assert.Equal(t, want, r.Message.Content)
	}

	stored, err := e.GetChat(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 4)
}

func TestSendMessage_FallbackOnEmptyReply(t *testing.T) {
	e, _, _ := newTestEngine(t, replyWith("   "))
	ctx := context.Background()

	p := createCoach(t, e)
	c, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)

	r, err := e.SendMessage(ctx, c.ID, "anyone there?")
	require.NoError(t, err)
	assert.True(t, r.Fallback)
	assert.Equal(t, FallbackText(p), r.Message.Content)
}

func TestSendMessage_HistoryWindow(t *testing.T) {
	mock := replyWith("noted")
	e, _, _ := newTestEngine(t, mock)
	ctx := context.Background()

	p := createCoach(t, e)
	c, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)

	for i := range 8 {
		_, err := e.SendMessage(ctx, c.ID, fmt.Sprintf("message number %d", i))
		require.NoError(t, err)
	}

	calls := mock.Calls()
	require.Len(t, calls, 8)
	last := calls[7].Messages
	require.Len(t, last, DefaultHistoryWindow+1)
	assert.Equal(t, "message number 2", last[0].Content)
	assert.Equal(t, "message number 7", last[len(last)-1].Content)
}

func TestSendMessage_Errors(t *testing.T) {
	mock := replyWith("ok")
	e, _, _ := newTestEngine(t, mock)
	ctx := context.Background()

	p := createCoach(t, e)
	c, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)

	_, err = e.SendMessage(ctx, c.ID, "   ")
	assert.ErrorIs(t, err, profile.ErrInvalidInput)

	_, err = e.SendMessage(ctx, c.ID, strings.Repeat("x", chat.MaxMessageChars+1))
	assert.ErrorIs(t, err, profile.ErrInvalidInput)

	_, err = e.SendMessage(ctx, "missing", "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Empty(t, mock.Calls())
}

func TestSendMessage_ConcurrentChatsShareProfile(t *testing.T) {
	mock := replyWith("sure")
	e, _, _ := newTestEngine(t, mock)
	ctx := context.Background()

	p := createCoach(t, e)
	c1, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)
	c2, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)

	const perChat = 5
	var g errgroup.Group
	for _, id := range []string{c1.ID, c2.ID} {
		g.Go(func() error {
			for i := range perChat {
				if _, err := e.SendMessage(ctx, id, fmt.Sprintf("note %d", i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got, err := e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4*perChat, got.Stats.TotalMessages)
	assert.Equal(t, 2, got.Stats.TotalConversations)

	for _, id := range []string{c1.ID, c2.ID} {
		stored, err := e.GetChat(ctx, id)
		require.NoError(t, err)
		assert.Len(t, stored.Messages, 2*perChat)
	}
	assert.Equal(t, 0, e.locks.size())
}

func TestAverageSessionLength(t *testing.T) {
	var clock *testClock
	mock := &llm.MockClient{Respond: func(llm.Request) (*llm.Response, error) {
		clock.Advance(10 * time.Minute)
		return &llm.Response{Content: "ok"}, nil
	}}
	e, _, c0 := newTestEngine(t, mock)
	clock = c0
	ctx := context.Background()

	p := createCoach(t, e)
	c1, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)

	_, err = e.SendMessage(ctx, c1.ID, "first")
	require.NoError(t, err)
	got, err := e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got.Stats.AverageSessionLength, 1e-9)

	// The same chat growing replaces its contribution instead of adding one.
	_, err = e.SendMessage(ctx, c1.ID, "second")
	require.NoError(t, err)
	got, err = e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, got.Stats.AverageSessionLength, 1e-9)

	_, err = e.StartChat(ctx, p.ID)
	require.NoError(t, err)
	got, err = e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got.Stats.AverageSessionLength, 1e-9)
}

func TestFeedback(t *testing.T) {
	e, _, _ := newTestEngine(t, replyWith("Try three short runs a week."))
	ctx := context.Background()

	p := createCoach(t, e)
	c, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)
	r, err := e.SendMessage(ctx, c.ID, "hello coach")
	require.NoError(t, err)

	_, err = e.Feedback(ctx, c.ID, 0, chat.Feedback{Helpful: true})
	assert.ErrorIs(t, err, profile.ErrInvalidInput)
	_, err = e.Feedback(ctx, c.ID, r.Index, chat.Feedback{Rating: 9})
	assert.ErrorIs(t, err, profile.ErrInvalidInput)

	stats, err := e.Feedback(ctx, c.ID, r.Index, chat.Feedback{Helpful: true, Rating: 5, Comment: " Great plan, keep it short "})
	require.NoError(t, err)
	assert.Contains(t, stats.Factors, chat.FactorHelpful)

	got, err := e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.Stats.SatisfactionScore, 1e-9)
	require.Len(t, got.Memories, 1)
	assert.Equal(t, profile.MemoryFeedback, got.Memories[0].Type)
	assert.Equal(t, profile.SourceFeedback, got.Memories[0].Source)
	assert.Equal(t, "Great plan, keep it short", got.Memories[0].Content)

	// Not helpful and unrated counts as zero.
	_, err = e.Feedback(ctx, c.ID, r.Index, chat.Feedback{})
	require.NoError(t, err)
	got, err = e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.48, got.Stats.SatisfactionScore, 1e-9)
}

func TestAdjustStyle(t *testing.T) {
	e, _, clock := newTestEngine(t, replyWith("ok"))
	ctx := context.Background()
	p := createCoach(t, e)

	formal := 0.9
	ev, err := e.AdjustStyle(ctx, p.ID, StyleChange{Formality: &formal}, "user asked for formal tone")
	require.NoError(t, err)
	assert.Equal(t, "formality 0.50 -> 0.90", ev.Change)
	assert.Equal(t, "user asked for formal tone", ev.Reason)
	assert.Equal(t, clock.Now(), ev.Timestamp)

	over := 1.5
	ev, err = e.AdjustStyle(ctx, p.ID, StyleChange{Directness: &over}, "")
	require.NoError(t, err)
	assert.Equal(t, "directness 0.50 -> 1.00", ev.Change)

	_, err = e.AdjustStyle(ctx, p.ID, StyleChange{Formality: &formal}, "again")
	assert.ErrorIs(t, err, profile.ErrInvalidInput)

	got, err := e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Style().Formality)
	assert.Equal(t, 1.0, got.Style().Directness)
	assert.Len(t, got.Personality.EvolutionHistory, 2)
	assert.Equal(t, 2, got.Stats.EvolutionCount)
}

func TestRecall_DoesNotMutate(t *testing.T) {
	e, _, _ := newTestEngine(t, replyWith("ok"))
	ctx := context.Background()
	p := createCoach(t, e)

	for _, content := range []string{"Runs on Mondays", "Hates swimming", "Wants a faster 5k run"} {
		_, err := e.RememberFact(ctx, p.ID, profile.MemoryInput{
			Type: profile.MemoryFact, Content: content, Source: profile.SourceConversation,
		})
		require.NoError(t, err)
	}

	hits, err := e.Recall(ctx, p.ID, "RUN", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = e.Recall(ctx, p.ID, "run", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = e.Recall(ctx, p.ID, "  ", 5)
	assert.ErrorIs(t, err, profile.ErrInvalidQuery)

	got, err := e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	for _, m := range got.Memories {
		assert.Zero(t, m.ReferenceCount)
	}
}

// racingStore lets another writer advance a profile right after each load
// once armed, so the engine's next save of that profile is stale.
type racingStore struct {
	*store.DB
	armed atomic.Bool
}

func (s *racingStore) LoadProfile(ctx context.Context, id string) (*profile.Profile, error) {
	p, err := s.DB.LoadProfile(ctx, id)
	if err != nil || !s.armed.Load() {
		return p, err
	}
	other, err := s.DB.LoadProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.DB.SaveProfile(ctx, other); err != nil {
		return nil, err
	}
	return p, nil
}

func TestSendMessage_FailedSaveLeavesChatAndProfileUnchanged(t *testing.T) {
	st := &racingStore{DB: testDB(t)}
	mock := &llm.MockClient{Respond: func(llm.Request) (*llm.Response, error) {
		st.armed.Store(true)
		return &llm.Response{Content: "Let's plan it."}, nil
	}}
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := New(st, mock, Options{Clock: func() time.Time { return clock }})
	t.Cleanup(e.Stop)
	ctx := context.Background()

	p := createCoach(t, e)
	_, err := e.RememberFact(ctx, p.ID, profile.MemoryInput{
		Type: profile.MemoryGoal, Content: "Run a marathon in spring", Source: profile.SourceInterview,
	})
	require.NoError(t, err)
	c, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)

	_, err = e.SendMessage(ctx, c.ID, "How should I train for the marathon?")
	require.ErrorIs(t, err, store.ErrVersionConflict)

	st.armed.Store(false)
	gotChat, err := st.LoadChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, gotChat.Messages, 1, "only the user message from the first save")
	assert.Equal(t, chat.RoleUser, gotChat.Messages[0].Role)

	got, err := st.LoadProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stats.TotalMessages)
	for _, m := range got.Memories {
		assert.Zero(t, m.ReferenceCount, "reference bump from the lost reply")
	}
}

func saveChat(t *testing.T, db *store.DB, profileID string, turns ...string) *chat.Chat {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := chat.New(profileID, now)
	for i, text := range turns {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		_, err := c.Append(role, text, now.Add(time.Duration(i)*time.Minute), chat.Metadata{})
		require.NoError(t, err)
	}
	require.NoError(t, db.SaveChat(context.Background(), c))
	return c
}

var setupTurns = []string{
	"Coach Max",
	"Nice to meet you! What do you want to achieve?",
	"I want to lose five kilos before summer. I prefer short workouts at home. My problem is finding time after work. I train every week.",
}

func TestExtractProfile_LLM(t *testing.T) {
	mock := replyWith("```json\n" + `{"name": "Max", "category": "fitness", "goals": ["lose five kilos"], "preferences": ["short home workouts"], "challenges": ["time after work"], "experience": "Beginner", "frequency": "sometimes", "notes": ""}` + "\n```")
	e, db, _ := newTestEngine(t, mock)
	ctx := context.Background()
	p := createCoach(t, e)
	c := saveChat(t, db, p.ID, setupTurns...)

	x, err := e.ExtractProfile(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ExtractedByLLM, x.Source)
	assert.Equal(t, "Max", x.Name)
	assert.Equal(t, []string{"lose five kilos"}, x.Data.Goals)
	assert.Equal(t, profile.ExperienceBeginner, x.Data.Experience)
	assert.Equal(t, profile.Frequency(""), x.Data.Frequency)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0.9, calls[0].Temperature)
	assert.Equal(t, 800, calls[0].MaxTokens)
	assert.Contains(t, calls[0].Messages[0].Content, "[USER] Coach Max")
}

func TestExtractProfile_FallsBackToHeuristic(t *testing.T) {
	for name, mock := range map[string]*llm.MockClient{
		"malformed": replyWith("I'm sorry, I can't do that."),
		"backend":   {Err: errors.New("timeout")},
	} {
		t.Run(name, func(t *testing.T) {
			e, db, _ := newTestEngine(t, mock)
			p := createCoach(t, e)
			c := saveChat(t, db, p.ID, setupTurns...)

			x, err := e.ExtractProfile(context.Background(), c.ID)
			require.NoError(t, err)
			assert.Equal(t, ExtractedByHeuristic, x.Source)
			assert.Equal(t, "Coach Max", x.Name)
			assert.Equal(t, []string{"I want to lose five kilos before summer"}, x.Data.Goals)
			assert.Equal(t, []string{"I prefer short workouts at home"}, x.Data.Preferences)
			assert.Equal(t, []string{"My problem is finding time after work"}, x.Data.Challenges)
			assert.Equal(t, profile.FrequencyWeekly, x.Data.Frequency)
		})
	}
}

func TestApplyExtraction(t *testing.T) {
	e, _, _ := newTestEngine(t, replyWith("ok"))
	ctx := context.Background()
	p := createCoach(t, e)

	x := Extraction{
		Data: profile.Data{
			Goals:      []string{"Run a marathon", "g2", "g3", "g4", "g5", "g6", "g7"},
			Challenges: []string{"Knee pain"},
			Experience: "expert",
		},
	}
	got, err := e.ApplyExtraction(ctx, p.ID, x)
	require.NoError(t, err)
	assert.Equal(t, "Coach", got.Name)
	assert.Len(t, got.Data.Goals, profile.MaxListItems)
	assert.Equal(t, profile.ExperienceExpert, got.Data.Experience)
	assert.Len(t, got.Memories, profile.MaxListItems+1)

	byContent := map[string]profile.Memory{}
	for _, m := range got.Memories {
		byContent[m.Content] = m
		assert.Equal(t, profile.SourceAnalysis, m.Source)
	}
	assert.Equal(t, profile.MemoryGoal, byContent["Run a marathon"].Type)
	assert.Equal(t, 0.7, byContent["Run a marathon"].Importance)
	assert.Equal(t, profile.MemoryConcern, byContent["Knee pain"].Type)
	assert.Equal(t, 0.6, byContent["Knee pain"].Importance)

	// Applying the same extraction again adds no duplicate memories and
	// keeps fields the extraction leaves empty.
	got, err = e.ApplyExtraction(ctx, p.ID, Extraction{Name: "Max", Data: profile.Data{Goals: []string{"run a marathon"}}})
	require.NoError(t, err)
	assert.Equal(t, "Max", got.Name)
	assert.Equal(t, []string{"run a marathon"}, got.Data.Goals)
	assert.Equal(t, []string{"Knee pain"}, got.Data.Challenges)
	assert.Len(t, got.Memories, profile.MaxListItems+1)
}

func TestInterviewQuestion(t *testing.T) {
	t.Run("backend", func(t *testing.T) {
		mock := replyWith("What should I call you?")
		e, _, _ := newTestEngine(t, mock)
		ctx := context.Background()
		p := createCoach(t, e)
		c, err := e.StartChat(ctx, p.ID)
		require.NoError(t, err)

		r, err := e.InterviewQuestion(ctx, c.ID)
		require.NoError(t, err)
		assert.False(t, r.Fallback)
		assert.Equal(t, "What should I call you?", r.Message.Content)

		calls := mock.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, 0.9, calls[0].Temperature)
		assert.Equal(t, interviewMaxTokens, calls[0].MaxTokens)
		assert.Contains(t, calls[0].System, "name: Coach")
	})

	t.Run("fallback", func(t *testing.T) {
		e, _, _ := newTestEngine(t, &llm.MockClient{Err: errors.New("down")})
		ctx := context.Background()
		p := createCoach(t, e)
		c, err := e.StartChat(ctx, p.ID)
		require.NoError(t, err)

		r, err := e.InterviewQuestion(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, r.Fallback)
		assert.Equal(t, "What would you like to achieve with my help?", r.Message.Content)

		stored, err := e.GetChat(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, stored.Messages, 1)
		assert.Equal(t, chat.RoleAssistant, stored.Messages[0].Role)
	})
}

func TestDeleteProfile_RemovesChats(t *testing.T) {
	e, _, _ := newTestEngine(t, replyWith("ok"))
	ctx := context.Background()
	p := createCoach(t, e)
	c, err := e.StartChat(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, e.DeleteProfile(ctx, p.ID))
	_, err = e.GetProfile(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = e.GetChat(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, e.DeleteProfile(ctx, p.ID), store.ErrNotFound)
}

func TestSweep_RepairsOutOfRangeValues(t *testing.T) {
	e, db, _ := newTestEngine(t, replyWith("ok"))
	ctx := context.Background()
	p := createCoach(t, e)
	createCoach(t, e)

	// Simulate a document written by an older version.
	p.Memories = append(p.Memories, profile.Memory{ID: "m1", Type: profile.MemoryFact, Content: "x", Importance: 3, Source: profile.SourceConversation})
	p.Personality.Style.Formality = -1
	require.NoError(t, db.SaveProfile(ctx, p))

	res, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 2, Repaired: 1}, res)

	got, err := e.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Memories[0].Importance)
	assert.Equal(t, 0.0, got.Style().Formality)

	res, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Repaired)
}

func TestStartMaintenance(t *testing.T) {
	e, _, _ := newTestEngine(t, replyWith("ok"))
	assert.Error(t, e.StartMaintenance("not a schedule"))
	require.NoError(t, e.StartMaintenance("@daily"))
	e.Stop()
	e.Stop()
}

type blockingClient struct{}

func (blockingClient) Complete(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBoundedClient_Timeout(t *testing.T) {
	b := &boundedClient{Client: blockingClient{}, sem: semaphore.NewWeighted(1), timeout: 20 * time.Millisecond}
	_, err := b.Complete(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBoundedClient_LimitsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	mock := &llm.MockClient{Respond: func(llm.Request) (*llm.Response, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return &llm.Response{Content: "ok"}, nil
	}}
	b := &boundedClient{Client: mock, sem: semaphore.NewWeighted(2), timeout: time.Second}

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			_, err := b.Complete(context.Background(), llm.Request{})
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, mock.Calls(), 8)
}
