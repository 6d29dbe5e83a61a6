package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/persona/internal/profile"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestAppendKeepsTimestampsMonotonic(t *testing.T) {
	c := New("p1", t0)

	_, err := c.Append(RoleUser, "hi", t0.Add(time.Minute), Metadata{})
	require.NoError(t, err)
	m, err := c.Append(RoleAssistant, "hello", t0, Metadata{ResponseTimeMs: 900})
	require.NoError(t, err)

	assert.Equal(t, t0.Add(time.Minute), m.Timestamp)
	for i := 1; i < len(c.Messages); i++ {
		assert.False(t, c.Messages[i].Timestamp.Before(c.Messages[i-1].Timestamp))
	}
}

func TestAppendRejectsBadInput(t *testing.T) {
	c := New("p1", t0)

	_, err := c.Append("system", "x", t0, Metadata{})
	assert.ErrorIs(t, err, profile.ErrInvalidInput)
	_, err = c.Append(RoleUser, "  ", t0, Metadata{})
	assert.ErrorIs(t, err, profile.ErrInvalidInput)
	_, err = c.Append(RoleUser, strings.Repeat("a", MaxMessageChars+1), t0, Metadata{})
	assert.ErrorIs(t, err, profile.ErrInvalidInput)
	assert.Empty(t, c.Messages)
}

func TestAppendEstimatesTokens(t *testing.T) {
	c := New("p1", t0)
	m, err := c.Append(RoleUser, strings.Repeat("x", 40), t0, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, 14, m.Metadata.TokenEstimate)
}

func TestRecomputeDuration(t *testing.T) {
	one := []Message{{Role: RoleUser, Content: "a", Timestamp: t0}}
	assert.Equal(t, 0, Recompute(one).SessionDurationMinutes)

	span := []Message{
		{Role: RoleUser, Content: "a", Timestamp: t0},
		{Role: RoleAssistant, Content: "b", Timestamp: t0.Add(600 * time.Second)},
	}
	assert.Equal(t, 10, Recompute(span).SessionDurationMinutes)

	assert.Equal(t, 0, Recompute(nil).SessionDurationMinutes)
}

func TestRecomputeQualityFactors(t *testing.T) {
	var msgs []Message
	at := t0
	for i := 0; i < 6; i++ {
		msgs = append(msgs, Message{Role: RoleUser, Content: "q", Timestamp: at})
		at = at.Add(2 * time.Minute)
		msgs = append(msgs, Message{Role: RoleAssistant, Content: "a", Timestamp: at, Metadata: Metadata{ResponseTimeMs: 1200}})
		at = at.Add(time.Second)
	}

	s := Recompute(msgs)
	assert.Equal(t, 12, s.MessageCount)
	assert.Equal(t, 6, s.UserMessageCount)
	assert.Equal(t, 6, s.AssistantMessageCount)
	assert.InDelta(t, 1200.0, s.AverageResponseTimeMs, 1e-9)
	assert.InDelta(t, 0.9, s.QualityScore, 1e-9)
	assert.Equal(t, []string{FactorFastResponses, FactorEngagedUser, FactorLongSession}, s.Factors)

	msgs[1].Metadata.Feedback = &Feedback{Helpful: true}
	s = Recompute(msgs)
	assert.InDelta(t, 1.0, s.QualityScore, 1e-9)
	assert.Contains(t, s.Factors, FactorHelpful)
}

func TestRecomputeQualityBounds(t *testing.T) {
	tests := []struct {
		name string
		msgs []Message
	}{
		{"empty", nil},
		{"slow single reply", []Message{
			{Role: RoleUser, Content: "q", Timestamp: t0},
			{Role: RoleAssistant, Content: "a", Timestamp: t0.Add(time.Second), Metadata: Metadata{ResponseTimeMs: 9000}},
		}},
		{"unhelpful", []Message{
			{Role: RoleAssistant, Content: "a", Timestamp: t0, Metadata: Metadata{Feedback: &Feedback{Helpful: false, Rating: 1}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Recompute(tt.msgs)
			assert.GreaterOrEqual(t, s.QualityScore, 0.5)
			assert.LessOrEqual(t, s.QualityScore, 1.0)
			assert.NotNil(t, s.Factors)
		})
	}
}

func TestSetFeedback(t *testing.T) {
	c := New("p1", t0)
	_, err := c.Append(RoleUser, "q", t0, Metadata{})
	require.NoError(t, err)
	_, err = c.Append(RoleAssistant, "a", t0, Metadata{})
	require.NoError(t, err)

	assert.ErrorIs(t, c.SetFeedback(0, Feedback{Helpful: true}, t0), profile.ErrInvalidInput)
	assert.ErrorIs(t, c.SetFeedback(5, Feedback{Helpful: true}, t0), profile.ErrInvalidInput)
	assert.ErrorIs(t, c.SetFeedback(1, Feedback{Rating: 6}, t0), profile.ErrInvalidInput)

	require.NoError(t, c.SetFeedback(1, Feedback{Helpful: true, Rating: 5, Comment: " great "}, t0))
	assert.Equal(t, "great", c.Messages[1].Metadata.Feedback.Comment)
	assert.Contains(t, c.Stats.Factors, FactorHelpful)
}

func TestRecentReturnsTail(t *testing.T) {
	c := New("p1", t0)
	for i := 0; i < 4; i++ {
		_, err := c.Append(RoleUser, string(rune('a'+i)), t0, Metadata{})
		require.NoError(t, err)
	}

	got := c.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Content)
	assert.Equal(t, "d", got[1].Content)
	assert.Len(t, c.Recent(10), 4)
	assert.Nil(t, c.Recent(0))

	got[0].Content = "mutated"
	assert.Equal(t, "c", c.Messages[2].Content)
}

func TestRollingAverage(t *testing.T) {
	assert.Equal(t, 12.0, RollingAverage(0, 1, 12))
	assert.InDelta(t, 8.0, RollingAverage(12, 2, 4), 1e-9)

	avg := RollingAverage(8, 3, 20)
	assert.InDelta(t, 12.0, avg, 1e-9)
	assert.InDelta(t, 8.0, RemoveFromAverage(avg, 3, 20), 1e-9)
	assert.Equal(t, 0.0, RemoveFromAverage(5, 1, 5))
}
