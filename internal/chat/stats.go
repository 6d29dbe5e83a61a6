package chat

import "math"

// Quality factor labels reported in Stats.Factors.
const (
	FactorFastResponses = "fast_responses"
	FactorEngagedUser   = "engaged_user"
	FactorLongSession   = "long_session"
	FactorHelpful       = "marked_helpful"
)

const (
	baseQuality         = 0.5
	fastResponseMs      = 3000
	engagedUserMessages = 5
	longSessionMinutes  = 10
)

// Stats is derived from the message list and never edited directly.
type Stats struct {
	MessageCount           int      `json:"message_count"`
	UserMessageCount       int      `json:"user_message_count"`
	AssistantMessageCount  int      `json:"assistant_message_count"`
	SessionDurationMinutes int      `json:"session_duration_minutes"`
	AverageResponseTimeMs  float64  `json:"average_response_time_ms"`
	QualityScore           float64  `json:"quality_score"`
	Factors                []string `json:"factors"`
}

// Recompute derives stats from messages. Duration is the span between the
// first and last message rounded to whole minutes; average latency only
// counts assistant messages with a recorded response time.
func Recompute(messages []Message) Stats {
	s := Stats{MessageCount: len(messages), Factors: []string{}}

	var latencySum int64
	var latencyN int
	helpful := false
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			s.UserMessageCount++
		case RoleAssistant:
			s.AssistantMessageCount++
			if m.Metadata.ResponseTimeMs > 0 {
				latencySum += m.Metadata.ResponseTimeMs
				latencyN++
			}
		}
		if fb := m.Metadata.Feedback; fb != nil && fb.Helpful {
			helpful = true
		}
	}
	if latencyN > 0 {
		s.AverageResponseTimeMs = float64(latencySum) / float64(latencyN)
	}
	if len(messages) > 1 {
		span := messages[len(messages)-1].Timestamp.Sub(messages[0].Timestamp)
		s.SessionDurationMinutes = int(math.Round(span.Minutes()))
	}

	q := baseQuality
	if latencyN > 0 && s.AverageResponseTimeMs < fastResponseMs {
		q += 0.1
		s.Factors = append(s.Factors, FactorFastResponses)
	}
	if s.UserMessageCount > engagedUserMessages {
		q += 0.2
		s.Factors = append(s.Factors, FactorEngagedUser)
	}
	if s.SessionDurationMinutes > longSessionMinutes {
		q += 0.1
		s.Factors = append(s.Factors, FactorLongSession)
	}
	if helpful {
		q += 0.1
		s.Factors = append(s.Factors, FactorHelpful)
	}
	s.QualityScore = math.Min(1.0, q)
	return s
}

// SessionLength is the value folded into a profile's average session length.
func (s Stats) SessionLength() float64 {
	return float64(s.SessionDurationMinutes)
}

// RollingAverage folds value into an average over n samples, where n
// already includes value.
func RollingAverage(prevAvg float64, n int, value float64) float64 {
	if n <= 1 {
		return value
	}
	return (prevAvg*float64(n-1) + value) / float64(n)
}

// RemoveFromAverage undoes a prior RollingAverage: it returns the average of
// the remaining n-1 samples once value is taken out of an average over n.
func RemoveFromAverage(avg float64, n int, value float64) float64 {
	if n <= 1 {
		return 0
	}
	return (avg*float64(n) - value) / float64(n-1)
}
