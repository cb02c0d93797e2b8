package models

import "time"

// Metric is a computed value that may be unavailable when its inputs are missing.
type Metric struct {
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
}

func Available(v float64) Metric { return Metric{Value: v, Available: true} }

var Unavailable = Metric{}

// Mood sample origins.
const (
	MoodReported = "reported"
	MoodInferred = "inferred"
)

type MoodSample struct {
	At     time.Time `json:"at"`
	Mood   float64   `json:"mood"`
	Source string    `json:"source"`
}

// SessionSummary is the scored result appended to Profile.History.
type SessionSummary struct {
	SessionID        string    `json:"session_id"`
	StartedAt        time.Time `json:"started_at"`
	ClosedAt         time.Time `json:"closed_at"`
	CompletionBefore Metric    `json:"completion_before"`
	CompletionAfter  Metric    `json:"completion_after"`
	MoodDelta        Metric    `json:"mood_delta"`
	MeanMood         Metric    `json:"mean_mood"`
	Alerts           int       `json:"alerts"`
	Offers           int       `json:"offers"`
	Accepted         int       `json:"accepted"`
	Score            Metric    `json:"score"`
	Recommendations  []string  `json:"recommendations,omitempty"`
	Degraded         bool      `json:"degraded,omitempty"`
}

// SessionRecord accumulates everything observed in one session. The live
// instance is owned by the outcome evaluator and discarded once persisted.
type SessionRecord struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	StartedAt time.Time      `json:"started_at"`
	ClosedAt  time.Time      `json:"closed_at"`
	Messages  []Message      `json:"messages"`
	Snapshots []RiskState    `json:"snapshots"`
	Moods     []MoodSample   `json:"moods"`
	Summary   SessionSummary `json:"summary"`
	Degraded  bool           `json:"degraded,omitempty"`
}
