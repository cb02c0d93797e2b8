package models

import "time"

type SignalSource string

const (
	SourceDistress SignalSource = "distress"
	SourceSkip     SignalSource = "skip"
	SourceDuration SignalSource = "duration"
)

// SignalReading is one normalized observation. It is consumed once by the
// risk evaluator and never persisted individually.
type SignalReading struct {
	EventID string       `json:"event_id"`
	Source  SignalSource `json:"source"`
	Value   float64      `json:"value"`
	Weight  float64      `json:"weight"`
	At      time.Time    `json:"at"`
}

// Weighted returns value times weight.
func (r SignalReading) Weighted() float64 {
	return r.Value * r.Weight
}
