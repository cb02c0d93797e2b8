package models

import "time"

type EventKind string

const (
	EventChat          EventKind = "chat"
	EventTaskSkip      EventKind = "task_skip"
	EventTaskDone      EventKind = "task_done"
	EventWorkTick      EventKind = "work_tick"
	EventMood          EventKind = "mood"
	EventOfferResponse EventKind = "offer_response"
)

// Event is a raw notification from a front end, one per NDJSON line.
type Event struct {
	ID            string    `json:"id,omitempty"`
	Kind          EventKind `json:"kind"`
	At            time.Time `json:"at,omitempty"`
	Text          string    `json:"text,omitempty"`
	TaskID        string    `json:"task_id,omitempty"`
	Minutes       float64   `json:"minutes,omitempty"`
	Mood          int       `json:"mood,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Accepted      bool      `json:"accepted,omitempty"`
}
