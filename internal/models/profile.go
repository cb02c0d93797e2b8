package models

import (
	"time"
)

// TimeRange is a daily HH:MM range, e.g. a peak-focus window.
type TimeRange struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Contains reports whether the wall-clock time of t falls inside the range.
// Ranges that cross midnight (22:00-02:00) are supported.
func (r TimeRange) Contains(t time.Time) bool {
	start, err := time.Parse("15:04", r.Start)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", r.End)
	if err != nil {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	s := start.Hour()*60 + start.Minute()
	e := end.Hour()*60 + end.Minute()
	if s <= e {
		return m >= s && m < e
	}
	return m >= s || m < e
}

type MoodPoint struct {
	At        time.Time `json:"at"`
	Mood      float64   `json:"mood"`
	SessionID string    `json:"session_id,omitempty"`
}

// Goal seeds one task of the initial schedule.
type Goal struct {
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	DurationMin int     `json:"duration_min"`
	Load        LoadTag `json:"load"`
}

type InterventionKind string

const (
	InterventionMicroBreak    InterventionKind = "micro_break"
	InterventionTaskSwap      InterventionKind = "task_swap"
	InterventionLoadReduction InterventionKind = "load_reduction"
)

// AllInterventions lists the closed set of interventions in default preference order.
var AllInterventions = []InterventionKind{
	InterventionMicroBreak,
	InterventionTaskSwap,
	InterventionLoadReduction,
}

type InterventionStat struct {
	Offered     int       `json:"offered"`
	Accepted    int       `json:"accepted"`
	Rejected    int       `json:"rejected"`
	TimedOut    int       `json:"timed_out"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	LastAt      time.Time `json:"last_at,omitempty"`
}

// SuccessRate is accepted over offered; zero when never offered.
func (s InterventionStat) SuccessRate() float64 {
	if s.Offered == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Offered)
}

// Profile is the durable per-user record. History is append-only and only
// the outcome evaluator writes to it.
type Profile struct {
	UserID            string                                `json:"user_id"`
	PeakFocus         []TimeRange                           `json:"peak_focus,omitempty"`
	FatigueTriggers   map[string]int                        `json:"fatigue_triggers,omitempty"`
	MoodTrend         []MoodPoint                           `json:"mood_trend,omitempty"`
	Goals             []Goal                                `json:"goals,omitempty"`
	InterventionStats map[InterventionKind]InterventionStat `json:"intervention_stats,omitempty"`
	History           []SessionSummary                      `json:"history,omitempty"`
	Version           int                                   `json:"version"`
	CreatedAt         time.Time                             `json:"created_at"`
	UpdatedAt         time.Time                             `json:"updated_at"`
}

// NewProfile creates the record used on first contact with a user.
func NewProfile(userID string, now time.Time) Profile {
	return Profile{
		UserID:            userID,
		FatigueTriggers:   map[string]int{},
		InterventionStats: map[InterventionKind]InterventionStat{},
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsFatigueTrigger reports whether the category has been recorded as a trigger.
func (p Profile) IsFatigueTrigger(category string) bool {
	return category != "" && p.FatigueTriggers[category] > 0
}

// InPeakFocus reports whether t falls inside any configured peak-focus range.
func (p Profile) InPeakFocus(t time.Time) bool {
	for _, r := range p.PeakFocus {
		if r.Contains(t) {
			return true
		}
	}
	return false
}
