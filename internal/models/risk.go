package models

import "time"

type RiskLevel string

const (
	RiskCalm     RiskLevel = "calm"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
)

type RiskState struct {
	Level                RiskLevel `json:"level"`
	ConsecutiveHighCount int       `json:"consecutive_high_count"`
	ConsecutiveCalmCount int       `json:"consecutive_calm_count"`
	WeightedSum          float64   `json:"weighted_sum"`
	LastTransition       time.Time `json:"last_transition_time"`
	EvaluatedAt          time.Time `json:"evaluated_at"`
}

// Transition describes a level change produced by one evaluation.
type Transition struct {
	From RiskLevel `json:"from"`
	To   RiskLevel `json:"to"`
	At   time.Time `json:"at"`
}

// Changed reports whether the evaluation moved the level.
func (t Transition) Changed() bool {
	return t.From != t.To
}
