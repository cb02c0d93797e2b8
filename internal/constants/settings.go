package constants

import "time"

// Policy defaults. Every value can be overridden in guardian.yaml; these only
// give a first run something reasonable to work with.
const (
	// Signal weights (distress >= skip >= duration)
	DefaultDistressWeight = 1.0
	DefaultSkipWeight     = 0.8
	DefaultDurationWeight = 0.5
	DefaultOverworkMin    = 45

	// Risk thresholds and windows
	DefaultThresholdElevated     = 4.0
	DefaultThresholdHigh         = 8.0
	DefaultWindowSize            = 3
	DefaultWindowMinutes         = 30
	DefaultEscalateConfirmations = 2
	DefaultCalmConfirmations     = 3
	DefaultReadingDedupeWindow   = 512

	// Sentinel cadence
	DefaultCycleInteractions = 1
	DefaultCycleInterval     = 30 * time.Second

	// Negotiator
	DefaultOfferTimeout = 2 * time.Minute
	DefaultAvoidWindow  = 30 * time.Minute

	// Plan manager
	DefaultSessionMinutes   = 180
	DefaultToleranceMinutes = 15
	DefaultBreakMinutes     = 10
	DefaultFocusBlockMin    = 50
	DefaultFocusBreakMin    = 10

	// Text generation
	DefaultTextgenTimeout = 10 * time.Second
)
