// Package signal turns raw session events into normalized signal readings.
package signal

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/models"
)

// Aggregator is a stateless classifier from events to readings. It is
// safe for concurrent use.
type Aggregator struct {
	cfg   config.SignalConfig
	clock clock.Clock
	log   *log.Logger
}

// New validates the weight ordering distress >= skip >= duration > 0.
func New(cfg config.SignalConfig, clk clock.Clock) (*Aggregator, error) {
	if cfg.DurationWeight <= 0 || cfg.SkipWeight < cfg.DurationWeight || cfg.DistressWeight < cfg.SkipWeight {
		return nil, fmt.Errorf("signal weights must satisfy distress >= skip >= duration > 0 (got %.2f, %.2f, %.2f)",
			cfg.DistressWeight, cfg.SkipWeight, cfg.DurationWeight)
	}
	if cfg.OverworkMinutes <= 0 {
		return nil, fmt.Errorf("overwork minutes must be positive")
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Aggregator{cfg: cfg, clock: clk, log: logger.Component("signal")}, nil
}

// Ingest maps one event to at most one reading. Events that carry no
// signal (task completion, offer responses) and malformed or unknown
// events yield false; the latter are logged.
func (a *Aggregator) Ingest(ev models.Event) (models.SignalReading, bool) {
	r := models.SignalReading{EventID: ev.ID, At: ev.At}
	if r.At.IsZero() {
		r.At = a.clock.Now()
	}

	switch ev.Kind {
	case models.EventChat:
		r.Source = models.SourceDistress
		r.Value = ScoreText(ev.Text)
		r.Weight = a.cfg.DistressWeight
	case models.EventMood:
		if ev.Mood < 1 || ev.Mood > 5 {
			a.log.Warn("dropping mood event outside 1..5", "event", ev.ID, "mood", ev.Mood)
			return models.SignalReading{}, false
		}
		r.Source = models.SourceDistress
		r.Value = float64(6 - ev.Mood)
		r.Weight = a.cfg.DistressWeight
	case models.EventTaskSkip:
		r.Source = models.SourceSkip
		r.Value = 1
		r.Weight = a.cfg.SkipWeight
	case models.EventWorkTick:
		if ev.Minutes <= 0 {
			a.log.Warn("dropping work tick without minutes", "event", ev.ID)
			return models.SignalReading{}, false
		}
		r.Source = models.SourceDuration
		r.Value = ev.Minutes / float64(a.cfg.OverworkMinutes)
		r.Weight = a.cfg.DurationWeight
	case models.EventTaskDone, models.EventOfferResponse:
		return models.SignalReading{}, false
	default:
		a.log.Warn("dropping unknown event kind", "event", ev.ID, "kind", ev.Kind)
		return models.SignalReading{}, false
	}
	return r, true
}

// MoodOf returns the self-reported or inferred mood (1..5) of an event.
// Chat mood is the inverse of its distress score.
func MoodOf(ev models.Event) (float64, bool) {
	switch ev.Kind {
	case models.EventMood:
		if ev.Mood < 1 || ev.Mood > 5 {
			return 0, false
		}
		return float64(ev.Mood), true
	case models.EventChat:
		return 6 - ScoreText(ev.Text), true
	}
	return 0, false
}
