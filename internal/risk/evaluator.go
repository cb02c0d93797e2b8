// Package risk keeps the rolling signal windows of one session and decides
// the burnout risk level with asymmetric hysteresis.
package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/models"
)

// sourceOrder breaks ties between equally weighted sources.
var sourceOrder = []models.SignalSource{
	models.SourceDistress,
	models.SourceSkip,
	models.SourceDuration,
}

// Contribution is the weighted sum one source adds to the current window.
type Contribution struct {
	Source models.SignalSource
	Sum    float64
	Count  int
}

// Evaluator owns the RiskState of one session. All methods are safe for
// concurrent use but only the sentinel is expected to call Update.
type Evaluator struct {
	mu      sync.Mutex
	cfg     config.RiskConfig
	clock   clock.Clock
	windows map[models.SignalSource][]models.SignalReading
	seen    map[string]struct{}
	order   []string
	state   models.RiskState
}

func New(cfg config.RiskConfig, clk clock.Clock) (*Evaluator, error) {
	if cfg.ThresholdElevated >= cfg.ThresholdHigh {
		return nil, fmt.Errorf("elevated threshold %.2f must be below high threshold %.2f",
			cfg.ThresholdElevated, cfg.ThresholdHigh)
	}
	if cfg.WindowSize <= 0 || cfg.WindowMinutes <= 0 {
		return nil, fmt.Errorf("risk window must be positive (size %d, minutes %d)", cfg.WindowSize, cfg.WindowMinutes)
	}
	if cfg.EscalateConfirmations < 1 || cfg.CalmConfirmations < 1 {
		return nil, fmt.Errorf("confirmation counts must be at least 1")
	}
	if cfg.DedupeWindow <= 0 {
		return nil, fmt.Errorf("dedupe window must be positive")
	}
	if clk == nil {
		clk = clock.Real()
	}

	now := clk.Now()
	return &Evaluator{
		cfg:     cfg,
		clock:   clk,
		windows: make(map[models.SignalSource][]models.SignalReading),
		seen:    make(map[string]struct{}),
		state: models.RiskState{
			Level:          models.RiskCalm,
			LastTransition: now,
			EvaluatedAt:    now,
		},
	}, nil
}

// Update folds readings into the windows and runs one evaluation.
//
// An empty batch is still an evaluation: windows age out by time and the
// calm counter advances. A non-empty batch made only of readings already
// seen is ignored entirely, so re-delivery never moves the counters.
func (e *Evaluator) Update(readings []models.SignalReading) (models.RiskState, models.Transition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	fresh := 0
	for _, r := range readings {
		if !e.markLocked(r.EventID) {
			continue
		}
		e.windows[r.Source] = append(e.windows[r.Source], r)
		fresh++
	}
	if len(readings) > 0 && fresh == 0 {
		return e.state, models.Transition{From: e.state.Level, To: e.state.Level, At: e.state.EvaluatedAt}
	}

	e.pruneLocked(now)
	sum := e.sumLocked()

	if sum > e.cfg.ThresholdHigh {
		e.state.ConsecutiveHighCount++
	} else {
		e.state.ConsecutiveHighCount = 0
	}
	if sum < e.cfg.ThresholdElevated {
		e.state.ConsecutiveCalmCount++
	} else {
		e.state.ConsecutiveCalmCount = 0
	}

	from := e.state.Level
	to := from
	switch from {
	case models.RiskCalm:
		if sum > e.cfg.ThresholdElevated {
			to = models.RiskElevated
		}
	case models.RiskElevated:
		if e.state.ConsecutiveHighCount >= e.cfg.EscalateConfirmations {
			to = models.RiskHigh
		} else if e.state.ConsecutiveCalmCount >= e.cfg.CalmConfirmations {
			to = models.RiskCalm
		}
	case models.RiskHigh:
		if e.state.ConsecutiveCalmCount >= e.cfg.CalmConfirmations {
			to = models.RiskCalm
		}
	}

	e.state.WeightedSum = sum
	e.state.EvaluatedAt = now
	if to != from {
		e.state.Level = to
		e.state.LastTransition = now
	}
	return e.state, models.Transition{From: from, To: to, At: now}
}

// State returns a copy of the current risk state.
func (e *Evaluator) State() models.RiskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Breakdown returns the per-source contributions of the current windows,
// largest first. Sources with no readings are omitted.
func (e *Evaluator) Breakdown() []Contribution {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Contribution
	for _, src := range sourceOrder {
		w := e.windows[src]
		if len(w) == 0 {
			continue
		}
		c := Contribution{Source: src, Count: len(w)}
		for _, r := range w {
			c.Sum += r.Weighted()
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sum > out[j].Sum })
	return out
}

// Dominant returns the source contributing most to the current sum.
func (e *Evaluator) Dominant() (models.SignalSource, bool) {
	b := e.Breakdown()
	if len(b) == 0 {
		return "", false
	}
	return b[0].Source, true
}

// markLocked records an event id and reports whether it is new. Readings
// without an id cannot be matched and are always accepted.
func (e *Evaluator) markLocked(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := e.seen[id]; ok {
		return false
	}
	e.seen[id] = struct{}{}
	e.order = append(e.order, id)
	if len(e.order) > e.cfg.DedupeWindow {
		delete(e.seen, e.order[0])
		e.order = e.order[1:]
	}
	return true
}

func (e *Evaluator) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Duration(e.cfg.WindowMinutes) * time.Minute)
	for src, w := range e.windows {
		kept := make([]models.SignalReading, 0, len(w))
		for _, r := range w {
			if !r.At.Before(cutoff) {
				kept = append(kept, r)
			}
		}
		if len(kept) > e.cfg.WindowSize {
			kept = kept[len(kept)-e.cfg.WindowSize:]
		}
		if len(kept) == 0 {
			delete(e.windows, src)
			continue
		}
		e.windows[src] = kept
	}
}

func (e *Evaluator) sumLocked() float64 {
	sum := 0.0
	for _, w := range e.windows {
		for _, r := range w {
			sum += r.Weighted()
		}
	}
	return sum
}
