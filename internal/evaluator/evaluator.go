// Package evaluator scores a finished session and is the only writer of
// profile history.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/julianstephens/guardian/internal/bus"
	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/models"
)

// ErrNotDurable is returned when the session record could not be saved.
// The computed summary is still returned alongside it.
var ErrNotDurable = errors.New("session record not durably saved")

const moodTrendLimit = 90

// Store is the durable half of the evaluator. *storage.Repository
// satisfies it.
type Store interface {
	CommitSession(ctx context.Context, rec models.SessionRecord, fold func(*models.Profile) error) (models.Profile, error)
}

// Result is what the evaluator hands back to the closer of a session.
type Result struct {
	Record  models.SessionRecord
	Profile models.Profile
	Durable bool
}

type Evaluator struct {
	store    Store
	baseline models.Profile
	clock    clock.Clock
	log      *log.Logger
	seen     *bus.Dedupe

	mu       sync.Mutex
	rec      models.SessionRecord
	finished bool

	done   chan struct{}
	result Result
	err    error
}

// New starts accumulating a session. baseline is the profile loaded at
// session start; a nil store or degraded session never reports durability.
func New(sessionID string, baseline models.Profile, startedAt time.Time, store Store, degraded bool, clk clock.Clock) *Evaluator {
	if clk == nil {
		clk = clock.Real()
	}
	return &Evaluator{
		store:    store,
		baseline: baseline,
		clock:    clk,
		log:      logger.Component("evaluator"),
		seen:     bus.NewDedupe(constants.BusDedupeWindow),
		rec: models.SessionRecord{
			SessionID: sessionID,
			UserID:    baseline.UserID,
			StartedAt: startedAt,
			Degraded:  degraded || store == nil,
		},
		done: make(chan struct{}),
	}
}

// HandleMessage records every bus message once. SessionClosed finalizes
// the session.
func (e *Evaluator) HandleMessage(msg models.Message) {
	if msg.ID != "" && !e.seen.First(msg.ID) {
		return
	}

	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.rec.Messages = append(e.rec.Messages, msg)
	closing := msg.Type == models.MsgSessionClosed
	if closing {
		e.finished = true
	}
	e.mu.Unlock()

	if closing {
		closedAt := msg.Timestamp
		if closedAt.IsZero() {
			closedAt = e.clock.Now()
		}
		ctx, cancel := context.WithTimeout(context.Background(), constants.CloseTimeout)
		defer cancel()
		e.result, e.err = e.finalize(ctx, closedAt)
		close(e.done)
	}
}

// RecordSnapshot keeps the risk state of one sentinel cycle.
func (e *Evaluator) RecordSnapshot(state models.RiskState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.finished {
		e.rec.Snapshots = append(e.rec.Snapshots, state)
	}
}

func (e *Evaluator) RecordMood(sample models.MoodSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.finished {
		e.rec.Moods = append(e.rec.Moods, sample)
	}
}

// Preview scores what has been observed so far without persisting it.
func (e *Evaluator) Preview() models.SessionSummary {
	e.mu.Lock()
	rec := e.copyLocked()
	e.mu.Unlock()

	rec.ClosedAt = e.clock.Now()
	return summarize(rec, e.baseline)
}

// Wait blocks until the session has been finalized.
func (e *Evaluator) Wait(ctx context.Context) (Result, error) {
	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("waiting for session evaluation: %w", ctx.Err())
	}
}

func (e *Evaluator) copyLocked() models.SessionRecord {
	rec := e.rec
	rec.Messages = append([]models.Message(nil), e.rec.Messages...)
	rec.Snapshots = append([]models.RiskState(nil), e.rec.Snapshots...)
	rec.Moods = append([]models.MoodSample(nil), e.rec.Moods...)
	return rec
}

func (e *Evaluator) finalize(ctx context.Context, closedAt time.Time) (Result, error) {
	e.mu.Lock()
	rec := e.copyLocked()
	e.mu.Unlock()

	rec.ClosedAt = closedAt
	rec.Summary = summarize(rec, e.baseline)
	rec.Summary.Degraded = rec.Degraded

	res := Result{Record: rec, Profile: e.baseline}
	fold := func(p *models.Profile) error {
		Fold(p, rec)
		return nil
	}

	if rec.Degraded {
		Fold(&res.Profile, rec)
		e.log.Warn("session evaluated without durable storage", "session", rec.SessionID)
		return res, ErrNotDurable
	}

	p, err := e.store.CommitSession(ctx, rec, fold)
	if err != nil {
		Fold(&res.Profile, rec)
		e.log.Error("failed to persist session", "session", rec.SessionID, "error", err)
		return res, fmt.Errorf("%w: %v", ErrNotDurable, err)
	}

	res.Profile = p
	res.Durable = true
	e.log.Info("session evaluated", "session", rec.SessionID, "score", rec.Summary.Score.Value, "alerts", rec.Summary.Alerts)
	return res, nil
}

// Fold merges a finished session into the profile: intervention stats,
// fatigue triggers, mood trend and one history entry.
func Fold(p *models.Profile, rec models.SessionRecord) {
	if p.InterventionStats == nil {
		p.InterventionStats = map[models.InterventionKind]models.InterventionStat{}
	}
	if p.FatigueTriggers == nil {
		p.FatigueTriggers = map[string]int{}
	}

	for _, msg := range rec.Messages {
		if msg.Type != models.MsgInterventionOutcome {
			continue
		}
		out, ok := msg.Payload.(models.InterventionOutcome)
		if !ok || out.Reason == models.OutcomeClosed {
			continue
		}
		st := p.InterventionStats[out.Kind]
		st.Offered++
		switch out.Reason {
		case models.OutcomeAccepted:
			st.Accepted++
		case models.OutcomeRejected:
			st.Rejected++
		case models.OutcomeTimeout:
			st.TimedOut++
		}
		st.LastOutcome = string(out.Reason)
		st.LastAt = msg.Timestamp
		p.InterventionStats[out.Kind] = st
	}

	for category, n := range skippedCategories(rec.Messages) {
		p.FatigueTriggers[category] += n
	}

	if rec.Summary.MeanMood.Available {
		p.MoodTrend = append(p.MoodTrend, models.MoodPoint{
			At:        rec.ClosedAt,
			Mood:      rec.Summary.MeanMood.Value,
			SessionID: rec.SessionID,
		})
		if n := len(p.MoodTrend); n > moodTrendLimit {
			p.MoodTrend = p.MoodTrend[n-moodTrendLimit:]
		}
	}

	p.History = append(p.History, rec.Summary)
}
