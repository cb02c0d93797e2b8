// Package session wires the agents of one monitored work session together
// and keeps at most one live session per user.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/julianstephens/guardian/internal/bus"
	"github.com/julianstephens/guardian/internal/calendar"
	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/coach"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/evaluator"
	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/observe"
	"github.com/julianstephens/guardian/internal/planner"
	"github.com/julianstephens/guardian/internal/risk"
	"github.com/julianstephens/guardian/internal/sentinel"
	"github.com/julianstephens/guardian/internal/signal"
	"github.com/julianstephens/guardian/internal/storage"
	"github.com/julianstephens/guardian/internal/textgen"
)

const releaseTimeout = 5 * time.Second

var (
	ErrActiveSessionExists = errors.New("active session already exists")
	ErrSessionClosed       = errors.New("session closed")
)

// Deps are the collaborators shared by every session a Manager starts.
type Deps struct {
	Config config.Config
	// Repo is the durable store. Nil runs every session in degraded mode.
	Repo      *storage.Repository
	Calendar  calendar.Calendar
	Generator textgen.Generator
	Notifier  coach.Notifier
	Sink      observe.Sink
	Clock     clock.Clock
}

type StartOptions struct {
	UserID string
	// SessionMinutes overrides the configured session length when positive.
	SessionMinutes int
	Tasks          []models.Task
	// Force takes over a durable marker left by another process.
	Force bool
}

// Manager is the registry of live sessions.
type Manager struct {
	deps Deps
	log  *log.Logger

	mu     sync.Mutex
	active map[string]*Session
}

func NewManager(deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Sink == nil {
		deps.Sink = observe.Discard
	}
	return &Manager{
		deps:   deps,
		log:    logger.Component("session"),
		active: make(map[string]*Session),
	}
}

// Get returns the live session of a user.
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[userID]
	return s, ok && s != nil
}

func (m *Manager) reserve(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[userID]; ok {
		return ErrActiveSessionExists
	}
	m.active[userID] = nil
	return nil
}

func (m *Manager) unregister(userID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.active[userID]; ok && cur == s {
		delete(m.active, userID)
	}
}

// Start opens a session. When storage cannot be reached the session still
// runs on a default profile but can never be saved durably.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*Session, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if err := m.reserve(opts.UserID); err != nil {
		return nil, err
	}

	s, err := m.start(ctx, opts)
	if err != nil {
		m.unregister(opts.UserID, nil)
		return nil, err
	}

	m.mu.Lock()
	m.active[opts.UserID] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) start(ctx context.Context, opts StartOptions) (*Session, error) {
	cfg := m.deps.Config
	clk := m.deps.Clock
	now := clk.Now()
	id := uuid.NewString()
	l := m.log.With("session", id, "user", opts.UserID)

	profile, degraded := m.loadProfile(ctx, opts.UserID, now)
	if !degraded {
		err := m.deps.Repo.AcquireSession(ctx, opts.UserID, id, now, opts.Force)
		switch {
		case errors.Is(err, storage.ErrMarkerHeld):
			return nil, fmt.Errorf("%w: %v", ErrActiveSessionExists, err)
		case err != nil:
			l.Warn("could not write active-session marker, continuing degraded", "error", err)
			degraded = true
		}
	}

	s := &Session{
		ID:        id,
		UserID:    opts.UserID,
		StartedAt: now,
		Degraded:  degraded,
		manager:   m,
		clock:     clk,
		log:       l,
	}

	var store evaluator.Store
	if !degraded {
		store = m.deps.Repo
	}
	s.eval = evaluator.New(id, profile, now, store, degraded, clk)

	agg, err := signal.New(cfg.Signal, clk)
	if err != nil {
		return nil, s.abort(ctx, err)
	}
	riskEval, err := risk.New(cfg.Risk, clk)
	if err != nil {
		return nil, s.abort(ctx, err)
	}
	s.risk = riskEval
	s.bus = bus.New(id, m.deps.Sink, clk)

	plannerCfg := cfg.Planner
	if opts.SessionMinutes > 0 {
		plannerCfg.SessionMinutes = opts.SessionMinutes
	}
	s.planner = planner.New(plannerCfg, m.deps.Calendar, clk, s.bus, now)

	s.coach, err = coach.New(cfg.Coach, plannerCfg.BreakMinutes, s.planner, s.bus, coach.Options{
		Generator:   m.deps.Generator,
		TextTimeout: cfg.Textgen.Timeout,
		Notifier:    m.deps.Notifier,
		Clock:       clk,
		Stats:       profile.InterventionStats,
	})
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	s.sentinel, err = sentinel.New(cfg.Sentinel, agg, riskEval, s.bus, sentinel.Options{
		Sink:     m.deps.Sink,
		Recorder: s,
		Clock:    clk,
	})
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	if err := s.subscribe(); err != nil {
		return nil, s.abort(ctx, err)
	}
	if _, err := s.planner.Seed(ctx, profile, opts.Tasks); err != nil {
		return nil, s.abort(ctx, err)
	}

	s.sentinel.Start(context.WithoutCancel(ctx))
	m.deps.Sink.Emit(observe.TypeSessionStarted, map[string]any{
		"session_id": id,
		"user_id":    opts.UserID,
		"degraded":   degraded,
		"ends_at":    s.planner.SessionEnd(),
	})
	l.Info("session started", "degraded", degraded, "tasks", len(s.planner.CurrentSchedule().Tasks))
	return s, nil
}

func (m *Manager) loadProfile(ctx context.Context, userID string, now time.Time) (models.Profile, bool) {
	if m.deps.Repo == nil {
		return models.NewProfile(userID, now), true
	}
	p, err := m.deps.Repo.LoadOrCreateProfile(ctx, userID, now)
	if err != nil {
		m.log.Warn("storage unavailable, using default profile", "user", userID, "error", err)
		return models.NewProfile(userID, now), true
	}
	return p, false
}

// Session is one live monitored session. Ingest is its only mutation
// surface.
type Session struct {
	ID        string
	UserID    string
	StartedAt time.Time
	Degraded  bool

	manager  *Manager
	clock    clock.Clock
	log      *log.Logger
	bus      *bus.Bus
	risk     *risk.Evaluator
	planner  *planner.Manager
	coach    *coach.Coach
	sentinel *sentinel.Sentinel
	eval     *evaluator.Evaluator
	cycles   atomic.Int64

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	result    evaluator.Result
	closeErr  error
}

// Status is a read-only view of a live session.
type Status struct {
	Risk          models.RiskState
	Schedule      models.Schedule
	Available     int
	PendingOffers int
	Cycles        int
	Summary       models.SessionSummary
}

func (s *Session) subscribe() error {
	subs := []struct {
		name    string
		types   []models.MessageType
		handler bus.Handler
	}{
		{"evaluator", models.AllMessageTypes, s.eval.HandleMessage},
		{"coach", []models.MessageType{models.MsgBurnoutAlert, models.MsgSessionClosed}, s.coach.HandleMessage},
		{"planner", []models.MessageType{models.MsgPlanRevision}, s.planner.HandleMessage},
		{"sentinel", []models.MessageType{models.MsgSessionClosed}, s.sentinel.HandleMessage},
	}
	for _, sub := range subs {
		for _, t := range sub.types {
			if err := s.bus.Subscribe(t, sub.name, sub.handler); err != nil {
				return fmt.Errorf("subscribe %s to %s: %w", sub.name, t, err)
			}
		}
	}
	return nil
}

// RecordSnapshot counts sentinel cycles and hands the state to the evaluator.
func (s *Session) RecordSnapshot(state models.RiskState) {
	s.cycles.Add(1)
	s.eval.RecordSnapshot(state)
}

// Ingest routes one raw event: offer responses to the coach, task status
// changes to the planner, everything else to the sentinel. Skips feed both
// the planner and the sentinel.
func (s *Session) Ingest(ctx context.Context, ev models.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = s.clock.Now()
	}

	if mood, ok := signal.MoodOf(ev); ok {
		source := models.MoodInferred
		if ev.Kind == models.EventMood {
			source = models.MoodReported
		}
		s.eval.RecordMood(models.MoodSample{At: ev.At, Mood: mood, Source: source})
	}

	switch ev.Kind {
	case models.EventOfferResponse:
		if err := s.coach.Respond(ev.CorrelationID, ev.Accepted); err != nil {
			return fmt.Errorf("offer response: %w", err)
		}
		return nil
	case models.EventTaskDone:
		return s.requestStatus(ev, models.TaskDone)
	case models.EventTaskSkip:
		s.sentinel.Submit(ev)
		return s.requestStatus(ev, models.TaskSkipped)
	default:
		s.sentinel.Submit(ev)
		return nil
	}
}

// requestStatus asks the planner over the bus to mark a task. An event
// without a task id targets the next remaining task.
func (s *Session) requestStatus(ev models.Event, status models.TaskStatus) error {
	taskID := ev.TaskID
	if taskID == "" {
		for _, t := range s.planner.CurrentSchedule().Tasks {
			if t.Remaining() {
				taskID = t.ID
				break
			}
		}
		if taskID == "" {
			s.log.Warn("no remaining task to update", "event", ev.ID, "status", status)
			return nil
		}
	}

	_, err := s.bus.Publish(models.Message{
		Type:          models.MsgPlanRevision,
		Sender:        models.RoleSession,
		CorrelationID: ev.ID,
		Payload: models.PlanRevision{
			RevisionID: "status-" + ev.ID,
			Kind:       models.RevisionPatch,
			Ops:        []models.PatchOp{{Op: models.OpSetStatus, TaskID: taskID, Status: status}},
			Reason:     string(ev.Kind),
			Status:     models.RevisionRequested,
		},
	})
	return err
}

// Schedule returns a copy of the current schedule.
func (s *Session) Schedule() models.Schedule {
	return s.planner.CurrentSchedule()
}

func (s *Session) Status(ctx context.Context) Status {
	return Status{
		Risk:          s.risk.State(),
		Schedule:      s.planner.CurrentSchedule(),
		Available:     s.planner.Available(ctx),
		PendingOffers: s.coach.Pending(),
		Cycles:        int(s.cycles.Load()),
		Summary:       s.eval.Preview(),
	}
}

// Flush waits until every message published so far has been handled.
func (s *Session) Flush(ctx context.Context) error {
	return s.bus.Flush(ctx)
}

// Close ends the session: the sentinel runs a last cycle, open offers
// resolve as closed, SessionClosed is broadcast and the evaluator's result
// is returned. Only storage failure (evaluator.ErrNotDurable) or ctx
// expiry surfaces as an error. Later calls return the first result.
func (s *Session) Close(ctx context.Context, reason string) (evaluator.Result, error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.result, s.closeErr = s.close(ctx, reason)
		s.manager.unregister(s.UserID, s)
	})
	return s.result, s.closeErr
}

func (s *Session) close(ctx context.Context, reason string) (evaluator.Result, error) {
	// the marker is released and the bus stopped even when a flush gives up
	defer func() {
		s.releaseMarker(ctx)
		if err := s.bus.Close(ctx); err != nil {
			s.log.Warn("bus did not drain", "error", err)
		}
	}()

	s.sentinel.Stop()
	if err := s.bus.Flush(ctx); err != nil {
		return evaluator.Result{}, err
	}
	s.coach.Stop()
	if err := s.bus.Flush(ctx); err != nil {
		return evaluator.Result{}, err
	}

	if _, err := s.bus.Publish(models.Message{
		Type:    models.MsgSessionClosed,
		Sender:  models.RoleSession,
		Payload: models.SessionClosed{UserID: s.UserID, Reason: reason},
	}); err != nil {
		return evaluator.Result{}, fmt.Errorf("publish session closed: %w", err)
	}

	res, err := s.eval.Wait(ctx)
	if err != nil {
		s.log.Error("session closed without durable record", "error", err)
		return res, err
	}
	s.log.Info("session closed", "reason", reason, "score", res.Record.Summary.Score.Value)
	return res, nil
}

// releaseMarker drops the active-session marker. It runs on a context that
// survives the caller's deadline so an expired close still frees the user.
func (s *Session) releaseMarker(ctx context.Context) {
	if s.Degraded {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.manager.deps.Repo.ReleaseSession(ctx, s.UserID, s.ID); err != nil {
		s.log.Warn("failed to release active-session marker", "error", err)
	}
}

// abort tears down a half-built session.
func (s *Session) abort(ctx context.Context, cause error) error {
	if s.bus != nil {
		_ = s.bus.Close(ctx)
	}
	s.releaseMarker(ctx)
	return cause
}
