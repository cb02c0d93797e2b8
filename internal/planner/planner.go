// Package planner owns the session schedule. It is the only writer of the
// schedule; everyone else sees copies.
package planner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/julianstephens/guardian/internal/calendar"
	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/utils"
	"github.com/julianstephens/guardian/internal/validation"
)

// RevisionRejected is returned when a revision fails validation. The
// schedule is unchanged.
type RevisionRejected struct {
	RevisionID string
	Conflicts  []validation.Conflict
	reason     string
}

func (e *RevisionRejected) Error() string {
	return fmt.Sprintf("revision %s rejected: %s", e.RevisionID, e.reason)
}

// OverBudget reports whether the rejection was caused by the time budget.
func (e *RevisionRejected) OverBudget() bool {
	for _, c := range e.Conflicts {
		if c.Type == validation.ConflictOverBudget {
			return true
		}
	}
	return false
}

// Publisher is the part of the bus the planner needs.
type Publisher interface {
	Publish(msg models.Message) (models.Message, error)
}

type decision struct {
	schedule models.Schedule
	err      error
}

type Manager struct {
	cfg       config.PlannerConfig
	cal       calendar.Calendar
	clock     clock.Clock
	pub       Publisher
	validator *validation.Validator
	log       *log.Logger
	end       time.Time

	current atomic.Pointer[models.Schedule]

	mu      sync.Mutex
	decided map[string]decision
}

// New creates a manager for a session starting at start. cal may be nil,
// in which case the raw time left in the session is the budget.
func New(cfg config.PlannerConfig, cal calendar.Calendar, clk clock.Clock, pub Publisher, start time.Time) *Manager {
	if cal == nil {
		cal = calendar.Unbounded{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	m := &Manager{
		cfg:       cfg,
		cal:       cal,
		clock:     clk,
		pub:       pub,
		validator: validation.New(),
		log:       logger.Component("planner"),
		end:       start.Add(time.Duration(cfg.SessionMinutes) * time.Minute),
		decided:   make(map[string]decision),
	}
	m.current.Store(&models.Schedule{})
	return m
}

// SessionEnd is the end of the session window used for the budget.
func (m *Manager) SessionEnd() time.Time {
	return m.end
}

// CurrentSchedule returns a private copy of the schedule. It never blocks
// on writers and always observes a whole revision.
func (m *Manager) CurrentSchedule() models.Schedule {
	return m.current.Load().Clone()
}

// Seed installs the initial schedule built from the profile's goals plus
// extra tasks. It is not budget-checked; an over-committed start is logged.
func (m *Manager) Seed(ctx context.Context, profile models.Profile, extra []models.Task) (models.Schedule, error) {
	tasks := SeedTasks(profile, extra, m.clock.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	s := models.Schedule{Tasks: tasks}
	if result := m.validator.ValidateSchedule(s); result.HasConflicts() {
		return models.Schedule{}, fmt.Errorf("invalid seed schedule: %s", result.Summary())
	}
	s.Revision = 1
	s.UpdatedAt = m.clock.Now()
	m.current.Store(&s)

	if avail := m.available(ctx); s.RemainingMinutes() > avail+m.cfg.ToleranceMinutes {
		m.log.Warn("seed schedule exceeds session time", "remaining", s.RemainingMinutes(), "available", avail)
	}

	result := s.Clone()
	m.publish("", models.PlanRevision{
		RevisionID: uuid.NewString(),
		Kind:       models.RevisionReplace,
		Tasks:      result.Tasks,
		Reason:     "seed",
		Status:     models.RevisionApplied,
		Result:     &result,
	})
	return s.Clone(), nil
}

// ApplyRevision validates rev against the current schedule and swaps the
// result in atomically. Rejections return *RevisionRejected and leave the
// schedule untouched. Every decision is published; a revision id that was
// already decided returns the earlier decision without publishing again.
func (m *Manager) ApplyRevision(ctx context.Context, rev models.PlanRevision, correlationID string) (models.Schedule, error) {
	if rev.RevisionID == "" {
		rev.RevisionID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.decided[rev.RevisionID]; ok {
		m.log.Debug("revision already decided", "revision", rev.RevisionID)
		return d.schedule.Clone(), d.err
	}

	before := *m.current.Load()
	next, result := m.validator.Apply(before, rev)
	if !result.HasConflicts() {
		budget := m.validator.CheckBudget(before, next, m.available(ctx), m.cfg.ToleranceMinutes)
		result.Conflicts = append(result.Conflicts, budget.Conflicts...)
	}

	if result.HasConflicts() {
		err := &RevisionRejected{RevisionID: rev.RevisionID, Conflicts: result.Conflicts, reason: result.Summary()}
		m.decided[rev.RevisionID] = decision{schedule: before, err: err}
		rev.Status = models.RevisionRejected
		rev.RejectReason = err.reason
		rev.Result = nil
		m.publish(correlationID, rev)
		m.log.Info("revision rejected", "revision", rev.RevisionID, "reason", err.reason)
		return before.Clone(), err
	}

	next.Revision = before.Revision + 1
	next.UpdatedAt = m.clock.Now()
	m.current.Store(&next)
	m.decided[rev.RevisionID] = decision{schedule: next}

	snapshot := next.Clone()
	rev.Status = models.RevisionApplied
	rev.Result = &snapshot
	m.publish(correlationID, rev)
	m.log.Debug("revision applied", "revision", rev.RevisionID, "schedule_revision", next.Revision)
	return next.Clone(), nil
}

// HandleMessage applies PlanRevision requests arriving over the bus.
// Decisions published by the planner itself are ignored.
func (m *Manager) HandleMessage(msg models.Message) {
	rev, ok := msg.Payload.(models.PlanRevision)
	if !ok || rev.Status != models.RevisionRequested {
		return
	}
	if _, err := m.ApplyRevision(context.Background(), rev, msg.CorrelationID); err != nil {
		m.log.Debug("bus revision not applied", "revision", rev.RevisionID, "error", err)
	}
}

// Available returns the free minutes between now and the session end.
func (m *Manager) Available(ctx context.Context) int {
	return m.available(ctx)
}

func (m *Manager) available(ctx context.Context) int {
	now := m.clock.Now()
	if !m.end.After(now) {
		return 0
	}
	free, err := m.cal.QueryAvailability(ctx, now, m.end)
	if err != nil {
		m.log.Warn("calendar unavailable, using time left in session", "error", err)
		return utils.MinutesBetween(now, m.end)
	}
	return calendar.FreeMinutes(free)
}

func (m *Manager) publish(correlationID string, rev models.PlanRevision) {
	if m.pub == nil {
		return
	}
	if _, err := m.pub.Publish(models.Message{
		Type:          models.MsgPlanRevision,
		Sender:        models.RolePlanner,
		CorrelationID: correlationID,
		Payload:       rev,
	}); err != nil {
		m.log.Warn("failed to publish plan revision", "revision", rev.RevisionID, "error", err)
	}
}

var loadRank = map[models.LoadTag]int{
	models.LoadHigh:   0,
	models.LoadMedium: 1,
	models.LoadLow:    2,
}

// SeedTasks turns goals and extra tasks into the initial task order.
// Categories recorded as fatigue triggers are tagged high. Inside a
// peak-focus range high-load work goes first; otherwise each high-load
// task follows a lighter one.
func SeedTasks(profile models.Profile, extra []models.Task, now time.Time) []models.Task {
	var tasks []models.Task
	for _, g := range profile.Goals {
		tasks = append(tasks, models.Task{
			Name:        g.Name,
			Category:    g.Category,
			DurationMin: g.DurationMin,
			Load:        g.Load,
		})
	}
	tasks = append(tasks, extra...)

	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = uuid.NewString()
		}
		if tasks[i].Load == "" {
			tasks[i].Load = models.LoadMedium
		}
		if profile.IsFatigueTrigger(tasks[i].Category) {
			tasks[i].Load = models.LoadHigh
		}
		tasks[i].Status = models.TaskPending
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return loadRank[tasks[i].Load] < loadRank[tasks[j].Load]
	})
	if profile.InPeakFocus(now) {
		return tasks
	}
	return interleave(tasks)
}

// interleave expects tasks sorted heavy first and emits light, heavy,
// light, heavy and so on, with leftovers at the end.
func interleave(tasks []models.Task) []models.Task {
	var heavy, light []models.Task
	for _, t := range tasks {
		if t.Load == models.LoadHigh {
			heavy = append(heavy, t)
		} else {
			light = append(light, t)
		}
	}

	out := make([]models.Task, 0, len(tasks))
	for len(heavy) > 0 && len(light) > 0 {
		out = append(out, light[0], heavy[0])
		light, heavy = light[1:], heavy[1:]
	}
	out = append(out, light...)
	return append(out, heavy...)
}
