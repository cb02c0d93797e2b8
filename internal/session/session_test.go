package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/julianstephens/guardian/internal/bus"
	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/evaluator"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/storage"
	"github.com/julianstephens/guardian/internal/storage/memory"
)

var t0 = time.Date(2025, 5, 5, 14, 0, 0, 0, time.UTC)

const user = "u1"

type fixture struct {
	m     *Manager
	clk   *clock.FakeClock
	repo  *storage.Repository
	store *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	repo := storage.NewRepository(store)
	clk := clock.Fake(t0)
	m := NewManager(Deps{Config: config.Default(), Repo: repo, Clock: clk})
	return &fixture{m: m, clk: clk, repo: repo, store: store}
}

func tasks() []models.Task {
	return []models.Task{
		{ID: "a", Name: "draft report", Category: "writing", DurationMin: 40, Load: models.LoadHigh},
		{ID: "b", Name: "review PRs", Category: "review", DurationMin: 30, Load: models.LoadHigh},
		{ID: "c", Name: "inbox", Category: "admin", DurationMin: 20, Load: models.LoadLow},
	}
}

func (f *fixture) start(t *testing.T) *Session {
	t.Helper()
	s, err := f.m.Start(context.Background(), StartOptions{UserID: user, Tasks: tasks()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = s.Close(ctx, "cleanup")
	})
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func ingest(t *testing.T, s *Session, ev models.Event) {
	t.Helper()
	if err := s.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("Ingest(%s) error = %v", ev.Kind, err)
	}
}

func flush(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
}

func closeSession(t *testing.T, s *Session) (evaluator.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Close(ctx, "done")
}

// escalate feeds distress readings 5, 5, 4, one cycle each.
func escalate(t *testing.T, s *Session) {
	t.Helper()
	base := int(s.cycles.Load())
	for i, mood := range []int{1, 1, 2} {
		ingest(t, s, models.Event{Kind: models.EventMood, Mood: mood})
		want := base + i + 1
		eventually(t, "sentinel cycle", func() bool { return int(s.cycles.Load()) >= want })
	}
	flush(t, s)
}

func outcomes(rec models.SessionRecord) []models.InterventionOutcome {
	var out []models.InterventionOutcome
	for _, msg := range rec.Messages {
		if o, ok := msg.Payload.(models.InterventionOutcome); ok {
			out = append(out, o)
		}
	}
	return out
}

func TestEscalationRaisesSingleAlert(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)

	escalate(t, s)
	st := s.Status(context.Background())
	if st.Risk.Level != models.RiskHigh {
		t.Fatalf("risk level = %s, want high", st.Risk.Level)
	}
	if st.Summary.Alerts != 1 {
		t.Errorf("alerts = %d, want 1", st.Summary.Alerts)
	}

	// A further high reading keeps the level without a second alert.
	ingest(t, s, models.Event{Kind: models.EventMood, Mood: 1})
	eventually(t, "sentinel cycle", func() bool { return s.cycles.Load() >= 4 })
	flush(t, s)
	if got := s.Status(context.Background()).Summary.Alerts; got != 1 {
		t.Errorf("alerts after stable high = %d, want 1", got)
	}
}

func TestAcceptedOfferReducesLoad(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)
	if s.Schedule().RemainingWithLoad(models.LoadHigh) != 2 {
		t.Fatalf("seeded schedule = %+v", s.Schedule())
	}

	escalate(t, s)
	eventually(t, "offer", func() bool { return s.coach.Pending() == 1 })
	ingest(t, s, models.Event{Kind: models.EventOfferResponse, Accepted: true})
	eventually(t, "load reduction", func() bool { return s.Schedule().RemainingWithLoad(models.LoadHigh) == 0 })

	res, err := closeSession(t, s)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	got := outcomes(res.Record)
	if len(got) != 1 || !got[0].Accepted || !got[0].RevisionApplied || got[0].Kind != models.InterventionLoadReduction {
		t.Errorf("outcomes = %+v, want one applied load reduction", got)
	}
	if st := res.Profile.InterventionStats[models.InterventionLoadReduction]; st.Accepted != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestOfferTimesOutOnce(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)

	escalate(t, s)
	eventually(t, "offer", func() bool { return s.coach.Pending() == 1 })
	f.clk.WaitForTimers(2)
	f.clk.Advance(config.Default().Coach.OfferTimeout)
	eventually(t, "timeout", func() bool { return s.coach.Pending() == 0 })

	res, err := closeSession(t, s)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	got := outcomes(res.Record)
	if len(got) != 1 || got[0].Accepted || got[0].Reason != models.OutcomeTimeout {
		t.Errorf("outcomes = %+v, want exactly one timeout", got)
	}
}

func TestCloseWritesOneRecord(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)
	ctx := context.Background()

	ingest(t, s, models.Event{Kind: models.EventTaskDone, TaskID: "a"})
	flush(t, s)
	f.clk.Advance(time.Minute)
	eventually(t, "interval cycle", func() bool { return s.cycles.Load() >= 1 })

	escalate(t, s)
	eventually(t, "offer", func() bool { return s.coach.Pending() == 1 })
	ingest(t, s, models.Event{Kind: models.EventOfferResponse, Accepted: true})
	eventually(t, "offer resolved", func() bool { return s.coach.Pending() == 0 })
	ingest(t, s, models.Event{Kind: models.EventTaskSkip, TaskID: "c"})
	flush(t, s)

	res, err := closeSession(t, s)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	sum := res.Record.Summary
	if sum.CompletionBefore != models.Available(1) || sum.CompletionAfter != models.Available(0) {
		t.Errorf("completion = %+v/%+v, want 1/0", sum.CompletionBefore, sum.CompletionAfter)
	}
	if !sum.MoodDelta.Available || sum.Alerts != 1 || sum.Accepted != 1 {
		t.Errorf("summary = %+v", sum)
	}

	p, err := f.repo.LoadProfile(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.History) != 1 || p.History[0].SessionID != s.ID {
		t.Errorf("History = %+v, want one entry", p.History)
	}
	if p.FatigueTriggers["admin"] != 1 {
		t.Errorf("FatigueTriggers = %v", p.FatigueTriggers)
	}
	recs, err := f.repo.ListSessionRecords(ctx, user)
	if err != nil || len(recs) != 1 {
		t.Errorf("records = %d, %v", len(recs), err)
	}
	if _, err := f.repo.ActiveSession(ctx, user); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("marker still held: %v", err)
	}

	again, err := closeSession(t, s)
	if err != nil || again.Record.SessionID != res.Record.SessionID {
		t.Errorf("second Close() = %v", err)
	}
}

func TestCloseWithExpiredContextReleasesMarker(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)
	ingest(t, s, models.Event{Kind: models.EventMood, Mood: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// the close may give up at any stage; what matters is what it leaves behind
	_, _ = s.Close(ctx, "interrupted")

	if _, err := f.repo.ActiveSession(context.Background(), user); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("marker still held after Close(): %v", err)
	}
	if _, err := s.bus.Publish(models.Message{Type: models.MsgSessionClosed}); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Publish() after Close() error = %v, want ErrClosed", err)
	}

	next, err := f.m.Start(context.Background(), StartOptions{UserID: user, Tasks: tasks()})
	if err != nil {
		t.Fatalf("Start() after interrupted close error = %v", err)
	}
	if _, err := closeSession(t, next); err != nil {
		t.Errorf("Close() of follow-up session error = %v", err)
	}
}

func TestIngestAfterClose(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)
	if _, err := closeSession(t, s); err != nil {
		t.Fatal(err)
	}
	err := s.Ingest(context.Background(), models.Event{Kind: models.EventChat, Text: "hello"})
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Ingest() error = %v, want ErrSessionClosed", err)
	}
}

func TestUnknownOfferResponse(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)
	err := s.Ingest(context.Background(), models.Event{Kind: models.EventOfferResponse, CorrelationID: "nope"})
	if err == nil {
		t.Error("expected error for response without an offer")
	}
}

func TestOneSessionPerUser(t *testing.T) {
	f := newFixture(t)
	s := f.start(t)

	if _, err := f.m.Start(context.Background(), StartOptions{UserID: user}); !errors.Is(err, ErrActiveSessionExists) {
		t.Fatalf("second Start() error = %v, want ErrActiveSessionExists", err)
	}
	if got, ok := f.m.Get(user); !ok || got != s {
		t.Error("Get() should return the live session")
	}

	if _, err := closeSession(t, s); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.m.Get(user); ok {
		t.Error("closed session still registered")
	}
	f.start(t)
}

func TestDurableMarkerBlocksOtherProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.repo.AcquireSession(ctx, user, "other-process", t0, false); err != nil {
		t.Fatal(err)
	}

	if _, err := f.m.Start(ctx, StartOptions{UserID: user}); !errors.Is(err, ErrActiveSessionExists) {
		t.Fatalf("Start() error = %v, want ErrActiveSessionExists", err)
	}
	if _, ok := f.m.Get(user); ok {
		t.Fatal("failed start must not stay registered")
	}

	s, err := f.m.Start(ctx, StartOptions{UserID: user, Force: true})
	if err != nil {
		t.Fatalf("forced Start() error = %v", err)
	}
	marker, err := f.repo.ActiveSession(ctx, user)
	if err != nil || marker.SessionID != s.ID {
		t.Errorf("marker = %+v, %v", marker, err)
	}
	if _, err := closeSession(t, s); err != nil {
		t.Fatal(err)
	}
}

func TestDegradedWhenStorageDown(t *testing.T) {
	f := newFixture(t)
	f.store.Fail(errors.New("disk gone"))
	s := f.start(t)
	if !s.Degraded {
		t.Fatal("session should run degraded")
	}

	escalate(t, s)
	res, err := closeSession(t, s)
	if !errors.Is(err, evaluator.ErrNotDurable) {
		t.Fatalf("Close() error = %v, want ErrNotDurable", err)
	}
	if res.Durable || res.Record.Summary.Alerts != 1 {
		t.Errorf("result = %+v", res.Record.Summary)
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.m.Start(context.Background(), StartOptions{}); err == nil {
		t.Error("expected error without user id")
	}

	bad := config.Default()
	bad.Sentinel.CycleInteractions = 0
	m := NewManager(Deps{Config: bad, Repo: f.repo, Clock: f.clk})
	if _, err := m.Start(context.Background(), StartOptions{UserID: user}); err == nil {
		t.Fatal("expected error for invalid sentinel config")
	}
	if _, err := f.repo.ActiveSession(context.Background(), user); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("aborted start left a marker: %v", err)
	}
}
