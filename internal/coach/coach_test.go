package coach

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/planner"
)

var t0 = time.Date(2025, 5, 5, 14, 0, 0, 0, time.UTC)

type outbox chan models.Message

func (o outbox) Publish(msg models.Message) (models.Message, error) {
	o <- msg
	return msg, nil
}

func (o outbox) next(t *testing.T, want models.MessageType) models.Message {
	t.Helper()
	for {
		select {
		case msg := <-o:
			if msg.Type == want {
				return msg
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
			return models.Message{}
		}
	}
}

func (o outbox) outcome(t *testing.T) (models.Message, models.InterventionOutcome) {
	t.Helper()
	msg := o.next(t, models.MsgInterventionOutcome)
	return msg, msg.Payload.(models.InterventionOutcome)
}

type fakeReviser struct {
	mu     sync.Mutex
	sched  models.Schedule
	reject int
	revs   []models.PlanRevision
}

func (f *fakeReviser) CurrentSchedule() models.Schedule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sched.Clone()
}

func (f *fakeReviser) ApplyRevision(_ context.Context, rev models.PlanRevision, _ string) (models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revs = append(f.revs, rev)
	if f.reject > 0 {
		f.reject--
		return models.Schedule{}, &planner.RevisionRejected{RevisionID: rev.RevisionID}
	}
	return f.sched, nil
}

func (f *fakeReviser) revisions() []models.PlanRevision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PlanRevision(nil), f.revs...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return n.err
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string, map[string]any) (string, error) {
	return "", errors.New("model unavailable")
}

func schedule() models.Schedule {
	return models.Schedule{Revision: 1, Tasks: []models.Task{
		{ID: "a", Name: "a", DurationMin: 50, Load: models.LoadHigh, Status: models.TaskPending},
		{ID: "b", Name: "b", DurationMin: 30, Load: models.LoadHigh, Status: models.TaskPending},
		{ID: "c", Name: "c", DurationMin: 20, Load: models.LoadLow, Status: models.TaskPending},
	}}
}

type fixture struct {
	c   *Coach
	clk *clock.FakeClock
	out outbox
	rev *fakeReviser
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	cfg := config.Default()
	clk := clock.Fake(t0)
	opts.Clock = clk
	out := make(outbox, 64)
	rev := &fakeReviser{sched: schedule()}

	c, err := New(cfg.Coach, cfg.Planner.BreakMinutes, rev, out, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Stop)
	return &fixture{c: c, clk: clk, out: out, rev: rev}
}

func alert(correlationID string, suggested models.InterventionKind) models.Message {
	return models.Message{
		Type:          models.MsgBurnoutAlert,
		Sender:        models.RoleSentinel,
		CorrelationID: correlationID,
		Payload: models.BurnoutAlert{
			Severity:        constants.SeverityHigh,
			Signals:         []string{"distress:6.00"},
			SuggestedAction: suggested,
		},
	}
}

// offer delivers an alert and waits until its offer is published and the
// expiry timer is armed.
func (f *fixture) offer(t *testing.T, correlationID string, suggested models.InterventionKind) models.InterventionOffer {
	t.Helper()
	pending := f.clk.Pending()
	f.c.HandleMessage(alert(correlationID, suggested))
	msg := f.out.next(t, models.MsgInterventionOffer)
	f.clk.WaitForTimers(pending + 1)
	if msg.CorrelationID != correlationID {
		t.Fatalf("offer correlation = %q, want %q", msg.CorrelationID, correlationID)
	}
	return msg.Payload.(models.InterventionOffer)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	if _, err := New(config.CoachConfig{}, 10, nil, nil, Options{}); err == nil {
		t.Error("expected error for zero offer timeout")
	}
	if _, err := New(cfg.Coach, 0, nil, nil, Options{}); err == nil {
		t.Error("expected error for zero break minutes")
	}
}

func TestAcceptedMicroBreak(t *testing.T) {
	f := newFixture(t, Options{})

	offer := f.offer(t, "alert-1", models.InterventionMicroBreak)
	if offer.Kind != models.InterventionMicroBreak {
		t.Fatalf("offer kind = %s, want micro_break", offer.Kind)
	}
	if offer.Text == "" {
		t.Error("offer text is empty")
	}
	if want := t0.Add(config.Default().Coach.OfferTimeout); !offer.Expires.Equal(want) {
		t.Errorf("Expires = %v, want %v", offer.Expires, want)
	}

	if err := f.c.Respond("alert-1", true); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	msg, got := f.out.outcome(t)
	if msg.CorrelationID != "alert-1" || msg.Sender != models.RoleCoach {
		t.Errorf("outcome message = %+v", msg)
	}
	if !got.Accepted || got.Reason != models.OutcomeAccepted || !got.RevisionApplied {
		t.Errorf("outcome = %+v, want accepted with revision applied", got)
	}

	revs := f.rev.revisions()
	if len(revs) != 1 {
		t.Fatalf("revisions = %d, want 1", len(revs))
	}
	if revs[0].RevisionID != got.RevisionID {
		t.Errorf("outcome revision = %q, applied %q", got.RevisionID, revs[0].RevisionID)
	}
	op := revs[0].Ops[0]
	if op.Op != models.OpInsert || op.Index != 0 || op.Task.DurationMin != 10 || op.Task.Category != constants.BreakCategory {
		t.Errorf("op = %+v task %+v", op, op.Task)
	}
	if f.c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", f.c.Pending())
	}
}

func TestRejectedOffer(t *testing.T) {
	f := newFixture(t, Options{})
	f.offer(t, "alert-1", models.InterventionTaskSwap)

	if err := f.c.Respond("", false); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	_, got := f.out.outcome(t)
	if got.Accepted || got.Reason != models.OutcomeRejected || got.RevisionID != "" {
		t.Errorf("outcome = %+v, want plain rejection", got)
	}
	if len(f.rev.revisions()) != 0 {
		t.Error("rejected offer must not revise the plan")
	}
}

func TestOfferTimeout(t *testing.T) {
	f := newFixture(t, Options{})
	f.offer(t, "alert-1", models.InterventionMicroBreak)

	f.clk.Advance(config.Default().Coach.OfferTimeout)
	_, got := f.out.outcome(t)
	if got.Accepted || got.Reason != models.OutcomeTimeout {
		t.Errorf("outcome = %+v, want timeout", got)
	}

	if err := f.c.Respond("alert-1", true); !errors.Is(err, ErrUnknownOffer) {
		t.Errorf("late Respond() error = %v, want ErrUnknownOffer", err)
	}
}

func TestRespondOnce(t *testing.T) {
	f := newFixture(t, Options{})
	f.offer(t, "alert-1", models.InterventionTaskSwap)

	if err := f.c.Respond("alert-1", false); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if err := f.c.Respond("alert-1", true); !errors.Is(err, ErrUnknownOffer) {
		t.Errorf("second Respond() error = %v, want ErrUnknownOffer", err)
	}
	if err := f.c.Respond("missing", true); !errors.Is(err, ErrUnknownOffer) {
		t.Errorf("Respond(missing) error = %v, want ErrUnknownOffer", err)
	}
	f.out.outcome(t)
}

func TestDuplicateAlertIgnored(t *testing.T) {
	f := newFixture(t, Options{})
	f.offer(t, "alert-1", models.InterventionMicroBreak)

	f.c.HandleMessage(alert("alert-1", models.InterventionMicroBreak))
	if f.c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", f.c.Pending())
	}

	f.c.Stop()
	_, got := f.out.outcome(t)
	if got.Reason != models.OutcomeClosed {
		t.Errorf("outcome reason = %s, want closed", got.Reason)
	}
	select {
	case msg := <-f.out:
		t.Errorf("unexpected message after stop: %+v", msg)
	default:
	}
}

func TestClearAlertIgnored(t *testing.T) {
	f := newFixture(t, Options{})
	msg := alert("alert-1", models.InterventionMicroBreak)
	msg.Payload = models.BurnoutAlert{Severity: constants.SeverityClear}
	f.c.HandleMessage(msg)
	if f.c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", f.c.Pending())
	}
}

func TestSessionClosedStopsOffers(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.HandleMessage(models.Message{Type: models.MsgSessionClosed, Payload: models.SessionClosed{UserID: "u"}})
	f.c.HandleMessage(alert("alert-1", models.InterventionMicroBreak))
	if f.c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after session closed", f.c.Pending())
	}
}

func TestSmallerVariantAfterRejection(t *testing.T) {
	f := newFixture(t, Options{})
	f.rev.reject = 1
	f.offer(t, "alert-1", models.InterventionMicroBreak)

	if err := f.c.Respond("alert-1", true); err != nil {
		t.Fatal(err)
	}
	_, got := f.out.outcome(t)
	if !got.RevisionApplied || !strings.HasSuffix(got.RevisionID, "-small") {
		t.Errorf("outcome = %+v, want applied small variant", got)
	}
	revs := f.rev.revisions()
	if len(revs) != 2 {
		t.Fatalf("revisions = %d, want 2", len(revs))
	}
	if d := revs[1].Ops[0].Task.DurationMin; d != constants.MinBreakMin {
		t.Errorf("small break = %d min, want %d", d, constants.MinBreakMin)
	}
}

func TestRevisionNotApplied(t *testing.T) {
	f := newFixture(t, Options{})
	f.rev.reject = 2
	f.offer(t, "alert-1", models.InterventionLoadReduction)

	if err := f.c.Respond("alert-1", true); err != nil {
		t.Fatal(err)
	}
	_, got := f.out.outcome(t)
	if !got.Accepted || got.RevisionApplied {
		t.Errorf("outcome = %+v, want accepted without revision", got)
	}
	if len(f.rev.revisions()) != 2 {
		t.Errorf("revisions = %d, want 2 attempts", len(f.rev.revisions()))
	}
}

func TestRejectedKindAvoided(t *testing.T) {
	f := newFixture(t, Options{})
	f.offer(t, "alert-1", models.InterventionMicroBreak)
	if err := f.c.Respond("alert-1", false); err != nil {
		t.Fatal(err)
	}
	f.out.outcome(t)

	second := f.offer(t, "alert-2", models.InterventionMicroBreak)
	if second.Kind != models.InterventionTaskSwap {
		t.Errorf("second offer = %s, want task_swap", second.Kind)
	}
	if err := f.c.Respond("alert-2", false); err != nil {
		t.Fatal(err)
	}
	f.out.outcome(t)

	// Past the avoid window micro_break is eligible again.
	f.clk.Advance(config.Default().Coach.AvoidWindow)
	third := f.offer(t, "alert-3", models.InterventionMicroBreak)
	if third.Kind != models.InterventionMicroBreak {
		t.Errorf("third offer = %s, want micro_break", third.Kind)
	}
}

func TestHistoryOutranksSuggestion(t *testing.T) {
	f := newFixture(t, Options{Stats: map[models.InterventionKind]models.InterventionStat{
		models.InterventionLoadReduction: {Offered: 4, Accepted: 3},
		models.InterventionMicroBreak:    {Offered: 4, Accepted: 1},
	}})
	got := f.offer(t, "alert-1", models.InterventionMicroBreak)
	if got.Kind != models.InterventionLoadReduction {
		t.Errorf("offer = %s, want load_reduction", got.Kind)
	}
}

func TestFallbackTextAndNotify(t *testing.T) {
	n := &fakeNotifier{err: errors.New("tray not running")}
	f := newFixture(t, Options{Generator: failingGenerator{}, Notifier: n})

	got := f.offer(t, "alert-1", models.InterventionTaskSwap)
	if got.Text != fallbackText[models.InterventionTaskSwap] {
		t.Errorf("Text = %q, want fallback", got.Text)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.texts) != 1 || n.texts[0] != got.Text {
		t.Errorf("notified %q, want the offer text", n.texts)
	}
}
