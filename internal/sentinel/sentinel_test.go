package sentinel

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/risk"
	"github.com/julianstephens/guardian/internal/signal"
)

var t0 = time.Date(2025, 5, 5, 14, 0, 0, 0, time.UTC)

type alerts struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (a *alerts) Publish(msg models.Message) (models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return msg, nil
}

func (a *alerts) list() []models.BurnoutAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.BurnoutAlert
	for _, m := range a.msgs {
		out = append(out, m.Payload.(models.BurnoutAlert))
	}
	return out
}

type snapshots chan models.RiskState

func (s snapshots) RecordSnapshot(state models.RiskState) { s <- state }

func (s snapshots) next(t *testing.T) models.RiskState {
	t.Helper()
	select {
	case st := <-s:
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a cycle")
		return models.RiskState{}
	}
}

func (s snapshots) none(t *testing.T) {
	t.Helper()
	select {
	case st := <-s:
		t.Fatalf("unexpected cycle: %+v", st)
	case <-time.After(50 * time.Millisecond):
	}
}

type fixture struct {
	s      *Sentinel
	clk    *clock.FakeClock
	pub    *alerts
	cycles snapshots
}

func newFixture(t *testing.T, interactions int) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Sentinel.CycleInteractions = interactions

	clk := clock.Fake(t0)
	agg, err := signal.New(cfg.Signal, clk)
	if err != nil {
		t.Fatal(err)
	}
	eval, err := risk.New(cfg.Risk, clk)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{clk: clk, pub: &alerts{}, cycles: make(snapshots, 16)}
	f.s, err = New(cfg.Sentinel, agg, eval, f.pub, Options{Recorder: f.cycles, Clock: clk})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.s.Start(context.Background())
	t.Cleanup(f.s.Stop)
	return f
}

var seq int

func mood(m int) models.Event {
	seq++
	return models.Event{ID: fmt.Sprintf("mood-%d", seq), Kind: models.EventMood, Mood: m}
}

func TestEscalationPublishesSingleAlert(t *testing.T) {
	f := newFixture(t, 1)

	want := []models.RiskLevel{models.RiskElevated, models.RiskElevated, models.RiskHigh}
	for i, m := range []int{1, 1, 2} { // distress 5, 5, 4
		f.s.Submit(mood(m))
		if got := f.cycles.next(t).Level; got != want[i] {
			t.Fatalf("cycle %d level = %s, want %s", i, got, want[i])
		}
	}

	f.s.Submit(mood(1))
	if got := f.cycles.next(t).Level; got != models.RiskHigh {
		t.Fatalf("level = %s, want high", got)
	}

	list := f.pub.list()
	if len(list) != 1 {
		t.Fatalf("published %d alerts, want 1", len(list))
	}
	if list[0].Severity != constants.SeverityHigh || list[0].SuggestedAction != models.InterventionLoadReduction {
		t.Errorf("alert = %+v", list[0])
	}
	if f.pub.msgs[0].CorrelationID == "" || f.pub.msgs[0].Sender != models.RoleSentinel {
		t.Errorf("message = %+v", f.pub.msgs[0])
	}
}

func TestCycleOnInterval(t *testing.T) {
	f := newFixture(t, 5)

	f.s.Submit(mood(1))
	f.s.Submit(mood(1))
	f.cycles.none(t)

	f.clk.Advance(config.Default().Sentinel.CycleInterval)
	st := f.cycles.next(t)
	if st.WeightedSum != 10 {
		t.Errorf("sum = %v, want 10 from both queued events", st.WeightedSum)
	}
}

func TestEmptyCycleIsNoOp(t *testing.T) {
	f := newFixture(t, 1)
	f.clk.Advance(config.Default().Sentinel.CycleInterval)
	st := f.cycles.next(t)
	if st.Level != models.RiskCalm {
		t.Errorf("level = %s, want calm", st.Level)
	}
	if len(f.pub.list()) != 0 {
		t.Error("empty cycle published a message")
	}
}

func TestClearAfterRecovery(t *testing.T) {
	f := newFixture(t, 1)
	for i := 0; i < 3; i++ {
		f.s.Submit(mood(1))
		f.cycles.next(t)
	}

	f.clk.Advance(31 * time.Minute)
	f.cycles.next(t)
	for i := 0; i < 2; i++ {
		f.clk.Advance(config.Default().Sentinel.CycleInterval)
		f.cycles.next(t)
	}

	list := f.pub.list()
	if len(list) != 2 {
		t.Fatalf("published %d alerts, want HIGH then CLEAR", len(list))
	}
	if list[1].Severity != constants.SeverityClear || list[1].Risk.Level != models.RiskCalm {
		t.Errorf("clear = %+v", list[1])
	}
	if f.pub.msgs[0].CorrelationID != f.pub.msgs[1].CorrelationID {
		t.Error("CLEAR should carry the correlation id of the alert it ends")
	}
}

func TestSuggestedActionFollowsDominantSource(t *testing.T) {
	f := newFixture(t, 1)
	for i := 0; i < 4; i++ {
		f.s.Submit(models.Event{ID: fmt.Sprintf("tick-%d", i), Kind: models.EventWorkTick, Minutes: 45 * 8})
		f.cycles.next(t)
	}
	list := f.pub.list()
	if len(list) != 1 || list[0].SuggestedAction != models.InterventionMicroBreak {
		t.Fatalf("alerts = %+v, want one micro_break suggestion", list)
	}
	if len(list[0].Signals) == 0 {
		t.Error("alert carries no signals")
	}
}

func TestStopRunsFinalCycle(t *testing.T) {
	f := newFixture(t, 10)
	f.s.Submit(mood(1))
	f.s.Stop()
	if st := f.cycles.next(t); st.WeightedSum != 5 {
		t.Errorf("final cycle sum = %v, want 5", st.WeightedSum)
	}
}

func TestSessionClosedStopsLoop(t *testing.T) {
	f := newFixture(t, 1)
	f.s.HandleMessage(models.Message{Type: models.MsgSessionClosed})

	select {
	case <-f.s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit on SessionClosed")
	}
}

func TestNewRejectsBadCadence(t *testing.T) {
	if _, err := New(config.SentinelConfig{CycleInteractions: 0, CycleInterval: time.Second}, nil, nil, nil, Options{}); err == nil {
		t.Error("New() accepted zero interactions")
	}
	if _, err := New(config.SentinelConfig{CycleInteractions: 1}, nil, nil, nil, Options{}); err == nil {
		t.Error("New() accepted zero interval")
	}
}
