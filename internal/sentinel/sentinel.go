// Package sentinel runs the monitoring loop of a session: it drains queued
// events through the signal aggregator into the risk evaluator and
// publishes alerts on level transitions.
package sentinel

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/observe"
	"github.com/julianstephens/guardian/internal/risk"
	"github.com/julianstephens/guardian/internal/signal"
)

// Publisher is the part of the bus the sentinel needs.
type Publisher interface {
	Publish(msg models.Message) (models.Message, error)
}

// SnapshotRecorder receives the risk state after every evaluation.
type SnapshotRecorder interface {
	RecordSnapshot(state models.RiskState)
}

// actionFor maps the dominant signal source to the intervention most
// likely to relieve it.
var actionFor = map[models.SignalSource]models.InterventionKind{
	models.SourceDistress: models.InterventionLoadReduction,
	models.SourceSkip:     models.InterventionTaskSwap,
	models.SourceDuration: models.InterventionMicroBreak,
}

type Sentinel struct {
	cfg      config.SentinelConfig
	agg      *signal.Aggregator
	eval     *risk.Evaluator
	pub      Publisher
	sink     observe.Sink
	recorder SnapshotRecorder
	clock    clock.Clock
	log      *log.Logger

	mu     sync.Mutex
	inbox  []models.Event
	notify chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	// alertID correlates a CLEAR with the HIGH alert it ends. Only the
	// loop goroutine touches it.
	alertID string
}

// Options carries the optional collaborators of a Sentinel.
type Options struct {
	Sink     observe.Sink
	Recorder SnapshotRecorder
	Clock    clock.Clock
}

func New(cfg config.SentinelConfig, agg *signal.Aggregator, eval *risk.Evaluator, pub Publisher, opts Options) (*Sentinel, error) {
	if cfg.CycleInteractions < 1 {
		return nil, fmt.Errorf("sentinel cycle interactions must be at least 1")
	}
	if cfg.CycleInterval <= 0 {
		return nil, fmt.Errorf("sentinel cycle interval must be positive")
	}
	if opts.Sink == nil {
		opts.Sink = observe.Discard
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Sentinel{
		cfg:      cfg,
		agg:      agg,
		eval:     eval,
		pub:      pub,
		sink:     opts.Sink,
		recorder: opts.Recorder,
		clock:    opts.Clock,
		log:      logger.Component("sentinel"),
		notify:   make(chan struct{}, 1),
	}, nil
}

// Submit queues an event for the next cycle. It never blocks.
func (s *Sentinel) Submit(ev models.Event) {
	s.mu.Lock()
	s.inbox = append(s.inbox, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Start launches the loop. It returns immediately; Stop ends it.
func (s *Sentinel) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	ticker := s.clock.NewTicker(s.cfg.CycleInterval)
	go s.run(ctx, ticker, s.done)
}

// Stop ends the loop, waits for it and runs one last cycle over events
// that were queued but not yet evaluated.
func (s *Sentinel) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	if s.queued() > 0 {
		s.cycle()
	}
}

// HandleMessage stops accepting cycles when the session closes. It does
// not wait for the loop to exit.
func (s *Sentinel) HandleMessage(msg models.Message) {
	if msg.Type != models.MsgSessionClosed {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Sentinel) run(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle()
		case <-s.notify:
			if s.queued() >= s.cfg.CycleInteractions {
				s.cycle()
				ticker.Reset(s.cfg.CycleInterval)
			}
		}
	}
}

func (s *Sentinel) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbox)
}

func (s *Sentinel) drain() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.inbox
	s.inbox = nil
	return events
}

// cycle runs one evaluation. An empty inbox still evaluates so stale
// readings age out of the windows.
func (s *Sentinel) cycle() {
	events := s.drain()
	readings := make([]models.SignalReading, 0, len(events))
	for _, ev := range events {
		if r, ok := s.agg.Ingest(ev); ok {
			readings = append(readings, r)
		}
	}

	state, tr := s.eval.Update(readings)
	if s.recorder != nil {
		s.recorder.RecordSnapshot(state)
	}
	if !tr.Changed() {
		return
	}

	s.sink.Emit(observe.TypeRiskTransition, struct {
		Transition models.Transition `json:"transition"`
		State      models.RiskState  `json:"state"`
	}{tr, state})
	s.log.Info("risk level changed", "from", tr.From, "to", tr.To, "sum", state.WeightedSum)

	switch tr.To {
	case models.RiskHigh:
		s.alertID = uuid.NewString()
		s.publishAlert(constants.SeverityHigh, state, s.alertID)
	case models.RiskCalm:
		id := s.alertID
		if id == "" {
			id = uuid.NewString()
		}
		s.publishAlert(constants.SeverityClear, state, id)
		s.alertID = ""
	}
}

func (s *Sentinel) publishAlert(severity string, state models.RiskState, correlationID string) {
	alert := models.BurnoutAlert{Severity: severity, Risk: state}
	for _, c := range s.eval.Breakdown() {
		alert.Signals = append(alert.Signals, fmt.Sprintf("%s:%.2f", c.Source, c.Sum))
	}
	if severity == constants.SeverityHigh {
		alert.SuggestedAction = models.InterventionLoadReduction
		if src, ok := s.eval.Dominant(); ok {
			alert.SuggestedAction = actionFor[src]
		}
	}

	if _, err := s.pub.Publish(models.Message{
		Type:          models.MsgBurnoutAlert,
		Sender:        models.RoleSentinel,
		CorrelationID: correlationID,
		Payload:       alert,
	}); err != nil {
		s.log.Warn("failed to publish alert", "severity", severity, "error", err)
	}
}
