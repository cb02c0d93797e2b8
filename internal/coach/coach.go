// Package coach negotiates interventions with the user. Each HIGH alert
// gets exactly one offer and exactly one outcome, whatever happens to the
// user's response.
package coach

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/julianstephens/guardian/internal/bus"
	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/planner"
	"github.com/julianstephens/guardian/internal/textgen"
)

// ErrUnknownOffer is returned for a response that matches no open offer.
var ErrUnknownOffer = errors.New("no open offer for response")

// Reviser is the part of the plan manager the coach drives.
type Reviser interface {
	CurrentSchedule() models.Schedule
	ApplyRevision(ctx context.Context, rev models.PlanRevision, correlationID string) (models.Schedule, error)
}

type Publisher interface {
	Publish(msg models.Message) (models.Message, error)
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Options carries the optional collaborators of a Coach.
type Options struct {
	Generator   textgen.Generator
	TextTimeout time.Duration
	Notifier    Notifier
	Clock       clock.Clock
	// Stats is the user's intervention history used for ranking.
	Stats map[models.InterventionKind]models.InterventionStat
}

type offer struct {
	correlationID string
	kind          models.InterventionKind
	createdAt     time.Time
	resp          chan bool
	resolved      bool
}

type Coach struct {
	cfg      config.CoachConfig
	breakMin int
	planner  Reviser
	pub      Publisher
	opts     Options
	clock    clock.Clock
	log      *log.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	alerts   *bus.Dedupe

	mu       sync.Mutex
	offers   map[string]*offer
	rejected map[models.InterventionKind]time.Time
	closed   bool
}

func New(cfg config.CoachConfig, breakMinutes int, p Reviser, pub Publisher, opts Options) (*Coach, error) {
	if cfg.OfferTimeout <= 0 {
		return nil, fmt.Errorf("offer timeout must be positive")
	}
	if breakMinutes <= 0 {
		return nil, fmt.Errorf("break minutes must be positive")
	}
	if opts.Generator == nil {
		opts.Generator = textgen.Mock{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coach{
		cfg:      cfg,
		breakMin: breakMinutes,
		planner:  p,
		pub:      pub,
		opts:     opts,
		clock:    opts.Clock,
		log:      logger.Component("coach"),
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		alerts:   bus.NewDedupe(constants.BusDedupeWindow),
		offers:   make(map[string]*offer),
		rejected: make(map[models.InterventionKind]time.Time),
	}, nil
}

// HandleMessage is the bus handler for BurnoutAlert and SessionClosed.
// Re-delivered alerts are ignored.
func (c *Coach) HandleMessage(msg models.Message) {
	switch msg.Type {
	case models.MsgSessionClosed:
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		return
	case models.MsgBurnoutAlert:
	default:
		return
	}

	alert, ok := msg.Payload.(models.BurnoutAlert)
	if !ok || alert.Severity != constants.SeverityHigh || msg.CorrelationID == "" {
		return
	}
	if !c.alerts.First(msg.CorrelationID) {
		c.log.Debug("duplicate alert ignored", "correlation", msg.CorrelationID)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	o := &offer{
		correlationID: msg.CorrelationID,
		kind:          c.chooseLocked(alert.SuggestedAction, now),
		createdAt:     now,
		resp:          make(chan bool, 1),
	}
	c.offers[o.correlationID] = o
	c.wg.Add(1)
	c.mu.Unlock()

	go c.negotiate(o, alert)
}

// Respond delivers the user's answer. An empty correlation id answers the
// most recent open offer.
func (c *Coach) Respond(correlationID string, accepted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	o := c.offers[correlationID]
	if correlationID == "" {
		for _, cand := range c.offers {
			if o == nil || cand.createdAt.After(o.createdAt) {
				o = cand
			}
		}
	}
	if o == nil || o.resolved {
		return ErrUnknownOffer
	}
	o.resolved = true
	delete(c.offers, o.correlationID)
	o.resp <- accepted
	return nil
}

// Pending returns the number of open offers.
func (c *Coach) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.offers)
}

// Stop stops accepting alerts, resolves open offers as closed and waits
// for their outcomes to be published.
func (c *Coach) Stop() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.stopOnce.Do(func() {
		close(c.stop)
		c.cancel()
	})
	c.wg.Wait()
}

func (c *Coach) negotiate(o *offer, alert models.BurnoutAlert) {
	defer c.wg.Done()

	timeout := c.clock.After(c.cfg.OfferTimeout)
	text := c.offerText(o.kind, alert)
	c.publish(models.MsgInterventionOffer, o.correlationID, models.InterventionOffer{
		Kind:    o.kind,
		Text:    text,
		Expires: o.createdAt.Add(c.cfg.OfferTimeout),
	})
	c.notify(text)

	var reason models.OutcomeReason
	select {
	case accepted := <-o.resp:
		reason = models.OutcomeRejected
		if accepted {
			reason = models.OutcomeAccepted
		}
	case <-timeout:
		reason = c.expire(o, models.OutcomeTimeout)
	case <-c.stop:
		reason = c.expire(o, models.OutcomeClosed)
	}

	outcome := models.InterventionOutcome{Kind: o.kind, Reason: reason}
	switch reason {
	case models.OutcomeAccepted:
		outcome.Accepted = true
		outcome.RevisionID, outcome.RevisionApplied = c.revise(o)
	case models.OutcomeRejected, models.OutcomeTimeout:
		c.mu.Lock()
		c.rejected[o.kind] = c.clock.Now()
		c.mu.Unlock()
	}

	c.log.Info("offer resolved", "correlation", o.correlationID, "kind", o.kind, "reason", reason)
	c.publish(models.MsgInterventionOutcome, o.correlationID, outcome)
}

// expire resolves o with reason unless a response won the race, in which
// case the response decides.
func (c *Coach) expire(o *offer, reason models.OutcomeReason) models.OutcomeReason {
	c.mu.Lock()
	if !o.resolved {
		o.resolved = true
		delete(c.offers, o.correlationID)
		c.mu.Unlock()
		return reason
	}
	c.mu.Unlock()

	if <-o.resp {
		return models.OutcomeAccepted
	}
	return models.OutcomeRejected
}

// chooseLocked ranks interventions by past success, then the alert's
// suggestion, then default order. Kinds rejected within the avoid window
// are skipped unless nothing else is left.
func (c *Coach) chooseLocked(suggested models.InterventionKind, now time.Time) models.InterventionKind {
	var candidates []models.InterventionKind
	for _, k := range models.AllInterventions {
		if at, ok := c.rejected[k]; ok && now.Sub(at) < c.cfg.AvoidWindow {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 0 {
		candidates = append(candidates, models.AllInterventions...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri := c.opts.Stats[candidates[i]].SuccessRate()
		rj := c.opts.Stats[candidates[j]].SuccessRate()
		if ri != rj {
			return ri > rj
		}
		return candidates[i] == suggested && candidates[j] != suggested
	})
	return candidates[0]
}

var fallbackText = map[models.InterventionKind]string{
	models.InterventionMicroBreak:    "Time for a short break. Step away from the screen for a few minutes.",
	models.InterventionTaskSwap:      "Let's switch to something lighter for a bit.",
	models.InterventionLoadReduction: "Let's lighten the rest of today's plan.",
}

func (c *Coach) offerText(kind models.InterventionKind, alert models.BurnoutAlert) string {
	prompt := fmt.Sprintf("%s offer for a user showing burnout signals", kind)
	data := map[string]any{
		"kind":    string(kind),
		"minutes": c.breakMin,
		"signals": strings.Join(alert.Signals, ", "),
	}
	return textgen.Text(c.ctx, c.opts.Generator, c.opts.TextTimeout, prompt, data, fallbackText[kind])
}

func (c *Coach) notify(text string) {
	if c.opts.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	if err := c.opts.Notifier.Notify(ctx, text); err != nil {
		c.log.Debug("desktop notification failed", "error", err)
	}
}

// revise asks the planner for the accepted intervention, retrying once
// with the smaller variant when the first revision is rejected.
func (c *Coach) revise(o *offer) (string, bool) {
	if c.planner == nil {
		return "", false
	}

	var lastID string
	for _, small := range []bool{false, true} {
		rev, ok := buildRevision(o.kind, c.planner.CurrentSchedule(), c.breakMin, small)
		if !ok {
			continue
		}
		rev.RevisionID = fmt.Sprintf("%s-%s", o.correlationID, variantName(small))
		lastID = rev.RevisionID

		_, err := c.planner.ApplyRevision(c.ctx, rev, o.correlationID)
		if err == nil {
			return rev.RevisionID, true
		}
		var rejected *planner.RevisionRejected
		if !errors.As(err, &rejected) {
			c.log.Warn("revision failed", "revision", rev.RevisionID, "error", err)
			return rev.RevisionID, false
		}
		c.log.Info("revision rejected, trying smaller variant", "revision", rev.RevisionID)
	}
	return lastID, false
}

func variantName(small bool) string {
	if small {
		return "small"
	}
	return "full"
}

func (c *Coach) publish(t models.MessageType, correlationID string, payload any) {
	if c.pub == nil {
		return
	}
	if _, err := c.pub.Publish(models.Message{
		Type:          t,
		Sender:        models.RoleCoach,
		CorrelationID: correlationID,
		Payload:       payload,
	}); err != nil {
		c.log.Warn("failed to publish", "type", t, "error", err)
	}
}
