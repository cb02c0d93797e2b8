// Package bus is the in-process typed message bus agents use to talk to
// each other.
//
// Each subscriber owns one unbounded FIFO drained by its own goroutine, so
// Publish never waits on a handler and messages from one publisher reach
// each subscriber in publish order, across all the types it subscribed to. Delivery is at-least-once from the
// handler's point of view: handlers must tolerate duplicates.
package bus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/observe"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("bus closed")

// Handler processes one message. Panics are recovered and logged.
type Handler func(msg models.Message)

type Bus struct {
	sessionID string
	sink      observe.Sink
	clock     clock.Clock
	log       *log.Logger

	mu      sync.Mutex
	idle    *sync.Cond
	subs    map[string]*subscription
	all     []*subscription
	pending int
	closed  bool
	wg      sync.WaitGroup
}

// New creates a bus for one session. Every published message is also
// emitted to sink.
func New(sessionID string, sink observe.Sink, clk clock.Clock) *Bus {
	if sink == nil {
		sink = observe.Discard
	}
	if clk == nil {
		clk = clock.Real()
	}
	b := &Bus{
		sessionID: sessionID,
		sink:      sink,
		clock:     clk,
		log:       logger.Component("bus"),
		subs:      make(map[string]*subscription),
	}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// Subscribe registers handler for one message type under the subscriber
// name. All types registered under one name share a single queue, so that
// subscriber sees them in publish order.
func (b *Bus) Subscribe(t models.MessageType, name string, handler Handler) error {
	if !slices.Contains(models.AllMessageTypes, t) {
		return fmt.Errorf("unknown message type %q", t)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	if s, ok := b.subs[name]; ok {
		if _, dup := s.handlers[t]; dup {
			return fmt.Errorf("%s already subscribed to %s", name, t)
		}
		s.handlers[t] = handler
		return nil
	}
	s := newSubscription(name)
	s.handlers[t] = handler
	b.subs[name] = s
	b.all = append(b.all, s)
	b.wg.Add(1)
	go b.run(s)
	return nil
}

// Publish stamps msg with an id, the session id and a timestamp when they
// are missing, records it in the observability sink and enqueues it for
// every subscriber of its type. It returns the stamped message.
func (b *Bus) Publish(msg models.Message) (models.Message, error) {
	if !slices.Contains(models.AllMessageTypes, msg.Type) {
		return msg, fmt.Errorf("unknown message type %q", msg.Type)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return msg, ErrClosed
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = b.sessionID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.clock.Now()
	}

	b.sink.Emit(string(msg.Type), msg)
	for _, s := range b.all {
		if _, ok := s.handlers[msg.Type]; !ok {
			continue
		}
		b.pending++
		s.push(msg)
	}
	b.log.Debug("published", "type", msg.Type, "sender", msg.Sender, "correlation", msg.CorrelationID)
	return msg, nil
}

// Flush blocks until every queued message, including messages published by
// handlers while flushing, has been handled.
func (b *Bus) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.mu.Lock()
		for b.pending > 0 {
			b.idle.Wait()
		}
		b.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bus flush: %w", ctx.Err())
	}
}

// Close stops accepting messages, drains what is queued and stops the
// subscriber goroutines. A handler still running when ctx ends is left to
// finish on its own. It is safe to call more than once.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.Flush(ctx)

	b.mu.Lock()
	for _, s := range b.all {
		s.close()
	}
	b.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("bus close: %w", ctx.Err())
		}
	}
	return err
}

func (b *Bus) run(s *subscription) {
	defer b.wg.Done()
	for {
		msg, ok := s.pop()
		if !ok {
			return
		}
		b.deliver(s, msg)

		b.mu.Lock()
		b.pending--
		if b.pending == 0 {
			b.idle.Broadcast()
		}
		b.mu.Unlock()
	}
}

func (b *Bus) deliver(s *subscription, msg models.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked", "subscriber", s.name, "type", msg.Type, "panic", r)
		}
	}()
	b.mu.Lock()
	handler := s.handlers[msg.Type]
	b.mu.Unlock()
	handler(msg)
}

type subscription struct {
	name string
	// guarded by Bus.mu
	handlers map[models.MessageType]Handler

	mu     sync.Mutex
	ready  *sync.Cond
	queue  []models.Message
	closed bool
}

func newSubscription(name string) *subscription {
	s := &subscription{name: name, handlers: make(map[models.MessageType]Handler)}
	s.ready = sync.NewCond(&s.mu)
	return s
}

func (s *subscription) push(msg models.Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.ready.Signal()
}

// pop blocks for the next message. It returns false once the subscription
// is closed and its queue is empty.
func (s *subscription) pop() (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.ready.Wait()
	}
	if len(s.queue) == 0 {
		return models.Message{}, false
	}
	msg := s.queue[0]
	s.queue[0] = models.Message{}
	s.queue = s.queue[1:]
	return msg, true
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ready.Broadcast()
}
