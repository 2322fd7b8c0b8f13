// Package monitor keeps each watched booking's timeline in step with its tasks.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"villaops/internal/domain"
	"villaops/internal/events"
	"villaops/internal/models"

	"github.com/rs/zerolog"
)

const queueSize = 256

// Assigner fills in assignees. The lifecycle engine implements it.
type Assigner interface {
	Assign(ctx context.Context, taskID string) (*models.Task, error)
}

// Subscriber is the part of the event bus the monitor listens on.
type Subscriber interface {
	Subscribe(eventType string, handler events.EventHandler) func()
}

// Monitor holds one cancellable subscription per watched booking. All of them are fed by
// a single bus subscription; change events only enqueue the booking, and a worker
// goroutine reconciles it against the store.
type Monitor struct {
	store    domain.TaskStore
	assigner Assigner
	now      domain.Clock
	logger   zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	queued map[string]bool
	closed bool

	work        chan string
	stop        chan struct{}
	stopped     chan struct{}
	unsubscribe func()
}

// Subscription is the watch on one booking's timeline.
type Subscription struct {
	BookingID string

	m    *Monitor
	done chan struct{}
	once sync.Once
}

// Cancel stops watching the booking. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.m.release(s.BookingID, s)
}

// Done is closed when the watch ends, either cancelled or because the timeline is ready.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

func New(store domain.TaskStore, assigner Assigner, bus Subscriber, now domain.Clock, logger *zerolog.Logger) *Monitor {
	if now == nil {
		now = time.Now
	}
	m := &Monitor{
		store:    store,
		assigner: assigner,
		now:      now,
		logger:   logger.With().Str("component", "monitor").Logger(),
		subs:     make(map[string]*Subscription),
		queued:   make(map[string]bool),
		work:     make(chan string, queueSize),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	m.unsubscribe = bus.Subscribe(events.EventTaskStatusChanged, m.onTaskChanged)
	return m
}

// Start runs the reconcile loop until ctx is done or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	defer close(m.stopped)
	m.logger.Info().Msg("monitor started")
	defer m.logger.Info().Msg("monitor stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case bookingID := <-m.work:
			m.mu.Lock()
			delete(m.queued, bookingID)
			m.mu.Unlock()

			if err := m.Reconcile(ctx, bookingID); err != nil {
				m.logger.Error().Err(err).Str("booking_id", bookingID).Msg("reconcile failed")
			}
		}
	}
}

// Watch starts watching bookingID and schedules an initial reconcile, which also assigns
// tasks that are ready from the outset. Watching an already watched booking returns the
// existing subscription. A ready timeline yields a subscription that is already done.
func (m *Monitor) Watch(ctx context.Context, bookingID string) (*Subscription, error) {
	tl, err := m.store.GetTimeline(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", bookingID, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("monitor is closed")
	}
	if sub, ok := m.subs[bookingID]; ok {
		m.mu.Unlock()
		return sub, nil
	}
	sub := &Subscription{BookingID: bookingID, m: m, done: make(chan struct{})}
	if tl.Phase == models.PhaseReady {
		m.mu.Unlock()
		sub.close()
		return sub, nil
	}
	m.subs[bookingID] = sub
	m.mu.Unlock()

	m.logger.Debug().Str("booking_id", bookingID).Msg("watching timeline")
	m.enqueue(bookingID)
	return sub, nil
}

// Resume watches every timeline that is not ready yet.
func (m *Monitor) Resume(ctx context.Context) (int, error) {
	open, err := m.store.ListOpenTimelines(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume monitor: %w", err)
	}
	for _, tl := range open {
		if _, err := m.Watch(ctx, tl.BookingID); err != nil {
			return 0, err
		}
	}
	m.logger.Info().Int("timelines", len(open)).Msg("monitor resumed")
	return len(open), nil
}

// Watching reports whether bookingID has a live subscription.
func (m *Monitor) Watching(bookingID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[bookingID]
	return ok
}

// Close drops the bus subscription, ends every watch and waits for a started loop.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()

	m.unsubscribe()
	for _, sub := range subs {
		sub.close()
	}
	close(m.stop)
}

// Wait blocks until the loop started by Start has returned.
func (m *Monitor) Wait() {
	<-m.stopped
}

func (m *Monitor) release(bookingID string, sub *Subscription) {
	m.mu.Lock()
	current, ok := m.subs[bookingID]
	if ok && (sub == nil || current == sub) {
		delete(m.subs, bookingID)
		sub = current
	}
	m.mu.Unlock()
	if sub != nil {
		sub.close()
	}
}

func (m *Monitor) onTaskChanged(event *events.Event) error {
	var p events.TaskChangedPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		m.logger.Warn().Err(err).Msg("malformed task event")
		return err
	}
	if p.BookingID == "" {
		return nil
	}
	m.enqueue(p.BookingID)
	return nil
}

// enqueue never blocks: handlers run on the publisher's goroutine, which can be the
// reconcile loop itself.
func (m *Monitor) enqueue(bookingID string) {
	m.mu.Lock()
	if _, watched := m.subs[bookingID]; !watched || m.queued[bookingID] {
		m.mu.Unlock()
		return
	}
	m.queued[bookingID] = true
	m.mu.Unlock()

	select {
	case m.work <- bookingID:
	default:
		m.mu.Lock()
		delete(m.queued, bookingID)
		m.mu.Unlock()
		m.logger.Warn().Str("booking_id", bookingID).Msg("monitor queue full, change dropped")
	}
}
