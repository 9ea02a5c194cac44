// Package events fans scan events out to live feed subscribers.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MiracleAig/IoT-WebUI/internal/metrics"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
)

// ErrClosed is returned by Next once the subscription or the broadcaster is closed.
var ErrClosed = errors.New("subscription closed")

// Broadcaster delivers every published event to every subscriber registered
// at publish time. Each subscriber owns its queue, so a slow reader never
// holds up Publish or the other subscribers.
type Broadcaster struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	closed     bool
	maxPending int
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records publish, drop and subscriber counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// WithMaxPending caps each subscriber queue; when full the oldest event is
// discarded. Zero or less leaves queues unbounded.
func WithMaxPending(n int) Option {
	return func(b *Broadcaster) {
		b.maxPending = n
	}
}

// New creates an empty broadcaster.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:   make(map[string]*Subscription),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues ev for every current subscriber. It never blocks on a
// subscriber and is a no-op after Shutdown.
func (b *Broadcaster) Publish(ev models.ScanEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, s := range b.subs {
		if s.push(ev, b.maxPending) {
			b.metrics.EventDropped()
			b.logger.Warn("Subscriber queue full, dropped oldest event",
				zap.String("subscriber_id", s.id),
				zap.Int("max_pending", b.maxPending))
		}
	}
	b.metrics.EventPublished()
}

// Subscribe registers a new subscriber. Only events published after this
// call are delivered to it. After Shutdown the returned subscription is
// already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{
		id:     uuid.New().String(),
		b:      b,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.closed = true
		close(s.done)
		return s
	}
	b.subs[s.id] = s
	b.mu.Unlock()

	b.metrics.SubscriberAdded()
	b.logger.Debug("Subscriber registered", zap.String("subscriber_id", s.id))
	return s
}

// Count returns the number of registered subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Shutdown closes every subscription and rejects further publishes.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	b.logger.Info("Broadcaster stopped", zap.Int("subscribers", len(subs)))
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	_, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if ok {
		b.metrics.SubscriberRemoved()
		b.logger.Debug("Subscriber removed", zap.String("subscriber_id", id))
	}
}

// Subscription is one subscriber's view of the event stream.
type Subscription struct {
	id string
	b  *Broadcaster

	mu     sync.Mutex
	queue  []models.ScanEvent
	closed bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id
}

// push appends ev and reports whether an older event had to be dropped.
func (s *Subscription) push(ev models.ScanEvent, maxPending int) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	dropped := false
	if maxPending > 0 && len(s.queue) >= maxPending {
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Next blocks until an event is available, ctx is done, or the subscription
// is closed. Events are returned in publish order.
func (s *Subscription) Next(ctx context.Context) (models.ScanEvent, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return models.ScanEvent{}, ErrClosed
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
			return models.ScanEvent{}, ErrClosed
		case <-ctx.Done():
			return models.ScanEvent{}, ctx.Err()
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unregisters the subscription and releases its queue. It is safe to
// call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.b.remove(s.id)

		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		select {
		case <-s.done:
		default:
			close(s.done)
		}
	})
}
