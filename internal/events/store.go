package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/642studio/Veridis/internal/metrics"
	"github.com/642studio/Veridis/pkg/schema"
)

const (
	// DefaultMaxEvents is the history capacity used when none is configured.
	DefaultMaxEvents = 200
	// DefaultQueryLimit is the window used by history queries that give no limit.
	DefaultQueryLimit = 50
)

// Store is the bounded, order-preserving event log plus the derived system state.
// Events live in a fixed-size ring; the oldest entry is overwritten once it is full.
type Store struct {
	mu       sync.RWMutex
	ring     []schema.Event
	capacity int
	head     int  // next write position
	full     bool // whether the ring has wrapped

	status    schema.Status
	last      *schema.Event
	updatedAt time.Time

	now     func() time.Time
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for ingestion timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records every append.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates an empty store holding at most capacity events.
// A non-positive capacity selects DefaultMaxEvents.
func NewStore(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = DefaultMaxEvents
	}
	s := &Store{
		capacity: capacity,
		ring:     make([]schema.Event, capacity),
		status:   schema.StatusIdle,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.updatedAt = s.now().UTC()
	return s
}

// Capacity returns the maximum number of events kept.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append normalizes input, records it as the latest event and returns the
// state published by this append. Status, last event, history and updatedAt
// change together under the write lock.
func (s *Store) Append(input any) schema.SystemState {
	ev := Normalize(input, s.now())
	status := schema.StatusFromLevel(ev.Level)

	s.mu.Lock()
	s.ring[s.head] = ev
	s.head = (s.head + 1) % s.capacity
	if s.head == 0 {
		s.full = true
	}
	last := ev
	s.last = &last
	s.status = status
	s.updatedAt = ev.Timestamp
	snap := s.snapshotLocked()
	// Recorded under the lock so the status gauge follows publication order.
	s.metrics.ObserveEvent(ev.Level, status)
	s.mu.Unlock()

	s.log.Debug().
		Str("type", ev.Type).
		Str("source", ev.Source).
		Str("level", string(ev.Level)).
		Str("status", string(status)).
		Msg("event appended")
	return snap
}

// State returns an independent copy of the current state.
func (s *Store) State() schema.SystemState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Recent returns up to limit of the most recent events, newest first.
// limit is clamped to [1, Capacity()].
func (s *Store) Recent(limit int) []schema.Event {
	limit = s.clamp(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.lenLocked()
	if limit > n {
		limit = n
	}
	out := make([]schema.Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.head - 1 - i + s.capacity) % s.capacity
		out = append(out, cloneEvent(s.ring[idx]))
	}
	return out
}

// Alerts returns the critical events among the limit most recent events,
// newest first. The limit bounds the window that is searched, not the number
// of alerts returned, so older alerts outside the window are not reported.
func (s *Store) Alerts(limit int) []schema.Event {
	window := s.Recent(limit)
	out := make([]schema.Event, 0, len(window))
	for _, ev := range window {
		if ev.Level == schema.LevelCritical {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) clamp(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > s.capacity {
		return s.capacity
	}
	return limit
}

// lenLocked MUST be called while holding s.mu.
func (s *Store) lenLocked() int {
	if s.full {
		return s.capacity
	}
	return s.head
}

// snapshotLocked copies the state in storage order (oldest first).
// It MUST be called while holding s.mu.
func (s *Store) snapshotLocked() schema.SystemState {
	n := s.lenLocked()
	events := make([]schema.Event, n)
	start := 0
	if s.full {
		start = s.head
	}
	for i := 0; i < n; i++ {
		events[i] = cloneEvent(s.ring[(start+i)%s.capacity])
	}

	var last *schema.Event
	if s.last != nil {
		cp := cloneEvent(*s.last)
		last = &cp
	}
	return schema.SystemState{
		Status:       s.status,
		LastEvent:    last,
		RecentEvents: events,
		UpdatedAt:    s.updatedAt,
	}
}
