package eventlog

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// DeliveryMode governs what happens when a subscriber's handler fails.
type DeliveryMode int

const (
	// AtLeastOnce redelivers a failed event with capped exponential
	// backoff until it succeeds. The cursor only advances after success.
	AtLeastOnce DeliveryMode = iota

	// AtMostOnce logs a handler failure and advances the cursor anyway.
	AtMostOnce
)

func (m DeliveryMode) String() string {
	switch m {
	case AtLeastOnce:
		return "at-least-once"
	case AtMostOnce:
		return "at-most-once"
	default:
		return "unknown"
	}
}

// Filter restricts which events a subscription sees. The zero value matches
// everything. Filtered-out events are skipped without being delivered; the
// cursor still advances past them.
type Filter struct {
	// Types, when non-empty, limits delivery to the listed event type
	// tags.
	Types []string

	// AggregateID, when non-empty, limits delivery to one aggregate.
	AggregateID string
}

// Match reports whether the envelope passes the filter.
func (f Filter) Match(env *Envelope) bool {
	if f.AggregateID != "" && env.AggregateID != f.AggregateID {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, env.Type) {
		return false
	}
	return true
}

// Subscription is a named consumer with a persistent cursor into the log.
// Its pump delivers events in strict sequence order at the consumer's own
// pace; see Dispatcher.
type Subscription struct {
	id      string
	filter  Filter
	mode    DeliveryMode
	handler Handler

	cursor   atomic.Uint64
	degraded atomic.Bool

	// wake has capacity 1; the dispatcher posts to it after appends so a
	// caught-up pump resumes without waiting out its poll interval.
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// SubscriberID returns the consumer's identity.
func (s *Subscription) SubscriberID() string { return s.id }

// Cursor returns the last acknowledged sequence.
func (s *Subscription) Cursor() uint64 { return s.cursor.Load() }

// Mode returns the subscription's delivery mode.
func (s *Subscription) Mode() DeliveryMode { return s.mode }

// Degraded reports whether the subscription has exhausted its retry
// attempts and is retrying at the capped interval.
func (s *Subscription) Degraded() bool { return s.degraded.Load() }

// Registry tracks active subscriptions and their cursors. All methods are
// safe for concurrent use; cursor reads never observe a torn update.
type Registry struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	cursors CursorStore
	logger  *slog.Logger
}

// NewRegistry creates a Registry persisting cursors through the given
// store.
func NewRegistry(cursors CursorStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subs:    make(map[string]*Subscription),
		cursors: cursors,
		logger:  logger,
	}
}

// Register creates a Subscription starting after startSequence, or after
// the persisted cursor when one exists (a reconnecting consumer resumes
// where it left off, regardless of the requested start).
//
// Errors:
//   - *DuplicateSubscriberError if the id is already active.
func (r *Registry) Register(ctx context.Context, id string, filter Filter, mode DeliveryMode, startSequence uint64, handler Handler) (*Subscription, error) {
	cursor := startSequence
	if stored, ok, err := r.cursors.LoadCursor(ctx, id); err != nil {
		return nil, err
	} else if ok && stored > cursor {
		cursor = stored
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[id]; exists {
		return nil, &DuplicateSubscriberError{SubscriberID: id}
	}

	sub := &Subscription{
		id:      id,
		filter:  filter,
		mode:    mode,
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	sub.cursor.Store(cursor)
	r.subs[id] = sub
	return sub, nil
}

// Unregister removes a subscription. Removing an unknown id is a no-op.
// The stored cursor is kept so the subscriber can resume later; use
// DeleteCursor on the CursorStore to forget it entirely.
func (r *Registry) Unregister(id string) *Subscription {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return sub
}

// Acknowledge advances the cursor of a subscriber and persists it.
//
// Errors:
//   - ErrUnknownSubscriber for an id that is not active.
//   - *OutOfOrderAckError for a stale ack; the cursor is unchanged. Stale
//     acks race legitimately with redelivery, so callers treat this as a
//     warning, not a failure.
func (r *Registry) Acknowledge(ctx context.Context, id string, sequence uint64) error {
	r.mu.RLock()
	sub, ok := r.subs[id]
	r.mu.RUnlock()

	if !ok {
		return ErrUnknownSubscriber
	}
	return r.acknowledge(ctx, sub, sequence)
}

// isActive reports whether sub is the current registration for its id.
func (r *Registry) isActive(sub *Subscription) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[sub.id] == sub
}

// acknowledge advances the cursor of sub, provided it is still the active
// registration for its id. A pump outliving an Unregister/Register cycle
// fails the identity check and cannot pollute the new registration's
// cursor. The cursor only ever moves forward: concurrent acknowledges
// race through a compare-and-swap, so a slower ack with a lower sequence
// can never regress a cursor another ack already advanced.
func (r *Registry) acknowledge(ctx context.Context, sub *Subscription, sequence uint64) error {
	if !r.isActive(sub) {
		return ErrUnknownSubscriber
	}

	id := sub.id
	for {
		current := sub.cursor.Load()
		if sequence < current {
			err := &OutOfOrderAckError{SubscriberID: id, Cursor: current, Sequence: sequence}
			r.logger.WarnContext(ctx, "ignoring stale acknowledgment",
				"subscriber", id, "cursor", current, "sequence", sequence)
			return err
		}
		if sub.cursor.CompareAndSwap(current, sequence) {
			break
		}
	}

	if err := r.cursors.SaveCursor(ctx, id, sequence); err != nil {
		r.logger.ErrorContext(ctx, "persisting cursor failed",
			"subscriber", id, "sequence", sequence, "error", err)
		return err
	}
	return nil
}

// CursorOf returns the current cursor of an active subscriber.
func (r *Registry) CursorOf(id string) (uint64, error) {
	r.mu.RLock()
	sub, ok := r.subs[id]
	r.mu.RUnlock()

	if !ok {
		return 0, ErrUnknownSubscriber
	}
	return sub.cursor.Load(), nil
}

// Subscriptions returns a snapshot of the active subscriptions.
func (r *Registry) Subscriptions() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// MemoryCursorStore is a CursorStore keeping cursors in process memory.
// Suitable for tests and for at-most-once subscribers that do not need to
// survive restarts.
type MemoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[string]uint64
}

var _ CursorStore = (*MemoryCursorStore)(nil)

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]uint64)}
}

func (m *MemoryCursorStore) LoadCursor(ctx context.Context, subscriberID string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.cursors[subscriberID]
	return seq, ok, nil
}

func (m *MemoryCursorStore) SaveCursor(ctx context.Context, subscriberID string, sequence uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[subscriberID] = sequence
	return nil
}

func (m *MemoryCursorStore) DeleteCursor(ctx context.Context, subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, subscriberID)
	return nil
}
