package eventlog

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log is the engine facade: a Store, a subscription Registry and a
// Dispatcher wired together with explicit ownership and lifecycle. Producers
// append through it, consumers subscribe through it, and Close shuts the
// whole pipeline down. There is no ambient global instance; construct one
// and hand it to collaborators.
type Log struct {
	store      Store
	registry   *Registry
	dispatcher *Dispatcher
	cfg        *Config
	metrics    *metricsState

	mu     sync.Mutex
	closed bool
}

// New wires a Log over the given store. The store is owned by the Log from
// here on; Close closes it.
func New(store Store, opts ...Option) *Log {
	cfg := applyOptions(defaultConfig(), opts...)

	var metrics *metricsState
	if cfg.metrics {
		metrics = newMetricsState()
	}

	l := &Log{
		store:    store,
		registry: NewRegistry(cfg.cursors, cfg.logger),
		cfg:      cfg,
		metrics:  metrics,
	}
	l.dispatcher = NewDispatcher(store, l.registry, cfg.logger, metrics, l.decode,
		cfg.pollInterval, cfg.batchSize, cfg.retry)
	return l
}

// Append stamps, encodes and durably appends the given events, returning
// the sequence assigned to the last one. On success all active pumps are
// woken. Append never waits on consumers; a failed append surfaces a
// *StoreUnavailableError from the store and appends nothing.
func (l *Log) Append(ctx context.Context, events ...Event) (uint64, error) {
	if len(events) == 0 {
		return l.LatestSequence(ctx)
	}

	envelopes := make([]*Envelope, len(events))
	for i, ev := range events {
		payload, err := l.cfg.codec.Marshal(ev)
		if err != nil {
			return 0, fmt.Errorf("eventlog: encode %s: %w", ev.EventType(), err)
		}
		envelopes[i] = &Envelope{
			EventID:     uuid.New(),
			Type:        ev.EventType(),
			AggregateID: ev.AggregateID(),
			Payload:     payload,
			Event:       ev,
			OccurredAt:  l.cfg.clock.Now(),
		}
	}

	return l.append(ctx, envelopes)
}

// AppendPayload appends one pre-encoded event whose payload the log treats
// as opaque bytes. Useful for producers that bring their own serialization.
func (l *Log) AppendPayload(ctx context.Context, eventType, aggregateID string, payload []byte) (uint64, error) {
	env := &Envelope{
		EventID:     uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  l.cfg.clock.Now(),
	}
	return l.append(ctx, []*Envelope{env})
}

func (l *Log) append(ctx context.Context, envelopes []*Envelope) (uint64, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	l.mu.Unlock()

	start := time.Now()
	seq, err := l.store.Append(ctx, envelopes...)
	if err != nil {
		return 0, err
	}
	l.metrics.appendObserved(len(envelopes), time.Since(start))

	l.dispatcher.Wake()
	return seq, nil
}

// Subscribe registers a consumer and starts its delivery pump. The handler
// receives events matching the subscription's filter in strict sequence
// order, starting after the configured start sequence (or after the
// subscriber's persisted cursor, when that is further along).
//
// Errors:
//   - *DuplicateSubscriberError if the id is already active.
func (l *Log) Subscribe(ctx context.Context, subscriberID string, handler Handler, opts ...SubscribeOption) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("eventlog: subscribe %q: nil handler", subscriberID)
	}

	cfg := &subscribeConfig{mode: AtLeastOnce}
	for _, opt := range opts {
		opt(cfg)
	}

	start := cfg.start
	if cfg.fromLatest {
		latest, err := l.store.LatestSequence(ctx)
		if err != nil {
			return nil, err
		}
		start = latest
	}

	sub, err := l.registry.Register(ctx, subscriberID, cfg.filter, cfg.mode, start, handler)
	if err != nil {
		return nil, err
	}

	if err := l.dispatcher.Start(sub); err != nil {
		l.registry.Unregister(subscriberID)
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes a subscription from the registry, stops its pump and
// waits for any in-flight delivery to finish, so no handler invocation for
// this subscriber is running once it returns. Idempotent; unknown ids are a
// no-op. The persisted cursor is retained so the subscriber can resume
// later. Must not be called from inside the subscription's own handler.
func (l *Log) Unsubscribe(subscriberID string) {
	sub := l.registry.Unregister(subscriberID)
	if sub != nil {
		l.dispatcher.Stop(sub)
	}
}

// Acknowledge advances a subscriber's cursor out of band. Normal deliveries
// are acknowledged by the dispatcher; this is for consumers that manage
// their own progress. Stale acks return *OutOfOrderAckError and leave the
// cursor unchanged.
func (l *Log) Acknowledge(ctx context.Context, subscriberID string, sequence uint64) error {
	return l.registry.Acknowledge(ctx, subscriberID, sequence)
}

// CursorOf returns the cursor of an active subscriber.
func (l *Log) CursorOf(subscriberID string) (uint64, error) {
	return l.registry.CursorOf(subscriberID)
}

// ReadFrom reads events with sequence >= from, up to limit.
func (l *Log) ReadFrom(ctx context.Context, from uint64, limit int) ([]*Envelope, error) {
	envelopes, err := l.store.ReadFrom(ctx, from, limit)
	if err != nil {
		return nil, err
	}
	for _, env := range envelopes {
		l.decode(env)
	}
	return envelopes, nil
}

// ReadForAggregate iterates one aggregate's events in sequence order.
func (l *Log) ReadForAggregate(ctx context.Context, aggregateID string) (*Iterator[*Envelope], error) {
	it, err := l.store.ReadForAggregate(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	return NewIterator(func(ctx context.Context) (*Envelope, error) {
		if !it.Next(ctx) {
			if err := it.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		env := it.Value()
		l.decode(env)
		return env, nil
	}), nil
}

// LatestSequence returns the log's high-water mark.
func (l *Log) LatestSequence(ctx context.Context) (uint64, error) {
	return l.store.LatestSequence(ctx)
}

// Metrics returns a point-in-time snapshot of store and dispatch activity.
// Purely observational; it never influences delivery.
func (l *Log) Metrics(ctx context.Context) (Metrics, error) {
	latest, err := l.store.LatestSequence(ctx)
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{
		LatestSequence: latest,
		AppendLatency:  l.metrics.latencySnapshot(),
	}
	if l.metrics != nil {
		m.EventsAppended = l.metrics.appended.Load()
		m.EventsDelivered = l.metrics.deliveredCount.Load()
		m.HandlerFailures = l.metrics.handlerFailures.Load()
	}

	for _, sub := range l.registry.Subscriptions() {
		cursor := sub.Cursor()
		var lag uint64
		if latest > cursor {
			lag = latest - cursor
		}
		m.Subscriptions = append(m.Subscriptions, SubscriptionMetrics{
			SubscriberID: sub.SubscriberID(),
			Mode:         sub.Mode(),
			Cursor:       cursor,
			Lag:          lag,
			Degraded:     sub.Degraded(),
		})
	}
	return m, nil
}

// Close stops all pumps, then closes the store. Idempotent.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	err := l.dispatcher.Close()
	if cerr := l.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// decode re-materializes the typed Event from the payload, best effort. An
// unregistered event type leaves Event nil; the raw payload is still
// delivered.
func (l *Log) decode(env *Envelope) {
	if env == nil || env.Event != nil || len(env.Payload) == 0 {
		return
	}
	ev, err := NewEventByName(env.Type)
	if err != nil {
		return
	}
	if err := l.cfg.codec.Unmarshal(env.Payload, ev); err != nil {
		l.cfg.logger.Warn("decoding event payload failed",
			"type", env.Type, "sequence", env.Sequence, "error", err)
		return
	}
	env.Event = ev
}
