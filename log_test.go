package eventlog_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/streamhaus/eventlog"
	"github.com/streamhaus/eventlog/eventstore/memory"
)

type orderPlaced struct {
	ID     string
	Amount int
}

func (e *orderPlaced) EventType() string   { return "order.placed" }
func (e *orderPlaced) AggregateID() string { return e.ID }

type orderShipped struct {
	ID string
}

func (e *orderShipped) EventType() string   { return "order.shipped" }
func (e *orderShipped) AggregateID() string { return e.ID }

type orderCancelled struct {
	ID string
}

func (e *orderCancelled) EventType() string   { return "order.cancelled" }
func (e *orderCancelled) AggregateID() string { return e.ID }

func init() {
	eventlog.RegisterEventByType(func() eventlog.Event { return &orderPlaced{} })
	eventlog.RegisterEventByType(func() eventlog.Event { return &orderShipped{} })
	eventlog.RegisterEventByType(func() eventlog.Event { return &orderCancelled{} })
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() eventlog.RetryPolicy {
	return eventlog.RetryPolicy{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         10 * time.Millisecond,
		MaxAttempts:         5,
	}
}

func newTestLog(t *testing.T, opts ...eventlog.Option) *eventlog.Log {
	t.Helper()
	base := []eventlog.Option{
		eventlog.WithLogger(testLogger()),
		eventlog.WithPollInterval(10 * time.Millisecond),
		eventlog.WithRetryPolicy(fastRetry()),
	}
	l := eventlog.New(memory.NewStore(), append(base, opts...)...)
	t.Cleanup(func() { l.Close() })
	return l
}

func recvEnvelope(t *testing.T, ch <-chan *eventlog.Envelope) *eventlog.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for delivery")
		return nil
	}
}

func expectNoEnvelope(t *testing.T, ch <-chan *eventlog.Envelope, wait time.Duration) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("unexpected delivery of sequence %d", env.Sequence)
	case <-time.After(wait):
	}
}

func waitForCursor(t *testing.T, l *eventlog.Log, subscriberID string, want uint64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		cursor, err := l.CursorOf(subscriberID)
		if err == nil && cursor == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("cursor of %q = %d (err %v), want %d", subscriberID, cursor, err, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAppendAssignsContiguousSequences(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	seq, err := l.Append(ctx, &orderPlaced{ID: "o-1"}, &orderShipped{ID: "o-1"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 2 {
		t.Errorf("last sequence = %d, want 2", seq)
	}

	seq, err = l.Append(ctx, &orderPlaced{ID: "o-2"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 3 {
		t.Errorf("last sequence = %d, want 3", seq)
	}

	latest, err := l.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != 3 {
		t.Errorf("latest sequence = %d, want 3", latest)
	}
}

func TestConcurrentProducersUniqueSequences(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	const producers = 2
	const perProducer = 1000

	var wg sync.WaitGroup
	errs := make(chan error, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id := fmt.Sprintf("agg-%d-%d", p, i)
				if _, err := l.Append(ctx, &orderPlaced{ID: id}); err != nil {
					errs <- err
					return
				}
			}
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	latest, err := l.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != producers*perProducer {
		t.Fatalf("latest sequence = %d, want %d", latest, producers*perProducer)
	}

	events, err := l.ReadFrom(ctx, 1, 0)
	if err != nil {
		t.Fatalf("read from: %v", err)
	}
	seen := make(map[uint64]bool, len(events))
	for i, env := range events {
		if seen[env.Sequence] {
			t.Fatalf("duplicate sequence %d", env.Sequence)
		}
		seen[env.Sequence] = true
		if env.Sequence != uint64(i)+1 {
			t.Fatalf("gap at index %d: sequence %d", i, env.Sequence)
		}
	}
}

func TestReadFromDecodesTypedEvents(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	if _, err := l.Append(ctx, &orderPlaced{ID: "o-1", Amount: 7}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := l.ReadFrom(ctx, 1, 10)
	if err != nil {
		t.Fatalf("read from: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev, ok := events[0].Event.(*orderPlaced)
	if !ok {
		t.Fatalf("decoded event is %T, want *orderPlaced", events[0].Event)
	}
	if ev.Amount != 7 {
		t.Errorf("decoded amount = %d, want 7", ev.Amount)
	}
}

func TestReadForAggregate(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	_, err := l.Append(ctx,
		&orderPlaced{ID: "o-1"},
		&orderPlaced{ID: "o-2"},
		&orderShipped{ID: "o-1"},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	it, err := l.ReadForAggregate(ctx, "o-1")
	if err != nil {
		t.Fatalf("read for aggregate: %v", err)
	}
	events, err := it.All(ctx)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events for o-1, want 2", len(events))
	}
	if events[0].Sequence != 1 || events[1].Sequence != 3 {
		t.Errorf("sequences = [%d %d], want [1 3]", events[0].Sequence, events[1].Sequence)
	}

	it, err = l.ReadForAggregate(ctx, "missing")
	if err != nil {
		t.Fatalf("read for missing aggregate: %v", err)
	}
	events, err = it.All(ctx)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events for missing aggregate, want 0", len(events))
	}
}

func TestAppendPayloadOpaque(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	seq, err := l.AppendPayload(ctx, "sensor.reading", "sensor-1", []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("append payload: %v", err)
	}
	if seq != 1 {
		t.Errorf("sequence = %d, want 1", seq)
	}

	events, err := l.ReadFrom(ctx, 1, 1)
	if err != nil {
		t.Fatalf("read from: %v", err)
	}
	if events[0].Event != nil {
		t.Errorf("opaque payload decoded to %T, want nil", events[0].Event)
	}
	if string(events[0].Payload) != "\x01\x02" {
		t.Errorf("payload = %v", events[0].Payload)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	l := eventlog.New(memory.NewStore(), eventlog.WithLogger(testLogger()))
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := l.Append(context.Background(), &orderPlaced{ID: "o-1"}); err != eventlog.ErrClosed {
		t.Errorf("append after close = %v, want ErrClosed", err)
	}
	// Close is idempotent.
	if err := l.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
