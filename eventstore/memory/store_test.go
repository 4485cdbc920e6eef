package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/streamhaus/eventlog"
)

func newEnvelope(aggregateID, eventType string) *eventlog.Envelope {
	return &eventlog.Envelope{
		EventID:     uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     []byte(`{}`),
	}
}

func TestAppendAssignsSequences(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	last, err := s.Append(ctx, newEnvelope("a-1", "created"), newEnvelope("a-2", "created"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if last != 2 {
		t.Errorf("last sequence = %d, want 2", last)
	}

	last, err = s.Append(ctx, newEnvelope("a-1", "updated"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if last != 3 {
		t.Errorf("last sequence = %d, want 3", last)
	}

	latest, err := s.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != 3 {
		t.Errorf("latest = %d, want 3", latest)
	}
}

func TestReadFrom(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, newEnvelope("a-1", "created")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	batch, err := s.ReadFrom(ctx, 3, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(batch) != 3 || batch[0].Sequence != 3 || batch[2].Sequence != 5 {
		t.Errorf("read from 3 returned sequences %v", sequences(batch))
	}

	batch, err = s.ReadFrom(ctx, 1, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(batch) != 2 || batch[0].Sequence != 1 || batch[1].Sequence != 2 {
		t.Errorf("limited read returned sequences %v", sequences(batch))
	}

	// Past the end is empty, not an error.
	batch, err = s.ReadFrom(ctx, 6, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("read past end returned %d envelopes", len(batch))
	}

	// from 0 is clamped to the beginning.
	batch, err = s.ReadFrom(ctx, 0, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(batch) != 1 || batch[0].Sequence != 1 {
		t.Errorf("clamped read returned sequences %v", sequences(batch))
	}
}

func TestReadForAggregate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Append(ctx,
		newEnvelope("a-1", "created"),
		newEnvelope("a-2", "created"),
		newEnvelope("a-1", "updated"),
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	it, err := s.ReadForAggregate(ctx, "a-1")
	if err != nil {
		t.Fatalf("read aggregate: %v", err)
	}
	envs, err := it.All(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(envs) != 2 || envs[0].Sequence != 1 || envs[1].Sequence != 3 {
		t.Errorf("aggregate stream sequences %v, want [1 3]", sequences(envs))
	}

	it, err = s.ReadForAggregate(ctx, "missing")
	if err != nil {
		t.Fatalf("read missing aggregate: %v", err)
	}
	envs, err = it.All(ctx)
	if err != nil || len(envs) != 0 {
		t.Errorf("missing aggregate = %d envelopes, err %v", len(envs), err)
	}
}

func TestConcurrentAppends(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if _, err := s.Append(ctx, newEnvelope("a-1", "created")); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	latest, err := s.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != producers*perProducer {
		t.Fatalf("latest = %d, want %d", latest, producers*perProducer)
	}

	all, err := s.ReadFrom(ctx, 1, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	seen := make(map[uint64]bool, len(all))
	for i, env := range all {
		if seen[env.Sequence] {
			t.Fatalf("duplicate sequence %d", env.Sequence)
		}
		seen[env.Sequence] = true
		if env.Sequence != uint64(i)+1 {
			t.Fatalf("sequence at index %d = %d", i, env.Sequence)
		}
	}
}

func TestClosedStore(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, err := s.Append(ctx, newEnvelope("a-1", "created")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := s.Append(ctx, newEnvelope("a-1", "updated")); !errors.Is(err, eventlog.ErrClosed) {
		t.Errorf("append after close = %v, want ErrClosed", err)
	}
	if _, err := s.ReadFrom(ctx, 1, 0); !errors.Is(err, eventlog.ErrClosed) {
		t.Errorf("read after close = %v, want ErrClosed", err)
	}
	if _, err := s.LatestSequence(ctx); !errors.Is(err, eventlog.ErrClosed) {
		t.Errorf("latest after close = %v, want ErrClosed", err)
	}
}

func sequences(envs []*eventlog.Envelope) []uint64 {
	out := make([]uint64, len(envs))
	for i, env := range envs {
		out[i] = env.Sequence
	}
	return out
}
