// Package memory provides an in-memory Store, suitable for tests and for
// pipelines that do not need to survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/streamhaus/eventlog"
)

var _ eventlog.Store = (*Store)(nil)

// Store keeps the log in process memory: a global slice ordered by
// sequence plus a per-aggregate index.
type Store struct {
	mu        sync.RWMutex
	closed    bool
	global    []*eventlog.Envelope
	byAggr    map[string][]*eventlog.Envelope
	latestSeq uint64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{byAggr: make(map[string][]*eventlog.Envelope)}
}

// Append assigns sequence numbers under the store lock, so two concurrent
// appends never receive the same sequence.
func (s *Store) Append(ctx context.Context, envelopes ...*eventlog.Envelope) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, eventlog.ErrClosed
	}

	for _, env := range envelopes {
		s.latestSeq++
		env.Sequence = s.latestSeq
		s.global = append(s.global, env)
		s.byAggr[env.AggregateID] = append(s.byAggr[env.AggregateID], env)
	}
	return s.latestSeq, nil
}

func (s *Store) ReadFrom(ctx context.Context, from uint64, limit int) ([]*eventlog.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, eventlog.ErrClosed
	}

	if from < 1 {
		from = 1
	}
	if from > s.latestSeq {
		return nil, nil
	}

	// Sequences are contiguous from 1, so the slice index is seq-1.
	events := s.global[from-1:]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	out := make([]*eventlog.Envelope, len(events))
	copy(out, events)
	return out, nil
}

func (s *Store) ReadForAggregate(ctx context.Context, aggregateID string) (*eventlog.Iterator[*eventlog.Envelope], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, eventlog.ErrClosed
	}

	events := make([]*eventlog.Envelope, len(s.byAggr[aggregateID]))
	copy(events, s.byAggr[aggregateID])
	return eventlog.NewSliceIterator(events), nil
}

func (s *Store) LatestSequence(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, eventlog.ErrClosed
	}
	return s.latestSeq, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
