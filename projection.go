package eventlog

import (
	"context"
	"sync"
)

// FoldFunc folds one event into the accumulated state and returns the new
// state. Fold functions must be pure: folding the same events in the same
// order always produces the same state, which is what makes a projection
// rebuildable from the log.
type FoldFunc[S any] func(state S, envelope *Envelope) (S, error)

// Projection is a read model derived by folding the event stream. It runs
// as an at-least-once subscription, so its state always equals the fold of
// every matching event up to its cursor, and it resumes from its cursor
// after a restart.
type Projection[S any] struct {
	log     *Log
	id      string
	initial func() S
	fold    FoldFunc[S]
	filter  Filter

	mu    sync.RWMutex
	state S
	seq   uint64
}

// NewProjection registers a projection under the given subscriber id and
// starts folding. initial supplies a fresh accumulator (called once now and
// again on Rebuild); fold applies one event. Accepts the filter-related
// SubscribeOptions; the delivery mode is always at-least-once.
func NewProjection[S any](ctx context.Context, log *Log, subscriberID string, initial func() S, fold FoldFunc[S], opts ...SubscribeOption) (*Projection[S], error) {
	cfg := &subscribeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	p := &Projection[S]{
		log:     log,
		id:      subscriberID,
		initial: initial,
		fold:    fold,
		filter:  cfg.filter,
		state:   initial(),
	}

	opts = append(opts, WithMode(AtLeastOnce))
	if _, err := log.Subscribe(ctx, subscriberID, NewHandlerFunc(p.apply), opts...); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Projection[S]) apply(ctx context.Context, env *Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next, err := p.fold(p.state, env)
	if err != nil {
		return err
	}
	p.state = next
	p.seq = env.Sequence
	return nil
}

// State returns the latest folded value. Safe to call concurrently with
// ongoing folding; the returned value is a consistent snapshot as of
// Sequence.
func (p *Projection[S]) State() S {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Sequence returns the sequence of the last folded event.
func (p *Projection[S]) Sequence() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq
}

// SubscriberID returns the projection's subscription id.
func (p *Projection[S]) SubscriberID() string { return p.id }

// Rebuild discards the current state and replays the entire log from the
// beginning through the fold function, then resumes live folding from where
// the replay ended. For a pure fold the result is identical to having
// folded incrementally.
//
// Rebuild is all-or-nothing: if the fold fails mid-replay the prior state
// and cursor are retained untouched, live folding resumes, and a
// *ProjectionRebuildError is returned.
func (p *Projection[S]) Rebuild(ctx context.Context) error {
	p.log.Unsubscribe(p.id)

	p.mu.RLock()
	priorSeq := p.seq
	p.mu.RUnlock()

	state := p.initial()
	var seq uint64

	resume := func(start uint64) error {
		_, err := p.log.Subscribe(ctx, p.id, NewHandlerFunc(p.apply),
			WithFilter(p.filter), WithMode(AtLeastOnce), StartAfter(start))
		return err
	}

	for {
		batch, err := p.log.ReadFrom(ctx, seq+1, p.log.cfg.batchSize)
		if err != nil {
			if rerr := resume(priorSeq); rerr != nil {
				return rerr
			}
			return &ProjectionRebuildError{SubscriberID: p.id, Sequence: seq, Err: err}
		}
		if len(batch) == 0 {
			break
		}
		for _, env := range batch {
			seq = env.Sequence
			if !p.filter.Match(env) {
				continue
			}
			state, err = p.fold(state, env)
			if err != nil {
				if rerr := resume(priorSeq); rerr != nil {
					return rerr
				}
				return &ProjectionRebuildError{SubscriberID: p.id, Sequence: seq, Err: err}
			}
		}
	}

	p.mu.Lock()
	p.state = state
	p.seq = seq
	p.mu.Unlock()

	return resume(seq)
}
