package eventlog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// RetryPolicy bounds the exponential backoff applied to a failing
// at-least-once delivery. After MaxAttempts the subscription is marked
// degraded and keeps retrying at MaxInterval; events are never dropped.
type RetryPolicy struct {
	InitialInterval     time.Duration
	RandomizationFactor float64
	Multiplier          float64
	MaxInterval         time.Duration
	MaxAttempts         int
}

// DefaultRetryPolicy returns the retry policy used unless overridden with
// WithRetryPolicy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.25,
		Multiplier:          2,
		MaxInterval:         30 * time.Second,
		MaxAttempts:         10,
	}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.RandomizationFactor = p.RandomizationFactor
	bo.Multiplier = p.Multiplier
	bo.MaxInterval = p.MaxInterval
	bo.Reset()
	return bo
}

// Dispatcher runs one delivery pump per subscription. Each pump reads
// bounded batches from the store at its own cursor, applies the
// subscription's filter, delivers matching events in strict sequence order
// and acknowledges them. Pumps are independent: a slow or failing
// subscriber never stalls the store's append path or another pump.
type Dispatcher struct {
	store    Store
	registry *Registry
	logger   *slog.Logger
	metrics  *metricsState
	decode   func(*Envelope)

	pollInterval time.Duration
	batchSize    int
	retry        RetryPolicy

	mu     sync.Mutex
	closed bool
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a Dispatcher over a store and registry. decode,
// when non-nil, is applied to every envelope before delivery to
// re-materialize the typed Event; metrics may be nil.
func NewDispatcher(store Store, registry *Registry, logger *slog.Logger, metrics *metricsState, decode func(*Envelope), pollInterval time.Duration, batchSize int, retry RetryPolicy) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:        store,
		registry:     registry,
		logger:       logger,
		metrics:      metrics,
		decode:       decode,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		retry:        retry,
		group:        new(errgroup.Group),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the pump for a registered subscription. Returns
// ErrUnknownSubscriber if the subscription was unregistered before the
// pump could start; no pump runs for it in that case.
func (d *Dispatcher) Start(sub *Subscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	// Publish the cancel func before re-checking the registry: a
	// concurrent Unregister either finds it set, or wins the check below
	// and the pump never starts.
	ctx, cancel := context.WithCancel(d.ctx)
	sub.cancel = cancel
	if !d.registry.isActive(sub) {
		cancel()
		close(sub.done)
		return ErrUnknownSubscriber
	}

	d.group.Go(func() error {
		d.pump(ctx, sub)
		return nil
	})
	return nil
}

// Stop cancels a subscription's pump and waits for it to exit. An
// in-flight delivery observes the cancellation through its context or
// completes first; either way no delivery for this subscription is running
// once Stop returns. Must not be called from inside the subscription's own
// handler.
func (d *Dispatcher) Stop(sub *Subscription) {
	if sub == nil {
		return
	}

	d.mu.Lock()
	cancel := sub.cancel
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-sub.done
}

// Wake nudges every caught-up pump to re-read the log. Called after
// successful appends; a missed wake is covered by the poll interval.
func (d *Dispatcher) Wake() {
	for _, sub := range d.registry.Subscriptions() {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// Close cancels all pumps and waits for them to finish. Handlers are
// cancelled cooperatively through their context; Close waits for in-flight
// deliveries to return.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	return d.group.Wait()
}

func (d *Dispatcher) pump(ctx context.Context, sub *Subscription) {
	defer close(sub.done)

	log := d.logger.With("subscriber", sub.id, "mode", sub.mode.String())
	log.Debug("pump started", "cursor", sub.Cursor())
	defer log.Debug("pump stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := d.store.ReadFrom(ctx, sub.Cursor()+1, d.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("reading batch failed", "error", err)
			if !d.idle(ctx, sub) {
				return
			}
			continue
		}

		if len(batch) == 0 {
			if !d.idle(ctx, sub) {
				return
			}
			continue
		}

		var lastSeen uint64
		for _, env := range batch {
			if ctx.Err() != nil {
				return
			}
			if !sub.filter.Match(env) {
				lastSeen = env.Sequence
				continue
			}
			if err := d.deliver(ctx, sub, env, log); err != nil {
				return
			}
			lastSeen = env.Sequence
		}

		// Advance past a filtered-out tail so lag reflects reality.
		if lastSeen > sub.Cursor() {
			d.ack(ctx, sub, lastSeen, log)
		}
	}
}

// deliver hands one envelope to the handler, honoring the delivery mode.
// It returns a non-nil error only when the pump context is cancelled.
func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, env *Envelope, log *slog.Logger) error {
	if d.decode != nil {
		d.decode(env)
	}

	dctx := WithSubscriberID(WithEnvelope(ctx, env), sub.id)
	bo := d.retry.newBackOff()
	attempts := 0

	for {
		err := sub.handler.Handle(dctx, env)
		var skipped *ErrSkippedEvent
		if errors.As(err, &skipped) {
			// The handler declined the event; not a failure.
			d.ack(ctx, sub, env.Sequence, log)
			return nil
		}
		if err == nil {
			if sub.degraded.CompareAndSwap(true, false) {
				log.Info("subscription recovered", "sequence", env.Sequence)
				d.metrics.subscriptionRecovered()
			}
			d.metrics.delivered()
			d.ack(ctx, sub, env.Sequence, log)
			return nil
		}

		attempts++
		d.metrics.handlerFailed()

		if sub.mode == AtMostOnce {
			log.Error("handler failed, advancing cursor",
				"sequence", env.Sequence, "error", err)
			d.ack(ctx, sub, env.Sequence, log)
			return nil
		}

		wait := bo.NextBackOff()
		if attempts >= d.retry.MaxAttempts {
			wait = d.retry.MaxInterval
			if sub.degraded.CompareAndSwap(false, true) {
				log.Warn("subscription degraded, retrying at capped interval",
					"sequence", env.Sequence, "attempts", attempts, "error", err)
				d.metrics.subscriptionDegraded()
			}
		} else {
			log.Warn("handler failed, retrying",
				"sequence", env.Sequence, "attempt", attempts, "backoff", wait, "error", err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) ack(ctx context.Context, sub *Subscription, sequence uint64, log *slog.Logger) {
	err := d.registry.acknowledge(ctx, sub, sequence)
	var stale *OutOfOrderAckError
	if err != nil && !errors.As(err, &stale) && !errors.Is(err, ErrUnknownSubscriber) {
		log.Error("acknowledge failed", "sequence", sequence, "error", err)
	}
}

// idle blocks a caught-up pump until a wake signal, the poll interval, or
// cancellation. Returns false when the pump should exit.
func (d *Dispatcher) idle(ctx context.Context, sub *Subscription) bool {
	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-sub.wake:
		return true
	case <-timer.C:
		return true
	}
}
