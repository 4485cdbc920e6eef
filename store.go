package eventlog

import (
	"context"
)

// Store is the contract for an append-only, totally ordered event log.
//
// Implementations must guarantee:
//   - Append assigns contiguous, strictly increasing sequence numbers
//     starting at 1, even under concurrent producers.
//   - Append is atomic: a failed or interrupted append leaves no partial or
//     duplicate-sequenced event visible, including after a restart.
//   - Read methods return events in ascending sequence order and never
//     mutate the log.
//
// Appends are never blocked by readers: a slow consumer falls behind, it
// does not slow producers. Backends retain all history; retention and
// compaction are a deployment concern outside this contract.
type Store interface {
	// Append persists the given envelopes, assigning each its sequence
	// number in order, and returns the sequence of the last one. The
	// Sequence field of each envelope is set on success.
	//
	// Errors:
	//   - *StoreUnavailableError if the durable medium cannot be written.
	//   - ErrClosed after Close.
	Append(ctx context.Context, envelopes ...*Envelope) (uint64, error)

	// ReadFrom returns events with sequence >= from, ascending, up to
	// limit. Returns an empty slice, not an error, when none exist yet.
	// A limit <= 0 means no limit.
	ReadFrom(ctx context.Context, from uint64, limit int) ([]*Envelope, error)

	// ReadForAggregate returns a lazy iterator over the events of one
	// aggregate, in sequence order. An unknown aggregate yields an empty
	// iteration, not an error.
	ReadForAggregate(ctx context.Context, aggregateID string) (*Iterator[*Envelope], error)

	// LatestSequence returns the current high-water mark, 0 for an empty
	// log.
	LatestSequence(ctx context.Context) (uint64, error)

	// Close releases any resources held by the store. Implementations
	// should make Close idempotent.
	Close() error
}

// CursorStore persists subscriber cursors so that at-least-once subscribers
// resume where they left off across restarts.
type CursorStore interface {
	// LoadCursor returns the stored cursor for a subscriber and whether
	// one exists.
	LoadCursor(ctx context.Context, subscriberID string) (uint64, bool, error)

	// SaveCursor stores the cursor for a subscriber, overwriting any
	// previous value.
	SaveCursor(ctx context.Context, subscriberID string, sequence uint64) error

	// DeleteCursor removes the stored cursor. Deleting an unknown
	// subscriber is a no-op.
	DeleteCursor(ctx context.Context, subscriberID string) error
}
