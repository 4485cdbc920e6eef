package eventlog

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed Log or Store.
	ErrClosed = errors.New("eventlog: closed")

	// ErrUnknownSubscriber is returned when an operation names a subscriber
	// id that is not registered.
	ErrUnknownSubscriber = errors.New("eventlog: unknown subscriber")
)

// StoreUnavailableError reports that the durable backend could not complete
// an append. The append did not happen; the producer must retry.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("eventlog: store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// WrapStoreUnavailable wraps a backend error as a StoreUnavailableError.
// Returns nil for a nil error.
func WrapStoreUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return &StoreUnavailableError{Err: err}
}

// DuplicateSubscriberError reports a Subscribe call reusing an id that is
// already active.
type DuplicateSubscriberError struct {
	SubscriberID string
}

func (e *DuplicateSubscriberError) Error() string {
	return fmt.Sprintf("eventlog: subscriber %q already registered", e.SubscriberID)
}

// OutOfOrderAckError reports an acknowledgment for a sequence behind the
// subscriber's current cursor. Stale acks are expected under at-least-once
// redelivery races; callers log and ignore them.
type OutOfOrderAckError struct {
	SubscriberID string
	Cursor       uint64
	Sequence     uint64
}

func (e *OutOfOrderAckError) Error() string {
	return fmt.Sprintf("eventlog: stale ack for %q: sequence %d behind cursor %d",
		e.SubscriberID, e.Sequence, e.Cursor)
}

// ErrSkippedEvent is returned by a typed handler that cannot handle the
// delivered event type.
type ErrSkippedEvent struct {
	Event Event
}

func (e *ErrSkippedEvent) Error() string {
	return fmt.Sprintf("eventlog: skipped event of type %T", e.Event)
}

// ProjectionRebuildError reports a failed Rebuild. The projection's prior
// state and cursor are untouched.
type ProjectionRebuildError struct {
	SubscriberID string
	Sequence     uint64
	Err          error
}

func (e *ProjectionRebuildError) Error() string {
	return fmt.Sprintf("eventlog: rebuild of %q failed at sequence %d: %v",
		e.SubscriberID, e.Sequence, e.Err)
}

func (e *ProjectionRebuildError) Unwrap() error { return e.Err }
