package eventlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a typed domain event describing a fact that has happened to an
// aggregate. Implementations are expected to be immutable value types.
type Event interface {
	AggregateID() string
	EventType() string
}

// Envelope wraps an Event with the bookkeeping fields owned by the log.
//
// Sequence is assigned by the Store at append time and defines the total
// order of the log. It is contiguous starting at 1: no gaps, no duplicates.
// OccurredAt is producer-supplied wall-clock time and is never used for
// ordering.
//
// Payload holds the codec-encoded form of Event. Backends persist only the
// envelope fields plus Payload; Event is re-materialized on read through the
// event registry and the configured codec, and may be nil for event types
// the reader has not registered.
type Envelope struct {
	EventID     uuid.UUID
	Sequence    uint64
	Type        string
	AggregateID string
	Payload     []byte
	Metadata    map[string]any
	Event       Event
	OccurredAt  time.Time
}

// TypeName returns the default type tag for an event, derived from its
// dynamic Go type with any pointer marker stripped.
func TypeName(ev Event) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", ev), "*")
}
