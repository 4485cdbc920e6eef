package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

const (
	subscriberIDKey ctxKey = "subscriberID"
	eventIDKey      ctxKey = "eventID"
	sequenceKey     ctxKey = "sequence"
	aggregateIDKey  ctxKey = "aggregateID"
	eventTypeKey    ctxKey = "eventType"
	occurredAtKey   ctxKey = "occurredAt"
	metadataKey     ctxKey = "metadata"
)

// WithEnvelope adds the envelope fields of a delivery to the context, so
// middleware and handlers can observe them without threading the envelope
// explicitly.
func WithEnvelope(ctx context.Context, env *Envelope) context.Context {
	ctx = context.WithValue(ctx, eventIDKey, env.EventID)
	ctx = context.WithValue(ctx, sequenceKey, env.Sequence)
	ctx = context.WithValue(ctx, aggregateIDKey, env.AggregateID)
	ctx = context.WithValue(ctx, eventTypeKey, env.Type)
	ctx = context.WithValue(ctx, occurredAtKey, env.OccurredAt)
	ctx = context.WithValue(ctx, metadataKey, env.Metadata)
	return ctx
}

// WithSubscriberID tags the context with the subscription a delivery
// belongs to.
func WithSubscriberID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, subscriberIDKey, id)
}

// SubscriberIDFromContext returns the subscriber id or "" if not present.
func SubscriberIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(subscriberIDKey).(string); ok {
		return s
	}
	return ""
}

// EventIDFromContext returns the event id or uuid.Nil if not present.
func EventIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(eventIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// SequenceFromContext returns the sequence or 0 if not present.
func SequenceFromContext(ctx context.Context) uint64 {
	if seq, ok := ctx.Value(sequenceKey).(uint64); ok {
		return seq
	}
	return 0
}

// AggregateIDFromContext returns the aggregate id or "" if not present.
func AggregateIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(aggregateIDKey).(string); ok {
		return s
	}
	return ""
}

// EventTypeFromContext returns the event type tag or "" if not present.
func EventTypeFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(eventTypeKey).(string); ok {
		return s
	}
	return ""
}

// OccurredAtFromContext returns the event time or the zero time if not
// present.
func OccurredAtFromContext(ctx context.Context) time.Time {
	if t, ok := ctx.Value(occurredAtKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// MetadataFromContext returns the event metadata or nil if not present.
func MetadataFromContext(ctx context.Context) map[string]any {
	if md, ok := ctx.Value(metadataKey).(map[string]any); ok {
		return md
	}
	return nil
}
