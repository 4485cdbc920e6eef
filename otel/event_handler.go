package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/streamhaus/eventlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WithHandlerTelemetry wraps a handler so every delivery records a span and
// duration, attributed to the subscription it ran under.
func WithHandlerTelemetry(next eventlog.Handler) eventlog.Handler {
	return eventlog.NewHandlerFunc(func(ctx context.Context, env *eventlog.Envelope) error {
		attr := []attribute.KeyValue{
			AttrEventType.String(env.Type),
			AttrEventID.String(env.EventID.String()),
			AttrSequence.Int64(int64(env.Sequence)),
			AttrAggregateID.String(env.AggregateID),
			AttrSubscriberID.String(eventlog.SubscriberIDFromContext(ctx)),
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("events.handle %s", env.Type),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		startTime := time.Now()
		err := next.Handle(ctx, env)
		HandlerDuration.Record(ctx,
			float64(time.Since(startTime).Milliseconds()),
			metric.WithAttributes(AttrEventType.String(env.Type)),
		)

		if err != nil {
			var skipped *eventlog.ErrSkippedEvent
			if errors.As(err, &skipped) {
				span.SetStatus(codes.Ok, "event skipped")
				return err
			}
			HandlerErrors.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(env.Type)))
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			return err
		}

		EventsDelivered.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(env.Type)))
		span.SetStatus(codes.Ok, "")
		return nil
	})
}
