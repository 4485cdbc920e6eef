package logging

import (
	"context"
	"log/slog"

	"github.com/streamhaus/eventlog"
)

// WithMiddleware wraps a handler so every delivery is logged with the
// envelope fields the dispatcher placed in the context.
func WithMiddleware(logger *slog.Logger, next eventlog.Handler) eventlog.Handler {
	return eventlog.NewHandlerFunc(func(ctx context.Context, env *eventlog.Envelope) error {
		l := logger.With(
			"subscriber", eventlog.SubscriberIDFromContext(ctx),
			"event-id", eventlog.EventIDFromContext(ctx),
			"sequence", eventlog.SequenceFromContext(ctx),
			"type", eventlog.EventTypeFromContext(ctx),
			"aggregate-id", eventlog.AggregateIDFromContext(ctx),
		)

		l.DebugContext(ctx, "event processing started")

		err := next.Handle(ctx, env)

		if err != nil {
			l.ErrorContext(ctx, "error processing event", "error", err)
		} else {
			l.DebugContext(ctx, "event processed successfully")
		}

		return err
	})
}
