package eventlog

import (
	"context"
	"sort"
)

// Handler consumes one delivered event and reports success or failure.
// The dispatcher interprets the error according to the subscription's
// delivery mode.
type Handler interface {
	Handle(ctx context.Context, envelope *Envelope) error
}

// NewHandlerFunc wraps a plain function as a Handler.
func NewHandlerFunc(fn func(ctx context.Context, envelope *Envelope) error) Handler {
	return handlerFunc(fn)
}

type handlerFunc func(ctx context.Context, envelope *Envelope) error

func (h handlerFunc) Handle(ctx context.Context, envelope *Envelope) error {
	return h(ctx, envelope)
}

// typedHandler is a strongly typed handler for a specific Event type T.
type typedHandler[T Event] func(ctx context.Context, envelope *Envelope, ev T) error

// EventName returns the type tag of T. It is used by GroupProcessor for
// routing.
func (h typedHandler[T]) EventName() string {
	var zero T
	return zero.EventType()
}

// Handle processes the envelope if its decoded event matches T, and
// returns *ErrSkippedEvent otherwise.
func (h typedHandler[T]) Handle(ctx context.Context, envelope *Envelope) error {
	ev, ok := envelope.Event.(T)
	if !ok {
		return &ErrSkippedEvent{Event: envelope.Event}
	}
	return h(ctx, envelope, ev)
}

// OnEvent creates a strongly typed Handler for a specific event type.
//
// The returned handler only accepts envelopes whose decoded event is of
// type T; anything else yields *ErrSkippedEvent. Combined with a
// GroupProcessor this gives type-safe routing without an inheritance
// hierarchy:
//
//	group := NewGroupProcessor(
//	    OnEvent(func(ctx context.Context, env *Envelope, ev OrderPlaced) error {
//	        ...
//	        return nil
//	    }),
//	)
func OnEvent[T Event](fn func(ctx context.Context, envelope *Envelope, ev T) error) Handler {
	return typedHandler[T](fn)
}

// GroupProcessor routes incoming events to the correct typed handler based
// on their type tag. It is itself a Handler and can back a subscription
// directly.
type GroupProcessor struct {
	handlers map[string]Handler
}

// NewGroupProcessor builds a GroupProcessor from typed handlers created via
// OnEvent. Panics if a handler does not expose EventName() or if two
// handlers claim the same event type.
func NewGroupProcessor(handlers ...Handler) *GroupProcessor {
	m := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		u, ok := h.(interface{ EventName() string })
		if !ok {
			panic("eventlog: group handler does not expose EventName()")
		}

		name := u.EventName()
		if _, exists := m[name]; exists {
			panic("eventlog: duplicate handler for event " + name)
		}
		m[name] = h
	}

	return &GroupProcessor{handlers: m}
}

// Handle routes the envelope by its Type tag. Returns *ErrSkippedEvent if
// no handler is registered for it.
func (p *GroupProcessor) Handle(ctx context.Context, envelope *Envelope) error {
	h, ok := p.handlers[envelope.Type]
	if !ok {
		return &ErrSkippedEvent{Event: envelope.Event}
	}
	return h.Handle(ctx, envelope)
}

// EventTypes returns the sorted list of event types handled by this group,
// usable as a subscription filter.
func (p *GroupProcessor) EventTypes() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
