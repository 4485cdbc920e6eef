package eventlog

import (
	"context"
	"errors"
	"fmt"
)

// ErrQueryHandlerNotFound is returned when no handler is registered for a
// query/result type pair.
var ErrQueryHandlerNotFound = errors.New("eventlog: query handler not found")

// Query marks a read-model query. Queries are served from projection state,
// never from the log itself, so serving them is cheap and concurrent with
// dispatch.
type Query interface {
	QueryName() string
}

// QueryHandler handles a specific query type T producing a result of type
// R.
type QueryHandler[T Query, R any] interface {
	HandleQuery(ctx context.Context, qry T) (R, error)
}

type queryHandlerFunc[T Query, R any] func(ctx context.Context, qry T) (R, error)

func (f queryHandlerFunc[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	return f(ctx, qry)
}

// NewQueryHandlerFunc creates a QueryHandler from a function. The common
// case is closing over a projection:
//
//	RegisterQueryHandler(bus, NewQueryHandlerFunc(
//	    func(ctx context.Context, q OrderTotals) (map[string]int, error) {
//	        return totals.State(), nil
//	    }))
func NewQueryHandlerFunc[T Query, R any](fn func(ctx context.Context, qry T) (R, error)) QueryHandler[T, R] {
	return queryHandlerFunc[T, R](fn)
}

// QueryBus is a registry of query handlers keyed by their query and result
// types. Register handlers at wiring time, then execute through a typed
// QueryGateway.
type QueryBus struct {
	handlers map[string]any
}

// NewQueryBus creates an empty QueryBus.
func NewQueryBus() *QueryBus {
	return &QueryBus{handlers: make(map[string]any)}
}

func queryKey[T Query, R any]() string {
	return fmt.Sprintf("%T|%T", *new(T), *new(R))
}

// RegisterQueryHandler registers a handler for the query type T with the
// result type R.
func RegisterQueryHandler[T Query, R any](bus *QueryBus, handler QueryHandler[T, R]) {
	bus.handlers[queryKey[T, R]()] = handler
}

// QueryGateway provides a typed interface for executing queries registered
// on a QueryBus. It implements QueryHandler[T,R] itself, so it can be used
// wherever a handler is expected.
type QueryGateway[T Query, R any] struct {
	bus *QueryBus
}

// NewQueryGateway creates a typed gateway for one query type backed by a
// QueryBus.
func NewQueryGateway[T Query, R any](bus *QueryBus) QueryGateway[T, R] {
	return QueryGateway[T, R]{bus: bus}
}

// HandleQuery executes the registered handler for the query. Returns
// ErrQueryHandlerNotFound (wrapped) when none is registered.
func (g QueryGateway[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	var zero R

	h, ok := g.bus.handlers[queryKey[T, R]()]
	if !ok {
		return zero, fmt.Errorf("no handler for query %T -> %T: %w", qry, zero, ErrQueryHandlerNotFound)
	}

	handler, ok := h.(QueryHandler[T, R])
	if !ok {
		return zero, fmt.Errorf("handler type mismatch for query %T -> %T", qry, zero)
	}

	return handler.HandleQuery(ctx, qry)
}
