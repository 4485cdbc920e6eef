package eventlog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/streamhaus/eventlog"
)

type totalsByAggregate struct {
	AggregateID string
}

func (totalsByAggregate) QueryName() string { return "totals-by-aggregate" }

func TestQueryGateway(t *testing.T) {
	bus := eventlog.NewQueryBus()
	eventlog.RegisterQueryHandler(bus, eventlog.NewQueryHandlerFunc(
		func(ctx context.Context, q totalsByAggregate) (int, error) {
			if q.AggregateID == "o-1" {
				return 3, nil
			}
			return 0, nil
		}))

	gateway := eventlog.NewQueryGateway[totalsByAggregate, int](bus)

	got, err := gateway.HandleQuery(context.Background(), totalsByAggregate{AggregateID: "o-1"})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}
	if got != 3 {
		t.Errorf("result = %d, want 3", got)
	}

	got, err = gateway.HandleQuery(context.Background(), totalsByAggregate{AggregateID: "o-2"})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}
	if got != 0 {
		t.Errorf("result = %d, want 0", got)
	}
}

func TestQueryGatewayHandlerNotFound(t *testing.T) {
	bus := eventlog.NewQueryBus()
	gateway := eventlog.NewQueryGateway[totalsByAggregate, int](bus)

	_, err := gateway.HandleQuery(context.Background(), totalsByAggregate{})
	if !errors.Is(err, eventlog.ErrQueryHandlerNotFound) {
		t.Fatalf("err = %v, want ErrQueryHandlerNotFound", err)
	}
}

func TestQueryGatewayServesProjectionState(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	p, err := eventlog.NewProjection(ctx, l, "totals", newTotals, foldTotals)
	if err != nil {
		t.Fatalf("new projection: %v", err)
	}

	bus := eventlog.NewQueryBus()
	eventlog.RegisterQueryHandler(bus, eventlog.NewQueryHandlerFunc(
		func(ctx context.Context, q totalsByAggregate) (orderTotals, error) {
			return p.State(), nil
		}))
	gateway := eventlog.NewQueryGateway[totalsByAggregate, orderTotals](bus)

	if _, err := l.Append(ctx, &orderPlaced{ID: "o-1"}, &orderShipped{ID: "o-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	waitForProjection(t, p, 2)

	got, err := gateway.HandleQuery(ctx, totalsByAggregate{AggregateID: "o-1"})
	if err != nil {
		t.Fatalf("handle query: %v", err)
	}
	if got.Placed != 1 || got.Shipped != 1 {
		t.Errorf("queried state = %+v, want one placed and one shipped", got)
	}
}
