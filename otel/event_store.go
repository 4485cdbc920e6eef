package otel

import (
	"context"
	"time"

	"github.com/streamhaus/eventlog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var _ eventlog.Store = (*TelemetryStore)(nil)

// TelemetryStore decorates a Store with spans and metrics. Wrap the backend
// before handing it to eventlog.New:
//
//	log := eventlog.New(otel.WithStoreTelemetry(store))
type TelemetryStore struct {
	next eventlog.Store
}

// WithStoreTelemetry wraps a Store with OpenTelemetry instrumentation.
func WithStoreTelemetry(next eventlog.Store) *TelemetryStore {
	return &TelemetryStore{next: next}
}

func (t *TelemetryStore) Append(ctx context.Context, envelopes ...*eventlog.Envelope) (uint64, error) {
	ctx, span := tracer.Start(ctx, "Store.Append",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("append"),
			AttrEventCount.Int(len(envelopes)),
		),
	)
	defer span.End()

	start := time.Now()
	seq, err := t.next.Append(ctx, envelopes...)
	duration := time.Since(start)

	StoreDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(AttrOperation.String("append")),
	)

	if err != nil {
		StoreErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("append")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return seq, err
	}

	EventsAppended.Add(ctx, int64(len(envelopes)))
	span.SetAttributes(AttrSequence.Int64(int64(seq)))
	return seq, nil
}

func (t *TelemetryStore) ReadFrom(ctx context.Context, from uint64, limit int) ([]*eventlog.Envelope, error) {
	ctx, span := tracer.Start(ctx, "Store.ReadFrom",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("read_from"),
			AttrSequence.Int64(int64(from)),
		),
	)
	defer span.End()

	start := time.Now()
	events, err := t.next.ReadFrom(ctx, from, limit)
	duration := time.Since(start)

	StoreDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(AttrOperation.String("read_from")),
	)

	if err != nil {
		StoreErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("read_from")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	EventsRead.Add(ctx, int64(len(events)))
	span.SetAttributes(AttrEventCount.Int(len(events)))
	return events, nil
}

func (t *TelemetryStore) ReadForAggregate(ctx context.Context, aggregateID string) (*eventlog.Iterator[*eventlog.Envelope], error) {
	ctx, span := tracer.Start(ctx, "Store.ReadForAggregate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("read_for_aggregate"),
			AttrAggregateID.String(aggregateID),
		),
	)
	defer span.End()

	it, err := t.next.ReadForAggregate(ctx, aggregateID)
	if err != nil {
		StoreErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("read_for_aggregate")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return it, err
}

func (t *TelemetryStore) LatestSequence(ctx context.Context) (uint64, error) {
	return t.next.LatestSequence(ctx)
}

func (t *TelemetryStore) Close() error {
	return t.next.Close()
}
