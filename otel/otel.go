// Package otel instruments a Log's store and handlers with OpenTelemetry
// traces and metrics. Everything here is a passive decorator; wiring it (or
// not) never changes delivery behavior.
package otel

import (
	"github.com/streamhaus/eventlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/streamhaus/eventlog"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	AttrOperation = attribute.Key("eventlog.operation")

	// Event attributes
	AttrEventType   = attribute.Key("eventlog.event.type")
	AttrEventID     = attribute.Key("eventlog.event.id")
	AttrEventCount  = attribute.Key("eventlog.events.count")
	AttrSequence    = attribute.Key("eventlog.event.sequence")
	AttrAggregateID = attribute.Key("eventlog.aggregate.id")

	// Subscription attributes
	AttrSubscriberID = attribute.Key("eventlog.subscriber.id")
	AttrDeliveryMode = attribute.Key("eventlog.subscriber.mode")

	// Error attributes
	AttrErrorType = attribute.Key("eventlog.error.type")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(eventlog.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(eventlog.InstrumentationVersion))

	// Store metrics
	EventsAppended, _ = meter.Int64Counter(
		"eventlog.events.appended",
		metric.WithDescription("Number of events appended to the log"),
		metric.WithUnit("{event}"),
	)

	EventsRead, _ = meter.Int64Counter(
		"eventlog.events.read",
		metric.WithDescription("Number of events read from the log"),
		metric.WithUnit("{event}"),
	)

	StoreErrors, _ = meter.Int64Counter(
		"eventlog.store.errors",
		metric.WithDescription("Number of failed store operations"),
		metric.WithUnit("{error}"),
	)

	StoreDuration, _ = meter.Float64Histogram(
		"eventlog.store.duration",
		metric.WithDescription("Store operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	// Delivery metrics
	EventsDelivered, _ = meter.Int64Counter(
		"eventlog.events.delivered",
		metric.WithDescription("Number of events delivered to handlers"),
		metric.WithUnit("{event}"),
	)

	HandlerErrors, _ = meter.Int64Counter(
		"eventlog.handler.errors",
		metric.WithDescription("Number of handler failures"),
		metric.WithUnit("{error}"),
	)

	HandlerDuration, _ = meter.Float64Histogram(
		"eventlog.handler.duration",
		metric.WithDescription("Handler execution duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
)
