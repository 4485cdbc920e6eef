package eventlog

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyBounds are the upper bounds of the append-latency histogram
// buckets, in milliseconds.
var latencyBounds = []time.Duration{
	1 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
	2500 * time.Millisecond,
	5000 * time.Millisecond,
}

// metricsState accumulates counters from store and dispatch activity. It is
// strictly passive: nothing reads it on the hot path, and a nil receiver is
// a no-op so instrumentation can be absent entirely.
type metricsState struct {
	appended        atomic.Uint64
	deliveredCount  atomic.Uint64
	handlerFailures atomic.Uint64
	degradedCount   atomic.Int64

	mu         sync.Mutex
	latCount   uint64
	latSum     time.Duration
	latMax     time.Duration
	latBuckets []uint64
}

func newMetricsState() *metricsState {
	return &metricsState{latBuckets: make([]uint64, len(latencyBounds)+1)}
}

func (m *metricsState) appendObserved(n int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.appended.Add(uint64(n))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.latCount++
	m.latSum += elapsed
	if elapsed > m.latMax {
		m.latMax = elapsed
	}
	for i, bound := range latencyBounds {
		if elapsed <= bound {
			m.latBuckets[i]++
			return
		}
	}
	m.latBuckets[len(latencyBounds)]++
}

func (m *metricsState) delivered() {
	if m == nil {
		return
	}
	m.deliveredCount.Add(1)
}

func (m *metricsState) handlerFailed() {
	if m == nil {
		return
	}
	m.handlerFailures.Add(1)
}

func (m *metricsState) subscriptionDegraded() {
	if m == nil {
		return
	}
	m.degradedCount.Add(1)
}

func (m *metricsState) subscriptionRecovered() {
	if m == nil {
		return
	}
	m.degradedCount.Add(-1)
}

func (m *metricsState) latencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := LatencySnapshot{
		Count:   m.latCount,
		Sum:     m.latSum,
		Max:     m.latMax,
		Buckets: make([]LatencyBucket, len(latencyBounds)+1),
	}
	for i, bound := range latencyBounds {
		snap.Buckets[i] = LatencyBucket{UpperBound: bound, Count: m.latBuckets[i]}
	}
	snap.Buckets[len(latencyBounds)] = LatencyBucket{UpperBound: 0, Count: m.latBuckets[len(latencyBounds)]}
	return snap
}

// Metrics is a read-only snapshot of store and dispatch activity.
type Metrics struct {
	EventsAppended  uint64
	EventsDelivered uint64
	HandlerFailures uint64
	LatestSequence  uint64
	AppendLatency   LatencySnapshot
	Subscriptions   []SubscriptionMetrics
}

// DegradedSubscriptions returns the ids of subscriptions currently stuck in
// capped retry, so operators can spot stuck consumers.
func (m Metrics) DegradedSubscriptions() []string {
	var out []string
	for _, sub := range m.Subscriptions {
		if sub.Degraded {
			out = append(out, sub.SubscriberID)
		}
	}
	return out
}

// SubscriptionMetrics describes one subscription's progress. Lag is the gap
// between the log's high-water mark and the subscription's cursor.
type SubscriptionMetrics struct {
	SubscriberID string
	Mode         DeliveryMode
	Cursor       uint64
	Lag          uint64
	Degraded     bool
}

// LatencySnapshot is a histogram of append latencies. The final bucket has
// UpperBound 0 and counts appends slower than every bound.
type LatencySnapshot struct {
	Count   uint64
	Sum     time.Duration
	Max     time.Duration
	Buckets []LatencyBucket
}

// LatencyBucket counts appends at or below UpperBound.
type LatencyBucket struct {
	UpperBound time.Duration
	Count      uint64
}
