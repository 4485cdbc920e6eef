package eventlog

import (
	"log/slog"
	"time"

	"github.com/streamhaus/eventlog/codec"
)

// Config holds the tunables of a Log. Build one through Options passed to
// New; the zero value is never used directly.
type Config struct {
	clock        Clock
	codec        codec.Codec
	logger       *slog.Logger
	cursors      CursorStore
	pollInterval time.Duration
	batchSize    int
	retry        RetryPolicy
	metrics      bool
}

// Option configures a Log.
type Option func(*Config)

func defaultConfig() *Config {
	return applyOptions(&Config{},
		WithClock(systemClock{}),
		WithCodec(codec.JSON),
		WithLogger(slog.Default()),
		WithCursorStore(NewMemoryCursorStore()),
		WithPollInterval(500*time.Millisecond),
		WithBatchSize(128),
		WithRetryPolicy(DefaultRetryPolicy()),
		WithMetrics(true),
	)
}

func applyOptions(cfg *Config, opts ...Option) *Config {
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithClock injects the clock used to stamp OccurredAt.
func WithClock(clock Clock) Option {
	return func(cfg *Config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithCodec sets the payload codec used to encode appended events and
// re-materialize them on delivery.
func WithCodec(c codec.Codec) Option {
	return func(cfg *Config) {
		if c != nil {
			cfg.codec = c
		}
	}
}

// WithLogger sets the structured logger used by the registry and
// dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *Config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithCursorStore sets where subscriber cursors are persisted. Defaults to
// an in-process store; pass a durable implementation (for example the
// sqlite backend) so at-least-once subscribers survive restarts.
func WithCursorStore(cursors CursorStore) Option {
	return func(cfg *Config) {
		if cursors != nil {
			cfg.cursors = cursors
		}
	}
}

// WithPollInterval bounds how long a caught-up pump sleeps before re-checking
// the log when no wake signal arrives. Must be positive.
func WithPollInterval(interval time.Duration) Option {
	return func(cfg *Config) {
		if interval > 0 {
			cfg.pollInterval = interval
		}
	}
}

// WithBatchSize bounds how many events a pump reads from the store at once.
func WithBatchSize(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.batchSize = n
		}
	}
}

// WithRetryPolicy sets the backoff applied to failing at-least-once
// deliveries.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(cfg *Config) {
		cfg.retry = p
	}
}

// WithMetrics toggles the in-process metrics collector.
func WithMetrics(enabled bool) Option {
	return func(cfg *Config) {
		cfg.metrics = enabled
	}
}

type subscribeConfig struct {
	filter     Filter
	mode       DeliveryMode
	start      uint64
	fromLatest bool
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscribeConfig)

// WithFilter restricts delivery to events matching the filter.
func WithFilter(f Filter) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.filter = f
	}
}

// WithEventTypes restricts delivery to the given event type tags.
func WithEventTypes(types ...string) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.filter.Types = types
	}
}

// WithAggregate restricts delivery to one aggregate.
func WithAggregate(aggregateID string) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.filter.AggregateID = aggregateID
	}
}

// WithMode sets the delivery mode. Defaults to AtLeastOnce.
func WithMode(mode DeliveryMode) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.mode = mode
	}
}

// StartAfter begins delivery after the given sequence. A persisted cursor
// ahead of it still wins, so a resuming subscriber never sees events twice
// across restarts.
func StartAfter(sequence uint64) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.start = sequence
		cfg.fromLatest = false
	}
}

// StartAtLatest begins delivery at the log's current high-water mark,
// skipping all history.
func StartAtLatest() SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.fromLatest = true
	}
}
