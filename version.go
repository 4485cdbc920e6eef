package eventlog

// InstrumentationVersion is reported alongside telemetry emitted by the
// otel subpackage.
const InstrumentationVersion = "0.1.0"
