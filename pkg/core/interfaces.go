// Package core is the telemetry pipeline the bootstrap layer composes plugins into.
//
// A Pipeline owns an ordered set of plugins, routes telemetry items through the
// processing plugins in composition order and hands the result to every
// transmission channel. It also owns the SDK-internal DiagnosticLogger whose
// queued messages are periodically forwarded as trace telemetry.
package core

// Logger interface - minimal logging interface
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// Plugin is a unit composed into the pipeline. Initialize is invoked exactly once,
// by the pipeline, in composition order.
type Plugin interface {
	Identifier() string
	Initialize(config *Config, pipeline *Pipeline) error
}

// TelemetryProcessor is implemented by plugins that inspect or enrich items
// before transmission. Returning false drops the item.
type TelemetryProcessor interface {
	ProcessTelemetry(item *Envelope) bool
}

// Channel is a transmission channel. Flush with async=false asks the channel to
// transmit using its synchronous path; it never changes what the caller waits on.
type Channel interface {
	Plugin
	Send(item *Envelope)
	Flush(async bool)
}

// TeardownFlusher is the optional accelerated path a channel offers for page or
// process teardown.
type TeardownFlusher interface {
	OnTeardownFlush()
}

// TeardownCapable reports whether ch offers an accelerated teardown flush.
func TeardownCapable(ch Channel) (TeardownFlusher, bool) {
	tf, ok := ch.(TeardownFlusher)
	return tf, ok
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}
