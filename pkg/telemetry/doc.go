// Package telemetry builds the OpenTelemetry plumbing behind the transmission
// channel.
//
// NewProvider returns a tracer provider whose exporter is chosen by name:
//
//   - "otlp": OTLP over gRPC to the configured endpoint (the connection
//     string's ingestion endpoint or OTEL_EXPORTER_OTLP_ENDPOINT), with the
//     instrumentation key sent as a header
//   - "stdout": pretty-printed spans on an io.Writer, for local development
//   - "none": spans are recorded but never exported
//
// A SpanExporter supplied in Config overrides the name; tests use
// tracetest.NewInMemoryExporter this way.
//
// Sampling follows OTEL_TRACES_SAMPLER=traceidratio and OTEL_TRACES_SAMPLER_ARG.
package telemetry
