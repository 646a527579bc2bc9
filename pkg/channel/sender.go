// Package channel is the transmission channel plugin. It buffers envelopes and
// exports them as OpenTelemetry spans, either when the batch is full, when the
// batch interval elapses, or when the SDK asks it to flush.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/telemetry"
)

// Identifier of the channel plugin.
const Identifier = "AppInsightsChannelPlugin"

const defaultTeardownTimeout = 5 * time.Second

// Sender is the default transmission channel.
type Sender struct {
	mu          sync.Mutex
	config      *core.Config
	diag        *core.DiagnosticLogger
	logger      core.Logger
	provider    *telemetry.Provider
	exporter    sdktrace.SpanExporter
	output      io.Writer
	buffer      []*core.Envelope
	bufferBytes int
	timer       *time.Timer
	sent        int
	dropped     int
	closed      bool

	// exports running on their own goroutine; idle is closed when the count
	// returns to zero
	inflight        int
	idle            chan struct{}
	teardownTimeout time.Duration
}

var (
	_ core.Channel         = (*Sender)(nil)
	_ core.TeardownFlusher = (*Sender)(nil)
)

// Option configures a Sender.
type Option func(*Sender)

// WithSpanExporter exports through exp instead of the configured exporter.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(s *Sender) {
		s.exporter = exp
	}
}

// WithLogger sets the console logger.
func WithLogger(logger core.Logger) Option {
	return func(s *Sender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOutput sets where the stdout exporter writes.
func WithOutput(w io.Writer) Option {
	return func(s *Sender) {
		s.output = w
	}
}

// WithTeardownTimeout bounds how long OnTeardownFlush may block.
func WithTeardownTimeout(d time.Duration) Option {
	return func(s *Sender) {
		s.teardownTimeout = d
	}
}

// New creates an uninitialized channel.
func New(opts ...Option) *Sender {
	s := &Sender{
		logger:          &core.NoOpLogger{},
		teardownTimeout: defaultTeardownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) Identifier() string { return Identifier }

// Initialize applies channel defaults and creates the export provider.
func (s *Sender) Initialize(config *core.Config, pipeline *core.Pipeline) error {
	if config.MaxBatchInterval <= 0 {
		config.MaxBatchInterval = core.DefaultMaxBatchInterval
	}
	if config.MaxBatchSizeInBytes <= 0 {
		config.MaxBatchSizeInBytes = core.DefaultMaxBatchSizeInBytes
	}

	provider, err := telemetry.NewProvider(context.Background(), telemetry.Config{
		ServiceName:        config.ServiceName,
		InstrumentationKey: config.InstrumentationKey,
		Exporter:           config.Exporter,
		Endpoint:           config.EndpointURL,
		SpanExporter:       s.exporter,
		Output:             s.output,
	})
	if err != nil {
		return &core.FrameworkError{
			Op:   "channel.Initialize",
			Kind: "plugin",
			ID:   Identifier,
			Err:  err,
		}
	}

	s.mu.Lock()
	s.config = config
	s.diag = pipeline.Logger()
	s.provider = provider
	s.mu.Unlock()

	s.logger.Debug("Channel initialized", map[string]interface{}{
		"exporter":           provider.Exporter(),
		"max_batch_bytes":    config.MaxBatchSizeInBytes,
		"max_batch_interval": config.MaxBatchInterval,
	})
	return nil
}

// Send buffers item. A full batch is flushed asynchronously; otherwise a
// flush is scheduled after maxBatchInterval.
func (s *Sender) Send(item *core.Envelope) {
	s.mu.Lock()
	if s.config == nil || s.closed {
		s.dropped++
		s.mu.Unlock()
		return
	}
	if s.config.DisableTelemetry {
		s.dropped++
		s.mu.Unlock()
		return
	}

	s.buffer = append(s.buffer, item)
	s.bufferBytes += envelopeSize(item)
	full := s.bufferBytes >= s.config.MaxBatchSizeInBytes
	if !full && s.timer == nil {
		interval := time.Duration(s.config.MaxBatchInterval) * time.Millisecond
		s.timer = time.AfterFunc(interval, func() { s.Flush(true) })
	}
	s.mu.Unlock()

	if full {
		s.Flush(true)
	}
}

// Flush transmits the buffer. With async the export runs on its own goroutine.
func (s *Sender) Flush(async bool) {
	batch := s.takeBatch()
	if len(batch) == 0 {
		return
	}
	if async {
		s.mu.Lock()
		s.inflight++
		s.mu.Unlock()
		go func() {
			defer s.exportDone()
			s.transmit(context.Background(), batch)
		}()
		return
	}
	s.transmit(context.Background(), batch)
}

// OnTeardownFlush transmits everything synchronously, including exports
// already in flight, bounded by the teardown timeout.
func (s *Sender) OnTeardownFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), s.teardownTimeout)
	defer cancel()

	s.transmit(ctx, s.takeBatch())

	select {
	case <-s.idleCh():
	case <-ctx.Done():
		s.logger.Warn("Teardown flush timed out", map[string]interface{}{
			"timeout": s.teardownTimeout.String(),
		})
	}
}

// Shutdown flushes and releases the export provider. The channel drops items
// sent afterwards.
func (s *Sender) Shutdown(ctx context.Context) error {
	s.transmit(ctx, s.takeBatch())

	var err error
	select {
	case <-s.idleCh():
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.mu.Lock()
	s.closed = true
	provider := s.provider
	s.mu.Unlock()

	if provider == nil {
		return err
	}
	return errors.Join(err, provider.Shutdown(ctx))
}

// idleCh returns a channel closed once no export is in flight. Waiters share
// it, so a wait abandoned on timeout leaves nothing behind.
func (s *Sender) idleCh() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle == nil {
		s.idle = make(chan struct{})
	}
	ch := s.idle
	if s.inflight == 0 {
		close(ch)
		s.idle = nil
	}
	return ch
}

func (s *Sender) exportDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

// InFlight returns the number of asynchronous exports still running.
func (s *Sender) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Pending returns the number of buffered items.
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Sent returns the number of items handed to the exporter.
func (s *Sender) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Dropped returns the number of items discarded without export.
func (s *Sender) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Sender) takeBatch() []*core.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	batch := s.buffer
	s.buffer = nil
	s.bufferBytes = 0
	return batch
}

func (s *Sender) transmit(ctx context.Context, batch []*core.Envelope) {
	s.mu.Lock()
	provider, diag := s.provider, s.diag
	s.mu.Unlock()
	if provider == nil || len(batch) == 0 {
		return
	}

	for _, env := range batch {
		exportSpan(provider.Tracer, env)
	}

	if err := provider.ForceFlush(ctx); err != nil {
		s.logger.Error("Failed to transmit telemetry", map[string]interface{}{
			"error": err.Error(),
			"items": len(batch),
		})
		if diag != nil {
			diag.ThrowInternal(core.SeverityCriticalInternal, core.MsgTransmissionFailed,
				"Failed to send telemetry.", map[string]string{"exception": err.Error()})
		}
		return
	}

	s.mu.Lock()
	s.sent += len(batch)
	s.mu.Unlock()
}

// exportSpan records env as an ended span. Its start is the item time; items
// with a duration end that much later.
func exportSpan(tracer trace.Tracer, env *core.Envelope) {
	name := env.BaseType
	if env.Name != "" {
		name = env.Name
	}

	attrs := []attribute.KeyValue{
		attribute.String("insights.base_type", env.BaseType),
		attribute.String("insights.ikey", env.IKey),
	}
	for k, v := range env.Tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	for k, v := range env.BaseData {
		attrs = append(attrs, toAttribute("insights.data."+k, v))
	}
	for k, v := range env.Properties {
		attrs = append(attrs, attribute.String("insights.property."+k, v))
	}
	for k, v := range env.Measurements {
		attrs = append(attrs, attribute.Float64("insights.measurement."+k, v))
	}

	start := env.Time
	if start.IsZero() {
		start = time.Now()
	}
	end := start
	if d, ok := env.BaseData["duration"].(time.Duration); ok && d > 0 {
		end = start.Add(d)
	}

	_, span := tracer.Start(context.Background(), name,
		trace.WithTimestamp(start),
		trace.WithAttributes(attrs...),
	)
	if success, ok := env.BaseData["success"].(bool); ok && !success {
		span.SetStatus(codes.Error, "dependency call failed")
	}
	span.End(trace.WithTimestamp(end))
}

func toAttribute(key string, v interface{}) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	case time.Duration:
		return attribute.Float64(key, float64(val)/float64(time.Millisecond))
	case core.SeverityLevel:
		return attribute.Int(key, int(val))
	default:
		return attribute.String(key, fmt.Sprint(val))
	}
}

// envelopeSize estimates the serialized size of an envelope for batching.
func envelopeSize(env *core.Envelope) int {
	data, err := json.Marshal(env)
	if err != nil {
		return len(env.Name) + len(env.BaseType)
	}
	return len(data)
}
