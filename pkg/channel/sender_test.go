package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/itsneelabh/insights/pkg/core"
)

func newTestSender(t *testing.T, mutate func(*core.Config)) (*Sender, *tracetest.InMemoryExporter, *core.Pipeline) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	s := New(WithSpanExporter(exp))

	cfg := core.DefaultConfig()
	cfg.InstrumentationKey = "ikey"
	cfg.MaxBatchInterval = 60 * 60 * 1000
	if mutate != nil {
		mutate(cfg)
	}

	p := core.NewPipeline(nil)
	require.NoError(t, p.Initialize(cfg, []core.Plugin{s}))
	return s, exp, p
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSenderSynchronousFlush(t *testing.T) {
	s, exp, p := newTestSender(t, nil)

	env := core.NewEnvelope(core.BaseTypeEvent, "checkout")
	env.Tags[core.TagSessionID] = "sess"
	env.Properties["cart"] = "3 items"
	env.Measurements["total"] = 42.5
	p.Track(env)

	assert.Equal(t, 1, s.Pending())
	assert.Empty(t, exp.GetSpans())

	s.Flush(false)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "checkout", spans[0].Name)

	v, ok := attrValue(spans[0].Attributes, core.TagSessionID)
	require.True(t, ok)
	assert.Equal(t, "sess", v.AsString())
	v, ok = attrValue(spans[0].Attributes, "insights.property.cart")
	require.True(t, ok)
	assert.Equal(t, "3 items", v.AsString())
	v, ok = attrValue(spans[0].Attributes, "insights.measurement.total")
	require.True(t, ok)
	assert.Equal(t, 42.5, v.AsFloat64())
	v, ok = attrValue(spans[0].Attributes, "insights.ikey")
	require.True(t, ok)
	assert.Equal(t, "ikey", v.AsString())

	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 1, s.Sent())
}

func TestSenderAsyncFlush(t *testing.T) {
	s, exp, p := newTestSender(t, nil)

	p.Track(core.NewEnvelope(core.BaseTypeTrace, "hello"))
	s.Flush(true)

	assert.Eventually(t, func() bool { return len(exp.GetSpans()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSenderFlushesOnInterval(t *testing.T) {
	_, exp, p := newTestSender(t, func(c *core.Config) { c.MaxBatchInterval = 10 })

	p.Track(core.NewEnvelope(core.BaseTypeEvent, "tick"))

	assert.Eventually(t, func() bool { return len(exp.GetSpans()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSenderFlushesFullBatch(t *testing.T) {
	_, exp, p := newTestSender(t, func(c *core.Config) { c.MaxBatchSizeInBytes = 1 })

	p.Track(core.NewEnvelope(core.BaseTypeEvent, "big"))

	assert.Eventually(t, func() bool { return len(exp.GetSpans()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSenderDisableTelemetry(t *testing.T) {
	s, exp, p := newTestSender(t, func(c *core.Config) { c.DisableTelemetry = true })

	p.Track(core.NewEnvelope(core.BaseTypeEvent, "ignored"))
	s.Flush(false)

	assert.Empty(t, exp.GetSpans())
	assert.Equal(t, 1, s.Dropped())
}

func TestSenderDependencySpan(t *testing.T) {
	s, exp, p := newTestSender(t, nil)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := core.NewEnvelope(core.BaseTypeDependency, "GET /api")
	env.Time = start
	env.BaseData["duration"] = 250 * time.Millisecond
	env.BaseData["success"] = false
	env.BaseData["resultCode"] = 503
	p.Track(env)
	s.Flush(false)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, start, spans[0].StartTime.UTC())
	assert.Equal(t, start.Add(250*time.Millisecond), spans[0].EndTime.UTC())
	assert.Equal(t, codes.Error, spans[0].Status.Code)

	v, ok := attrValue(spans[0].Attributes, "insights.data.duration")
	require.True(t, ok)
	assert.Equal(t, 250.0, v.AsFloat64())
	v, ok = attrValue(spans[0].Attributes, "insights.data.resultCode")
	require.True(t, ok)
	assert.Equal(t, int64(503), v.AsInt64())
}

func TestSenderTeardownFlush(t *testing.T) {
	s, exp, p := newTestSender(t, nil)

	p.Track(core.NewEnvelope(core.BaseTypeEvent, "a"))
	s.Flush(true)
	p.Track(core.NewEnvelope(core.BaseTypeEvent, "b"))

	s.OnTeardownFlush()

	assert.Len(t, exp.GetSpans(), 2, "teardown flush waits for in-flight exports")
	assert.Equal(t, 2, s.Sent())

	_, ok := core.TeardownCapable(s)
	assert.True(t, ok)
}

func TestSenderShutdown(t *testing.T) {
	s, exp, p := newTestSender(t, nil)

	p.Track(core.NewEnvelope(core.BaseTypeEvent, "last"))
	// The in-memory exporter clears its spans on shutdown, so count exports instead.
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 1, s.Sent())
	assert.Empty(t, exp.GetSpans())

	p.Track(core.NewEnvelope(core.BaseTypeEvent, "too late"))
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 1, s.Dropped())
}

func TestSenderBeforeInitialize(t *testing.T) {
	s := New()
	assert.Equal(t, Identifier, s.Identifier())
	assert.NotPanics(t, func() {
		s.Send(core.NewEnvelope(core.BaseTypeEvent, "early"))
		s.Flush(false)
		s.OnTeardownFlush()
	})
	assert.Equal(t, 1, s.Dropped())
}

func TestSenderUnknownExporter(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.InstrumentationKey = "ikey"
	cfg.Exporter = "stdout"

	s := New()
	err := s.Initialize(cfg, core.NewPipeline(nil))
	require.NoError(t, err)

	cfg2 := core.DefaultConfig()
	cfg2.Exporter = "carrier-pigeon"
	err = New().Initialize(cfg2, core.NewPipeline(nil))
	var fe *core.FrameworkError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, Identifier, fe.ID)
}

// stalledExporter blocks every export until released.
type stalledExporter struct {
	release chan struct{}
}

func (e *stalledExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	<-e.release
	return nil
}

func (e *stalledExporter) Shutdown(context.Context) error { return nil }

func TestSenderTeardownFlushTimesOut(t *testing.T) {
	exp := &stalledExporter{release: make(chan struct{})}
	s := New(WithSpanExporter(exp), WithTeardownTimeout(20*time.Millisecond))

	cfg := core.DefaultConfig()
	cfg.InstrumentationKey = "ikey"
	cfg.MaxBatchInterval = 60 * 60 * 1000
	p := core.NewPipeline(nil)
	require.NoError(t, p.Initialize(cfg, []core.Plugin{s}))

	p.Track(core.NewEnvelope(core.BaseTypeEvent, "stuck"))
	s.Flush(true)
	require.Equal(t, 1, s.InFlight())

	waiters := s.idleCh()
	for i := 0; i < 3; i++ {
		start := time.Now()
		s.OnTeardownFlush()
		assert.Less(t, time.Since(start), time.Second)
	}
	assert.Equal(t, 1, s.InFlight())
	assert.Equal(t, waiters, s.idleCh(), "repeated teardowns share one idle channel")

	close(exp.release)
	select {
	case <-waiters:
	case <-time.After(5 * time.Second):
		t.Fatal("idle channel not closed after the export finished")
	}
	assert.Zero(t, s.InFlight())
}

func TestSenderShutdownHonoursContext(t *testing.T) {
	exp := &stalledExporter{release: make(chan struct{})}
	defer close(exp.release)
	s := New(WithSpanExporter(exp))

	cfg := core.DefaultConfig()
	cfg.InstrumentationKey = "ikey"
	cfg.MaxBatchInterval = 60 * 60 * 1000
	p := core.NewPipeline(nil)
	require.NoError(t, p.Initialize(cfg, []core.Plugin{s}))

	p.Track(core.NewEnvelope(core.BaseTypeEvent, "stuck"))
	s.Flush(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
