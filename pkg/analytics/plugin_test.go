package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/itsneelabh/insights/pkg/core"
)

type captureChannel struct {
	mu    sync.Mutex
	items []*core.Envelope
}

func (c *captureChannel) Identifier() string                            { return "capture" }
func (c *captureChannel) Initialize(*core.Config, *core.Pipeline) error { return nil }
func (c *captureChannel) Flush(bool)                                    {}
func (c *captureChannel) Send(item *core.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}
func (c *captureChannel) Items() []*core.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*core.Envelope(nil), c.items...)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T, mutate func(*core.Config), opts ...Option) (*Plugin, *captureChannel, *core.Pipeline) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.InstrumentationKey = "ikey"
	cfg.LoggingLevelTelemetry = 2
	if mutate != nil {
		mutate(cfg)
	}
	ch := &captureChannel{}
	p := New(opts...)
	pipeline := core.NewPipeline(nil)
	require.NoError(t, pipeline.Initialize(cfg, []core.Plugin{ch, p}))
	return p, ch, pipeline
}

func messageIDs(pipeline *core.Pipeline) []core.MessageID {
	var ids []core.MessageID
	for _, m := range pipeline.Logger().History() {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestTrackCalls(t *testing.T) {
	p, ch, _ := setup(t, nil)

	p.TrackEvent(core.EventTelemetry{Name: "checkout", Properties: map[string]string{"cart": "3"}})
	p.TrackPageView(core.PageViewTelemetry{URI: "https://shop.example/cart"})
	p.TrackPageViewPerformance(core.PageViewPerformanceTelemetry{Name: "cart", PerfTotal: 120 * time.Millisecond})
	p.TrackException(core.ExceptionTelemetry{Err: errors.New("boom"), SeverityLevel: core.SeverityError})
	p.TrackTrace(core.TraceTelemetry{Message: "hello", SeverityLevel: core.SeverityInformation})

	items := ch.Items()
	require.Len(t, items, 5)

	assert.Equal(t, core.BaseTypeEvent, items[0].BaseType)
	assert.Equal(t, "checkout", items[0].Name)
	assert.Equal(t, "3", items[0].Properties["cart"])

	assert.Equal(t, core.BaseTypePageView, items[1].BaseType)
	assert.Equal(t, "https://shop.example/cart", items[1].Name, "uri names unnamed page views")

	assert.Equal(t, 120*time.Millisecond, items[2].BaseData["duration"])

	assert.Equal(t, core.BaseTypeException, items[3].BaseType)
	assert.Equal(t, "boom", items[3].BaseData["message"])
	assert.Equal(t, "*errors.errorString", items[3].BaseData["typeName"])

	assert.Equal(t, core.BaseTypeTrace, items[4].BaseType)
	assert.Equal(t, "hello", items[4].BaseData["message"])
}

func TestTrackExceptionWithoutError(t *testing.T) {
	p, ch, pipeline := setup(t, nil)
	p.TrackException(core.ExceptionTelemetry{})
	assert.Empty(t, ch.Items())
	assert.Contains(t, messageIDs(pipeline), core.MsgTrackExceptionFailed)
}

func TestNameSanitizing(t *testing.T) {
	p, ch, pipeline := setup(t, nil)

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	p.TrackEvent(core.EventTelemetry{Name: "  " + string(long) + " "})
	p.TrackEvent(core.EventTelemetry{Name: "bad\x00name"})

	items := ch.Items()
	require.Len(t, items, 2)
	assert.Len(t, items[0].Name, maxNameLength)
	assert.Equal(t, "badname", items[1].Name)
	assert.Contains(t, messageIDs(pipeline), core.MsgIllegalCharsInName)
}

func TestTrackMetricRecordsHistogram(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	p, ch, _ := setup(t, nil, WithMeterProvider(mp))
	p.TrackMetric(core.MetricTelemetry{Name: "queue depth", Average: 3})
	p.TrackMetric(core.MetricTelemetry{Name: "queue depth", Average: 5, SampleCount: 4, Min: 1, Max: 9})

	items := ch.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].BaseData["sampleCount"])
	assert.Equal(t, 3.0, items[0].BaseData["min"])
	assert.Equal(t, 3.0, items[0].BaseData["max"])
	assert.Equal(t, 4, items[1].BaseData["sampleCount"])
	assert.Equal(t, 9.0, items[1].BaseData["max"])

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	m := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, "custom.queue_depth", m.Name)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, 8.0, hist.DataPoints[0].Sum)
}

func TestTimedPagesAndEvents(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	p, ch, pipeline := setup(t, nil, WithClock(clock.now))

	p.StartTrackPage("home")
	p.StartTrackPage("home")
	clock.advance(2 * time.Second)
	p.StopTrackPage("home", "https://shop.example/", nil, nil)
	p.StopTrackPage("home", "", nil, nil)

	p.StartTrackEvent("search")
	p.StartTrackEvent("search")
	clock.advance(250 * time.Millisecond)
	p.StopTrackEvent("search", map[string]string{"q": "shoes"}, nil)
	p.StopTrackEvent("search", nil, nil)

	items := ch.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 2*time.Second, items[0].BaseData["duration"])
	assert.Equal(t, "https://shop.example/", items[0].BaseData["uri"])
	assert.Equal(t, 250.0, items[1].Measurements["duration"])
	assert.Equal(t, "shoes", items[1].Properties["q"])

	ids := messageIDs(pipeline)
	assert.Contains(t, ids, core.MsgStartTrackFailed)
	assert.Contains(t, ids, core.MsgStopTrackFailed)
	assert.Contains(t, ids, core.MsgStartTrackEventFailed)
	assert.Contains(t, ids, core.MsgStopTrackEventFailed)
}

func TestTelemetryInitializers(t *testing.T) {
	p, ch, pipeline := setup(t, nil)

	p.AddTelemetryInitializer(func(item *core.Envelope) bool {
		item.Properties["env"] = "test"
		return true
	})
	p.AddTelemetryInitializer(func(item *core.Envelope) bool {
		return item.Name != "secret"
	})
	p.AddTelemetryInitializer(func(item *core.Envelope) bool {
		if item.Name == "explode" {
			panic("initializer bug")
		}
		return true
	})
	p.AddTelemetryInitializer(nil)

	p.TrackEvent(core.EventTelemetry{Name: "visible"})
	p.TrackEvent(core.EventTelemetry{Name: "secret"})
	p.TrackEvent(core.EventTelemetry{Name: "explode"})

	items := ch.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "test", items[0].Properties["env"])
	assert.Equal(t, "explode", items[1].Name, "a failing initializer does not drop the item")
	assert.Contains(t, messageIDs(pipeline), core.MsgTelemetryInitializerFailed)
}

func TestTelemetryFilter(t *testing.T) {
	p, ch, _ := setup(t, func(c *core.Config) {
		c.TelemetryFilter = `baseType != "MessageData" || properties["audit"] == "yes"`
	})

	p.TrackTrace(core.TraceTelemetry{Message: "noise"})
	p.TrackTrace(core.TraceTelemetry{Message: "kept", Properties: map[string]string{"audit": "yes"}})
	p.TrackEvent(core.EventTelemetry{Name: "event"})

	items := ch.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "kept", items[0].BaseData["message"])
	assert.Equal(t, "event", items[1].Name)
}

func TestInvalidTelemetryFilterFailsInitialize(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.InstrumentationKey = "ikey"
	cfg.TelemetryFilter = `baseType ==`

	err := core.NewPipeline(nil).Initialize(cfg, []core.Plugin{New()})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
}

func TestNewExprFilter(t *testing.T) {
	_, err := NewExprFilter("")
	assert.Error(t, err)

	_, err = NewExprFilter(`name + 1`)
	assert.Error(t, err, "non-boolean expressions are rejected")

	f, err := NewExprFilter(`measurements["duration"] > 100`)
	require.NoError(t, err)
	env := core.NewEnvelope(core.BaseTypeEvent, "x")
	env.Measurements["duration"] = 150
	ok, err := f.Allow(env)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `measurements["duration"] > 100`, f.String())
}

func TestPageViewHooks(t *testing.T) {
	var calls int
	p, _, pipeline := setup(t, nil, OnPageView(func() { calls++ }))

	p.TrackException(core.ExceptionTelemetry{})
	require.Len(t, pipeline.Logger().Queue(), 1)
	p.TrackException(core.ExceptionTelemetry{})
	assert.Len(t, pipeline.Logger().Queue(), 1, "duplicate ids are suppressed within a view")

	p.TrackPageView(core.PageViewTelemetry{Name: "next"})
	assert.Equal(t, 1, calls)
	p.TrackException(core.ExceptionTelemetry{})
	assert.Len(t, pipeline.Logger().Queue(), 2, "a page view starts a new throttling episode")
}

func TestTrackBeforeInitialize(t *testing.T) {
	p := New()
	assert.Equal(t, Identifier, p.Identifier())
	assert.NotPanics(t, func() {
		p.TrackEvent(core.EventTelemetry{Name: "early"})
		p.TrackException(core.ExceptionTelemetry{})
		p.StopTrackPage("never", "", nil, nil)
	})
}
