package dependencies

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/telemetry"
)

type captureChannel struct {
	mu    sync.Mutex
	items []*core.Envelope
}

func (c *captureChannel) Identifier() string { return "capture" }
func (c *captureChannel) Initialize(*core.Config, *core.Pipeline) error {
	return nil
}
func (c *captureChannel) Send(item *core.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}
func (c *captureChannel) Flush(bool) {}
func (c *captureChannel) Items() []*core.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*core.Envelope(nil), c.items...)
}

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

func TestTransportRecordsDependency(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer tp.Shutdown(context.Background())

	p, ch, _ := setup(t, nil, WithTracerProvider(tp))
	client := &http.Client{Transport: p.Transport(nil)}

	resp, err := client.Get(srv.URL + "/api/orders?id=1")
	require.NoError(t, err)
	resp.Body.Close()

	items := ch.Items()
	require.Len(t, items, 1)
	dep := items[0]
	assert.Equal(t, core.BaseTypeDependency, dep.BaseType)
	assert.Equal(t, "GET /api/orders", dep.Name)
	assert.Equal(t, 200, dep.BaseData["resultCode"])
	assert.Equal(t, true, dep.BaseData["success"])
	assert.Equal(t, "Ajax", dep.BaseData["type"])
	assert.Equal(t, srv.URL+"/api/orders?id=1", dep.BaseData["data"])

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	traceID := spans[0].SpanContext.TraceID().String()
	spanID := spans[0].SpanContext.SpanID().String()
	assert.Equal(t, traceID, dep.Tags[core.TagOperationID])
	assert.Equal(t, telemetry.RequestID(traceID, spanID), dep.BaseData["id"])

	assert.Equal(t, "|"+traceID+"."+spanID+".", gotHeaders.Get(telemetry.HeaderRequestID))
	assert.Contains(t, gotHeaders.Get("Traceparent"), traceID)

	resp, err = client.Get(srv.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	items = ch.Items()
	require.Len(t, items, 2)
	assert.Equal(t, false, items[1].BaseData["success"])
	assert.Equal(t, 404, items[1].BaseData["resultCode"])
}

func TestTransportFailedCall(t *testing.T) {
	p, ch, _ := setup(t, nil)
	client := &http.Client{Transport: p.Transport(nil), Timeout: 2 * time.Second}

	_, err := client.Get("http://127.0.0.1:1/unreachable")
	require.Error(t, err)

	items := ch.Items()
	require.Len(t, items, 1)
	assert.Equal(t, false, items[0].BaseData["success"])
	assert.NotEmpty(t, items[0].Properties["error"])
}

func TestMaxAjaxCallsPerView(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p, ch, pipeline := setup(t, func(c *core.Config) { c.MaxAjaxCallsPerView = 2 })
	client := p.Client()

	for i := 0; i < 4; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Len(t, ch.Items(), 2)

	var warnings int
	for _, m := range pipeline.Logger().History() {
		if m.ID == core.MsgMaxAjaxPerPVExceeded {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings, "the limit is reported once per view")

	p.ResetAjaxAttempts()
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, ch.Items(), 3)
}

func TestDisableAjaxTracking(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Empty(t, r.Header.Get(telemetry.HeaderRequestID))
	}))
	defer srv.Close()

	p, ch, _ := setup(t, func(c *core.Config) { c.DisableAjaxTracking = true })
	resp, err := p.Client().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1, calls, "calls still go through")
	assert.Empty(t, ch.Items())
}

func TestTrackDependencyData(t *testing.T) {
	p, ch, _ := setup(t, nil)

	p.TrackDependencyData(core.DependencyTelemetry{
		ID:           "dep-1",
		Target:       "orders-db",
		Type:         "SQL",
		Data:         "SELECT 1",
		Duration:     12 * time.Millisecond,
		ResponseCode: 0,
		Success:      true,
		Properties:   map[string]string{"shard": "eu"},
	})

	items := ch.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "SQL orders-db", items[0].Name)
	assert.Equal(t, "dep-1", items[0].BaseData["id"])
	assert.Equal(t, 12*time.Millisecond, items[0].BaseData["duration"])
	assert.Equal(t, "eu", items[0].Properties["shard"])
}

func TestTrackDependencyDataBeforeInitialize(t *testing.T) {
	p := New()
	assert.Equal(t, Identifier, p.Identifier())
	assert.NotPanics(t, func() {
		p.TrackDependencyData(core.DependencyTelemetry{Name: "early"})
	})
}
