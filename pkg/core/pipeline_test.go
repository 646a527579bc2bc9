package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPlugin struct {
	id      string
	order   *[]string
	initErr error
	drop    bool
	seen    []*Envelope
}

func (r *recordingPlugin) Identifier() string { return r.id }

func (r *recordingPlugin) Initialize(config *Config, pipeline *Pipeline) error {
	if r.order != nil {
		*r.order = append(*r.order, r.id)
	}
	return r.initErr
}

func (r *recordingPlugin) ProcessTelemetry(item *Envelope) bool {
	r.seen = append(r.seen, item)
	item.Tags["seen."+r.id] = "true"
	return !r.drop
}

type recordingChannel struct {
	id      string
	order   *[]string
	mu      sync.Mutex
	sent    []*Envelope
	flushes []bool
}

func (c *recordingChannel) Identifier() string { return c.id }

func (c *recordingChannel) Initialize(config *Config, pipeline *Pipeline) error {
	if c.order != nil {
		*c.order = append(*c.order, c.id)
	}
	return nil
}

func (c *recordingChannel) Send(item *Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, item)
}

func (c *recordingChannel) Flush(async bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes = append(c.flushes, async)
}

func (c *recordingChannel) Sent() []*Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.InstrumentationKey = "ikey-123"
	return cfg
}

func TestPipelineInitializeOrder(t *testing.T) {
	var order []string
	ch := &recordingChannel{id: "channel", order: &order}
	a := &recordingPlugin{id: "a", order: &order}
	b := &recordingPlugin{id: "b", order: &order}
	ext := &recordingPlugin{id: "ext", order: &order}

	cfg := testConfig()
	cfg.Extensions = []Plugin{ext}

	p := NewPipeline(nil)
	require.NoError(t, p.Initialize(cfg, []Plugin{ch, a, b}))

	assert.Equal(t, []string{"channel", "a", "b", "ext"}, order)
	assert.True(t, p.IsInitialized())
	assert.Same(t, a, p.Plugin("a"))
	assert.Len(t, p.Plugins(), 4)

	controls := p.TransmissionControls()
	require.Len(t, controls, 1)
	require.Len(t, controls[0], 1)
	assert.Same(t, ch, controls[0][0])
}

func TestPipelineInitializeErrors(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		err := NewPipeline(nil).Initialize(nil, nil)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("missing instrumentation key", func(t *testing.T) {
		err := NewPipeline(nil).Initialize(DefaultConfig(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingConfiguration)
	})

	t.Run("duplicate identifier", func(t *testing.T) {
		err := NewPipeline(nil).Initialize(testConfig(), []Plugin{
			&recordingPlugin{id: "dup"},
			&recordingPlugin{id: "dup"},
		})
		assert.ErrorIs(t, err, ErrDuplicatePlugin)
	})

	t.Run("plugin error is returned unmodified", func(t *testing.T) {
		boom := errors.New("boom")
		var order []string
		p := NewPipeline(nil)
		err := p.Initialize(testConfig(), []Plugin{
			&recordingPlugin{id: "first", order: &order, initErr: boom},
			&recordingPlugin{id: "second", order: &order},
		})
		assert.Same(t, boom, err)
		assert.Equal(t, []string{"first"}, order)
		assert.False(t, p.IsInitialized())
	})

	t.Run("second initialize", func(t *testing.T) {
		p := NewPipeline(nil)
		require.NoError(t, p.Initialize(testConfig(), nil))
		err := p.Initialize(testConfig(), nil)
		assert.True(t, IsStateError(err))
	})
}

func TestPipelineTrack(t *testing.T) {
	ch := &recordingChannel{id: "channel"}
	first := &recordingPlugin{id: "first"}
	second := &recordingPlugin{id: "second"}

	p := NewPipeline(nil)
	require.NoError(t, p.Initialize(testConfig(), []Plugin{ch, first, second}))

	env := NewEnvelope(BaseTypeEvent, "clicked")
	env.Time = time.Time{}
	p.Track(env)

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ikey-123", sent[0].IKey)
	assert.False(t, sent[0].Time.IsZero())
	assert.Equal(t, "true", sent[0].Tags["seen.first"])
	assert.Equal(t, "true", sent[0].Tags["seen.second"])
}

func TestPipelineTrackDroppedByProcessor(t *testing.T) {
	ch := &recordingChannel{id: "channel"}
	dropper := &recordingPlugin{id: "dropper", drop: true}
	after := &recordingPlugin{id: "after"}

	p := NewPipeline(nil)
	require.NoError(t, p.Initialize(testConfig(), []Plugin{ch, dropper, after}))

	p.Track(NewEnvelope(BaseTypeTrace, "noise"))

	assert.Empty(t, ch.Sent())
	assert.Len(t, dropper.seen, 1)
	assert.Empty(t, after.seen)
}

func TestPipelineTrackBeforeInitialize(t *testing.T) {
	p := NewPipeline(nil)
	assert.NotPanics(t, func() {
		p.Track(NewEnvelope(BaseTypeEvent, "early"))
		p.Track(nil)
	})
}

func TestPipelineInternalLogPolling(t *testing.T) {
	ch := &recordingChannel{id: "channel"}
	cfg := testConfig()
	cfg.DiagnosticLogInterval = 10

	p := NewPipeline(nil)
	require.NoError(t, p.Initialize(cfg, []Plugin{ch}))

	p.Logger().ThrowInternal(SeverityCriticalInternal, MsgFailedToAddHandlerForOnBeforeUnload, "no handlers", nil)

	p.PollInternalLogs()
	p.PollInternalLogs() // second call must not start another poller
	defer p.StopPollingInternalLogs()

	assert.Eventually(t, func() bool {
		return len(ch.Sent()) == 1
	}, time.Second, 5*time.Millisecond)

	sent := ch.Sent()[0]
	assert.Equal(t, BaseTypeTrace, sent.BaseType)
	assert.Contains(t, sent.Name, "AI (Internal): 19")
	assert.Empty(t, p.Logger().Queue())
}

func TestPipelineStopPollingIsIdempotent(t *testing.T) {
	p := NewPipeline(nil)
	require.NoError(t, p.Initialize(testConfig(), nil))
	p.PollInternalLogs()
	p.StopPollingInternalLogs()
	assert.NotPanics(t, p.StopPollingInternalLogs)
}
