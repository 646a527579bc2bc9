// Package analytics is the event and diagnostic recorder. It turns the public
// track* calls into envelopes, runs telemetry initializers and the configured
// telemetry filter over every item, and records custom metrics with
// OpenTelemetry histograms.
package analytics

import (
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/itsneelabh/insights/pkg/core"
)

// Identifier of the analytics plugin.
const Identifier = "ApplicationInsightsAnalytics"

// TelemetryInitializer inspects or modifies an item before it is sent.
// Returning false drops the item.
type TelemetryInitializer func(item *core.Envelope) bool

// Plugin is the analytics plugin.
type Plugin struct {
	mu           sync.Mutex
	pipeline     *core.Pipeline
	config       *core.Config
	diag         *core.DiagnosticLogger
	logger       core.Logger
	initializers []TelemetryInitializer
	filter       *ExprFilter
	metrics      *metricRecorder
	now          func() time.Time

	pageTimers  *timers
	eventTimers *timers
	onPageView  []func()
}

var (
	_ core.Plugin             = (*Plugin)(nil)
	_ core.TelemetryProcessor = (*Plugin)(nil)
)

// Option configures the plugin.
type Option func(*Plugin)

// WithLogger sets the console logger.
func WithLogger(logger core.Logger) Option {
	return func(p *Plugin) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMeterProvider records custom metrics through mp instead of the global
// meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Plugin) {
		if mp != nil {
			p.metrics = newMetricRecorder(mp)
		}
	}
}

// WithClock overrides the time source of timed pages and events.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

// OnPageView registers fn to run before every tracked page view.
func OnPageView(fn func()) Option {
	return func(p *Plugin) {
		p.onPageView = append(p.onPageView, fn)
	}
}

// New creates the plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{
		logger: &core.NoOpLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = newMetricRecorder(otel.GetMeterProvider())
	}
	p.pageTimers = newTimers(p.clock)
	p.eventTimers = newTimers(p.clock)
	return p
}

func (p *Plugin) clock() time.Time { return p.now() }

func (p *Plugin) Identifier() string { return Identifier }

// Initialize compiles the telemetry filter. An invalid filter fails
// initialization.
func (p *Plugin) Initialize(config *core.Config, pipeline *core.Pipeline) error {
	var filter *ExprFilter
	if config.TelemetryFilter != "" {
		f, err := NewExprFilter(config.TelemetryFilter)
		if err != nil {
			return &core.FrameworkError{
				Op:      "analytics.Initialize",
				Kind:    "config",
				ID:      Identifier,
				Message: fmt.Sprintf("invalid telemetryFilter: %v", err),
				Err:     core.ErrInvalidConfiguration,
			}
		}
		filter = f
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = config
	p.pipeline = pipeline
	p.diag = pipeline.Logger()
	p.filter = filter
	return nil
}

// AddTelemetryInitializer appends fn to the initializers run on every item.
func (p *Plugin) AddTelemetryInitializer(fn TelemetryInitializer) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initializers = append(p.initializers, fn)
}

// ProcessTelemetry runs the telemetry initializers and then the filter. A
// panicking initializer is reported and skipped.
func (p *Plugin) ProcessTelemetry(item *core.Envelope) bool {
	p.mu.Lock()
	initializers := append([]TelemetryInitializer(nil), p.initializers...)
	filter := p.filter
	diag := p.diag
	p.mu.Unlock()

	for _, fn := range initializers {
		keep, ok := runInitializer(fn, item, diag)
		if ok && !keep {
			return false
		}
	}

	if filter == nil {
		return true
	}
	allow, err := filter.Allow(item)
	if err != nil {
		if diag != nil {
			diag.ThrowInternal(core.SeverityWarningInternal, core.MsgTelemetryInitializerFailed,
				"Telemetry filter failed, item is kept", map[string]string{"exception": err.Error()})
		}
		return true
	}
	return allow
}

func runInitializer(fn TelemetryInitializer, item *core.Envelope, diag *core.DiagnosticLogger) (keep, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if diag != nil {
				diag.ThrowInternal(core.SeverityCriticalInternal, core.MsgTelemetryInitializerFailed,
					"One of telemetry initializers failed, telemetry item will not be sent",
					map[string]string{"exception": fmt.Sprint(r)})
			}
			keep, ok = false, false
		}
	}()
	return fn(item), true
}

// track hands item to the pipeline. Panics from downstream plugins are
// reported with id.
func (p *Plugin) track(item *core.Envelope, id core.MessageID, what string) {
	p.mu.Lock()
	pipeline := p.pipeline
	diag := p.diag
	p.mu.Unlock()

	if pipeline == nil {
		p.logger.Debug("Dropping telemetry, analytics not initialized", map[string]interface{}{
			"base_type": item.BaseType,
		})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			diag.ThrowInternal(core.SeverityCriticalInternal, id,
				what+" failed, "+what+" will not be collected: "+fmt.Sprint(r),
				map[string]string{"exception": fmt.Sprint(r)})
		}
	}()
	pipeline.Track(item)
}
