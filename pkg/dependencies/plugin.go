// Package dependencies records calls to remote dependencies. Outbound HTTP
// calls are captured by wrapping a client's transport; other calls are
// reported with TrackDependencyData.
package dependencies

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/telemetry"
)

// Identifier of the dependency plugin.
const Identifier = "AjaxDependencyPlugin"

// Plugin is the dependency-call recorder.
type Plugin struct {
	mu             sync.Mutex
	pipeline       *core.Pipeline
	config         *core.Config
	logger         core.Logger
	tracerProvider trace.TracerProvider
	now            func() time.Time

	ajaxAttempts  int
	limitReported bool
}

var _ core.Plugin = (*Plugin)(nil)

// Option configures the plugin.
type Option func(*Plugin)

// WithTracerProvider sets the provider of the client spans created for
// instrumented HTTP calls. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Plugin) {
		p.tracerProvider = tp
	}
}

// WithLogger sets the console logger.
func WithLogger(logger core.Logger) Option {
	return func(p *Plugin) {
		if logger != nil {
			p.logger = logger
		}
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
	return p
}

func (p *Plugin) Identifier() string { return Identifier }

func (p *Plugin) Initialize(config *core.Config, pipeline *core.Pipeline) error {
	if config.MaxAjaxCallsPerView == 0 {
		config.MaxAjaxCallsPerView = core.DefaultMaxAjaxCallsPerView
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = config
	p.pipeline = pipeline
	return nil
}

// TrackDependencyData reports a dependency call made outside an instrumented
// client. It is not subject to the per-view limit.
func (p *Plugin) TrackDependencyData(dep core.DependencyTelemetry) {
	p.mu.Lock()
	pipeline := p.pipeline
	p.mu.Unlock()
	if pipeline == nil {
		return
	}
	pipeline.Track(dependencyEnvelope(dep, ""))
}

// ResetAjaxAttempts starts a new page view for the maxAjaxCallsPerView limit.
func (p *Plugin) ResetAjaxAttempts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ajaxAttempts = 0
	p.limitReported = false
}

// Transport wraps base so every request is traced with OpenTelemetry, carries
// correlation headers and is recorded as dependency telemetry.
func (p *Plugin) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	}
	if p.tracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(p.tracerProvider))
	}
	return otelhttp.NewTransport(&recordingTransport{base: base, plugin: p}, opts...)
}

// Client returns an http.Client whose calls are recorded.
func (p *Plugin) Client() *http.Client {
	return &http.Client{Transport: p.Transport(nil)}
}

type recordingTransport struct {
	base   http.RoundTripper
	plugin *Plugin
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.plugin.tracking() {
		return t.base.RoundTrip(req)
	}

	operationID := telemetry.GetOperationID(req.Context())
	dependencyID := ""
	if sc := trace.SpanContextFromContext(req.Context()); sc.IsValid() {
		if operationID == "" {
			operationID = sc.TraceID().String()
		}
		dependencyID = sc.SpanID().String()
	}
	if operationID == "" {
		operationID = telemetry.NewID()
	}
	if dependencyID == "" {
		dependencyID = telemetry.NewID()[:16]
	}

	out := req.Clone(req.Context())
	telemetry.InjectCorrelationHeaders(out.Header, operationID, dependencyID, "")

	start := t.plugin.now()
	resp, err := t.base.RoundTrip(out)
	duration := t.plugin.now().Sub(start)

	dep := core.DependencyTelemetry{
		ID:       telemetry.RequestID(operationID, dependencyID),
		Name:     req.Method + " " + req.URL.Path,
		Target:   req.URL.Host,
		Type:     "Ajax",
		Data:     req.URL.String(),
		Duration: duration,
	}
	if err != nil {
		dep.Success = false
		dep.Properties = map[string]string{"error": err.Error()}
	} else {
		dep.ResponseCode = resp.StatusCode
		dep.Success = resp.StatusCode < 400
	}
	t.plugin.recordAjax(dep, operationID)

	return resp, err
}

func (p *Plugin) tracking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pipeline != nil && p.config != nil && !p.config.DisableAjaxTracking
}

// recordAjax enforces maxAjaxCallsPerView; a negative limit disables it.
func (p *Plugin) recordAjax(dep core.DependencyTelemetry, operationID string) {
	p.mu.Lock()
	limit := p.config.MaxAjaxCallsPerView
	if limit >= 0 && p.ajaxAttempts >= limit {
		report := !p.limitReported
		p.limitReported = true
		diag := p.pipeline.Logger()
		p.mu.Unlock()
		if report {
			diag.ThrowInternal(core.SeverityWarningInternal, core.MsgMaxAjaxPerPVExceeded,
				"Maximum ajax per page view limit reached, ajax monitoring is paused until the next trackPageView(). In order to increase the limit set the maxAjaxCallsPerView configuration parameter.",
				nil)
		}
		return
	}
	p.ajaxAttempts++
	pipeline := p.pipeline
	p.mu.Unlock()

	pipeline.Track(dependencyEnvelope(dep, operationID))
}

func dependencyEnvelope(dep core.DependencyTelemetry, operationID string) *core.Envelope {
	name := dep.Name
	if name == "" {
		name = strings.TrimSpace(dep.Type + " " + dep.Target)
	}
	env := core.NewEnvelope(core.BaseTypeDependency, name)
	env.BaseData["id"] = dep.ID
	env.BaseData["name"] = name
	env.BaseData["target"] = dep.Target
	env.BaseData["type"] = dep.Type
	env.BaseData["data"] = dep.Data
	env.BaseData["duration"] = dep.Duration
	env.BaseData["resultCode"] = dep.ResponseCode
	env.BaseData["success"] = dep.Success
	if operationID != "" {
		env.Tags[core.TagOperationID] = operationID
	}
	return env.WithProperties(dep.Properties, dep.Measurements)
}
