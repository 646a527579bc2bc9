// Package bootstrap loads the SDK from a snippet.
//
// An Orchestrator composes the transmission channel, the properties plugin,
// the dependency recorder and the analytics plugin into a core.Pipeline, in
// that order. It then replays the calls queued on the snippet before the SDK
// was available, publishes the live API onto the snippet and installs the
// teardown housekeeping that flushes telemetry when the host goes away.
//
// Typical use:
//
//	snippet := &bootstrap.Snippet{Config: cfg}
//	snippet.TrackEvent(core.EventTelemetry{Name: "early"}) // queued
//
//	o := bootstrap.New(snippet, bootstrap.WithEnvironment(host.NewProcess()))
//	o.UpdateSnippetDefinitions(snippet)
//	if _, err := o.Load(false); err != nil {
//		return err
//	}
//	defer o.Unload(context.Background())
package bootstrap

import (
	"context"
	"errors"
	"sync"

	"github.com/itsneelabh/insights/pkg/analytics"
	"github.com/itsneelabh/insights/pkg/channel"
	"github.com/itsneelabh/insights/pkg/connstring"
	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/dependencies"
	"github.com/itsneelabh/insights/pkg/host"
	"github.com/itsneelabh/insights/pkg/properties"
)

const legacySnippetSuffix = ".lg"

// Orchestrator is the loaded SDK.
type Orchestrator struct {
	mu sync.Mutex

	snippet        *Snippet
	config         *core.Config
	snippetVersion string
	logger         core.Logger
	env            host.Environment
	sourceTag      func() (string, bool)

	pipeline     *core.Pipeline
	channel      core.Channel
	properties   *properties.Plugin
	dependencies *dependencies.Plugin
	analytics    *analytics.Plugin

	// per-plugin options collected before construction
	channelOpts      []channel.Option
	propertiesOpts   []properties.Option
	dependenciesOpts []dependencies.Option
	analyticsOpts    []analytics.Option

	context      *properties.TelemetryContext
	loaded       bool
	lastDrainErr error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the console logger shared by the pipeline and the plugins.
func WithLogger(logger core.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEnvironment sets the host the housekeeping registers with. Defaults to
// host.NewProcess, which subscribes to SIGINT, SIGTERM and SIGHUP once Load
// installs the housekeeping and re-raises SIGINT and SIGTERM after flushing.
func WithEnvironment(env host.Environment) Option {
	return func(o *Orchestrator) {
		o.env = env
	}
}

// WithChannel replaces the default transmission channel.
func WithChannel(ch core.Channel) Option {
	return func(o *Orchestrator) {
		o.channel = ch
	}
}

// WithChannelOptions configures the default transmission channel.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(o *Orchestrator) {
		o.channelOpts = append(o.channelOpts, opts...)
	}
}

// WithPropertiesOptions configures the properties plugin.
func WithPropertiesOptions(opts ...properties.Option) Option {
	return func(o *Orchestrator) {
		o.propertiesOpts = append(o.propertiesOpts, opts...)
	}
}

// WithDependenciesOptions configures the dependency plugin.
func WithDependenciesOptions(opts ...dependencies.Option) Option {
	return func(o *Orchestrator) {
		o.dependenciesOpts = append(o.dependenciesOpts, opts...)
	}
}

// WithAnalyticsOptions configures the analytics plugin.
func WithAnalyticsOptions(opts ...analytics.Option) Option {
	return func(o *Orchestrator) {
		o.analyticsOpts = append(o.analyticsOpts, opts...)
	}
}

// WithSourceTag uses tag instead of the process-wide source tag. An empty tag
// means no tag.
func WithSourceTag(tag string) Option {
	return func(o *Orchestrator) {
		o.sourceTag = func() (string, bool) { return tag, tag != "" }
	}
}

// New normalizes the snippet and constructs the plugins. It performs no I/O.
// Signal handling of the default environment is described on
// WithEnvironment.
//
// A connection string overrides instrumentationKey and endpointUrl only for
// the fields it supplies.
func New(snippet *Snippet, opts ...Option) *Orchestrator {
	if snippet == nil {
		snippet = &Snippet{}
	}
	snippet.mu.Lock()
	if snippet.Queue == nil {
		snippet.Queue = []Call{}
	}
	if snippet.Version == "" {
		snippet.Version = DefaultSnippetVersion
	}
	if snippet.Config == nil {
		snippet.Config = core.DefaultConfig()
	}
	snippet.mu.Unlock()

	config := snippet.Config
	if config.ConnectionString != "" {
		cs := connstring.Parse(config.ConnectionString)
		if ingest := cs.IngestionEndpoint(); ingest != "" {
			config.EndpointURL = ingest + "/v2/track"
		}
		if ikey := cs.InstrumentationKey(); ikey != "" {
			config.InstrumentationKey = ikey
		}
	}
	if config.DiagnosticLogInterval <= 0 {
		config.DiagnosticLogInterval = core.DefaultDiagnosticLogInterval
	}

	version := snippet.SV
	if version == "" {
		version = snippet.Version
	}

	o := &Orchestrator{
		snippet:        snippet,
		config:         config,
		snippetVersion: version,
		logger:         &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.env == nil {
		o.env = host.NewProcess(host.WithProcessLogger(o.logger))
	}
	if o.sourceTag == nil {
		env := o.env
		o.sourceTag = func() (string, bool) { return CaptureSourceTag(env) }
	}

	if o.channel == nil {
		o.channel = channel.New(append([]channel.Option{channel.WithLogger(o.logger)}, o.channelOpts...)...)
	}
	o.properties = properties.New(append([]properties.Option{properties.WithLogger(o.logger)}, o.propertiesOpts...)...)
	o.dependencies = dependencies.New(append([]dependencies.Option{dependencies.WithLogger(o.logger)}, o.dependenciesOpts...)...)
	o.analytics = analytics.New(append([]analytics.Option{
		analytics.WithLogger(o.logger),
		analytics.OnPageView(o.dependencies.ResetAjaxAttempts),
	}, o.analyticsOpts...)...)
	o.pipeline = core.NewPipeline(o.logger)

	return o
}

// Load composes the plugins into the pipeline and brings the SDK up. In
// legacy mode the plugin set is fixed and config.Extensions must be empty.
//
// Plugin initialization errors are returned unmodified. A failing queued call
// does not fail Load; see LastDrainError.
//
// Only data members are on the snippet while its queue drains. Once drained,
// the live API is bound so later calls on the snippet never queue again.
func (o *Orchestrator) Load(legacyMode bool) (*Orchestrator, error) {
	if legacyMode && len(o.config.Extensions) > 0 {
		return nil, &core.FrameworkError{
			Op:      "Orchestrator.Load",
			Kind:    "config",
			Message: "extensions not allowed in legacy mode",
			Err:     core.ErrExtensionsInLegacyMode,
		}
	}

	o.mu.Lock()
	if o.loaded {
		o.mu.Unlock()
		return nil, core.NewFrameworkError("Orchestrator.Load", "state", core.ErrAlreadyInitialized)
	}
	o.loaded = true
	o.mu.Unlock()

	plugins := []core.Plugin{o.channel, o.properties, o.dependencies, o.analytics}
	if err := o.pipeline.Initialize(o.config, plugins); err != nil {
		return nil, err
	}

	ctx := o.properties.Context()
	o.mu.Lock()
	o.context = ctx
	o.mu.Unlock()

	if tag, ok := o.sourceTag(); ok && ctx != nil {
		ctx.SetSDKSrc(tag)
	}

	o.updateSnippetProperties(o.snippet, legacyMode)
	o.EmptyQueue()
	if o.snippet != nil && !o.snippet.Bound() {
		o.snippet.bind(o.API())
	}
	o.PollInternalLogs()
	o.AddHousekeepingBeforeUnload()

	o.logger.Info("SDK loaded", map[string]interface{}{
		"plugins":     len(o.pipeline.Plugins()),
		"legacy_mode": legacyMode,
		"snippet":     o.snippetVersion,
	})
	return o, nil
}

// updateSnippetProperties records the snippet version and publishes the data
// members onto snippet. Methods are bound after the drain.
func (o *Orchestrator) updateSnippetProperties(snippet *Snippet, legacyMode bool) {
	ver := o.snippetVersion
	if legacyMode {
		ver += legacySnippetSuffix
	}
	if ctx := o.Context(); ctx != nil {
		ctx.SetSnippetVer(ver)
	}
	o.publishProperties(snippet)
}

func (o *Orchestrator) publishProperties(snippet *Snippet) {
	if snippet == nil {
		return
	}
	snippet.mu.Lock()
	defer snippet.mu.Unlock()
	snippet.Config = o.config
	snippet.Context = o.Context()
	snippet.Core = o.pipeline
	snippet.AppInsights = o.analytics
	snippet.Properties = o.properties
	snippet.Dependencies = o.dependencies
}

// UpdateSnippetDefinitions publishes every member, data and API, onto
// snippet. Call it before Load for queued calls to reach the live
// implementation during the drain; it does not drain the queue itself.
func (o *Orchestrator) UpdateSnippetDefinitions(snippet *Snippet) {
	o.publishProperties(snippet)
	if snippet != nil {
		snippet.bind(o.API())
	}
}

// API returns the public surface bound to o.
func (o *Orchestrator) API() API {
	return API{
		TrackEvent:                    o.TrackEvent,
		TrackPageView:                 o.TrackPageView,
		TrackPageViewPerformance:      o.TrackPageViewPerformance,
		TrackException:                o.TrackException,
		TrackTrace:                    o.TrackTrace,
		TrackMetric:                   o.TrackMetric,
		StartTrackPage:                o.StartTrackPage,
		StopTrackPage:                 o.StopTrackPage,
		StartTrackEvent:               o.StartTrackEvent,
		StopTrackEvent:                o.StopTrackEvent,
		AddTelemetryInitializer:       o.AddTelemetryInitializer,
		SetAuthenticatedUserContext:   o.SetAuthenticatedUserContext,
		ClearAuthenticatedUserContext: o.ClearAuthenticatedUserContext,
		TrackDependencyData:           o.TrackDependencyData,
		Flush:                         o.Flush,
		OnUnloadFlush:                 o.OnUnloadFlush,
	}
}

// Flush asks every channel of every transmission group to flush. async only
// selects the channel's transmission path.
func (o *Orchestrator) Flush(async bool) {
	for _, group := range o.pipeline.TransmissionControls() {
		for _, ch := range group {
			ch.Flush(async)
		}
	}
}

// OnUnloadFlush is Flush for teardown: channels with an accelerated teardown
// path use it instead.
func (o *Orchestrator) OnUnloadFlush(async bool) {
	for _, group := range o.pipeline.TransmissionControls() {
		for _, ch := range group {
			if tf, ok := core.TeardownCapable(ch); ok {
				tf.OnTeardownFlush()
				continue
			}
			ch.Flush(async)
		}
	}
}

// PollInternalLogs starts forwarding internal diagnostics as telemetry.
func (o *Orchestrator) PollInternalLogs() {
	if !o.pipeline.IsInitialized() {
		return
	}
	o.pipeline.PollInternalLogs()
}

// Unload tears the SDK down from the Go side: polling stops, pending internal
// logs and telemetry are flushed and the channel and session store are
// released.
func (o *Orchestrator) Unload(ctx context.Context) error {
	if !o.pipeline.IsInitialized() {
		return nil
	}
	o.pipeline.StopPollingInternalLogs()
	o.pipeline.SendInternalLogs()
	o.OnUnloadFlush(false)

	var errs []error
	if s, ok := o.channel.(interface{ Shutdown(context.Context) error }); ok {
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := o.properties.Close(); err != nil {
		errs = append(errs, err)
	}
	if p, ok := o.env.(*host.Process); ok {
		p.Stop()
	}
	return errors.Join(errs...)
}

// TrackEvent records a custom event through the analytics plugin.
func (o *Orchestrator) TrackEvent(event core.EventTelemetry) { o.analytics.TrackEvent(event) }

// TrackPageView records a page view and resets the per-view dependency budget.
func (o *Orchestrator) TrackPageView(pv core.PageViewTelemetry) { o.analytics.TrackPageView(pv) }

// TrackPageViewPerformance records page load timings.
func (o *Orchestrator) TrackPageViewPerformance(perf core.PageViewPerformanceTelemetry) {
	o.analytics.TrackPageViewPerformance(perf)
}

// TrackException records an error. An item without an error is rejected with
// a CRITICAL diagnostic.
func (o *Orchestrator) TrackException(ex core.ExceptionTelemetry) { o.analytics.TrackException(ex) }

// TrackTrace records a log message.
func (o *Orchestrator) TrackTrace(tr core.TraceTelemetry) { o.analytics.TrackTrace(tr) }

// TrackMetric records a pre-aggregated metric.
func (o *Orchestrator) TrackMetric(m core.MetricTelemetry) { o.analytics.TrackMetric(m) }

// StartTrackPage and StopTrackPage time a page view by name.
func (o *Orchestrator) StartTrackPage(name string) { o.analytics.StartTrackPage(name) }

func (o *Orchestrator) StopTrackPage(name, uri string, properties map[string]string, measurements map[string]float64) {
	o.analytics.StopTrackPage(name, uri, properties, measurements)
}

// StartTrackEvent and StopTrackEvent time a custom event by name.
func (o *Orchestrator) StartTrackEvent(name string) { o.analytics.StartTrackEvent(name) }

func (o *Orchestrator) StopTrackEvent(name string, properties map[string]string, measurements map[string]float64) {
	o.analytics.StopTrackEvent(name, properties, measurements)
}

// AddTelemetryInitializer adds fn to the initializers every tracked item
// passes through. Returning false drops the item.
func (o *Orchestrator) AddTelemetryInitializer(fn analytics.TelemetryInitializer) {
	o.analytics.AddTelemetryInitializer(fn)
}

// SetAuthenticatedUserContext tags later items with the signed-in user.
func (o *Orchestrator) SetAuthenticatedUserContext(authenticatedUserID, accountID string, storeInCookie bool) {
	o.properties.Context().User.SetAuthenticatedUserContext(authenticatedUserID, accountID, storeInCookie)
}

// ClearAuthenticatedUserContext removes the signed-in user.
func (o *Orchestrator) ClearAuthenticatedUserContext() {
	o.properties.Context().User.ClearAuthenticatedUserContext()
}

// TrackDependencyData records an outbound call made outside the instrumented
// transport.
func (o *Orchestrator) TrackDependencyData(dep core.DependencyTelemetry) {
	o.dependencies.TrackDependencyData(dep)
}

// Context returns the telemetry context, nil before Load.
func (o *Orchestrator) Context() *properties.TelemetryContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.context
}

// Accessors for the composed pipeline, its plugins and the inputs Load used.
func (o *Orchestrator) Core() *core.Pipeline                { return o.pipeline }
func (o *Orchestrator) AppInsights() *analytics.Plugin      { return o.analytics }
func (o *Orchestrator) Properties() *properties.Plugin      { return o.properties }
func (o *Orchestrator) Dependencies() *dependencies.Plugin  { return o.dependencies }
func (o *Orchestrator) Channel() core.Channel               { return o.channel }
func (o *Orchestrator) Config() *core.Config                { return o.config }
func (o *Orchestrator) Snippet() *Snippet                   { return o.snippet }
func (o *Orchestrator) Environment() host.Environment       { return o.env }
func (o *Orchestrator) Diagnostics() *core.DiagnosticLogger { return o.pipeline.Logger() }

// SnippetVersion returns the version the snippet reported.
func (o *Orchestrator) SnippetVersion() string { return o.snippetVersion }

// LastDrainError returns why the last queue drain stopped early, if it did.
func (o *Orchestrator) LastDrainError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastDrainErr
}
