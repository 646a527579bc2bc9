// Package insights is the entry point of the telemetry SDK. It re-exports the
// types most callers need from the submodules and offers Init, which does
// what an embedding page's loader does: wrap the configuration in a snippet,
// build the orchestrator, bind the API and load.
//
// Import the submodules directly for anything beyond that:
//   - github.com/itsneelabh/insights/pkg/bootstrap - orchestrator, snippet, teardown
//   - github.com/itsneelabh/insights/pkg/jshost - goja page hosting a JavaScript snippet
//   - github.com/itsneelabh/insights/pkg/core - pipeline, config, telemetry items
package insights

import (
	"github.com/itsneelabh/insights/pkg/analytics"
	"github.com/itsneelabh/insights/pkg/bootstrap"
	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/host"
)

// Re-export core types
type (
	// Bootstrap types
	Orchestrator = bootstrap.Orchestrator
	Snippet      = bootstrap.Snippet
	Call         = bootstrap.Call
	API          = bootstrap.API
	LoadOption   = bootstrap.Option

	// Configuration types
	Config = core.Config
	Option = core.Option

	// Interfaces
	Logger      = core.Logger
	Plugin      = core.Plugin
	Channel     = core.Channel
	Environment = host.Environment

	// Telemetry types
	EventTelemetry               = core.EventTelemetry
	PageViewTelemetry            = core.PageViewTelemetry
	PageViewPerformanceTelemetry = core.PageViewPerformanceTelemetry
	ExceptionTelemetry           = core.ExceptionTelemetry
	TraceTelemetry               = core.TraceTelemetry
	MetricTelemetry              = core.MetricTelemetry
	DependencyTelemetry          = core.DependencyTelemetry
	Envelope                     = core.Envelope
	TelemetryInitializer         = analytics.TelemetryInitializer

	// Errors
	FrameworkError = core.FrameworkError
)

// Re-export sentinel errors
var (
	ErrExtensionsInLegacyMode = core.ErrExtensionsInLegacyMode
	ErrMissingConfiguration   = core.ErrMissingConfiguration
	ErrAlreadyInitialized     = core.ErrAlreadyInitialized
	ErrQueueDrain             = core.ErrQueueDrain
)

// Re-export constructors and options
var (
	New           = bootstrap.New
	NewConfig     = core.NewConfig
	DefaultConfig = core.DefaultConfig

	WithInstrumentationKey    = core.WithInstrumentationKey
	WithConnectionString      = core.WithConnectionString
	WithEndpointURL           = core.WithEndpointURL
	WithServiceName           = core.WithServiceName
	WithDiagnosticLogInterval = core.WithDiagnosticLogInterval
	WithExporter              = core.WithExporter
	WithExtensions            = core.WithExtensions
	WithSessionStoreURL       = core.WithSessionStoreURL
	WithTelemetryFilter       = core.WithTelemetryFilter
	WithTeardownFlush         = core.WithTeardownFlush
	WithConfigFile            = core.WithConfigFile

	WithLogger      = bootstrap.WithLogger
	WithEnvironment = bootstrap.WithEnvironment
	WithChannel     = bootstrap.WithChannel

	IsConfigurationError = core.IsConfigurationError
	IsStateError         = core.IsStateError
)

// Init loads the SDK for cfg in standard (non-legacy) mode and returns the
// live orchestrator.
//
// Without WithEnvironment the SDK subscribes to SIGINT, SIGTERM and SIGHUP to
// flush on shutdown. After flushing for SIGINT or SIGTERM it raises the
// signal again, so the program still terminates. Programs with their own
// signal handling pass
// WithEnvironment(host.NewProcess(host.WithoutSignalReraise())) or call
// Unload themselves.
func Init(cfg *Config, opts ...LoadOption) (*Orchestrator, error) {
	snippet := &bootstrap.Snippet{Config: cfg}
	o := bootstrap.New(snippet, opts...)
	o.UpdateSnippetDefinitions(snippet)
	return o.Load(false)
}

// InitFromEnv builds the configuration from options layered over the
// environment (APPLICATIONINSIGHTS_CONNECTION_STRING, INSIGHTS_*) and loads
// the SDK with it.
func InitFromEnv(configOpts []Option, opts ...LoadOption) (*Orchestrator, error) {
	cfg, err := core.NewConfig(configOpts...)
	if err != nil {
		return nil, err
	}
	return Init(cfg, opts...)
}
