package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values applied when a field is left at its zero value.
const (
	DefaultDiagnosticLogInterval = 10000 // ms
	DefaultMaxBatchSizeInBytes   = 102400
	DefaultMaxBatchInterval      = 15000 // ms
	DefaultMaxAjaxCallsPerView   = 500
	DefaultSessionRenewalMs      = 30 * 60 * 1000
	DefaultSessionExpirationMs   = 24 * 60 * 60 * 1000
	DefaultLoggingLevelTelemetry = 1
)

// Config is the snippet configuration object. Keys match the camelCase names an
// embedding page writes into the snippet, so a page's config can be decoded
// directly from JSON or YAML.
//
// Configuration priority, lowest first:
//  1. DefaultConfig
//  2. Config file (LoadFromFile)
//  3. Environment variables (LoadFromEnv)
//  4. Functional options
type Config struct {
	InstrumentationKey string `json:"instrumentationKey,omitempty" yaml:"instrumentationKey" env:"INSIGHTS_INSTRUMENTATION_KEY"`
	ConnectionString   string `json:"connectionString,omitempty" yaml:"connectionString" env:"APPLICATIONINSIGHTS_CONNECTION_STRING"`
	EndpointURL        string `json:"endpointUrl,omitempty" yaml:"endpointUrl" env:"INSIGHTS_ENDPOINT_URL"`
	ServiceName        string `json:"serviceName,omitempty" yaml:"serviceName" env:"INSIGHTS_SERVICE_NAME,OTEL_SERVICE_NAME"`

	// Diagnostics
	DiagnosticLogInterval int  `json:"diagnosticLogInterval,omitempty" yaml:"diagnosticLogInterval" env:"INSIGHTS_DIAGNOSTIC_LOG_INTERVAL" default:"10000"`
	LoggingLevelConsole   int  `json:"loggingLevelConsole,omitempty" yaml:"loggingLevelConsole" env:"INSIGHTS_LOGGING_LEVEL_CONSOLE" default:"0"`
	LoggingLevelTelemetry int  `json:"loggingLevelTelemetry,omitempty" yaml:"loggingLevelTelemetry" env:"INSIGHTS_LOGGING_LEVEL_TELEMETRY" default:"1"`
	EnableDebug           bool `json:"enableDebug,omitempty" yaml:"enableDebug" env:"INSIGHTS_DEBUG"`

	// Channel
	DisableTelemetry    bool   `json:"disableTelemetry,omitempty" yaml:"disableTelemetry" env:"INSIGHTS_DISABLE_TELEMETRY"`
	MaxBatchSizeInBytes int    `json:"maxBatchSizeInBytes,omitempty" yaml:"maxBatchSizeInBytes" default:"102400"`
	MaxBatchInterval    int    `json:"maxBatchInterval,omitempty" yaml:"maxBatchInterval" default:"15000"`
	Exporter            string `json:"exporter,omitempty" yaml:"exporter" env:"INSIGHTS_EXPORTER" default:"otlp"`

	// Teardown housekeeping
	DisableFlushOnBeforeUnload bool `json:"disableFlushOnBeforeUnload,omitempty" yaml:"disableFlushOnBeforeUnload" env:"INSIGHTS_DISABLE_FLUSH_ON_BEFORE_UNLOAD"`
	DisableFlushOnUnload       bool `json:"disableFlushOnUnload,omitempty" yaml:"disableFlushOnUnload" env:"INSIGHTS_DISABLE_FLUSH_ON_UNLOAD"`

	// Dependencies
	DisableAjaxTracking bool `json:"disableAjaxTracking,omitempty" yaml:"disableAjaxTracking" env:"INSIGHTS_DISABLE_AJAX_TRACKING"`
	MaxAjaxCallsPerView int  `json:"maxAjaxCallsPerView,omitempty" yaml:"maxAjaxCallsPerView" default:"500"`

	// Session
	SessionRenewalMs    int    `json:"sessionRenewalMs,omitempty" yaml:"sessionRenewalMs" default:"1800000"`
	SessionExpirationMs int    `json:"sessionExpirationMs,omitempty" yaml:"sessionExpirationMs" default:"86400000"`
	SessionStoreURL     string `json:"sessionStoreUrl,omitempty" yaml:"sessionStoreUrl" env:"INSIGHTS_SESSION_STORE_URL,REDIS_URL"`

	// Analytics
	NamePrefix      string `json:"namePrefix,omitempty" yaml:"namePrefix"`
	TelemetryFilter string `json:"telemetryFilter,omitempty" yaml:"telemetryFilter" env:"INSIGHTS_TELEMETRY_FILTER"`

	// Extensions are additional plugins initialized after the fixed plugin set.
	// They are rejected in legacy mode.
	Extensions []Plugin `json:"-" yaml:"-"`
}

// Option is a functional option for configuring the SDK.
// Options are applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DiagnosticLogInterval: DefaultDiagnosticLogInterval,
		LoggingLevelTelemetry: DefaultLoggingLevelTelemetry,
		MaxBatchSizeInBytes:   DefaultMaxBatchSizeInBytes,
		MaxBatchInterval:      DefaultMaxBatchInterval,
		MaxAjaxCallsPerView:   DefaultMaxAjaxCallsPerView,
		SessionRenewalMs:      DefaultSessionRenewalMs,
		SessionExpirationMs:   DefaultSessionExpirationMs,
		Exporter:              "otlp",
	}
}

// LoadFromEnv loads configuration from environment variables.
// Only variables that are set are applied, so values from a file or a snippet
// are kept unless explicitly overridden.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("INSIGHTS_INSTRUMENTATION_KEY"); v != "" {
		c.InstrumentationKey = v
	}
	if v := os.Getenv("APPLICATIONINSIGHTS_CONNECTION_STRING"); v != "" {
		c.ConnectionString = v
	}
	if v := os.Getenv("INSIGHTS_ENDPOINT_URL"); v != "" {
		c.EndpointURL = v
	}
	if v := os.Getenv("INSIGHTS_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	} else if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}

	if v := os.Getenv("INSIGHTS_DIAGNOSTIC_LOG_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INSIGHTS_DIAGNOSTIC_LOG_INTERVAL=%q: %w", v, ErrInvalidConfiguration)
		}
		c.DiagnosticLogInterval = n
	}
	if v := os.Getenv("INSIGHTS_LOGGING_LEVEL_CONSOLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LoggingLevelConsole = n
		}
	}
	if v := os.Getenv("INSIGHTS_LOGGING_LEVEL_TELEMETRY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LoggingLevelTelemetry = n
		}
	}
	if v := os.Getenv("INSIGHTS_DEBUG"); v != "" {
		c.EnableDebug = parseBool(v)
	}

	if v := os.Getenv("INSIGHTS_DISABLE_TELEMETRY"); v != "" {
		c.DisableTelemetry = parseBool(v)
	}
	if v := os.Getenv("INSIGHTS_EXPORTER"); v != "" {
		c.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("INSIGHTS_DISABLE_FLUSH_ON_BEFORE_UNLOAD"); v != "" {
		c.DisableFlushOnBeforeUnload = parseBool(v)
	}
	if v := os.Getenv("INSIGHTS_DISABLE_FLUSH_ON_UNLOAD"); v != "" {
		c.DisableFlushOnUnload = parseBool(v)
	}
	if v := os.Getenv("INSIGHTS_DISABLE_AJAX_TRACKING"); v != "" {
		c.DisableAjaxTracking = parseBool(v)
	}
	if v := os.Getenv("INSIGHTS_SESSION_STORE_URL"); v != "" {
		c.SessionStoreURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" && c.SessionStoreURL == "" {
		c.SessionStoreURL = v
	}
	if v := os.Getenv("INSIGHTS_TELEMETRY_FILTER"); v != "" {
		c.TelemetryFilter = v
	}

	return nil
}

// LoadFromFile loads a snippet configuration from a JSON or YAML file.
//
// Example YAML:
//
//	connectionString: "InstrumentationKey=...;IngestionEndpoint=https://..."
//	diagnosticLogInterval: 5000
//	disableFlushOnUnload: true
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- extension is validated
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %v: %w", err, ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %v: %w", err, ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.InstrumentationKey == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "please provide instrumentation key",
			Err:     ErrMissingConfiguration,
		}
	}

	switch c.Exporter {
	case "", "otlp", "stdout", "none":
	default:
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown exporter: %s", c.Exporter),
			Err:     ErrInvalidConfiguration,
		}
	}

	return nil
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithInstrumentationKey sets the instrumentation key explicitly.
func WithInstrumentationKey(key string) Option {
	return func(c *Config) error {
		c.InstrumentationKey = key
		return nil
	}
}

// WithConnectionString sets the connection string. It is parsed when the
// orchestrator is constructed, not here.
func WithConnectionString(cs string) Option {
	return func(c *Config) error {
		c.ConnectionString = cs
		return nil
	}
}

// WithEndpointURL sets the ingestion endpoint.
func WithEndpointURL(url string) Option {
	return func(c *Config) error {
		c.EndpointURL = url
		return nil
	}
}

// WithServiceName sets the service name reported on exported spans.
func WithServiceName(name string) Option {
	return func(c *Config) error {
		c.ServiceName = name
		return nil
	}
}

// WithDiagnosticLogInterval sets the internal log polling interval in milliseconds.
func WithDiagnosticLogInterval(ms int) Option {
	return func(c *Config) error {
		c.DiagnosticLogInterval = ms
		return nil
	}
}

// WithExporter selects the channel exporter: otlp, stdout or none.
func WithExporter(name string) Option {
	return func(c *Config) error {
		name = strings.ToLower(name)
		switch name {
		case "otlp", "stdout", "none":
			c.Exporter = name
			return nil
		}
		return &FrameworkError{
			Op:      "WithExporter",
			Kind:    "config",
			Message: fmt.Sprintf("unknown exporter: %s", name),
			Err:     ErrInvalidConfiguration,
		}
	}
}

// WithExtensions appends plugins that are initialized after the fixed plugin set.
func WithExtensions(plugins ...Plugin) Option {
	return func(c *Config) error {
		c.Extensions = append(c.Extensions, plugins...)
		return nil
	}
}

// WithSessionStoreURL points session backup at a Redis instance.
func WithSessionStoreURL(url string) Option {
	return func(c *Config) error {
		c.SessionStoreURL = url
		return nil
	}
}

// WithTelemetryFilter sets an expression that must evaluate to true for an
// item to be sent.
func WithTelemetryFilter(expression string) Option {
	return func(c *Config) error {
		c.TelemetryFilter = expression
		return nil
	}
}

// WithTeardownFlush toggles the before-unload and unload housekeeping hooks.
func WithTeardownFlush(beforeUnload, unload bool) Option {
	return func(c *Config) error {
		c.DisableFlushOnBeforeUnload = !beforeUnload
		c.DisableFlushOnUnload = !unload
		return nil
	}
}

// WithConfigFile loads configuration from a file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// NewConfig creates a configuration from defaults, environment and options.
// Validation is left to pipeline initialization because the instrumentation
// key may still arrive through a connection string.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return cfg, nil
}
