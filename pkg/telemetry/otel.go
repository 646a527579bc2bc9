package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer and meter name used by the SDK.
const InstrumentationName = "github.com/itsneelabh/insights"

// InstrumentationKeyHeader carries the instrumentation key on OTLP exports.
const InstrumentationKeyHeader = "x-instrumentation-key"

// Config selects and configures the exporter.
type Config struct {
	ServiceName        string
	ServiceVersion     string
	InstrumentationKey string
	// Exporter is "otlp", "stdout" or "none".
	Exporter string
	// Endpoint is a full URL; for otlp only scheme and host are used.
	Endpoint string
	// SpanExporter overrides Exporter.
	SpanExporter sdktrace.SpanExporter
	// Output receives stdout exports. Defaults to os.Stdout.
	Output io.Writer
	// MeterProvider defaults to the global provider.
	MeterProvider metric.MeterProvider
}

// Provider owns the tracer provider the channel exports through.
type Provider struct {
	TraceProvider *sdktrace.TracerProvider
	MeterProvider metric.MeterProvider
	Tracer        trace.Tracer
	Meter         metric.Meter
	exporter      string
	resource      *resource.Resource
}

// NewProvider creates a provider. It does not install global providers other
// than the W3C trace-context propagator used by instrumented HTTP clients.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = os.Getenv("OTEL_SERVICE_NAME")
		if cfg.ServiceName == "" {
			cfg.ServiceName = "insights-sdk"
		}
	}

	res, err := NewResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTEL resource: %w", err)
	}

	exporter := cfg.SpanExporter
	name := "custom"
	if exporter == nil {
		name = strings.ToLower(cfg.Exporter)
		exporter, err = newExporter(ctx, name, cfg)
		if err != nil {
			return nil, err
		}
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFromEnv()),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Provider{
		TraceProvider: tp,
		MeterProvider: mp,
		Tracer:        tp.Tracer(InstrumentationName),
		Meter:         mp.Meter(InstrumentationName),
		exporter:      name,
		resource:      res,
	}, nil
}

// NewResource describes the instrumented application.
func NewResource(cfg Config) (*resource.Resource, error) {
	version := cfg.ServiceVersion
	if version == "" {
		version = getServiceVersion()
	}
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(version),
		semconv.DeploymentEnvironmentKey.String(getEnvironment()),
		attribute.String("insights.ikey", cfg.InstrumentationKey),
	), nil
}

func newExporter(ctx context.Context, name string, cfg Config) (sdktrace.SpanExporter, error) {
	switch name {
	case "", "otlp":
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpointURL(cfg.Endpoint))
		}
		if cfg.InstrumentationKey != "" {
			opts = append(opts, otlptracegrpc.WithHeaders(map[string]string{
				InstrumentationKeyHeader: cfg.InstrumentationKey,
			}))
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil
	case "stdout":
		w := cfg.Output
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown exporter %q", name)
	}
}

// Exporter returns the name of the exporter in use.
func (p *Provider) Exporter() string {
	return p.exporter
}

// ForceFlush exports every ended span.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.TraceProvider.ForceFlush(ctx)
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.TraceProvider != nil {
		return p.TraceProvider.Shutdown(ctx)
	}
	return nil
}

func samplerFromEnv() sdktrace.Sampler {
	if os.Getenv("OTEL_TRACES_SAMPLER") != "traceidratio" {
		return sdktrace.AlwaysSample()
	}
	ratio, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(ratio)
}

func getServiceVersion() string {
	if version := os.Getenv("OTEL_SERVICE_VERSION"); version != "" {
		return version
	}
	return "1.0.0"
}

func getEnvironment() string {
	if env := os.Getenv("DEPLOYMENT_ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}
