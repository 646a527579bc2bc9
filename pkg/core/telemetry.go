package core

import (
	"time"
)

// Base types carried by envelopes.
const (
	BaseTypeEvent               = "EventData"
	BaseTypePageView            = "PageviewData"
	BaseTypePageViewPerformance = "PageviewPerformanceData"
	BaseTypeException           = "ExceptionData"
	BaseTypeTrace               = "MessageData"
	BaseTypeMetric              = "MetricData"
	BaseTypeDependency          = "RemoteDependencyData"
)

// Context tag keys stamped on envelopes.
const (
	TagSDKVersion      = "ai.internal.sdkVersion"
	TagSDKSrc          = "ai.internal.sdkSrc"
	TagSnippetVersion  = "ai.internal.snippet"
	TagUserID          = "ai.user.id"
	TagUserAuthID      = "ai.user.authUserId"
	TagUserAccountID   = "ai.user.accountId"
	TagSessionID       = "ai.session.id"
	TagSessionIsFirst  = "ai.session.isFirst"
	TagOperationID     = "ai.operation.id"
	TagOperationName   = "ai.operation.name"
	TagApplicationVer  = "ai.application.ver"
	TagCloudRole       = "ai.cloud.role"
	TagDeviceType      = "ai.device.type"
	TagLocationAddress = "ai.location.ip"
)

// SeverityLevel of trace and exception telemetry.
type SeverityLevel int

const (
	SeverityVerbose SeverityLevel = iota
	SeverityInformation
	SeverityWarning
	SeverityError
	SeverityCritical
)

// Envelope is the unit that flows through the pipeline into channels.
type Envelope struct {
	Name         string
	BaseType     string
	Time         time.Time
	IKey         string
	Tags         map[string]string
	BaseData     map[string]interface{}
	Properties   map[string]string
	Measurements map[string]float64
}

// NewEnvelope creates an envelope of the given base type stamped with the current time.
func NewEnvelope(baseType, name string) *Envelope {
	return &Envelope{
		Name:         name,
		BaseType:     baseType,
		Time:         time.Now(),
		Tags:         make(map[string]string),
		BaseData:     make(map[string]interface{}),
		Properties:   make(map[string]string),
		Measurements: make(map[string]float64),
	}
}

// WithProperties merges custom properties and measurements into the envelope.
func (e *Envelope) WithProperties(props map[string]string, measurements map[string]float64) *Envelope {
	for k, v := range props {
		e.Properties[k] = v
	}
	for k, v := range measurements {
		e.Measurements[k] = v
	}
	return e
}

// EventTelemetry is a named user or application event.
type EventTelemetry struct {
	Name         string
	Properties   map[string]string
	Measurements map[string]float64
}

// PageViewTelemetry records a page (or screen) view.
type PageViewTelemetry struct {
	Name         string
	URI          string
	RefURI       string
	PageType     string
	IsLoggedIn   bool
	Duration     time.Duration
	Properties   map[string]string
	Measurements map[string]float64
}

// PageViewPerformanceTelemetry records navigation timing of a page view.
type PageViewPerformanceTelemetry struct {
	Name             string
	URI              string
	PerfTotal        time.Duration
	NetworkConnect   time.Duration
	SentRequest      time.Duration
	ReceivedResponse time.Duration
	DOMProcessing    time.Duration
	Properties       map[string]string
	Measurements     map[string]float64
}

// ExceptionTelemetry records a handled or unhandled error.
type ExceptionTelemetry struct {
	Err           error
	SeverityLevel SeverityLevel
	Properties    map[string]string
	Measurements  map[string]float64
}

// TraceTelemetry records a diagnostic message.
type TraceTelemetry struct {
	Message       string
	SeverityLevel SeverityLevel
	Properties    map[string]string
}

// MetricTelemetry records a pre-aggregated metric value.
type MetricTelemetry struct {
	Name        string
	Average     float64
	SampleCount int
	Min         float64
	Max         float64
	Properties  map[string]string
}

// DependencyTelemetry records a call to a remote dependency.
type DependencyTelemetry struct {
	ID           string
	Name         string
	Target       string
	Type         string
	Data         string
	Duration     time.Duration
	ResponseCode int
	Success      bool
	Properties   map[string]string
	Measurements map[string]float64
}
