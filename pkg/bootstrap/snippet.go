package bootstrap

import (
	"sync"

	"github.com/itsneelabh/insights/pkg/analytics"
	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/dependencies"
	"github.com/itsneelabh/insights/pkg/properties"
)

// DefaultSnippetVersion is assumed when the embedding page does not report one.
const DefaultSnippetVersion = "2.0"

// Call is a deferred call recorded on the snippet before the SDK loaded. A
// returned error or a panic stops the queue drain.
type Call func() error

// Snippet is the stub an embedding page installs before the SDK is loaded:
// configuration plus the calls made so far.
//
// Until an API is bound with Orchestrator.UpdateSnippetDefinitions, every
// method records a Call on Queue. Afterwards methods forward to the live
// implementation, so callers holding the snippet never need the orchestrator.
type Snippet struct {
	Config  *core.Config
	Queue   []Call
	SV      string
	Version string

	// Published by Orchestrator.Load.
	Context      *properties.TelemetryContext
	Core         *core.Pipeline
	AppInsights  *analytics.Plugin
	Properties   *properties.Plugin
	Dependencies *dependencies.Plugin

	mu  sync.Mutex
	api *API
}

// API is the public surface published onto the snippet.
type API struct {
	TrackEvent                    func(core.EventTelemetry)
	TrackPageView                 func(core.PageViewTelemetry)
	TrackPageViewPerformance      func(core.PageViewPerformanceTelemetry)
	TrackException                func(core.ExceptionTelemetry)
	TrackTrace                    func(core.TraceTelemetry)
	TrackMetric                   func(core.MetricTelemetry)
	StartTrackPage                func(name string)
	StopTrackPage                 func(name, uri string, properties map[string]string, measurements map[string]float64)
	StartTrackEvent               func(name string)
	StopTrackEvent                func(name string, properties map[string]string, measurements map[string]float64)
	AddTelemetryInitializer       func(analytics.TelemetryInitializer)
	SetAuthenticatedUserContext   func(authenticatedUserID, accountID string, storeInCookie bool)
	ClearAuthenticatedUserContext func()
	TrackDependencyData           func(core.DependencyTelemetry)
	Flush                         func(async bool)
	OnUnloadFlush                 func(async bool)
}

func (s *Snippet) bound() *API {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api
}

func (s *Snippet) bind(api API) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.api = &api
}

func (s *Snippet) enqueue(call Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queue = append(s.Queue, call)
}

// Pending returns the number of recorded calls not yet drained.
func (s *Snippet) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Queue)
}

// Bound reports whether the live API has been published onto the snippet.
func (s *Snippet) Bound() bool {
	return s.bound() != nil
}

// The methods below mirror API. Before an API is bound each records a Call
// that re-invokes itself on the snippet; afterwards it forwards directly.

// TrackEvent forwards to API.TrackEvent or queues the call.
func (s *Snippet) TrackEvent(event core.EventTelemetry) {
	if api := s.bound(); api != nil {
		api.TrackEvent(event)
		return
	}
	s.enqueue(func() error { s.TrackEvent(event); return nil })
}

// TrackPageView forwards to API.TrackPageView or queues the call.
func (s *Snippet) TrackPageView(pv core.PageViewTelemetry) {
	if api := s.bound(); api != nil {
		api.TrackPageView(pv)
		return
	}
	s.enqueue(func() error { s.TrackPageView(pv); return nil })
}

// TrackPageViewPerformance forwards to API.TrackPageViewPerformance or queues the call.
func (s *Snippet) TrackPageViewPerformance(perf core.PageViewPerformanceTelemetry) {
	if api := s.bound(); api != nil {
		api.TrackPageViewPerformance(perf)
		return
	}
	s.enqueue(func() error { s.TrackPageViewPerformance(perf); return nil })
}

// TrackException forwards to API.TrackException or queues the call.
func (s *Snippet) TrackException(ex core.ExceptionTelemetry) {
	if api := s.bound(); api != nil {
		api.TrackException(ex)
		return
	}
	s.enqueue(func() error { s.TrackException(ex); return nil })
}

// TrackTrace forwards to API.TrackTrace or queues the call.
func (s *Snippet) TrackTrace(tr core.TraceTelemetry) {
	if api := s.bound(); api != nil {
		api.TrackTrace(tr)
		return
	}
	s.enqueue(func() error { s.TrackTrace(tr); return nil })
}

// TrackMetric forwards to API.TrackMetric or queues the call.
func (s *Snippet) TrackMetric(m core.MetricTelemetry) {
	if api := s.bound(); api != nil {
		api.TrackMetric(m)
		return
	}
	s.enqueue(func() error { s.TrackMetric(m); return nil })
}

// StartTrackPage forwards to API.StartTrackPage or queues the call.
func (s *Snippet) StartTrackPage(name string) {
	if api := s.bound(); api != nil {
		api.StartTrackPage(name)
		return
	}
	s.enqueue(func() error { s.StartTrackPage(name); return nil })
}

// StopTrackPage forwards to API.StopTrackPage or queues the call.
func (s *Snippet) StopTrackPage(name, uri string, properties map[string]string, measurements map[string]float64) {
	if api := s.bound(); api != nil {
		api.StopTrackPage(name, uri, properties, measurements)
		return
	}
	s.enqueue(func() error { s.StopTrackPage(name, uri, properties, measurements); return nil })
}

// StartTrackEvent forwards to API.StartTrackEvent or queues the call.
func (s *Snippet) StartTrackEvent(name string) {
	if api := s.bound(); api != nil {
		api.StartTrackEvent(name)
		return
	}
	s.enqueue(func() error { s.StartTrackEvent(name); return nil })
}

// StopTrackEvent forwards to API.StopTrackEvent or queues the call.
func (s *Snippet) StopTrackEvent(name string, properties map[string]string, measurements map[string]float64) {
	if api := s.bound(); api != nil {
		api.StopTrackEvent(name, properties, measurements)
		return
	}
	s.enqueue(func() error { s.StopTrackEvent(name, properties, measurements); return nil })
}

// AddTelemetryInitializer forwards to API.AddTelemetryInitializer or queues the call.
func (s *Snippet) AddTelemetryInitializer(fn analytics.TelemetryInitializer) {
	if api := s.bound(); api != nil {
		api.AddTelemetryInitializer(fn)
		return
	}
	s.enqueue(func() error { s.AddTelemetryInitializer(fn); return nil })
}

// SetAuthenticatedUserContext forwards to API.SetAuthenticatedUserContext or queues the call.
func (s *Snippet) SetAuthenticatedUserContext(authenticatedUserID, accountID string, storeInCookie bool) {
	if api := s.bound(); api != nil {
		api.SetAuthenticatedUserContext(authenticatedUserID, accountID, storeInCookie)
		return
	}
	s.enqueue(func() error {
		s.SetAuthenticatedUserContext(authenticatedUserID, accountID, storeInCookie)
		return nil
	})
}

// ClearAuthenticatedUserContext forwards to API.ClearAuthenticatedUserContext or queues the call.
func (s *Snippet) ClearAuthenticatedUserContext() {
	if api := s.bound(); api != nil {
		api.ClearAuthenticatedUserContext()
		return
	}
	s.enqueue(func() error { s.ClearAuthenticatedUserContext(); return nil })
}

// TrackDependencyData forwards to API.TrackDependencyData or queues the call.
func (s *Snippet) TrackDependencyData(dep core.DependencyTelemetry) {
	if api := s.bound(); api != nil {
		api.TrackDependencyData(dep)
		return
	}
	s.enqueue(func() error { s.TrackDependencyData(dep); return nil })
}

// Flush forwards to API.Flush or queues the call.
func (s *Snippet) Flush(async bool) {
	if api := s.bound(); api != nil {
		api.Flush(async)
		return
	}
	s.enqueue(func() error { s.Flush(async); return nil })
}

// OnUnloadFlush forwards to API.OnUnloadFlush or queues the call.
func (s *Snippet) OnUnloadFlush(async bool) {
	if api := s.bound(); api != nil {
		api.OnUnloadFlush(async)
		return
	}
	s.enqueue(func() error { s.OnUnloadFlush(async); return nil })
}
