package analytics

import (
	"sync"
	"time"

	"github.com/itsneelabh/insights/pkg/core"
)

// timers tracks named start times of timed pages or events.
type timers struct {
	mu      sync.Mutex
	started map[string]time.Time
	now     func() time.Time
}

func newTimers(now func() time.Time) *timers {
	return &timers{started: make(map[string]time.Time), now: now}
}

// start returns false when name is already running.
func (t *timers) start(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, running := t.started[name]; running {
		return false
	}
	t.started[name] = t.now()
	return true
}

// stop returns the elapsed time, or false when name was never started.
func (t *timers) stop(name string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	begin, running := t.started[name]
	if !running {
		return 0, false
	}
	delete(t.started, name)
	return t.now().Sub(begin), true
}

// StartTrackPage starts timing a page view. StopTrackPage with the same name
// records it.
func (p *Plugin) StartTrackPage(name string) {
	if !p.pageTimers.start(name) {
		p.warn(core.MsgStartTrackFailed, "startTrackPage called more than once for this event without calling stop", name)
	}
}

// StopTrackPage records the page view started with StartTrackPage(name).
func (p *Plugin) StopTrackPage(name, uri string, properties map[string]string, measurements map[string]float64) {
	elapsed, ok := p.pageTimers.stop(name)
	if !ok {
		p.warn(core.MsgStopTrackFailed, "stopTrackPage called without a corresponding start", name)
		return
	}
	p.TrackPageView(core.PageViewTelemetry{
		Name:         name,
		URI:          uri,
		Duration:     elapsed,
		Properties:   properties,
		Measurements: measurements,
	})
}

// StartTrackEvent starts timing an event. StopTrackEvent with the same name
// records it with a "duration" measurement in milliseconds.
func (p *Plugin) StartTrackEvent(name string) {
	if !p.eventTimers.start(name) {
		p.warn(core.MsgStartTrackEventFailed, "startTrackEvent called more than once for this event without calling stop", name)
	}
}

// StopTrackEvent records the event started with StartTrackEvent(name).
func (p *Plugin) StopTrackEvent(name string, properties map[string]string, measurements map[string]float64) {
	elapsed, ok := p.eventTimers.stop(name)
	if !ok {
		p.warn(core.MsgStopTrackEventFailed, "stopTrackEvent called without a corresponding start", name)
		return
	}
	m := make(map[string]float64, len(measurements)+1)
	for k, v := range measurements {
		m[k] = v
	}
	m["duration"] = float64(elapsed) / float64(time.Millisecond)
	p.TrackEvent(core.EventTelemetry{Name: name, Properties: properties, Measurements: m})
}

func (p *Plugin) warn(id core.MessageID, msg, name string) {
	if diag := p.diagnostics(); diag != nil {
		diag.ThrowInternal(core.SeverityWarningInternal, id, msg, map[string]string{"name": name})
	}
}
