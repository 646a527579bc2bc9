package analytics

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/itsneelabh/insights/pkg/core"
)

const maxNameLength = 150

// TrackEvent records a named event.
func (p *Plugin) TrackEvent(event core.EventTelemetry) {
	name := p.sanitizeName(event.Name)
	env := core.NewEnvelope(core.BaseTypeEvent, name)
	env.BaseData["name"] = name
	env.WithProperties(event.Properties, event.Measurements)
	p.track(env, core.MsgTrackEventFailed, "trackEvent")
}

// TrackPageView records a page view and starts a new view for the per-view
// limits.
func (p *Plugin) TrackPageView(pv core.PageViewTelemetry) {
	for _, fn := range p.onPageView {
		fn()
	}
	if diag := p.diagnostics(); diag != nil {
		diag.ResetInternalMessageCount()
	}

	name := pv.Name
	if name == "" {
		name = pv.URI
	}
	name = p.sanitizeName(name)
	env := core.NewEnvelope(core.BaseTypePageView, name)
	env.BaseData["name"] = name
	env.BaseData["uri"] = pv.URI
	if pv.RefURI != "" {
		env.BaseData["refUri"] = pv.RefURI
	}
	if pv.PageType != "" {
		env.BaseData["pageType"] = pv.PageType
	}
	env.BaseData["isLoggedIn"] = pv.IsLoggedIn
	if pv.Duration > 0 {
		env.BaseData["duration"] = pv.Duration
	}
	env.WithProperties(pv.Properties, pv.Measurements)
	p.track(env, core.MsgTrackPVFailed, "trackPageView")
}

// TrackPageViewPerformance records navigation timing of a page view.
func (p *Plugin) TrackPageViewPerformance(perf core.PageViewPerformanceTelemetry) {
	name := p.sanitizeName(perf.Name)
	env := core.NewEnvelope(core.BaseTypePageViewPerformance, name)
	env.BaseData["name"] = name
	env.BaseData["uri"] = perf.URI
	env.BaseData["duration"] = perf.PerfTotal
	env.BaseData["perfTotal"] = perf.PerfTotal
	env.BaseData["networkConnect"] = perf.NetworkConnect
	env.BaseData["sentRequest"] = perf.SentRequest
	env.BaseData["receivedResponse"] = perf.ReceivedResponse
	env.BaseData["domProcessing"] = perf.DOMProcessing
	env.WithProperties(perf.Properties, perf.Measurements)
	p.track(env, core.MsgTrackPVFailed, "trackPageViewPerformance")
}

// TrackException records an error. A nil error is reported and ignored.
func (p *Plugin) TrackException(ex core.ExceptionTelemetry) {
	if ex.Err == nil {
		if diag := p.diagnostics(); diag != nil {
			diag.ThrowInternal(core.SeverityCriticalInternal, core.MsgTrackExceptionFailed,
				"trackException failed, exception will not be collected: no error provided", nil)
		}
		return
	}
	typeName := fmt.Sprintf("%T", ex.Err)
	env := core.NewEnvelope(core.BaseTypeException, typeName)
	env.BaseData["typeName"] = typeName
	env.BaseData["message"] = ex.Err.Error()
	env.BaseData["severityLevel"] = ex.SeverityLevel
	env.BaseData["success"] = false
	env.WithProperties(ex.Properties, ex.Measurements)
	p.track(env, core.MsgTrackExceptionFailed, "trackException")
}

// TrackTrace records a diagnostic message.
func (p *Plugin) TrackTrace(tr core.TraceTelemetry) {
	env := core.NewEnvelope(core.BaseTypeTrace, truncate(tr.Message, maxNameLength))
	env.BaseData["message"] = tr.Message
	env.BaseData["severityLevel"] = tr.SeverityLevel
	env.WithProperties(tr.Properties, nil)
	p.track(env, core.MsgTrackTraceFailed, "trackTrace")
}

// TrackMetric records a pre-aggregated metric. The average is also recorded
// on a histogram named after the metric.
func (p *Plugin) TrackMetric(m core.MetricTelemetry) {
	name := p.sanitizeName(m.Name)
	count := m.SampleCount
	if count <= 0 {
		count = 1
	}
	minimum, maximum := m.Min, m.Max
	if m.SampleCount <= 0 {
		minimum, maximum = m.Average, m.Average
	}

	env := core.NewEnvelope(core.BaseTypeMetric, name)
	env.BaseData["name"] = name
	env.BaseData["average"] = m.Average
	env.BaseData["sampleCount"] = count
	env.BaseData["min"] = minimum
	env.BaseData["max"] = maximum
	env.WithProperties(m.Properties, nil)

	if err := p.metrics.record(context.Background(), name, m.Average, m.Properties); err != nil {
		if diag := p.diagnostics(); diag != nil {
			diag.ThrowInternal(core.SeverityWarningInternal, core.MsgTrackMetricFailed,
				"trackMetric could not record the histogram", map[string]string{"exception": err.Error()})
		}
	}
	p.track(env, core.MsgTrackMetricFailed, "trackMetric")
}

func (p *Plugin) diagnostics() *core.DiagnosticLogger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.diag
}

// sanitizeName trims, strips control characters and truncates a name.
func (p *Plugin) sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	if cleaned != name {
		if diag := p.diagnostics(); diag != nil {
			diag.ThrowInternal(core.SeverityWarningInternal, core.MsgIllegalCharsInName,
				"Name contains control characters, they were removed", map[string]string{"name": cleaned})
		}
	}
	return truncate(cleaned, maxNameLength)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
