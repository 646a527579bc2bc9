package jshost

import (
	"time"

	"github.com/dop251/goja"

	"github.com/itsneelabh/insights/pkg/bootstrap"
	"github.com/itsneelabh/insights/pkg/core"
)

// ScriptError carries an exception object passed to trackException.
type ScriptError struct {
	Name    string
	Message string
}

func (e *ScriptError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

func (p *Page) bindings(o *bootstrap.Orchestrator) map[string]func(goja.FunctionCall) goja.Value {
	undefined := goja.Undefined()
	return map[string]func(goja.FunctionCall) goja.Value{
		"trackEvent": func(call goja.FunctionCall) goja.Value {
			m := fields(call.Argument(0))
			event := core.EventTelemetry{
				Name:         str(m, "name"),
				Properties:   merge(strMap(m["properties"]), strMap(export(call.Argument(1)))),
				Measurements: numMap(m["measurements"]),
			}
			if p.initialize(core.BaseTypeEvent, &event.Name, &event.Properties, &event.Measurements) {
				o.TrackEvent(event)
			}
			return undefined
		},
		"trackPageView": func(call goja.FunctionCall) goja.Value {
			m := fields(call.Argument(0))
			pv := core.PageViewTelemetry{
				Name:         str(m, "name"),
				URI:          str(m, "uri"),
				RefURI:       str(m, "refUri"),
				PageType:     str(m, "pageType"),
				IsLoggedIn:   boolean(m, "isLoggedIn"),
				Duration:     millis(m, "duration"),
				Properties:   strMap(m["properties"]),
				Measurements: numMap(m["measurements"]),
			}
			if p.initialize(core.BaseTypePageView, &pv.Name, &pv.Properties, &pv.Measurements) {
				o.TrackPageView(pv)
			}
			return undefined
		},
		"trackPageViewPerformance": func(call goja.FunctionCall) goja.Value {
			m := fields(call.Argument(0))
			perf := core.PageViewPerformanceTelemetry{
				Name:             str(m, "name"),
				URI:              str(m, "uri"),
				PerfTotal:        millis(m, "perfTotal"),
				NetworkConnect:   millis(m, "networkConnect"),
				SentRequest:      millis(m, "sentRequest"),
				ReceivedResponse: millis(m, "receivedResponse"),
				DOMProcessing:    millis(m, "domProcessing"),
				Properties:       strMap(m["properties"]),
				Measurements:     numMap(m["measurements"]),
			}
			if p.initialize(core.BaseTypePageViewPerformance, &perf.Name, &perf.Properties, &perf.Measurements) {
				o.TrackPageViewPerformance(perf)
			}
			return undefined
		},
		"trackException": func(call goja.FunctionCall) goja.Value {
			m := fields(call.Argument(0))
			ex := core.ExceptionTelemetry{
				Err:           scriptError(property(call.Argument(0), "exception")),
				SeverityLevel: core.SeverityLevel(num(m, "severityLevel")),
				Properties:    strMap(m["properties"]),
				Measurements:  numMap(m["measurements"]),
			}
			var name string
			if ex.Err != nil {
				name = ex.Err.Error()
			}
			if p.initialize(core.BaseTypeException, &name, &ex.Properties, &ex.Measurements) {
				o.TrackException(ex)
			}
			return undefined
		},
		"trackTrace": func(call goja.FunctionCall) goja.Value {
			m := fields(call.Argument(0))
			tr := core.TraceTelemetry{
				Message:       str(m, "message"),
				SeverityLevel: core.SeverityLevel(num(m, "severityLevel")),
				Properties:    strMap(m["properties"]),
			}
			var measurements map[string]float64
			if p.initialize(core.BaseTypeTrace, &tr.Message, &tr.Properties, &measurements) {
				o.TrackTrace(tr)
			}
			return undefined
		},
		"trackMetric": func(call goja.FunctionCall) goja.Value {
			m := fields(call.Argument(0))
			metric := core.MetricTelemetry{
				Name:        str(m, "name"),
				Average:     num(m, "average"),
				SampleCount: int(num(m, "sampleCount")),
				Min:         num(m, "min"),
				Max:         num(m, "max"),
				Properties:  strMap(m["properties"]),
			}
			var measurements map[string]float64
			if p.initialize(core.BaseTypeMetric, &metric.Name, &metric.Properties, &measurements) {
				o.TrackMetric(metric)
			}
			return undefined
		},
		"trackDependencyData": func(call goja.FunctionCall) goja.Value {
			m := fields(call.Argument(0))
			dep := core.DependencyTelemetry{
				ID:           str(m, "id"),
				Name:         str(m, "name"),
				Target:       str(m, "target"),
				Type:         str(m, "type"),
				Data:         str(m, "data"),
				Duration:     millis(m, "duration"),
				ResponseCode: int(num(m, "responseCode")),
				Success:      boolean(m, "success"),
				Properties:   strMap(m["properties"]),
				Measurements: numMap(m["measurements"]),
			}
			if p.initialize(core.BaseTypeDependency, &dep.Name, &dep.Properties, &dep.Measurements) {
				o.TrackDependencyData(dep)
			}
			return undefined
		},
		"startTrackPage": func(call goja.FunctionCall) goja.Value {
			o.StartTrackPage(stringArg(call, 0))
			return undefined
		},
		"stopTrackPage": func(call goja.FunctionCall) goja.Value {
			o.StopTrackPage(stringArg(call, 0), stringArg(call, 1),
				strMap(export(call.Argument(2))), numMap(export(call.Argument(3))))
			return undefined
		},
		"startTrackEvent": func(call goja.FunctionCall) goja.Value {
			o.StartTrackEvent(stringArg(call, 0))
			return undefined
		},
		"stopTrackEvent": func(call goja.FunctionCall) goja.Value {
			o.StopTrackEvent(stringArg(call, 0),
				strMap(export(call.Argument(1))), numMap(export(call.Argument(2))))
			return undefined
		},
		"addTelemetryInitializer": func(call goja.FunctionCall) goja.Value {
			if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
				p.initializers = append(p.initializers, fn)
			}
			return undefined
		},
		"setAuthenticatedUserContext": func(call goja.FunctionCall) goja.Value {
			o.SetAuthenticatedUserContext(stringArg(call, 0), stringArg(call, 1), call.Argument(2).ToBoolean())
			return undefined
		},
		"clearAuthenticatedUserContext": func(call goja.FunctionCall) goja.Value {
			o.ClearAuthenticatedUserContext()
			return undefined
		},
		"flush": func(call goja.FunctionCall) goja.Value {
			o.Flush(asyncArg(call))
			return undefined
		},
		"onunloadFlush": func(call goja.FunctionCall) goja.Value {
			o.OnUnloadFlush(asyncArg(call))
			return undefined
		},
	}
}

// initialize runs script initializers over an item the page is about to
// track. Each sees {baseType, name, properties, measurements}; for traces
// name is the message and for exceptions a read-only description. Changes are copied back, and an initializer that
// returns false drops the item. A throwing initializer is skipped.
//
// Script initializers only see telemetry tracked from page code. Items
// produced elsewhere, such as internal diagnostics or instrumented HTTP
// calls, may be created on other goroutines and never enter the runtime.
func (p *Page) initialize(baseType string, name *string, props *map[string]string, measurements *map[string]float64) bool {
	if len(p.initializers) == 0 {
		return true
	}

	item := p.vm.NewObject()
	_ = item.Set("baseType", baseType)
	_ = item.Set("name", *name)
	_ = item.Set("properties", toObject(p.vm, *props))
	_ = item.Set("measurements", toNumObject(p.vm, *measurements))

	for _, fn := range p.initializers {
		result, err := fn(goja.Undefined(), item)
		if err != nil {
			p.logger.Warn("Telemetry initializer failed", map[string]interface{}{
				"baseType": baseType,
				"error":    err.Error(),
			})
			continue
		}
		if isFalse(result) {
			return false
		}
	}

	*name = stringValue(item.Get("name"))
	*props = strMap(export(item.Get("properties")))
	*measurements = numMap(export(item.Get("measurements")))
	return true
}

func toObject(vm *goja.Runtime, m map[string]string) *goja.Object {
	obj := vm.NewObject()
	for k, v := range m {
		_ = obj.Set(k, v)
	}
	return obj
}

func toNumObject(vm *goja.Runtime, m map[string]float64) *goja.Object {
	obj := vm.NewObject()
	for k, v := range m {
		_ = obj.Set(k, v)
	}
	return obj
}

// isFalse reports a strict boolean false; undefined keeps the item.
func isFalse(v goja.Value) bool {
	if isAbsent(v) {
		return false
	}
	b, ok := v.Export().(bool)
	return ok && !b
}

func stringArg(call goja.FunctionCall, i int) string {
	return stringValue(call.Argument(i))
}

// asyncArg defaults to true like the browser API.
func asyncArg(call goja.FunctionCall) bool {
	v := call.Argument(0)
	if isAbsent(v) {
		return true
	}
	return v.ToBoolean()
}

func millis(m map[string]interface{}, key string) time.Duration {
	return time.Duration(num(m, key) * float64(time.Millisecond))
}

// scriptError reads name and message directly since neither is an
// enumerable property of an Error instance.
func scriptError(v goja.Value) error {
	if isAbsent(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return &ScriptError{Message: v.String()}
	}
	if err, ok := obj.Export().(error); ok {
		return err
	}
	return &ScriptError{
		Name:    stringValue(obj.Get("name")),
		Message: stringValue(obj.Get("message")),
	}
}
