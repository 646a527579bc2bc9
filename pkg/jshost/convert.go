package jshost

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"
)

func export(v goja.Value) interface{} {
	if isAbsent(v) {
		return nil
	}
	return v.Export()
}

// fields exports a telemetry object argument. Anything else yields nil,
// which reads as empty fields.
func fields(v goja.Value) map[string]interface{} {
	m, _ := export(v).(map[string]interface{})
	return m
}

func property(v goja.Value, key string) goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return obj.Get(key)
}

func str(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return toString(v)
}

func num(m map[string]interface{}, key string) float64 {
	return toFloat(m[key])
}

func boolean(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func strMap(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if val == nil {
			continue
		}
		out[k] = toString(val)
	}
	return out
}

func numMap(v interface{}) map[string]float64 {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, val := range m {
		out[k] = toFloat(val)
	}
	return out
}

// merge overlays extra on base; extra wins on conflicts.
func merge(base, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]string, len(extra))
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
