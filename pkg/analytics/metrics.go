package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName        = "github.com/itsneelabh/insights/analytics"
	metricNamePrefix = "custom."
)

// metricRecorder caches one histogram per custom metric name.
type metricRecorder struct {
	meter      metric.Meter
	histograms map[string]metric.Float64Histogram
	mu         sync.RWMutex
}

func newMetricRecorder(mp metric.MeterProvider) *metricRecorder {
	return &metricRecorder{
		meter:      mp.Meter(meterName),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *metricRecorder) record(ctx context.Context, name string, value float64, properties map[string]string) error {
	instrument := instrumentName(name)

	m.mu.RLock()
	histogram, exists := m.histograms[instrument]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if histogram, exists = m.histograms[instrument]; !exists {
			var err error
			histogram, err = m.meter.Float64Histogram(instrument,
				metric.WithDescription("Custom metric "+name))
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("failed to create histogram %s: %w", instrument, err)
			}
			m.histograms[instrument] = histogram
		}
		m.mu.Unlock()
	}

	histogram.Record(ctx, value, metric.WithAttributes(propertyAttributes(properties)...))
	return nil
}

// instrumentName maps a metric name onto the instrument name syntax.
func instrumentName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '.', r == '-', r == '/':
			return r
		}
		return '_'
	}, name)
	if cleaned == "" {
		cleaned = "unnamed"
	}
	return truncate(metricNamePrefix+cleaned, 255)
}

func propertyAttributes(properties map[string]string) []attribute.KeyValue {
	if len(properties) == 0 {
		return nil
	}
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, properties[k]))
	}
	return attrs
}
