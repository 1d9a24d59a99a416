package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "squad-clash/core/internal/telemetry"

// Meter returns the global meter. It is a no-op until a provider is installed.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// OtelMetrics implements Metrics on top of an OpenTelemetry meter. Counters
// and gauges are created lazily per key.
type OtelMetrics struct {
	meter    metric.Meter
	prefix   string
	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	gauges   map[string]metric.Int64Gauge
	onError  func(error)
}

// NewOtelMetrics builds the adapter. A nil meter uses the global meter.
func NewOtelMetrics(meter metric.Meter, prefix string, onError func(error)) *OtelMetrics {
	if meter == nil {
		meter = Meter()
	}
	return &OtelMetrics{
		meter:    meter,
		prefix:   strings.TrimSuffix(prefix, "."),
		counters: make(map[string]metric.Int64Counter),
		gauges:   make(map[string]metric.Int64Gauge),
		onError:  onError,
	}
}

func (m *OtelMetrics) name(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + "." + key
}

// Add increments the counter for key.
func (m *OtelMetrics) Add(key string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	counter, ok := m.counters[key]
	if !ok {
		var err error
		counter, err = m.meter.Int64Counter(m.name(key), metric.WithDescription("squad-clash counter "+key))
		if err != nil {
			m.mu.Unlock()
			m.fail(fmt.Errorf("creating counter %s: %w", key, err))
			return
		}
		m.counters[key] = counter
	}
	m.mu.Unlock()
	counter.Add(context.Background(), int64(delta))
}

// Store records the latest value of the gauge for key.
func (m *OtelMetrics) Store(key string, value uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	gauge, ok := m.gauges[key]
	if !ok {
		var err error
		gauge, err = m.meter.Int64Gauge(m.name(key), metric.WithDescription("squad-clash gauge "+key))
		if err != nil {
			m.mu.Unlock()
			m.fail(fmt.Errorf("creating gauge %s: %w", key, err))
			return
		}
		m.gauges[key] = gauge
	}
	m.mu.Unlock()
	gauge.Record(context.Background(), int64(value))
}

func (m *OtelMetrics) fail(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}
