package telemetry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestWrapZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := WrapZerolog(zerolog.New(&buf))
	logger.Printf("hello %s", "world")
	if got := buf.String(); !strings.Contains(got, `"message":"hello world"`) || !strings.Contains(got, `"level":"warn"`) {
		t.Fatalf("unexpected log output: %q", got)
	}

	var nilFunc LoggerFunc
	nilFunc.Printf("ignored %d", 1)
}

func TestCounters(t *testing.T) {
	counters := NewCounters()
	counters.Add("test_counter", 2)
	counters.Store("test_counter", 5)
	counters.Add("test_counter", 3)

	if got := counters.Snapshot()["test_counter"]; got != 8 {
		t.Fatalf("unexpected metric value: %d", got)
	}

	var nilCounters *Counters
	nilCounters.Add("ignored", 1)
	nilCounters.Store("ignored", 1)
}

func TestFanoutAndJournalDrops(t *testing.T) {
	a, b := NewCounters(), NewCounters()
	metrics := Fanout(a, nil, b)
	JournalDrops(metrics).RecordJournalDrop("journal_patch_after_removal")
	metrics.Store("gauge", 4)

	for _, counters := range []*Counters{a, b} {
		snapshot := counters.Snapshot()
		if snapshot["journal_patch_after_removal"] != 1 || snapshot["gauge"] != 4 {
			t.Fatalf("expected both backends to receive values, got %v", snapshot)
		}
	}
}

func TestOtelMetricsWithNoopMeter(t *testing.T) {
	var failures int
	metrics := NewOtelMetrics(noop.NewMeterProvider().Meter("test"), "sim.", func(error) { failures++ })
	metrics.Add("ticks", 1)
	metrics.Add("ticks", 1)
	metrics.Store("commands_pending", 3)
	if failures != 0 {
		t.Fatalf("expected noop instruments to be created without error")
	}
	if len(metrics.counters) != 1 || len(metrics.gauges) != 1 {
		t.Fatalf("expected instruments to be cached per key")
	}
}
