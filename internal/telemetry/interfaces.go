package telemetry

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Logger exposes the logging capabilities required by simulation components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapZerolog adapts a zerolog logger to the Logger interface. Messages are
// written at warn level: components only Printf when an invariant slipped.
func WrapZerolog(logger zerolog.Logger) Logger {
	return &zerologAdapter{logger: logger}
}

type zerologAdapter struct {
	logger zerolog.Logger
}

func (l *zerologAdapter) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.logger.Warn().Msg(fmt.Sprintf(format, args...))
}

// Metrics exposes the telemetry methods required by simulation components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// Counters is an in-process Metrics implementation with a snapshot view,
// used by the headless runner report and by tests.
type Counters struct {
	mu     sync.Mutex
	values map[string]uint64
}

// NewCounters constructs an empty counter set.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]uint64)}
}

func (c *Counters) Add(key string, delta uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]uint64)
	}
	c.values[key] += delta
}

func (c *Counters) Store(key string, value uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]uint64)
	}
	c.values[key] = value
}

// Snapshot returns a copy of every recorded value.
func (c *Counters) Snapshot() map[string]uint64 {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Fanout forwards every call to each non-nil backend.
func Fanout(backends ...Metrics) Metrics {
	filtered := make(multiMetrics, 0, len(backends))
	for _, backend := range backends {
		if backend != nil {
			filtered = append(filtered, backend)
		}
	}
	return filtered
}

type multiMetrics []Metrics

func (m multiMetrics) Add(key string, delta uint64) {
	for _, backend := range m {
		backend.Add(key, delta)
	}
}

func (m multiMetrics) Store(key string, value uint64) {
	for _, backend := range m {
		backend.Store(key, value)
	}
}

// JournalDrops adapts Metrics to the journal drop reporter.
func JournalDrops(metrics Metrics) interface{ RecordJournalDrop(string) } {
	return journalDrops{metrics: metrics}
}

type journalDrops struct {
	metrics Metrics
}

func (j journalDrops) RecordJournalDrop(metric string) {
	if j.metrics == nil {
		return
	}
	j.metrics.Add(metric, 1)
}
