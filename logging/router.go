package logging

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

// NamedSink attaches a sink to the router. Categories restricts the sink to
// events of those categories; empty means every category.
type NamedSink struct {
	Name       string
	Sink       Sink
	Categories []string
}

// Router hands gameplay events to sinks. Publish runs on the simulation
// goroutine and never waits: each sink drains its own bounded queue, and
// an event that finds a queue full is dropped and counted.
type Router struct {
	clock    Clock
	log      zerolog.Logger
	floor    Severity
	floors   map[string]Severity
	fields   map[string]any
	interval time.Duration

	routes []*route
	wg     sync.WaitGroup
	closed atomic.Bool
	mu     sync.RWMutex // held for reading while publishing, for writing on close

	published  atomic.Uint64
	dropped    atomic.Uint64
	nextWarn   atomic.Int64
	categoryMu sync.Mutex
	categories map[string]uint64
}

// RouterStats summarises what the router has seen since it started.
type RouterStats struct {
	EventsTotal  uint64            `json:"eventsTotal"`
	DroppedTotal uint64            `json:"droppedTotal"`
	ByCategory   map[string]uint64 `json:"byCategory,omitempty"`
	SinkFailures map[string]uint64 `json:"sinkFailures,omitempty"`
}

type route struct {
	name       string
	sink       Sink
	categories map[string]struct{}
	events     chan Event
	failures   atomic.Uint64
}

func (r *route) accepts(category string) bool {
	if len(r.categories) == 0 {
		return true
	}
	_, ok := r.categories[category]
	return ok
}

func NewRouter(clock Clock, cfg Config, log zerolog.Logger, namedSinks []NamedSink) *Router {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 512
	}
	interval := cfg.DropWarnInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	r := &Router{
		clock:      clock,
		log:        log.With().Str("component", "events").Logger(),
		floor:      cfg.MinimumSeverity,
		floors:     cfg.CategorySeverities(),
		fields:     cfg.CloneFields(),
		interval:   interval,
		categories: make(map[string]uint64),
	}
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		rt := &route{name: named.Name, sink: named.Sink, events: make(chan Event, buffer)}
		if len(named.Categories) > 0 {
			rt.categories = make(map[string]struct{}, len(named.Categories))
			for _, category := range named.Categories {
				rt.categories[category] = struct{}{}
			}
		}
		r.routes = append(r.routes, rt)
		r.wg.Add(1)
		go r.drain(rt)
	}
	return r
}

func (r *Router) drain(rt *route) {
	defer r.wg.Done()
	for event := range rt.events {
		if err := rt.sink.Write(event); err != nil {
			if rt.failures.Add(1) == 1 {
				r.log.Error().Err(err).Str("sink", rt.name).Msg("event sink write failed")
			}
		}
	}
}

// minimum is the severity floor for category.
func (r *Router) minimum(category string) Severity {
	if floor, ok := r.floors[category]; ok {
		return floor
	}
	return r.floor
}

func (r *Router) Publish(_ context.Context, event Event) {
	if r == nil || event.Type == "" {
		return
	}
	if event.Severity < r.minimum(event.Category) {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return
	}

	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = CloneEvent(event)
	for k, v := range r.fields {
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.fields))
		}
		if _, exists := event.Extra[k]; !exists {
			event.Extra[k] = v
		}
	}
	r.published.Add(1)
	r.categoryMu.Lock()
	r.categories[event.Category]++
	r.categoryMu.Unlock()

	for _, rt := range r.routes {
		if !rt.accepts(event.Category) {
			continue
		}
		select {
		case rt.events <- event:
		default:
			r.drop(rt.name, event)
		}
	}
}

func (r *Router) drop(sink string, event Event) {
	r.dropped.Add(1)
	now := time.Now().UnixNano()
	next := r.nextWarn.Load()
	if now >= next && r.nextWarn.CompareAndSwap(next, now+r.interval.Nanoseconds()) {
		r.log.Warn().Str("sink", sink).Str("type", string(event.Type)).Uint64("tick", event.Tick).
			Uint64("dropped", r.dropped.Load()).Msg("event queue full, dropping")
	}
}

// Close stops accepting events, lets every sink drain its queue and then
// closes the sinks.
func (r *Router) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if !r.closed.CompareAndSwap(false, true) {
		r.mu.Unlock()
		return nil
	}
	for _, rt := range r.routes {
		close(rt.events)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, rt := range r.routes {
		if err := rt.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	if r == nil {
		return RouterStats{}
	}
	stats := RouterStats{
		EventsTotal:  r.published.Load(),
		DroppedTotal: r.dropped.Load(),
	}
	r.categoryMu.Lock()
	if len(r.categories) > 0 {
		stats.ByCategory = make(map[string]uint64, len(r.categories))
		for category, n := range r.categories {
			stats.ByCategory[category] = n
		}
	}
	r.categoryMu.Unlock()
	for _, rt := range r.routes {
		if n := rt.failures.Load(); n > 0 {
			if stats.SinkFailures == nil {
				stats.SinkFailures = make(map[string]uint64)
			}
			stats.SinkFailures[rt.name] = n
		}
	}
	return stats
}

// SinkNames lists the attached sinks in order.
func (r *Router) SinkNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		names = append(names, rt.name)
	}
	sort.Strings(names)
	return names
}
