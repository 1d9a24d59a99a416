// Package services is the named-call convention shared by the websocket
// intake, the headless runner and tooling: a handler is registered under a
// dotted name ("placement.place") and invoked with decoded arguments.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "squad-clash/core/internal/services"

// Service names registered by the simulation facade.
const (
	PlacementPlace       = "placement.place"
	PlacementPurchase    = "placement.purchase"
	PlacementGet         = "placement.get"
	PlacementSide        = "placement.side"
	PlacementClearPlayer = "placement.clearPlayer"
	PlacementMove        = "placement.move"
	BattleSubmit         = "battle.submit"
	BattleStart          = "battle.start"
	BattleDisconnect     = "battle.disconnect"
	AbilityUse           = "ability.use"
	AbilityReady         = "ability.ready"
	EconomyGold          = "economy.gold"
	ECSSerialize         = "ecs.serialize"
)

// ErrUnknownService is returned by Call for unregistered names.
var ErrUnknownService = errors.New("unknown service")

// Handler serves one named call.
type Handler func(Args) (any, error)

// Option configures handler registration.
type Option func(*options)

type options struct {
	logged bool
}

// Logged adds debug logging around the handler.
func Logged() Option {
	return func(o *options) { o.logged = true }
}

// Registry routes calls to registered handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   zerolog.Logger

	calls    metric.Int64Counter
	failures metric.Int64Counter
}

// New creates a registry using the global OTel meter (no-op if not configured).
func New(logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
	m := otel.Meter(instrumentationName)

	var err error
	r.calls, err = m.Int64Counter("services.calls", metric.WithDescription("Named service calls"))
	if err != nil {
		return nil, fmt.Errorf("creating calls counter: %w", err)
	}
	r.failures, err = m.Int64Counter("services.failures", metric.WithDescription("Named service calls that returned an error"))
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}
	return r, nil
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler, opts ...Option) {
	cfg := options{}
	for _, opt := range opts {
		opt(&cfg)
	}
	handler := h
	if cfg.logged {
		handler = r.withLogging(name, handler)
	}
	r.mu.Lock()
	r.handlers[name] = handler
	r.mu.Unlock()
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names lists registered services in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Call invokes the named service. Handlers run on the caller's goroutine.
func (r *Registry) Call(name string, args Args) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	attrs := metric.WithAttributes(attribute.String("service", name))
	r.calls.Add(context.Background(), 1, attrs)
	if args == nil {
		args = Args{}
	}
	result, err := h(args)
	if err != nil {
		r.failures.Add(context.Background(), 1, attrs)
		return result, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

func (r *Registry) withLogging(name string, h Handler) Handler {
	return func(args Args) (any, error) {
		r.logger.Debug().Str("service", name).Int("args", len(args)).Msg("service call")
		result, err := h(args)
		if err != nil {
			r.logger.Debug().Str("service", name).Err(err).Msg("service call failed")
		}
		return result, err
	}
}
