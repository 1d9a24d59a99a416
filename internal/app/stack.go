package app

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"squad-clash/core/internal/config"
	"squad-clash/core/internal/sim"
	"squad-clash/core/internal/telemetry"
	"squad-clash/core/logging"
	loggingSinks "squad-clash/core/logging/sinks"
)

// Stack holds the ambient services every binary shares: the process
// logger, the gameplay event router and the metrics fan-out.
type Stack struct {
	Log      zerolog.Logger
	Router   *logging.Router
	Counters *telemetry.Counters
	Metrics  telemetry.Metrics

	closer io.Closer
}

// NewStack builds the logger and event router from cfg. out defaults to
// stdout.
func NewStack(cfg config.Config, out io.Writer) (*Stack, error) {
	logger, closer, err := logging.NewLogger(cfg.Logging, out)
	if err != nil {
		return nil, err
	}

	var sinks []logging.NamedSink
	if cfg.Logging.HasSink("zerolog") {
		sinks = append(sinks, logging.NamedSink{Name: "zerolog", Sink: loggingSinks.NewZerolog(logger)})
	}
	router := logging.NewRouter(nil, cfg.Logging, logger, sinks)
	logger.Debug().Strs("sinks", router.SinkNames()).Msg("event router ready")

	counters := telemetry.NewCounters()
	metrics := telemetry.Metrics(counters)
	if cfg.Metrics.Enabled {
		otelMetrics := telemetry.NewOtelMetrics(nil, cfg.Metrics.Prefix, func(err error) {
			logger.Warn().Err(err).Msg("metric instrument failed")
		})
		metrics = telemetry.Fanout(counters, otelMetrics)
	}

	return &Stack{
		Log:      logger,
		Router:   router,
		Counters: counters,
		Metrics:  metrics,
		closer:   closer,
	}, nil
}

// Deps wires the stack into a game.
func (s *Stack) Deps() sim.Deps {
	return sim.Deps{
		Publisher: s.Router,
		Logger:    telemetry.WrapZerolog(s.Log),
		Metrics:   s.Metrics,
		Log:       s.Log,
	}
}

// Close drains the router and releases the log writers.
func (s *Stack) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Router != nil {
		errs = append(errs, s.Router.Close(ctx))
	}
	if s.closer != nil {
		errs = append(errs, s.closer.Close())
	}
	return errors.Join(errs...)
}
