package sinks

import (
	"context"

	"github.com/rs/zerolog"

	"squad-clash/core/logging"
)

// Zerolog writes events as structured log lines.
type Zerolog struct {
	logger zerolog.Logger
}

func NewZerolog(logger zerolog.Logger) *Zerolog {
	return &Zerolog{logger: logger.With().Str("component", "events").Logger()}
}

func (s *Zerolog) Write(event logging.Event) error {
	entry := s.logger.WithLevel(level(event.Severity)).
		Str("type", string(event.Type)).
		Uint64("tick", event.Tick).
		Str("category", event.Category)
	if event.Round > 0 {
		entry = entry.Int("round", event.Round)
	}
	if event.Actor.ID != "" || event.Actor.Kind != "" {
		entry = entry.Str("actor", formatEntity(event.Actor))
	}
	if len(event.Targets) > 0 {
		targets := zerolog.Arr()
		for _, target := range event.Targets {
			targets = targets.Str(formatEntity(target))
		}
		entry = entry.Array("targets", targets)
	}
	if event.RunID != "" {
		entry = entry.Str("runId", event.RunID)
	}
	if event.Payload != nil {
		entry = entry.Interface("payload", event.Payload)
	}
	if len(event.Extra) > 0 {
		entry = entry.Fields(event.Extra)
	}
	entry.Msg(string(event.Type))
	return nil
}

func (s *Zerolog) Close(context.Context) error {
	return nil
}

func level(sev logging.Severity) zerolog.Level {
	switch sev {
	case logging.SeverityDebug:
		return zerolog.DebugLevel
	case logging.SeverityWarn:
		return zerolog.WarnLevel
	case logging.SeverityError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return string(ref.Kind) + ":" + ref.ID
}
