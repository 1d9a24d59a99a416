package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
)

// ParseLevel maps a config string onto a zerolog level. Unknown values fall
// back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger builds the process logger: a console writer plus, when an
// address is configured, a Graylog GELF writer. The returned closer releases
// the Graylog connection.
func NewLogger(cfg Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	var console io.Writer = zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.Console.NoColor,
	}
	if cfg.Console.JSON {
		console = out
	}
	writers := []io.Writer{console}

	var closer io.Closer = nopCloser{}
	if addr := strings.TrimSpace(cfg.Graylog.Address); addr != "" {
		graylog, err := gelf.NewWriter(addr)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("connect graylog %s: %w", addr, err)
		}
		writers = append(writers, graylog)
		closer = graylog
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level)).
		With().Timestamp().Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
