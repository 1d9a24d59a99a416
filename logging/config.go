package logging

import (
	"strings"
	"time"
)

type Config struct {
	Level           string         `mapstructure:"level"`
	EnabledSinks    []string       `mapstructure:"sinks"`
	BufferSize      int            `mapstructure:"bufferSize"`
	MinimumSeverity Severity       `mapstructure:"minimumSeverity"`
	Fields          map[string]any `mapstructure:"fields"`
	// Categories overrides MinimumSeverity per event category, for example
	// {"placement": "debug"}.
	Categories       map[string]string `mapstructure:"categories"`
	Console          ConsoleConfig     `mapstructure:"console"`
	Graylog          GraylogConfig     `mapstructure:"graylog"`
	DropWarnInterval time.Duration     `mapstructure:"dropWarnInterval"`
}

type ConsoleConfig struct {
	NoColor bool `mapstructure:"noColor"`
	JSON    bool `mapstructure:"json"`
}

// GraylogConfig enables the GELF UDP writer when Address is set.
type GraylogConfig struct {
	Address string `mapstructure:"address"`
}

func DefaultConfig() Config {
	return Config{
		Level:            "info",
		EnabledSinks:     []string{"zerolog"},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return true
		}
	}
	return false
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}

// CategorySeverities resolves the per-category severity floors.
func (c Config) CategorySeverities() map[string]Severity {
	if len(c.Categories) == 0 {
		return nil
	}
	floors := make(map[string]Severity, len(c.Categories))
	for category, level := range c.Categories {
		floors[strings.ToLower(strings.TrimSpace(category))] = ParseSeverity(level)
	}
	return floors
}

// ParseSeverity maps a level name onto a severity. Unknown names are info.
func ParseSeverity(level string) Severity {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return SeverityDebug
	case "warn", "warning":
		return SeverityWarn
	case "error":
		return SeverityError
	default:
		return SeverityInfo
	}
}
