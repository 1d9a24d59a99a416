// Package config loads squadclash.json through viper with defaults and
// SQUADCLASH_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/economy"
	"squad-clash/core/internal/grid"
	"squad-clash/core/internal/influx"
	"squad-clash/core/internal/rng"
	"squad-clash/core/internal/sim"
	"squad-clash/core/internal/storage"
	"squad-clash/core/logging"
)

const (
	// FileName is the config file looked up in the config directory.
	FileName  = "squadclash.json"
	envPrefix = "SQUADCLASH"
)

// Seat assigns a player to a side.
type Seat struct {
	ID   string `mapstructure:"id"`
	Team string `mapstructure:"team"`
}

// ServerConfig configures cmd/server.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Path         string        `mapstructure:"path"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	Seats        []Seat        `mapstructure:"seats"`
}

// HeadlessConfig configures cmd/headless batch runs.
type HeadlessConfig struct {
	Runs     int    `mapstructure:"runs"`
	Parallel int    `mapstructure:"parallel"`
	MaxTicks uint64 `mapstructure:"maxTicks"`
}

// MetricsConfig names the otel meter prefix.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// Config is the full process configuration.
type Config struct {
	Sim      sim.Config     `mapstructure:"sim"`
	Loop     sim.LoopConfig `mapstructure:"loop"`
	Logging  logging.Config `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Storage  storage.Config `mapstructure:"storage"`
	Influx   influx.Config  `mapstructure:"influx"`
	Server   ServerConfig   `mapstructure:"server"`
	Headless HeadlessConfig `mapstructure:"headless"`
}

// New returns a viper instance carrying every default and the environment
// binding.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sim.tickRate", sim.DefaultTickRate)
	v.SetDefault("sim.seed", rng.DefaultSeed)
	v.SetDefault("sim.authoritative", true)
	v.SetDefault("sim.keyframeCapacity", sim.DefaultKeyframeCapacity)

	v.SetDefault("sim.battle.battleDuration", battle.DefaultBattleDuration)
	v.SetDefault("sim.battle.lives", battle.DefaultLives)
	v.SetDefault("sim.battle.maxRounds", battle.DefaultMaxRounds)

	v.SetDefault("sim.economy.startingGold", economy.DefaultStartingGold)
	v.SetDefault("sim.economy.supplyCap", economy.DefaultSupplyCap)
	v.SetDefault("sim.economy.goldPerRound", economy.DefaultGoldPerRound)

	v.SetDefault("sim.grid.cols", grid.DefaultCols)
	v.SetDefault("sim.grid.rows", grid.DefaultRows)
	v.SetDefault("sim.grid.cellSize", grid.DefaultCellSize)
	v.SetDefault("sim.grid.deployColumns", grid.DefaultDeployColumns)
	v.SetDefault("sim.grid.features", false)

	v.SetDefault("loop.tickRate", sim.DefaultTickRate)
	v.SetDefault("loop.catchupMaxTicks", 5)
	v.SetDefault("loop.commandCapacity", 256)
	v.SetDefault("loop.perActorLimit", 16)

	logs := logging.DefaultConfig()
	v.SetDefault("logging.level", logs.Level)
	v.SetDefault("logging.sinks", logs.EnabledSinks)
	v.SetDefault("logging.bufferSize", logs.BufferSize)
	v.SetDefault("logging.minimumSeverity", int(logs.MinimumSeverity))
	v.SetDefault("logging.dropWarnInterval", logs.DropWarnInterval)
	v.SetDefault("logging.console.noColor", false)
	v.SetDefault("logging.console.json", false)
	v.SetDefault("logging.graylog.address", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.prefix", "squadclash")

	v.SetDefault("storage.driver", storage.DriverSQLite)
	v.SetDefault("storage.path", "squadclash.db")
	v.SetDefault("storage.host", "localhost")
	v.SetDefault("storage.port", 5432)
	v.SetDefault("storage.user", "postgres")
	v.SetDefault("storage.password", "postgres")
	v.SetDefault("storage.database", "squadclash")
	v.SetDefault("storage.fallback", true)

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "squadclash")
	v.SetDefault("influx.bucket", "battles")
	v.SetDefault("influx.backupPath", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.path", "/ws")
	v.SetDefault("server.writeTimeout", 5*time.Second)
	v.SetDefault("server.seats", []map[string]any{
		{"id": "p1", "team": "left"},
		{"id": "p2", "team": "right"},
	})

	v.SetDefault("headless.runs", 1)
	v.SetDefault("headless.parallel", 4)
	v.SetDefault("headless.maxTicks", 20000)
}

// Load reads FileName from dir over the defaults. An empty dir skips the
// file and yields defaults plus environment overrides.
func Load(dir string) (Config, error) {
	v := New()
	if dir != "" {
		v.SetConfigName(FileName)
		v.SetConfigType("json")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes v into a Config and validates it.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var problems []string
	if c.Sim.TickRate <= 0 {
		problems = append(problems, "sim.tickRate must be positive")
	}
	if c.Sim.Battle.BattleDuration <= 0 {
		problems = append(problems, "sim.battle.battleDuration must be positive")
	}
	switch c.Storage.Driver {
	case storage.DriverSQLite, storage.DriverPostgres, "":
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver))
	}
	seen := make(map[string]bool, len(c.Server.Seats))
	for _, seat := range c.Server.Seats {
		if seat.ID == "" {
			problems = append(problems, "server.seats entries need an id")
			continue
		}
		if seen[seat.ID] {
			problems = append(problems, fmt.Sprintf("server.seats repeats %q", seat.ID))
		}
		seen[seat.ID] = true
		if _, ok := ecs.ParseTeam(seat.Team); !ok {
			problems = append(problems, fmt.Sprintf("server.seats %q has unknown team %q", seat.ID, seat.Team))
		}
	}
	if c.Headless.Parallel < 0 || c.Headless.Runs < 0 {
		problems = append(problems, "headless.runs and headless.parallel cannot be negative")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Teams resolves the configured seats to sides.
func (s ServerConfig) Teams() map[string]ecs.Team {
	teams := make(map[string]ecs.Team, len(s.Seats))
	for _, seat := range s.Seats {
		if team, ok := ecs.ParseTeam(seat.Team); ok {
			teams[seat.ID] = team
		}
	}
	return teams
}
