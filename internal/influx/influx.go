// Package influx writes battle statistics to InfluxDB as points, or to a
// gzip line-protocol backup file when the server cannot be reached.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/economy"
	"squad-clash/core/internal/net/proto"
	"squad-clash/core/internal/runner"
)

// Measurement names.
const (
	MeasurementBattle = "battle_result"
	MeasurementRun    = "run_summary"
	MeasurementPlayer = "player_economy"
)

// Config addresses the InfluxDB server.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Token      string `mapstructure:"token"`
	Org        string `mapstructure:"org"`
	Bucket     string `mapstructure:"bucket"`
	BackupPath string `mapstructure:"backupPath"`
}

// PointWriter is the blocking write surface of the influx client.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink records points. A nil sink drops everything.
type Sink struct {
	client influxdb2.Client
	writer PointWriter
	log    zerolog.Logger

	mu     sync.Mutex
	backup io.WriteCloser
	file   io.Closer
}

// Open connects to the configured server. It returns nil when influx is
// disabled. An unreachable server falls back to the backup file when one
// is configured.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Sink, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx: url, org and bucket are required")
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(500))
	running, err := client.Ping(ctx)
	if err == nil && running {
		log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("influx client initialized")
		return &Sink{client: client, writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket), log: log}, nil
	}
	client.Close()

	if cfg.BackupPath == "" {
		if err == nil {
			err = errors.New("server not ready")
		}
		return nil, fmt.Errorf("influx: ping %s: %w", cfg.URL, err)
	}
	file, ferr := os.OpenFile(cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if ferr != nil {
		return nil, fmt.Errorf("influx: open backup file: %w", ferr)
	}
	log.Warn().Err(err).Str("backupPath", cfg.BackupPath).Msg("influx unreachable, writing to backup file")
	sink := NewBackup(file, log)
	sink.file = file
	return sink, nil
}

// New wraps an existing writer.
func New(writer PointWriter, log zerolog.Logger) *Sink {
	return &Sink{writer: writer, log: log}
}

// NewBackup writes gzip-compressed line protocol to w.
func NewBackup(w io.Writer, log zerolog.Logger) *Sink {
	return &Sink{backup: gzip.NewWriter(w), log: log}
}

// Write sends points to the server or the backup stream.
func (s *Sink) Write(ctx context.Context, points ...*write.Point) error {
	if s == nil || len(points) == 0 {
		return nil
	}
	if s.writer != nil {
		if err := s.writer.WritePoint(ctx, points...); err != nil {
			s.log.Error().Err(err).Int("points", len(points)).Msg("influx write failed")
			return fmt.Errorf("influx: write: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backup == nil {
		return errors.New("influx: sink closed")
	}
	for _, point := range points {
		line := write.PointToLineProtocol(point, time.Nanosecond)
		if _, err := io.WriteString(s.backup, line+"\n"); err != nil {
			return fmt.Errorf("influx: write backup: %w", err)
		}
	}
	return nil
}

// Close flushes the backup stream and releases the client.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	if s.client != nil {
		s.client.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.backup != nil {
		err = s.backup.Close()
		s.backup = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	return err
}

// BattlePoint describes one finished battle.
func BattlePoint(runID, seed string, result battle.Result, at time.Time) *write.Point {
	return influxdb2.NewPoint(MeasurementBattle,
		map[string]string{
			"run":    runID,
			"seed":   seed,
			"winner": result.Winner.String(),
			"reason": string(result.Reason),
		},
		map[string]interface{}{
			"round":       result.Round,
			"duration_ms": result.Duration.Milliseconds(),
			"survivors":   result.Survivors,
		},
		at)
}

// PlayerPoint describes a player's economy at a point in the match.
func PlayerPoint(runID string, round int, stats economy.PlayerStats, at time.Time) *write.Point {
	return influxdb2.NewPoint(MeasurementPlayer,
		map[string]string{
			"run":    runID,
			"player": stats.PlayerID,
		},
		map[string]interface{}{
			"round":       round,
			"gold":        stats.Gold,
			"supply_used": stats.SupplyUsed,
			"supply_cap":  stats.SupplyCap,
			"spent":       stats.Spent,
			"earned":      stats.Earned,
		},
		at)
}

// RunPoints describes a finished headless run: a summary, every battle and
// each player's closing economy.
func RunPoints(runID string, report runner.Report, at time.Time) []*write.Point {
	points := []*write.Point{influxdb2.NewPoint(MeasurementRun,
		map[string]string{
			"run":  runID,
			"seed": report.Seed,
		},
		map[string]interface{}{
			"ticks":     int64(report.Ticks),
			"executed":  report.Executed,
			"failures":  report.Failures,
			"rounds":    len(report.Results),
			"completed": report.Completed,
			"checksum":  report.Checksum,
		},
		at)}
	for _, result := range report.Results {
		points = append(points, BattlePoint(runID, report.Seed, result, at))
	}
	for _, stats := range report.Stats {
		points = append(points, PlayerPoint(runID, report.Round, stats, at))
	}
	return points
}

// RecordRun writes the points for a finished run.
func (s *Sink) RecordRun(ctx context.Context, runID string, report runner.Report, at time.Time) error {
	return s.Write(ctx, RunPoints(runID, report, at)...)
}

// RoundEndPoints describes a live round end.
func RoundEndPoints(matchID string, msg proto.RoundEnd, at time.Time) []*write.Point {
	points := []*write.Point{influxdb2.NewPoint(MeasurementBattle,
		map[string]string{
			"run":    matchID,
			"winner": msg.Winner.String(),
			"reason": msg.Reason,
		},
		map[string]interface{}{
			"round":     msg.Round,
			"survivors": len(msg.Survivors),
		},
		at)}
	for _, stats := range msg.Stats {
		points = append(points, PlayerPoint(matchID, msg.Round, stats, at))
	}
	return points
}
