// Package storage persists headless run reports and their battle results
// through gorm, on sqlite by default or postgres when configured.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	memoryDSN = "file::memory:?cache=shared"
)

// ErrNotFound is returned when a run id has no row.
var ErrNotFound = errors.New("storage: run not found")

// Config selects and addresses the database.
type Config struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	// Fallback switches to in-memory sqlite when postgres is unreachable.
	Fallback bool `mapstructure:"fallback"`
}

func (c Config) postgresDSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, port, c.User, c.Password, c.Database)
}

// Store wraps the gorm handle.
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	driver string
	log    zerolog.Logger
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

// Open connects, verifies the connection and migrates the schema.
func Open(cfg Config, log zerolog.Logger) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverPostgres:
		db, err = openPostgres(cfg)
		if err != nil && cfg.Fallback {
			log.Error().Err(err).Msg("postgres unavailable, using in-memory sqlite")
			driver = DriverSQLite
			db, err = openSQLite("")
		}
	case DriverSQLite:
		db, err = openSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return newStore(db, driver, log)
}

// New adopts an already opened gorm handle.
func New(db *gorm.DB, log zerolog.Logger) (*Store, error) {
	return newStore(db, db.Dialector.Name(), log)
}

func newStore(db *gorm.DB, driver string, log zerolog.Logger) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: access sql interface: %w", err)
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if err := db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	log.Info().Str("driver", driver).Msg("storage ready")
	return &Store{db: db, sqlDB: sqlDB, driver: driver, log: log}, nil
}

func openPostgres(cfg Config) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.postgresDSN(),
		PreferSimpleProtocol: true,
	}), gormConfig())
}

func openSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = memoryDSN
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}
	return db, nil
}

// Driver names the backend in use.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveRun writes run and its battles in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if s == nil {
		return nil
	}
	if run.ID == "" {
		return errors.New("storage: run id is required")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&run).Error
	})
	if err != nil {
		return fmt.Errorf("storage: save run %s: %w", run.ID, err)
	}
	s.log.Debug().Str("run", run.ID).Str("seed", run.Seed).Int("battles", len(run.Battles)).Msg("run saved")
	return nil
}

// Run loads one run with its battles ordered by round.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Preload("Battles", func(db *gorm.DB) *gorm.DB { return db.Order("round ASC") }).
		First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("storage: load run %s: %w", id, err)
	}
	return run, nil
}

// Runs lists the most recent runs without their battles. A non-positive
// limit returns every run.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var runs []Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	return runs, nil
}

// RunsBySeed lists runs sharing a seed, oldest first.
func (s *Store) RunsBySeed(ctx context.Context, seed string) ([]Run, error) {
	var runs []Run
	err := s.db.WithContext(ctx).Where("seed = ?", seed).Order("created_at ASC").Order("id ASC").Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("storage: runs for seed %s: %w", seed, err)
	}
	return runs, nil
}

// WinCounts tallies battle winners across every stored run.
func (s *Store) WinCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Winner string
		Total  int
	}
	err := s.db.WithContext(ctx).Model(&Battle{}).
		Select("winner, count(*) as total").
		Group("winner").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: win counts: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Winner] = row.Total
	}
	return counts, nil
}
