// Package db keeps the history of rollout runs in sqlite.
package db

import (
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/rollout/internal/log"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// NewDatabase initializes a new GORM database connection and runs auto-migrations.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database %s: %w", dsn, err)
	}

	l := log.WithComponent("db")
	l.Debug().Msg("Running database migrations...")
	if err := db.AutoMigrate(&Run{}, &HostResult{}); err != nil {
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	l.Debug().Str("dsn", dsn).Msg("Database connection established and migrations completed")
	return db, nil
}

// Store records and reads runs.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open opens dsn, migrates it and returns a Store.
func Open(dsn string) (*Store, error) {
	db, err := NewDatabase(dsn)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// RecordRun stores run together with its host results.
func (s *Store) RecordRun(run *Run) error {
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("record run %s: %w", run.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first, at most limit of them.
// A limit of zero or less returns every run.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	var runs []Run
	q := s.db.Preload("Results").Order("started_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns the run with the given run ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	var run Run
	err := s.db.Preload("Results").Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &run, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
