package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/moeview/moeview/internal/logger"
	"github.com/moeview/moeview/pkg/booru"
	"github.com/moeview/moeview/pkg/fetch"
)

// DefaultStream names the cursor row used when no tag query is active.
const DefaultStream = "default"

// Config contains session store configuration.
type Config struct {
	// Path is the SQLite database file.
	// Default: $XDG_CONFIG_HOME/moeview/session.db
	Path string `mapstructure:"path" yaml:"path"`

	// HistoryLimit caps the number of retained view events. Older events
	// are pruned on insert. Negative keeps everything.
	// Default: 10000
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.Path = filepath.Join(configDir, "moeview", "session.db")
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 10000
	}
}

// Store persists session state in SQLite via GORM.
type Store struct {
	db  *gorm.DB
	cfg Config
}

// Open creates or opens the session database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	// WAL keeps concurrent readers cheap; busy_timeout waits out the
	// single writer instead of failing.
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to run session migration: %w", err)
	}

	return &Store{db: db, cfg: cfg}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the underlying GORM connection, useful for tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ============================================
// VIEW HISTORY
// ============================================

// RecordView appends a view event and advances the stream cursor.
func (s *Store) RecordView(ctx context.Context, stream string, item booru.ItemID, pos int) error {
	now := time.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ViewEvent{
			ItemID:   int64(item),
			Position: pos,
			ViewedAt: now,
		}).Error; err != nil {
			return err
		}

		cursor := Cursor{
			Stream:    stream,
			Position:  pos,
			ItemID:    int64(item),
			UpdatedAt: now,
		}
		if err := tx.Save(&cursor).Error; err != nil {
			return err
		}

		return s.pruneHistory(tx)
	})
}

// pruneHistory drops the oldest view events past the configured limit.
func (s *Store) pruneHistory(tx *gorm.DB) error {
	if s.cfg.HistoryLimit <= 0 {
		return nil
	}

	var count int64
	if err := tx.Model(&ViewEvent{}).Count(&count).Error; err != nil {
		return err
	}
	if count <= int64(s.cfg.HistoryLimit) {
		return nil
	}

	return tx.Exec(
		"DELETE FROM view_events WHERE id IN (SELECT id FROM view_events ORDER BY id ASC LIMIT ?)",
		count-int64(s.cfg.HistoryLimit),
	).Error
}

// History returns the most recent view events, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]ViewEvent, error) {
	var events []ViewEvent
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// LastPosition returns the saved cursor for a stream. The boolean is
// false when the stream has no cursor yet.
func (s *Store) LastPosition(ctx context.Context, stream string) (int, bool, error) {
	var cursor Cursor
	err := s.db.WithContext(ctx).Where("stream = ?", stream).First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return cursor.Position, true, nil
}

// ============================================
// INCOMPLETE TRANSFERS
// ============================================

// MarkIncomplete records that a transfer for the item is in flight.
func (s *Store) MarkIncomplete(ctx context.Context, item booru.ItemID) error {
	return s.db.WithContext(ctx).Save(&IncompleteFetch{
		ItemID:    int64(item),
		UpdatedAt: time.Now(),
	}).Error
}

// ClearIncomplete removes the record once a transfer completes.
func (s *Store) ClearIncomplete(ctx context.Context, item booru.ItemID) error {
	return s.db.WithContext(ctx).
		Where("item_id = ?", int64(item)).
		Delete(&IncompleteFetch{}).Error
}

// Incomplete lists transfers still in flight at last shutdown.
func (s *Store) Incomplete(ctx context.Context) ([]IncompleteFetch, error) {
	var records []IncompleteFetch
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ResumeIncomplete re-requests every interrupted transfer at prefetch
// priority and clears its record. Returns how many were resubmitted.
// Transfers restart from byte zero: partial payloads live only in the
// coordinator's in-flight task buffers and are gone with the process.
func (s *Store) ResumeIncomplete(ctx context.Context, coord *fetch.Coordinator) (int, error) {
	records, err := s.Incomplete(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, rec := range records {
		id := booru.ItemID(rec.ItemID)
		coord.Request(id, fetch.PriorityPrefetch)
		if err := s.ClearIncomplete(ctx, id); err != nil {
			return resumed, err
		}
		resumed++
		logger.Debug("re-requesting interrupted transfer", logger.KeyItemID, id)
	}
	return resumed, nil
}
