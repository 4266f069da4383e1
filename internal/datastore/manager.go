// Package datastore owns the SQLite database holding captured images.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/clipvault/clipvault/internal/conf"
	"github.com/clipvault/clipvault/internal/datastore/entities"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// Config holds database configuration.
type Config struct {
	// DataDir is the directory containing the database file.
	DataDir string
	// Logger receives SQL diagnostics; nil discards them.
	Logger logger.Logger
}

// SQLiteManager opens and migrates the image database.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens DataDir/database.sqlite3, creating it if needed.
func NewSQLiteManager(cfg Config) (*SQLiteManager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "create-data-dir").
			Build()
	}
	dbPath := filepath.Join(cfg.DataDir, conf.DatabaseFileName)

	// Immediate transactions take the write lock up front so the
	// read-then-write in Save waits on busy_timeout instead of failing.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(cfg.Logger, slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Build()
	}

	return &SQLiteManager{db: db, dbPath: dbPath}, nil
}

// Initialize creates the image table and its indices.
func (m *SQLiteManager) Initialize() error {
	if err := m.db.AutoMigrate(&entities.Image{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}
	return nil
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database file path.
func (m *SQLiteManager) Path() string {
	return m.dbPath
}

// Size returns the bytes the database occupies on disk, including the
// write-ahead log, which holds recent writes until a checkpoint.
func (m *SQLiteManager) Size() (int64, error) {
	info, err := os.Stat(m.dbPath)
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "stat-database").
			Build()
	}
	size := info.Size()
	if wal, err := os.Stat(m.dbPath + "-wal"); err == nil {
		size += wal.Size()
	}
	return size, nil
}

// Close closes the database connection.
func (m *SQLiteManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
