package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sessionlock/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	journalFile = "sessionlock.db"
	journalDir  = ".config/sessionlock"

	// busyTimeoutMs is how long a writer waits on a locked database before
	// sqlite gives up with SQLITE_BUSY.
	busyTimeoutMs = 5000
)

// DB is the journal store. The watcher loop, lock ticks and HTTP handlers
// all write through it, so it holds a single pooled connection and sqlite
// runs in WAL mode.
type DB struct {
	*gorm.DB
}

// DefaultPath returns ~/.config/sessionlock/sessionlock.db, creating the
// directory when needed.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	dir := filepath.Join(home, journalDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return filepath.Join(dir, journalFile), nil
}

// dsn appends the go-sqlite3 connection options to path.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, sep, busyTimeoutMs)
}

// Connect opens the journal at path, or at DefaultPath when path is empty.
func Connect(path string) (*DB, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	gdb, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &DB{gdb}, nil
}

// Initialize migrates the journal tables.
func (db *DB) Initialize() error {
	if err := db.AutoMigrate(&models.ChangeEvent{}, &models.LockRecord{}, &models.ErrorLog{}); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
