// Package database owns the connection to the durable store. The store must
// survive abrupt process termination, so writes go through a real database:
// Postgres when DATABASE_URL is a postgres DSN, otherwise a SQLite file.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/davekm/docvision/internal/models"
)

// Connect opens the database identified by databaseURL. Anything that is not
// a postgres:// DSN is treated as a SQLite file path; the file's directory is
// created if missing and the connection gets WAL mode plus a 5s busy timeout
// so concurrent readers never fail a runner commit outright.
func Connect(databaseURL string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		dialector = postgres.Open(databaseURL)
	} else {
		dsn := databaseURL
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the batches, batch_queue and results tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Batch{}, &models.QueueEntry{}, &models.OCRResult{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
