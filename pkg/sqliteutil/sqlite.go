// Package sqliteutil opens SQLite databases tuned for a single-writer
// workload: WAL journaling, busy waits instead of immediate lock errors,
// and a connection pool capped at one so writes serialize in Go rather
// than failing with SQLITE_BUSY.
package sqliteutil

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Open opens the database at path, creating parent directories and the
// file itself as needed. Foreign keys are enabled because project rows
// cascade their items and agents on delete.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, describeOpenError(path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// The file is only created on first use.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, describeOpenError(path, err)
	}
	return db, nil
}

// describeOpenError turns the opaque SQLITE_CANTOPEN into something a
// misconfigured deployment can act on. Other errors pass through.
func describeOpenError(path string, err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code() != sqlite3.SQLITE_CANTOPEN {
		return err
	}
	if info, statErr := os.Stat(filepath.Dir(path)); statErr != nil || !info.IsDir() {
		return fmt.Errorf("cannot create database at %q: parent is not a directory", path)
	}
	return fmt.Errorf("cannot open database at %q: %w", path, err)
}
