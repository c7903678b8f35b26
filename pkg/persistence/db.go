// Package persistence provides SQLite-based storage for sessions, messages,
// and tool requests. The database is the single source of truth across
// process restarts; the in-memory pending-request registry is a cache over it.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"conductor/pkg/logx"
)

// ErrStoreUnavailable indicates the backing store could not be reached.
// Callers must not silently assign identifiers or drop records when they see it.
var ErrStoreUnavailable = errors.New("store unavailable")

// InitializeDatabase opens the SQLite database and brings the schema up to the
// current version. Idempotent and safe to call multiple times.
func InitializeDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStoreUnavailable, err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStoreUnavailable, err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logx.NewLogger("persistence").Info("📦 Database initialized: %s", dbPath)
	return db, nil
}
