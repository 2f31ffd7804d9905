package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection of a session cache (cache.db).
type DB struct {
	*sql.DB
}

// Open opens the cache for reading and writing in WAL mode so an inspector
// can read while the agent writes.
func Open(path string) (*DB, error) {
	return open(path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
}

// OpenReadOnly opens an existing cache without taking write locks. The schema
// is not migrated.
func OpenReadOnly(path string) (*DB, error) {
	return open("file:" + path + "?mode=ro&_busy_timeout=5000")
}

func open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	return &DB{db}, nil
}
