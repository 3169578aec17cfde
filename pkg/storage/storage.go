// Package storage opens and inspects the SQLite mail archive produced by
// the ingestion tooling. The retrieval engine treats the archive as
// read-only; the write path lives outside this repository.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Archive is a handle to the mail archive database
type Archive struct {
	db *sql.DB
}

// Open opens the archive read-write (WAL, busy timeout) and ensures the
// schema exists. Used by tests and tooling.
func Open(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// OpenReadOnly opens an existing archive without touching the schema. This
// is the mode the server and CLI use.
func OpenReadOnly(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database not accessible: %w", err)
	}

	return &Archive{db: db}, nil
}

// DB exposes the underlying connection for the retrieval adapters.
func (a *Archive) DB() *sql.DB {
	return a.db
}

// Close closes the database connection
func (a *Archive) Close() error {
	return a.db.Close()
}

// Stats describes the archive contents
type Stats struct {
	MessageCount int64
	PassageCount int64
	ThreadCount  int64
}

// GetStats returns row counts for the archive
func (a *Archive) GetStats() (Stats, error) {
	var stats Stats

	if err := a.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&stats.MessageCount); err != nil {
		return stats, fmt.Errorf("counting messages: %w", err)
	}
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM passages`).Scan(&stats.PassageCount); err != nil {
		return stats, fmt.Errorf("counting passages: %w", err)
	}
	if err := a.db.QueryRow(`SELECT COUNT(DISTINCT thread_id) FROM passages`).Scan(&stats.ThreadCount); err != nil {
		return stats, fmt.Errorf("counting threads: %w", err)
	}

	return stats, nil
}
