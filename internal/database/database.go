// Package database is the SQLite run ledger: one row per pipeline run plus
// its stage outcomes and per-product collection results.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the ledger file name inside the data directory.
const FileName = "reviewsense.db"

// pragmas are applied by the driver to every pooled connection.
var pragmas = []string{"foreign_keys(1)", "journal_mode(WAL)", "busy_timeout(5000)"}

// DB is an open run ledger.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens the ledger at dbPath, creating it and its directory if needed,
// and migrates it to the current schema.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening ledger %s: %w", dbPath, err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating ledger: %w", err)
	}
	return &DB{conn: conn, path: dbPath}, nil
}

func dsn(path string) string {
	s := "file:" + path
	for i, p := range pragmas {
		sep := "&"
		if i == 0 {
			sep = "?"
		}
		s += sep + "_pragma=" + p
	}
	return s
}

// Close closes the ledger.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the ledger file path.
func (db *DB) Path() string {
	return db.path
}
