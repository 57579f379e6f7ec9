package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ErrSchemaTooNew is returned when the ledger was written by a newer release.
var ErrSchemaTooNew = errors.New("ledger schema is newer than this binary")

func schemaVersion(conn *sql.DB) (int, error) {
	var v int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// migrate applies every migration above the stored PRAGMA user_version, in
// order.
func migrate(conn *sql.DB) error {
	current, err := schemaVersion(conn)
	if err != nil {
		return err
	}
	latest := latestVersion()
	if current > latest {
		return fmt.Errorf("%w: version %d, known up to %d", ErrSchemaTooNew, current, latest)
	}

	for _, m := range migrations[current:] {
		if err := apply(conn, m); err != nil {
			return err
		}
		slog.Debug("ledger migrated", "version", m.Version, "description", m.Description)
	}
	return nil
}

// apply runs one migration in a transaction and then records its version.
// modernc/sqlite cannot set user_version inside the transaction; all DDL is
// IF NOT EXISTS so an interrupted bump simply re-runs the migration.
func apply(conn *sql.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: commit: %w", m.Version, err)
	}
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("migration %d: recording version: %w", m.Version, err)
	}
	return nil
}
