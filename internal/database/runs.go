package database

import (
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var runColumns = []string{"id", "query", "top_k", "dir", "status", "error", "started_at", "finished_at"}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// CreateRun records a new running run.
func (db *DB) CreateRun(id, query string, topK int, dir string) error {
	q, args, err := sq.Insert("runs").
		Columns("id", "query", "top_k", "dir", "status").
		Values(id, query, topK, dir, StatusRunning).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.conn.Exec(q, args...); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// FinishRun sets the final status of a run. errMsg is stored for failed runs.
func (db *DB) FinishRun(id string, status RunStatus, errMsg *string) error {
	q, args, err := sq.Update("runs").
		Set("status", status).
		Set("error", errMsg).
		Set("finished_at", sq.Expr("datetime('now')")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := db.conn.Exec(q, args...)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run: no run %s", id)
	}
	return nil
}

// GetRun returns a run by ID, or nil if it does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	q, args, err := sq.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var r Run
	if err := db.conn.QueryRow(q, args...).Scan(&r.ID, &r.Query, &r.TopK, &r.Dir,
		&r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// GetRecentRuns returns up to limit runs, newest first.
func (db *DB) GetRecentRuns(limit int) ([]Run, error) {
	q, args, err := sq.Select(runColumns...).
		From("runs").
		OrderBy("started_at DESC", "rowid DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Query, &r.TopK, &r.Dir,
			&r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate ledger statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM runs WHERE status = 'completed'", &s.CompletedRuns},
		{"SELECT COUNT(*) FROM runs WHERE status = 'failed'", &s.FailedRuns},
		{"SELECT COUNT(*) FROM run_products", &s.Products},
		{"SELECT COALESCE(SUM(row_count), 0) FROM run_stages WHERE stage = 'collect'", &s.ReviewsCollected},
		{"SELECT COALESCE(SUM(row_count), 0) FROM run_stages WHERE stage = 'classify'", &s.ReviewsClassified},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
