package database

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// RecordStage inserts or replaces the record of a stage, so re-running a
// stage for the same run keeps only the latest outcome.
func (db *DB) RecordStage(s Stage) error {
	q, args, err := sq.Insert("run_stages").
		Options("OR REPLACE").
		Columns("run_id", "stage", "row_count", "skipped", "positive", "neutral", "negative", "artifact", "error").
		Values(s.RunID, s.Stage, s.Rows, s.Skipped, s.Positive, s.Neutral, s.Negative, s.Artifact, s.Error).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.conn.Exec(q, args...); err != nil {
		return fmt.Errorf("recording stage %s: %w", s.Stage, err)
	}
	return nil
}

// GetStages returns the stages of a run in pipeline order.
func (db *DB) GetStages(runID string) ([]Stage, error) {
	q, args, err := sq.Select("run_id", "stage", "row_count", "skipped", "positive", "neutral", "negative", "artifact", "error").
		From("run_stages").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("CASE stage WHEN 'collect' THEN 1 WHEN 'normalize' THEN 2 WHEN 'classify' THEN 3 ELSE 4 END").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var s Stage
		if err := rows.Scan(&s.RunID, &s.Stage, &s.Rows, &s.Skipped,
			&s.Positive, &s.Neutral, &s.Negative, &s.Artifact, &s.Error); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

// RecordProducts stores the per-product collection outcomes of a run.
func (db *DB) RecordProducts(runID string, products []Product) error {
	if len(products) == 0 {
		return nil
	}

	ins := sq.Insert("run_products").
		Options("OR REPLACE").
		Columns("run_id", "position", "name", "link", "reviews", "pages", "error")
	for _, p := range products {
		ins = ins.Values(runID, p.Position, p.Name, p.Link, p.Reviews, p.Pages, p.Error)
	}
	q, args, err := ins.ToSql()
	if err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(q, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording products: %w", err)
	}
	return tx.Commit()
}

// GetProducts returns the products of a run in search order.
func (db *DB) GetProducts(runID string) ([]Product, error) {
	q, args, err := sq.Select("run_id", "position", "name", "link", "reviews", "pages", "error").
		From("run_products").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.RunID, &p.Position, &p.Name, &p.Link, &p.Reviews, &p.Pages, &p.Error); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
