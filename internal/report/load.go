package report

import (
	"github.com/TobiSchelling/reviewsense/internal/database"
	"github.com/TobiSchelling/reviewsense/internal/review"
)

// Load gathers the ledger records of a run. It returns nil if the run does
// not exist.
func Load(db *database.DB, runID string, rows []review.Classified) (*Input, error) {
	run, err := db.GetRun(runID)
	if err != nil || run == nil {
		return nil, err
	}
	stages, err := db.GetStages(runID)
	if err != nil {
		return nil, err
	}
	products, err := db.GetProducts(runID)
	if err != nil {
		return nil, err
	}
	return &Input{Run: *run, Stages: stages, Products: products, Rows: rows}, nil
}
