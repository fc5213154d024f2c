package index

import (
	"database/sql"

	"github.com/aeo-labs/nous/internal/db"
)

// RecallInput contains parameters for the Recall operation.
type RecallInput struct {
	Lens    string // optional filter
	Project string // optional filter
	Limit   int    // default: 20, max: 100
}

// RecallOutput contains the result of the Recall operation.
type RecallOutput struct {
	Items []Item `json:"items"`
}

// Recall retrieves the most recently indexed entries, newest first.
func Recall(database *sql.DB, input RecallInput) (*RecallOutput, error) {
	if err := validateLens(input.Lens); err != nil {
		return nil, err
	}

	entries, err := db.Recent(database, input.Lens, input.Project, clampLimit(input.Limit))
	if err != nil {
		return nil, err
	}
	return &RecallOutput{Items: toItems(entries)}, nil
}
