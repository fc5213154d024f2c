package index

import (
	"database/sql"

	"github.com/aeo-labs/nous/internal/db"
)

// InventoryOutput contains the result of the Inventory operation.
type InventoryOutput struct {
	Buckets []db.InventoryRow `json:"buckets"`
	Total   int               `json:"total"`
}

// Inventory summarizes indexed entries per project and lens.
func Inventory(database *sql.DB) (*InventoryOutput, error) {
	rows, err := db.Inventory(database)
	if err != nil {
		return nil, err
	}

	// Empty array rather than nil in the JSON output.
	if rows == nil {
		rows = []db.InventoryRow{}
	}

	total := 0
	for _, r := range rows {
		total += r.Count
	}
	return &InventoryOutput{Buckets: rows, Total: total}, nil
}
