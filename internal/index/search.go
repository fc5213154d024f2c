package index

import (
	"database/sql"
	"strings"

	"github.com/aeo-labs/nous/internal/db"
	"github.com/aeo-labs/nous/internal/errors"
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Query   string // required
	Lens    string // optional filter
	Project string // optional filter
	Limit   int    // default: 20, max: 100
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Items []Item `json:"items"`
	Query string `json:"query"`
}

// Search retrieves entries matching a substring query over content, context,
// and category, newest first.
func Search(database *sql.DB, input SearchInput) (*SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	if err := validateLens(input.Lens); err != nil {
		return nil, err
	}

	entries, err := db.Search(database, query, input.Lens, input.Project, clampLimit(input.Limit))
	if err != nil {
		return nil, err
	}
	return &SearchOutput{Items: toItems(entries), Query: query}, nil
}
