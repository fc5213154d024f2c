package index

import (
	"database/sql"

	"github.com/aeo-labs/nous/internal/db"
	"github.com/aeo-labs/nous/internal/entry"
	"github.com/aeo-labs/nous/internal/state"
)

// SyncOutput contains the result of the Sync operation.
type SyncOutput struct {
	Scanned int `json:"scanned"`
	Indexed int `json:"indexed"`
}

// Sync mirrors a project's canonical stores into the index database.
// Idempotent: the UNIQUE content hash makes re-syncing a no-op, so callers
// run it freely before queries. Malformed records are skipped, never fatal;
// the canonical store is written by a model and read leniently everywhere.
func Sync(database *sql.DB, store *state.Store) (*SyncOutput, error) {
	out := &SyncOutput{}

	for _, lens := range state.Lenses() {
		records, err := store.ReadRecent(lens, 0)
		if err != nil {
			return nil, err
		}

		for _, raw := range records {
			out.Scanned++
			e, err := entry.FromRecord(lens, raw)
			if err != nil {
				continue
			}
			if e.Project == "" {
				e.Project = store.Project()
			}

			inserted, err := db.InsertIgnore(database, e)
			if err != nil {
				return nil, err
			}
			if inserted {
				out.Indexed++
			}
		}
	}

	return out, nil
}
