package db

import (
	"database/sql"
	"strings"

	"github.com/aeo-labs/nous/internal/entry"
	"github.com/aeo-labs/nous/internal/errors"
)

// InsertIgnore stores an entry, skipping it silently when its content hash is
// already indexed. Returns true when a row was actually inserted. This is the
// primitive the sync path is built on: indexing is at-least-once, the table
// is at-most-once.
func InsertIgnore(db *sql.DB, e *entry.Entry) (bool, error) {
	query := `
		INSERT OR IGNORE INTO entries (
			id, lens, ts, session, project, category,
			content, context, suggested_target, content_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.Exec(query,
		e.ID, e.Lens, e.TS, e.Session, e.Project, e.Category,
		e.Content, e.Context, e.SuggestedTarget, e.ContentHash, e.CreatedAt,
	)
	if err != nil {
		return false, errors.NewInternal(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}

// Recent returns the most recently indexed entries, newest first. lens and
// project filter when non-empty. ULIDs sort by creation time, so ordering by
// id descending is newest-first without a separate timestamp index.
func Recent(db *sql.DB, lens, project string, limit int) ([]*entry.Entry, error) {
	query := `
		SELECT id, lens, ts, session, project, category,
			content, context, suggested_target, content_hash, created_at
		FROM entries
	`
	where, args := filters(lens, project, "")
	query += where + " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	return queryEntries(db, query, args...)
}

// Search returns entries whose content, context, or category contains q
// (case-insensitive), newest first.
func Search(db *sql.DB, q, lens, project string, limit int) ([]*entry.Entry, error) {
	query := `
		SELECT id, lens, ts, session, project, category,
			content, context, suggested_target, content_hash, created_at
		FROM entries
	`
	where, args := filters(lens, project, q)
	query += where + " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	return queryEntries(db, query, args...)
}

// InventoryRow is one (project, lens) bucket of the inventory summary.
type InventoryRow struct {
	Project string `json:"project"`
	Lens    string `json:"lens"`
	Count   int    `json:"count"`
	LastTS  string `json:"last_ts"`
}

// Inventory summarizes the index per project and lens.
func Inventory(db *sql.DB) ([]InventoryRow, error) {
	query := `
		SELECT project, lens, COUNT(*), COALESCE(MAX(ts), '')
		FROM entries
		GROUP BY project, lens
		ORDER BY project, lens
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []InventoryRow
	for rows.Next() {
		var r InventoryRow
		if err := rows.Scan(&r.Project, &r.Lens, &r.Count, &r.LastTS); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// filters builds the WHERE clause shared by Recent and Search.
func filters(lens, project, q string) (string, []any) {
	var conds []string
	var args []any

	if lens != "" {
		conds = append(conds, "lens = ?")
		args = append(args, lens)
	}
	if project != "" {
		conds = append(conds, "project = ?")
		args = append(args, project)
	}
	if q != "" {
		pattern := "%" + escapeLike(q) + "%"
		conds = append(conds,
			"(content LIKE ? ESCAPE '\\' OR context LIKE ? ESCAPE '\\' OR category LIKE ? ESCAPE '\\')")
		args = append(args, pattern, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike escapes LIKE metacharacters in user input.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// queryEntries runs a SELECT over the entries columns and scans the rows.
func queryEntries(db *sql.DB, query string, args ...any) ([]*entry.Entry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*entry.Entry
	for rows.Next() {
		var (
			e               entry.Entry
			ts              sql.NullString
			session         sql.NullString
			category        sql.NullString
			context         sql.NullString
			suggestedTarget sql.NullString
		)
		err := rows.Scan(
			&e.ID, &e.Lens, &ts, &session, &e.Project, &category,
			&e.Content, &context, &suggestedTarget, &e.ContentHash, &e.CreatedAt,
		)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		e.TS = ts.String
		e.Session = session.String
		e.Category = category.String
		e.Context = context.String
		e.SuggestedTarget = suggestedTarget.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}
