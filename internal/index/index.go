// Package index implements the query operations served over the CLI and MCP
// surfaces. It reads the SQLite mirror maintained by Sync; the per-project
// JSONL canonical stores remain the source of truth and the mirror can be
// rebuilt from them at any time.
package index

import (
	"github.com/aeo-labs/nous/internal/entry"
	"github.com/aeo-labs/nous/internal/errors"
	"github.com/aeo-labs/nous/internal/state"
)

// Query limits
const (
	DefaultRecallLimit = 20
	MaxRecallLimit     = 100
)

// Item is the JSON view of one indexed entry returned by query operations.
type Item struct {
	ID              string `json:"id"`
	Lens            string `json:"lens"`
	TS              string `json:"ts,omitempty"`
	Session         string `json:"session,omitempty"`
	Project         string `json:"project"`
	Category        string `json:"category,omitempty"`
	Content         string `json:"content"`
	Context         string `json:"context,omitempty"`
	SuggestedTarget string `json:"suggested_target,omitempty"`
}

// toItems converts db entries to their JSON view.
func toItems(entries []*entry.Entry) []Item {
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, Item{
			ID:              e.ID,
			Lens:            e.Lens,
			TS:              e.TS,
			Session:         e.Session,
			Project:         e.Project,
			Category:        e.Category,
			Content:         e.Content,
			Context:         e.Context,
			SuggestedTarget: e.SuggestedTarget,
		})
	}
	return items
}

// validateLens checks an optional lens filter.
func validateLens(lens string) error {
	if lens == "" {
		return nil
	}
	if _, ok := state.LensByName(lens); !ok {
		return errors.NewInvalidRequest("unknown lens: " + lens)
	}
	return nil
}

// clampLimit applies the default and maximum recall limits.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecallLimit
	}
	if limit > MaxRecallLimit {
		return MaxRecallLimit
	}
	return limit
}
