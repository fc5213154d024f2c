package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Flush merges all pending inbox fragments for a lens into its canonical
// store, in fragment-creation order and record order within each fragment,
// then deletes the consumed fragments. The merge is all-or-nothing: the new
// store content is written to a temp file, fsynced, and renamed over the
// canonical store before any fragment is deleted, so a crash leaves either
// the pre-flush or post-flush state, never a mix.
//
// Records already present in the canonical store (by content key, see
// ContentKey) are dropped during the merge; extraction is at-least-once, the
// store is effectively at-most-once.
//
// Returns the number of records appended. Flushing an empty inbox is a no-op
// that does not touch the canonical store.
func (s *Store) Flush(lens Lens) (int, error) {
	ids, err := s.ListFragments(lens)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	existing, err := readJSONLines(s.CanonicalPath(lens))
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(existing))
	for _, rec := range existing {
		seen[ContentKey(lens, rec)] = true
	}

	var merged strings.Builder
	for _, rec := range existing {
		merged.Write(rec)
		merged.WriteByte('\n')
	}

	appended := 0
	for _, id := range ids {
		records, err := s.ReadFragment(lens, id)
		if err != nil {
			return 0, err
		}
		for _, rec := range records {
			key := ContentKey(lens, rec)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged.Write(compactJSON(rec))
			merged.WriteByte('\n')
			appended++
		}
	}

	if appended > 0 {
		if err := writeFileAtomic(s.CanonicalPath(lens), []byte(merged.String())); err != nil {
			return 0, err
		}
	}

	// Store content is durable; consuming the fragments is now safe. A crash
	// here re-reads leftover fragments next flush and dedups them away.
	for _, id := range ids {
		path := filepath.Join(s.InboxDir(lens), id+fragmentExt)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return appended, err
		}
	}

	s.logf("?", "flushed lens=%s fragments=%d records=%d", lens.Name, len(ids), appended)
	return appended, nil
}

// ContentKey is the dedup key for a record within a lens: a SHA-256 over the
// lens name and the record's content field with whitespace collapsed.
// Timestamps, session ids and context commentary are excluded so that
// re-extracting an already-captured window dedups even when the worker
// re-words the surrounding fields. Records without a content field fall back
// to their full compacted JSON.
func ContentKey(lens Lens, rec json.RawMessage) string {
	var fields struct {
		Content string `json:"content"`
	}

	material := ""
	if err := json.Unmarshal(rec, &fields); err == nil && fields.Content != "" {
		material = strings.Join(strings.Fields(fields.Content), " ")
	} else {
		material = string(compactJSON(rec))
	}

	sum := sha256.Sum256([]byte(lens.Name + "\x00" + material))
	return hex.EncodeToString(sum[:])
}
