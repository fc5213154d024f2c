// Package entry defines the consolidated-entry model shared by the index
// database and its query operations. An Entry is the typed view of one JSONL
// record from a lens's canonical store; the JSONL file stays the source of
// truth and entries here are a disposable mirror.
package entry

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aeo-labs/nous/internal/state"
)

// Entry is one consolidated learning or knowledge record.
type Entry struct {
	// ID is a ULID assigned when the record is first indexed
	ID string

	// Lens is the lens name the record belongs to ("learnings", "knowledge")
	Lens string

	// TS is the record's own timestamp as emitted by the extraction worker
	TS string

	// Session is the session the record was extracted from
	Session string

	// Project is the project directory the record belongs to
	Project string

	// Category is the knowledge category (empty for learnings)
	Category string

	// Content is the record's main text
	Content string

	// Context explains why the record matters
	Context string

	// SuggestedTarget is the file the record suggests updating
	SuggestedTarget string

	// ContentHash is the lens-scoped dedup key; UNIQUE in the index
	ContentHash string

	// CreatedAt is the Unix timestamp when the record was indexed
	CreatedAt int64
}

// rawRecord mirrors the canonical JSONL field names.
type rawRecord struct {
	TS              string `json:"ts"`
	Project         string `json:"project"`
	Session         string `json:"session"`
	Category        string `json:"category"`
	Content         string `json:"content"`
	Context         string `json:"context"`
	SuggestedTarget string `json:"suggested_target"`
}

// FromRecord builds an Entry from one canonical-store line. The content hash
// is the same key the flush path dedups on, so indexing a store twice is a
// no-op.
func FromRecord(lens state.Lens, raw json.RawMessage) (*Entry, error) {
	var r rawRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("record is not valid JSON: %w", err)
	}
	if strings.TrimSpace(r.Content) == "" {
		return nil, fmt.Errorf("record has no content")
	}

	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return &Entry{
		ID:              id,
		Lens:            lens.Name,
		TS:              r.TS,
		Session:         r.Session,
		Project:         r.Project,
		Category:        r.Category,
		Content:         r.Content,
		Context:         r.Context,
		SuggestedTarget: r.SuggestedTarget,
		ContentHash:     state.ContentKey(lens, raw),
		CreatedAt:       time.Now().Unix(),
	}, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a ULID for an indexed entry.
func NewID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
