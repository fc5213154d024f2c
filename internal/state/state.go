// Package state is the file-backed store for one project's nous state: the
// activity log, extraction cursor, inbox fragments, canonical lens stores,
// claim token, and block-cycle guard. It is the only package that touches
// shared mutable files; everything it writes goes through atomic
// create/rename so concurrent short-lived hook processes never observe a
// torn file.
package state

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/aeo-labs/nous/internal/sidelog"
)

// Lens is one extraction category with its canonical store file name.
type Lens struct {
	Name      string
	StoreFile string
}

// The two lenses. Learnings are behavioral deltas for future sessions
// (engram); knowledge is durable project facts (cortex).
var (
	LensLearnings = Lens{Name: "learnings", StoreFile: "engram.jsonl"}
	LensKnowledge = Lens{Name: "knowledge", StoreFile: "cortex.jsonl"}
)

// Lenses returns all lenses in flush order.
func Lenses() []Lens {
	return []Lens{LensLearnings, LensKnowledge}
}

// LensByName resolves a lens name, reporting whether it is known.
func LensByName(name string) (Lens, bool) {
	for _, l := range Lenses() {
		if l.Name == name {
			return l, true
		}
	}
	return Lens{}, false
}

// timestampPattern validates the ISO 8601 millisecond format used for
// cursors and transcript windows (also guards against injection into worker
// prompts).
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`)

// ValidTimestamp reports whether ts is in the cursor timestamp format.
func ValidTimestamp(ts string) bool {
	return timestampPattern.MatchString(ts)
}

// Store is one project's state directory handle.
type Store struct {
	project string
	log     *sidelog.Logger

	// cursorMu serializes read-modify-write cycles on the shared cursor
	// file. Parallel lens workers in one process would otherwise race and
	// drop each other's advance; cross-process writers are already
	// serialized by the claim token.
	cursorMu sync.Mutex
}

// Open returns a Store rooted at project/.claude/nous. The directory is
// created lazily by the first write.
func Open(project string, log *sidelog.Logger) *Store {
	return &Store{project: project, log: log}
}

// Project returns the project directory this store belongs to.
func (s *Store) Project() string {
	return s.project
}

// Dir returns the project-scoped state directory.
func (s *Store) Dir() string {
	return filepath.Join(s.project, ".claude", "nous")
}

// ActivityLogPath is the per-project activity log file.
func (s *Store) ActivityLogPath() string {
	return filepath.Join(s.Dir(), "activity.jsonl")
}

// CursorPath is the per-project extraction cursor file.
func (s *Store) CursorPath() string {
	return filepath.Join(s.Dir(), "extraction_cursor.json")
}

// ClaimPath is the claim token file gating flush/extract/advance across
// concurrent sessions.
func (s *Store) ClaimPath() string {
	return filepath.Join(s.Dir(), "claim.json")
}

// GuardPath is the block-cycle guard marker file.
func (s *Store) GuardPath() string {
	return filepath.Join(s.Dir(), "block_guard.json")
}

// LensDir is the per-lens directory holding the canonical store and inbox.
func (s *Store) LensDir(lens Lens) string {
	return filepath.Join(s.Dir(), lens.Name)
}

// InboxDir holds uncommitted fragment files for a lens.
func (s *Store) InboxDir(lens Lens) string {
	return filepath.Join(s.LensDir(lens), "inbox")
}

// CanonicalPath is the append-only canonical store file for a lens.
func (s *Store) CanonicalPath(lens Lens) string {
	return filepath.Join(s.LensDir(lens), lens.StoreFile)
}

// ensureDir creates dir with the restricted permissions all nous state uses.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	_ = os.Chmod(dir, 0700)
	return nil
}

func (s *Store) logf(session, format string, args ...any) {
	s.log.Printf(session, s.project, format, args...)
}
