package extract

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aeo-labs/nous/internal/state"
)

const (
	stderrExt = ".stderr"

	// stderrMaxAge is how long a stderr artifact survives before flush
	// sweeps it. Long enough to inspect a failed run, short enough that the
	// inbox never accumulates debris.
	stderrMaxAge = 5 * time.Minute
)

// writeStderrArtifact persists a failed run's full stderr next to the lens
// inbox so the run can be diagnosed after the fact. The side log only keeps
// a one-line preview. Best-effort.
func writeStderrArtifact(store *state.Store, lens state.Lens, stderr []byte) {
	if len(bytes.TrimSpace(stderr)) == 0 {
		return
	}
	dir := store.InboxDir(lens)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return
	}
	name := fmt.Sprintf("%d_%d%s", time.Now().Unix(), os.Getpid(), stderrExt)
	_ = os.WriteFile(filepath.Join(dir, name), stderr, 0600)
}

// sweepStderrArtifacts removes stderr files past their keep window.
func sweepStderrArtifacts(store *state.Store, lens state.Lens) {
	dir := store.InboxDir(lens)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-stderrMaxAge)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), stderrExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}
