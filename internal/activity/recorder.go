// Package activity owns the per-project activity log: an append-only,
// bounded JSONL sequence of status snapshots. The recorder sits on the
// host's status-refresh hot path and must never fail or block the caller.
package activity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aeo-labs/nous/internal/config"
	"github.com/aeo-labs/nous/internal/hook"
	"github.com/aeo-labs/nous/internal/sidelog"
	"github.com/aeo-labs/nous/internal/state"
)

// Recorder appends enriched snapshots to a project's activity log.
type Recorder struct {
	cfg *config.Config
	log *sidelog.Logger

	// Overridable for tests.
	now      func() time.Time
	hostname func() (string, error)
}

// NewRecorder creates a recorder.
func NewRecorder(cfg *config.Config, log *sidelog.Logger) *Recorder {
	return &Recorder{
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		hostname: os.Hostname,
	}
}

// Record ingests one raw status payload. It never returns an error and never
// writes to stdout: the recorder is embedded in a status pipeline and a
// failure here must not fail the hook. All problems go to the side log.
func (r *Recorder) Record(raw []byte) {
	if err := r.record(raw); err != nil {
		r.log.Printf("?", "?", "ERROR record: %v", err)
	}
}

// record is the fallible implementation behind Record.
func (r *Recorder) record(raw []byte) error {
	var snap hook.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}

	host, err := r.hostname()
	if err != nil {
		host = "unknown"
	}
	snap.Enrich(r.now(), host)

	if snap.CWD == "" {
		// Without a project there is nowhere to file the record.
		r.log.Printf(snap.SessionID, "?", "WARN record: snapshot has no cwd, dropped")
		return nil
	}

	store := state.Open(snap.CWD, r.log)
	line, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	if err := appendLine(store.ActivityLogPath(), line); err != nil {
		return err
	}

	return r.rotate(store)
}

// rotate truncates the log to the retain window once it exceeds the soft
// cap. Runs synchronously on the hot path but only fires every
// cap-minus-retain appends. The read-truncate-rename cycle is not atomic
// against a concurrent session's append: a record landing in that window is
// lost with the truncated prefix. The log is a bounded best-effort buffer
// and the policy engine only needs the latest snapshot, so the loss is
// tolerated rather than locked against.
func (r *Recorder) rotate(store *state.Store) error {
	path := store.ActivityLogPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := splitLines(string(data))
	if len(lines) <= r.cfg.ActivityLogCap {
		return nil
	}

	retained := lines[len(lines)-r.cfg.ActivityLogRetain:]
	out := strings.Join(retained, "\n") + "\n"
	if err := writeReplace(path, []byte(out)); err != nil {
		return err
	}
	r.log.Printf("?", store.Project(), "activity_rotated from=%d to=%d", len(lines), len(retained))
	return nil
}

// appendLine appends one JSONL line, creating parent directories on first use.
func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// writeReplace rewrites a file atomically (temp + rename in the same dir).
func writeReplace(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".activity.tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0600); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

// splitLines splits on newlines dropping empty lines.
func splitLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
