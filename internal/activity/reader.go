package activity

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/aeo-labs/nous/internal/hook"
	"github.com/aeo-labs/nous/internal/state"
)

// maxScanRecords bounds how far back the reader walks when looking for a
// session's snapshots; old records past the rotation window are irrelevant.
const maxScanRecords = 1000

// LatestForSession walks the project's activity log backward and returns the
// two most recent snapshots for the given session: (current, previous).
// Either may be nil. Read-only; a missing log is not an error.
func LatestForSession(store *state.Store, sessionID string) (current, previous *hook.Snapshot, err error) {
	lines, err := tailLines(store.ActivityLogPath(), maxScanRecords)
	if err != nil {
		return nil, nil, err
	}

	var found []*hook.Snapshot
	for i := len(lines) - 1; i >= 0 && len(found) < 2; i-- {
		var snap hook.Snapshot
		if err := json.Unmarshal([]byte(lines[i]), &snap); err != nil {
			continue
		}
		if snap.SessionID != sessionID {
			continue
		}
		found = append(found, &snap)
	}

	if len(found) == 0 {
		return nil, nil, nil
	}
	current = found[0]
	if len(found) > 1 {
		previous = found[1]
	}
	return current, previous, nil
}

// CountRecords returns the number of records currently in the log.
func CountRecords(store *state.Store) (int, error) {
	lines, err := tailLines(store.ActivityLogPath(), 0)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

// tailLines reads up to the last max non-empty lines of path (all when
// max <= 0). A missing file yields no lines.
func tailLines(path string, max int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if max > 0 && len(lines) > max {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
