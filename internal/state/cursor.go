package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// cursorFile is the on-disk shape of the extraction cursor: one bookmark per
// lens recording how much of the transcript has already been extracted.
type cursorFile struct {
	LastExtracted map[string]string `json:"last_extracted_ts"`
}

// ReadCursor returns the last extracted timestamp for a lens.
// ok is false when no cursor exists yet (whole transcript is unextracted).
func (s *Store) ReadCursor(lens Lens) (ts string, ok bool, err error) {
	cf, err := s.readCursorFile()
	if err != nil {
		return "", false, err
	}
	ts, ok = cf.LastExtracted[lens.Name]
	return ts, ok, nil
}

// AdvanceCursor moves a lens's cursor forward to ts. The cursor is strictly
// monotonic: a ts at or behind the current bookmark is ignored. Callers must
// only invoke this after the corresponding inbox fragment is durably written;
// a crash before this call costs at most one harmless re-extraction.
func (s *Store) AdvanceCursor(lens Lens, ts string) error {
	if !ValidTimestamp(ts) {
		return fmt.Errorf("cursor timestamp %q is not ISO 8601 millisecond format", ts)
	}

	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	cf, err := s.readCursorFile()
	if err != nil {
		// A corrupt cursor is reinitialized rather than wedging extraction;
		// the cost is bounded re-extraction, dedup absorbs it.
		s.logf("?", "cursor_reset reason=%v", err)
		cf = &cursorFile{}
	}
	if cf.LastExtracted == nil {
		cf.LastExtracted = map[string]string{}
	}

	// The fixed timestamp format makes lexicographic order chronological.
	if cur, ok := cf.LastExtracted[lens.Name]; ok && ts <= cur {
		return nil
	}
	cf.LastExtracted[lens.Name] = ts

	data, err := json.Marshal(cf)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.CursorPath(), data)
}

// readCursorFile loads the cursor file, treating a missing file as empty.
func (s *Store) readCursorFile() (*cursorFile, error) {
	data, err := os.ReadFile(s.CursorPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cursorFile{}, nil
		}
		return nil, err
	}

	cf := &cursorFile{}
	if err := json.Unmarshal(data, cf); err != nil {
		return nil, fmt.Errorf("cursor file corrupt: %w", err)
	}
	return cf, nil
}
