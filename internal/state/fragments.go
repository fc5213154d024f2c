package state

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// fragmentExt is the suffix of committed fragment files in an inbox.
const fragmentExt = ".jsonl"

// WriteFragment durably writes one batch of extracted records as a new inbox
// fragment and returns its id. Fragment ids are ULIDs, so lexicographic order
// of ids is creation order, and O_EXCL creation makes collisions between
// concurrent or retried workers impossible.
func (s *Store) WriteFragment(lens Lens, records []json.RawMessage) (string, error) {
	id, err := newULID()
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	for _, rec := range records {
		buf.Write(compactJSON(rec))
		buf.WriteByte('\n')
	}

	path := filepath.Join(s.InboxDir(lens), id+fragmentExt)
	if err := createFileExclusive(path, []byte(buf.String())); err != nil {
		return "", err
	}
	s.logf("?", "fragment_written lens=%s id=%s records=%d", lens.Name, id, len(records))
	return id, nil
}

// ListFragments returns the ids of all pending fragments for a lens in
// creation order.
func (s *Store) ListFragments(lens Lens) ([]string, error) {
	entries, err := os.ReadDir(s.InboxDir(lens))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fragmentExt) {
			continue
		}
		// Skip in-flight temp files from writeFileAtomic
		if strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fragmentExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// ReadFragment returns the records of one pending fragment.
func (s *Store) ReadFragment(lens Lens, id string) ([]json.RawMessage, error) {
	return readJSONLines(filepath.Join(s.InboxDir(lens), id+fragmentExt))
}

// ReadRecent returns the newest n records from a lens's canonical store,
// oldest first. A missing store yields no records and no error.
func (s *Store) ReadRecent(lens Lens, n int) ([]json.RawMessage, error) {
	records, err := readJSONLines(s.CanonicalPath(lens))
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// readJSONLines reads a JSONL file leniently: blank and malformed lines are
// skipped rather than failing the read. A missing file is an empty result.
func readJSONLines(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			continue
		}
		records = append(records, json.RawMessage(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// compactJSON strips insignificant whitespace so stored lines are one record
// per line regardless of how the producer formatted them.
func compactJSON(raw json.RawMessage) []byte {
	var buf strings.Builder
	if err := compactInto(&buf, raw); err != nil {
		return raw
	}
	return []byte(buf.String())
}

func compactInto(buf *strings.Builder, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(out)
	return nil
}

// Shared entropy keeps ULIDs strictly increasing within one process even
// when several fragments land in the same millisecond.
var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// newULID generates a monotonic ULID, the id scheme used across nous for
// fragments and worker runs.
func newULID() (string, error) {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulidEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
