package extract

import (
	"encoding/json"
	"strings"

	"github.com/aeo-labs/nous/internal/state"
)

// recordFields is the superset schema of extraction output records. The
// learnings lens omits category; everything else is shared.
type recordFields struct {
	TS              string `json:"ts"`
	Project         string `json:"project"`
	Session         string `json:"session"`
	Category        string `json:"category"`
	Content         string `json:"content"`
	Context         string `json:"context"`
	SuggestedTarget string `json:"suggested_target"`
}

// ParseRecords recovers structured records from raw worker output for one
// session. The model is instructed to emit bare JSONL or nothing, but in
// practice output arrives wrapped in code fences or padded with prose, so
// parsing is lenient: fences are stripped, and each line either yields a
// valid record or is dropped. Records missing the fields the lens requires
// are dropped too, as is any record whose session field is not this run's
// session: the prompt itself contains example records, and a worker that
// echoes its input back must not populate the store.
func ParseRecords(lens state.Lens, session string, output []byte) []json.RawMessage {
	var records []json.RawMessage
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var fields recordFields
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			continue
		}
		if !validRecord(lens, session, fields) {
			continue
		}
		records = append(records, json.RawMessage(line))
	}
	return records
}

// validRecord checks the fields a stored record must carry.
func validRecord(lens state.Lens, session string, f recordFields) bool {
	if f.Content == "" || f.Project == "" {
		return false
	}
	if f.Session == "" || f.Session != session {
		return false
	}
	if lens.Name == state.LensKnowledge.Name && f.Category == "" {
		return false
	}
	return true
}
