package hook

import (
	"encoding/json"
	"fmt"
	"time"
)

// MetaTimeLayout is the wall-clock format used for meta_ts and all
// transcript-window timestamps (ISO 8601, millisecond precision, UTC).
const MetaTimeLayout = "2006-01-02T15:04:05.000Z"

// ModelInfo identifies the host model for a snapshot.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Workspace mirrors the host's workspace block.
type Workspace struct {
	CurrentDir string `json:"current_dir"`
	ProjectDir string `json:"project_dir"`
}

// Cost mirrors the host's cumulative cost block.
type Cost struct {
	TotalCostUSD       float64 `json:"total_cost_usd"`
	TotalDurationMS    int64   `json:"total_duration_ms"`
	TotalAPIDurationMS int64   `json:"total_api_duration_ms"`
	TotalLinesAdded    int     `json:"total_lines_added"`
	TotalLinesRemoved  int     `json:"total_lines_removed"`
}

// ContextWindow mirrors the host's context-usage block.
type ContextWindow struct {
	ContextWindowSize   int `json:"context_window_size"`
	UsedPercentage      int `json:"used_percentage"`
	RemainingPercentage int `json:"remaining_percentage"`
	TotalInputTokens    int `json:"total_input_tokens"`
	TotalOutputTokens   int `json:"total_output_tokens"`
}

// Snapshot is one status record: the host's periodic status payload enriched
// with meta_ts and meta_host. Unknown top-level fields are carried through
// untouched so nous can sit in a pipeline with other status consumers.
type Snapshot struct {
	MetaTS         string        `json:"meta_ts"`
	MetaHost       string        `json:"meta_host"`
	SessionID      string        `json:"session_id"`
	TranscriptPath string        `json:"transcript_path"`
	CWD            string        `json:"cwd"`
	Version        string        `json:"version,omitempty"`
	Model          ModelInfo     `json:"model"`
	Workspace      Workspace     `json:"workspace"`
	Cost           Cost          `json:"cost"`
	ContextWindow  ContextWindow `json:"context_window"`

	// Extra holds passthrough fields this pipeline does not interpret.
	Extra map[string]json.RawMessage `json:"-"`
}

// snapshotAlias avoids UnmarshalJSON recursion.
type snapshotAlias Snapshot

// knownSnapshotKeys are the top-level keys owned by the typed fields.
var knownSnapshotKeys = map[string]bool{
	"meta_ts": true, "meta_host": true,
	"session_id": true, "transcript_path": true, "cwd": true, "version": true,
	"model": true, "workspace": true, "cost": true, "context_window": true,
}

// UnmarshalJSON decodes the typed fields and keeps every unknown top-level
// field in Extra.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var alias snapshotAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range all {
		if knownSnapshotKeys[k] {
			delete(all, k)
		}
	}
	if len(all) == 0 {
		all = nil
	}

	*s = Snapshot(alias)
	s.Extra = all
	return nil
}

// MarshalJSON emits the typed fields merged with the passthrough fields.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(snapshotAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if !knownSnapshotKeys[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Enrich fills meta_ts and meta_host if the host did not provide them.
func (s *Snapshot) Enrich(now time.Time, host string) {
	if s.MetaTS == "" {
		s.MetaTS = now.UTC().Format(MetaTimeLayout)
	}
	if s.MetaHost == "" {
		s.MetaHost = host
	}
}

// Validate checks the fields the policy engine depends on. The recorder does
// not call this; it appends whatever it was given.
func (s *Snapshot) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("snapshot missing session_id")
	}
	if s.CWD == "" {
		return fmt.Errorf("snapshot missing cwd")
	}
	if pct := s.ContextWindow.UsedPercentage; pct < 0 || pct > 100 {
		return fmt.Errorf("used_percentage %d out of range [0,100]", pct)
	}
	return nil
}
