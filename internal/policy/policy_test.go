package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aeo-labs/nous/internal/config"
	"github.com/aeo-labs/nous/internal/hook"
	"github.com/aeo-labs/nous/internal/state"
)

func TestDecide(t *testing.T) {
	cfg := config.DefaultConfig()

	tests := []struct {
		pct  int
		want Action
	}{
		{0, ActionSkip},
		{9, ActionSkip},
		{10, ActionFlushAndExtract}, // boundary lands in upper bucket
		{42, ActionFlushAndExtract},
		{69, ActionFlushAndExtract},
		{70, ActionFlush},
		{84, ActionFlush},
		{85, ActionFlushAndBlock},
		{100, ActionFlushAndBlock},
	}
	for _, tt := range tests {
		if got := Decide(cfg, tt.pct); got != tt.want {
			t.Errorf("Decide(%d) = %s, want %s", tt.pct, got, tt.want)
		}
	}
}

// newTestEngine returns an engine, a store rooted in a temp project, and a
// Stop input whose transcript file exists (empty).
func newTestEngine(t *testing.T) (*Engine, *state.Store, *hook.StopInput) {
	t.Helper()
	project := t.TempDir()
	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(transcript, nil, 0600); err != nil {
		t.Fatal(err)
	}
	in := &hook.StopInput{
		SessionID:      "sess-1",
		TranscriptPath: transcript,
		CWD:            project,
		HookEventName:  hook.EventStop,
	}
	return NewEngine(config.DefaultConfig(), nil), state.Open(project, nil), in
}

// appendActivity writes one snapshot record for the input's session directly
// into the project's activity log.
func appendActivity(t *testing.T, store *state.Store, in *hook.StopInput, pct int) {
	t.Helper()
	if err := os.MkdirAll(store.Dir(), 0700); err != nil {
		t.Fatal(err)
	}
	line := fmt.Sprintf(
		`{"meta_ts":"2026-02-03T12:00:00.000Z","session_id":%q,"transcript_path":%q,"cwd":%q,"context_window":{"used_percentage":%d}}`,
		in.SessionID, in.TranscriptPath, store.Project(), pct)
	f, err := os.OpenFile(store.ActivityLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluate_StopHookActive(t *testing.T) {
	e, store, in := newTestEngine(t)
	appendActivity(t, store, in, 50)
	in.StopHookActive = true

	if d := e.Evaluate(store, in); d.Action != ActionSkip {
		t.Errorf("Action = %s, want skip on stop_hook_active", d.Action)
	}
}

func TestEvaluate_NoActivityRecord(t *testing.T) {
	e, store, in := newTestEngine(t)

	d := e.Evaluate(store, in)
	if d.Action != ActionSkip {
		t.Errorf("Action = %s, want skip without an activity record", d.Action)
	}
	if d.Snapshot != nil {
		t.Error("Snapshot should be nil when no record was found")
	}
}

func TestEvaluate_Thresholds(t *testing.T) {
	tests := []struct {
		pct  int
		want Action
	}{
		{5, ActionSkip},
		{40, ActionFlushAndExtract},
		{75, ActionFlush},
		{90, ActionFlushAndBlock},
	}
	for _, tt := range tests {
		e, store, in := newTestEngine(t)
		appendActivity(t, store, in, tt.pct)

		d := e.Evaluate(store, in)
		if d.Action != tt.want {
			t.Errorf("pct %d: Action = %s, want %s", tt.pct, d.Action, tt.want)
		}
		if tt.want == ActionFlushAndBlock && !strings.Contains(d.Reason, "/clear") {
			t.Errorf("block reason %q does not recommend /clear", d.Reason)
		}
		if tt.want != ActionSkip && d.Snapshot == nil {
			t.Errorf("pct %d: Snapshot missing from actionable decision", tt.pct)
		}
	}
}

func TestEvaluate_ForeignLiveClaimSkips(t *testing.T) {
	e, store, in := newTestEngine(t)
	appendActivity(t, store, in, 40)

	other := state.NewClaimToken("sess-other", "/t/other.jsonl")
	if err := store.Claim(other, e.ClaimStaleAfter()); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if d := e.Evaluate(store, in); d.Action != ActionSkip {
		t.Errorf("Action = %s, want skip while another session holds the claim", d.Action)
	}
}

func TestEvaluate_OwnClaimProceeds(t *testing.T) {
	e, store, in := newTestEngine(t)
	appendActivity(t, store, in, 40)

	own := state.NewClaimToken(in.SessionID, in.TranscriptPath)
	if err := store.Claim(own, e.ClaimStaleAfter()); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if d := e.Evaluate(store, in); d.Action != ActionFlushAndExtract {
		t.Errorf("Action = %s, want flush_and_extract under own claim", d.Action)
	}
}

// A session that never produces a summary block is blocked at most once;
// subsequent Stop events for the same (session, token) pair downgrade to a
// plain flush instead of looping.
func TestEvaluate_BlockCycleTerminates(t *testing.T) {
	e, store, in := newTestEngine(t)
	appendActivity(t, store, in, 92)

	first := e.Evaluate(store, in)
	if first.Action != ActionFlushAndBlock {
		t.Fatalf("first Action = %s, want flush_and_block", first.Action)
	}

	for i := 0; i < 3; i++ {
		d := e.Evaluate(store, in)
		if d.Action != ActionFlush {
			t.Fatalf("repeat %d: Action = %s, want downgrade to flush", i, d.Action)
		}
	}
}

// A new summary block in the transcript re-arms the guard.
func TestEvaluate_SummaryReArmsBlock(t *testing.T) {
	e, store, in := newTestEngine(t)
	appendActivity(t, store, in, 92)

	if d := e.Evaluate(store, in); d.Action != ActionFlushAndBlock {
		t.Fatalf("first Action = %s, want flush_and_block", d.Action)
	}
	if d := e.Evaluate(store, in); d.Action != ActionFlush {
		t.Fatalf("repeat Action = %s, want flush", d.Action)
	}

	entry := `{"type":"assistant","text":"<summary>wrapped up the refactor</summary>"}` + "\n"
	if err := os.WriteFile(in.TranscriptPath, []byte(entry), 0600); err != nil {
		t.Fatal(err)
	}

	if d := e.Evaluate(store, in); d.Action != ActionFlushAndBlock {
		t.Errorf("Action after summary = %s, want flush_and_block again", d.Action)
	}
}

func TestSummaryPresent(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	if summaryPresent(filepath.Join(dir, "missing.jsonl")) {
		t.Error("missing transcript should have no summary")
	}
	if summaryPresent(write("open-only.jsonl", "text <summary> unterminated")) {
		t.Error("unterminated block is not parseable")
	}
	if !summaryPresent(write("ok.jsonl", "pre <summary>failed to finish</summary> post")) {
		t.Error("closed block counts even when it reports failure")
	}
}
