package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aeo-labs/nous/internal/config"
	"github.com/aeo-labs/nous/internal/errors"
	"github.com/aeo-labs/nous/internal/hook"
	"github.com/aeo-labs/nous/internal/policy"
	"github.com/aeo-labs/nous/internal/state"
)

const endTS = "2026-02-03T12:00:00.000Z"

// stubRunner dispatches on lens (inferred from the prompt) to a canned
// response per lens.
type stubRunner struct {
	learnings func() ([]byte, []byte, error)
	knowledge func() ([]byte, []byte, error)

	mu      sync.Mutex
	prompts []string
}

func (r *stubRunner) Run(_ context.Context, _, _, prompt string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()
	if strings.Contains(prompt, "What facts about this project") {
		return r.knowledge()
	}
	return r.learnings()
}

func emit(lines ...string) func() ([]byte, []byte, error) {
	out := strings.Join(lines, "\n")
	return func() ([]byte, []byte, error) { return []byte(out), nil, nil }
}

func learningLine(content string) string {
	return fmt.Sprintf(`{"ts":%q,"project":"/p","session":"s1","content":%q,"context":"c","suggested_target":"/p/CLAUDE.md"}`, endTS, content)
}

func knowledgeLine(content string) string {
	return fmt.Sprintf(`{"ts":%q,"project":"/p","session":"s1","category":"arch","content":%q,"context":"c","suggested_target":"/p/kb/arch.md"}`, endTS, content)
}

func newTestOrchestrator(t *testing.T, runner Runner) (*Orchestrator, *state.Store, string) {
	t.Helper()
	project := t.TempDir()
	transcript := project + "/transcript.jsonl"
	if err := os.WriteFile(transcript, []byte(`{"timestamp":"2026-02-03T11:00:00.000Z"}`+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.WorkerTimeoutSeconds = 5
	return NewOrchestrator(cfg, nil, runner), state.Open(project, nil), transcript
}

func TestBuildPrompt(t *testing.T) {
	snap := &hook.Snapshot{
		SessionID:      "s1",
		TranscriptPath: "/t/s1.jsonl",
		CWD:            "/p",
		Model:          hook.ModelInfo{DisplayName: "Opus"},
		ContextWindow:  hook.ContextWindow{UsedPercentage: 42},
	}
	existing := []json.RawMessage{json.RawMessage(`{"content":"known thing"}`)}

	prompt := BuildPrompt(state.LensLearnings, snap, windowStart, endTS, existing)

	for _, want := range []string{
		"<session_id>s1</session_id>",
		"<start_ts>" + windowStart + "</start_ts>",
		"<end_ts>" + endTS + "</end_ts>",
		"<context_used_pct>42</context_used_pct>",
		`jq -c 'select(.timestamp >= "` + windowStart + `" and .timestamp <= "` + endTS + `")' "/t/s1.jsonl"`,
		`{"content":"known thing"}`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if strings.Contains(prompt, "What facts about this project") {
		t.Error("learnings prompt contains knowledge instructions")
	}
	if kp := BuildPrompt(state.LensKnowledge, snap, windowStart, endTS, nil); !strings.Contains(kp, "What facts about this project") {
		t.Error("knowledge prompt missing knowledge instructions")
	}
}

func TestParseRecords(t *testing.T) {
	output := strings.Join([]string{
		"```jsonl",
		learningLine("use the retry flag"),
		"not json at all",
		`{"session":"s1","project":"/p"}`, // missing content
		"```",
	}, "\n")

	records := ParseRecords(state.LensLearnings, "s1", []byte(output))
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if !strings.Contains(string(records[0]), "use the retry flag") {
		t.Errorf("wrong record survived: %s", records[0])
	}
}

func TestParseRecords_KnowledgeRequiresCategory(t *testing.T) {
	noCategory := learningLine("fact without category")
	if got := ParseRecords(state.LensKnowledge, "s1", []byte(noCategory)); len(got) != 0 {
		t.Errorf("knowledge record without category accepted: %v", got)
	}
	if got := ParseRecords(state.LensKnowledge, "s1", []byte(knowledgeLine("a fact"))); len(got) != 1 {
		t.Errorf("valid knowledge record rejected")
	}
	// The same shape is fine for learnings.
	if got := ParseRecords(state.LensLearnings, "s1", []byte(noCategory)); len(got) != 1 {
		t.Errorf("valid learning rejected")
	}
}

// TestParseRecords_RejectsForeignSession guards against a worker echoing its
// own prompt: the prompt embeds an example record with a placeholder session,
// and nothing carrying another session's id may enter the store.
func TestParseRecords_RejectsForeignSession(t *testing.T) {
	echoed := strings.Join([]string{
		`{"ts": "end_ts", "project": "/full/path/from/cwd", "session": "session_id", "content": "actionable guidance", "context": "why", "suggested_target": "/full/path/file.md"}`,
		learningLine("real insight"),
	}, "\n")

	records := ParseRecords(state.LensLearnings, "s1", []byte(echoed))
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if !strings.Contains(string(records[0]), "real insight") {
		t.Errorf("echoed example record survived: %s", records[0])
	}

	if got := ParseRecords(state.LensLearnings, "s2", []byte(learningLine("real insight"))); len(got) != 0 {
		t.Errorf("record from another session accepted: %v", got)
	}
}

func TestWorkerEnv(t *testing.T) {
	t.Setenv("NOUS_TEST_SECRET", "leak")
	t.Setenv("PATH", "/usr/bin")

	env := workerEnv("s1", "/p")

	joined := strings.Join(env, "\n")
	if strings.Contains(joined, "NOUS_TEST_SECRET") {
		t.Error("non-allowlisted variable leaked into worker env")
	}
	for _, want := range []string{"PATH=/usr/bin", SubprocessEnv + "=1", SessionEnv + "=s1", ProjectEnv + "=/p"} {
		if !strings.Contains(joined, want) {
			t.Errorf("worker env missing %q", want)
		}
	}
}

func TestRunWorker_WritesFragmentAndAdvancesCursor(t *testing.T) {
	runner := &stubRunner{
		learnings: emit(learningLine("always run the linter")),
		knowledge: emit(knowledgeLine("storage is sqlite")),
	}
	o, store, transcript := newTestOrchestrator(t, runner)

	if err := o.RunWorker(context.Background(), store, "s1", transcript, endTS); err != nil {
		t.Fatalf("RunWorker() error = %v", err)
	}

	for _, lens := range state.Lenses() {
		ids, err := store.ListFragments(lens)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 1 {
			t.Errorf("lens %s: %d fragments, want 1", lens.Name, len(ids))
		}
		ts, ok, err := store.ReadCursor(lens)
		if err != nil || !ok || ts != endTS {
			t.Errorf("lens %s: cursor = %q ok=%v err=%v, want %q", lens.Name, ts, ok, err, endTS)
		}
	}

	if _, held := store.ClaimHolder(); held {
		t.Error("claim not released after worker run")
	}
}

// One lens failing must not block the other lens or advance the failed
// lens's cursor; its window is retried on the next eligible Stop event.
func TestRunWorker_LensFailureIsolated(t *testing.T) {
	runner := &stubRunner{
		learnings: func() ([]byte, []byte, error) {
			return nil, []byte("model exploded"), fmt.Errorf("exit status 1")
		},
		knowledge: emit(knowledgeLine("storage is sqlite")),
	}
	o, store, transcript := newTestOrchestrator(t, runner)

	err := o.RunWorker(context.Background(), store, "s1", transcript, endTS)
	if !errors.Is(err, errors.ErrWorkerFailed) {
		t.Fatalf("RunWorker() error = %v, want WORKER_FAILED", err)
	}

	if _, ok, _ := store.ReadCursor(state.LensLearnings); ok {
		t.Error("failed lens's cursor advanced; window would be lost")
	}
	if ts, ok, _ := store.ReadCursor(state.LensKnowledge); !ok || ts != endTS {
		t.Errorf("healthy lens cursor = %q ok=%v, want %q", ts, ok, endTS)
	}
	if ids, _ := store.ListFragments(state.LensKnowledge); len(ids) != 1 {
		t.Errorf("healthy lens fragments = %d, want 1", len(ids))
	}
}

func TestRunWorker_EmptyOutputAdvancesCursor(t *testing.T) {
	runner := &stubRunner{learnings: emit(), knowledge: emit()}
	o, store, transcript := newTestOrchestrator(t, runner)

	if err := o.RunWorker(context.Background(), store, "s1", transcript, endTS); err != nil {
		t.Fatalf("RunWorker() error = %v", err)
	}

	for _, lens := range state.Lenses() {
		if ids, _ := store.ListFragments(lens); len(ids) != 0 {
			t.Errorf("lens %s: empty output produced %d fragments", lens.Name, len(ids))
		}
		if ts, ok, _ := store.ReadCursor(lens); !ok || ts != endTS {
			t.Errorf("lens %s: cursor = %q ok=%v, want advance on clean empty run", lens.Name, ts, ok)
		}
	}
}

func TestRunWorker_ForeignClaimDefers(t *testing.T) {
	o, store, transcript := newTestOrchestrator(t, &stubRunner{learnings: emit(), knowledge: emit()})

	other := state.NewClaimToken("other-session", "/t/other.jsonl")
	if err := store.Claim(other, o.staleAfter()); err != nil {
		t.Fatal(err)
	}

	err := o.RunWorker(context.Background(), store, "s1", transcript, endTS)
	if !errors.Is(err, errors.ErrClaimConflict) {
		t.Fatalf("RunWorker() error = %v, want CLAIM_CONFLICT", err)
	}
	if _, ok, _ := store.ReadCursor(state.LensLearnings); ok {
		t.Error("cursor advanced despite foreign claim")
	}
}

func TestRunWorker_BadEndTS(t *testing.T) {
	o, store, transcript := newTestOrchestrator(t, &stubRunner{})

	err := o.RunWorker(context.Background(), store, "s1", transcript, "yesterday")
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("RunWorker() error = %v, want INVALID_REQUEST", err)
	}
}

func TestRunWorker_MissingTranscriptSkipsExtraction(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, &stubRunner{})

	if err := o.RunWorker(context.Background(), store, "s1", "/nonexistent/t.jsonl", endTS); err != nil {
		t.Fatalf("RunWorker() error = %v, want nil skip", err)
	}
	if _, ok, _ := store.ReadCursor(state.LensLearnings); ok {
		t.Error("cursor advanced without a transcript to extract")
	}
}

// The flush_and_block path must consolidate synchronously before the block
// decision goes back to the host.
func TestExecute_FlushAndBlock(t *testing.T) {
	o, store, transcript := newTestOrchestrator(t, nil)

	rec := json.RawMessage(learningLine("pending insight"))
	if _, err := store.WriteFragment(state.LensLearnings, []json.RawMessage{rec}); err != nil {
		t.Fatal(err)
	}

	d := policy.Decision{
		Action: policy.ActionFlushAndBlock,
		Token:  state.NewClaimToken("s1", transcript),
	}
	if err := o.Execute(store, d); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	entries, err := store.ReadRecent(state.LensLearnings, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("canonical store has %d entries after flush, want 1", len(entries))
	}
	if ids, _ := store.ListFragments(state.LensLearnings); len(ids) != 0 {
		t.Error("fragments not consumed by flush")
	}
	if _, held := store.ClaimHolder(); held {
		t.Error("claim not released after flush")
	}
}

func TestExecute_SkipDoesNothing(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, nil)

	if err := o.Execute(store, policy.Decision{Action: policy.ActionSkip}); err != nil {
		t.Fatalf("Execute(skip) error = %v", err)
	}
	if _, err := os.Stat(store.Dir()); !os.IsNotExist(err) {
		t.Error("skip touched the state directory")
	}
}

func TestExecute_FlushDeferredUnderForeignClaim(t *testing.T) {
	o, store, transcript := newTestOrchestrator(t, nil)

	rec := json.RawMessage(learningLine("pending insight"))
	if _, err := store.WriteFragment(state.LensLearnings, []json.RawMessage{rec}); err != nil {
		t.Fatal(err)
	}
	other := state.NewClaimToken("other", "/t/other.jsonl")
	if err := store.Claim(other, o.staleAfter()); err != nil {
		t.Fatal(err)
	}

	d := policy.Decision{Action: policy.ActionFlush, Token: state.NewClaimToken("s1", transcript)}
	if err := o.Execute(store, d); err != nil {
		t.Fatalf("Execute() error = %v, deferral must not fail the Stop path", err)
	}
	if ids, _ := store.ListFragments(state.LensLearnings); len(ids) != 1 {
		t.Error("fragments consumed despite foreign claim")
	}
}

func TestExecute_FlushAndExtractSpawnsDetached(t *testing.T) {
	o, store, transcript := newTestOrchestrator(t, nil)
	o.executable = func() (string, error) { return "/bin/true", nil }

	snap := &hook.Snapshot{
		MetaTS:         endTS,
		SessionID:      "s1",
		TranscriptPath: transcript,
		CWD:            store.Project(),
	}
	d := policy.Decision{
		Action:   policy.ActionFlushAndExtract,
		Snapshot: snap,
		Token:    state.NewClaimToken("s1", transcript),
	}
	if err := o.Execute(store, d); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestStderrArtifactWrittenOnFailure(t *testing.T) {
	runner := &stubRunner{
		learnings: func() ([]byte, []byte, error) {
			return nil, []byte("model exploded\ntraceback follows"), fmt.Errorf("exit status 1")
		},
		knowledge: emit(),
	}
	o, store, transcript := newTestOrchestrator(t, runner)

	if err := o.RunWorker(context.Background(), store, "s1", transcript, endTS); !errors.Is(err, errors.ErrWorkerFailed) {
		t.Fatalf("RunWorker() error = %v, want WORKER_FAILED", err)
	}

	names := stderrArtifacts(t, store, state.LensLearnings)
	if len(names) != 1 {
		t.Fatalf("got %d stderr artifacts, want 1", len(names))
	}
	data, err := os.ReadFile(filepath.Join(store.InboxDir(state.LensLearnings), names[0]))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "model exploded") {
		t.Errorf("artifact missing stderr content: %s", data)
	}

	// The artifact must not be mistaken for a pending fragment.
	if ids, _ := store.ListFragments(state.LensLearnings); len(ids) != 0 {
		t.Errorf("stderr artifact listed as fragment: %v", ids)
	}
}

func TestSweepStderrArtifacts(t *testing.T) {
	_, store, _ := newTestOrchestrator(t, &stubRunner{learnings: emit(), knowledge: emit()})
	lens := state.LensLearnings
	dir := store.InboxDir(lens)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}

	stale := filepath.Join(dir, "100_1.stderr")
	fresh := filepath.Join(dir, "200_1.stderr")
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("boom"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * stderrMaxAge)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	sweepStderrArtifacts(store, lens)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale artifact survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh artifact was swept")
	}
}

// stderrArtifacts lists the .stderr files in a lens inbox.
func stderrArtifacts(t *testing.T, store *state.Store, lens state.Lens) []string {
	t.Helper()
	entries, err := os.ReadDir(store.InboxDir(lens))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".stderr") {
			names = append(names, e.Name())
		}
	}
	return names
}
