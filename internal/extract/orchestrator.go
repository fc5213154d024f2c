package extract

import (
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aeo-labs/nous/internal/activity"
	"github.com/aeo-labs/nous/internal/config"
	"github.com/aeo-labs/nous/internal/errors"
	"github.com/aeo-labs/nous/internal/hook"
	"github.com/aeo-labs/nous/internal/policy"
	"github.com/aeo-labs/nous/internal/sidelog"
	"github.com/aeo-labs/nous/internal/state"
)

// Orchestrator executes policy decisions: synchronous flushes on the Stop
// path, and the detached worker that does the actual extraction.
type Orchestrator struct {
	cfg    *config.Config
	log    *sidelog.Logger
	runner Runner

	// executable is overridable for tests.
	executable func() (string, error)
}

// NewOrchestrator creates an orchestrator. runner may be nil when the caller
// only ever flushes (the Stop hook path); RunWorker requires one.
func NewOrchestrator(cfg *config.Config, log *sidelog.Logger, runner Runner) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		log:        log,
		runner:     runner,
		executable: os.Executable,
	}
}

// staleAfter mirrors the policy engine's takeover threshold.
func (o *Orchestrator) staleAfter() time.Duration {
	return 2 * time.Duration(o.cfg.WorkerTimeoutSeconds) * time.Second
}

// Execute carries out a Stop decision. The flush and flush_and_block paths
// run synchronously: the host is waiting, and for flush_and_block it must not
// let the session exit before the flush lands. flush_and_extract only spawns
// the detached worker and returns; the session is free to exit while it runs.
// A claim held by another session makes the flush a logged no-op rather than
// an error, keeping the Stop path non-blocking.
func (o *Orchestrator) Execute(store *state.Store, d policy.Decision) error {
	switch d.Action {
	case policy.ActionFlush, policy.ActionFlushAndBlock:
		return o.flushAll(store, d.Token)
	case policy.ActionFlushAndExtract:
		return o.spawnWorker(store, d)
	}
	return nil
}

// flushAll consolidates every lens inbox under the session's claim.
// Per-lens failures are isolated: one lens's bad fragment must not strand the
// other's pending records.
func (o *Orchestrator) flushAll(store *state.Store, token state.ClaimToken) error {
	if err := store.Claim(token, o.staleAfter()); err != nil {
		if errors.Is(err, errors.ErrClaimConflict) {
			o.log.Printf(token.SessionID, store.Project(), "FLUSH deferred: %v", err)
			return nil
		}
		return err
	}
	defer func() {
		if err := store.Release(token); err != nil {
			o.log.Printf(token.SessionID, store.Project(), "WARN release: %v", err)
		}
	}()

	for _, lens := range state.Lenses() {
		if _, err := store.Flush(lens); err != nil {
			o.log.Printf(token.SessionID, store.Project(), "ERROR flush lens=%s: %v", lens.Name, err)
		}
		sweepStderrArtifacts(store, lens)
	}
	return nil
}

// spawnWorker re-launches this binary as a detached extract-worker process.
// Fire-and-forget: once Start returns, the Stop hook is done and the worker
// outlives the host session.
func (o *Orchestrator) spawnWorker(store *state.Store, d policy.Decision) error {
	exe, err := o.executable()
	if err != nil {
		return errors.NewInternal(err)
	}

	snap := d.Snapshot
	cmd := exec.Command(exe, "extract-worker",
		"--project", store.Project(),
		"--session", snap.SessionID,
		"--transcript", snap.TranscriptPath,
		"--end-ts", snap.MetaTS,
	)
	cmd.Env = workerEnv(snap.SessionID, store.Project())
	// New session so the worker survives the parent's process group exiting.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return errors.NewInternal(err)
	}
	o.log.Printf(snap.SessionID, store.Project(), "DISPATCHED wpid=%d end_ts=%s", cmd.Process.Pid, snap.MetaTS)
	return cmd.Process.Release()
}

// RunWorker is the extract-worker entry point: the detached half of
// flush_and_extract. It claims the project, flushes, runs every lens worker
// in parallel under the wall-clock budget, and releases the claim. A lens
// worker that succeeds (even with empty output) has covered its window, so
// that lens's cursor advances; a lens that fails keeps its cursor and the
// same window is retried on the next eligible Stop event.
func (o *Orchestrator) RunWorker(ctx context.Context, store *state.Store, sessionID, transcriptPath, endTS string) error {
	if !state.ValidTimestamp(endTS) {
		return errors.NewInvalidRequest("end-ts is not ISO 8601 millisecond format")
	}

	token := state.NewClaimToken(sessionID, transcriptPath)
	if err := store.Claim(token, o.staleAfter()); err != nil {
		return err
	}
	defer func() {
		if err := store.Release(token); err != nil {
			o.log.Printf(sessionID, store.Project(), "WARN release: %v", err)
		}
	}()

	// Flush first to bound inbox growth before new fragments arrive.
	for _, lens := range state.Lenses() {
		if _, err := store.Flush(lens); err != nil {
			o.log.Printf(sessionID, store.Project(), "ERROR flush lens=%s: %v", lens.Name, err)
		}
		sweepStderrArtifacts(store, lens)
	}

	if _, err := os.Stat(transcriptPath); err != nil {
		o.log.Printf(sessionID, store.Project(), "WORKER skip_extraction transcript_missing=%s", transcriptPath)
		return nil
	}

	snap := o.workerSnapshot(store, sessionID, transcriptPath)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		lensErr []error
	)
	for _, lens := range state.Lenses() {
		wg.Add(1)
		go func(lens state.Lens) {
			defer wg.Done()
			if err := o.runLens(ctx, store, lens, snap, endTS); err != nil {
				o.log.Printf(sessionID, store.Project(), "ERROR lens=%s: %v", lens.Name, err)
				mu.Lock()
				lensErr = append(lensErr, err)
				mu.Unlock()
			}
		}(lens)
	}
	wg.Wait()

	return stderrors.Join(lensErr...)
}

// runLens performs one lens extraction: build the windowed prompt, drive the
// host model, persist the output, bookmark the window.
func (o *Orchestrator) runLens(ctx context.Context, store *state.Store, lens state.Lens, snap *hook.Snapshot, endTS string) error {
	startTS, ok, err := store.ReadCursor(lens)
	if err != nil || !ok || !state.ValidTimestamp(startTS) {
		startTS = windowStart
	}

	existing, err := store.ReadRecent(lens, o.cfg.ExistingEntryContext)
	if err != nil {
		o.log.Printf(snap.SessionID, store.Project(), "WARN lens=%s existing entries unreadable: %v", lens.Name, err)
	}

	prompt := BuildPrompt(lens, snap, startTS, endTS, existing)
	o.log.Printf(snap.SessionID, store.Project(), "SPAWN lens=%s prompt_bytes=%d window=%s..%s",
		lens.Name, len(prompt), startTS, endTS)

	lensCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.WorkerTimeoutSeconds)*time.Second)
	defer cancel()

	stdout, stderr, err := o.runner.Run(lensCtx, snap.SessionID, store.Project(), prompt)
	if err != nil {
		if stderrors.Is(lensCtx.Err(), context.DeadlineExceeded) {
			return errors.NewWorkerTimeout(lens.Name, o.cfg.WorkerTimeoutSeconds)
		}
		o.logStderr(snap.SessionID, store.Project(), lens, stderr)
		writeStderrArtifact(store, lens, stderr)
		return errors.NewWorkerFailed(lens.Name, err)
	}

	records := ParseRecords(lens, snap.SessionID, stdout)
	if len(records) == 0 {
		// An empty window is a normal outcome, but stderr chatter alongside
		// it usually means the worker died quietly.
		if len(strings.TrimSpace(string(stdout))) > 0 {
			o.log.Printf(snap.SessionID, store.Project(), "WARN lens=%s dropped unparseable output bytes=%d", lens.Name, len(stdout))
		}
		o.logStderr(snap.SessionID, store.Project(), lens, stderr)
		writeStderrArtifact(store, lens, stderr)
	} else {
		id, err := store.WriteFragment(lens, records)
		if err != nil {
			return err
		}
		o.log.Printf(snap.SessionID, store.Project(), "WORKER lens=%s fragment=%s records=%d", lens.Name, id, len(records))
	}

	// Output is durable (or there was none): the window is covered.
	return store.AdvanceCursor(lens, endTS)
}

// workerSnapshot recovers the activity record the decision was based on; the
// worker runs in a fresh process and only gets identifiers on its command
// line. Falls back to a minimal snapshot when the log has rotated past it.
func (o *Orchestrator) workerSnapshot(store *state.Store, sessionID, transcriptPath string) *hook.Snapshot {
	snap, _, err := activity.LatestForSession(store, sessionID)
	if err == nil && snap != nil {
		return snap
	}
	return &hook.Snapshot{
		SessionID:      sessionID,
		TranscriptPath: transcriptPath,
		CWD:            store.Project(),
	}
}

// logStderr records a one-line preview of worker stderr.
func (o *Orchestrator) logStderr(session, project string, lens state.Lens, stderr []byte) {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return
	}
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > 150 {
		msg = msg[:150]
	}
	o.log.Printf(session, project, "WORKER lens=%s stderr: %s", lens.Name, msg)
}
