package policy

import (
	"time"

	"github.com/aeo-labs/nous/internal/activity"
	"github.com/aeo-labs/nous/internal/config"
	"github.com/aeo-labs/nous/internal/hook"
	"github.com/aeo-labs/nous/internal/sidelog"
	"github.com/aeo-labs/nous/internal/state"
)

// Decision is the gated outcome of one Stop evaluation. Token identifies the
// invoking session for the downstream flush/extract path; Snapshot is the
// activity record the decision was based on (nil when Action is skip because
// no record existed).
type Decision struct {
	Action   Action
	Reason   string
	Snapshot *hook.Snapshot
	Token    state.ClaimToken
}

// Engine evaluates Stop events against the project's state.
type Engine struct {
	cfg *config.Config
	log *sidelog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg *config.Config, log *sidelog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// ClaimStaleAfter is how old a claim must be before another session may take
// it over: twice the worker budget, so a claim is never stolen from a worker
// that is merely slow.
func (e *Engine) ClaimStaleAfter() time.Duration {
	return 2 * time.Duration(e.cfg.WorkerTimeoutSeconds) * time.Second
}

// Evaluate runs the threshold mapping for one Stop event and applies the
// gates: host re-entry, missing activity record, foreign live claim, and the
// block-cycle guard. It never returns an error; anything that prevents a
// confident decision degrades to skip, because the Stop hot path must not
// fail the host.
func (e *Engine) Evaluate(store *state.Store, in *hook.StopInput) Decision {
	skip := Decision{Action: ActionSkip}

	// The host sets stop_hook_active when re-invoking Stop after our own
	// block decision; evaluating again would loop.
	if in.StopHookActive {
		e.logf(store, in.SessionID, "SKIP stop_hook_active")
		return skip
	}

	current, _, err := activity.LatestForSession(store, in.SessionID)
	if err != nil {
		e.logf(store, in.SessionID, "WARN evaluate: activity log unreadable: %v", err)
		return skip
	}
	if current == nil {
		e.logf(store, in.SessionID, "WARN evaluate: no activity record for session")
		return skip
	}
	if err := current.Validate(); err != nil {
		e.logf(store, in.SessionID, "WARN evaluate: %v", err)
		return skip
	}

	token := state.NewClaimToken(in.SessionID, in.TranscriptPath)
	if store.ClaimedByOther(token, e.ClaimStaleAfter()) {
		holder, _ := store.ClaimHolder()
		e.logf(store, in.SessionID, "SKIP claimed_by=%s", holder.SessionID)
		return skip
	}

	pct := current.ContextWindow.UsedPercentage
	action := Decide(e.cfg, pct)
	e.logf(store, in.SessionID, "STOP ctx=%d%% action=%s", pct, action)

	if action == ActionFlushAndBlock {
		action = e.gateBlock(store, in, token, current)
	}

	d := Decision{Action: action, Snapshot: current, Token: token}
	if action == ActionFlushAndBlock {
		d.Reason = BlockReason(pct)
	}
	return d
}

// gateBlock applies the block-cycle guard: a flush_and_block fires at most
// once per (session, token) pair unless the session has since produced a
// summary block. Without the guard a session whose model declines to
// summarize would be blocked from terminating forever.
func (e *Engine) gateBlock(store *state.Store, in *hook.StopInput, token state.ClaimToken, snap *hook.Snapshot) Action {
	if summaryPresent(in.TranscriptPath) {
		// A new summary re-arms the guard, even if its content reports
		// failure; only total absence gates.
		if err := store.ClearBlock(); err != nil {
			e.logf(store, in.SessionID, "WARN clear_block: %v", err)
		}
	} else if store.BlockedBefore(in.SessionID, token.Token) {
		e.logf(store, in.SessionID, "BLOCK_DOWNGRADE no_summary repeat")
		return ActionFlush
	}

	if err := store.RecordBlock(in.SessionID, token.Token, snap.MetaTS); err != nil {
		e.logf(store, in.SessionID, "WARN record_block: %v", err)
	}
	return ActionFlushAndBlock
}

func (e *Engine) logf(store *state.Store, session, format string, args ...any) {
	e.log.Printf(session, store.Project(), format, args...)
}
