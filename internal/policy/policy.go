// Package policy maps a session's context usage to the action the Stop hook
// takes, and gates that action on session ownership and the block-cycle
// guard. The mapping itself is pure; Evaluate layers the stateful checks on
// top.
package policy

import (
	"fmt"

	"github.com/aeo-labs/nous/internal/config"
)

// Action is the decision the Stop hook acts on.
type Action string

const (
	// ActionSkip does nothing: too little new transcript to be worthwhile.
	ActionSkip Action = "skip"

	// ActionFlush consolidates pending inbox fragments but starts no new
	// extraction: the session is near capacity.
	ActionFlush Action = "flush"

	// ActionFlushAndExtract consolidates and fires the extraction workers.
	ActionFlushAndExtract Action = "flush_and_extract"

	// ActionFlushAndBlock consolidates synchronously and instructs the host
	// to prevent normal session termination.
	ActionFlushAndBlock Action = "flush_and_block"
)

// Decide maps a context-usage percentage to an action. Boundary values land
// in the upper bucket: pct == SkipBelowPercent already extracts, pct ==
// BlockPercent already blocks.
func Decide(cfg *config.Config, pct int) Action {
	switch {
	case pct < cfg.SkipBelowPercent:
		return ActionSkip
	case pct < cfg.FlushOnlyPercent:
		return ActionFlushAndExtract
	case pct < cfg.BlockPercent:
		return ActionFlush
	default:
		return ActionFlushAndBlock
	}
}

// BlockReason is the advisory message returned with a flush_and_block
// decision. It is the only user-visible output of the whole pipeline.
func BlockReason(pct int) string {
	return fmt.Sprintf(
		"Context at %d%%. Run /clear (not /compact) to start fresh. "+
			"Learnings have been extracted and will be injected automatically.\n\n"+
			"Optional: Before clearing, ask for a concise continuation prompt "+
			"that captures current task state - copy it, /clear, then paste to resume.",
		pct)
}
