// Package extract runs the asynchronous knowledge-extraction side of the
// pipeline: it executes the policy decision, drives the host model in print
// mode through per-lens workers, and lands their output as inbox fragments.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aeo-labs/nous/internal/hook"
	"github.com/aeo-labs/nous/internal/state"
)

// windowStart is the extraction window start used when a lens has no cursor
// yet: the whole transcript is unextracted.
const windowStart = "1970-01-01T00:00:00.000Z"

// learningsPrompt asks for behavioral deltas: not facts about the project,
// but changes in how future sessions should approach work.
const learningsPrompt = `Analyze the transcript content from session_context.start_ts through session_context.end_ts.

The transcript is not embedded here - you must extract it from the session file.
See <transcript_instructions> below for the file path and how to extract only the relevant window.

What should future sessions do differently because of what happened in this window?

Look for:
- Errors and workarounds: Tool failures that led to successful alternatives
- Missing guidance: Issues caused by incomplete instructions
- New patterns: Techniques that worked well
- Edge cases: Unexpected behaviors worth documenting
- Corrections: User redirected the assistant's approach
- Rules: User stated a principle beyond this task

Use your judgment. An emphatic correction is worth capturing. Repeated subtle preferences definitely are. If something represents a genuine learning, capture it.

If the session completed smoothly with no errors, workarounds, or corrections - return nothing. Don't force learnings where none exist.

Skip duplicates of existing_entries.

For suggested_target, prefer specific locations over CLAUDE.md:
- commands/*.md for workflow gaps
- skills/**/*.md for domain knowledge
- kb/*.md for project facts
- CLAUDE.md only if it doesn't fit elsewhere (fallback)

OUTPUT FORMAT (STRICT - NO EXCEPTIONS):
- Found learnings? -> Output JSONL lines, one per entry
- Found nothing? -> Output NOTHING (literally zero characters, empty response)
- NEVER output prose, explanations, summaries, or markdown
- NEVER explain why you output nothing - just output nothing
- NEVER output "No learnings found" or similar messages

If you output anything other than valid JSONL or empty, you have failed the task.

Use session_context values for session and ts fields.

{"ts": "end_ts", "project": "/full/path/from/cwd", "session": "session_id", "content": "actionable guidance", "context": "why", "suggested_target": "/full/path/file.md"}`

// knowledgePrompt asks for durable project facts: what exists and how it
// works, as opposed to how to work.
const knowledgePrompt = `Analyze the transcript content from session_context.start_ts through session_context.end_ts.

The transcript is not embedded here - you must extract it from the session file.
See <transcript_instructions> below for the file path and how to extract only the relevant window.

What facts about this project should future sessions know?

Knowledge = what exists (architecture, patterns, domain concepts, dependencies, gotchas).
Learnings = how to work (captured by the other lens).

Use your judgment. Non-obvious discoveries save future investigation time.

If nothing interesting was discovered about the project, output nothing (empty response).

Skip duplicates of existing_entries.

OUTPUT FORMAT (STRICT - NO EXCEPTIONS):
- Found knowledge? -> Output JSONL lines, one per entry
- Found nothing? -> Output NOTHING (literally zero characters, empty response)
- NEVER output prose, explanations, summaries, or markdown
- NEVER explain why you output nothing - just output nothing
- NEVER output "No knowledge found" or similar messages

If you output anything other than valid JSONL or empty, you have failed the task.

Use session_context values for session and ts fields.

{"ts": "end_ts", "project": "/full/path/from/cwd", "session": "session_id", "category": "1-2 words", "content": "freeform prose", "context": "why it matters", "suggested_target": "/full/path/file.md"}`

// lensPrompt returns the extraction instructions for a lens.
func lensPrompt(lens state.Lens) string {
	if lens.Name == state.LensKnowledge.Name {
		return knowledgePrompt
	}
	return learningsPrompt
}

// BuildPrompt assembles the full print-mode prompt for one lens run: the lens
// instructions plus the session context, the transcript window (the worker
// extracts it itself with jq, the transcript is never embedded), and the
// recent canonical entries for source-side deduplication.
func BuildPrompt(lens state.Lens, snap *hook.Snapshot, startTS, endTS string, existing []json.RawMessage) string {
	var b strings.Builder
	b.WriteString(lensPrompt(lens))

	fmt.Fprintf(&b, `

<session_context>
  <session_id>%s</session_id>
  <project>%s</project>
  <start_ts>%s</start_ts>
  <end_ts>%s</end_ts>
  <model>%s</model>
  <context_used_pct>%d</context_used_pct>
</session_context>

<transcript_instructions>
You're extracting insights from a session transcript. The transcript is the full conversation and can be thousands of lines, so extract only the window you need.

FILE: %s
WINDOW: %s to %s

Extract this window with jq (the file is JSONL with a timestamp field per line):
jq -c 'select(.timestamp >= "%s" and .timestamp <= "%s")' "%s"

Analyze the extracted content for the task above.
</transcript_instructions>

<existing_entries>
`,
		snap.SessionID, snap.CWD, startTS, endTS,
		snap.Model.DisplayName, snap.ContextWindow.UsedPercentage,
		snap.TranscriptPath, startTS, endTS,
		startTS, endTS, snap.TranscriptPath)

	for _, rec := range existing {
		b.Write(rec)
		b.WriteByte('\n')
	}
	b.WriteString("</existing_entries>")
	return b.String()
}
