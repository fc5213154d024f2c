// Package inject composes the context payload returned to the host at
// session start: the most recent consolidated entries per lens plus any
// project instruction documents, bounded in total size. Everything here is
// read-only against the stores.
package inject

import (
	"fmt"
	"strings"

	"github.com/aeo-labs/nous/internal/config"
	"github.com/aeo-labs/nous/internal/hook"
	"github.com/aeo-labs/nous/internal/sidelog"
	"github.com/aeo-labs/nous/internal/state"
)

// notice asks the assistant to surface what it received, so injection is
// visible to the user instead of silent.
const notice = "<nous_notice>Share a brief summary of the learnings and knowledge injected above so the user understands what context you received.</nous_notice>"

// Injector builds session-start payloads.
type Injector struct {
	cfg *config.Config
	log *sidelog.Logger
}

// NewInjector creates an injector.
func NewInjector(cfg *config.Config, log *sidelog.Logger) *Injector {
	return &Injector{cfg: cfg, log: log}
}

// Compose returns the payload to inject into a new session, or "" when there
// is nothing to say. A missing canonical store contributes nothing; no error
// reaches the caller for per-source read failures, because SessionStart must
// not fail the host.
func (i *Injector) Compose(store *state.Store, in *hook.SessionStartInput) string {
	var parts []string
	injected := 0

	for _, lens := range state.Lenses() {
		entries, err := store.ReadRecent(lens, i.cfg.InjectRecentCount)
		if err != nil {
			i.log.Printf(in.SessionID, store.Project(), "WARN inject lens=%s: %v", lens.Name, err)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		var lines []string
		for _, e := range entries {
			lines = append(lines, string(e))
		}
		parts = append(parts, fmt.Sprintf("<recent_%s>\n%s\n</recent_%s>",
			lens.Name, strings.Join(lines, "\n"), lens.Name))
		injected += len(entries)
	}

	if injected > 0 {
		parts = append(parts, notice)
	}

	payload := strings.Join(parts, "\n\n")

	// Instruction documents fill whatever budget the entries left.
	if remaining := i.cfg.InjectMaxChars - len(payload); remaining > 0 {
		if docs := i.instructionDocs(store, in.SessionID, remaining); docs != "" {
			if payload != "" {
				payload += "\n\n"
			}
			payload += docs
		}
	}

	if len(payload) > i.cfg.InjectMaxChars {
		payload = payload[:i.cfg.InjectMaxChars]
	}

	i.log.Printf(in.SessionID, store.Project(), "INJECTED entries=%d bytes=%d", injected, len(payload))
	return payload
}
