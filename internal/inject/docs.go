package inject

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/aeo-labs/nous/internal/state"
)

// instructionDocs reads the project's instruction documents
// (.claude/nous/*.md) and returns them wrapped for injection, trimmed to
// budget at markdown section boundaries so a truncated document still reads
// as complete sections rather than a cut-off sentence.
func (i *Injector) instructionDocs(store *state.Store, session string, budget int) string {
	paths, err := filepath.Glob(filepath.Join(store.Dir(), "*.md"))
	if err != nil || len(paths) == 0 {
		return ""
	}
	sort.Strings(paths)

	var parts []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			i.log.Printf(session, store.Project(), "WARN inject doc %s: %v", filepath.Base(path), err)
			continue
		}

		name := filepath.Base(path)
		// Wrapper overhead counts against the budget too.
		overhead := len(name) + len("<nous_instructions source=\"\">\n\n</nous_instructions>")
		body := fitSections(data, budget-overhead)
		if body == "" {
			continue
		}

		block := fmt.Sprintf("<nous_instructions source=%q>\n%s\n</nous_instructions>", name, body)
		parts = append(parts, block)
		budget -= len(block) + 2
		if budget <= 0 {
			break
		}
	}
	return strings.Join(parts, "\n\n")
}

// fitSections returns the longest prefix of the document that fits in budget
// without splitting a top-level section. Documents with no headings are kept
// whole or dropped.
func fitSections(source []byte, budget int) string {
	if budget <= 0 {
		return ""
	}
	if len(source) <= budget {
		return strings.TrimSpace(string(source))
	}

	cuts := sectionOffsets(source)
	if len(cuts) == 0 {
		return ""
	}

	end := 0
	for _, cut := range cuts {
		if cut > budget {
			break
		}
		end = cut
	}
	if end == 0 {
		return ""
	}
	return strings.TrimSpace(string(source[:end]))
}

// sectionOffsets returns the byte offsets where top-level sections end: each
// level-1/2 heading starts a new section, and the document end closes the
// last one.
func sectionOffsets(source []byte) []int {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var offsets []int
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 2 || h.Lines().Len() == 0 {
			continue
		}
		start := h.Lines().At(0).Start
		// Back up over the heading markers to the start of the line.
		for start > 0 && source[start-1] != '\n' {
			start--
		}
		if start > 0 {
			offsets = append(offsets, start)
		}
	}
	offsets = append(offsets, len(source))
	return offsets
}
