package policy

import (
	"bytes"
	"io"
	"os"
)

// summaryTailBytes bounds how much of the transcript tail is scanned for a
// summary block. Summaries land at the end of the session; scanning the whole
// file would make the Stop hot path proportional to session length.
const summaryTailBytes = 256 * 1024

var (
	summaryOpen  = []byte("<summary>")
	summaryClose = []byte("</summary>")
)

// summaryPresent reports whether the transcript's tail contains a parseable
// summary block: an open tag with a matching close tag after it. The block's
// content is not inspected; a summary that reports failure still counts as
// present.
func summaryPresent(transcriptPath string) bool {
	f, err := os.Open(transcriptPath)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false
	}
	if info.Size() > summaryTailBytes {
		if _, err := f.Seek(-summaryTailBytes, io.SeekEnd); err != nil {
			return false
		}
	}

	tail, err := io.ReadAll(io.LimitReader(f, summaryTailBytes))
	if err != nil {
		return false
	}

	open := bytes.LastIndex(tail, summaryOpen)
	if open < 0 {
		return false
	}
	return bytes.Contains(tail[open:], summaryClose)
}
