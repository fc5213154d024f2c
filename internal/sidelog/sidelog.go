// Package sidelog is the pipeline's side-channel log. Hook entry points sit
// on the host's hot path and must never surface failures to the caller, so
// everything worth knowing goes here instead of stdout/stderr.
package sidelog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// FileName is the log file under the nous base directory.
const FileName = "nous.log"

// Logger appends timestamped lines to the nous log file.
// A nil or failed-open Logger is safe to use; every method is a no-op then.
type Logger struct {
	l *log.Logger
	f *os.File
}

// Open opens (creating if needed) baseDir/nous.log for appending.
// On any failure it returns a usable no-op Logger — logging is best-effort.
func Open(baseDir string) *Logger {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return &Logger{}
	}
	f, err := os.OpenFile(filepath.Join(baseDir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return &Logger{}
	}
	// Timestamps are written by Printf in the nous line format.
	return &Logger{l: log.New(f, "", 0), f: f}
}

// Printf writes one line: "yyMMddHHmmss.mmm session project message".
func (lg *Logger) Printf(session, project, format string, args ...any) {
	if lg == nil || lg.l == nil {
		return
	}
	if session == "" {
		session = "?"
	}
	if project == "" {
		project = "?"
	}
	ts := time.Now().Format("060102150405.000")
	lg.l.Printf("%s %s %s %s", ts, session, project, fmt.Sprintf(format, args...))
}

// Close releases the underlying file.
func (lg *Logger) Close() {
	if lg != nil && lg.f != nil {
		lg.f.Close()
	}
}
