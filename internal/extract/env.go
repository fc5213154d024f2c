package extract

import (
	"os"
)

// Environment markers set on every process this package spawns. Hook entry
// points check SubprocessEnv fatally: a worker that somehow triggers a
// lifecycle hook must not start another worker.
const (
	SubprocessEnv = "NOUS_SUBPROCESS"
	SessionEnv    = "NOUS_SESSION"
	ProjectEnv    = "NOUS_PROJECT"
)

// InSubprocess reports whether this process was spawned by the pipeline.
func InSubprocess() bool {
	return os.Getenv(SubprocessEnv) != ""
}

// envAllowlist is the only parent environment carried into spawned workers.
// Everything else - hook configuration in particular - is dropped, so a
// worker's host-model invocation cannot inherit the very hooks that spawned
// it.
var envAllowlist = []string{
	"PATH",
	"HOME",
	"USER",
	"SHELL",
	"TERM",
	"LANG",
	"LC_ALL",
	"TMPDIR",
}

// workerEnv constructs the allow-listed environment for a spawned process,
// tagged with the recursion marker and the session/project it works for.
func workerEnv(session, project string) []string {
	env := make([]string, 0, len(envAllowlist)+3)
	for _, key := range envAllowlist {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	env = append(env,
		SubprocessEnv+"=1",
		SessionEnv+"="+session,
		ProjectEnv+"="+project,
	)
	return env
}
