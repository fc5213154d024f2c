package extract

import (
	"bytes"
	"context"
	"os/exec"
)

// Runner invokes the host model in print mode with a prompt and returns what
// it wrote. Implementations must respect ctx cancellation. Tests substitute a
// stub; production uses CLIRunner.
type Runner interface {
	Run(ctx context.Context, session, project, prompt string) (stdout, stderr []byte, err error)
}

// CLIRunner runs the host assistant binary non-interactively.
type CLIRunner struct {
	Binary string // e.g. "claude"
	Model  string // e.g. "opus"
}

// Run executes one print-mode invocation. The permission bypass is required
// for the worker's Read tool in non-interactive mode; the constructed
// environment prevents the child from re-triggering lifecycle hooks.
func (r *CLIRunner) Run(ctx context.Context, session, project, prompt string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, r.Binary,
		"--print",
		"--permission-mode", "bypassPermissions",
		"--model", r.Model,
		"-p", prompt,
	)
	cmd.Env = workerEnv(session, project)
	cmd.Dir = project

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
