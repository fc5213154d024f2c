package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/aeo-labs/nous/internal/activity"
	"github.com/aeo-labs/nous/internal/config"
	"github.com/aeo-labs/nous/internal/errors"
	"github.com/aeo-labs/nous/internal/extract"
	"github.com/aeo-labs/nous/internal/hook"
	"github.com/aeo-labs/nous/internal/index"
	"github.com/aeo-labs/nous/internal/inject"
	"github.com/aeo-labs/nous/internal/policy"
	"github.com/aeo-labs/nous/internal/sidelog"
	"github.com/aeo-labs/nous/internal/state"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, baseDir string, log *sidelog.Logger) *cli.App {
	app := &cli.App{
		Name:    "nous",
		Usage:   "Session telemetry and knowledge extraction for the host coding assistant",
		Version: Version,
		Commands: []*cli.Command{
			sessionStartCmd(baseDir, log),
			recordCmd(baseDir, log),
			stopCmd(baseDir, log),
			extractWorkerCmd(baseDir, log),
			recallCmd(db, log),
			searchCmd(db, log),
			inventoryCmd(db),
			syncCmd(db, log),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// projectConfig loads global plus project-overlay config. Hook paths fall
// back to defaults on any load error: a broken config file must not fail the
// host session manager.
func projectConfig(baseDir, projectDir string) *config.Config {
	cfg, err := config.LoadWithProject(baseDir, projectDir)
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

// sessionStartCmd creates the session-start hook command. It composes the
// injection payload from the project's consolidated stores and prints it to
// stdout. Read-only, and always exits 0: a broken store means no injection,
// not a failed session start.
func sessionStartCmd(baseDir string, log *sidelog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "session-start",
		Usage: "SessionStart hook: print recent learnings and instruction docs (reads payload from stdin)",
		Action: func(_ *cli.Context) error {
			_, raw, err := hook.ReadEnvelope(os.Stdin)
			if err != nil {
				log.Printf("?", "?", "ERROR session-start: %v", err)
				return nil
			}
			in, err := hook.DecodeSessionStart(raw)
			if err != nil {
				log.Printf("?", "?", "ERROR session-start: %v", err)
				return nil
			}

			cfg := projectConfig(baseDir, in.CWD)
			store := state.Open(in.CWD, log)

			if out := inject.NewInjector(cfg, log).Compose(store, in); out != "" {
				fmt.Println(out)
			}
			return nil
		},
	}
}

// recordCmd creates the record hook command. It appends one status snapshot
// to the project activity log. Never fails and never writes to stdout.
func recordCmd(baseDir string, log *sidelog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Status hook: append a session snapshot to the activity log (reads payload from stdin)",
		Action: func(_ *cli.Context) error {
			env, raw, err := hook.ReadEnvelope(os.Stdin)
			if err != nil {
				log.Printf("?", "?", "ERROR record: %v", err)
				return nil
			}

			activity.NewRecorder(projectConfig(baseDir, env.CWD), log).Record(raw)
			return nil
		},
	}
}

// stopCmd creates the stop hook command: evaluate the threshold policy
// against the latest activity record and carry out the resulting action.
// Exits 0 on every path; the only stdout output is the block decision.
func stopCmd(baseDir string, log *sidelog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "Stop hook: flush, launch extraction, or block per context usage (reads payload from stdin)",
		Action: func(_ *cli.Context) error {
			_, raw, err := hook.ReadEnvelope(os.Stdin)
			if err != nil {
				log.Printf("?", "?", "ERROR stop: %v", err)
				return nil
			}
			in, err := hook.DecodeStop(raw)
			if err != nil {
				log.Printf("?", "?", "ERROR stop: %v", err)
				return nil
			}

			cfg := projectConfig(baseDir, in.CWD)
			store := state.Open(in.CWD, log)

			d := policy.NewEngine(cfg, log).Evaluate(store, in)

			runner := &extract.CLIRunner{Binary: cfg.WorkerBinary, Model: cfg.WorkerModel}
			if err := extract.NewOrchestrator(cfg, log, runner).Execute(store, d); err != nil {
				log.Printf(in.SessionID, in.CWD, "ERROR stop execute: %v", err)
			}

			if d.Action == policy.ActionFlushAndBlock {
				return outputJSON(hook.StopDecision{Decision: "block", Reason: d.Reason})
			}
			return nil
		},
	}
}

// extractWorkerCmd creates the detached worker entry point. Spawned by the
// stop hook, never invoked by users directly.
func extractWorkerCmd(baseDir string, log *sidelog.Logger) *cli.Command {
	return &cli.Command{
		Name:   "extract-worker",
		Usage:  "Run the detached extraction worker (internal)",
		Hidden: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Required: true, Usage: "Project directory"},
			&cli.StringFlag{Name: "session", Required: true, Usage: "Session ID"},
			&cli.StringFlag{Name: "transcript", Required: true, Usage: "Transcript path"},
			&cli.StringFlag{Name: "end-ts", Required: true, Usage: "Extraction window end (ISO 8601 ms)"},
		},
		Action: func(c *cli.Context) error {
			project := c.String("project")
			cfg := projectConfig(baseDir, project)
			store := state.Open(project, log)

			runner := &extract.CLIRunner{Binary: cfg.WorkerBinary, Model: cfg.WorkerModel}
			o := extract.NewOrchestrator(cfg, log, runner)

			err := o.RunWorker(context.Background(), store,
				c.String("session"), c.String("transcript"), c.String("end-ts"))
			if err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// recallCmd creates the recall command.
func recallCmd(db *sql.DB, log *sidelog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "recall",
		Usage: "List the most recent consolidated entries, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "lens", Usage: "Filter by lens: learnings|knowledge"},
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Filter by project directory (refreshes the index from it)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum entries to return"},
		},
		Action: func(c *cli.Context) error {
			syncProject(db, log, c.String("project"))

			output, err := index.Recall(db, index.RecallInput{
				Lens:    c.String("lens"),
				Project: c.String("project"),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(db *sql.DB, log *sidelog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search consolidated entries by substring",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "lens", Usage: "Filter by lens: learnings|knowledge"},
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Filter by project directory (refreshes the index from it)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum entries to return"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("query argument is required"))
			}

			syncProject(db, log, c.String("project"))

			output, err := index.Search(db, index.SearchInput{
				Query:   c.Args().First(),
				Lens:    c.String("lens"),
				Project: c.String("project"),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// inventoryCmd creates the inventory command.
func inventoryCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "inventory",
		Usage: "Summarize indexed entries per project and lens",
		Action: func(_ *cli.Context) error {
			output, err := index.Inventory(db)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// syncCmd creates the sync command.
func syncCmd(db *sql.DB, log *sidelog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Mirror a project's consolidated stores into the index",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project directory (default: current directory)"},
		},
		Action: func(c *cli.Context) error {
			project := c.String("project")
			if project == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				project = cwd
			}

			output, err := index.Sync(db, state.Open(project, log))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

// syncProject refreshes the index from a project's stores before a query.
// Best-effort, mirroring the MCP handlers.
func syncProject(db *sql.DB, log *sidelog.Logger, project string) {
	if project == "" {
		return
	}
	_, _ = index.Sync(db, state.Open(project, log))
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if nousErr, ok := err.(*errors.NousError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", nousErr.Code, nousErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
