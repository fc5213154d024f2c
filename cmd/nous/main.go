package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aeo-labs/nous/internal/config"
	"github.com/aeo-labs/nous/internal/db"
	"github.com/aeo-labs/nous/internal/extract"
	"github.com/aeo-labs/nous/internal/mcp"
	"github.com/aeo-labs/nous/internal/sidelog"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"session-start": true, "record": true, "stop": true,
	"extract-worker": true,
	"recall":         true, "search": true, "inventory": true, "sync": true,
	"help": true,
}

// hookCommands are invoked by the host session manager with a JSON payload
// on stdin. They must exit 0 no matter what.
var hookCommands = map[string]bool{
	"session-start": true, "record": true, "stop": true,
}

// indexCommands query the SQLite mirror and need it initialized up front.
var indexCommands = map[string]bool{
	"recall": true, "search": true, "inventory": true, "sync": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _ __   ___  _   _ ___
  | '_ \ / _ \| | | / __|
  | | | | (_) | |_| \__ \
  |_| |_|\___/ \__,_|___/

  Session telemetry and knowledge extraction

  Usage: nous <command> [options]
         nous --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before any setup (nothing else needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, "", nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// A hook invoked from inside an extraction worker must be a silent no-op
	// or the worker's own session activity would recurse into extraction.
	if len(os.Args) >= 2 && hookCommands[os.Args[1]] && extract.InSubprocess() {
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".nous")
	logger := sidelog.Open(baseDir)
	defer logger.Close()

	// CLI mode: known subcommand
	if isCLIMode() {
		var database *sql.DB
		if indexCommands[os.Args[1]] {
			database, err = db.Init(baseDir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
				os.Exit(1)
			}
			defer database.Close()

			cfg, err := config.Load(baseDir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
				os.Exit(1)
			}
			db.ConfigurePool(database, cfg)
		}

		app := newCLIApp(database, baseDir, logger)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'nous --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	db.ConfigurePool(database, cfg)

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "warning: unknown disabled tools: %v\n", unknown)
	}

	if err := mcp.Run(database, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
