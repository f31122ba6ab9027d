// Command pflow compiles natural-language requests into linear workflows of
// capabilities and runs them.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

// stdout receives command output. Tests replace it.
var stdout io.Writer = os.Stdout

// configPath is the -config value given before the command name.
var configPath string

var commands = map[string]func(context.Context, []string) error{
	"plan":      runPlan,
	"run":       runRun,
	"validate":  runValidate,
	"workflows": runWorkflows,
	"catalog":   runCatalog,
	"mcp":       runMCP,
}

func usage() {
	fmt.Fprintf(os.Stderr, `pflow - workflow planner and runner (version %s)

Usage:
  pflow [-config file] <command> [options]

Commands:
  plan       Compile a natural-language request into a workflow
  run        Run a saved workflow by name or a workflow file
  validate   Validate a workflow IR file against the schema and catalog
  workflows  Saved workflow management (list, show, delete)
  catalog    Capability catalog (list, describe)
  mcp        Start the MCP server over stdio for AI assistant integration
  version    Print the version

The configuration file defaults to $PFLOW_CONFIG, then ./pflow.yaml.

Run 'pflow <command> -h' for command-specific help.
`, version)
}

func main() {
	global := flag.NewFlagSet("pflow", flag.ContinueOnError)
	global.StringVar(&configPath, "config", "", "Configuration file")
	global.Usage = usage
	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	args := global.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cmd := args[0]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd) //nolint:gosec // G705: CLI error output
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := fn(ctx, args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err) //nolint:gosec // G705: CLI error output
		os.Exit(1)
	}
}
