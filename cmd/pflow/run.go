package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spinje/pflow-sub005/executor"
	"github.com/spinje/pflow-sub005/ir"
)

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print the full execution result as JSON")
	params := paramFlag{}
	fs.Var(params, "param", "Input value as key=value (repeatable)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pflow run [options] <name|file>\n\nRun a saved workflow by name, or a workflow IR file.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("exactly one workflow name or file is required")
	}
	target := fs.Arg(0)

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	wf, err := resolveWorkflow(ctx, a, target)
	if err != nil {
		return err
	}
	res, err := executor.Run(ctx, wf, a.registry, params.Map(), a.execOptions()...)
	if res == nil {
		return err
	}
	if *asJSON {
		if perr := printJSON(res); perr != nil {
			return perr
		}
		return err
	}
	fmt.Fprintf(stdout, "execution %s %s in %s\n", res.ExecutionID, res.Status, res.Duration)
	printTrace(res)
	if err != nil {
		return err
	}
	return printJSON(res.Outputs)
}

// resolveWorkflow treats target as a file when it exists on disk or carries
// an IR file extension, and as a saved workflow name otherwise.
func resolveWorkflow(ctx context.Context, a *app, target string) (*ir.Workflow, error) {
	if isWorkflowFile(target) {
		return ir.LoadFile(target)
	}
	wf, err := a.workflows.Load(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	return wf, nil
}

func isWorkflowFile(target string) bool {
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		return true
	}
	switch strings.ToLower(filepath.Ext(target)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
