package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spinje/pflow-sub005/ir"
)

func runWorkflows(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return workflowsUsage()
	}
	switch args[0] {
	case "list":
		return runWorkflowsList(ctx, args[1:])
	case "show":
		return runWorkflowsShow(ctx, args[1:])
	case "delete":
		return runWorkflowsDelete(ctx, args[1:])
	case "-h", "--help", "help":
		_ = workflowsUsage()
		return nil
	default:
		return fmt.Errorf("unknown workflows subcommand %q", args[0])
	}
}

func workflowsUsage() error {
	fmt.Fprintf(os.Stderr, `Usage: pflow workflows <subcommand> [options]

Subcommands:
  list           List saved workflows
  show <name>    Print a saved workflow's metadata and IR
  delete <name>  Delete a saved workflow
`)
	return fmt.Errorf("workflows subcommand is required")
}

func runWorkflowsList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("workflows list", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print the listing as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.workflows.List(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Fprintln(stdout, "no saved workflows")
		return nil
	}
	for _, s := range list {
		fmt.Fprintf(stdout, "%-32s %s\n", s.Name, s.Description)
		if len(s.Inputs) > 0 {
			fmt.Fprintf(stdout, "%-32s inputs: %s\n", "", strings.Join(s.Inputs, ", "))
		}
	}
	return nil
}

func runWorkflowsShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("workflows show", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("workflow name is required")
	}
	name := fs.Arg(0)

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	md, err := a.workflows.Metadata(ctx, name)
	if err != nil {
		return err
	}
	wf, err := a.workflows.Load(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "name:        %s\n", md.Name)
	fmt.Fprintf(stdout, "description: %s\n", md.Description)
	if len(md.Keywords) > 0 {
		fmt.Fprintf(stdout, "keywords:    %s\n", strings.Join(md.Keywords, ", "))
	}
	if len(md.Capabilities) > 0 {
		fmt.Fprintf(stdout, "uses:        %s\n", strings.Join(md.Capabilities, ", "))
	}
	fmt.Fprintf(stdout, "updated:     %s\n", md.UpdatedAt.Format("2006-01-02 15:04:05"))
	data, err := ir.Marshal(wf)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}

func runWorkflowsDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("workflows delete", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("workflow name is required")
	}
	name := fs.Arg(0)

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.workflows.Delete(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "deleted workflow %s\n", name)
	return nil
}
