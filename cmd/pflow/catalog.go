package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/spinje/pflow-sub005/capability"
	pflowmcp "github.com/spinje/pflow-sub005/mcp"
)

func runCatalog(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return catalogUsage()
	}
	switch args[0] {
	case "list":
		return runCatalogList(ctx, args[1:])
	case "describe":
		return runCatalogDescribe(ctx, args[1:])
	case "-h", "--help", "help":
		_ = catalogUsage()
		return nil
	default:
		return fmt.Errorf("unknown catalog subcommand %q", args[0])
	}
}

func catalogUsage() error {
	fmt.Fprintf(os.Stderr, `Usage: pflow catalog <subcommand> [options]

Subcommands:
  list           List capabilities, including saved workflows
  describe <id>  Show a capability's inputs, params, and outputs
`)
	return fmt.Errorf("catalog subcommand is required")
}

func runCatalogList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("catalog list", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print descriptors as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	descs, err := a.registry.List(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(descs)
	}
	for _, d := range descs {
		fmt.Fprintf(stdout, "%-24s %-24s %s\n", d.ID, pflowmcp.Title(d.ID), d.Description)
	}
	return nil
}

func runCatalogDescribe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("catalog describe", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("capability id is required")
	}

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.registry.Describe(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s (%s)\n%s\n", pflowmcp.Title(d.ID), d.ID, d.Description)
	if d.Purpose != "" {
		fmt.Fprintf(stdout, "purpose: %s\n", d.Purpose)
	}
	printFields("inputs", d.Inputs)
	printFields("params", d.Params)
	printFields("outputs", d.Outputs)
	return nil
}

func printFields(section string, fields map[string]capability.Field) {
	if len(fields) == 0 {
		return
	}
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintf(stdout, "%s:\n", section)
	for _, n := range names {
		f := fields[n]
		req := ""
		if f.Required {
			req = ", required"
		}
		fmt.Fprintf(stdout, "  %-16s (%s%s) %s\n", n, f.Type, req, f.Description)
	}
}
