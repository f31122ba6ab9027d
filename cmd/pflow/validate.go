package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spinje/pflow-sub005/schema"
)

func runValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	structural := fs.Bool("structural", false, "Check structure and references only, without the capability catalog")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pflow validate [options] <workflow.json|workflow.yaml>\n\nValidate a workflow IR file.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("workflow file path is required")
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read workflow: %w", err)
	}

	var opts []schema.ValidationOption
	if *structural {
		opts = append(opts, schema.WithoutCapabilityCheck())
	} else {
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		descs, err := a.registry.List(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, schema.WithCatalog(descs))
	}

	wf, errs := schema.ValidateDocument(data, opts...)
	if len(errs) > 0 {
		printViolations(errs)
		return fmt.Errorf("validation failed: %d problem(s)", len(errs))
	}
	fmt.Fprintf(stdout, "workflow %s is valid (%d nodes, %d inputs, %d outputs)\n",
		path, len(wf.Nodes), len(wf.Inputs), len(wf.Outputs))
	return nil
}
