package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/spinje/pflow-sub005/executor"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/planner"
)

func runPlan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	save := fs.Bool("save", false, "Save the generated workflow")
	name := fs.String("name", "", "Name to save the workflow under (default: synthesized)")
	execute := fs.Bool("run", false, "Run the workflow once every required input is known")
	params := paramFlag{}
	fs.Var(params, "param", "Input value as key=value (repeatable)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pflow plan [options] \"<request>\"\n\nCompile a natural-language request into a validated workflow.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	request := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if request == "" {
		fs.Usage()
		return fmt.Errorf("request is required")
	}

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.planner()
	if err != nil {
		return err
	}
	res, err := p.Plan(ctx, planner.PlanRequest{
		Request:  request,
		Provided: params.Map(),
		Save:     *save,
		Name:     *name,
	})
	var missing *planner.MissingInputsError
	if err != nil && !errors.As(err, &missing) {
		var exhausted *planner.RetryExhaustedError
		if errors.As(err, &exhausted) && len(exhausted.Last) > 0 {
			fmt.Fprintf(stdout, "last draft still had %d problem(s):\n", len(exhausted.Last))
			printViolations(exhausted.Last)
		}
		return err
	}

	data, err := ir.Marshal(res.Workflow)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(data))
	switch {
	case res.Reused:
		fmt.Fprintf(stdout, "reused saved workflow %s\n", res.Name)
	case res.Saved:
		fmt.Fprintf(stdout, "saved workflow %s\n", res.Name)
	}

	if missing != nil {
		fmt.Fprintf(stdout, "missing required inputs: %s\n", strings.Join(missing.Missing, ", "))
		fmt.Fprintf(stdout, "provide them with -param name=value\n")
		return missing
	}
	if !*execute {
		return nil
	}

	run, err := executor.Run(ctx, res.Workflow, a.registry, res.Inputs, a.execOptions()...)
	if run != nil {
		printTrace(run)
	}
	if err != nil {
		return err
	}
	return printJSON(run.Outputs)
}
