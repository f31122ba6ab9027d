package main

import (
	"encoding/json"
	"fmt"

	"github.com/spinje/pflow-sub005/executor"
	"github.com/spinje/pflow-sub005/schema"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

func printViolations(errs schema.ValidationErrors) {
	for i, e := range errs {
		fmt.Fprintf(stdout, "%d. [%s] %s", i+1, e.Code, e.Message)
		if e.Path != "" {
			fmt.Fprintf(stdout, " (at %s)", e.Path)
		}
		fmt.Fprintln(stdout)
		if e.Suggestion != "" {
			fmt.Fprintf(stdout, "   %s\n", e.Suggestion)
		}
	}
}

func printTrace(res *executor.Result) {
	for _, t := range res.Trace {
		line := fmt.Sprintf("  %-12s %-16s %-9s %s", t.NodeID, t.Capability, t.Status, t.Duration)
		if t.Error != "" {
			line += "  " + t.Error
		}
		fmt.Fprintln(stdout, line)
	}
}
