package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/schema"
)

// repair applies mechanical fixes for the findings in errs to a copy of wf.
// The copy is kept only when revalidation reports no more findings than
// before and no finding code that was not already present.
func repair(wf *ir.Workflow, errs schema.ValidationErrors, catalog []capability.Descriptor, validate func(*ir.Workflow) schema.ValidationErrors) (*ir.Workflow, schema.ValidationErrors, []string, bool) {
	fixed := wf.Clone()
	if fixed.Inputs == nil {
		fixed.Inputs = make(map[string]ir.InputSpec)
	}
	var notes []string
	var referenced map[string]bool

	if errs.Has(schema.CodeUnresolvedTemplate) {
		var n []string
		n, referenced = repairTemplates(fixed)
		notes = append(notes, n...)
	}
	if errs.Has(schema.CodeUnusedInput) {
		notes = append(notes, dropUnusedInputs(fixed, errs.ByCode(schema.CodeUnusedInput), referenced)...)
	}
	if errs.Has(schema.CodeUnresolvedOutput) {
		notes = append(notes, rewireOutputs(fixed, descriptorIndex(catalog))...)
	}
	if len(notes) == 0 {
		return nil, nil, nil, false
	}

	after := validate(fixed)
	if len(after) > len(errs) || introducesCodes(errs, after) {
		return nil, nil, nil, false
	}
	return fixed, after, notes, true
}

func introducesCodes(before, after schema.ValidationErrors) bool {
	for _, code := range after.Codes() {
		if !before.Has(code) {
			return true
		}
	}
	return false
}

// repairTemplates fixes bare references that name neither an input nor a
// node: a close spelling of a declared input is rewritten to that input,
// anything else is declared as a required string input. It returns the
// notes and the input names that are referenced after the fix.
func repairTemplates(wf *ir.Workflow) ([]string, map[string]bool) {
	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeIDs[n.ID] = true
	}
	declared := wf.InputNames()

	rewrites := make(map[string]string)
	var added []string
	for _, n := range wf.Nodes {
		found, _ := ir.Extract("", n.Params)
		for _, loc := range found {
			root := loc.Ref.Root
			if !loc.Ref.IsInput() || nodeIDs[root] {
				continue
			}
			if _, ok := wf.Inputs[root]; ok {
				continue
			}
			if _, done := rewrites[root]; done {
				continue
			}
			if match, ok := schema.ClosestMatch(root, declared); ok {
				rewrites[root] = match
				continue
			}
			wf.Inputs[root] = ir.InputSpec{Type: capability.TypeString, Required: true}
			added = append(added, root)
		}
	}

	var notes []string
	if len(rewrites) > 0 {
		for i := range wf.Nodes {
			wf.Nodes[i].Params = rewriteRefs(wf.Nodes[i].Params, rewrites).(map[string]any)
		}
		from := make([]string, 0, len(rewrites))
		for k := range rewrites {
			from = append(from, k)
		}
		sort.Strings(from)
		for _, k := range from {
			notes = append(notes, fmt.Sprintf("rewrote ${%s} to ${%s}", k, rewrites[k]))
		}
	}
	for _, name := range added {
		notes = append(notes, fmt.Sprintf("declared required input %q", name))
	}

	referenced := make(map[string]bool)
	for _, n := range wf.Nodes {
		found, _ := ir.Extract("", n.Params)
		for _, loc := range found {
			referenced[loc.Ref.Root] = true
		}
	}
	return notes, referenced
}

// rewriteRefs renames bare input references for every pair in rewrites,
// walking nested maps and slices.
func rewriteRefs(v any, rewrites map[string]string) any {
	switch val := v.(type) {
	case string:
		return ir.RewriteString(val, func(ref ir.Reference) string {
			if to, ok := rewrites[ref.Root]; ok && ref.IsInput() {
				return to
			}
			return ref.Raw
		})
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = rewriteRefs(item, rewrites)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = rewriteRefs(item, rewrites)
		}
		return out
	default:
		return v
	}
}

// dropUnusedInputs removes inputs reported as unused, keeping any that a
// template repair has just started referencing.
func dropUnusedInputs(wf *ir.Workflow, findings schema.ValidationErrors, referenced map[string]bool) []string {
	var notes []string
	for _, f := range findings {
		name := strings.TrimPrefix(f.Path, "inputs.")
		if _, ok := wf.Inputs[name]; !ok || referenced[name] {
			continue
		}
		delete(wf.Inputs, name)
		notes = append(notes, fmt.Sprintf("removed unused input %q", name))
	}
	return notes
}

// rewireOutputs points output sources that do not resolve at the only node
// declaring an output of the wanted name.
func rewireOutputs(wf *ir.Workflow, catalog map[string]capability.Descriptor) []string {
	var notes []string
	for _, name := range wf.OutputNames() {
		out := wf.Outputs[name]
		ref, err := schema.SourceReference(out.Source)
		want := ref.Output()
		if err != nil && ref.Root != "" && ref.IsInput() {
			want = ref.Root
		}
		if want == "" || resolves(wf, catalog, ref, err) {
			continue
		}
		var candidates []string
		for _, n := range wf.Nodes {
			if d, ok := catalog[n.Type]; ok && d.HasOutput(want) {
				candidates = append(candidates, n.ID)
			}
		}
		if len(candidates) != 1 {
			continue
		}
		src := "${" + candidates[0] + "." + want + "}"
		if src == out.Source {
			continue
		}
		out.Source = src
		wf.Outputs[name] = out
		notes = append(notes, fmt.Sprintf("rewired output %q to %s", name, src))
	}
	return notes
}

func resolves(wf *ir.Workflow, catalog map[string]capability.Descriptor, ref ir.Reference, err error) bool {
	if err != nil {
		return false
	}
	n, ok := wf.Node(ref.Root)
	if !ok {
		return false
	}
	d, ok := catalog[n.Type]
	return !ok || !d.ChecksOutputs() || d.HasOutput(ref.Output())
}
