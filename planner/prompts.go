package planner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/schema"
	"github.com/spinje/pflow-sub005/store"
)

const systemPreamble = `You are the planner of a workflow compiler. Workflows are linear chains of capability invocations that pass data through ${...} template references. Respond with a single JSON object and nothing else.`

// correctiveActions tells the model how to fix each class of finding.
var correctiveActions = map[string]string{
	schema.CodeSchema:             "make the document match the IR schema exactly; do not add fields",
	schema.CodeVersion:            fmt.Sprintf("set ir_version to %q", ir.CurrentVersion),
	schema.CodeDuplicateNode:      "give every node a unique id",
	schema.CodeUnknownCapability:  "use only capability ids from the list above",
	schema.CodeUnknownEdgeNode:    "make every edge connect two existing node ids",
	schema.CodeBranching:          "keep a single chain: each node has at most one successor and one predecessor",
	schema.CodeStartNode:          "connect all nodes into one chain with exactly one first node",
	schema.CodeCycle:              "remove the edge that loops back to an earlier node",
	schema.CodeDisconnected:       "connect the node with an edge or remove it",
	schema.CodeUnresolvedTemplate: "declare the missing input or fix the node id in the reference",
	schema.CodeForwardReference:   "reference only nodes that run earlier in the chain",
	schema.CodeUnknownOutput:      "reference an output the capability actually declares",
	schema.CodeMissingNodeInput:   "set the required param to a literal, ${input}, or ${node.output}",
	schema.CodeUnknownParam:       "remove the param or rename it to one the capability accepts",
	schema.CodeUnusedInput:        "remove that input",
	schema.CodeNameCollision:      "rename the node or the input so they differ",
	schema.CodeUnresolvedOutput:   "set the output source to ${node.output} of a node in the chain",
}

func correctiveAction(code string) string {
	if a, ok := correctiveActions[code]; ok {
		return a
	}
	return "fix the reported problem"
}

func writeSummaries(b *strings.Builder, saved []store.Summary) {
	for _, s := range saved {
		b.WriteString(fmt.Sprintf("- %s: %s\n", s.Name, s.Description))
		if len(s.Keywords) > 0 {
			b.WriteString(fmt.Sprintf("  keywords: %s\n", strings.Join(s.Keywords, ", ")))
		}
		if len(s.Inputs) > 0 {
			b.WriteString(fmt.Sprintf("  inputs: %s\n", strings.Join(s.Inputs, ", ")))
		}
		if len(s.UseCases) > 0 {
			b.WriteString(fmt.Sprintf("  use cases: %s\n", strings.Join(s.UseCases, "; ")))
		}
	}
}

func writeFields(b *strings.Builder, label string, fields map[string]capability.Field) {
	if len(fields) == 0 {
		return
	}
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	b.WriteString(fmt.Sprintf("  %s:\n", label))
	for _, n := range names {
		f := fields[n]
		line := fmt.Sprintf("    - %s (%s", n, orAny(f.Type))
		if f.Required {
			line += ", required"
		}
		if f.Default != nil {
			line += fmt.Sprintf(", default %v", f.Default)
		}
		line += ")"
		if f.Description != "" {
			line += ": " + f.Description
		}
		b.WriteString(line + "\n")
	}
}

func orAny(t string) string {
	if t == "" {
		return "any"
	}
	return t
}

func writeDescriptor(b *strings.Builder, d capability.Descriptor, detailed bool) {
	b.WriteString(fmt.Sprintf("- %s: %s\n", d.ID, d.Description))
	if !detailed {
		return
	}
	writeFields(b, "inputs", d.Inputs)
	writeFields(b, "params", d.Params)
	writeFields(b, "outputs", d.Outputs)
}

func discoveryPrompt(request string, saved []store.Summary) prompt {
	var b strings.Builder
	b.WriteString("Decide whether one saved workflow already does what the user asks.\n\n")
	b.WriteString(fmt.Sprintf("Request: %s\n\n", request))
	b.WriteString("Saved workflows:\n")
	writeSummaries(&b, saved)
	b.WriteString("\nConstraints:\n")
	b.WriteString("- Only report a match when the workflow does the whole task, not part of it\n")
	b.WriteString("- Differences in concrete values (file names, numbers) do not matter; they become inputs\n")
	b.WriteString("- workflow_name must be one of the names listed above\n")
	b.WriteString("\nRespond with a JSON object containing:\n")
	b.WriteString("1. \"found\": true when a saved workflow fits\n")
	b.WriteString("2. \"workflow_name\": the matching name, or an empty string\n")
	b.WriteString("3. \"confidence\": a number between 0 and 1\n")
	b.WriteString("4. \"reasoning\": one or two sentences\n")
	return prompt{system: systemPreamble, user: b.String()}
}

func selectionPrompt(request string, catalog []capability.Descriptor, saved []store.Summary) prompt {
	var b strings.Builder
	b.WriteString("Choose the building blocks needed to implement the request.\n\n")
	b.WriteString(fmt.Sprintf("Request: %s\n\n", request))
	b.WriteString("Available capabilities:\n")
	for _, d := range catalog {
		writeDescriptor(&b, d, false)
	}
	if len(saved) > 0 {
		b.WriteString("\nSaved workflows that can be reused as a single step:\n")
		writeSummaries(&b, saved)
	}
	b.WriteString("\nConstraints:\n")
	b.WriteString("- Select every capability the chain will need, and nothing unrelated\n")
	b.WriteString("- Use only ids and names listed above; never invent one\n")
	b.WriteString("- Return empty lists when nothing available can do the task\n")
	b.WriteString("\nRespond with a JSON object containing:\n")
	b.WriteString("1. \"capability_ids\": the selected capability ids\n")
	b.WriteString("2. \"workflow_names\": the selected saved workflow names\n")
	b.WriteString("3. \"reasoning\": why these were chosen\n")
	return prompt{system: systemPreamble, user: b.String()}
}

func hintsPrompt(request string, sel *Selection, spans []string) prompt {
	var b strings.Builder
	b.WriteString("List the concrete values the request mentions that a workflow would take as inputs.\n\n")
	b.WriteString(fmt.Sprintf("Request: %s\n\n", request))
	if sel != nil && len(sel.CapabilityIDs) > 0 {
		b.WriteString(fmt.Sprintf("Selected capabilities: %s\n\n", strings.Join(sel.CapabilityIDs, ", ")))
	}
	if len(spans) > 0 {
		b.WriteString("Quoted values in the request (prefer these exactly as written):\n")
		for _, s := range spans {
			b.WriteString(fmt.Sprintf("- %q\n", s))
		}
		b.WriteString("\n")
	}
	b.WriteString("Constraints:\n")
	b.WriteString("- Name parameters in snake_case after what they are (file_path, limit, repo_owner)\n")
	b.WriteString("- Values are literals from the request only; never guess\n")
	b.WriteString("- Do not report the task itself (summarize, generate) as a parameter\n")
	b.WriteString("\nRespond with a JSON object containing:\n")
	b.WriteString("1. \"parameters\": an object mapping each name to {\"value\": ..., \"reasoning\": ...}\n")
	b.WriteString("2. \"confidence\": a number between 0 and 1\n")
	return prompt{system: systemPreamble, user: b.String()}
}

func generationPrompt(in GenerationInput) prompt {
	var b strings.Builder
	b.WriteString("Write a workflow IR document that implements the request.\n\n")
	b.WriteString(fmt.Sprintf("Request: %s\n\n", in.Request))
	b.WriteString("Capabilities you may use (and no others):\n")
	for _, d := range in.Descriptors {
		writeDescriptor(&b, d, true)
	}
	if in.Hints != nil && len(in.Hints.Parameters) > 0 {
		b.WriteString("\nValues mentioned in the request:\n")
		for _, name := range in.Hints.Names() {
			b.WriteString(fmt.Sprintf("- %s = %s\n", name, ir.Stringify(in.Hints.Parameters[name].Value)))
		}
	}

	b.WriteString("\nRules:\n")
	b.WriteString(fmt.Sprintf("- Set ir_version to %q\n", ir.CurrentVersion))
	b.WriteString("- Nodes form one strictly linear chain; every edge links a node to the next one\n")
	b.WriteString("- Pass a node's output to the single node that consumes it with ${node_id.output_name}\n")
	b.WriteString("- Declare user-supplied values as workflow inputs and reference them as ${input_name}\n")
	b.WriteString("- Hardcode a literal only when it is unambiguous and never varies between runs\n")
	b.WriteString("- Every declared input must be referenced at least once\n")
	b.WriteString("- Each workflow output source must be exactly one ${node_id.output_name}\n")
	b.WriteString("- Node ids and input names use letters, digits, '_' and '-' and must not collide\n")

	if in.Regenerating() {
		draft, err := json.MarshalIndent(in.PreviousDraft, "", "  ")
		if err == nil {
			b.WriteString("\nYour previous draft:\n```json\n")
			b.Write(draft)
			b.WriteString("\n```\n")
		}
		b.WriteString("\nIt failed validation:\n")
		for i, e := range in.Errors {
			b.WriteString(fmt.Sprintf("%d. [%s] %s", i+1, e.Code, e.Message))
			if e.Path != "" {
				b.WriteString(fmt.Sprintf(" (at %s)", e.Path))
			}
			b.WriteString(fmt.Sprintf("\n   Fix: %s", correctiveAction(e.Code)))
			if e.Suggestion != "" {
				b.WriteString(fmt.Sprintf("; %s", e.Suggestion))
			}
			b.WriteString("\n")
		}
		b.WriteString("\nFix only these problems and keep every other part of the draft unchanged.\n")
	}

	b.WriteString("\nRespond with the workflow IR JSON object only.\n")
	return prompt{system: systemPreamble, user: b.String()}
}

func mappingPrompt(request string, inputs map[string]ir.InputSpec, ask []string) prompt {
	var b strings.Builder
	b.WriteString("Extract values for the workflow inputs below from the request.\n\n")
	b.WriteString(fmt.Sprintf("Request: %s\n\n", request))
	b.WriteString("Inputs:\n")
	for _, name := range ask {
		spec := inputs[name]
		line := fmt.Sprintf("- %s (%s", name, orAny(spec.Type))
		if spec.Required {
			line += ", required"
		}
		line += ")"
		if spec.Description != "" {
			line += ": " + spec.Description
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\nConstraints:\n")
	b.WriteString("- Only extract values the request states explicitly; omit anything you would have to guess\n")
	b.WriteString("- When the request could mean more than one value for an input, list it as ambiguous instead\n")
	b.WriteString("\nRespond with a JSON object containing:\n")
	b.WriteString("1. \"extracted\": an object mapping input names to values\n")
	b.WriteString("2. \"ambiguous\": names of inputs with more than one plausible value\n")
	b.WriteString("3. \"confidence\": a number between 0 and 1\n")
	b.WriteString("4. \"reasoning\": a short explanation\n")
	return prompt{system: systemPreamble, user: b.String()}
}

func metadataPrompt(request string, wf *ir.Workflow) prompt {
	var b strings.Builder
	b.WriteString("Describe this workflow so it can be found and reused later.\n\n")
	b.WriteString(fmt.Sprintf("Original request: %s\n\n", request))
	b.WriteString("Nodes:\n")
	for _, n := range wf.Nodes {
		if n.Purpose != "" {
			b.WriteString(fmt.Sprintf("- %s (%s): %s\n", n.ID, n.Type, n.Purpose))
		} else {
			b.WriteString(fmt.Sprintf("- %s (%s)\n", n.ID, n.Type))
		}
	}
	if names := wf.InputNames(); len(names) > 0 {
		b.WriteString(fmt.Sprintf("Inputs: %s\n", strings.Join(names, ", ")))
	}
	if names := wf.OutputNames(); len(names) > 0 {
		b.WriteString(fmt.Sprintf("Outputs: %s\n", strings.Join(names, ", ")))
	}
	b.WriteString("\nRespond with a JSON object containing:\n")
	b.WriteString("1. \"suggested_name\": a short kebab-case name\n")
	b.WriteString("2. \"description\": one sentence on what the workflow does\n")
	b.WriteString("3. \"keywords\": search keywords\n")
	b.WriteString("4. \"capabilities\": capability ids it uses\n")
	b.WriteString("5. \"use_cases\": requests it would satisfy\n")
	return prompt{system: systemPreamble, user: b.String()}
}
