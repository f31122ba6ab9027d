package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/ir"
)

// ValidationOption configures validation behaviour.
type ValidationOption func(*validationOpts)

type validationOpts struct {
	catalog          map[string]capability.Descriptor
	skipCapabilities bool
	skipStructural   bool
}

// WithCatalog enables capability checks against the given descriptors.
func WithCatalog(descs []capability.Descriptor) ValidationOption {
	return func(o *validationOpts) {
		if o.catalog == nil {
			o.catalog = make(map[string]capability.Descriptor, len(descs))
		}
		for _, d := range descs {
			o.catalog[d.ID] = d
		}
	}
}

// WithoutCapabilityCheck disables every check that needs the catalog, even
// when one was supplied.
func WithoutCapabilityCheck() ValidationOption {
	return func(o *validationOpts) {
		o.skipCapabilities = true
	}
}

// WithoutStructuralCheck skips the JSON Schema pass. Used by ValidateDocument,
// which runs the structural pass on the raw document itself.
func WithoutStructuralCheck() ValidationOption {
	return func(o *validationOpts) {
		o.skipStructural = true
	}
}

// ValidateDocument validates raw JSON or YAML text. Structural problems in the
// raw document are reported even when they would be lost by decoding.
func ValidateDocument(data []byte, opts ...ValidationOption) (*ir.Workflow, ValidationErrors) {
	wf, err := ir.Parse(data)
	if err != nil {
		return nil, ValidationErrors{{Code: CodeSchema, Message: err.Error()}}
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		sch, err := irSchema()
		if err != nil {
			return wf, ValidationErrors{{Code: CodeSchema, Message: err.Error()}}
		}
		if errs := sch.ValidateJSON([]byte(trimmed)); len(errs) > 0 {
			return wf, errs
		}
		opts = append(opts, WithoutStructuralCheck())
	}
	return wf, Validate(wf, opts...)
}

// Validate checks a workflow and returns every violation found, or nil when
// the workflow is valid. It never mutates wf.
func Validate(wf *ir.Workflow, opts ...ValidationOption) ValidationErrors {
	var o validationOpts
	for _, fn := range opts {
		fn(&o)
	}
	if wf == nil {
		return ValidationErrors{{Code: CodeSchema, Message: "workflow is nil"}}
	}

	// Structural failures make the remaining checks unreliable.
	if !o.skipStructural {
		sch, err := irSchema()
		if err != nil {
			return ValidationErrors{{Code: CodeSchema, Message: err.Error()}}
		}
		if errs := sch.ValidateValue(wf); len(errs) > 0 {
			return errs
		}
	}

	v := &validator{wf: wf, opts: &o, usedInputs: make(map[string]bool)}
	v.checkVersion()
	v.checkNodes()
	v.checkChain()
	v.checkTemplates()
	v.checkCapabilityContracts()
	v.checkUnusedInputs()
	v.checkOutputs()
	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}

type validator struct {
	wf         *ir.Workflow
	opts       *validationOpts
	errs       ValidationErrors
	position   map[string]int
	usedInputs map[string]bool
}

func (v *validator) add(code, path, msg, suggestion string) {
	v.errs = append(v.errs, &ValidationError{Code: code, Path: path, Message: msg, Suggestion: suggestion})
}

func (v *validator) descriptor(nodeType string) (capability.Descriptor, bool) {
	if v.opts.skipCapabilities || v.opts.catalog == nil {
		return capability.Descriptor{}, false
	}
	d, ok := v.opts.catalog[nodeType]
	return d, ok
}

func (v *validator) capabilityChecks() bool {
	return !v.opts.skipCapabilities && v.opts.catalog != nil
}

func (v *validator) checkVersion() {
	if err := ir.CheckVersion(v.wf.Version); err != nil {
		v.add(CodeVersion, "ir_version", err.Error(), fmt.Sprintf("set ir_version to %q", ir.CurrentVersion))
	}
}

func (v *validator) checkNodes() {
	seen := make(map[string]int, len(v.wf.Nodes))
	for i, n := range v.wf.Nodes {
		prefix := fmt.Sprintf("nodes[%d]", i)
		if first, dup := seen[n.ID]; dup {
			v.add(CodeDuplicateNode, prefix+".id",
				fmt.Sprintf("node id %q is already used by nodes[%d]", n.ID, first),
				"give every node a unique id")
		} else {
			seen[n.ID] = i
		}
		if _, isInput := v.wf.Inputs[n.ID]; isInput {
			v.add(CodeNameCollision, prefix+".id",
				fmt.Sprintf("node id %q is also declared as a workflow input", n.ID),
				"rename the node or the input so template roots are unambiguous")
		}
		if v.capabilityChecks() {
			if _, ok := v.opts.catalog[n.Type]; !ok {
				suggestion := "use a capability id from the catalog"
				if match, ok := ClosestMatch(n.Type, v.catalogIDs()); ok {
					suggestion = fmt.Sprintf("did you mean %q?", match)
				}
				v.add(CodeUnknownCapability, prefix+".type",
					fmt.Sprintf("capability %q is not in the catalog", n.Type), suggestion)
			}
		}
	}
}

func (v *validator) catalogIDs() []string {
	ids := make([]string, 0, len(v.opts.catalog))
	for id := range v.opts.catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// checkChain verifies the edges form exactly one linear chain covering every
// node, and records each node's position for forward reference checks.
func (v *validator) checkChain() {
	wf := v.wf
	known := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		known[n.ID] = true
	}

	next := make(map[string]string)
	outgoing := make(map[string]int)
	incoming := make(map[string]int)
	for i, e := range wf.Edges {
		prefix := fmt.Sprintf("edges[%d]", i)
		ok := true
		if !known[e.From] {
			v.add(CodeUnknownEdgeNode, prefix+".from", fmt.Sprintf("edge source %q is not a node", e.From), "")
			ok = false
		}
		if !known[e.To] {
			v.add(CodeUnknownEdgeNode, prefix+".to", fmt.Sprintf("edge target %q is not a node", e.To), "")
			ok = false
		}
		if !ok {
			continue
		}
		outgoing[e.From]++
		incoming[e.To]++
		if outgoing[e.From] == 2 {
			v.add(CodeBranching, prefix,
				fmt.Sprintf("node %q has more than one outgoing edge", e.From),
				"workflows are a single chain; pick one successor")
		}
		if incoming[e.To] == 2 {
			v.add(CodeBranching, prefix,
				fmt.Sprintf("node %q has more than one incoming edge", e.To),
				"workflows are a single chain; pick one predecessor")
		}
		if _, set := next[e.From]; !set {
			next[e.From] = e.To
		}
	}

	var starts []string
	for _, n := range wf.Nodes {
		if incoming[n.ID] == 0 {
			starts = append(starts, n.ID)
		}
	}
	starts = dedupe(starts)

	switch {
	case len(wf.Nodes) == 0:
		return
	case len(starts) == 0:
		v.add(CodeCycle, "edges", "every node has an incoming edge, so the chain loops", "remove the edge that points back to the first node")
	case len(starts) > 1:
		v.add(CodeStartNode, "edges",
			fmt.Sprintf("expected exactly one start node, found %d (%s)", len(starts), strings.Join(starts, ", ")),
			"connect the nodes into a single chain with edges")
	default:
		v.position = make(map[string]int, len(wf.Nodes))
		pos := 0
		for id := starts[0]; id != ""; id = next[id] {
			if _, seen := v.position[id]; seen {
				v.add(CodeCycle, "edges", fmt.Sprintf("chain returns to node %q", id), "remove the edge that loops back")
				break
			}
			v.position[id] = pos
			pos++
		}
		for i, n := range wf.Nodes {
			if _, onChain := v.position[n.ID]; !onChain {
				v.add(CodeDisconnected, fmt.Sprintf("nodes[%d]", i),
					fmt.Sprintf("node %q is not on the chain starting at %q", n.ID, starts[0]),
					"connect it with an edge or remove it")
			}
		}
	}

	// Without a valid chain, fall back to list order so template checks still run.
	if v.position == nil || len(v.position) != len(wf.Nodes) {
		v.position = make(map[string]int, len(wf.Nodes))
		for i, n := range wf.Nodes {
			if _, seen := v.position[n.ID]; !seen {
				v.position[n.ID] = i
			}
		}
	}
}

func (v *validator) checkTemplates() {
	wf := v.wf
	nodeTypes := make(map[string]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if _, seen := nodeTypes[n.ID]; !seen {
			nodeTypes[n.ID] = n.Type
		}
	}
	inputNames := wf.InputNames()

	for i, n := range wf.Nodes {
		base := fmt.Sprintf("nodes[%d].params", i)
		found, perrs := ir.Extract(base, n.Params)
		for _, err := range perrs {
			v.add(CodeUnresolvedTemplate, base, err.Error(), "use ${input} or ${node.output}")
		}
		for _, loc := range found {
			ref := loc.Ref
			if _, isInput := wf.Inputs[ref.Root]; isInput {
				v.usedInputs[ref.Root] = true
				continue
			}
			srcType, isNode := nodeTypes[ref.Root]
			if !isNode {
				suggestion := fmt.Sprintf("declare input %q or fix the reference", ref.Root)
				if match, ok := ClosestMatch(ref.Root, inputNames); ok {
					suggestion = fmt.Sprintf("did you mean ${%s}?", match)
				}
				v.add(CodeUnresolvedTemplate, loc.Path,
					fmt.Sprintf("%s does not name a workflow input or node", ref), suggestion)
				continue
			}
			if ref.IsInput() {
				v.add(CodeUnresolvedTemplate, loc.Path,
					fmt.Sprintf("%s references node %q without naming an output", ref, ref.Root),
					fmt.Sprintf("use ${%s.<output>}", ref.Root))
				continue
			}
			if v.position[ref.Root] >= v.position[n.ID] {
				v.add(CodeForwardReference, loc.Path,
					fmt.Sprintf("%s refers to node %q, which does not run before %q", ref, ref.Root, n.ID),
					"reference only nodes earlier in the chain")
				continue
			}
			if d, ok := v.descriptor(srcType); ok && d.ChecksOutputs() && !d.HasOutput(ref.Output()) {
				suggestion := outputsHint(srcType, d)
				if match, ok := ClosestMatch(ref.Output(), d.OutputNames()); ok {
					suggestion = fmt.Sprintf("did you mean ${%s.%s}?", ref.Root, match)
				}
				v.add(CodeUnknownOutput, loc.Path,
					fmt.Sprintf("capability %q does not declare output %q", srcType, ref.Output()), suggestion)
			}
		}
	}
}

func (v *validator) checkCapabilityContracts() {
	for i, n := range v.wf.Nodes {
		d, ok := v.descriptor(n.Type)
		if !ok {
			continue
		}
		prefix := fmt.Sprintf("nodes[%d].params", i)
		for _, name := range d.RequiredInputs() {
			if _, set := n.Params[name]; !set {
				v.add(CodeMissingNodeInput, prefix+"."+name,
					fmt.Sprintf("capability %q requires input %q", n.Type, name),
					fmt.Sprintf("set params.%s to a literal, ${input}, or ${node.output}", name))
			}
		}
		keys := make([]string, 0, len(n.Params))
		for k := range n.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if d.Accepts(k) {
				continue
			}
			suggestion := "remove it"
			if match, ok := ClosestMatch(k, acceptedKeys(d)); ok {
				suggestion = fmt.Sprintf("did you mean %q?", match)
			}
			v.add(CodeUnknownParam, prefix+"."+k,
				fmt.Sprintf("capability %q has no input or param %q", n.Type, k), suggestion)
		}
	}
}

func acceptedKeys(d capability.Descriptor) []string {
	keys := make([]string, 0, len(d.Inputs)+len(d.Params))
	for k := range d.Inputs {
		keys = append(keys, k)
	}
	for k := range d.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v *validator) checkUnusedInputs() {
	for _, name := range v.wf.InputNames() {
		if !v.usedInputs[name] {
			v.add(CodeUnusedInput, "inputs."+name,
				fmt.Sprintf("input %q is declared but never referenced", name),
				"remove the input or reference it with ${"+name+"}")
		}
	}
}

func (v *validator) checkOutputs() {
	nodeTypes := make(map[string]string, len(v.wf.Nodes))
	for _, n := range v.wf.Nodes {
		nodeTypes[n.ID] = n.Type
	}
	for _, name := range v.wf.OutputNames() {
		out := v.wf.Outputs[name]
		path := "outputs." + name + ".source"
		ref, err := SourceReference(out.Source)
		if err != nil {
			v.add(CodeUnresolvedOutput, path, err.Error(), "set source to ${node.output}")
			continue
		}
		srcType, ok := nodeTypes[ref.Root]
		if !ok {
			msg := fmt.Sprintf("source %s does not name a node", ref)
			if _, isInput := v.wf.Inputs[ref.Root]; isInput {
				msg = fmt.Sprintf("source %s references a workflow input; outputs must come from node outputs", ref)
			}
			v.add(CodeUnresolvedOutput, path, msg, "set source to ${node.output}")
			continue
		}
		if d, ok := v.descriptor(srcType); ok && d.ChecksOutputs() && !d.HasOutput(ref.Output()) {
			v.add(CodeUnresolvedOutput, path,
				fmt.Sprintf("capability %q does not declare output %q", srcType, ref.Output()),
				outputsHint(srcType, d))
		}
	}
}

func outputsHint(id string, d capability.Descriptor) string {
	if len(d.Outputs) == 0 {
		return id + " declares no outputs"
	}
	return fmt.Sprintf("%s outputs: %s", id, strings.Join(d.OutputNames(), ", "))
}

// SourceReference parses an output source, which must be exactly one
// ${node.output...} expression.
func SourceReference(source string) (ir.Reference, error) {
	refs, err := ir.ExtractString(source)
	if err != nil {
		return ir.Reference{}, err
	}
	if len(refs) != 1 || strings.TrimSpace(source) != refs[0].String() {
		return ir.Reference{}, fmt.Errorf("source %q must be a single ${node.output} expression", source)
	}
	if refs[0].IsInput() {
		return refs[0], fmt.Errorf("source %s must name a node output", refs[0])
	}
	return refs[0], nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
