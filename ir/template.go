package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Reference is one ${...} expression found in a template string.
type Reference struct {
	// Raw is the text between "${" and "}".
	Raw string
	// Root is the first path segment: a workflow input or a node id.
	Root string
	// Path holds the remaining segments. Empty for a bare input reference.
	Path []string
}

// IsInput reports whether the reference is a bare ${name}.
func (r Reference) IsInput() bool { return len(r.Path) == 0 }

// Output returns the node output named by a ${node.output...} reference.
func (r Reference) Output() string {
	if len(r.Path) == 0 {
		return ""
	}
	return r.Path[0]
}

func (r Reference) String() string { return "${" + r.Raw + "}" }

// TemplateError reports a malformed template string.
type TemplateError struct {
	Template string
	Offset   int
	Message  string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("malformed template %q at offset %d: %s", e.Template, e.Offset, e.Message)
}

// UnresolvedError is returned when a reference has no value during resolution.
type UnresolvedError struct {
	Ref Reference
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved template reference %s", e.Ref)
}

// Lookup returns the value a reference points to.
type Lookup func(ref Reference) (any, bool)

type segment struct {
	text string
	ref  *Reference
}

// parseTemplate splits s into literal text and references.
func parseTemplate(s string) ([]segment, error) {
	var segs []segment
	var lit strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "$${") {
			lit.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(s[i:], "${") {
			lit.WriteByte(s[i])
			i++
			continue
		}
		end := strings.IndexByte(s[i+2:], '}')
		if end < 0 {
			return nil, &TemplateError{Template: s, Offset: i, Message: "missing closing brace"}
		}
		raw := strings.TrimSpace(s[i+2 : i+2+end])
		ref, err := parseReference(raw)
		if err != nil {
			return nil, &TemplateError{Template: s, Offset: i, Message: err.Error()}
		}
		if lit.Len() > 0 {
			segs = append(segs, segment{text: lit.String()})
			lit.Reset()
		}
		segs = append(segs, segment{ref: ref})
		i += 2 + end + 1
	}
	if lit.Len() > 0 {
		segs = append(segs, segment{text: lit.String()})
	}
	return segs, nil
}

func parseReference(raw string) (*Reference, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty expression")
	}
	parts := strings.Split(raw, ".")
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("empty path segment in %q", raw)
		}
		if i == 0 && !isIdentStart(p[0]) {
			return nil, fmt.Errorf("%q must start with a letter or underscore", raw)
		}
		for j := 0; j < len(p); j++ {
			if !isIdentChar(p[j]) {
				return nil, fmt.Errorf("invalid character %q in %q", p[j], raw)
			}
		}
	}
	return &Reference{Raw: raw, Root: parts[0], Path: parts[1:]}, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c == '-' || (c >= '0' && c <= '9')
}

// HasTemplate reports whether s contains an unescaped ${ expression.
func HasTemplate(s string) bool {
	segs, err := parseTemplate(s)
	if err != nil {
		return true
	}
	for _, seg := range segs {
		if seg.ref != nil {
			return true
		}
	}
	return false
}

// ExtractString returns the references in a single template string.
func ExtractString(s string) ([]Reference, error) {
	if !strings.Contains(s, "${") {
		return nil, nil
	}
	segs, err := parseTemplate(s)
	if err != nil {
		return nil, err
	}
	var refs []Reference
	for _, seg := range segs {
		if seg.ref != nil {
			refs = append(refs, *seg.ref)
		}
	}
	return refs, nil
}

// Located pairs a reference with the dotted path of the value it was found in.
type Located struct {
	Path string
	Ref  Reference
}

// Extract walks v (strings, maps, and slices) and returns every reference
// found, keyed by location relative to base. Map keys are visited in sorted
// order so results are deterministic. Malformed strings are returned as errors
// alongside the references that did parse.
func Extract(base string, v any) ([]Located, []error) {
	var out []Located
	var errs []error
	walk(base, v, func(path, s string) {
		refs, err := ExtractString(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return
		}
		for _, r := range refs {
			out = append(out, Located{Path: path, Ref: r})
		}
	})
	return out, errs
}

func walk(path string, v any, fn func(path, s string)) {
	switch val := v.(type) {
	case string:
		fn(path, val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(joinPath(path, k), val[k], fn)
		}
	case []any:
		for i, item := range val {
			walk(fmt.Sprintf("%s[%d]", path, i), item, fn)
		}
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

// Resolve substitutes every reference in v using lookup. A string consisting
// of exactly one expression yields the referenced value unchanged; mixed
// strings interpolate the string form of each value.
func Resolve(v any, lookup Lookup) (any, error) {
	switch val := v.(type) {
	case string:
		return ResolveString(val, lookup)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := Resolve(item, lookup)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := Resolve(item, lookup)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString resolves a single template string.
func ResolveString(s string, lookup Lookup) (any, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	segs, err := parseTemplate(s)
	if err != nil {
		return nil, err
	}
	if len(segs) == 1 && segs[0].ref != nil {
		val, ok := lookup(*segs[0].ref)
		if !ok {
			return nil, &UnresolvedError{Ref: *segs[0].ref}
		}
		return val, nil
	}

	var b strings.Builder
	for _, seg := range segs {
		if seg.ref == nil {
			b.WriteString(seg.text)
			continue
		}
		val, ok := lookup(*seg.ref)
		if !ok {
			return nil, &UnresolvedError{Ref: *seg.ref}
		}
		b.WriteString(Stringify(val))
	}
	return b.String(), nil
}

// RewriteString replaces each reference in s with the expression fn returns
// for it. Escaped literals are kept escaped. A string that does not parse is
// returned unchanged.
func RewriteString(s string, fn func(Reference) string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	segs, err := parseTemplate(s)
	if err != nil {
		return s
	}
	var b strings.Builder
	for _, seg := range segs {
		if seg.ref == nil {
			b.WriteString(strings.ReplaceAll(seg.text, "${", "$${"))
			continue
		}
		b.WriteString("${" + fn(*seg.ref) + "}")
	}
	return b.String()
}

// Stringify formats a value for interpolation into a larger string.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
