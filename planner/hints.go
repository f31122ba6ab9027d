package planner

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spinje/pflow-sub005/schema"
)

// ExtractedParam is one value the hint stage found in the request.
type ExtractedParam struct {
	Value     any    `json:"value"`
	Reasoning string `json:"reasoning,omitempty"`
}

// ExtractedParams are the concrete values the request mentions, used as
// hints during generation and to explain missing inputs afterwards.
type ExtractedParams struct {
	Parameters map[string]ExtractedParam `json:"parameters"`
	Confidence float64                   `json:"confidence"`
}

// Has reports whether a parameter named name was extracted.
func (e *ExtractedParams) Has(name string) bool {
	if e == nil {
		return false
	}
	_, ok := e.Parameters[name]
	return ok
}

// Names returns the extracted parameter names in sorted order.
func (e *ExtractedParams) Names() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.Parameters))
	for n := range e.Parameters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// instructionVerbs are names the model sometimes reports as parameters when
// they are really the task itself.
var instructionVerbs = map[string]bool{
	"analyze": true, "build": true, "convert": true, "count": true,
	"create": true, "extract": true, "fetch": true, "generate": true,
	"get": true, "list": true, "make": true, "read": true, "run": true,
	"save": true, "send": true, "summarize": true, "summarise": true,
	"translate": true, "write": true,
}

// quantityPhrase matches a count wrapped in quantity words, as in "last 30"
// or "top 5 results".
var quantityPhrase = regexp.MustCompile(`(?i)^(?:the\s+)?(?:last|first|top|latest|newest|oldest|recent|most\s+recent|next|previous|up\s+to|at\s+most|at\s+least|max(?:imum)?)\s+(\d+(?:\.\d+)?)(?:\s+[a-z-]+){0,2}$`)

var delimitedSpan = regexp.MustCompile("\"([^\"]+)\"|`([^`]+)`|(?:^|\\s)'([^']+)'")

// maxCandidateSpans bounds how many request spans the prompt lists.
const maxCandidateSpans = 5

// delimitedSpans returns the quoted or back-ticked spans of text, longest
// first.
func delimitedSpans(text string) []string {
	var spans []string
	seen := make(map[string]bool)
	for _, m := range delimitedSpan.FindAllStringSubmatch(text, -1) {
		for _, g := range m[1:] {
			g = strings.TrimSpace(g)
			if g != "" && !seen[g] {
				seen[g] = true
				spans = append(spans, g)
			}
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return len(spans[i]) > len(spans[j]) })
	return spans
}

func hintsSchema() *schema.Schema {
	param := (&schema.Schema{
		Type:     "object",
		Required: []string{"value"},
		Properties: map[string]*schema.Schema{
			"value":     {},
			"reasoning": {Type: "string"},
		},
	}).SetAdditionalProperties(false)
	params := (&schema.Schema{Type: "object"}).SetAdditionalSchema(param)
	zero, one := 0.0, 1.0
	return (&schema.Schema{
		Type:     "object",
		Required: []string{"parameters", "confidence"},
		Properties: map[string]*schema.Schema{
			"parameters": params,
			"confidence": {Type: "number", Minimum: &zero, Maximum: &one},
		},
	}).SetAdditionalProperties(false)
}

// ExtractHints asks the model for the concrete values the request mentions,
// then normalizes them deterministically.
func (p *Planner) ExtractHints(ctx context.Context, request string, sel *Selection) (*ExtractedParams, error) {
	spans := delimitedSpans(request)
	if len(spans) > maxCandidateSpans {
		spans = spans[:maxCandidateSpans]
	}
	raw, err := runStage(ctx, p, StageHints, hintsPrompt(request, sel, spans), hintsSchema(),
		func(e *ExtractedParams) error {
			if e.Confidence < 0 || e.Confidence > 1 {
				return fmt.Errorf("confidence %v outside [0,1]", e.Confidence)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	hints := normalizeHints(raw, delimitedSpans(request))
	p.logger.Debug("Parameter hints extracted", "parameters", hints.Names(), "confidence", hints.Confidence)
	return hints, nil
}

// normalizeHints drops empty values and instruction verbs, converts numeric
// strings and quantity phrases, and trims values down to a delimited request
// span they embed.
func normalizeHints(raw *ExtractedParams, spans []string) *ExtractedParams {
	out := &ExtractedParams{Parameters: make(map[string]ExtractedParam, len(raw.Parameters)), Confidence: raw.Confidence}
	for name, param := range raw.Parameters {
		if instructionVerbs[strings.ToLower(strings.TrimSpace(name))] || isEmptyValue(param.Value) {
			continue
		}
		if s, ok := param.Value.(string); ok {
			s = strings.TrimSpace(s)
			if span := embeddedSpan(s, spans); span != "" {
				s = span
			} else if m := quantityPhrase.FindStringSubmatch(s); m != nil {
				s = m[1]
			}
			param.Value = numericValue(s)
		}
		out.Parameters[name] = param
	}
	return out
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// embeddedSpan returns the longest span contained in value when value also
// carries other words. spans must be sorted longest first.
func embeddedSpan(value string, spans []string) string {
	for _, span := range spans {
		if value == span {
			return ""
		}
		if strings.Contains(value, span) {
			return span
		}
	}
	return ""
}

// numericValue converts integer and decimal strings to numbers.
func numericValue(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "xXpPnN") {
		return f
	}
	return s
}
