package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/itchyny/gojq"
	"github.com/spinje/pflow-sub005/capability"
)

func countLines(_ context.Context, inv *capability.Invocation) (map[string]any, error) {
	text := inv.String("text")
	if text == "" {
		return map[string]any{"count": 0}, nil
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return map[string]any{"count": n}, nil
}

// normalizeJSON round-trips v through JSON so gojq and expr only ever see
// JSON-compatible types. JSON text is decoded first.
func normalizeJSON(v any) (any, error) {
	if s, ok := v.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			return decoded, nil
		}
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func runJQ(_ context.Context, inv *capability.Invocation) (map[string]any, error) {
	expression := inv.String("expression")
	if expression == "" {
		return nil, fmt.Errorf("jq: 'expression' is required")
	}
	parsed, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq: invalid expression %q: %w", expression, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("jq: failed to compile expression %q: %w", expression, err)
	}
	input, err := normalizeJSON(inv.Params["data"])
	if err != nil {
		return nil, fmt.Errorf("jq: failed to normalize input: %w", err)
	}

	iter := code.Run(input)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq: expression error: %w", err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return map[string]any{"result": nil}, nil
	case 1:
		return map[string]any{"result": results[0]}, nil
	default:
		return map[string]any{"result": results}, nil
	}
}

func runExpr(_ context.Context, inv *capability.Invocation) (map[string]any, error) {
	expression := inv.String("expression")
	if expression == "" {
		return nil, fmt.Errorf("expr: 'expression' is required")
	}
	env := map[string]any{}
	if raw, ok := inv.Params["env"]; ok && raw != nil {
		normalized, err := normalizeJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("expr: failed to normalize env: %w", err)
		}
		m, ok := normalized.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expr: env must be an object, got %T", normalized)
		}
		env = m
	}
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("expr: invalid expression %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("expr: %w", err)
	}
	return map[string]any{"result": out}, nil
}
