package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coerce converts v to the declared input type. Strings are parsed for the
// scalar, object, and array types so that values typed on a command line or
// pulled out of free text can satisfy a typed input. An empty type or "any"
// accepts v unchanged.
func Coerce(typ string, v any) (any, error) {
	switch typ {
	case "", "any":
		return v, nil
	case "string":
		switch val := v.(type) {
		case string:
			return val, nil
		case bool, int, int64, float64, json.Number:
			return Stringify(val), nil
		}
	case "integer":
		switch val := v.(type) {
		case int:
			return val, nil
		case int64:
			return int(val), nil
		case float64:
			if val == math.Trunc(val) {
				return int(val), nil
			}
		case json.Number:
			if n, err := val.Int64(); err == nil {
				return int(n), nil
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				return n, nil
			}
		}
	case "number":
		switch val := v.(type) {
		case int:
			return float64(val), nil
		case int64:
			return float64(val), nil
		case float64:
			return val, nil
		case json.Number:
			if f, err := val.Float64(); err == nil {
				return f, nil
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				return f, nil
			}
		}
	case "boolean":
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
				return b, nil
			}
		}
	case "object":
		switch val := v.(type) {
		case map[string]any:
			return val, nil
		case string:
			var m map[string]any
			if err := json.Unmarshal([]byte(val), &m); err == nil && m != nil {
				return m, nil
			}
		}
	case "array":
		switch val := v.(type) {
		case []any:
			return val, nil
		case string:
			var a []any
			if err := json.Unmarshal([]byte(val), &a); err == nil && a != nil {
				return a, nil
			}
		}
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
	return nil, fmt.Errorf("cannot use %T value as %s", v, typ)
}
