package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// paramFlag collects repeated -param key=value flags. Values that look like
// JSON objects or arrays are decoded; everything else stays a string and is
// coerced to the declared input type later.
type paramFlag map[string]any

func (p paramFlag) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	if trimmed := strings.TrimSpace(value); strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			p[key] = decoded
			return nil
		}
	}
	p[key] = value
	return nil
}

func (p paramFlag) Map() map[string]any {
	if len(p) == 0 {
		return nil
	}
	return map[string]any(p)
}
