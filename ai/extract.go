package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned when a model response cannot be decoded
// into the expected structure.
var ErrMalformedResponse = errors.New("malformed model response")

// ExtractJSON finds the first JSON object or array in text. Fenced code blocks
// are preferred over raw text.
func ExtractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx != -1 {
		start := idx + len("```json")
		if end := strings.Index(text[start:], "```"); end != -1 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	if idx := strings.Index(text, "```"); idx != -1 {
		start := idx + len("```")
		if end := strings.Index(text[start:], "```"); end != -1 {
			candidate := strings.TrimSpace(text[start : start+end])
			if len(candidate) > 0 && (candidate[0] == '{' || candidate[0] == '[') {
				return candidate
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		if end := matchClosing(text, i); end > 0 {
			return text[i : end+1]
		}
	}
	return ""
}

// matchClosing returns the index of the bracket closing the one at start, or
// -1 when it is never closed.
func matchClosing(text string, start int) int {
	open := text[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}
	depth := 0
	inString, escape := false, false
	for j := start; j < len(text); j++ {
		c := text[j]
		switch {
		case escape:
			escape = false
		case inString && c == '\\':
			escape = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

// DecodeStrict extracts the JSON payload from text and decodes it into v,
// rejecting unknown fields and trailing data. Every failure wraps
// ErrMalformedResponse.
func DecodeStrict(text string, v any) error {
	payload := ExtractJSON(text)
	if payload == "" {
		return fmt.Errorf("%w: no JSON found in response", ErrMalformedResponse)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON value", ErrMalformedResponse)
	}
	return nil
}
