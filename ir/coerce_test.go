package ir

import (
	"reflect"
	"testing"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		typ     string
		in      any
		want    any
		wantErr bool
	}{
		{"string", "x", "x", false},
		{"string", 30.0, "30", false},
		{"string", map[string]any{}, nil, true},
		{"integer", "30", 30, false},
		{"integer", 4.0, 4, false},
		{"integer", 4.5, nil, true},
		{"integer", "many", nil, true},
		{"number", "2.5", 2.5, false},
		{"number", 3, 3.0, false},
		{"boolean", "true", true, false},
		{"boolean", "maybe", nil, true},
		{"object", `{"a":1}`, map[string]any{"a": 1.0}, false},
		{"array", `[1,2]`, []any{1.0, 2.0}, false},
		{"array", "nope", nil, true},
		{"any", 7, 7, false},
		{"", "x", "x", false},
		{"widget", "x", nil, true},
	}
	for _, tt := range tests {
		got, err := Coerce(tt.typ, tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Coerce(%q, %v): expected error, got %v", tt.typ, tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Coerce(%q, %v): %v", tt.typ, tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Coerce(%q, %v) = %#v, want %#v", tt.typ, tt.in, got, tt.want)
		}
	}
}
