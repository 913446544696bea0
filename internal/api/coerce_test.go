package api

import (
	"errors"
	"reflect"
	"testing"

	"github.com/foundrymidi/bridge/model"
)

func TestParseArrayText(t *testing.T) {
	tests := []struct {
		in   string
		want []any
	}{
		{`[1, 2, 3]`, []any{float64(1), float64(2), float64(3)}},
		{`["a", "b"]`, []any{"a", "b"}},
		{`[red, blue]`, []any{"red", "blue"}}, // not JSON, comma fallback
		{`red, blue`, []any{"red", "blue"}},
		{`single`, []any{"single"}},
		{`[]`, nil},
		{``, nil},
	}
	for _, tt := range tests {
		got, err := ParseArrayText(tt.in)
		if err != nil {
			t.Errorf("ParseArrayText(%q) error: %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseArrayText(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		text      string
		paramType string
		want      any
		wantErr   bool
	}{
		{"true", "boolean", true, false},
		{"FALSE", "boolean", false, false},
		{"yes", "boolean", nil, true},
		{"42", "integer", int64(42), false},
		{"3.5", "number", 3.5, false},
		{"abc", "number", nil, true},
		{`{"a": 1}`, "object", map[string]any{"a": float64(1)}, false},
		{`not json`, "object", nil, true},
		{"[1,2]", "array", []any{float64(1), float64(2)}, false},
		{"plain text", "string", "plain text", false},
		{"anything", "", "anything", false},
	}
	for _, tt := range tests {
		got, err := CoerceValue(tt.text, tt.paramType)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CoerceValue(%q, %q) expected error, got %v", tt.text, tt.paramType, got)
				continue
			}
			var envelope *model.ErrorEnvelope
			if !errors.As(err, &envelope) || envelope.Code != model.ErrParse {
				t.Errorf("CoerceValue(%q, %q) error = %v, want parse error envelope", tt.text, tt.paramType, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("CoerceValue(%q, %q) error: %v", tt.text, tt.paramType, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("CoerceValue(%q, %q) = %v (%T), want %v (%T)", tt.text, tt.paramType, got, got, tt.want, tt.want)
		}
	}
}
