package mapping

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foundrymidi/bridge/model"
)

func TestDecodeLegacyAndStructured(t *testing.T) {
	const file = `{
  "note_on:0:60": "/lights/on",
  "control_change:1:7": {
    "endpoint": "/volume/:level",
    "method": "PUT",
    "path_params": {"level": "5"},
    "query_params": {"fade": "true"},
    "body_params": {"source": "midi"}
  }
}`

	entries, err := Decode(strings.NewReader(file))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	legacy := entries[0]
	if legacy.Key.String() != "note_on:0:60" {
		t.Errorf("first key = %s, want note_on:0:60", legacy.Key)
	}
	if legacy.Template.Endpoint != "/lights/on" {
		t.Errorf("legacy endpoint = %q", legacy.Template.Endpoint)
	}
	if legacy.Template.Method != "POST" {
		t.Errorf("legacy method = %q, want POST", legacy.Template.Method)
	}

	structured := entries[1]
	if structured.Template.Method != "PUT" {
		t.Errorf("structured method = %q, want PUT", structured.Template.Method)
	}
	if structured.Template.PathParams["level"] != "5" {
		t.Errorf("path param level = %q, want 5", structured.Template.PathParams["level"])
	}
	if structured.Template.QueryParams["fade"] != "true" {
		t.Errorf("query param fade = %v", structured.Template.QueryParams["fade"])
	}
	if structured.Template.BodyParams["source"] != "midi" {
		t.Errorf("body param source = %v", structured.Template.BodyParams["source"])
	}
}

func TestDecodePreservesFileOrder(t *testing.T) {
	const file = `{
  "note_on:0:3": "/c",
  "note_on:0:1": "/a",
  "note_on:0:2": "/b"
}`
	entries, err := Decode(strings.NewReader(file))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []string{"/c", "/a", "/b"}
	for i, e := range entries {
		if e.Template.Endpoint != want[i] {
			t.Errorf("entry %d endpoint = %q, want %q", i, e.Template.Endpoint, want[i])
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not an object", `["note_on:0:60"]`},
		{"bad trigger key", `{"bogus": "/a"}`},
		{"missing endpoint", `{"note_on:0:60": {"method": "GET"}}`},
		{"truncated", `{"note_on:0:60": "/a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tt.in)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := []Entry{
		{
			Key:      model.TriggerKey{Kind: model.SignalNoteOn, Channel: 0, Index: 60},
			Template: model.RequestTemplate{Endpoint: "/lights/on", Method: "POST"},
		},
		{
			Key: model.TriggerKey{Kind: model.SignalControlChange, Channel: 3, Index: 7},
			Template: model.RequestTemplate{
				Endpoint:    "/volume/:level",
				Method:      "PUT",
				PathParams:  map[string]string{"level": "3"},
				QueryParams: map[string]any{"fade": "true"},
			},
		},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, entries); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != len(entries) {
		t.Fatalf("len = %d, want %d", len(decoded), len(entries))
	}
	for i := range entries {
		if decoded[i].Key != entries[i].Key {
			t.Errorf("entry %d key = %v, want %v", i, decoded[i].Key, entries[i].Key)
		}
		if decoded[i].Template.Endpoint != entries[i].Template.Endpoint {
			t.Errorf("entry %d endpoint = %q, want %q", i,
				decoded[i].Template.Endpoint, entries[i].Template.Endpoint)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	entries, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load of missing file: %v", err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil", entries)
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "mappings.json")
	entries := []Entry{
		{
			Key:      model.TriggerKey{Kind: model.SignalNoteOn, Channel: 1, Index: 36},
			Template: model.RequestTemplate{Endpoint: "/scene/next", Method: "POST"},
		},
	}

	if err := Save(path, entries); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("saved file: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Template.Endpoint != "/scene/next" {
		t.Errorf("loaded = %+v", loaded)
	}
}
