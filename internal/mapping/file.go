package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/foundrymidi/bridge/model"
)

// The persisted mapping file is a JSON object keyed by the string form of
// each trigger key. Two value shapes exist in the wild: a bare endpoint
// string written by early versions, and the structured object written today.
// Reads accept both and normalize to the structured form immediately, so the
// rest of the system only ever sees one shape; writes always emit the
// structured form.

// fileTemplate is the structured on-disk value shape.
type fileTemplate struct {
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method,omitempty"`
	QueryParams map[string]any    `json:"query_params,omitempty"`
	BodyParams  map[string]any    `json:"body_params,omitempty"`
	PathParams  map[string]string `json:"path_params,omitempty"`
}

// legacyMethod is what the original client did with a bare endpoint string:
// it POSTed to it with no parameters.
const legacyMethod = "POST"

// Decode reads a mapping file, preserving the file's key order as the
// table's insertion order.
func Decode(r io.Reader) ([]Entry, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("mapping: reading file: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("mapping: file must be a JSON object, got %v", tok)
	}

	var entries []Entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("mapping: reading key: %w", err)
		}
		keyStr, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("mapping: object key is not a string: %v", keyTok)
		}
		key, err := model.ParseTriggerKey(keyStr)
		if err != nil {
			return nil, fmt.Errorf("mapping: %w", err)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("mapping: reading value for %s: %w", keyStr, err)
		}
		tpl, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("mapping: value for %s: %w", keyStr, err)
		}
		entries = append(entries, Entry{Key: key, Template: tpl})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("mapping: reading file: %w", err)
	}
	return entries, nil
}

// decodeValue accepts either the legacy bare-string shape or the structured
// object shape and normalizes to a RequestTemplate.
func decodeValue(raw json.RawMessage) (model.RequestTemplate, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var endpoint string
		if err := json.Unmarshal(raw, &endpoint); err != nil {
			return model.RequestTemplate{}, err
		}
		return model.RequestTemplate{Endpoint: endpoint, Method: legacyMethod}, nil
	}

	var ft fileTemplate
	if err := json.Unmarshal(raw, &ft); err != nil {
		return model.RequestTemplate{}, err
	}
	if ft.Endpoint == "" {
		return model.RequestTemplate{}, fmt.Errorf("missing endpoint")
	}
	method := ft.Method
	if method == "" {
		method = legacyMethod
	}
	return model.RequestTemplate{
		Endpoint:    ft.Endpoint,
		Method:      method,
		QueryParams: ft.QueryParams,
		BodyParams:  ft.BodyParams,
		PathParams:  ft.PathParams,
	}, nil
}

// Encode writes the entries as the structured shape, in order.
func Encode(w io.Writer, entries []Entry) error {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		keyJSON, err := json.Marshal(e.Key.String())
		if err != nil {
			return fmt.Errorf("mapping: encoding key %s: %w", e.Key, err)
		}
		buf.Write(keyJSON)
		buf.WriteString(": ")

		valJSON, err := json.Marshal(fileTemplate{
			Endpoint:    e.Template.Endpoint,
			Method:      e.Template.Method,
			QueryParams: e.Template.QueryParams,
			BodyParams:  e.Template.BodyParams,
			PathParams:  e.Template.PathParams,
		})
		if err != nil {
			return fmt.Errorf("mapping: encoding value for %s: %w", e.Key, err)
		}
		buf.Write(valJSON)
	}
	if len(entries) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")

	_, err := w.Write(buf.Bytes())
	return err
}

// Load reads the mapping file at path. A missing file is an empty table,
// not an error.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mapping: opening %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Save writes the entries to path atomically: write to a temp file in the
// same directory, then rename over the target.
func Save(path string, entries []Entry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mapping: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".mappings-*.json")
	if err != nil {
		return fmt.Errorf("mapping: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, entries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("mapping: closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("mapping: replacing %s: %w", path, err)
	}
	return nil
}
