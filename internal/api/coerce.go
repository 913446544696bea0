package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/foundrymidi/bridge/model"
)

// looksLikeArray reports whether text is bracketed array syntax.
func looksLikeArray(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]")
}

// ParseArrayText parses array text as entered in a parameter field. A
// structured JSON array parse is attempted first; anything that fails it
// falls back to splitting on commas and trimming whitespace.
func ParseArrayText(s string) ([]any, error) {
	t := strings.TrimSpace(s)

	if strings.HasPrefix(t, "[") {
		var items []any
		if err := json.Unmarshal([]byte(t), &items); err == nil {
			return items, nil
		}
		// Not valid JSON; treat the bracket content as a comma list.
		t = strings.TrimSuffix(strings.TrimPrefix(t, "["), "]")
	}

	if strings.TrimSpace(t) == "" {
		return nil, nil
	}
	parts := strings.Split(t, ",")
	items := make([]any, 0, len(parts))
	for _, p := range parts {
		items = append(items, strings.TrimSpace(p))
	}
	return items, nil
}

// CoerceValue converts parameter field text into the typed value the remote
// API expects. Booleans are carried as true booleans, not strings. Text that
// cannot be coerced is a PARSE_ERROR; the caller decides whether to surface
// it or drop the field.
func CoerceValue(text, paramType string) (any, error) {
	switch strings.ToLower(paramType) {
	case "boolean", "bool":
		b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(text)))
		if err != nil {
			return nil, model.NewParseError(fmt.Sprintf("%q is not a boolean", text))
		}
		return b, nil
	case "number", "integer", "int", "float":
		t := strings.TrimSpace(text)
		if i, err := strconv.ParseInt(t, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, model.NewParseError(fmt.Sprintf("%q is not a number", text))
		}
		return f, nil
	case "array":
		return ParseArrayText(text)
	case "object", "json":
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, model.NewParseError(fmt.Sprintf("invalid JSON: %v", err))
		}
		return v, nil
	default:
		return text, nil
	}
}

// formatScalar renders one coerced value as a query string value.
func formatScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
