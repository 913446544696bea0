// Package api builds concrete HTTP requests from stored templates and
// executes them against the remote REST API.
package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/foundrymidi/bridge/model"
)

// clientIDParam is the query parameter the bridge always populates with the
// configured client id. A user-supplied value of the same name is
// overridden: multi-tenant routing must not depend on per-mapping data.
const clientIDParam = "clientId"

// Build resolves a template into a concrete request against the given
// configuration snapshot. A placeholder in the endpoint path with no bound
// value is a TEMPLATE_ERROR: that is a configuration defect to surface, not
// something to silently default. The snapshot travels with the request;
// config changes after Build never affect it.
func Build(tpl model.RequestTemplate, cfg model.APIConfig) (model.ConcreteRequest, error) {
	cfg = cfg.Normalize()

	method := strings.ToUpper(tpl.Method)
	if method == "" {
		method = http.MethodPost
	}

	path, err := substitutePath(tpl.Endpoint, tpl.PathParams)
	if err != nil {
		return model.ConcreteRequest{}, err
	}

	query := url.Values{}
	for name, value := range tpl.QueryParams {
		vals, ok, err := queryValues(value)
		if err != nil {
			return model.ConcreteRequest{}, err
		}
		if !ok {
			continue
		}
		for _, v := range vals {
			query.Add(name, v)
		}
	}
	if cfg.ClientID != "" {
		query.Set(clientIDParam, cfg.ClientID)
	}

	var body map[string]any
	if method != http.MethodGet && len(tpl.BodyParams) > 0 {
		body = make(map[string]any, len(tpl.BodyParams))
		for name, value := range tpl.BodyParams {
			v, ok, err := bodyValue(value)
			if err != nil {
				return model.ConcreteRequest{}, err
			}
			if ok {
				body[name] = v
			}
		}
	}

	return model.ConcreteRequest{
		Method: method,
		Path:   path,
		Query:  query,
		Body:   body,
		Config: cfg,
	}, nil
}

// substitutePath replaces every ":name" path segment with its bound literal,
// URL-escaped. The set of placeholders must be covered by params exactly.
func substitutePath(pattern string, params map[string]string) (string, error) {
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}

	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		name := seg[1:]
		value, ok := params[name]
		if !ok {
			return "", model.NewTemplateError(name)
		}
		segments[i] = url.PathEscape(value)
	}
	return strings.Join(segments, "/"), nil
}

// queryValues flattens one template value into query string values. The
// second return is false when the value should be omitted entirely (empty
// strings for optional parameters are never sent).
func queryValues(value any) ([]string, bool, error) {
	switch v := value.(type) {
	case nil:
		return nil, false, nil
	case string:
		if v == "" {
			return nil, false, nil
		}
		if looksLikeArray(v) {
			items, err := ParseArrayText(v)
			if err != nil {
				return nil, false, err
			}
			out := make([]string, len(items))
			for i, item := range items {
				out[i] = formatScalar(item)
			}
			return out, true, nil
		}
		return []string{v}, true, nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = formatScalar(item)
		}
		return out, true, nil
	case []string:
		return v, true, nil
	default:
		// Falsy non-string values (false, 0) are sent as-is.
		return []string{formatScalar(v)}, true, nil
	}
}

// bodyValue normalizes one template value for the JSON body. Booleans stay
// booleans, false and zero are sent as-is, empty strings are omitted, and
// bracketed array text is parsed into a real array.
func bodyValue(value any) (any, bool, error) {
	switch v := value.(type) {
	case nil:
		return nil, false, nil
	case string:
		if v == "" {
			return nil, false, nil
		}
		if looksLikeArray(v) {
			items, err := ParseArrayText(v)
			if err != nil {
				return nil, false, err
			}
			return items, true, nil
		}
		return v, true, nil
	default:
		return v, true, nil
	}
}
