package model

import (
	"net/url"
	"strings"
	"time"
)

// RequestTemplate is the stored HTTP call shape bound to a trigger key.
// Endpoint is a path pattern that may contain ":name" placeholders; every
// placeholder must have an entry in PathParams before the template can be
// built into a concrete request.
type RequestTemplate struct {
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method,omitempty"`
	QueryParams map[string]any    `json:"query_params,omitempty"`
	BodyParams  map[string]any    `json:"body_params,omitempty"`
	PathParams  map[string]string `json:"path_params,omitempty"`
}

// APIConfig is the connection state for the remote API. It is captured as a
// snapshot when a request is built; changing the configuration never affects
// requests already in flight.
type APIConfig struct {
	BaseURL  string        `json:"base_url"`
	APIKey   string        `json:"api_key"`
	ClientID string        `json:"client_id,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Normalize trims the trailing slash the original configuration UI tended
// to leave on the base URL.
func (c APIConfig) Normalize() APIConfig {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// ConcreteRequest is a fully resolved HTTP call: method, substituted path,
// assembled query and body, plus the configuration snapshot taken at build
// time.
type ConcreteRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]any
	Config APIConfig
}

// URL joins the snapshot base URL, the resolved path, and the encoded query.
func (r ConcreteRequest) URL() string {
	u := r.Config.BaseURL + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

// APIResult is the terminal outcome of an executed request: the parsed JSON
// payload, or a {"success": true} marker when the response body was empty.
type APIResult struct {
	StatusCode int `json:"status_code"`
	Payload    any `json:"payload,omitempty"`
}

// ParameterDescriptor describes one parameter of a remote endpoint.
// Location is "path", "query", or "body".
type ParameterDescriptor struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
}

// EndpointDescriptor is the remote API's self-declared shape of a callable
// route. The bridge consumes it as an immutable capability list; it only
// drives template construction, never dispatch.
type EndpointDescriptor struct {
	Method             string                `json:"method"`
	Path               string                `json:"path"`
	Description        string                `json:"description,omitempty"`
	RequiredParameters []ParameterDescriptor `json:"requiredParameters,omitempty"`
	OptionalParameters []ParameterDescriptor `json:"optionalParameters,omitempty"`
}

// ClientInfo is one entry of the remote API's /clients listing.
type ClientInfo struct {
	ID         string `json:"id"`
	InstanceID string `json:"instanceId,omitempty"`
	LastSeen   string `json:"lastSeen,omitempty"`
}
