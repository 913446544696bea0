package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/foundrymidi/bridge/internal/observability"
	"github.com/foundrymidi/bridge/model"
)

const (
	apiKeyHeader   = "x-api-key"
	clientIDHeader = "Client-ID"

	// maxResponseBytes bounds response reads; the remote API returns small
	// JSON documents.
	maxResponseBytes = 10 << 20
)

// reservedDocPaths are entries of the /api/docs listing that describe the
// API's own plumbing, not callable game endpoints.
var reservedDocPaths = map[string]bool{
	"/api/docs":   true,
	"/health":     true,
	"/api/status": true,
}

// Gateway owns the HTTP transport to the remote API: connection reuse,
// authentication headers, response parsing. It is safe for concurrent use;
// successive MIDI triggers routinely overlap in flight.
//
// The gateway never retries. MIDI events are transient: a stale retry could
// arrive out of order with the user's live intent.
type Gateway struct {
	log     *zap.Logger
	metrics *observability.Metrics
	client  *http.Client

	mu  sync.RWMutex
	cfg model.APIConfig
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayMetrics attaches request duration metrics.
func WithGatewayMetrics(m *observability.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway creates a gateway with a keep-alive transport. Dispatches are
// triggered by live hardware input and must not pay a new-connection cost
// per call.
func NewGateway(cfg model.APIConfig, log *zap.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		log: log,
		cfg: cfg.Normalize(),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetConfig replaces the connection state. Requests already in flight keep
// the snapshot they were built with.
func (g *Gateway) SetConfig(cfg model.APIConfig) {
	g.mu.Lock()
	g.cfg = cfg.Normalize()
	g.mu.Unlock()
}

// Config returns the current connection state snapshot.
func (g *Gateway) Config() model.APIConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Execute performs one built request. The outcome is terminal in a single
// round trip: a parsed JSON payload, a {"success": true} marker for empty
// bodies, or a CONNECTIVITY_ERROR.
func (g *Gateway) Execute(ctx context.Context, req model.ConcreteRequest) (model.APIResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "api.execute")
	span.SetAttributes(
		observability.AttrMethod.String(req.Method),
		observability.AttrEndpoint.String(req.Path),
	)
	defer span.End()

	if req.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Config.Timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return model.APIResult{}, fmt.Errorf("api: marshal body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL(), body)
	if err != nil {
		return model.APIResult{}, fmt.Errorf("api: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	setAuthHeaders(httpReq, req.Config)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if g.metrics != nil {
		g.metrics.RequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.APIResult{}, model.NewConnectivityError(0, err.Error())
	}
	defer resp.Body.Close()

	span.SetAttributes(observability.AttrStatusCode.Int(resp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.APIResult{}, model.NewConnectivityError(resp.StatusCode, fmt.Sprintf("reading response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return model.APIResult{}, model.NewConnectivityError(resp.StatusCode,
			fmt.Sprintf("%s %s: %s", req.Method, req.Path, resp.Status))
	}

	result := model.APIResult{StatusCode: resp.StatusCode}
	if len(respBody) == 0 {
		result.Payload = map[string]any{"success": true}
		return result, nil
	}
	var parsed any
	if err := json.Unmarshal(respBody, &parsed); err == nil {
		result.Payload = parsed
	} else {
		result.Payload = map[string]any{"success": true}
	}
	return result, nil
}

// Probe checks connectivity: GET / with auth headers, expecting 200.
func (g *Gateway) Probe(ctx context.Context) error {
	return g.getJSON(ctx, "/", nil)
}

// Clients fetches the remote API's registered client list.
func (g *Gateway) Clients(ctx context.Context) ([]model.ClientInfo, error) {
	var payload struct {
		Clients []model.ClientInfo `json:"clients"`
	}
	if err := g.getJSON(ctx, "/clients", &payload); err != nil {
		return nil, err
	}
	return payload.Clients, nil
}

// EndpointDocs fetches the API's endpoint self-description, excluding its
// own plumbing routes.
func (g *Gateway) EndpointDocs(ctx context.Context) ([]model.EndpointDescriptor, error) {
	var payload struct {
		Endpoints []model.EndpointDescriptor `json:"endpoints"`
	}
	if err := g.getJSON(ctx, "/api/docs", &payload); err != nil {
		return nil, err
	}

	endpoints := payload.Endpoints[:0]
	for _, ep := range payload.Endpoints {
		if reservedDocPaths[ep.Path] {
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// getJSON performs an authenticated GET against the current config and
// decodes the JSON response into out (which may be nil).
func (g *Gateway) getJSON(ctx context.Context, path string, out any) error {
	cfg := g.Config()
	if cfg.BaseURL == "" {
		return model.NewConnectivityError(0, "api base URL is not configured")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	setAuthHeaders(req, cfg)

	resp, err := g.client.Do(req)
	if err != nil {
		return model.NewConnectivityError(0, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.NewConnectivityError(resp.StatusCode, fmt.Sprintf("reading response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		return model.NewConnectivityError(resp.StatusCode, fmt.Sprintf("GET %s: %s", path, resp.Status))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return model.NewConnectivityError(resp.StatusCode, fmt.Sprintf("GET %s: invalid JSON: %v", path, err))
	}
	return nil
}

// setAuthHeaders adds the API-key header and, when a client id is
// configured, the Client-ID header. Older server versions read the header
// while newer ones read the clientId query parameter; both are populated.
func setAuthHeaders(req *http.Request, cfg model.APIConfig) {
	req.Header.Set(apiKeyHeader, cfg.APIKey)
	if cfg.ClientID != "" {
		req.Header.Set(clientIDHeader, cfg.ClientID)
	}
}
