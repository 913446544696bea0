// Package monitor exposes the bridge to UI frontends over a WebSocket
// endpoint. Outbound frames mirror the dispatch notification stream, inbound
// frames carry control commands (device selection, mapping edits, API
// configuration, MIDI learn).
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/foundrymidi/bridge/internal/api"
	"github.com/foundrymidi/bridge/internal/catalog"
	"github.com/foundrymidi/bridge/internal/dispatch"
	"github.com/foundrymidi/bridge/internal/mapping"
	"github.com/foundrymidi/bridge/model"
)

const (
	sendQueueSize  = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxCommandSize = 1 << 20
)

// Message is the wire frame in both directions. Type names the frame;
// outbound frames reuse notification kinds, inbound frames carry commands.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Options configures a monitor Server.
type Options struct {
	Log         *zap.Logger
	Coordinator *dispatch.Coordinator
	Gateway     *api.Gateway
	Catalog     *catalog.Catalog
	Addr        string
}

// Server manages WebSocket clients and bridges them to the coordinator.
type Server struct {
	log         *zap.Logger
	coordinator *dispatch.Coordinator
	gateway     *api.Gateway
	catalog     *catalog.Catalog
	addr        string

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	httpServer *http.Server
}

type client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	server      *Server
	unsubscribe func()
	closeOnce   sync.Once
}

// NewServer creates a monitor server. The upgrader rejects cross-origin
// browsers; the monitor binds loopback and serves local frontends only.
func NewServer(opts Options) *Server {
	return &Server{
		log:         opts.Log,
		coordinator: opts.Coordinator,
		gateway:     opts.Gateway,
		catalog:     opts.Catalog,
		addr:        opts.Addr,
		clients:     make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return r.Header.Get("Origin") == ""
			},
		},
	}
}

// Start begins serving on the configured address. It returns once the
// listener is running; errors after startup are reported through errCh.
func (s *Server) Start(errCh chan<- error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Info("monitor listening", zap.String("addr", s.addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Shutdown stops the HTTP listener and closes all client connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()
	return err
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		server: s,
	}

	notifications, cancel := s.coordinator.Subscribe(sendQueueSize)
	c.unsubscribe = cancel

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.log.Info("monitor client connected", zap.String("client", c.id))

	go c.forward(notifications)
	go c.writePump()
	go c.readPump()

	c.sendInitialState()
}

// sendInitialState pushes the current device list and mapping table so a
// freshly connected frontend does not have to ask.
func (c *client) sendInitialState() {
	c.sendFrame("devices_changed", map[string]any{
		"devices":   c.server.coordinator.Devices(),
		"connected": c.server.coordinator.ConnectedDevice(),
	})
	c.sendFrame("mappings", mappingsPayload(c.server.coordinator.Mappings()))
}

// forward relays coordinator notifications to this client until the
// subscription is cancelled.
func (c *client) forward(notifications <-chan model.Notification) {
	for n := range notifications {
		payload, err := json.Marshal(Message{Type: string(n.Kind), Data: marshalData(n), Timestamp: n.Time})
		if err != nil {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow frontend; the frame is dropped rather than stalling
			// the bridge.
		}
	}
}

func marshalData(n model.Notification) json.RawMessage {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	return raw
}

func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxCommandSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.log.Warn("monitor read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.sendError("malformed frame: " + err.Error())
			continue
		}
		c.handleCommand(msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.log.Info("monitor client disconnected", zap.String("client", c.id))
}

// close tears the client down. The send channel is left open: the forward
// goroutine may still be draining its subscription, and the write pump exits
// on its own once the connection is gone.
func (c *client) close() {
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.conn.Close()
	})
}

// Command payloads.

type apiConfigCommand struct {
	BaseURL        string  `json:"baseUrl"`
	APIKey         string  `json:"apiKey"`
	ClientID       string  `json:"clientId"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
}

type mappingEntry struct {
	Key      string                 `json:"key"`
	Template *model.RequestTemplate `json:"template,omitempty"`
	Method   string                 `json:"method,omitempty"`
	Path     string                 `json:"path,omitempty"`
	Values   map[string]string      `json:"values,omitempty"`
}

type setMappingsCommand struct {
	Mappings []mappingEntry `json:"mappings"`
}

type deviceCommand struct {
	Device string `json:"device"`
}

type removeMappingCommand struct {
	Key string `json:"key"`
}

func (c *client) handleCommand(msg Message) {
	switch msg.Type {
	case "set_api_config":
		var cmd apiConfigCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.sendError("set_api_config: " + err.Error())
			return
		}
		cfg := model.APIConfig{
			BaseURL:  cmd.BaseURL,
			APIKey:   cmd.APIKey,
			ClientID: cmd.ClientID,
			Timeout:  time.Duration(cmd.TimeoutSeconds * float64(time.Second)),
		}
		c.server.coordinator.SetAPIConfig(cfg)

	case "connect_device":
		var cmd deviceCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil || cmd.Device == "" {
			c.sendError("connect_device: device name required")
			return
		}
		if err := c.server.coordinator.ConnectDevice(cmd.Device); err != nil {
			c.sendError(err.Error())
		}

	case "disconnect_device":
		c.server.coordinator.DisconnectDevice()

	case "list_devices":
		c.server.coordinator.Devices()

	case "start_learn":
		c.server.coordinator.StartLearn()

	case "cancel_learn":
		c.server.coordinator.CancelLearn()

	case "probe":
		go c.server.coordinator.Probe()

	case "add_mapping":
		var cmd mappingEntry
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.sendError("add_mapping: " + err.Error())
			return
		}
		entry, err := c.server.resolveEntry(cmd)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.server.coordinator.AddMapping(entry.Key, entry.Template)
		c.sendFrame("mappings", mappingsPayload(c.server.coordinator.Mappings()))

	case "remove_mapping":
		var cmd removeMappingCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.sendError("remove_mapping: " + err.Error())
			return
		}
		key, err := model.ParseTriggerKey(cmd.Key)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.server.coordinator.RemoveMapping(key)
		c.sendFrame("mappings", mappingsPayload(c.server.coordinator.Mappings()))

	case "set_mappings":
		var cmd setMappingsCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.sendError("set_mappings: " + err.Error())
			return
		}
		entries := make([]mapping.Entry, 0, len(cmd.Mappings))
		for _, m := range cmd.Mappings {
			entry, err := c.server.resolveEntry(m)
			if err != nil {
				c.sendError(err.Error())
				return
			}
			entries = append(entries, entry)
		}
		c.server.coordinator.SetMappings(entries)
		c.sendFrame("mappings", mappingsPayload(c.server.coordinator.Mappings()))

	case "list_mappings":
		c.sendFrame("mappings", mappingsPayload(c.server.coordinator.Mappings()))

	case "list_endpoints":
		c.sendEndpoints()

	default:
		c.sendError("unknown command: " + msg.Type)
	}
}

// resolveEntry turns an inbound mapping entry into a store entry. Frontends
// either send a full template or name an endpoint plus parameter values, in
// which case the template is derived from the endpoint descriptor.
func (s *Server) resolveEntry(m mappingEntry) (mapping.Entry, error) {
	key, err := model.ParseTriggerKey(m.Key)
	if err != nil {
		return mapping.Entry{}, err
	}

	if m.Template != nil {
		return mapping.Entry{Key: key, Template: *m.Template}, nil
	}

	if m.Method == "" || m.Path == "" {
		return mapping.Entry{}, model.NewParseError("mapping needs a template or a method and path")
	}
	desc, err := s.findEndpoint(m.Method, m.Path)
	if err != nil {
		return mapping.Entry{}, err
	}
	tpl, err := api.TemplateFromValues(desc, m.Values)
	if err != nil {
		return mapping.Entry{}, err
	}
	return mapping.Entry{Key: key, Template: tpl}, nil
}

func (s *Server) findEndpoint(method, path string) (model.EndpointDescriptor, error) {
	if s.catalog != nil {
		if desc, ok := s.catalog.Find(method, path); ok {
			return desc, nil
		}
		return model.EndpointDescriptor{}, model.NewParseError(fmt.Sprintf("unknown endpoint %s %s", method, path))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	docs, err := s.gateway.EndpointDocs(ctx)
	if err != nil {
		return model.EndpointDescriptor{}, err
	}
	for _, d := range docs {
		if d.Method == method && d.Path == path {
			return d, nil
		}
	}
	return model.EndpointDescriptor{}, model.NewParseError(fmt.Sprintf("unknown endpoint %s %s", method, path))
}

func (c *client) sendEndpoints() {
	if c.server.catalog != nil {
		c.sendFrame("endpoints", map[string]any{"endpoints": c.server.catalog.Endpoints()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	docs, err := c.server.gateway.EndpointDocs(ctx)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.sendFrame("endpoints", map[string]any{"endpoints": docs})
}

func mappingsPayload(entries []mapping.Entry) map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"key":      e.Key.String(),
			"template": e.Template,
		})
	}
	return map[string]any{"mappings": out}
}

func (c *client) sendFrame(frameType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	payload, err := json.Marshal(Message{Type: frameType, Data: raw, Timestamp: time.Now()})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *client) sendError(errMsg string) {
	c.sendFrame("error", map[string]string{"message": errMsg})
}
