package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/foundrymidi/bridge/internal/api"
	"github.com/foundrymidi/bridge/internal/mapping"
	"github.com/foundrymidi/bridge/internal/midi"
	"github.com/foundrymidi/bridge/internal/observability"
	"github.com/foundrymidi/bridge/model"
)

// Options configures a Coordinator.
type Options struct {
	Log     *zap.Logger
	Metrics *observability.Metrics

	Opener  midi.Opener
	Gateway *api.Gateway
	Store   *mapping.Store

	// MappingsPath is where mapping mutations are persisted. Empty disables
	// persistence.
	MappingsPath string

	PollInterval   time.Duration
	DebounceWindow time.Duration
	EventBuffer    int
}

// Coordinator owns the dispatch pipeline end to end. It is the single owner
// of the event stream: each connection gets exactly one pump goroutine, and
// a reconnect tears the previous one down before the next starts, so stale
// subscriptions cannot occur.
type Coordinator struct {
	log     *zap.Logger
	metrics *observability.Metrics

	listener *midi.Listener
	gateway  *api.Gateway
	store    *mapping.Store
	bus      *Bus

	mappingsPath string

	mu       sync.Mutex // guards pump lifecycle and learn state
	pumpDone chan struct{}
	learning bool

	wg sync.WaitGroup // in-flight dispatch workers
}

// New creates the coordinator and the listener it owns.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		log:          opts.Log,
		metrics:      opts.Metrics,
		gateway:      opts.Gateway,
		store:        opts.Store,
		bus:          NewBus(opts.Log, opts.Metrics),
		mappingsPath: opts.MappingsPath,
	}
	c.listener = midi.NewListener(opts.Opener, opts.Log,
		midi.WithPollInterval(opts.PollInterval),
		midi.WithDebounceWindow(opts.DebounceWindow),
		midi.WithEventBuffer(opts.EventBuffer),
		midi.WithMetrics(opts.Metrics),
		midi.WithErrorHandler(c.deviceFault),
	)
	return c
}

// Subscribe attaches a notification consumer. See Bus.Subscribe.
func (c *Coordinator) Subscribe(buffer int) (<-chan model.Notification, func()) {
	return c.bus.Subscribe(buffer)
}

// Devices lists MIDI input devices and notifies subscribers. Enumeration
// failure degrades to an empty list; it never aborts the daemon.
func (c *Coordinator) Devices() []string {
	devices, err := c.listener.Devices()
	if err != nil {
		c.log.Warn("listing midi devices failed", zap.Error(err))
		devices = nil
	}
	c.bus.Publish(model.Notification{Kind: model.NotifyDevicesChanged, Devices: devices})
	return devices
}

// ConnectDevice connects the listener to the named device and starts the
// pump. Any previous connection is fully stopped first.
func (c *Coordinator) ConnectDevice(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopPumpLocked()

	events, err := c.listener.Connect(name)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	c.pumpDone = done
	go c.pump(events, done)
	return nil
}

// DisconnectDevice stops the listener and waits for the pump to drain.
func (c *Coordinator) DisconnectDevice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopPumpLocked()
}

// ConnectedDevice returns the current device name, or "".
func (c *Coordinator) ConnectedDevice() string {
	return c.listener.Device()
}

func (c *Coordinator) stopPumpLocked() {
	if c.pumpDone == nil {
		return
	}
	c.listener.Disconnect()
	<-c.pumpDone
	c.pumpDone = nil
}

// pump is the sole consumer of one connection's event channel.
func (c *Coordinator) pump(events <-chan model.MidiEvent, done chan struct{}) {
	defer close(done)
	for ev := range events {
		c.handleEvent(ev)
	}
}

func (c *Coordinator) handleEvent(ev model.MidiEvent) {
	event := ev
	c.bus.Publish(model.Notification{Kind: model.NotifyMidiEvent, Event: &event})

	key, ok := midi.Match(ev)
	if !ok {
		return
	}

	if c.captureLearn(key) {
		return
	}

	tpl, ok := c.store.Get(key)
	if !ok {
		// Unmapped signal: not an error, just noise from the controller.
		return
	}

	// Snapshot the config now; a configuration change must not affect this
	// dispatch. The HTTP call runs on a worker so the pump never blocks on
	// the network.
	cfg := c.gateway.Config()
	id := uuid.NewString()
	c.wg.Add(1)
	go c.dispatch(id, key, tpl, cfg)
}

// captureLearn consumes the key as a one-shot learn capture when learn mode
// is active. It reports true when the event was intercepted.
func (c *Coordinator) captureLearn(key model.TriggerKey) bool {
	c.mu.Lock()
	if !c.learning {
		c.mu.Unlock()
		return false
	}
	c.learning = false
	c.mu.Unlock()

	c.log.Info("midi learn captured", zap.String("key", key.String()))
	c.bus.Publish(model.Notification{Kind: model.NotifyLearnCaptured, Key: key.String()})
	return true
}

// dispatch builds and executes one request. In-flight requests are never
// cancelled by a listener stop; they complete or fail on their own.
func (c *Coordinator) dispatch(id string, key model.TriggerKey, tpl model.RequestTemplate, cfg model.APIConfig) {
	defer c.wg.Done()

	ctx, span := observability.Tracer().Start(context.Background(), "dispatch")
	span.SetAttributes(
		observability.AttrDispatchID.String(id),
		observability.AttrTriggerKey.String(key.String()),
		observability.AttrEndpoint.String(tpl.Endpoint),
	)
	defer span.End()

	req, err := api.Build(tpl, cfg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.report(id, tpl.Endpoint, "build_failed", nil, err)
		return
	}

	result, err := c.gateway.Execute(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.report(id, tpl.Endpoint, "failed", nil, err)
		return
	}
	c.report(id, tpl.Endpoint, "success", &result, nil)
}

// report publishes a dispatch outcome and records it.
func (c *Coordinator) report(id, endpoint, outcome string, result *model.APIResult, err error) {
	if c.metrics != nil {
		c.metrics.DispatchesTotal.WithLabelValues(endpoint, outcome).Inc()
	}

	n := model.Notification{
		Kind:     model.NotifyDispatchResult,
		ID:       id,
		Endpoint: endpoint,
		Success:  err == nil,
		Result:   result,
	}
	if err != nil {
		n.Message = err.Error()
		c.log.Warn("dispatch failed",
			zap.String("dispatch_id", id),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
	} else {
		c.log.Info("dispatch succeeded",
			zap.String("dispatch_id", id),
			zap.String("endpoint", endpoint),
		)
	}
	c.bus.Publish(n)
}

// deviceFault is the listener's error side channel. It runs on the intake
// goroutine, so cleanup is deferred to a fresh goroutine.
func (c *Coordinator) deviceFault(err error) {
	c.bus.Publish(model.Notification{Kind: model.NotifyDeviceError, Message: err.Error()})
	go c.DisconnectDevice()
}

// StartLearn arms one-shot learn mode: the next qualifying event populates
// a learn_captured notification instead of dispatching.
func (c *Coordinator) StartLearn() {
	c.mu.Lock()
	c.learning = true
	c.mu.Unlock()
	c.log.Info("midi learn armed")
}

// CancelLearn disarms learn mode without a capture.
func (c *Coordinator) CancelLearn() {
	c.mu.Lock()
	c.learning = false
	c.mu.Unlock()
}

// Learning reports whether learn mode is armed.
func (c *Coordinator) Learning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.learning
}

// SetAPIConfig replaces the API connection state and probes it in the
// background when a URL and key are present, reporting the outcome as an
// api_status notification.
func (c *Coordinator) SetAPIConfig(cfg model.APIConfig) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = c.gateway.Config().Timeout
	}
	c.gateway.SetConfig(cfg)
	c.log.Info("api config updated", zap.String("base_url", cfg.BaseURL))

	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return
	}
	go c.Probe()
}

// Probe checks API connectivity and notifies subscribers.
func (c *Coordinator) Probe() error {
	err := c.gateway.Probe(context.Background())
	n := model.Notification{Kind: model.NotifyAPIStatus, Success: err == nil}
	if err != nil {
		n.Message = err.Error()
	} else {
		n.Message = "Connected successfully"
	}
	c.bus.Publish(n)
	return err
}

// Mappings returns the mapping table in insertion order.
func (c *Coordinator) Mappings() []mapping.Entry {
	return c.store.All()
}

// SetMappings replaces the whole mapping table.
func (c *Coordinator) SetMappings(entries []mapping.Entry) {
	c.store.ReplaceAll(entries)
	c.persistMappings()
}

// AddMapping binds a template to a trigger key.
func (c *Coordinator) AddMapping(key model.TriggerKey, tpl model.RequestTemplate) {
	c.store.Set(key, tpl)
	c.persistMappings()
}

// RemoveMapping removes the mapping for a trigger key.
func (c *Coordinator) RemoveMapping(key model.TriggerKey) {
	c.store.Remove(key)
	c.persistMappings()
}

// LoadMappings loads the persisted mapping file into the store. Called once
// at startup.
func (c *Coordinator) LoadMappings() error {
	if c.mappingsPath == "" {
		return nil
	}
	entries, err := mapping.Load(c.mappingsPath)
	if err != nil {
		return err
	}
	c.store.ReplaceAll(entries)
	if c.metrics != nil {
		c.metrics.MappingsLoaded.Set(float64(c.store.Len()))
	}
	c.log.Info("mappings loaded", zap.Int("count", c.store.Len()), zap.String("file", c.mappingsPath))
	return nil
}

func (c *Coordinator) persistMappings() {
	if c.metrics != nil {
		c.metrics.MappingsLoaded.Set(float64(c.store.Len()))
	}
	if c.mappingsPath == "" {
		return
	}
	if err := mapping.Save(c.mappingsPath, c.store.All()); err != nil {
		c.log.Error("persisting mappings failed", zap.Error(err))
	}
}

// Stop disconnects the device and waits for in-flight dispatches. Each
// dispatch is bounded by the request timeout, so the wait is too.
func (c *Coordinator) Stop() {
	c.DisconnectDevice()
	c.wg.Wait()
}
