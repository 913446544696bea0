package dispatch

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/foundrymidi/bridge/internal/api"
	"github.com/foundrymidi/bridge/internal/mapping"
	"github.com/foundrymidi/bridge/internal/midi"
	"github.com/foundrymidi/bridge/model"
)

type fakePort struct {
	mu    sync.Mutex
	queue []model.MidiEvent
	err   error
}

func (p *fakePort) push(evs ...model.MidiEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, evs...)
}

func (p *fakePort) Pending() ([]model.MidiEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.queue
	p.queue = nil
	return out, p.err
}

func (p *fakePort) Close() error { return nil }

type fakeOpener struct {
	port *fakePort
}

func (o *fakeOpener) Devices() ([]string, error) { return []string{"pad"}, nil }

func (o *fakeOpener) Open(name string) (midi.Port, error) {
	if name != "pad" {
		return nil, errors.New("no such port")
	}
	return o.port, nil
}

type capturedRequest struct {
	method string
	path   string
	query  string
	body   map[string]any
}

func newTestBackend(t *testing.T) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()
	requests := make(chan capturedRequest, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			json.Unmarshal(data, &body)
		}
		requests <- capturedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			body:   body,
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	t.Cleanup(server.Close)
	return server, requests
}

func newTestCoordinator(t *testing.T, serverURL string, port *fakePort) *Coordinator {
	t.Helper()
	gateway := api.NewGateway(model.APIConfig{
		BaseURL:  serverURL,
		APIKey:   "secret",
		ClientID: "studio-1",
		Timeout:  5 * time.Second,
	}, zap.NewNop())

	c := New(Options{
		Log:            zap.NewNop(),
		Opener:         &fakeOpener{port: port},
		Gateway:        gateway,
		Store:          mapping.NewStore(),
		MappingsPath:   filepath.Join(t.TempDir(), "mappings.json"),
		PollInterval:   time.Millisecond,
		DebounceWindow: 0,
	})
	t.Cleanup(c.Stop)
	return c
}

func awaitNotification(t *testing.T, ch <-chan model.Notification, kind model.NotificationKind) model.Notification {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("notification channel closed waiting for %s", kind)
			}
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notification", kind)
		}
	}
}

func noteOn(channel, note, velocity uint8) model.MidiEvent {
	return model.MidiEvent{
		Type: model.MessageNoteOn, Channel: channel, Data1: note, Data2: velocity, Time: time.Now(),
	}
}

func TestCoordinatorDispatchesMappedEvent(t *testing.T) {
	server, requests := newTestBackend(t)
	port := &fakePort{}
	c := newTestCoordinator(t, server.URL, port)

	c.AddMapping(
		model.TriggerKey{Kind: model.SignalNoteOn, Channel: 0, Index: 60},
		model.RequestTemplate{Endpoint: "/lights/on", Method: "POST", BodyParams: map[string]any{"level": float64(7)}},
	)

	notifications, cancel := c.Subscribe(64)
	defer cancel()

	if err := c.ConnectDevice("pad"); err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}
	port.push(noteOn(0, 60, 100))

	n := awaitNotification(t, notifications, model.NotifyDispatchResult)
	if !n.Success {
		t.Errorf("dispatch failed: %s", n.Message)
	}
	if n.Endpoint != "/lights/on" {
		t.Errorf("endpoint = %q", n.Endpoint)
	}
	if n.ID == "" {
		t.Error("dispatch id missing")
	}

	select {
	case req := <-requests:
		if req.method != "POST" || req.path != "/lights/on" {
			t.Errorf("request = %s %s", req.method, req.path)
		}
		if req.query != "clientId=studio-1" {
			t.Errorf("query = %q, want clientId=studio-1", req.query)
		}
		if req.body["level"] != float64(7) {
			t.Errorf("body = %v", req.body)
		}
	case <-time.After(time.Second):
		t.Fatal("backend received no request")
	}
}

func TestCoordinatorIgnoresUnmappedEvents(t *testing.T) {
	server, requests := newTestBackend(t)
	port := &fakePort{}
	c := newTestCoordinator(t, server.URL, port)

	notifications, cancel := c.Subscribe(64)
	defer cancel()

	if err := c.ConnectDevice("pad"); err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}
	port.push(noteOn(0, 42, 100))

	// The raw event is still surfaced to subscribers.
	awaitNotification(t, notifications, model.NotifyMidiEvent)

	select {
	case req := <-requests:
		t.Errorf("unmapped event dispatched: %+v", req)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCoordinatorLearnCapturesOneEvent(t *testing.T) {
	server, requests := newTestBackend(t)
	port := &fakePort{}
	c := newTestCoordinator(t, server.URL, port)

	key := model.TriggerKey{Kind: model.SignalNoteOn, Channel: 0, Index: 60}
	c.AddMapping(key, model.RequestTemplate{Endpoint: "/lights/on", Method: "POST"})

	notifications, cancel := c.Subscribe(64)
	defer cancel()

	if err := c.ConnectDevice("pad"); err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}

	c.StartLearn()
	if !c.Learning() {
		t.Fatal("Learning() = false after StartLearn")
	}

	port.push(noteOn(0, 60, 100))
	n := awaitNotification(t, notifications, model.NotifyLearnCaptured)
	if n.Key != key.String() {
		t.Errorf("captured key = %q, want %s", n.Key, key)
	}
	if c.Learning() {
		t.Error("learn mode still armed after capture")
	}

	// The captured event must not dispatch.
	select {
	case req := <-requests:
		t.Errorf("learn-captured event dispatched: %+v", req)
	case <-time.After(100 * time.Millisecond):
	}

	// The next matching event dispatches normally.
	port.push(noteOn(0, 60, 100))
	awaitNotification(t, notifications, model.NotifyDispatchResult)
	select {
	case <-requests:
	case <-time.After(time.Second):
		t.Fatal("event after learn capture did not dispatch")
	}
}

func TestCoordinatorCancelLearn(t *testing.T) {
	server, _ := newTestBackend(t)
	c := newTestCoordinator(t, server.URL, &fakePort{})

	c.StartLearn()
	c.CancelLearn()
	if c.Learning() {
		t.Error("Learning() = true after CancelLearn")
	}
}

func TestCoordinatorDispatchFailureIsReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	port := &fakePort{}
	c := newTestCoordinator(t, server.URL, port)
	c.AddMapping(
		model.TriggerKey{Kind: model.SignalNoteOn, Channel: 0, Index: 60},
		model.RequestTemplate{Endpoint: "/lights/on", Method: "POST"},
	)

	notifications, cancel := c.Subscribe(64)
	defer cancel()

	if err := c.ConnectDevice("pad"); err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}
	port.push(noteOn(0, 60, 100))

	n := awaitNotification(t, notifications, model.NotifyDispatchResult)
	if n.Success {
		t.Error("failed dispatch reported as success")
	}
	if n.Message == "" {
		t.Error("failure carries no message")
	}
}

func TestCoordinatorDeviceFaultNotifiesAndDisconnects(t *testing.T) {
	server, _ := newTestBackend(t)
	port := &fakePort{}
	c := newTestCoordinator(t, server.URL, port)

	notifications, cancel := c.Subscribe(64)
	defer cancel()

	if err := c.ConnectDevice("pad"); err != nil {
		t.Fatalf("ConnectDevice: %v", err)
	}

	port.mu.Lock()
	port.err = errors.New("device unplugged")
	port.mu.Unlock()

	n := awaitNotification(t, notifications, model.NotifyDeviceError)
	if n.Message == "" {
		t.Error("device error carries no message")
	}
}

func TestCoordinatorPersistsAndReloadsMappings(t *testing.T) {
	server, _ := newTestBackend(t)
	path := filepath.Join(t.TempDir(), "mappings.json")

	gateway := api.NewGateway(model.APIConfig{BaseURL: server.URL, Timeout: time.Second}, zap.NewNop())
	c := New(Options{
		Log:          zap.NewNop(),
		Opener:       &fakeOpener{port: &fakePort{}},
		Gateway:      gateway,
		Store:        mapping.NewStore(),
		MappingsPath: path,
	})

	key := model.TriggerKey{Kind: model.SignalControlChange, Channel: 1, Index: 7}
	c.AddMapping(key, model.RequestTemplate{Endpoint: "/volume", Method: "PUT"})
	c.Stop()

	c2 := New(Options{
		Log:          zap.NewNop(),
		Opener:       &fakeOpener{port: &fakePort{}},
		Gateway:      gateway,
		Store:        mapping.NewStore(),
		MappingsPath: path,
	})
	defer c2.Stop()

	if err := c2.LoadMappings(); err != nil {
		t.Fatalf("LoadMappings: %v", err)
	}
	all := c2.Mappings()
	if len(all) != 1 || all[0].Key != key || all[0].Template.Endpoint != "/volume" {
		t.Errorf("reloaded mappings = %+v", all)
	}
}

func TestCoordinatorSetAPIConfigProbes(t *testing.T) {
	server, _ := newTestBackend(t)
	c := newTestCoordinator(t, server.URL, &fakePort{})

	notifications, cancel := c.Subscribe(64)
	defer cancel()

	c.SetAPIConfig(model.APIConfig{BaseURL: server.URL, APIKey: "secret", ClientID: "studio-1"})

	n := awaitNotification(t, notifications, model.NotifyAPIStatus)
	if !n.Success {
		t.Errorf("probe against healthy backend reported failure: %s", n.Message)
	}
}
