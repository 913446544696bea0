package midi

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/foundrymidi/bridge/model"
)

type fakePort struct {
	mu     sync.Mutex
	queue  []model.MidiEvent
	err    error
	closed bool
}

func (p *fakePort) push(evs ...model.MidiEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, evs...)
}

func (p *fakePort) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePort) Pending() ([]model.MidiEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.queue
	p.queue = nil
	return out, p.err
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeOpener struct {
	devices []string
	ports   map[string]*fakePort
}

func (o *fakeOpener) Devices() ([]string, error) {
	return o.devices, nil
}

func (o *fakeOpener) Open(name string) (Port, error) {
	port, ok := o.ports[name]
	if !ok {
		return nil, errors.New("no such port")
	}
	return port, nil
}

func receiveEvent(t *testing.T, events <-chan model.MidiEvent) model.MidiEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.MidiEvent{}
}

func waitClosed(t *testing.T, events <-chan model.MidiEvent) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestListenerDeliversEvents(t *testing.T) {
	port := &fakePort{}
	opener := &fakeOpener{devices: []string{"Launchpad"}, ports: map[string]*fakePort{"Launchpad": port}}
	l := NewListener(opener, zap.NewNop(), WithDebounceWindow(0))

	events, err := l.Connect("Launchpad")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer l.Disconnect()

	want := model.MidiEvent{Type: model.MessageNoteOn, Channel: 0, Data1: 60, Data2: 100, Time: time.Now()}
	port.push(want)

	got := receiveEvent(t, events)
	if got.Type != want.Type || got.Data1 != want.Data1 || got.Data2 != want.Data2 {
		t.Errorf("event = %+v, want %+v", got, want)
	}
	if l.Device() != "Launchpad" {
		t.Errorf("Device() = %q, want Launchpad", l.Device())
	}
}

func TestListenerConnectUnknownDevice(t *testing.T) {
	opener := &fakeOpener{ports: map[string]*fakePort{}}
	l := NewListener(opener, zap.NewNop())

	_, err := l.Connect("missing")
	if err == nil {
		t.Fatal("Connect succeeded for unknown device")
	}
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrDevice {
		t.Errorf("error = %v, want device error envelope", err)
	}
}

func TestListenerAppliesDebounce(t *testing.T) {
	port := &fakePort{}
	opener := &fakeOpener{ports: map[string]*fakePort{"dev": port}}
	l := NewListener(opener, zap.NewNop(), WithDebounceWindow(100*time.Millisecond))

	events, err := l.Connect("dev")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer l.Disconnect()

	t0 := time.Now()
	port.push(
		model.MidiEvent{Type: model.MessageControlChange, Data1: 7, Data2: 10, Time: t0},
		model.MidiEvent{Type: model.MessageControlChange, Data1: 7, Data2: 11, Time: t0.Add(10 * time.Millisecond)},
		model.MidiEvent{Type: model.MessageControlChange, Data1: 7, Data2: 12, Time: t0.Add(20 * time.Millisecond)},
	)

	got := receiveEvent(t, events)
	if got.Data2 != 10 {
		t.Errorf("first event Data2 = %d, want 10", got.Data2)
	}

	// The coalesced repeats must not arrive.
	select {
	case ev := <-events:
		t.Errorf("debounced event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenerDisconnectClosesChannelAndPort(t *testing.T) {
	port := &fakePort{}
	opener := &fakeOpener{ports: map[string]*fakePort{"dev": port}}
	l := NewListener(opener, zap.NewNop())

	events, err := l.Connect("dev")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	l.Disconnect()

	if _, ok := <-events; ok {
		t.Error("event delivered after Disconnect")
	}
	if !port.isClosed() {
		t.Error("port not closed after Disconnect")
	}
	if l.Device() != "" {
		t.Errorf("Device() = %q after Disconnect, want empty", l.Device())
	}
}

func TestListenerReconnectUsesFreshChannel(t *testing.T) {
	portA := &fakePort{}
	portB := &fakePort{}
	opener := &fakeOpener{ports: map[string]*fakePort{"a": portA, "b": portB}}
	l := NewListener(opener, zap.NewNop(), WithDebounceWindow(0))

	eventsA, err := l.Connect("a")
	if err != nil {
		t.Fatalf("Connect a: %v", err)
	}

	eventsB, err := l.Connect("b")
	if err != nil {
		t.Fatalf("Connect b: %v", err)
	}
	defer l.Disconnect()

	waitClosed(t, eventsA)
	if !portA.isClosed() {
		t.Error("previous port left open after reconnect")
	}

	portB.push(model.MidiEvent{Type: model.MessageNoteOn, Data1: 1, Data2: 1, Time: time.Now()})
	got := receiveEvent(t, eventsB)
	if got.Data1 != 1 {
		t.Errorf("event from new port = %+v", got)
	}
}

func TestListenerPortFaultInvokesErrorHandler(t *testing.T) {
	port := &fakePort{}
	opener := &fakeOpener{ports: map[string]*fakePort{"dev": port}}

	errCh := make(chan error, 1)
	l := NewListener(opener, zap.NewNop(), WithErrorHandler(func(err error) {
		errCh <- err
	}))

	events, err := l.Connect("dev")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	port.fail(errors.New("port unplugged"))

	select {
	case err := <-errCh:
		var envelope *model.ErrorEnvelope
		if !errors.As(err, &envelope) || envelope.Code != model.ErrDevice {
			t.Errorf("handler error = %v, want device error envelope", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error handler not invoked")
	}

	waitClosed(t, events)
	if !port.isClosed() {
		t.Error("port not closed after fault")
	}

	// The listener still thinks it is connected until told otherwise; a
	// subsequent Disconnect must be safe even though intake already exited.
	l.Disconnect()
}
