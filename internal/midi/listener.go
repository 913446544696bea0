package midi

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/foundrymidi/bridge/internal/observability"
	"github.com/foundrymidi/bridge/model"
)

const (
	defaultPollInterval   = time.Millisecond
	defaultDebounceWindow = 100 * time.Millisecond
	defaultEventBuffer    = 128

	// disconnectJoinTimeout bounds the wait for the intake goroutine. The
	// loop never blocks longer than one poll cycle, so hitting this means
	// something is badly wrong; the port is released regardless.
	disconnectJoinTimeout = 2 * time.Second
)

// Option configures a Listener.
type Option func(*Listener)

// WithPollInterval sets the port drain cycle.
func WithPollInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithDebounceWindow sets the sliding debounce window for non-edge signals.
// Zero disables debouncing.
func WithDebounceWindow(d time.Duration) Option {
	return func(l *Listener) { l.debounceWindow = d }
}

// WithEventBuffer sets the capacity of the event channel handed to the
// consumer.
func WithEventBuffer(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.eventBuffer = n
		}
	}
}

// WithErrorHandler sets the side channel for mid-stream port faults. The
// handler is called at most once per connection, from the intake goroutine.
func WithErrorHandler(fn func(error)) Option {
	return func(l *Listener) { l.onError = fn }
}

// WithMetrics attaches intake counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// connection is the state of one open port: the intake goroutine, its stop
// signal, and the event channel it feeds. A fresh connection is built for
// every Connect so a reconnect can never deliver events from the old port.
type connection struct {
	port   Port
	device string
	events chan model.MidiEvent
	stop   chan struct{}
	done   chan struct{}
}

// Listener owns the MIDI input lifecycle. It is a strict two-state machine:
// disconnected ⇄ connected. Connecting while connected tears the previous
// connection down completely first; two intake goroutines never touch a port
// at the same time.
//
// Connect and Disconnect must be called from a single goroutine (the
// coordinator owns the lifecycle).
type Listener struct {
	opener  Opener
	log     *zap.Logger
	metrics *observability.Metrics
	onError func(error)

	pollInterval   time.Duration
	debounceWindow time.Duration
	eventBuffer    int

	conn *connection
}

// NewListener creates a disconnected listener.
func NewListener(opener Opener, log *zap.Logger, opts ...Option) *Listener {
	l := &Listener{
		opener:         opener,
		log:            log,
		pollInterval:   defaultPollInterval,
		debounceWindow: defaultDebounceWindow,
		eventBuffer:    defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Devices lists the available MIDI input port names.
func (l *Listener) Devices() ([]string, error) {
	return l.opener.Devices()
}

// Device returns the connected device name, or "" when disconnected.
func (l *Listener) Device() string {
	if l.conn == nil {
		return ""
	}
	return l.conn.device
}

// Connect opens the named port and starts the intake goroutine. The returned
// channel carries the port's events until Disconnect; it is closed when the
// connection ends, whether by Disconnect or by a port fault.
func (l *Listener) Connect(name string) (<-chan model.MidiEvent, error) {
	if l.conn != nil {
		l.Disconnect()
	}

	port, err := l.opener.Open(name)
	if err != nil {
		return nil, model.NewDeviceError(fmt.Sprintf("open %q: %v", name, err))
	}

	conn := &connection{
		port:   port,
		device: name,
		events: make(chan model.MidiEvent, l.eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.conn = conn
	go l.intake(conn)

	l.log.Info("midi device connected", zap.String("device", name))
	return conn.events, nil
}

// Disconnect signals the intake goroutine to stop, waits for it, releases
// the port, and discards any events still buffered. After Disconnect returns
// the old event channel only reports closed; no event from the old device is
// delivered past this point.
func (l *Listener) Disconnect() {
	conn := l.conn
	if conn == nil {
		return
	}
	l.conn = nil

	close(conn.stop)
	select {
	case <-conn.done:
	case <-time.After(disconnectJoinTimeout):
		l.log.Warn("midi intake goroutine did not stop in time", zap.String("device", conn.device))
	}
	_ = conn.port.Close()

	// The intake goroutine has exited and closed the channel; drain whatever
	// it had already buffered.
	for range conn.events {
	}

	l.log.Info("midi device disconnected", zap.String("device", conn.device))
}

// intake is the polling loop. It drains the port every poll cycle, applies
// the debounce window, and forwards accepted events. It is the only sender
// on conn.events and closes it on exit.
func (l *Listener) intake(conn *connection) {
	defer close(conn.done)
	defer close(conn.events)

	deb := newDebouncer(l.debounceWindow)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.stop:
			return
		case <-ticker.C:
			pending, err := conn.port.Pending()
			for _, ev := range pending {
				if l.metrics != nil {
					l.metrics.EventsReceivedTotal.WithLabelValues(string(ev.Type)).Inc()
				}
				if !deb.Allow(ev) {
					if l.metrics != nil {
						l.metrics.EventsDebouncedTotal.WithLabelValues(string(ev.Type)).Inc()
					}
					l.log.Debug("midi event debounced",
						zap.String("type", string(ev.Type)),
						zap.Uint8("channel", ev.Channel),
						zap.Uint8("data1", ev.Data1),
					)
					continue
				}
				select {
				case conn.events <- ev:
				default:
					l.log.Warn("midi event buffer full, dropping event",
						zap.String("type", string(ev.Type)))
				}
			}
			if err != nil {
				// Fault: report once, release the port, terminate. The
				// dispatch path never sees this error.
				l.log.Error("midi port fault", zap.String("device", conn.device), zap.Error(err))
				if l.onError != nil {
					l.onError(model.NewDeviceError(err.Error()))
				}
				_ = conn.port.Close()
				return
			}
		}
	}
}
