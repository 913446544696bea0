package midi

import (
	"time"

	"github.com/foundrymidi/bridge/model"
)

// debounceKey is the distinct-signal identity the window applies to.
type debounceKey struct {
	typ     model.MessageType
	channel uint8
	data1   uint8
}

// debouncer implements a sliding per-signal window: a repeated non-edge
// message within the window after the last accepted occurrence is dropped.
// Note on/off edges always pass through; coalescing one would desynchronize
// a later release from its press. This is a per-key debounce, not a global
// rate limit.
//
// The debouncer is private to the intake goroutine and needs no locking.
type debouncer struct {
	window time.Duration
	last   map[debounceKey]time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		last:   make(map[debounceKey]time.Time),
	}
}

// Allow reports whether the event passes the window, and records its
// timestamp when it does.
func (d *debouncer) Allow(ev model.MidiEvent) bool {
	if d.window <= 0 || ev.Edge() {
		return true
	}

	k := debounceKey{typ: ev.Type, channel: ev.Channel, data1: ev.Data1}
	if last, ok := d.last[k]; ok && ev.Time.Sub(last) < d.window {
		return false
	}
	d.last[k] = ev.Time
	return true
}
