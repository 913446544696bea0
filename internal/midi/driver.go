// Package midi owns MIDI input: device enumeration, the port connection
// lifecycle, the polling intake loop with per-signal debouncing, and the
// matcher that turns raw events into trigger keys.
package midi

import "github.com/foundrymidi/bridge/model"

// Port is an open MIDI input. Pending drains the events buffered since the
// last call without blocking; it returns an error once the port has faulted
// (unplugged device, driver failure), after which the port is dead.
type Port interface {
	Pending() ([]model.MidiEvent, error)
	Close() error
}

// Opener enumerates input devices and opens ports. The rtmidi implementation
// is the production one; tests substitute a fake.
type Opener interface {
	Devices() ([]string, error)
	Open(name string) (Port, error)
}
