// Package model holds the domain types shared across the bridge: MIDI
// events and trigger keys, request templates, endpoint descriptors, and the
// error envelope.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignalKind identifies the class of MIDI signal a trigger matches on.
type SignalKind string

const (
	SignalNoteOn        SignalKind = "note_on"
	SignalNoteOff       SignalKind = "note_off"
	SignalControlChange SignalKind = "control_change"
)

// Valid reports whether the kind is one of the matchable signal kinds.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalNoteOn, SignalNoteOff, SignalControlChange:
		return true
	}
	return false
}

// TriggerKey is the canonical identity of a matchable MIDI signal. Channel
// is 0-15 and Index is the note or controller number, 0-127.
type TriggerKey struct {
	Kind    SignalKind `json:"kind"`
	Channel uint8      `json:"channel"`
	Index   uint8      `json:"index"`
}

// String renders the key in the persisted form "<kind>:<channel>:<index>".
// Every distinct key has a distinct string form.
func (k TriggerKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.Kind, k.Channel, k.Index)
}

// ParseTriggerKey parses the "<kind>:<channel>:<index>" form back into a
// TriggerKey. It is the exact inverse of String.
func ParseTriggerKey(s string) (TriggerKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return TriggerKey{}, fmt.Errorf("trigger key %q: want <kind>:<channel>:<index>", s)
	}
	kind := SignalKind(parts[0])
	if !kind.Valid() {
		return TriggerKey{}, fmt.Errorf("trigger key %q: unknown signal kind %q", s, parts[0])
	}
	channel, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || channel > 15 {
		return TriggerKey{}, fmt.Errorf("trigger key %q: channel must be 0-15", s)
	}
	index, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil || index > 127 {
		return TriggerKey{}, fmt.Errorf("trigger key %q: index must be 0-127", s)
	}
	return TriggerKey{Kind: kind, Channel: uint8(channel), Index: uint8(index)}, nil
}

// MessageType is the raw MIDI message kind as it arrives from the port,
// before any trigger normalization.
type MessageType string

const (
	MessageNoteOn        MessageType = "note_on"
	MessageNoteOff       MessageType = "note_off"
	MessageControlChange MessageType = "control_change"
	MessageProgramChange MessageType = "program_change"
	MessageOther         MessageType = "other"
)

// MidiEvent is a normalized raw hardware event. Data1 carries the note or
// controller number, Data2 the velocity or controller value. Events are
// transient; they live only for the duration of a dispatch.
type MidiEvent struct {
	Type    MessageType `json:"type"`
	Channel uint8       `json:"channel"` // 0-15
	Data1   uint8       `json:"data1"`   // note / CC number
	Data2   uint8       `json:"data2"`   // velocity / CC value
	Time    time.Time   `json:"time"`
}

// Edge reports whether the event is a discrete press/release edge
// (note on/off). Edges are never coalesced by debouncing: dropping one
// would leave a later note_off with no matching note_on, or vice versa.
func (e MidiEvent) Edge() bool {
	return e.Type == MessageNoteOn || e.Type == MessageNoteOff
}
