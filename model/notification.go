package model

import "time"

// NotificationKind identifies the kind of asynchronous notification the
// coordinator emits toward UI subscribers.
type NotificationKind string

const (
	// NotifyDevicesChanged carries the refreshed MIDI input device list.
	NotifyDevicesChanged NotificationKind = "devices_changed"
	// NotifyAPIStatus reports connectivity probe outcomes and configuration
	// changes against the remote API.
	NotifyAPIStatus NotificationKind = "api_status"
	// NotifyDispatchResult reports the terminal outcome of one dispatched
	// request.
	NotifyDispatchResult NotificationKind = "dispatch_result"
	// NotifyMidiEvent carries a raw MIDI event, for live monitoring.
	NotifyMidiEvent NotificationKind = "midi_event"
	// NotifyLearnCaptured reports the trigger key captured by a one-shot
	// MIDI learn.
	NotifyLearnCaptured NotificationKind = "learn_captured"
	// NotifyDeviceError reports a MIDI port fault; the device is marked
	// disconnected.
	NotifyDeviceError NotificationKind = "device_error"
)

// Notification is a fire-and-forget status update. The pipeline never blocks
// publishing one; subscribers that cannot keep up miss notifications rather
// than slow down dispatch.
type Notification struct {
	Kind NotificationKind `json:"kind"`
	Time time.Time        `json:"time"`

	// ID correlates dispatch_result notifications with log lines.
	ID string `json:"id,omitempty"`

	Devices  []string   `json:"devices,omitempty"`
	Success  bool       `json:"success,omitempty"`
	Message  string     `json:"message,omitempty"`
	Endpoint string     `json:"endpoint,omitempty"`
	Event    *MidiEvent `json:"event,omitempty"`
	Key      string     `json:"key,omitempty"`
	Result   *APIResult `json:"result,omitempty"`
}
