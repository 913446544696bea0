package midi

import "github.com/foundrymidi/bridge/model"

// Match converts a raw MIDI event into its canonical trigger key. Per MIDI
// convention a note_on with velocity zero is a note_off, so both produce the
// same key. Message types outside the matchable set report false and the
// event goes no further.
func Match(ev model.MidiEvent) (model.TriggerKey, bool) {
	switch ev.Type {
	case model.MessageNoteOn:
		kind := model.SignalNoteOn
		if ev.Data2 == 0 {
			kind = model.SignalNoteOff
		}
		return model.TriggerKey{Kind: kind, Channel: ev.Channel, Index: ev.Data1}, true
	case model.MessageNoteOff:
		return model.TriggerKey{Kind: model.SignalNoteOff, Channel: ev.Channel, Index: ev.Data1}, true
	case model.MessageControlChange:
		return model.TriggerKey{Kind: model.SignalControlChange, Channel: ev.Channel, Index: ev.Data1}, true
	}
	return model.TriggerKey{}, false
}
