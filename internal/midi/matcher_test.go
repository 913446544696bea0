package midi

import (
	"testing"

	"github.com/foundrymidi/bridge/model"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		ev      model.MidiEvent
		want    model.TriggerKey
		wantOK  bool
	}{
		{
			name:   "note on with velocity",
			ev:     model.MidiEvent{Type: model.MessageNoteOn, Channel: 0, Data1: 60, Data2: 100},
			want:   model.TriggerKey{Kind: model.SignalNoteOn, Channel: 0, Index: 60},
			wantOK: true,
		},
		{
			name:   "note on with zero velocity is note off",
			ev:     model.MidiEvent{Type: model.MessageNoteOn, Channel: 0, Data1: 60, Data2: 0},
			want:   model.TriggerKey{Kind: model.SignalNoteOff, Channel: 0, Index: 60},
			wantOK: true,
		},
		{
			name:   "note off",
			ev:     model.MidiEvent{Type: model.MessageNoteOff, Channel: 9, Data1: 36, Data2: 64},
			want:   model.TriggerKey{Kind: model.SignalNoteOff, Channel: 9, Index: 36},
			wantOK: true,
		},
		{
			name:   "control change",
			ev:     model.MidiEvent{Type: model.MessageControlChange, Channel: 2, Data1: 7, Data2: 127},
			want:   model.TriggerKey{Kind: model.SignalControlChange, Channel: 2, Index: 7},
			wantOK: true,
		},
		{
			name:   "program change does not match",
			ev:     model.MidiEvent{Type: model.MessageProgramChange, Channel: 0, Data1: 5},
			wantOK: false,
		},
		{
			name:   "other does not match",
			ev:     model.MidiEvent{Type: model.MessageOther},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(tt.ev)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("key = %+v, want %+v", got, tt.want)
			}
		})
	}
}
