package midi

import (
	"fmt"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/foundrymidi/bridge/model"
)

// portBufferCap bounds how many events a port buffers between drains. At the
// 1ms default poll interval this is far more headroom than any controller
// produces; when it overflows, newest events are dropped.
const portBufferCap = 1024

// RTOpener opens MIDI input ports through the rtmidi driver.
type RTOpener struct {
	drv *rtmididrv.Driver
}

// NewRTOpener initializes the rtmidi driver. Call Close when done.
func NewRTOpener() (*RTOpener, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midi: rtmididrv: %w", err)
	}
	return &RTOpener{drv: drv}, nil
}

// Devices lists the available input port names.
func (o *RTOpener) Devices() ([]string, error) {
	ins, err := o.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("midi: listing inputs: %w", err)
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names, nil
}

// Open opens the named input port. Exact name match is preferred; a
// substring match is accepted because OS drivers decorate port names with
// indexes that vary across reconnects.
func (o *RTOpener) Open(name string) (Port, error) {
	ins, err := o.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("midi: listing inputs: %w", err)
	}

	var in drivers.In
	for _, p := range ins {
		if p.String() == name {
			in = p
			break
		}
	}
	if in == nil {
		for _, p := range ins {
			if strings.Contains(p.String(), name) {
				in = p
				break
			}
		}
	}
	if in == nil {
		return nil, fmt.Errorf("midi: input %q not found", name)
	}

	if err := in.Open(); err != nil {
		return nil, fmt.Errorf("midi: opening %q: %w", name, err)
	}

	p := &rtPort{in: in}
	stop, err := gomidi.ListenTo(in, p.onMessage, gomidi.HandleError(p.onError))
	if err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("midi: listening on %q: %w", name, err)
	}
	p.stop = stop
	return p, nil
}

// Close shuts down the rtmidi driver.
func (o *RTOpener) Close() error {
	return o.drv.Close()
}

// rtPort buffers callback-delivered events so the listener can drain them on
// its own polling cadence.
type rtPort struct {
	in   drivers.In
	stop func()
	once sync.Once

	mu  sync.Mutex
	buf []model.MidiEvent
	err error
}

func (p *rtPort) onMessage(msg gomidi.Message, _ int32) {
	var ch, d1, d2 uint8

	ev := model.MidiEvent{Time: time.Now()}
	switch {
	case msg.GetNoteStart(&ch, &d1, &d2):
		ev.Type = model.MessageNoteOn
	case msg.GetNoteEnd(&ch, &d1):
		ev.Type = model.MessageNoteOff
		d2 = 0
	case msg.GetControlChange(&ch, &d1, &d2):
		ev.Type = model.MessageControlChange
	case msg.GetProgramChange(&ch, &d1):
		ev.Type = model.MessageProgramChange
		d2 = 0
	default:
		return
	}
	ev.Channel, ev.Data1, ev.Data2 = ch, d1, d2

	p.mu.Lock()
	if len(p.buf) < portBufferCap {
		p.buf = append(p.buf, ev)
	}
	p.mu.Unlock()
}

func (p *rtPort) onError(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// Pending drains the buffered events. A recorded driver fault is returned
// after any events that preceded it.
func (p *rtPort) Pending() ([]model.MidiEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) == 0 {
		return nil, p.err
	}
	out := p.buf
	p.buf = nil
	return out, nil
}

// Close stops the message listener and releases the port. Safe to call more
// than once.
func (p *rtPort) Close() error {
	var err error
	p.once.Do(func() {
		if p.stop != nil {
			p.stop()
		}
		err = p.in.Close()
	})
	return err
}
