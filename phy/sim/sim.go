// Package sim simulates a Maple Bus port with peripherals attached.  It's used
// for tests and to run the driver without hardware.
package sim

import (
	"sync"

	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/phy"
)

// Device answers packets sent on the line.
type Device interface {
	// Handle returns the response to p, or nil if there is none.
	Handle(p maplebus.Packet) *maplebus.Packet
}

// Faults that can be injected into a Line.
type Faults struct {
	Closed     bool // line is never open
	Contention bool // transmissions abort with phy.ErrContention
	Stall      bool // transmissions never finish
	Corrupt    int  // number of following responses with a flipped bit
	BadFraming int  // number of following responses with a broken end sequence
	Overflow   int  // number of following responses overflowing the buffer
}

// Line is an in-memory phy.Line.  Transmissions finish and responses arrive
// instantly.
type Line struct {
	mu        sync.Mutex
	device    Device
	faults    Faults
	sent      []maplebus.Packet
	pending   []byte
	response  []byte
	reception *phy.Reception
	listening bool
	busy      bool
}

var _ phy.Line = (*Line)(nil)

func NewLine() *Line {
	return &Line{}
}

// Attach connects d to the line, replacing the previous device.  A nil d
// unplugs it.
func (l *Line) Attach(d Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.device = d
}

// Inject sets the faults of the line.
func (l *Line) Inject(f Faults) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = f
}

// Sent returns all packets received from the host so far and clears the log.
func (l *Line) Sent() []maplebus.Packet {
	l.mu.Lock()
	defer l.mu.Unlock()
	sent := l.sent
	l.sent = nil
	return sent
}

func (l *Line) Open() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.faults.Closed && !l.busy
}

func (l *Line) Transmit(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.faults.Closed {
		return phy.ErrNotOpen
	}
	if l.busy {
		return phy.ErrBusy
	}
	l.busy = true
	l.response = nil
	l.pending = nil

	p, err := maplebus.Decode(frame)
	if err != nil {
		return nil
	}
	l.sent = append(l.sent, p)
	if l.device == nil {
		return nil
	}
	if resp := l.device.Handle(p); resp != nil {
		l.pending = maplebus.Encode(*resp)
	}
	return nil
}

func (l *Line) Transmitted() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.faults.Contention:
		return false, phy.ErrContention
	case l.faults.Stall:
		return false, nil
	}
	return true, nil
}

func (l *Line) Listen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listening = true
	l.response, l.pending = l.pending, nil
}

func (l *Line) Receive() phy.Reception {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.listening || l.response == nil {
		return phy.Reception{}
	}
	if l.reception != nil {
		return *l.reception
	}

	r := phy.Reception{Started: true, Done: true, StartOK: true, EndOK: true}
	r.Data = append([]byte(nil), l.response...)
	switch {
	case l.faults.Overflow > 0:
		l.faults.Overflow--
		r.Overflow = true
	case l.faults.BadFraming > 0:
		l.faults.BadFraming--
		r.EndOK = false
	case l.faults.Corrupt > 0:
		l.faults.Corrupt--
		r.Data[len(r.Data)/2] ^= 0x10
	}
	l.reception = &r
	return r
}

func (l *Line) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.busy = false
	l.listening = false
	l.pending = nil
	l.response = nil
	l.reception = nil
}
