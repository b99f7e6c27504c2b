// Package bus drives single transmissions over a Maple Bus line.  It writes a
// packet, optionally waits for the response and reports the outcome.  It never
// blocks, the state machine is advanced by polling ProcessEvents.
package bus

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/phy"
)

// Clock returns a monotonic time in microseconds.
type Clock func() uint64

// Phase of the bus state machine.
type Phase uint8

const (
	Idle Phase = iota
	WriteInProgress
	WriteComplete
	WriteFailed
	ReadArmed // waiting for the response to start
	ReadInProgress
	ReadComplete
	ReadFailed
)

var phaseNames = [...]string{
	"Idle",
	"WriteInProgress",
	"WriteComplete",
	"WriteFailed",
	"ReadArmed",
	"ReadInProgress",
	"ReadComplete",
	"ReadFailed",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// Reason describes why a transmission failed.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonTimeout
	ReasonContention
	ReasonCRCInvalid
	ReasonFramingInvalid
	ReasonOverflow
)

var reasonNames = [...]string{
	"none",
	"timeout",
	"contention",
	"crc invalid",
	"framing invalid",
	"overflow",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// Status is returned by ProcessEvents.  Packet is only set with ReadComplete.
type Status struct {
	Phase  Phase
	Packet *maplebus.Packet
	Reason Reason
}

// Timing configures the timeout budgets of the state machine.
type Timing struct {
	NsPerBit           uint32 // nominal bit period of writes
	WriteSlackPercent  uint32 // added to the nominal write duration
	ReadFrameTimeoutUs uint32 // from start sequence to end sequence of a response
}

// DefaultTiming fits the timing of first-party peripherals.
func DefaultTiming() Timing {
	return Timing{
		NsPerBit:           maplebus.NsPerBit,
		WriteSlackPercent:  20,
		ReadFrameTimeoutUs: (maplebus.RxDurationNs(maplebus.MaxPayload)*120/100 + 999) / 1000,
	}
}

// Bus is the state machine of one port.  It's not safe for concurrent use.
type Bus struct {
	line   phy.Line
	addr   maplebus.Address
	timing Timing
	clock  Clock
	log    *slog.Logger

	phase          Phase
	expectResponse bool
	readTimeoutUs  uint32
	deadlineUs     uint64
}

// New returns the state machine for the port of the given player.
func New(line phy.Line, player uint8, timing Timing, clock Clock) *Bus {
	return &Bus{
		line:   line,
		addr:   maplebus.HostAddress(player),
		timing: timing,
		clock:  clock,
		log:    debug.Logger(debug.ComponentBus).With("player", player),
	}
}

// Address returns the host address used as sender of all packets.
func (b *Bus) Address() maplebus.Address {
	return b.addr
}

// Busy reports whether a transmission is in progress.
func (b *Bus) Busy() bool {
	return b.phase != Idle
}

// Write starts the transmission of p.  It is rejected if a transmission is
// already in progress, the line isn't open or p isn't valid.  The sender of p
// is replaced with the bus' own address.
func (b *Bus) Write(p maplebus.Packet, expectResponse bool, readTimeoutUs uint32) bool {
	if b.phase != Idle || !p.Valid() || !b.line.Open() {
		return false
	}

	frame := maplebus.Encode(p.WithSender(b.addr))
	if err := b.line.Transmit(frame); err != nil {
		b.log.Debug("transmit rejected", "err", err)
		return false
	}

	writeNs := uint64(len(frame)*8)*uint64(b.timing.NsPerBit) + maplebus.SequenceNs
	writeNs = writeNs * uint64(100+b.timing.WriteSlackPercent) / 100

	b.phase = WriteInProgress
	b.expectResponse = expectResponse
	b.readTimeoutUs = readTimeoutUs
	b.deadlineUs = b.clock() + (writeNs+999)/1000
	return true
}

// ProcessEvents advances the state machine.  Complete and failed phases are
// reported exactly once, the bus is idle again afterwards.
func (b *Bus) ProcessEvents(nowUs uint64) Status {
	switch b.phase {
	case WriteInProgress:
		done, err := b.line.Transmitted()
		switch {
		case err != nil:
			reason := ReasonTimeout
			if errors.Is(err, phy.ErrContention) {
				reason = ReasonContention
			}
			return b.fail(WriteFailed, reason)
		case done && b.expectResponse:
			b.line.Listen()
			b.phase = ReadArmed
			b.deadlineUs = nowUs + uint64(b.readTimeoutUs)
		case done:
			b.finish()
			return Status{Phase: WriteComplete}
		case nowUs > b.deadlineUs:
			return b.fail(WriteFailed, ReasonTimeout)
		}

	case ReadArmed:
		r := b.line.Receive()
		if !r.Started {
			if nowUs > b.deadlineUs {
				return b.fail(ReadFailed, ReasonTimeout)
			}
			break
		}
		b.phase = ReadInProgress
		b.deadlineUs = nowUs + uint64(b.timing.ReadFrameTimeoutUs)
		return b.read(nowUs, r)

	case ReadInProgress:
		return b.read(nowUs, b.line.Receive())
	}

	return Status{Phase: b.phase}
}

func (b *Bus) read(nowUs uint64, r phy.Reception) Status {
	switch {
	case r.Overflow:
		return b.fail(ReadFailed, ReasonOverflow)
	case r.Done:
		if !r.StartOK || !r.EndOK {
			return b.fail(ReadFailed, ReasonFramingInvalid)
		}
		p, err := maplebus.Decode(r.Data)
		if errors.Is(err, maplebus.ErrChecksum) {
			return b.fail(ReadFailed, ReasonCRCInvalid)
		} else if err != nil {
			return b.fail(ReadFailed, ReasonFramingInvalid)
		}
		b.finish()
		return Status{Phase: ReadComplete, Packet: &p}
	case nowUs > b.deadlineUs:
		return b.fail(ReadFailed, ReasonTimeout)
	}
	return Status{Phase: b.phase}
}

func (b *Bus) fail(phase Phase, reason Reason) Status {
	b.log.Debug("transmission failed", "phase", phase, "reason", reason)
	b.finish()
	return Status{Phase: phase, Reason: reason}
}

func (b *Bus) finish() {
	b.line.Release()
	b.phase = Idle
}
