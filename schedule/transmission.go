// Package schedule orders the transmissions of a single bus by time and
// priority.
//
// Transmissions are kept in one sequence ordered by their next time, then by
// priority, then by the order they were added.  A transmission never overtakes
// a pending transmission to the same recipient, so each peripheral sees its
// commands in the order they were scheduled.  The next run of a repeating
// transmission only holds back transmissions due after it.
package schedule

import (
	"github.com/clktmr/maple/maplebus"
)

// Handle is an opaque reference to a Transmitter, resolved through a
// registry when a transmission completes.
type Handle uint32

// NoTransmitter is a Handle that never resolves.
const NoTransmitter Handle = 0

// Transmitter receives the outcome of its transmissions.
type Transmitter interface {
	// TxStarted is called when the transmission was handed to the bus.
	TxStarted(tx *Transmission)

	// TxFailed is called when writing the packet or reading the response
	// failed.
	TxFailed(writeFailed, readFailed bool, tx *Transmission)

	// TxComplete is called when the transmission has finished.  packet is
	// the response, or nil if none was expected.
	TxComplete(packet *maplebus.Packet, tx *Transmission)
}

// Priorities used by the peripheral functions.  Lower values are more
// important.
const (
	PriorityController uint8 = iota
	PriorityDiscovery
	PriorityScreen
	PriorityStorage
	PriorityLowest
)

// DefaultReadTimeoutUs is the time a peripheral may take to start its
// response.
const DefaultReadTimeoutUs = 1000

// Transmission is a single scheduled packet.
type Transmission struct {
	ID                    uint32
	Priority              uint8
	ExpectResponse        bool
	ExpectedResponseWords uint8
	ReadTimeoutUs         uint32
	AutoRepeatUs          uint32
	AutoRepeatEndUs       uint64 // 0 repeats forever
	DurationUs            uint32
	NextUs                uint64
	Packet                maplebus.Packet
	Transmitter           Handle
}

// Recipient returns the address the packet is sent to.
func (tx *Transmission) Recipient() maplebus.Address {
	return tx.Packet.Frame.Recipient
}

// Request holds the parameters of a transmission to be added to a Schedule.
type Request struct {
	Priority              uint8
	TimeUs                uint64
	Packet                maplebus.Packet
	ExpectResponse        bool
	ExpectedResponseWords uint8
	AutoRepeatUs          uint32
	AutoRepeatEndUs       uint64
	ReadTimeoutUs         uint32 // 0 selects DefaultReadTimeoutUs
	Transmitter           Handle
}

func newTransmission(id uint32, r *Request) *Transmission {
	timeout := r.ReadTimeoutUs
	if timeout == 0 {
		timeout = DefaultReadTimeoutUs
	}
	duration := maplebus.DurationUs(len(r.Packet.Payload), r.ExpectResponse, int(r.ExpectedResponseWords))
	return &Transmission{
		ID:                    id,
		Priority:              r.Priority,
		ExpectResponse:        r.ExpectResponse,
		ExpectedResponseWords: r.ExpectedResponseWords,
		ReadTimeoutUs:         timeout,
		AutoRepeatUs:          r.AutoRepeatUs,
		AutoRepeatEndUs:       r.AutoRepeatEndUs,
		DurationUs:            duration,
		NextUs:                r.TimeUs,
		Packet:                r.Packet,
		Transmitter:           r.Transmitter,
	}
}
