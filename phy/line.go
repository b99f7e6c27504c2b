// Package phy defines the boundary to the physical layer of a Maple Bus port.
// Implementations toggle the two data lines, either directly or through a
// bridge, and must never block.
package phy

import "errors"

var (
	ErrNotOpen    = errors.New("line not open")
	ErrContention = errors.New("line contention")
	ErrBusy       = errors.New("transmit in progress")
)

// Line is one Maple Bus port.  All methods are polled by the bus state machine
// and must return immediately.
type Line interface {
	// Open reports whether both data lines are idle, i.e. nobody else is
	// driving them.
	Open() bool

	// Transmit starts clocking out frame, bracketed by the start and end
	// sequences.
	Transmit(frame []byte) error

	// Transmitted reports whether the last Transmit has finished.  A
	// non-nil error indicates the transmission was aborted.
	Transmitted() (done bool, err error)

	// Listen switches the line to receive mode for the response to the
	// last transmission.  Data received before that transmission is
	// discarded.
	Listen()

	// Receive returns the progress of the current reception.
	Receive() Reception

	// Release stops any transmission or reception and leaves the lines
	// floating.
	Release()
}

// Reception is the state of a frame being received.
type Reception struct {
	Started  bool // start sequence was detected
	Done     bool // end sequence was detected
	StartOK  bool // start sequence had the expected shape
	EndOK    bool // end sequence had the expected shape
	Overflow bool // more data than the receive buffer can hold
	Data     []byte
}
