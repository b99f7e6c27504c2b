package maplebus

import (
	"fmt"
	"math/bits"
)

// Address is the recipient or sender byte of a frame word.  The upper two bits
// select the player (port), the lower six bits are the node address mask.
type Address uint8

const (
	// HostMask addresses the console side of the bus.
	HostMask uint8 = 0x00
	// MainMask addresses the peripheral plugged directly into the port.
	MainMask uint8 = 0x20

	playerShift       = 6
	maskBits    uint8 = 0x3f
	subBits     uint8 = 0x1f
)

// SubCount is the number of sub peripheral slots behind a main peripheral.
const SubCount = 5

// SubMasks holds the address masks of all sub peripheral slots.
var SubMasks = [SubCount]uint8{0x01, 0x02, 0x04, 0x08, 0x10}

// NewAddress combines player index and node mask to an address.
func NewAddress(player uint8, mask uint8) Address {
	return Address(player<<playerShift | mask&maskBits)
}

// HostAddress returns the host's own address on the given player's bus.
func HostAddress(player uint8) Address {
	return NewAddress(player, HostMask)
}

func (a Address) Player() uint8 {
	return uint8(a) >> playerShift
}

func (a Address) Mask() uint8 {
	return uint8(a) & maskBits
}

// IsMain reports whether a addresses a main peripheral.
func (a Address) IsMain() bool {
	return a.Mask()&MainMask != 0
}

// SubPresence returns the sub peripheral bits of a.  A main peripheral sets
// the bit of each occupied slot in the sender address of its responses.
func (a Address) SubPresence() uint8 {
	return a.Mask() & subBits
}

// SubIndex returns the slot index of a sub peripheral address, or -1 if a
// doesn't address exactly one sub peripheral.
func (a Address) SubIndex() int {
	m := a.SubPresence()
	if a.IsMain() || bits.OnesCount8(m) != 1 {
		return -1
	}
	return bits.TrailingZeros8(m)
}

func (a Address) String() string {
	return fmt.Sprintf("%d:%#02x", a.Player(), a.Mask())
}
