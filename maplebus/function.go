package maplebus

import (
	"math/bits"
	"strings"
)

// FunctionCode identifies the capabilities of a peripheral.  A device info
// response carries a mask of all supported functions.
type FunctionCode uint32

const (
	FuncController FunctionCode = 1 << iota
	FuncStorage
	FuncScreen
	FuncTimer
	FuncAudioInput
	FuncARGun
	FuncKeyboard
	FuncGun
	FuncVibration
	FuncMouse
)

// MaxFunctions is the maximum number of functions a single peripheral can
// expose, limited by the function definition words of the device info.
const MaxFunctions = 3

var functionNames = [...]string{
	"Controller",
	"Storage",
	"Screen",
	"Timer",
	"AudioInput",
	"ARGun",
	"Keyboard",
	"Gun",
	"Vibration",
	"Mouse",
}

func (f FunctionCode) String() string {
	var sb strings.Builder
	for i, v := range functionNames {
		if f&(1<<i) != 0 {
			if sb.Len() != 0 {
				sb.WriteString(" + ")
			}
			sb.WriteString(v)
		}
	}
	if rest := f &^ (1<<len(functionNames) - 1); rest != 0 {
		if sb.Len() != 0 {
			sb.WriteString(" + ")
		}
		sb.WriteString("Unknown")
	}
	return sb.String()
}

// Each calls fn for every set bit in f, from the most significant to the
// least significant function bit.  This is the order in which the function
// definition words of a device info response are laid out.
func (f FunctionCode) Each(fn func(FunctionCode)) {
	for f != 0 {
		top := FunctionCode(1) << (31 - bits.LeadingZeros32(uint32(f)))
		fn(top)
		f &^= top
	}
}

// Location addresses a block of a storage or screen function.
type Location uint32

func NewLocation(partition, phase uint8, block uint16) Location {
	return Location(uint32(partition)<<24 | uint32(phase)<<16 | uint32(block))
}

func (l Location) Partition() uint8 { return uint8(l >> 24) }
func (l Location) Phase() uint8     { return uint8(l >> 16) }
func (l Location) Block() uint16    { return uint16(l) }
