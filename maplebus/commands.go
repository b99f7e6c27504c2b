// Package maplebus contains functions for creating and parsing of Maple Bus
// packets as they are put on the wire.  It doesn't handle the execution of
// packets on the bus.
package maplebus

import "fmt"

// Command is the first byte of a frame word.
type Command uint8

// Maple Bus commands and responses
const (
	CmdInvalid               Command = 0x00
	CmdDeviceInfoRequest     Command = 0x01
	CmdExtDeviceInfoRequest  Command = 0x02
	CmdReset                 Command = 0x03
	CmdShutdown              Command = 0x04
	CmdResponseDeviceInfo    Command = 0x05
	CmdResponseExtDeviceInfo Command = 0x06
	CmdResponseAck           Command = 0x07
	CmdResponseDataXfer      Command = 0x08
	CmdGetCondition          Command = 0x09
	CmdGetMemoryInformation  Command = 0x0a
	CmdBlockRead             Command = 0x0b
	CmdBlockWrite            Command = 0x0c
	CmdBlockCompleteWrite    Command = 0x0d
	CmdSetCondition          Command = 0x0e

	CmdResponseFileError                Command = 0xfb
	CmdResponseSendAgain                Command = 0xfc
	CmdResponseUnknownCommand           Command = 0xfd
	CmdResponseFunctionCodeNotSupported Command = 0xfe
	CmdNoResponse                       Command = 0xff
)

var commandNames = map[Command]string{
	CmdDeviceInfoRequest:                "DeviceInfoRequest",
	CmdExtDeviceInfoRequest:             "ExtDeviceInfoRequest",
	CmdReset:                            "Reset",
	CmdShutdown:                         "Shutdown",
	CmdResponseDeviceInfo:               "ResponseDeviceInfo",
	CmdResponseExtDeviceInfo:            "ResponseExtDeviceInfo",
	CmdResponseAck:                      "ResponseAck",
	CmdResponseDataXfer:                 "ResponseDataXfer",
	CmdGetCondition:                     "GetCondition",
	CmdGetMemoryInformation:             "GetMemoryInformation",
	CmdBlockRead:                        "BlockRead",
	CmdBlockWrite:                       "BlockWrite",
	CmdBlockCompleteWrite:               "BlockCompleteWrite",
	CmdSetCondition:                     "SetCondition",
	CmdResponseFileError:                "ResponseFileError",
	CmdResponseSendAgain:                "ResponseSendAgain",
	CmdResponseUnknownCommand:           "ResponseUnknownCommand",
	CmdResponseFunctionCodeNotSupported: "ResponseFunctionCodeNotSupported",
}

// Known reports whether c is a recognized command.  CmdInvalid and
// CmdNoResponse are never known.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// Error reports whether c is one of the negative response codes.
func (c Command) Error() bool {
	return c >= CmdResponseFileError && c <= CmdResponseFunctionCodeNotSupported
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Command(%#02x)", uint8(c))
}
