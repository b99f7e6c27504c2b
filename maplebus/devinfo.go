package maplebus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/japanese"
)

var ErrDeviceInfo = errors.New("invalid device info")

// DeviceInfoWords is the payload size of a device info response.
const DeviceInfoWords = 28

const (
	productNameLen = 30
	licenseLen     = 60
)

// DeviceInfo is the payload of a device info response.  Only Functions is
// needed to drive the bus, the rest is informational.
type DeviceInfo struct {
	Functions   FunctionCode
	Definitions [MaxFunctions]uint32
	Region      uint8
	Direction   uint8
	ProductName string
	License     string
	StandbyMW   uint16 // in units of 0.1 mW
	MaxMW       uint16 // in units of 0.1 mW
}

// Definition returns the function definition word for fn, which is expected
// to be a single function bit.  Definition words are ordered from the most
// significant function bit downwards.
func (d *DeviceInfo) Definition(fn FunctionCode) (def uint32, ok bool) {
	i := 0
	d.Functions.Each(func(f FunctionCode) {
		if f == fn && i < MaxFunctions {
			def, ok = d.Definitions[i], true
		}
		i++
	})
	return
}

// ParseDeviceInfo decodes a device info payload.  Only the function mask is
// mandatory, the remaining fields are decoded if present.
func ParseDeviceInfo(payload []uint32) (info DeviceInfo, err error) {
	if len(payload) < 1 {
		return info, fmt.Errorf("%w: empty payload", ErrDeviceInfo)
	}
	info.Functions = FunctionCode(payload[0])
	copy(info.Definitions[:], payload[1:])

	if len(payload) < DeviceInfoWords {
		return info, nil
	}

	// Byte fields are packed most significant byte first within each word.
	raw := make([]byte, 0, (DeviceInfoWords-1-MaxFunctions)*wordLen)
	for _, w := range payload[1+MaxFunctions : DeviceInfoWords] {
		raw = binary.BigEndian.AppendUint32(raw, w)
	}

	info.Region = raw[0]
	info.Direction = raw[1]
	raw = raw[2:]
	info.ProductName = decodeString(raw[:productNameLen])
	raw = raw[productNameLen:]
	info.License = decodeString(raw[:licenseLen])
	raw = raw[licenseLen:]
	info.StandbyMW = binary.LittleEndian.Uint16(raw[0:])
	info.MaxMW = binary.LittleEndian.Uint16(raw[2:])

	return info, nil
}

// Strings are space padded Shift JIS, which is a superset of ASCII apart from
// a few symbols.
func decodeString(b []byte) string {
	s, err := japanese.ShiftJIS.NewDecoder().Bytes(b)
	if err != nil {
		s = b
	}
	return strings.TrimRight(string(s), " \x00")
}

// Payload returns d encoded as device info response payload.
func (d *DeviceInfo) Payload() []uint32 {
	payload := make([]uint32, 0, DeviceInfoWords)
	payload = append(payload, uint32(d.Functions))
	payload = append(payload, d.Definitions[:]...)

	raw := make([]byte, 0, (DeviceInfoWords-1-MaxFunctions)*wordLen)
	raw = append(raw, d.Region, d.Direction)
	raw = append(raw, encodeString(d.ProductName, productNameLen)...)
	raw = append(raw, encodeString(d.License, licenseLen)...)
	raw = binary.LittleEndian.AppendUint16(raw, d.StandbyMW)
	raw = binary.LittleEndian.AppendUint16(raw, d.MaxMW)

	for i := 0; i < len(raw); i += wordLen {
		payload = append(payload, binary.BigEndian.Uint32(raw[i:]))
	}
	return payload
}

func encodeString(s string, n int) []byte {
	b, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
	if err != nil {
		b = []byte(s)
	}
	b = append(b, []byte(strings.Repeat(" ", n))...)
	return b[:n]
}
