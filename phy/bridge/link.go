package bridge

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sigurn/crc8"
)

var (
	ErrLinkChecksum = errors.New("link checksum mismatch")
	ErrLinkLength   = errors.New("link message too long")
)

// Messages on the serial link are framed as
//
//	[sync][type][length lo][length hi][data...][crc]
//
// with the CRC covering everything from type to the end of data.
const (
	linkSync    = 0xa5
	linkHeader  = 4
	maxLinkData = 2048
)

// Message types sent by the host
const (
	msgTransmit = 0x01 // [seq][frame...]
	msgRelease  = 0x02 // [seq]
)

// Message types sent by the bridge
const (
	msgTxDone  = 0x81 // [seq][status]
	msgRxStart = 0x82 // [seq]
	msgRxData  = 0x83 // [seq][flags][frame...]
	msgLog     = 0x8f // [text...]
)

// Status of msgTxDone
const (
	txOK         = 0x00
	txContention = 0x01
)

// Flags of msgRxData
const (
	rxStartOK  = 1 << 0
	rxEndOK    = 1 << 1
	rxOverflow = 1 << 2
)

var linkCRC8 = crc8.MakeTable(crc8.Params{
	Poly:  0x07,
	Check: 0xF4,
	Name:  "CRC-8/SMBUS",
})

func checksum(typ byte, data []byte) byte {
	csum := crc8.Init(linkCRC8)
	csum = crc8.Update(csum, []byte{typ, byte(len(data)), byte(len(data) >> 8)}, linkCRC8)
	csum = crc8.Update(csum, data, linkCRC8)
	return crc8.Complete(csum, linkCRC8)
}

// appendMessage appends a framed message to dst.
func appendMessage(dst []byte, typ byte, data ...byte) []byte {
	dst = append(dst, linkSync, typ)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(data)))
	dst = append(dst, data...)
	return append(dst, checksum(typ, data))
}

// readMessage reads the next message from r.  Bytes before the sync byte are
// skipped.  A checksum mismatch consumes the broken message, so reading can
// continue with the next one.
func readMessage(r *bufio.Reader) (typ byte, data []byte, err error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		if b == linkSync {
			break
		}
	}

	var hdr [linkHeader - 1]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	typ = hdr[0]
	n := int(binary.LittleEndian.Uint16(hdr[1:]))
	if n > maxLinkData {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrLinkLength, n)
	}

	data = make([]byte, n+1)
	if _, err = io.ReadFull(r, data); err != nil {
		return 0, nil, err
	}
	data, csum := data[:n], data[n]
	if want := checksum(typ, data); csum != want {
		return 0, nil, fmt.Errorf("%w: %#02x != %#02x", ErrLinkChecksum, csum, want)
	}
	return typ, data, nil
}
