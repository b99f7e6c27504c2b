package maplebus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrFrameLength    = errors.New("invalid frame length")
	ErrChecksum       = errors.New("checksum mismatch")
	ErrCommand        = errors.New("invalid command")
	ErrPayloadTooLong = errors.New("payload exceeds 255 words")
)

const (
	frameLen   = 4
	wordLen    = 4
	crcLen     = 1
	MaxPayload = 255
)

// Frame is the 32-bit header preceding each packet's payload.
type Frame struct {
	Command   Command
	Recipient Address
	Sender    Address
	Length    uint8 // number of payload words
}

// Word returns the frame as it is represented in a 32-bit word.
func (f Frame) Word() uint32 {
	return uint32(f.Command)<<24 | uint32(f.Recipient)<<16 | uint32(f.Sender)<<8 | uint32(f.Length)
}

// FrameFromWord is the inverse of Frame.Word.
func FrameFromWord(w uint32) Frame {
	return Frame{
		Command:   Command(w >> 24),
		Recipient: Address(w >> 16),
		Sender:    Address(w >> 8),
		Length:    uint8(w),
	}
}

// Packet is a single message on the bus.  Packets are values, the payload
// must not be modified after construction.
type Packet struct {
	Frame   Frame
	Payload []uint32
}

// NewPacket creates a packet and sets the length of the frame from the
// payload.
func NewPacket(cmd Command, recipient, sender Address, payload ...uint32) (Packet, error) {
	if len(payload) > MaxPayload {
		return Packet{}, fmt.Errorf("%w: %d", ErrPayloadTooLong, len(payload))
	}
	p := Packet{
		Frame: Frame{
			Command:   cmd,
			Recipient: recipient,
			Sender:    sender,
			Length:    uint8(len(payload)),
		},
		Payload: append(make([]uint32, 0, len(payload)), payload...),
	}
	return p, nil
}

// Valid reports whether the command is known and the payload matches the
// length declared in the frame.
func (p Packet) Valid() bool {
	return p.Frame.Command.Known() && len(p.Payload) == int(p.Frame.Length)
}

// WithSender returns a copy of p with the sender address replaced.  The
// payload is shared.
func (p Packet) WithSender(a Address) Packet {
	p.Frame.Sender = a
	return p
}

// Size returns the number of bytes of the encoded packet, including checksum.
func (p Packet) Size() int {
	return EncodedSize(len(p.Payload))
}

// EncodedSize returns the number of bytes of an encoded packet with the given
// number of payload words.
func EncodedSize(words int) int {
	return frameLen + words*wordLen + crcLen
}

func (p Packet) String() string {
	return fmt.Sprintf("%v %#02x->%#02x [%d]%08x", p.Frame.Command,
		uint8(p.Frame.Sender), uint8(p.Frame.Recipient), p.Frame.Length, p.Payload)
}

// Checksum returns the XOR of all bytes in b.
func Checksum(b []byte) (crc byte) {
	for _, v := range b {
		crc ^= v
	}
	return
}

// Encode returns the packet as it is clocked out on the wire: each word least
// significant byte first, followed by the checksum.
func Encode(p Packet) []byte {
	return AppendEncode(make([]byte, 0, p.Size()), p)
}

// AppendEncode appends the encoded packet to b.
func AppendEncode(b []byte, p Packet) []byte {
	start := len(b)
	b = binary.LittleEndian.AppendUint32(b, p.Frame.Word())
	for _, w := range p.Payload {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return append(b, Checksum(b[start:]))
}

// Decode parses an encoded packet and verifies length, checksum and command.
func Decode(b []byte) (p Packet, err error) {
	if len(b) < frameLen+crcLen || (len(b)-frameLen-crcLen)%wordLen != 0 {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrFrameLength, len(b))
	}

	data, crc := b[:len(b)-crcLen], b[len(b)-crcLen]
	if sum := Checksum(data); sum != crc {
		return Packet{}, fmt.Errorf("%w: got %#02x, expected %#02x", ErrChecksum, crc, sum)
	}

	p.Frame = FrameFromWord(binary.LittleEndian.Uint32(data))
	words := (len(data) - frameLen) / wordLen
	if words != int(p.Frame.Length) {
		return Packet{}, fmt.Errorf("%w: declared %d words, got %d", ErrFrameLength, p.Frame.Length, words)
	}

	if !p.Frame.Command.Known() {
		return Packet{}, fmt.Errorf("%w: %v", ErrCommand, p.Frame.Command)
	}

	p.Payload = make([]uint32, words)
	for i := range p.Payload {
		p.Payload[i] = binary.LittleEndian.Uint32(data[frameLen+i*wordLen:])
	}

	return p, nil
}
