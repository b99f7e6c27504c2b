package maplebus

// Nominal bus timing.  The host clocks out data at roughly 2 Mbit/s,
// peripherals answer slightly slower.
const (
	NsPerBit   = 480
	RxNsPerBit = 500

	// Duration of the start and end sequences bracketing each packet.
	SequenceNs = 16 * NsPerBit

	// Typical delay between the end of a request and the start sequence of
	// the response.
	ResponseDelayUs = 50
)

// Bits returns the number of data bits of an encoded packet with the given
// number of payload words.
func Bits(words int) int {
	return EncodedSize(words) * 8
}

// TxDurationNs estimates the time it takes the host to clock out a packet.
func TxDurationNs(words int) uint32 {
	return uint32(Bits(words)*NsPerBit + SequenceNs)
}

// RxDurationNs estimates the time it takes a peripheral to clock out a
// response.
func RxDurationNs(words int) uint32 {
	return uint32(Bits(words)*RxNsPerBit + SequenceNs)
}

// DurationUs estimates the whole bus occupation of a transmission, including
// the response if one is expected.  Rounds up to full microseconds.
func DurationUs(txWords int, expectResponse bool, rxWords int) uint32 {
	ns := TxDurationNs(txWords)
	if expectResponse {
		ns += ResponseDelayUs*1000 + RxDurationNs(rxWords)
	}
	return (ns + 999) / 1000
}
