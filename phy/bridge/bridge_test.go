package bridge

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clktmr/maple/bus"
	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/phy"
	"github.com/clktmr/maple/phy/sim"
)

// fakeBridge answers link messages like the microcontroller would.
type fakeBridge struct {
	conn       net.Conn
	dev        sim.Device
	contention bool
	releases   chan byte
}

func (f *fakeBridge) serve() {
	r := bufio.NewReader(f.conn)
	for {
		typ, data, err := readMessage(r)
		if err != nil {
			return
		}
		switch typ {
		case msgRelease:
			f.releases <- data[0]
		case msgTransmit:
			seq := data[0]
			if f.contention {
				f.conn.Write(appendMessage(nil, msgTxDone, seq, txContention))
				continue
			}
			msg := appendMessage(nil, msgLog, []byte("tx")...)
			msg = appendMessage(msg, msgTxDone, seq, txOK)
			p, err := maplebus.Decode(data[1:])
			if err != nil || f.dev == nil {
				f.conn.Write(msg)
				continue
			}
			if resp := f.dev.Handle(p); resp != nil {
				msg = appendMessage(msg, msgRxStart, seq)
				rx := append([]byte{seq, rxStartOK | rxEndOK}, maplebus.Encode(*resp)...)
				msg = appendMessage(msg, msgRxData, rx...)
			}
			f.conn.Write(msg)
		}
	}
}

func setup(t *testing.T, f *fakeBridge) *Line {
	t.Helper()
	host, remote := net.Pipe()
	f.conn = remote
	f.releases = make(chan byte, 16)
	go f.serve()
	l := New(host)
	t.Cleanup(func() {
		l.Close()
		remote.Close()
	})
	return l
}

func infoRequest(t *testing.T) maplebus.Packet {
	t.Helper()
	p, err := maplebus.NewPacket(maplebus.CmdDeviceInfoRequest, maplebus.NewAddress(0, maplebus.MainMask), maplebus.HostAddress(0))
	require.NoError(t, err)
	return p
}

// run polls b with a stopped clock until it reports a terminal phase.
func run(t *testing.T, b *bus.Bus) bus.Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := b.ProcessEvents(0)
		switch s.Phase {
		case bus.WriteComplete, bus.WriteFailed, bus.ReadComplete, bus.ReadFailed:
			return s
		}
		time.Sleep(100 * time.Microsecond)
	}
	t.Fatal("bus never finished")
	return bus.Status{}
}

func TestFraming(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x13}) // garbage before the first message
	buf.Write(appendMessage(nil, msgTxDone, 7, txOK))
	broken := appendMessage(nil, msgRxStart, 7)
	broken[len(broken)-1] ^= 0xff
	buf.Write(broken)
	buf.Write(appendMessage(nil, msgLog, []byte("hello")...))

	r := bufio.NewReader(&buf)
	typ, data, err := readMessage(r)
	require.NoError(t, err)
	assert.Equal(t, byte(msgTxDone), typ)
	assert.Equal(t, []byte{7, txOK}, data)

	_, _, err = readMessage(r)
	assert.ErrorIs(t, err, ErrLinkChecksum)

	typ, data, err = readMessage(r)
	require.NoError(t, err)
	assert.Equal(t, byte(msgLog), typ)
	assert.Equal(t, "hello", string(data))

	_, _, err = readMessage(r)
	assert.ErrorIs(t, err, io.EOF)

	tooLong := []byte{linkSync, msgLog, 0xff, 0xff}
	_, _, err = readMessage(bufio.NewReader(bytes.NewReader(tooLong)))
	assert.ErrorIs(t, err, ErrLinkLength)
}

func TestReadComplete(t *testing.T) {
	f := &fakeBridge{dev: sim.NewController()}
	l := setup(t, f)
	b := bus.New(l, 0, bus.DefaultTiming(), func() uint64 { return 0 })

	require.True(t, b.Write(infoRequest(t), true, 1000))
	s := run(t, b)
	require.Equal(t, bus.ReadComplete, s.Phase)
	require.NotNil(t, s.Packet)
	assert.Equal(t, maplebus.CmdResponseDeviceInfo, s.Packet.Frame.Command)
	assert.Len(t, s.Packet.Payload, maplebus.DeviceInfoWords)

	select {
	case seq := <-f.releases:
		assert.Equal(t, byte(1), seq)
	case <-time.After(time.Second):
		t.Fatal("line not released")
	}

	// the sequence number advances with each transmission
	require.True(t, b.Write(infoRequest(t), true, 1000))
	require.Equal(t, bus.ReadComplete, run(t, b).Phase)
	assert.Equal(t, byte(2), <-f.releases)
}

func TestWriteOnly(t *testing.T) {
	l := setup(t, &fakeBridge{})
	b := bus.New(l, 0, bus.DefaultTiming(), func() uint64 { return 0 })

	require.True(t, b.Write(infoRequest(t), false, 0))
	assert.Equal(t, bus.WriteComplete, run(t, b).Phase)
	assert.True(t, l.Open())
}

func TestContention(t *testing.T) {
	l := setup(t, &fakeBridge{dev: sim.NewController(), contention: true})
	b := bus.New(l, 0, bus.DefaultTiming(), func() uint64 { return 0 })

	require.True(t, b.Write(infoRequest(t), true, 1000))
	s := run(t, b)
	assert.Equal(t, bus.WriteFailed, s.Phase)
	assert.Equal(t, bus.ReasonContention, s.Reason)
}

func TestBusy(t *testing.T) {
	l := setup(t, &fakeBridge{})
	require.NoError(t, l.Transmit(maplebus.Encode(infoRequest(t))))
	assert.False(t, l.Open())
	assert.ErrorIs(t, l.Transmit(maplebus.Encode(infoRequest(t))), phy.ErrBusy)
	l.Release()
	assert.True(t, l.Open())
}

func TestStale(t *testing.T) {
	l := setup(t, &fakeBridge{})
	l.mu.Lock()
	l.busy, l.seq = true, 5
	l.mu.Unlock()

	l.handle(msgTxDone, []byte{4, txOK})
	done, err := l.Transmitted()
	assert.NoError(t, err)
	assert.False(t, done, "accepted message of an old transmission")

	l.handle(msgTxDone, []byte{5, txOK})
	done, _ = l.Transmitted()
	assert.True(t, done)

	l.handle(msgRxData, []byte{5, rxStartOK | rxEndOK | rxOverflow, 0xaa})
	assert.Equal(t, phy.Reception{}, l.Receive(), "reception visible before listening")
	l.Listen()
	r := l.Receive()
	assert.True(t, r.Done)
	assert.True(t, r.Overflow)
	assert.Equal(t, []byte{0xaa}, r.Data)
}

func TestClosed(t *testing.T) {
	host, remote := net.Pipe()
	l := New(host)
	remote.Close()

	require.Eventually(t, func() bool { return l.Err() != nil }, time.Second, time.Millisecond)
	assert.False(t, l.Open())
	assert.ErrorIs(t, l.Transmit([]byte{0}), phy.ErrNotOpen)
	assert.NoError(t, l.Close())
}
