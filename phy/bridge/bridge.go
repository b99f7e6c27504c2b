// Package bridge implements a Maple Bus line through a microcontroller
// attached to a serial port.  The microcontroller clocks the data lines and
// buffers the response, which makes the host side independent of the tight
// bus timing.
package bridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/phy"
)

// Line is a phy.Line connected through the bridge.  Messages to the bridge
// are queued to a writer goroutine, so no method blocks on the serial port.
type Line struct {
	rw  io.ReadWriteCloser
	out chan []byte
	log *slog.Logger

	corrupt *debug.Throttle

	mu        sync.Mutex
	err       error // set once the link failed
	seq       byte
	busy      bool
	listening bool
	txDone    bool
	txErr     error
	rx        phy.Reception

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ phy.Line = (*Line)(nil)

// Open opens the serial port of a bridge.
func Open(port string, baud int) (*Line, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("reset %s: %w", port, err)
	}
	l := New(p)
	l.log.Info("opened", "port", port, "baud", baud)
	return l, nil
}

// New returns a Line talking to a bridge over rw.
func New(rw io.ReadWriteCloser) *Line {
	l := &Line{
		rw:      rw,
		out:     make(chan []byte, 4),
		log:     debug.Logger(debug.ComponentBridge),
		corrupt: debug.NewThrottle(time.Second),
		done:    make(chan struct{}),
	}
	l.wg.Add(2)
	go l.reader()
	go l.writer()
	return l
}

// Close stops the link and closes the serial port.
func (l *Line) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.rw.Close()
		l.wg.Wait()
	})
	return err
}

// Err returns the error that stopped the link, if any.
func (l *Line) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Line) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		l.err = err
		l.log.Error("link failed", "err", err)
	}
}

func (l *Line) writer() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case msg := <-l.out:
			if _, err := l.rw.Write(msg); err != nil {
				l.fail(err)
				return
			}
		}
	}
}

func (l *Line) reader() {
	defer l.wg.Done()
	r := bufio.NewReader(l.rw)
	for {
		typ, data, err := readMessage(r)
		switch {
		case errors.Is(err, ErrLinkChecksum), errors.Is(err, ErrLinkLength):
			l.corrupt.Do(func() { l.log.Warn("dropped message", "err", err) })
			continue
		case err != nil:
			select {
			case <-l.done:
			default:
				l.fail(err)
			}
			return
		}
		l.handle(typ, data)
	}
}

func (l *Line) handle(typ byte, data []byte) {
	if typ == msgLog {
		l.log.Debug("bridge", "msg", string(data))
		return
	}
	if len(data) < 1 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.busy || data[0] != l.seq {
		// stale message of a released transmission
		return
	}
	data = data[1:]

	switch typ {
	case msgTxDone:
		l.txDone = true
		if len(data) > 0 && data[0] == txContention {
			l.txErr = phy.ErrContention
		}
	case msgRxStart:
		l.rx.Started = true
	case msgRxData:
		if len(data) < 1 {
			return
		}
		flags := data[0]
		l.rx = phy.Reception{
			Started:  true,
			Done:     true,
			StartOK:  flags&rxStartOK != 0,
			EndOK:    flags&rxEndOK != 0,
			Overflow: flags&rxOverflow != 0,
			Data:     append([]byte(nil), data[1:]...),
		}
	default:
		l.log.Debug("unknown message", "type", typ)
	}
}

// send queues a message without blocking.
func (l *Line) send(msg []byte) bool {
	select {
	case l.out <- msg:
		return true
	default:
		return false
	}
}

func (l *Line) Open() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err == nil && !l.busy
}

func (l *Line) Transmit(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return fmt.Errorf("%w: %w", phy.ErrNotOpen, l.err)
	}
	if l.busy {
		return phy.ErrBusy
	}
	seq := l.seq + 1
	if !l.send(appendMessage(nil, msgTransmit, append([]byte{seq}, frame...)...)) {
		return phy.ErrBusy
	}
	l.seq = seq
	l.busy = true
	l.txDone, l.txErr = false, nil
	l.rx = phy.Reception{}
	return nil
}

func (l *Line) Transmitted() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.txErr != nil {
		return false, l.txErr
	}
	return l.txDone, nil
}

// Listen exposes the response buffered by the bridge.  The bridge switches to
// receive mode right after each transmission.
func (l *Line) Listen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listening = true
}

func (l *Line) Receive() phy.Reception {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.listening {
		return phy.Reception{}
	}
	r := l.rx
	r.Data = append([]byte(nil), r.Data...)
	return r
}

func (l *Line) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy && !l.send(appendMessage(nil, msgRelease, l.seq)) {
		l.log.Debug("release not sent", "seq", l.seq)
	}
	l.busy = false
	l.listening = false
	l.txDone, l.txErr = false, nil
	l.rx = phy.Reception{}
}
