// Package timeliner executes the transmissions of a schedule on a bus, one at a
// time, and hands the results back to the transmitters that scheduled them.
package timeliner

import (
	"log/slog"

	"github.com/clktmr/maple/bus"
	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/metrics"
	"github.com/clktmr/maple/schedule"
)

// Bus is the part of the bus state machine used by the Timeliner.
type Bus interface {
	Write(p maplebus.Packet, expectResponse bool, readTimeoutUs uint32) bool
	ProcessEvents(nowUs uint64) bus.Status
	Busy() bool
}

// Result is the outcome of a finished transmission.  Packet is the response
// and only set if one was expected and received.
type Result struct {
	Tx          *schedule.Transmission
	Packet      *maplebus.Packet
	WriteFailed bool
	ReadFailed  bool
	Reason      bus.Reason
}

func (r *Result) Failed() bool {
	return r.WriteFailed || r.ReadFailed
}

// Timeliner connects a Schedule with a Bus.  It's not safe for concurrent
// use.
type Timeliner struct {
	bus      Bus
	sched    *schedule.Schedule
	inflight *schedule.Transmission

	transmitters map[schedule.Handle]schedule.Transmitter
	lastHandle   schedule.Handle

	metrics *metrics.Bus
	log     *slog.Logger
}

func New(b Bus, s *schedule.Schedule) *Timeliner {
	return &Timeliner{
		bus:          b,
		sched:        s,
		transmitters: make(map[schedule.Handle]schedule.Transmitter),
		log:          debug.Logger(debug.ComponentTimeliner),
	}
}

// SetMetrics sets where transmission results are counted.  m may be nil.
func (t *Timeliner) SetMetrics(m *metrics.Bus) {
	t.metrics = m
}

// Schedule returns the schedule executed by t.
func (t *Timeliner) Schedule() *schedule.Schedule {
	return t.sched
}

// Register returns a new handle which resolves to tr.
func (t *Timeliner) Register(tr schedule.Transmitter) schedule.Handle {
	t.lastHandle++
	t.transmitters[t.lastHandle] = tr
	return t.lastHandle
}

// Unregister invalidates h.  Results of transmissions still referencing h are
// dropped.
func (t *Timeliner) Unregister(h schedule.Handle) {
	delete(t.transmitters, h)
}

// Resolve returns the transmitter registered for h or nil.
func (t *Timeliner) Resolve(h schedule.Handle) schedule.Transmitter {
	return t.transmitters[h]
}

// InFlight returns the transmission currently executed on the bus or nil.
func (t *Timeliner) InFlight() *schedule.Transmission {
	return t.inflight
}

// Tick must be called periodically.  If the bus is idle, the next due
// transmission is written to it.  Otherwise the bus is advanced and the
// result is returned once the transmission finished.
func (t *Timeliner) Tick(nowUs uint64) (Result, bool) {
	if t.inflight != nil {
		return t.poll(nowUs)
	}

	debug.Assert(!t.bus.Busy(), "bus busy without transmission")

	item, ok := t.sched.PeekNext(nowUs)
	if !ok {
		return Result{}, false
	}
	tx := item.Tx
	if !t.bus.Write(tx.Packet, tx.ExpectResponse, tx.ReadTimeoutUs) {
		return Result{}, false
	}
	t.sched.Pop(item)
	t.inflight = tx
	t.metrics.ScheduleDepth(t.sched.Len())

	if tr := t.Resolve(tx.Transmitter); tr != nil {
		tr.TxStarted(tx)
	}
	return Result{}, false
}

func (t *Timeliner) poll(nowUs uint64) (Result, bool) {
	status := t.bus.ProcessEvents(nowUs)
	res := Result{Tx: t.inflight, Reason: status.Reason}
	switch status.Phase {
	case bus.ReadComplete:
		res.Packet = status.Packet
		t.metrics.Transmission(metrics.ResultComplete)
	case bus.WriteComplete:
		t.metrics.Transmission(metrics.ResultComplete)
	case bus.WriteFailed:
		res.WriteFailed = true
		t.metrics.Transmission(metrics.ResultWriteFailed)
		t.metrics.Failure(status.Reason.String())
	case bus.ReadFailed:
		res.ReadFailed = true
		t.metrics.Transmission(metrics.ResultReadFailed)
		t.metrics.Failure(status.Reason.String())
	default:
		return Result{}, false
	}
	t.inflight = nil
	return res, true
}

// Dispatch hands res to the transmitter of the transmission.
func (t *Timeliner) Dispatch(res Result) {
	tr := t.Resolve(res.Tx.Transmitter)
	if tr == nil {
		t.log.Debug("drop result", "id", res.Tx.ID, "handle", res.Tx.Transmitter)
		return
	}
	if res.Failed() {
		tr.TxFailed(res.WriteFailed, res.ReadFailed, res.Tx)
	} else {
		tr.TxComplete(res.Packet, res.Tx)
	}
}
