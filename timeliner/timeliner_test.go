package timeliner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clktmr/maple/bus"
	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/phy/sim"
	"github.com/clktmr/maple/schedule"
)

type recorder struct {
	started  []uint32
	complete []*maplebus.Packet
	failed   [][2]bool
}

func (r *recorder) TxStarted(tx *schedule.Transmission) {
	r.started = append(r.started, tx.ID)
}

func (r *recorder) TxFailed(writeFailed, readFailed bool, tx *schedule.Transmission) {
	r.failed = append(r.failed, [2]bool{writeFailed, readFailed})
}

func (r *recorder) TxComplete(packet *maplebus.Packet, tx *schedule.Transmission) {
	r.complete = append(r.complete, packet)
}

type fixture struct {
	now   uint64
	line  *sim.Line
	sched *schedule.Schedule
	tl    *Timeliner
}

func newFixture() *fixture {
	f := &fixture{line: sim.NewLine(), sched: schedule.New()}
	b := bus.New(f.line, 0, bus.DefaultTiming(), func() uint64 { return f.now })
	f.tl = New(b, f.sched)
	return f
}

// run ticks until a result is available.
func (f *fixture) run(t *testing.T) Result {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if res, ok := f.tl.Tick(f.now); ok {
			return res
		}
		f.now += 10
	}
	t.Fatal("no result")
	return Result{}
}

func (f *fixture) add(t *testing.T, cmd maplebus.Command, h schedule.Handle, expectResponse bool) uint32 {
	t.Helper()
	p, err := maplebus.NewPacket(cmd, maplebus.NewAddress(0, maplebus.MainMask), 0)
	require.NoError(t, err)
	id, err := f.sched.Add(schedule.Request{
		Priority:       schedule.PriorityDiscovery,
		TimeUs:         f.now,
		Packet:         p,
		ExpectResponse: expectResponse,
		Transmitter:    h,
	})
	require.NoError(t, err)
	return id
}

func TestComplete(t *testing.T) {
	f := newFixture()
	f.line.Attach(sim.NewController())
	rec := &recorder{}
	h := f.tl.Register(rec)

	id := f.add(t, maplebus.CmdDeviceInfoRequest, h, true)
	res := f.run(t)
	assert.Equal(t, []uint32{id}, rec.started)
	assert.Nil(t, f.tl.InFlight())
	assert.Equal(t, 0, f.sched.Len())
	require.NotNil(t, res.Packet)
	assert.False(t, res.Failed())
	assert.Equal(t, id, res.Tx.ID)

	f.tl.Dispatch(res)
	require.Len(t, rec.complete, 1)
	assert.Equal(t, maplebus.CmdResponseDeviceInfo, rec.complete[0].Frame.Command)

	// without a response the packet is nil
	f.add(t, maplebus.CmdReset, h, false)
	res = f.run(t)
	f.tl.Dispatch(res)
	require.Len(t, rec.complete, 2)
	assert.Nil(t, rec.complete[1])
}

func TestFailed(t *testing.T) {
	f := newFixture()
	rec := &recorder{}
	h := f.tl.Register(rec)

	f.add(t, maplebus.CmdDeviceInfoRequest, h, true)
	res := f.run(t)
	assert.True(t, res.ReadFailed)
	assert.Equal(t, bus.ReasonTimeout, res.Reason)
	f.tl.Dispatch(res)
	assert.Equal(t, [][2]bool{{false, true}}, rec.failed)

	f.line.Attach(sim.NewController())
	f.line.Inject(sim.Faults{Contention: true})
	f.add(t, maplebus.CmdDeviceInfoRequest, h, true)
	res = f.run(t)
	assert.True(t, res.WriteFailed)
	assert.Equal(t, bus.ReasonContention, res.Reason)
}

func TestSingleInFlight(t *testing.T) {
	f := newFixture()
	f.line.Attach(sim.NewController())
	rec := &recorder{}
	h := f.tl.Register(rec)

	first := f.add(t, maplebus.CmdDeviceInfoRequest, h, true)
	second := f.add(t, maplebus.CmdDeviceInfoRequest, h, true)

	_, ok := f.tl.Tick(f.now)
	assert.False(t, ok)
	require.NotNil(t, f.tl.InFlight())
	assert.Equal(t, first, f.tl.InFlight().ID)
	assert.True(t, f.sched.Pending(second))

	// the second transmission waits for the first to finish
	f.now += 1
	f.tl.Tick(f.now)
	assert.Equal(t, first, f.tl.InFlight().ID)
	assert.Equal(t, []uint32{first}, rec.started)

	res := f.run(t)
	assert.Equal(t, first, res.Tx.ID)
	res = f.run(t)
	assert.Equal(t, second, res.Tx.ID)
	assert.Equal(t, []uint32{first, second}, rec.started)
}

func TestRejectedWriteStaysScheduled(t *testing.T) {
	f := newFixture()
	f.line.Inject(sim.Faults{Closed: true})
	id := f.add(t, maplebus.CmdDeviceInfoRequest, schedule.NoTransmitter, true)

	_, ok := f.tl.Tick(f.now)
	assert.False(t, ok)
	assert.Nil(t, f.tl.InFlight())
	assert.True(t, f.sched.Pending(id))
}

func TestUnregistered(t *testing.T) {
	f := newFixture()
	f.line.Attach(sim.NewController())
	rec := &recorder{}
	h := f.tl.Register(rec)
	assert.NotEqual(t, schedule.NoTransmitter, h)
	assert.Nil(t, f.tl.Resolve(schedule.NoTransmitter))

	f.add(t, maplebus.CmdDeviceInfoRequest, h, true)
	f.tl.Tick(f.now)
	f.tl.Unregister(h)
	res := f.run(t)
	f.tl.Dispatch(res)
	assert.Len(t, rec.started, 1)
	assert.Empty(t, rec.complete)
}
