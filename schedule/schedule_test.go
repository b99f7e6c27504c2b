package schedule

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clktmr/maple/maplebus"
)

var (
	mainAddr = maplebus.NewAddress(0, maplebus.MainMask)
	sub1Addr = maplebus.NewAddress(0, maplebus.SubMasks[0])
	sub2Addr = maplebus.NewAddress(0, maplebus.SubMasks[1])
)

func packet(t *testing.T, recipient maplebus.Address, words int) maplebus.Packet {
	t.Helper()
	p, err := maplebus.NewPacket(maplebus.CmdBlockWrite, recipient, maplebus.HostAddress(0), make([]uint32, words)...)
	require.NoError(t, err)
	return p
}

func add(t *testing.T, s *Schedule, r Request) uint32 {
	t.Helper()
	id, err := s.Add(r)
	require.NoError(t, err)
	return id
}

// next peeks and pops, returning the id or 0 if nothing is due.
func next(s *Schedule, now uint64) uint32 {
	item, ok := s.PeekNext(now)
	if !ok {
		return 0
	}
	s.Pop(item)
	return item.Tx.ID
}

func TestAddIDs(t *testing.T) {
	s := New()
	for i := uint32(1); i <= 5; i++ {
		id := add(t, s, Request{TimeUs: uint64(10 - i), Packet: packet(t, mainAddr, 0)})
		assert.Equal(t, i, id)
	}
	assert.Equal(t, 5, s.Len())

	_, err := s.Add(Request{Packet: maplebus.Packet{}})
	assert.ErrorIs(t, err, ErrInvalidPacket)
	assert.Equal(t, 5, s.Len())
}

func TestDefaults(t *testing.T) {
	s := New()
	add(t, s, Request{Packet: packet(t, mainAddr, 1), ExpectResponse: true, ExpectedResponseWords: 3})
	item, ok := s.PeekNext(0)
	require.True(t, ok)
	assert.Equal(t, uint32(DefaultReadTimeoutUs), item.Tx.ReadTimeoutUs)
	assert.Equal(t, maplebus.DurationUs(1, true, 3), item.Tx.DurationUs)
	assert.Equal(t, mainAddr, item.Tx.Recipient())
}

func TestNothingDue(t *testing.T) {
	s := New()
	_, ok := s.PeekNext(0)
	assert.False(t, ok)

	add(t, s, Request{TimeUs: 100, Packet: packet(t, mainAddr, 0)})
	_, ok = s.PeekNext(99)
	assert.False(t, ok)
	_, ok = s.PeekNext(100)
	assert.True(t, ok)
}

func TestPreemption(t *testing.T) {
	s := New()
	long := add(t, s, Request{Priority: PriorityStorage, Packet: packet(t, sub1Addr, 18)})
	short := add(t, s, Request{Priority: PriorityController, Packet: packet(t, mainAddr, 0)})

	item, ok := s.PeekNext(0)
	require.True(t, ok)
	assert.Equal(t, short, item.Tx.ID)
	s.Pop(item)

	item, ok = s.PeekNext(0)
	require.True(t, ok)
	assert.Equal(t, long, item.Tx.ID)
	assert.GreaterOrEqual(t, item.Tx.DurationUs, uint32(300))
}

func TestPreemptOpenedWindow(t *testing.T) {
	s := New()
	low := add(t, s, Request{TimeUs: 0, Priority: PriorityStorage, Packet: packet(t, sub1Addr, 0)})
	high := add(t, s, Request{TimeUs: 10, Priority: PriorityController, Packet: packet(t, mainAddr, 0)})

	assert.Equal(t, high, next(s, 20))
	assert.Equal(t, low, next(s, 20))
}

func TestFitInGap(t *testing.T) {
	s := New()
	long := add(t, s, Request{Priority: PriorityStorage, Packet: packet(t, sub1Addr, 30)})
	short := add(t, s, Request{Priority: PriorityStorage, Packet: packet(t, sub2Addr, 0)})
	poll := add(t, s, Request{TimeUs: 100, Priority: PriorityController, Packet: packet(t, mainAddr, 0)})

	// long doesn't finish before the poll is due, short does
	assert.Equal(t, short, next(s, 0))
	assert.Equal(t, uint32(0), next(s, 50))
	assert.Equal(t, poll, next(s, 100))
	assert.Equal(t, long, next(s, 150))
}

func TestEqualPriorityTie(t *testing.T) {
	s := New()
	a := add(t, s, Request{Priority: PriorityScreen, Packet: packet(t, sub1Addr, 0)})
	b := add(t, s, Request{Priority: PriorityScreen, Packet: packet(t, sub2Addr, 0)})
	c := add(t, s, Request{Priority: PriorityScreen, Packet: packet(t, mainAddr, 0)})

	assert.Equal(t, []uint32{a, b, c}, []uint32{next(s, 0), next(s, 0), next(s, 0)})
}

func TestFIFOPerRecipient(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	recipients := []maplebus.Address{mainAddr, sub1Addr, sub2Addr}

	for round := 0; round < 50; round++ {
		s := New()
		enqueued := map[maplebus.Address][]uint32{}
		for i := 0; i < 30; i++ {
			r := recipients[rng.Intn(len(recipients))]
			id := add(t, s, Request{
				Priority: uint8(rng.Intn(int(PriorityLowest) + 1)),
				TimeUs:   uint64(rng.Intn(500)),
				Packet:   packet(t, r, rng.Intn(8)),
			})
			enqueued[r] = append(enqueued[r], id)
		}

		executed := map[maplebus.Address][]uint32{}
		for now := uint64(0); s.Len() > 0; now += 7 {
			require.Less(t, now, uint64(100000), "schedule stalled")
			for {
				item, ok := s.PeekNext(now)
				if !ok {
					break
				}
				s.Pop(item)
				executed[item.Tx.Recipient()] = append(executed[item.Tx.Recipient()], item.Tx.ID)
			}
		}

		assert.Equal(t, enqueued, executed)
	}
}

func TestFIFOBlocksHigherPriority(t *testing.T) {
	s := New()
	slow := add(t, s, Request{Priority: PriorityLowest, Packet: packet(t, mainAddr, 4)})
	fast := add(t, s, Request{Priority: PriorityController, Packet: packet(t, mainAddr, 0)})
	other := add(t, s, Request{Priority: PriorityScreen, Packet: packet(t, sub1Addr, 0)})

	// fast is blocked behind slow, other has priority over slow
	assert.Equal(t, other, next(s, 0))
	assert.Equal(t, slow, next(s, 0))
	assert.Equal(t, fast, next(s, 0))
}

func TestAutoRepeat(t *testing.T) {
	const period = 1000

	s := New()
	id := add(t, s, Request{Packet: packet(t, mainAddr, 0), AutoRepeatUs: period})

	assert.Equal(t, id, next(s, 0))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, uint32(0), next(s, 0))
	assert.Equal(t, uint32(0), next(s, period-1))
	assert.Equal(t, id, next(s, period))

	// three missed intervals fire only once
	assert.Equal(t, id, next(s, 5*period))
	item, ok := s.PeekNext(5*period + period - 1)
	assert.False(t, ok, "%v", item.Tx)
	assert.Equal(t, id, next(s, 6*period))
}

func TestRepeatDoesNotBlockRecipient(t *testing.T) {
	const period = 100000

	s := New()
	poll := add(t, s, Request{Priority: PriorityLowest, Packet: packet(t, sub1Addr, 0), AutoRepeatUs: period})
	require.Equal(t, poll, next(s, 0))

	// the next poll isn't due yet and must not hold back the write
	write := add(t, s, Request{Priority: PriorityScreen, TimeUs: 10, Packet: packet(t, sub1Addr, 48)})
	assert.Equal(t, uint32(0), next(s, 9))
	assert.Equal(t, write, next(s, 10))

	// transmissions due at or after the next poll still queue behind it
	same := add(t, s, Request{Priority: PriorityController, TimeUs: period, Packet: packet(t, sub1Addr, 0)})
	later := add(t, s, Request{Priority: PriorityController, TimeUs: period + 1, Packet: packet(t, sub1Addr, 0)})
	assert.Equal(t, poll, next(s, period+1))
	assert.Equal(t, same, next(s, period+1))
	assert.Equal(t, later, next(s, period+1))

	// a reinserted poll doesn't queue behind a write due later
	far := add(t, s, Request{Priority: PriorityStorage, TimeUs: 5 * period, Packet: packet(t, sub1Addr, 4)})
	assert.Equal(t, poll, next(s, 2*period))
	assert.Equal(t, poll, next(s, 3*period))
	assert.Equal(t, poll, next(s, 5*period))
	assert.Equal(t, far, next(s, 5*period))
}

func TestAutoRepeatEnd(t *testing.T) {
	s := New()
	id := add(t, s, Request{Packet: packet(t, mainAddr, 0), AutoRepeatUs: 1000, AutoRepeatEndUs: 2500})

	for _, now := range []uint64{0, 1000, 2000} {
		assert.Equal(t, id, next(s, now))
	}
	assert.Equal(t, 0, s.Len())
}

func TestCancel(t *testing.T) {
	s := New()
	var mainIDs []uint32
	for i := 0; i < 3; i++ {
		mainIDs = append(mainIDs, add(t, s, Request{Packet: packet(t, mainAddr, 0)}))
		add(t, s, Request{Packet: packet(t, sub1Addr, 0)})
	}
	sub2 := add(t, s, Request{Packet: packet(t, sub2Addr, 0), AutoRepeatUs: 100})

	assert.Equal(t, 3, s.CountRecipients(mainAddr))
	assert.Equal(t, 3, s.CancelByRecipient(sub1Addr))
	assert.Equal(t, 0, s.CancelByRecipient(sub1Addr))
	assert.Equal(t, 0, s.CountRecipients(sub1Addr))

	item, ok := s.PeekNext(0)
	require.True(t, ok)
	assert.Equal(t, 1, s.CancelByID(item.Tx.ID))
	assert.False(t, s.Pop(item), "popped canceled transmission")
	assert.False(t, s.Pending(item.Tx.ID))

	assert.Equal(t, 1, s.CancelByID(sub2))
	assert.Equal(t, 0, s.CancelByID(sub2))

	for now := uint64(0); now < 1000; now += 100 {
		for id := next(s, now); id != 0; id = next(s, now) {
			assert.Contains(t, mainIDs[1:], id)
		}
	}

	add(t, s, Request{Packet: packet(t, mainAddr, 0)})
	add(t, s, Request{Packet: packet(t, sub1Addr, 0)})
	assert.Equal(t, 2, s.CancelAll())
	assert.Equal(t, 0, s.Len())
}
