package function

import (
	"time"

	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/schedule"
	"github.com/clktmr/maple/trylock"
)

// ScreenWords is the size of a 48x32 monochrome bitmap.
const ScreenWords = 48

// ScreenData is the image shown on all screens of a player.  It's written by
// another goroutine and read by the bus loop.
type ScreenData struct {
	mu    trylock.Mutex
	words [ScreenWords]uint32
	gen   uint32
}

// Set replaces the image.  It blocks until the bus loop released the data
// and fails if owner is already holding it.
func (s *ScreenData) Set(owner trylock.Owner, words [ScreenWords]uint32) error {
	if err := s.mu.Lock(owner); err != nil {
		return err
	}
	s.words = words
	s.gen++
	s.mu.Unlock()
	return nil
}

// take returns the image if it changed since generation gen.
func (s *ScreenData) take(owner trylock.Owner, gen uint32) (words [ScreenWords]uint32, cur uint32, r trylock.Result) {
	if r = s.mu.TryLock(owner); r != trylock.Locked {
		return words, gen, r
	}
	words, cur = s.words, s.gen
	s.mu.Unlock()
	return words, cur, r
}

// Screen sends the image of the player's ScreenData to the peripheral
// whenever it changes.
type Screen struct {
	base

	gen     uint32
	writeID uint32
	skipped *debug.Throttle
}

func newScreen(env Env) Function {
	s := &Screen{skipped: debug.NewThrottle(time.Second)}
	s.init(env, maplebus.FuncScreen, s)
	return s
}

func (s *Screen) Task(nowUs uint64) {
	s.nowUs = nowUs
	if s.env.Player == nil || s.env.Player.Screen == nil {
		return
	}
	if s.writeID != 0 && s.env.Schedule.Pending(s.writeID) {
		return
	}

	words, gen, r := s.env.Player.Screen.take(s.owner(), s.gen)
	if r != trylock.Locked {
		s.skipped.Do(func() { s.log.Warn("screen update skipped", "result", r) })
		return
	}
	if gen == s.gen {
		return
	}

	loc := maplebus.NewLocation(0, 0, 0)
	p, err := s.packet(maplebus.CmdBlockWrite, append([]uint32{uint32(loc)}, words[:]...)...)
	if err == nil {
		s.writeID, err = s.add(schedule.Request{
			Priority:       schedule.PriorityScreen,
			TimeUs:         nowUs,
			Packet:         p,
			ExpectResponse: true,
		})
	}
	if err != nil {
		s.log.Error("screen update", "err", err)
		return
	}
	s.gen = gen
}

func (s *Screen) TxComplete(packet *maplebus.Packet, tx *schedule.Transmission) {
	if err := s.response(packet, maplebus.CmdResponseAck, 0); err != nil {
		s.log.Debug("screen update", "err", err)
	}
}
