package function

import (
	"time"

	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/schedule"
	"github.com/clktmr/maple/trylock"
)

// MaxVibrationPower is the strongest setting of a vibration pack.
const MaxVibrationPower = 7

type vibration struct {
	power    uint8
	duration uint8 // in units of 250ms, 0 stops
}

func (v vibration) word() uint32 {
	return 0x10<<24 | uint32(v.power)<<8 | uint32(v.duration)
}

// Vibration controls a vibration pack.  Set may be called from any goroutine,
// the request is sent by the next task of the bus loop.
type Vibration struct {
	base

	mu      trylock.Mutex
	request *vibration
	skipped *debug.Throttle
}

func newVibration(env Env) Function {
	v := &Vibration{skipped: debug.NewThrottle(time.Second)}
	v.init(env, maplebus.FuncVibration, v)
	return v
}

// Set starts vibrating with the given power for a duration.  Power is clamped
// to MaxVibrationPower, a zero power or duration stops the vibration.
func (v *Vibration) Set(owner trylock.Owner, power uint8, d time.Duration) error {
	req := &vibration{power: min(power, MaxVibrationPower)}
	req.duration = uint8(max(min(d/(250*time.Millisecond), 0xff), 0))
	if req.power == 0 || req.duration == 0 {
		req.power, req.duration = 0, 0
	}

	if err := v.mu.Lock(owner); err != nil {
		return err
	}
	v.request = req
	v.mu.Unlock()
	return nil
}

func (v *Vibration) Task(nowUs uint64) {
	v.nowUs = nowUs
	if r := v.mu.TryLock(v.owner()); r != trylock.Locked {
		v.skipped.Do(func() { v.log.Warn("vibration update skipped", "result", r) })
		return
	}
	req := v.request
	v.request = nil
	v.mu.Unlock()
	if req == nil {
		return
	}

	p, err := v.packet(maplebus.CmdSetCondition, req.word())
	if err == nil {
		_, err = v.add(schedule.Request{
			Priority:       schedule.PriorityController,
			TimeUs:         nowUs,
			Packet:         p,
			ExpectResponse: true,
		})
	}
	if err != nil {
		v.log.Error("set condition", "err", err)
	}
}

func (v *Vibration) TxComplete(packet *maplebus.Packet, tx *schedule.Transmission) {
	if err := v.response(packet, maplebus.CmdResponseAck, 0); err != nil {
		v.log.Debug("set condition", "err", err)
	}
}
