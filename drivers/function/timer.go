package function

import (
	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/schedule"
)

// TimerPollUs is the interval at which the buttons of a timer function are
// read.  They are only used for menus, so a slow cadence suffices.
const TimerPollUs = 100000

// TimerButtons has a bit set for each pressed button of a memory unit.
type TimerButtons uint8

const (
	TimerUp TimerButtons = 1 << iota
	TimerDown
	TimerLeft
	TimerRight
	TimerA
	TimerB
	TimerMode
	TimerSleep
)

// Timer polls the buttons of a memory unit's clock function.
type Timer struct {
	base

	pollID  uint32
	buttons TimerButtons
}

func newTimer(env Env) Function {
	t := &Timer{}
	t.init(env, maplebus.FuncTimer, t)
	return t
}

// Buttons returns the buttons pressed on the last poll.
func (t *Timer) Buttons() TimerButtons {
	return t.buttons
}

func (t *Timer) Task(nowUs uint64) {
	t.nowUs = nowUs
	if t.pollID != 0 {
		return
	}
	p, err := t.packet(maplebus.CmdGetCondition)
	if err == nil {
		t.pollID, err = t.add(schedule.Request{
			Priority:              schedule.PriorityLowest,
			TimeUs:                nowUs,
			Packet:                p,
			ExpectResponse:        true,
			ExpectedResponseWords: 2,
			AutoRepeatUs:          TimerPollUs,
		})
	}
	if err != nil {
		t.log.Error("get condition", "err", err)
	}
}

func (t *Timer) TxComplete(packet *maplebus.Packet, tx *schedule.Transmission) {
	if err := t.response(packet, maplebus.CmdResponseDataXfer, 2); err != nil {
		t.log.Debug("get condition", "err", err)
		return
	}
	// active low
	buttons := ^TimerButtons(packet.Payload[1] >> 24)
	if buttons != t.buttons {
		t.log.Debug("timer buttons", "buttons", buttons)
	}
	t.buttons = buttons
}
