package function

import (
	"strings"

	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/schedule"
)

// ControllerPollUs is the interval at which controller conditions are read.
const ControllerPollUs = 16000

// ButtonMask has a bit set for each pressed button.
type ButtonMask uint16

const (
	ButtonC ButtonMask = 1 << iota
	ButtonB
	ButtonA
	ButtonStart
	ButtonUp
	ButtonDown
	ButtonLeft
	ButtonRight
	ButtonZ
	ButtonY
	ButtonX
	ButtonD
	ButtonUp2
	ButtonDown2
	ButtonLeft2
	ButtonRight2
)

var buttonNames = [...]string{
	"C",
	"B",
	"A",
	"Start",
	"↑",
	"↓",
	"←",
	"→",
	"Z",
	"Y",
	"X",
	"D",
	"↑2",
	"↓2",
	"←2",
	"→2",
}

func (b ButtonMask) String() string {
	var sb strings.Builder
	for i, v := range buttonNames {
		if b&(1<<i) != 0 {
			if sb.Len() != 0 {
				sb.WriteString(" + ")
			}
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// Condition is the state of a controller.  Axes are centered at 0x80.
type Condition struct {
	Buttons  ButtonMask
	LTrigger uint8
	RTrigger uint8
	X, Y     uint8
	X2, Y2   uint8
}

// ParseCondition decodes the two condition words of a GetCondition response.
// Buttons are transmitted active low.
func ParseCondition(words []uint32) (c Condition, ok bool) {
	if len(words) < 2 {
		return c, false
	}
	c.Buttons = ^ButtonMask(words[0] >> 16)
	c.RTrigger = uint8(words[0] >> 8)
	c.LTrigger = uint8(words[0])
	c.Y2 = uint8(words[1] >> 24)
	c.X2 = uint8(words[1] >> 16)
	c.Y = uint8(words[1] >> 8)
	c.X = uint8(words[1])
	return c, true
}

// Words encodes c as returned by a peripheral.
func (c Condition) Words() [2]uint32 {
	return [2]uint32{
		uint32(^c.Buttons)<<16 | uint32(c.RTrigger)<<8 | uint32(c.LTrigger),
		uint32(c.Y2)<<24 | uint32(c.X2)<<16 | uint32(c.Y)<<8 | uint32(c.X),
	}
}

// ControllerObserver is notified about a player's controller.  It's called
// from the bus loop and must not block.
type ControllerObserver interface {
	ControllerConnected(player uint8)
	ControllerDisconnected(player uint8)
	ControllerCondition(player uint8, c Condition)
}

// Controller polls the condition of a standard controller.
type Controller struct {
	base

	pollID    uint32
	condition Condition
	valid     bool
}

func newController(env Env) Function {
	c := &Controller{}
	c.init(env, maplebus.FuncController, c)
	if obs := c.observer(); obs != nil {
		obs.ControllerConnected(c.player())
	}
	return c
}

func (c *Controller) observer() ControllerObserver {
	if c.env.Player == nil {
		return nil
	}
	return c.env.Player.Controller
}

// Condition returns the last condition read and whether there was one.
func (c *Controller) Condition() (Condition, bool) {
	return c.condition, c.valid
}

func (c *Controller) Task(nowUs uint64) {
	c.nowUs = nowUs
	if c.pollID != 0 {
		return
	}
	p, err := c.packet(maplebus.CmdGetCondition)
	if err != nil {
		c.log.Error("get condition", "err", err)
		return
	}
	c.pollID, err = c.add(schedule.Request{
		Priority:              schedule.PriorityController,
		TimeUs:                nowUs,
		Packet:                p,
		ExpectResponse:        true,
		ExpectedResponseWords: 3,
		AutoRepeatUs:          ControllerPollUs,
	})
	if err != nil {
		c.log.Error("get condition", "err", err)
	}
}

func (c *Controller) TxComplete(packet *maplebus.Packet, tx *schedule.Transmission) {
	if err := c.response(packet, maplebus.CmdResponseDataXfer, 3); err != nil {
		c.log.Debug("get condition", "err", err)
		return
	}
	cond, _ := ParseCondition(packet.Payload[1:])
	c.condition, c.valid = cond, true
	if obs := c.observer(); obs != nil {
		obs.ControllerCondition(c.player(), cond)
	}
}

func (c *Controller) Close() {
	c.base.Close()
	if obs := c.observer(); obs != nil {
		obs.ControllerDisconnected(c.player())
	}
}
