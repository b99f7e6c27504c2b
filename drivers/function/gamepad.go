package function

import (
	"log/slog"
	"time"

	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/trylock"
)

type gamepadState struct {
	plugged   bool
	condition Condition
}

// Gamepad is a ControllerObserver which can be read from another goroutine.
// The bus loop publishes with TryLock and drops updates instead of waiting,
// the reader collects them by calling Update once per frame.
type Gamepad struct {
	mu     trylock.Mutex
	owner  trylock.Owner
	latest gamepadState

	current, last gamepadState

	skipped *debug.Throttle
	log     *slog.Logger
}

// NewGamepad returns a Gamepad updated by the bus loop identified by owner.
func NewGamepad(owner trylock.Owner) *Gamepad {
	return &Gamepad{
		owner:   owner,
		skipped: debug.NewThrottle(time.Second),
		log:     debug.Logger(debug.ComponentFunction),
	}
}

func (g *Gamepad) publish(fn func(s *gamepadState)) {
	if r := g.mu.TryLock(g.owner); r != trylock.Locked {
		g.skipped.Do(func() { g.log.Warn("gamepad update skipped", "result", r) })
		return
	}
	fn(&g.latest)
	g.mu.Unlock()
}

func (g *Gamepad) ControllerConnected(player uint8) {
	g.publish(func(s *gamepadState) { s.plugged = true })
}

func (g *Gamepad) ControllerDisconnected(player uint8) {
	g.publish(func(s *gamepadState) { *s = gamepadState{} })
}

func (g *Gamepad) ControllerCondition(player uint8, c Condition) {
	g.publish(func(s *gamepadState) { s.condition = c })
}

// Update takes the latest state published by the bus loop.  The edges
// reported by Pressed, Released, Plugged and Unplugged are relative to the
// previous Update.
func (g *Gamepad) Update(owner trylock.Owner) error {
	if err := g.mu.Lock(owner); err != nil {
		return err
	}
	g.last = g.current
	g.current = g.latest
	g.mu.Unlock()
	return nil
}

func (g *Gamepad) Condition() Condition {
	return g.current.condition
}

func (g *Gamepad) Changed() ButtonMask {
	return g.current.condition.Buttons ^ g.last.condition.Buttons
}

func (g *Gamepad) Pressed() ButtonMask {
	return g.Changed() & g.current.condition.Buttons
}

func (g *Gamepad) Released() ButtonMask {
	return g.Changed() & g.last.condition.Buttons
}

func (g *Gamepad) Plugged() bool {
	return g.current.plugged && !g.last.plugged
}

func (g *Gamepad) Unplugged() bool {
	return !g.current.plugged && g.last.plugged
}
