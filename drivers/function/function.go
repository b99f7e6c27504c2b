// Package function implements the peripheral functions announced in device
// info responses.  Each function schedules its own transmissions and receives
// their results as a schedule.Transmitter.
package function

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/schedule"
	"github.com/clktmr/maple/trylock"
)

var (
	ErrResponse = errors.New("unexpected response")
	ErrFile     = errors.New("file error")
	ErrFailed   = errors.New("transmission failed")
)

// Function is the capability shared by all peripheral functions.
type Function interface {
	schedule.Transmitter

	// Code returns the single function bit implemented.
	Code() maplebus.FunctionCode

	// Task is called from the bus loop on every iteration.
	Task(nowUs uint64)

	// Close cancels all pending transmissions.  The function must not be
	// used afterwards.
	Close()
}

// Kind enumerates the implemented functions.
type Kind uint8

const (
	KindController Kind = iota
	KindStorage
	KindScreen
	KindTimer
	KindVibration
)

func (k Kind) String() string {
	for _, e := range Table {
		if e.Kind == k {
			return e.Code.String()
		}
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Registrar hands out handles for transmitters.
type Registrar interface {
	Register(tr schedule.Transmitter) schedule.Handle
	Unregister(h schedule.Handle)
}

// PlayerData bundles the sinks of a single player.  It's passed through the
// topology to every function on the player's bus.  Nil sinks are allowed.
type PlayerData struct {
	Index uint8

	// Owner identifies the bus loop when locking shared state.
	Owner trylock.Owner

	Controller ControllerObserver
	Screen     *ScreenData
	Storage    Storage
}

// BusOwner identifies the bus loop if the PlayerData doesn't set an Owner.
const BusOwner trylock.Owner = 1

// Env is passed to the constructors of functions.
type Env struct {
	Player     *PlayerData
	Recipient  maplebus.Address
	Definition uint32 // function definition word of the device info
	Schedule   *schedule.Schedule
	Registrar  Registrar
}

// Constructor creates a function.
type Constructor func(env Env) Function

// Table maps the known function codes to their constructors.
var Table = [...]struct {
	Code maplebus.FunctionCode
	Kind Kind
	New  Constructor
}{
	{maplebus.FuncController, KindController, newController},
	{maplebus.FuncStorage, KindStorage, newStorage},
	{maplebus.FuncScreen, KindScreen, newScreen},
	{maplebus.FuncTimer, KindTimer, newTimer},
	{maplebus.FuncVibration, KindVibration, newVibration},
}

// KindOf returns the kind implementing code.
func KindOf(code maplebus.FunctionCode) (Kind, bool) {
	for _, e := range Table {
		if e.Code == code {
			return e.Kind, true
		}
	}
	return 0, false
}

// Instantiate creates the functions announced in a device info response.  The
// definition words are assigned to the function bits from the most
// significant down.  Returns the bits without a known function.
func Instantiate(env Env, mask maplebus.FunctionCode, defs [maplebus.MaxFunctions]uint32) (fns []Function, unknown maplebus.FunctionCode) {
	i := 0
	mask.Each(func(code maplebus.FunctionCode) {
		var def uint32
		if i < len(defs) {
			def = defs[i]
		}
		i++

		if len(fns) == maplebus.MaxFunctions {
			unknown |= code
			return
		}
		for _, e := range Table {
			if e.Code == code {
				env := env
				env.Definition = def
				fns = append(fns, e.New(env))
				return
			}
		}
		unknown |= code
	})
	return
}

// base implements the parts common to all functions.
type base struct {
	env    Env
	code   maplebus.FunctionCode
	handle schedule.Handle
	nowUs  uint64
	ids    []uint32
	log    *slog.Logger
}

func (b *base) init(env Env, code maplebus.FunctionCode, tr schedule.Transmitter) {
	b.env = env
	b.code = code
	b.handle = env.Registrar.Register(tr)
	b.log = debug.Logger(debug.ComponentFunction).With(
		"function", code, "recipient", env.Recipient)
}

func (b *base) Code() maplebus.FunctionCode {
	return b.code
}

func (b *base) player() uint8 {
	if b.env.Player == nil {
		return b.env.Recipient.Player()
	}
	return b.env.Player.Index
}

func (b *base) owner() trylock.Owner {
	if b.env.Player == nil || b.env.Player.Owner == 0 {
		return BusOwner
	}
	return b.env.Player.Owner
}

// packet returns a packet to the function.  The function code is prepended
// to the payload.
func (b *base) packet(cmd maplebus.Command, payload ...uint32) (maplebus.Packet, error) {
	return maplebus.NewPacket(cmd, b.env.Recipient, maplebus.HostAddress(b.env.Recipient.Player()),
		append([]uint32{uint32(b.code)}, payload...)...)
}

// add schedules r on behalf of the function.
func (b *base) add(r schedule.Request) (uint32, error) {
	r.Transmitter = b.handle
	id, err := b.env.Schedule.Add(r)
	if err != nil {
		return 0, err
	}
	b.ids = slices.DeleteFunc(b.ids, func(id uint32) bool { return !b.env.Schedule.Pending(id) })
	b.ids = append(b.ids, id)
	return id, nil
}

func (b *base) Close() {
	for _, id := range b.ids {
		b.env.Schedule.CancelByID(id)
	}
	b.ids = nil
	b.env.Registrar.Unregister(b.handle)
}

func (b *base) TxStarted(tx *schedule.Transmission) {}

func (b *base) TxFailed(writeFailed, readFailed bool, tx *schedule.Transmission) {
	b.log.Debug("transmission failed", "cmd", tx.Packet.Frame.Command,
		"write", writeFailed, "read", readFailed)
}

// response checks that p is a response of cmd carrying at least words payload
// words, including the function code.
func (b *base) response(p *maplebus.Packet, cmd maplebus.Command, words int) error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: none", ErrResponse)
	case p.Frame.Command == maplebus.CmdResponseFileError:
		return ErrFile
	case p.Frame.Command != cmd:
		return fmt.Errorf("%w: %v", ErrResponse, p.Frame.Command)
	case len(p.Payload) < words:
		return fmt.Errorf("%w: %d words", ErrResponse, len(p.Payload))
	}
	return nil
}
