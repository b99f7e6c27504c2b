package sim

import (
	"sync"

	"github.com/clktmr/maple/maplebus"
)

// Words of a storage block and number of write phases per block.
const (
	BlockWords  = 128
	WritePhases = 4
)

// Peripheral simulates a main peripheral with optional sub peripherals, e.g.
// a controller with a memory unit and a vibration pack plugged in.
type Peripheral struct {
	mu sync.Mutex

	Info maplebus.DeviceInfo
	Subs [maplebus.SubCount]*Peripheral

	// Condition is returned for GetCondition, excluding the leading
	// function code.
	Condition []uint32

	// Silent peripherals receive packets but never answer.
	Silent bool

	blocks   map[uint32][]uint32
	received []maplebus.Packet
}

// NewController returns a standard controller in neutral position.
func NewController() *Peripheral {
	return &Peripheral{
		Info: maplebus.DeviceInfo{
			Functions:   maplebus.FuncController,
			Definitions: [maplebus.MaxFunctions]uint32{0xfe060f00},
			Region:      0xff,
			ProductName: "Dreamcast Controller",
			License:     "Produced By or Under License From SEGA ENTERPRISES,LTD.",
			StandbyMW:   0x01ae,
			MaxMW:       0x01f4,
		},
		Condition: []uint32{0xffff0000, 0x80808080},
	}
}

// NewMemoryUnit returns a memory unit with screen and timer.
func NewMemoryUnit() *Peripheral {
	return &Peripheral{
		Info: maplebus.DeviceInfo{
			Functions:   maplebus.FuncStorage | maplebus.FuncScreen | maplebus.FuncTimer,
			Definitions: [maplebus.MaxFunctions]uint32{0x7e7e3f40, 0x00051000, 0x000f4100},
			Region:      0xff,
			ProductName: "Visual Memory",
			License:     "Produced By or Under License From SEGA ENTERPRISES,LTD.",
			StandbyMW:   0x007c,
			MaxMW:       0x0082,
		},
		Condition: []uint32{0xffffffff},
	}
}

// NewVibrationPack returns a vibration pack.
func NewVibrationPack() *Peripheral {
	return &Peripheral{
		Info: maplebus.DeviceInfo{
			Functions:   maplebus.FuncVibration,
			Definitions: [maplebus.MaxFunctions]uint32{0x01010000},
			Region:      0xff,
			ProductName: "Puru Puru Pack",
			License:     "Produced By or Under License From SEGA ENTERPRISES,LTD.",
			StandbyMW:   0x00c8,
			MaxMW:       0x0640,
		},
	}
}

// Plug inserts sub at slot i, nil unplugs it.
func (p *Peripheral) Plug(i int, sub *Peripheral) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Subs[i] = sub
}

// SetSilent makes p stop or resume answering.
func (p *Peripheral) SetSilent(silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Silent = silent
}

// SetCondition replaces the condition words.
func (p *Peripheral) SetCondition(cond ...uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Condition = cond
}

// Received returns all packets addressed to p and clears the log.
func (p *Peripheral) Received() []maplebus.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.received
	p.received = nil
	return r
}

// Block returns the contents of a storage block.
func (p *Peripheral) Block(n uint32) []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.blocks[n]...)
}

func (p *Peripheral) Handle(pkt maplebus.Packet) *maplebus.Packet {
	recipient := pkt.Frame.Recipient
	if recipient.IsMain() {
		return p.handle(pkt, p.sender(recipient.Player()))
	}

	i := recipient.SubIndex()
	if i < 0 {
		return nil
	}
	p.mu.Lock()
	sub := p.Subs[i]
	p.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.handle(pkt, recipient)
}

// sender returns the main peripheral's address including the presence bits
// of all plugged sub peripherals.
func (p *Peripheral) sender(player uint8) maplebus.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	mask := maplebus.MainMask
	for i, sub := range p.Subs {
		if sub != nil {
			mask |= maplebus.SubMasks[i]
		}
	}
	return maplebus.NewAddress(player, mask)
}

func (p *Peripheral) handle(pkt maplebus.Packet, self maplebus.Address) *maplebus.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.received = append(p.received, pkt)
	if p.Silent {
		return nil
	}

	respond := func(cmd maplebus.Command, payload ...uint32) *maplebus.Packet {
		r, err := maplebus.NewPacket(cmd, pkt.Frame.Sender, self, payload...)
		if err != nil {
			return nil
		}
		return &r
	}

	var fn maplebus.FunctionCode
	if len(pkt.Payload) > 0 {
		fn = maplebus.FunctionCode(pkt.Payload[0])
	}
	supported := fn != 0 && p.Info.Functions&fn == fn

	switch pkt.Frame.Command {
	case maplebus.CmdDeviceInfoRequest:
		return respond(maplebus.CmdResponseDeviceInfo, p.Info.Payload()...)
	case maplebus.CmdReset, maplebus.CmdShutdown:
		return respond(maplebus.CmdResponseAck)
	}

	if !supported {
		return respond(maplebus.CmdResponseFunctionCodeNotSupported)
	}

	switch pkt.Frame.Command {
	case maplebus.CmdGetCondition:
		return respond(maplebus.CmdResponseDataXfer, append([]uint32{uint32(fn)}, p.Condition...)...)
	case maplebus.CmdGetMemoryInformation:
		return respond(maplebus.CmdResponseDataXfer, uint32(fn), 0x000000ff, 0x00ff00fe, 0x00fd000d, 0x00c800a0, 0, 0x00001f00)
	case maplebus.CmdBlockRead:
		if len(pkt.Payload) < 2 {
			return respond(maplebus.CmdResponseFileError)
		}
		block := p.blocks[uint32(maplebus.Location(pkt.Payload[1]).Block())]
		if block == nil {
			block = make([]uint32, BlockWords)
		}
		return respond(maplebus.CmdResponseDataXfer, append([]uint32{uint32(fn), pkt.Payload[1]}, block...)...)
	case maplebus.CmdBlockWrite:
		if len(pkt.Payload) < 2 {
			return respond(maplebus.CmdResponseFileError)
		}
		loc := maplebus.Location(pkt.Payload[1])
		n, phase := uint32(loc.Block()), int(loc.Phase())
		if phase >= WritePhases {
			return respond(maplebus.CmdResponseFileError)
		}
		if fn == maplebus.FuncStorage {
			if p.blocks == nil {
				p.blocks = make(map[uint32][]uint32)
			}
			if p.blocks[n] == nil {
				p.blocks[n] = make([]uint32, BlockWords)
			}
			copy(p.blocks[n][phase*BlockWords/WritePhases:], pkt.Payload[2:])
		}
		return respond(maplebus.CmdResponseAck)
	case maplebus.CmdBlockCompleteWrite, maplebus.CmdSetCondition:
		return respond(maplebus.CmdResponseAck)
	}

	return respond(maplebus.CmdResponseUnknownCommand)
}
