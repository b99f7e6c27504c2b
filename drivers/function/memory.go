package function

import (
	"errors"
	"fmt"

	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/schedule"
)

var ErrBlockSize = errors.New("invalid block size")

// Defaults used if the function definition is incomplete.
const (
	defaultBlockWords  = 128
	defaultWritePhases = 4
)

// MemoryInfo is the response to GetMemoryInformation.
type MemoryInfo struct {
	Words [6]uint32
}

// Blocks returns the number of blocks of the media.
func (m MemoryInfo) Blocks() int      { return int(uint16(m.Words[0])) + 1 }
func (m MemoryInfo) Partition() uint8 { return uint8(m.Words[0] >> 16) }
func (m MemoryInfo) SystemBlock() int { return int(uint16(m.Words[1] >> 16)) }
func (m MemoryInfo) FATBlock() int    { return int(uint16(m.Words[1])) }

// Storage receives the results of a player's memory functions.  It's called
// from the bus loop and must not block.
type Storage interface {
	MemoryConnected(player uint8, m *Memory, info MemoryInfo)
	MemoryDisconnected(player uint8, m *Memory)
	BlockRead(player uint8, block uint16, data []uint32, err error)
	BlockWritten(player uint8, block uint16, err error)
}

type blockWrite struct {
	block     uint16
	ids       []uint32
	remaining int
}

// Memory reads and writes blocks of a storage function, e.g. a memory card.
// Its methods must be called from the bus loop.
type Memory struct {
	base

	blockWords  int
	writePhases int

	info      MemoryInfo
	connected bool
	infoID    uint32

	reads  map[uint32]uint16
	writes map[uint32]*blockWrite
}

func newStorage(env Env) Function {
	m := &Memory{
		blockWords:  int(env.Definition>>16&0xff+1) * 8,
		writePhases: int(env.Definition >> 12 & 0xf),
		reads:       make(map[uint32]uint16),
		writes:      make(map[uint32]*blockWrite),
	}
	if env.Definition == 0 {
		m.blockWords = defaultBlockWords
	}
	if m.writePhases == 0 || m.blockWords%m.writePhases != 0 {
		m.writePhases = defaultWritePhases
	}
	m.init(env, maplebus.FuncStorage, m)
	return m
}

// BlockWords returns the size of a single block.
func (m *Memory) BlockWords() int {
	return m.blockWords
}

// Info returns the memory information once it was received.
func (m *Memory) Info() (MemoryInfo, bool) {
	return m.info, m.connected
}

func (m *Memory) sink() Storage {
	if m.env.Player == nil {
		return nil
	}
	return m.env.Player.Storage
}

func (m *Memory) Task(nowUs uint64) {
	m.nowUs = nowUs
	if m.infoID != 0 {
		return
	}
	p, err := m.packet(maplebus.CmdGetMemoryInformation, 0)
	if err == nil {
		m.infoID, err = m.add(schedule.Request{
			Priority:              schedule.PriorityStorage,
			TimeUs:                nowUs,
			Packet:                p,
			ExpectResponse:        true,
			ExpectedResponseWords: 7,
		})
	}
	if err != nil {
		m.log.Error("get memory information", "err", err)
	}
}

// ReadBlock schedules reading a block.  The data is delivered to the Storage
// of the player.
func (m *Memory) ReadBlock(block uint16) error {
	loc := maplebus.NewLocation(0, 0, block)
	p, err := m.packet(maplebus.CmdBlockRead, uint32(loc))
	if err != nil {
		return err
	}
	id, err := m.add(schedule.Request{
		Priority:              schedule.PriorityStorage,
		TimeUs:                m.nowUs,
		Packet:                p,
		ExpectResponse:        true,
		ExpectedResponseWords: uint8(2 + m.blockWords),
	})
	if err != nil {
		return err
	}
	m.reads[id] = block
	return nil
}

// WriteBlock schedules writing a block in phases, followed by the command
// that completes the write.  The result is delivered to the Storage of the
// player.
func (m *Memory) WriteBlock(block uint16, data []uint32) error {
	if len(data) != m.blockWords {
		return fmt.Errorf("%w: %d words", ErrBlockSize, len(data))
	}

	w := &blockWrite{block: block}
	n := m.blockWords / m.writePhases
	for phase := 0; phase <= m.writePhases; phase++ {
		loc := maplebus.NewLocation(0, uint8(phase), block)
		cmd, payload := maplebus.CmdBlockWrite, []uint32{uint32(loc)}
		if phase == m.writePhases {
			cmd = maplebus.CmdBlockCompleteWrite
		} else {
			payload = append(payload, data[phase*n:(phase+1)*n]...)
		}

		p, err := m.packet(cmd, payload...)
		if err == nil {
			var id uint32
			id, err = m.add(schedule.Request{
				Priority:       schedule.PriorityStorage,
				TimeUs:         m.nowUs,
				Packet:         p,
				ExpectResponse: true,
			})
			w.ids = append(w.ids, id)
		}
		if err != nil {
			m.abort(w)
			return err
		}
		m.writes[w.ids[len(w.ids)-1]] = w
	}
	w.remaining = len(w.ids)
	return nil
}

// abort cancels all outstanding phases of w.
func (m *Memory) abort(w *blockWrite) {
	for _, id := range w.ids {
		m.env.Schedule.CancelByID(id)
		delete(m.writes, id)
	}
}

func (m *Memory) TxFailed(writeFailed, readFailed bool, tx *schedule.Transmission) {
	m.base.TxFailed(writeFailed, readFailed, tx)
	m.finish(tx.ID, nil, ErrFailed)
}

func (m *Memory) TxComplete(packet *maplebus.Packet, tx *schedule.Transmission) {
	m.finish(tx.ID, packet, nil)
}

func (m *Memory) finish(id uint32, packet *maplebus.Packet, err error) {
	sink := m.sink()

	if id == m.infoID {
		if err == nil {
			err = m.response(packet, maplebus.CmdResponseDataXfer, 1+len(m.info.Words))
		}
		if err != nil {
			// retried on the next task
			m.log.Debug("get memory information", "err", err)
			m.infoID = 0
			return
		}
		copy(m.info.Words[:], packet.Payload[1:])
		m.connected = true
		if sink != nil {
			sink.MemoryConnected(m.player(), m, m.info)
		}
		return
	}

	if block, ok := m.reads[id]; ok {
		delete(m.reads, id)
		var data []uint32
		if err == nil {
			err = m.response(packet, maplebus.CmdResponseDataXfer, 2+m.blockWords)
		}
		if err == nil {
			data = packet.Payload[2 : 2+m.blockWords]
		}
		if sink != nil {
			sink.BlockRead(m.player(), block, data, err)
		}
		return
	}

	if w, ok := m.writes[id]; ok {
		delete(m.writes, id)
		if err == nil {
			err = m.response(packet, maplebus.CmdResponseAck, 0)
		}
		if err != nil {
			m.abort(w)
		} else if w.remaining--; w.remaining > 0 {
			return
		}
		if sink != nil {
			sink.BlockWritten(m.player(), w.block, err)
		}
	}
}

func (m *Memory) Close() {
	m.base.Close()
	clear(m.reads)
	clear(m.writes)
	if sink := m.sink(); sink != nil && m.connected {
		sink.MemoryDisconnected(m.player(), m)
	}
	m.connected = false
}
