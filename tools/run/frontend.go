package run

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clktmr/maple/drivers/function"
	"github.com/clktmr/maple/framebuffer"
	"github.com/clktmr/maple/trylock"
)

const (
	frontendOwner    trylock.Owner = 2
	frontendInterval               = 50 * time.Millisecond
)

// frontend shows the controller state on the log and on the screens of the
// player.
func (p *port) frontend(ctx context.Context) error {
	fb := framebuffer.NewFramebuffer()
	t := time.NewTicker(frontendInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		if err := p.pad.Update(frontendOwner); err != nil {
			return err
		}
		switch {
		case p.pad.Plugged():
			p.log.Info("controller connected")
		case p.pad.Unplugged():
			p.log.Info("controller disconnected")
			continue
		case p.pad.Changed() == 0:
			continue
		}

		c := p.pad.Condition()
		if pressed := p.pad.Pressed(); pressed != 0 {
			p.log.Info("pressed", "buttons", pressed)
		}
		p.log.Debug("condition", "buttons", c.Buttons, "x", c.X, "y", c.Y, "l", c.LTrigger, "r", c.RTrigger)

		fb.Clear()
		fb.DrawText(fmt.Sprintf("P%d\n%02x%02x", p.player+1, c.X, c.Y))
		if err := p.screen.Set(frontendOwner, fb.Words()); err != nil {
			return err
		}
	}
}

// storageLog reports memory units on the log and reads their system block.
type storageLog struct {
	log *slog.Logger
}

func (s *storageLog) MemoryConnected(player uint8, m *function.Memory, info function.MemoryInfo) {
	s.log.Info("memory connected", "blocks", info.Blocks(), "partition", info.Partition(),
		"system", info.SystemBlock(), "fat", info.FATBlock())
	if err := m.ReadBlock(uint16(info.SystemBlock())); err != nil {
		s.log.Warn("read system block", "err", err)
	}
}

func (s *storageLog) MemoryDisconnected(player uint8, m *function.Memory) {
	s.log.Info("memory disconnected")
}

func (s *storageLog) BlockRead(player uint8, block uint16, data []uint32, err error) {
	if err != nil {
		s.log.Warn("block read", "block", block, "err", err)
		return
	}
	s.log.Debug("block read", "block", block, "words", len(data))
}

func (s *storageLog) BlockWritten(player uint8, block uint16, err error) {
	if err != nil {
		s.log.Warn("block written", "block", block, "err", err)
	}
}
