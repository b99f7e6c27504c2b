package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/clktmr/maple/bus"
	"github.com/clktmr/maple/config"
	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/drivers/function"
	"github.com/clktmr/maple/drivers/node"
	"github.com/clktmr/maple/metrics"
	"github.com/clktmr/maple/phy"
	"github.com/clktmr/maple/phy/bridge"
	"github.com/clktmr/maple/phy/sim"
	"github.com/clktmr/maple/schedule"
	"github.com/clktmr/maple/timeliner"
)

const defaultBaud = 115200

// port is a single bus with its line and the data shared with the frontend.
type port struct {
	player   uint8
	lineName string
	line     phy.Line
	closer   io.Closer
	clock    bus.Clock
	main     *node.Main

	pad    *function.Gamepad
	screen *function.ScreenData

	log *slog.Logger
}

func newPort(cfg *config.Config, bc config.BusConfig, m *metrics.Bus, clock bus.Clock) (*port, error) {
	p := &port{
		player: bc.Player,
		clock:  clock,
		pad:    function.NewGamepad(function.BusOwner),
		screen: &function.ScreenData{},
		log:    debug.Logger(debug.ComponentTool).With("player", bc.Player),
	}

	if bc.Sim != nil {
		line := sim.NewLine()
		if dev := simPeripheral(bc.Sim.Main); dev != nil {
			for i, name := range bc.Sim.Subs {
				if sub := simPeripheral(name); sub != nil {
					dev.Plug(i, sub)
				}
			}
			line.Attach(dev)
		}
		p.line, p.lineName = line, "sim"
	} else {
		baud := bc.Baud
		if baud == 0 {
			baud = defaultBaud
		}
		line, err := bridge.Open(bc.Port, baud)
		if err != nil {
			return nil, fmt.Errorf("player %d: %w", bc.Player, err)
		}
		p.line, p.closer, p.lineName = line, line, bc.Port
	}

	player := &function.PlayerData{
		Index:      bc.Player,
		Owner:      function.BusOwner,
		Controller: p.pad,
		Screen:     p.screen,
		Storage:    &storageLog{log: p.log},
	}
	opts := cfg.NodeOptions()
	opts.Metrics = m
	b := bus.New(p.line, bc.Player, cfg.BusTiming(), clock)
	p.main = node.NewMain(player, timeliner.New(b, schedule.New()), opts)
	return p, nil
}

func simPeripheral(name string) *sim.Peripheral {
	switch name {
	case config.SimController:
		return sim.NewController()
	case config.SimMemoryUnit:
		return sim.NewMemoryUnit()
	case config.SimVibration:
		return sim.NewVibrationPack()
	}
	return nil
}

// loop is the bus loop.  It's the only goroutine touching the nodes.
func (p *port) loop(ctx context.Context, poll time.Duration) error {
	defer p.main.Close()

	var tick <-chan time.Time
	if poll > 0 {
		t := time.NewTicker(poll)
		defer t.Stop()
		tick = t.C
	}
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		p.main.Task(p.clock())
		if l, ok := p.line.(*bridge.Line); ok {
			if err := l.Err(); err != nil {
				return fmt.Errorf("player %d: %w", p.player, err)
			}
		}
	}
}

func (p *port) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
