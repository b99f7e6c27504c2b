package node

import (
	"fmt"

	"github.com/clktmr/maple/drivers/function"
	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/timeliner"
)

// Main is the main node of a bus and drives all transmissions of that bus.
type Main struct {
	*Node
	top *topology
}

// NewMain returns the main node for the bus executed by tl.  player is passed
// on to all functions.
func NewMain(player *function.PlayerData, tl *timeliner.Timeliner, opts Options) *Main {
	if player == nil {
		player = &function.PlayerData{}
	}
	def := DefaultOptions()
	if opts.InfoCadenceUs == 0 {
		opts.InfoCadenceUs = def.InfoCadenceUs
	}
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = def.FailureThreshold
	}
	tl.SetMetrics(opts.Metrics)

	top := &topology{player: player, tl: tl, sched: tl.Schedule(), opts: opts}
	m := &Main{
		Node: newNode(top, maplebus.MainMask, "main", true),
		top:  top,
	}
	for i, mask := range maplebus.SubMasks {
		m.subs = append(m.subs, newNode(top, mask, fmt.Sprint("sub", i), false))
	}
	return m
}

// Sub returns the sub node in slot i.
func (m *Main) Sub(i int) *Node {
	return m.subs[i]
}

// route returns the node addressed by addr or nil.
func (m *Main) route(addr maplebus.Address) *Node {
	if addr.Player() != m.addr.Player() {
		return nil
	}
	if addr.IsMain() {
		return m.Node
	}
	if i := addr.SubIndex(); i >= 0 {
		return m.subs[i]
	}
	return nil
}

// Task advances the bus and all nodes.  It must be called at a high rate from
// the bus loop.
func (m *Main) Task(nowUs uint64) {
	if res, ok := m.top.tl.Tick(nowUs); ok {
		if n := m.route(res.Tx.Recipient()); n != nil {
			n.observe(&res)
		}
		m.top.tl.Dispatch(res)
	}

	m.task(nowUs)
	for _, sub := range m.subs {
		sub.task(nowUs)
	}
	m.top.opts.Metrics.ScheduleDepth(m.top.sched.Len())
}

// Close tears down all nodes and cancels all their transmissions.
func (m *Main) Close() {
	m.present = false
	m.disconnect()
	m.top.tl.Unregister(m.handle)
	for _, sub := range m.subs {
		m.top.tl.Unregister(sub.handle)
	}
}
