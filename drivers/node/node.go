// Package node tracks the peripherals on a bus.  A main node represents the
// peripheral plugged into the port, it owns five sub nodes for the slots of
// that peripheral.  Each node discovers its peripheral with device info
// requests and instantiates the announced functions.
package node

import (
	"fmt"
	"log/slog"

	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/drivers/function"
	"github.com/clktmr/maple/maplebus"
	"github.com/clktmr/maple/metrics"
	"github.com/clktmr/maple/schedule"
	"github.com/clktmr/maple/timeliner"
)

// State of a node.
type State uint8

const (
	Searching State = iota
	Connected
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Options configure the topology of a bus.
type Options struct {
	// InfoCadenceUs is the interval of device info requests while searching.
	InfoCadenceUs uint32

	// FailureThreshold is the number of consecutive failures after which a
	// connected node is disconnected.
	FailureThreshold int

	Metrics *metrics.Bus
}

func DefaultOptions() Options {
	return Options{
		InfoCadenceUs:    16000,
		FailureThreshold: 3,
	}
}

// topology is shared by all nodes of a bus.
type topology struct {
	player *function.PlayerData
	tl     *timeliner.Timeliner
	sched  *schedule.Schedule
	opts   Options
}

// Node is the main node or a sub node.  Only the main node infers the
// presence of sub nodes.
type Node struct {
	top  *topology
	addr maplebus.Address
	name string
	root bool
	subs []*Node

	state    State
	present  bool
	failures int
	fns      []function.Function
	info     maplebus.DeviceInfo

	handle    schedule.Handle
	discovery uint32 // id of the device info request

	log *slog.Logger
}

func newNode(top *topology, mask uint8, name string, root bool) *Node {
	n := &Node{
		top:     top,
		addr:    maplebus.NewAddress(top.player.Index, mask),
		name:    name,
		root:    root,
		present: root,
	}
	n.handle = top.tl.Register(n)
	n.log = debug.Logger(debug.ComponentNode).With("node", n.addr)
	return n
}

func (n *Node) Address() maplebus.Address { return n.addr }
func (n *Node) State() State              { return n.state }
func (n *Node) Connected() bool           { return n.state == Connected }

// Present reports whether a peripheral is plugged into the node's slot.  The
// main node is always present.
func (n *Node) Present() bool {
	return n.present
}

// Functions returns the functions of the connected peripheral.
func (n *Node) Functions() []function.Function {
	return n.fns
}

// Info returns the device info of the connected peripheral.
func (n *Node) Info() maplebus.DeviceInfo {
	return n.info
}

func (n *Node) task(nowUs uint64) {
	if n.present && n.state == Searching && n.discovery == 0 {
		n.discover(nowUs)
	}
	for _, fn := range n.fns {
		fn.Task(nowUs)
	}
}

// discover schedules the recurring device info request.  It isn't retried on
// failure, the request simply fires again with the next cadence.
func (n *Node) discover(nowUs uint64) {
	p, err := maplebus.NewPacket(maplebus.CmdDeviceInfoRequest, n.addr, maplebus.HostAddress(n.addr.Player()))
	if err == nil {
		n.discovery, err = n.top.sched.Add(schedule.Request{
			Priority:              schedule.PriorityDiscovery,
			TimeUs:                nowUs,
			Packet:                p,
			ExpectResponse:        true,
			ExpectedResponseWords: maplebus.DeviceInfoWords,
			AutoRepeatUs:          n.top.opts.InfoCadenceUs,
			Transmitter:           n.handle,
		})
	}
	if err != nil {
		n.log.Error("discover", "err", err)
	}
}

// observe is called with every result of a transmission addressed to n,
// before it's dispatched to its transmitter.
func (n *Node) observe(res *timeliner.Result) {
	if res.Failed() {
		// isolated failures of a searching node are expected
		if n.state != Connected {
			return
		}
		n.failures++
		n.log.Debug("failure", "count", n.failures, "reason", res.Reason)
		if n.failures >= n.top.opts.FailureThreshold {
			n.disconnect()
		}
		return
	}

	n.failures = 0
	if n.root && res.Packet != nil {
		n.updatePresence(res.Packet.Frame.Sender.SubPresence())
	}
}

// updatePresence sets the presence of all sub nodes from the bits of a main
// peripheral's sender address.
func (n *Node) updatePresence(bits uint8) {
	for i, sub := range n.subs {
		present := bits&maplebus.SubMasks[i] != 0
		if present == sub.present {
			continue
		}
		sub.present = present
		event := metrics.EventPresent
		if !present {
			event = metrics.EventAbsent
			sub.teardown()
		}
		sub.log.Debug(event)
		n.top.opts.Metrics.NodeEvent(sub.name, event)
	}
}

// TxStarted, TxFailed and TxComplete receive the device info requests of n.
func (n *Node) TxStarted(tx *schedule.Transmission) {}

func (n *Node) TxFailed(writeFailed, readFailed bool, tx *schedule.Transmission) {}

func (n *Node) TxComplete(packet *maplebus.Packet, tx *schedule.Transmission) {
	if !n.present {
		return
	}
	if packet == nil || packet.Frame.Command != maplebus.CmdResponseDeviceInfo {
		n.log.Debug("unexpected response", "packet", packet)
		return
	}
	info, err := maplebus.ParseDeviceInfo(packet.Payload)
	if err != nil {
		n.log.Debug("device info", "err", err)
		return
	}
	n.connect(info)
}

// connect replaces the functions of n with those announced in info.
func (n *Node) connect(info maplebus.DeviceInfo) {
	n.closeFunctions()

	env := function.Env{
		Player:    n.top.player,
		Recipient: n.addr,
		Schedule:  n.top.sched,
		Registrar: n.top.tl,
	}
	fns, unknown := function.Instantiate(env, info.Functions, info.Definitions)
	if unknown != 0 {
		n.log.Info("unknown function", "functions", unknown)
		n.top.opts.Metrics.NodeEvent(n.name, metrics.EventUnknownFunc)
	}
	if len(fns) == 0 {
		return
	}

	n.fns = fns
	n.info = info
	n.failures = 0
	if n.state == Connected {
		return
	}
	n.state = Connected
	n.top.sched.CancelByID(n.discovery)
	n.discovery = 0
	n.log.Info("connected", "functions", info.Functions, "product", info.ProductName)
	n.top.opts.Metrics.NodeEvent(n.name, metrics.EventConnected)
	n.top.opts.Metrics.Connected(n.name, true)
}

// disconnect tears down n and its sub nodes.  Discovery restarts with the
// next task if the node is still present.
func (n *Node) disconnect() {
	n.teardown()
	for _, sub := range n.subs {
		sub.present = false
		sub.teardown()
	}
}

// teardown closes all functions and cancels all transmissions to n.
func (n *Node) teardown() {
	n.closeFunctions()
	n.top.sched.CancelByRecipient(n.addr)
	n.discovery = 0
	n.failures = 0
	n.info = maplebus.DeviceInfo{}
	if n.state == Connected {
		n.state = Searching
		n.log.Info("disconnected")
		n.top.opts.Metrics.NodeEvent(n.name, metrics.EventDisconnected)
		n.top.opts.Metrics.Connected(n.name, false)
	}
}

func (n *Node) closeFunctions() {
	for _, fn := range n.fns {
		fn.Close()
	}
	n.fns = nil
}
