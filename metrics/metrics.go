// Package metrics exports Prometheus metrics of all buses.  A nil *Bus is
// valid and discards all observations, so the driver can run without metrics.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "maple"

// Transmission results
const (
	ResultComplete    = "complete"
	ResultWriteFailed = "write_failed"
	ResultReadFailed  = "read_failed"
)

// Node events
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventPresent      = "present"
	EventAbsent       = "absent"
	EventUnknownFunc  = "unknown_function"
)

// Metrics holds the collectors shared by all buses.
type Metrics struct {
	transmissions *prometheus.CounterVec
	failures      *prometheus.CounterVec
	nodeEvents    *prometheus.CounterVec
	depth         *prometheus.GaugeVec
	connected     *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmissions_total",
			Help:      "Transmissions executed on the bus by result.",
		}, []string{"bus", "result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_failures_total",
			Help:      "Failed transmissions by reason.",
		}, []string{"bus", "reason"}),
		nodeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_events_total",
			Help:      "Topology changes of the nodes on the bus.",
		}, []string{"bus", "node", "event"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedule_depth",
			Help:      "Transmissions pending in the schedule.",
		}, []string{"bus"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_connected",
			Help:      "Whether a node has a connected peripheral.",
		}, []string{"bus", "node"}),
	}

	for _, c := range []prometheus.Collector{m.transmissions, m.failures, m.nodeEvents, m.depth, m.connected} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
		}
	}
	return m, nil
}

// Bus returns the metrics of a single bus.
func (m *Metrics) Bus(player uint8) *Bus {
	if m == nil {
		return nil
	}
	return &Bus{m: m, label: strconv.Itoa(int(player))}
}

// Bus records the metrics of a single bus.
type Bus struct {
	m     *Metrics
	label string
}

func (b *Bus) Transmission(result string) {
	if b == nil {
		return
	}
	b.m.transmissions.WithLabelValues(b.label, result).Inc()
}

func (b *Bus) Failure(reason string) {
	if b == nil {
		return
	}
	b.m.failures.WithLabelValues(b.label, reason).Inc()
}

func (b *Bus) ScheduleDepth(n int) {
	if b == nil {
		return
	}
	b.m.depth.WithLabelValues(b.label).Set(float64(n))
}

func (b *Bus) NodeEvent(node, event string) {
	if b == nil {
		return
	}
	b.m.nodeEvents.WithLabelValues(b.label, node, event).Inc()
}

func (b *Bus) Connected(node string, connected bool) {
	if b == nil {
		return
	}
	var v float64
	if connected {
		v = 1
	}
	b.m.connected.WithLabelValues(b.label, node).Set(v)
}
