package debug

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Component identifies the part of the driver a log record originates from.
type Component string

const (
	ComponentBus       Component = "bus"
	ComponentSchedule  Component = "schedule"
	ComponentTimeliner Component = "timeliner"
	ComponentNode      Component = "node"
	ComponentFunction  Component = "function"
	ComponentBridge    Component = "bridge"
	ComponentTool      Component = "maplectl"
)

// LogFormat selects the handler of the default logger.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

var (
	level = new(slog.LevelVar)

	mtx  sync.RWMutex
	root *slog.Logger
)

func init() {
	level.Set(slog.LevelWarn)
	root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// SetLevel sets the minimum level of all loggers.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetOutput replaces the root logger with one writing to w in the given
// format.  Loggers returned by Logger before are not affected.
func SetOutput(w io.Writer, format LogFormat) {
	opts := &slog.HandlerOptions{Level: level}
	var l *slog.Logger
	switch format {
	case LogFormatJSON:
		l = slog.New(slog.NewJSONHandler(w, opts))
	default:
		l = slog.New(slog.NewTextHandler(w, opts))
	}
	SetLogger(l)
}

// SetLogger replaces the root logger.
func SetLogger(l *slog.Logger) {
	mtx.Lock()
	defer mtx.Unlock()
	root = l
}

// Logger returns a logger tagged with the component.
func Logger(c Component) *slog.Logger {
	mtx.RLock()
	defer mtx.RUnlock()
	return root.With("component", string(c))
}

// Throttle limits how often a repeating log message is emitted.  Protocol
// loops may hit the same condition thousands of times per second.
type Throttle struct {
	s rate.Sometimes
}

// NewThrottle returns a Throttle that lets through at most one call per
// interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{rate.Sometimes{Interval: interval}}
}

// Do calls fn unless it was called less than the interval ago.
func (t *Throttle) Do(fn func()) {
	t.s.Do(fn)
}
