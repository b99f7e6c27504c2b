// Package config loads the YAML configuration of the driver.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clktmr/maple/bus"
	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/drivers/node"
)

// MaxBuses is the number of ports of the console.
const MaxBuses = 4

// Peripherals known to the simulator
const (
	SimController = "controller"
	SimMemoryUnit = "vmu"
	SimVibration  = "vibration"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the complete configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Timing   TimingConfig   `yaml:"timing"`
	Topology TopologyConfig `yaml:"topology"`
	Buses    []BusConfig    `yaml:"buses"`
}

type LogConfig struct {
	Level  string          `yaml:"level"` // debug, info, warn or error
	Format debug.LogFormat `yaml:"format"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // address of the metrics endpoint, empty disables it
	Path   string `yaml:"path"`
}

type TimingConfig struct {
	NsPerBit           uint32 `yaml:"ns_per_bit"`
	WriteSlackPercent  int    `yaml:"write_slack_percent"`
	ReadFrameTimeoutUs uint32 `yaml:"read_frame_timeout_us"`

	// Interval of the bus loop.  Zero polls without sleeping.
	Poll time.Duration `yaml:"poll"`
}

type TopologyConfig struct {
	InfoCadence      time.Duration `yaml:"info_cadence"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// BusConfig configures the port of a player.  Either Port or Sim must be set.
type BusConfig struct {
	Player uint8      `yaml:"player"`
	Port   string     `yaml:"port"` // serial port of the bridge
	Baud   int        `yaml:"baud"`
	Sim    *SimConfig `yaml:"sim"`
}

// SimConfig describes the simulated peripherals of a bus.
type SimConfig struct {
	Main string   `yaml:"main"`
	Subs []string `yaml:"subs"` // by slot, empty strings leave a slot empty
}

// Default returns the configuration used for omitted values.
func Default() *Config {
	t := bus.DefaultTiming()
	o := node.DefaultOptions()
	return &Config{
		Log: LogConfig{
			Level:  "warn",
			Format: debug.LogFormatText,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Timing: TimingConfig{
			NsPerBit:           t.NsPerBit,
			WriteSlackPercent:  int(t.WriteSlackPercent),
			ReadFrameTimeoutUs: t.ReadFrameTimeoutUs,
			Poll:               50 * time.Microsecond,
		},
		Topology: TopologyConfig{
			InfoCadence:      time.Duration(o.InfoCadenceUs) * time.Microsecond,
			FailureThreshold: o.FailureThreshold,
		},
	}
}

// Load reads the configuration from path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a configuration.  Unknown keys are an error.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	switch c.Log.Format {
	case debug.LogFormatText, debug.LogFormatJSON:
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}

	if c.Timing.NsPerBit == 0 {
		return fmt.Errorf("%w: timing.ns_per_bit must be positive", ErrInvalid)
	}
	if c.Timing.WriteSlackPercent < 0 {
		return fmt.Errorf("%w: timing.write_slack_percent must not be negative", ErrInvalid)
	}
	if c.Timing.Poll < 0 {
		return fmt.Errorf("%w: timing.poll must not be negative", ErrInvalid)
	}
	if c.Topology.InfoCadence < time.Millisecond {
		return fmt.Errorf("%w: topology.info_cadence below 1ms", ErrInvalid)
	}
	if c.Topology.FailureThreshold < 1 {
		return fmt.Errorf("%w: topology.failure_threshold must be at least 1", ErrInvalid)
	}

	if len(c.Buses) > MaxBuses {
		return fmt.Errorf("%w: %d buses, at most %d", ErrInvalid, len(c.Buses), MaxBuses)
	}
	var seen [MaxBuses]bool
	for i, b := range c.Buses {
		if b.Player >= MaxBuses {
			return fmt.Errorf("%w: buses[%d]: player %d", ErrInvalid, i, b.Player)
		}
		if seen[b.Player] {
			return fmt.Errorf("%w: buses[%d]: duplicate player %d", ErrInvalid, i, b.Player)
		}
		seen[b.Player] = true
		if err := b.validate(); err != nil {
			return fmt.Errorf("%w: buses[%d]: %w", ErrInvalid, i, err)
		}
	}
	return nil
}

func (b *BusConfig) validate() error {
	if (b.Port == "") == (b.Sim == nil) {
		return errors.New("either port or sim must be set")
	}
	if b.Sim == nil {
		return nil
	}
	if len(b.Sim.Subs) > 5 {
		return fmt.Errorf("%d sub peripherals", len(b.Sim.Subs))
	}
	for _, name := range append([]string{b.Sim.Main}, b.Sim.Subs...) {
		switch name {
		case "", SimController, SimMemoryUnit, SimVibration:
		default:
			return fmt.Errorf("unknown peripheral %q", name)
		}
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (l slog.Level, err error) {
	err = l.UnmarshalText([]byte(c.Log.Level))
	return
}

// BusTiming returns the timing of the bus state machines.
func (c *Config) BusTiming() bus.Timing {
	return bus.Timing{
		NsPerBit:           c.Timing.NsPerBit,
		WriteSlackPercent:  uint32(c.Timing.WriteSlackPercent),
		ReadFrameTimeoutUs: c.Timing.ReadFrameTimeoutUs,
	}
}

// NodeOptions returns the topology options without metrics.
func (c *Config) NodeOptions() node.Options {
	return node.Options{
		InfoCadenceUs:    uint32(c.Topology.InfoCadence / time.Microsecond),
		FailureThreshold: c.Topology.FailureThreshold,
	}
}

func (c *Config) String() string {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err.Error()
	}
	enc.Close()
	return buf.String()
}
