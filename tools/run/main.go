// Package run implements the run command of maplectl, which drives the
// configured buses until interrupted.
package run

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/clktmr/maple/config"
	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/metrics"
)

const usageString = `Drive Maple Bus ports.

Usage: %s [flags]

Without -config a simulated controller with a memory unit is attached to
player 0.

`

var (
	flags = flag.NewFlagSet("run", flag.ExitOnError)

	configPath = flags.String("config", "", "YAML configuration `file`")
	logLevel   = flags.String("log", "", "override the log level")
	dumpConfig = flags.Bool("dump", false, "print the effective configuration and exit")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "run")
	flags.PrintDefaults()
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *dumpConfig {
		fmt.Print(cfg)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (cfg *config.Config, err error) {
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
		cfg.Buses = []config.BusConfig{{
			Sim: &config.SimConfig{
				Main: config.SimController,
				Subs: []string{config.SimMemoryUnit},
			},
		}}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Run drives all buses of cfg until ctx is done or a bus fails.
func Run(ctx context.Context, cfg *config.Config) error {
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	debug.SetOutput(os.Stderr, cfg.Log.Format)
	debug.SetLevel(level)
	log := debug.Logger(debug.ComponentTool)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	start := time.Now()
	clock := func() uint64 { return uint64(time.Since(start) / time.Microsecond) }

	ports := make([]*port, 0, len(cfg.Buses))
	defer func() {
		for _, p := range ports {
			p.Close()
		}
	}()
	for _, bc := range cfg.Buses {
		p, err := newPort(cfg, bc, m.Bus(bc.Player), clock)
		if err != nil {
			return err
		}
		ports = append(ports, p)
		log.Info("bus started", "player", bc.Player, "line", p.lineName)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range ports {
		p := p
		g.Go(func() error { return p.loop(gctx, cfg.Timing.Poll) })
		g.Go(func() error { return p.frontend(gctx) })
	}
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics, reg) })
	}
	return g.Wait()
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return fmt.Errorf("metrics: %w", err)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
		return ctx.Err()
	}
}
