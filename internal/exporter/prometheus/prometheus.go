// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package prometheus

import (
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sustainable-computing-io/powercap/config"
	collector "github.com/sustainable-computing-io/powercap/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/powercap/internal/monitor"
	"github.com/sustainable-computing-io/powercap/internal/service"
)

type (
	Initializer = service.Initializer
	Monitor     = monitor.Service
)

// APIRegistry is the subset of the API server the exporter needs
type APIRegistry interface {
	Register(endpoint, summary, description string, handler http.Handler) error
}

type Opts struct {
	logger          *slog.Logger
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
	procfs          string
	coreTypes       collector.CoreTypeFunc
	metricsLevel    config.Level
}

// DefaultOpts exports every metric level plus the go runtime collector
func DefaultOpts() Opts {
	return Opts{
		logger:          slog.Default(),
		debugCollectors: map[string]bool{"go": true},
		collectors:      map[string]prom.Collector{},
		procfs:          "/proc",
		metricsLevel:    config.MetricsLevelAll,
	}
}

type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithDebugCollectors replaces the default debug collectors
func WithDebugCollectors(names []string) OptionFn {
	return func(o *Opts) {
		o.debugCollectors = make(map[string]bool, len(names))
		for _, name := range names {
			o.debugCollectors[name] = true
		}
	}
}

func WithProcFSPath(procfs string) OptionFn {
	return func(o *Opts) {
		o.procfs = procfs
	}
}

func WithCollectors(c map[string]prom.Collector) OptionFn {
	return func(o *Opts) {
		o.collectors = c
	}
}

// WithCoreTypes labels powercap_cpu_info with the energy model class of each core
func WithCoreTypes(fn collector.CoreTypeFunc) OptionFn {
	return func(o *Opts) {
		o.coreTypes = fn
	}
}

// WithMetricsLevel selects the core and domain metric groups
func WithMetricsLevel(level config.Level) OptionFn {
	return func(o *Opts) {
		o.metricsLevel = level
	}
}

// Exporter serves the monitor and governor state on /metrics
type Exporter struct {
	logger          *slog.Logger
	monitor         Monitor
	registry        *prom.Registry
	server          APIRegistry
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

var _ Initializer = (*Exporter)(nil)

func NewExporter(pm Monitor, s APIRegistry, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		monitor:         pm,
		server:          s,
		logger:          opts.logger.With("service", "prometheus"),
		debugCollectors: opts.debugCollectors,
		collectors:      opts.collectors,
		registry:        prom.NewRegistry(),
	}
}

func collectorForName(name string) (prom.Collector, error) {
	switch name {
	case "go":
		return collectors.NewGoCollector(), nil
	case "process":
		return collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), nil
	default:
		return nil, fmt.Errorf("unknown collector: %s", name)
	}
}

// CreateCollectors builds the build info, power and cpu info collectors
func CreateCollectors(pm Monitor, applyOpts ...OptionFn) (map[string]prom.Collector, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	cpuInfo, err := collector.NewCPUInfoCollector(opts.procfs, opts.coreTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to create cpu info collector: %w", err)
	}
	return map[string]prom.Collector{
		"build_info": collector.NewBuildInfoCollector(),
		"power":      collector.NewPowerCollector(pm, opts.logger, opts.metricsLevel),
		"cpu_info":   cpuInfo,
	}, nil
}

func (e *Exporter) Init() error {
	e.logger.Info("Initializing Prometheus exporter")

	for _, name := range slices.Sorted(maps.Keys(e.debugCollectors)) {
		c, err := collectorForName(name)
		if err != nil {
			e.logger.Error("Error creating collector", "collector", name, "error", err)
			return err
		}
		if err := e.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register debug collector %s: %w", name, err)
		}
		e.logger.Info("Enabled debug collector", "collector", name)
	}

	for _, name := range slices.Sorted(maps.Keys(e.collectors)) {
		if err := e.registry.Register(e.collectors[name]); err != nil {
			return fmt.Errorf("failed to register collector %s: %w", name, err)
		}
		e.logger.Info("Enabled collector", "collector", name)
	}

	return e.server.Register("/metrics", "Metrics",
		"Prometheus metrics of core power and frequency domains", e.handler())
}

func (e *Exporter) handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          e.registry,
		ErrorLog:          slog.NewLogLogger(e.logger.Handler(), slog.LevelError),
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (e *Exporter) Name() string {
	return "prometheus"
}
