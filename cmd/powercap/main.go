// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/powercap/config"
	"github.com/sustainable-computing-io/powercap/internal/device"
	"github.com/sustainable-computing-io/powercap/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/powercap/internal/exporter/stdout"
	"github.com/sustainable-computing-io/powercap/internal/governor"
	"github.com/sustainable-computing-io/powercap/internal/limit"
	"github.com/sustainable-computing-io/powercap/internal/logger"
	"github.com/sustainable-computing-io/powercap/internal/model"
	"github.com/sustainable-computing-io/powercap/internal/monitor"
	"github.com/sustainable-computing-io/powercap/internal/server"
	"github.com/sustainable-computing-io/powercap/internal/service"
	"github.com/sustainable-computing-io/powercap/internal/version"
)

func main() {
	cfg, err := parseArgsAndConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logVersionInfo(logger)
	printConfigInfo(logger, cfg)

	services, err := createServices(logger, cfg)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		os.Exit(1)
	}

	if err := service.Init(logger, services); err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting powercap")
	if err := service.Run(context.Background(), logger, services); err != nil {
		logger.Error("powercap terminated with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("Graceful shutdown completed", "signal", stopSignal(services))
}

// stopSignal returns the signal that ended the run group, if any
func stopSignal(services []service.Service) os.Signal {
	for _, s := range services {
		if sh, ok := s.(*service.SignalHandler); ok {
			return sh.Received()
		}
	}
	return nil
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("powercap version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig() (*config.Config, error) {
	const appName = "powercap"
	app := kingpin.New(appName, "Per-core energy estimation and power capping for big.LITTLE systems.")
	app.Version(version.Info().String())

	configFiles := app.Flag("config.file", "Path to YAML configuration file; repeat to layer files, later files win").Strings()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logger.New("info", "text", os.Stderr)
	builder := &config.Builder{}
	for _, path := range *configFiles {
		logger.Info("Loading configuration file", "path", path)
		if err := builder.MergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("error loading config files: %w", err)
	}

	// command line flags override the config file
	if err := updateConfig(cfg); err != nil {
		return nil, fmt.Errorf("error applying command line flags: %w", err)
	}

	return cfg, nil
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Printf(`
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

func createTopology(cfg *config.Config) (device.Topology, device.PMUFactory, error) {
	if ptr.Deref(cfg.Dev.FakePMU.Enabled, false) {
		return device.NewStaticTopology(cfg.Dev.FakePMU.CPUs), device.NewFakePMUFactory(), nil
	}

	topo, err := device.NewTopology(cfg.Host.SysFS)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read cpu topology: %w", err)
	}
	return topo, device.NewPerfPMUFactory(device.WithUserAccessPath(cfg.PMU.UserAccessPath)), nil
}

func createScaler(logger *slog.Logger, cfg *config.Config, cpus int) (device.FrequencyScaler, error) {
	if ptr.Deref(cfg.Dev.FakeCpufreq.Enabled, false) {
		return device.NewBigLittleFakeScaler(cfg.Model.LowPowerCores, cpus), nil
	}
	return device.NewFrequencyScaler(cfg.Host.SysFS, logger)
}

// createLimits sizes the store to hold every core id and applies the
// configured budgets
func createLimits(cfg *config.Config, cpus []int) (*limit.Store, error) {
	size := 0
	if len(cpus) > 0 {
		size = cpus[len(cpus)-1] + 1
	}

	limits := limit.NewStore(size)
	for _, cpu := range cpus {
		if err := limits.Set(cpu, cfg.LimitOf(cpu)); err != nil {
			return nil, err
		}
	}
	return limits, nil
}

func createServices(logger *slog.Logger, cfg *config.Config) ([]service.Service, error) {
	logger.Debug("Creating all services")

	topo, pmus, err := createTopology(cfg)
	if err != nil {
		return nil, err
	}
	cpus, err := topo.CPUs()
	if err != nil {
		return nil, fmt.Errorf("failed to list cpus: %w", err)
	}

	classify, err := model.NewClassifier(cfg.Model.Classifier, cfg.Model.LowPowerCores, topo)
	if err != nil {
		return nil, err
	}
	energyModel := model.New(classify)

	limits, err := createLimits(cfg, cpus)
	if err != nil {
		return nil, err
	}

	var pm *monitor.PowerMonitor
	monitorOpts := []monitor.OptionFn{
		monitor.WithLogger(logger),
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithSampleInterval(cfg.Monitor.SampleInterval),
		monitor.WithMaxStaleness(cfg.Monitor.Staleness),
		monitor.WithPinnedSamplers(ptr.Deref(cfg.Monitor.PinSamplers, true)),
		monitor.WithHotplugInterval(cfg.Monitor.HotplugInterval),
	}

	var gov *governor.Governor
	if ptr.Deref(cfg.Governor.Enabled, true) {
		scaler, err := createScaler(logger, cfg, len(cpus))
		if err != nil {
			return nil, err
		}
		// the monitor is created below and started before any controller
		usage := governor.UsageFunc(func(cpus []int) device.Energy {
			return pm.TotalEnergy(cpus)
		})
		gov = governor.New(scaler, usage, limits,
			governor.WithLogger(logger),
			governor.WithPeriod(cfg.Governor.Period),
		)
		monitorOpts = append(monitorOpts, monitor.WithDomains(gov))
	}

	pm = monitor.NewPowerMonitor(topo, pmus, energyModel, limits, monitorOpts...)

	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
	)

	services := []service.Service{
		apiServer,
		pm,
	}
	if gov != nil {
		services = append(services, gov)
	}
	var cpuStatusOpts []server.CPUStatusOptFn
	if gov != nil {
		cpuStatusOpts = append(cpuStatusOpts, server.WithDomainLocator(gov))
	}
	services = append(services, server.NewCPUStatus(apiServer, pm, limits, logger, cpuStatusOpts...))

	if ptr.Deref(cfg.Debug.Pprof.Enabled, false) {
		services = append(services, server.NewPprof(apiServer,
			server.WithBlockProfileRate(cfg.Debug.Pprof.BlockProfileRate),
			server.WithMutexProfileFraction(cfg.Debug.Pprof.MutexProfileFraction),
		))
	}

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		collectors, err := prometheus.CreateCollectors(
			pm,
			prometheus.WithLogger(logger),
			prometheus.WithProcFSPath(cfg.Host.ProcFS),
			prometheus.WithMetricsLevel(cfg.Exporter.Prometheus.MetricsLevel),
			prometheus.WithCoreTypes(func(cpu int) string {
				return energyModel.TypeOf(cpu).String()
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus collectors: %w", err)
		}

		services = append(services, prometheus.NewExporter(
			pm,
			apiServer,
			prometheus.WithLogger(logger),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithCollectors(collectors),
		))
	}

	if ptr.Deref(cfg.Exporter.Stdout.Enabled, false) {
		services = append(services, stdout.NewExporter(pm,
			stdout.WithLogger(logger),
			stdout.WithInterval(cfg.Exporter.Stdout.Interval),
		))
	}

	services = append(services,
		server.NewHealthProbe(apiServer, services, logger),
		service.NewSignalHandler(logger, syscall.SIGINT, syscall.SIGTERM),
	)
	return services, nil
}
