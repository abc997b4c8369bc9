// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// DefaultPort is the default listen address of the API server
const DefaultPort = ":28283"

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Host struct {
		SysFS  string `yaml:"sysfs"`
		ProcFS string `yaml:"procfs"`
	}

	Monitor struct {
		Interval       time.Duration `yaml:"interval"`       // Interval for refreshing snapshots; 0 refreshes on demand
		SampleInterval time.Duration `yaml:"sampleInterval"` // Interval between two samples of one core
		Staleness      time.Duration `yaml:"staleness"`      // Time after which a snapshot is considered stale
		PinSamplers    *bool         `yaml:"pinSamplers"`    // Run each sampler on the core it samples

		HotplugInterval time.Duration `yaml:"hotplugInterval"` // Interval for rereading which cores are online; 0 disables
	}

	// Model selects how cores are mapped to energy models
	Model struct {
		// Classifier is "threshold" or "capacity"
		Classifier string `yaml:"classifier"`
		// LowPowerCores is the number of leading low-power cores used by the threshold classifier
		LowPowerCores int `yaml:"lowPowerCores"`
	}

	PMU struct {
		UserAccessPath string `yaml:"userAccessPath"`
	}

	Governor struct {
		Enabled *bool         `yaml:"enabled"`
		Period  time.Duration `yaml:"period"`
	}

	// Limits are power budgets in nanowatts; values <= 0 leave a core uncapped
	Limits struct {
		Default int64         `yaml:"default"`
		PerCore map[int]int64 `yaml:"perCore"`
	}

	// Development mode settings; disabled by default
	Dev struct {
		FakePMU struct {
			Enabled *bool `yaml:"enabled"`
			CPUs    int   `yaml:"cpus"`
		} `yaml:"fake-pmu"`
		FakeCpufreq struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"fake-cpufreq"`
	}
	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	// Exporter configuration
	StdoutExporter struct {
		Enabled  *bool         `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"` // Time between two printed tables
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
		MetricsLevel    Level    `yaml:"metricsLevel"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	// Debug configuration
	PprofDebug struct {
		Enabled *bool `yaml:"enabled"`
		// BlockProfileRate and MutexProfileFraction enable the block and
		// mutex profiles while pprof is served; 0 leaves them off
		BlockProfileRate     int `yaml:"blockProfileRate"`
		MutexProfileFraction int `yaml:"mutexProfileFraction"`
	}

	Debug struct {
		Pprof PprofDebug `yaml:"pprof"`
	}

	Config struct {
		Log      Log      `yaml:"log"`
		Host     Host     `yaml:"host"`
		Monitor  Monitor  `yaml:"monitor"`
		Model    Model    `yaml:"model"`
		PMU      PMU      `yaml:"pmu"`
		Governor Governor `yaml:"governor"`
		Limits   Limits   `yaml:"limits"`
		Exporter Exporter `yaml:"exporter"`
		Web      Web      `yaml:"web"`
		Debug    Debug    `yaml:"debug"`
		Dev      Dev      `yaml:"dev"` // WARN: do not expose dev settings as flags
	}
)

// MetricsLevelValue is a custom kingpin.Value that parses metrics levels directly into Level
type MetricsLevelValue struct {
	level *Level
}

// NewMetricsLevelValue creates a new MetricsLevelValue with the given target
func NewMetricsLevelValue(target *Level) *MetricsLevelValue {
	return &MetricsLevelValue{level: target}
}

// Set implements kingpin.Value interface - parses and accumulates metrics levels
func (m *MetricsLevelValue) Set(value string) error {
	level, err := ParseLevel([]string{value})
	if err != nil {
		return err
	}

	// the first value replaces the default
	if *m.level == MetricsLevelAll {
		*m.level = 0
	}

	*m.level |= level
	return nil
}

// String implements kingpin.Value interface
func (m *MetricsLevelValue) String() string {
	return m.level.String()
}

// IsCumulative implements kingpin.Value interface to support multiple values
func (m *MetricsLevelValue) IsCumulative() bool {
	return true
}

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

const (
	ClassifierThreshold = "threshold"
	ClassifierCapacity  = "capacity"
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostSysFSFlag  = "host.sysfs"
	HostProcFSFlag = "host.procfs"

	MonitorIntervalFlag       = "monitor.interval"
	MonitorSampleIntervalFlag = "monitor.sample-interval"
	MonitorStaleness          = "monitor.staleness"       // not a flag
	MonitorHotplugInterval    = "monitor.hotplug-interval" // not a flag

	ModelClassifierFlag    = "model.classifier"
	ModelLowPowerCoresFlag = "model.low-power-cores"

	PMUUserAccessPath = "pmu.user-access-path" // not a flag

	GovernorEnabledFlag = "governor"
	GovernorPeriodFlag  = "governor.period"

	LimitsDefaultFlag = "limits.default"
	LimitsPerCore     = "limits.per-core" // not a flag

	pprofEnabledFlag = "debug.pprof"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	// Exporters
	ExporterStdoutEnabledFlag  = "exporter.stdout"
	ExporterStdoutIntervalFlag = "exporter.stdout.interval"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"
	ExporterPrometheusMetricsFlag     = "metrics"

// WARN:  dev settings shouldn't be exposed as flags as flags are intended for end users
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS:  "/sys",
			ProcFS: "/proc",
		},
		Monitor: Monitor{
			Interval:       5 * time.Second,
			SampleInterval: 10 * time.Millisecond,
			Staleness:      500 * time.Millisecond,
			PinSamplers:    ptr.To(true),

			HotplugInterval: time.Second,
		},
		Model: Model{
			Classifier:    ClassifierThreshold,
			LowPowerCores: 4,
		},
		PMU: PMU{
			UserAccessPath: "/proc/sys/kernel/perf_user_access",
		},
		Governor: Governor{
			Enabled: ptr.To(true),
			Period:  100 * time.Millisecond,
		},
		Limits: Limits{
			PerCore: map[int]int64{},
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled:  ptr.To(false),
				Interval: 2 * time.Second,
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
				MetricsLevel:    MetricsLevelAll,
			},
		},
		Debug: Debug{
			Pprof: PprofDebug{
				Enabled: ptr.To(false),
			},
		},
		Web: Web{
			ListenAddresses: []string{DefaultPort},
		},
	}

	cfg.Dev.FakePMU.Enabled = ptr.To(false)
	cfg.Dev.FakePMU.CPUs = 8
	cfg.Dev.FakeCpufreq.Enabled = ptr.To(false)
	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	var errRet error
	defer func() {
		err = file.Close()
		if err != nil && errRet == nil {
			errRet = err
		}
	}()

	cfg, errRet := Load(file)

	return cfg, errRet
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	// host
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").ExistingDir()
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").ExistingDir()

	// monitor
	monitorInterval := app.Flag(MonitorIntervalFlag,
		"Interval for refreshing power snapshots; 0 to refresh on demand only").Default("5s").Duration()
	monitorSampleInterval := app.Flag(MonitorSampleIntervalFlag,
		"Interval between two samples of the counters of one core").Default("10ms").Duration()

	// model
	modelClassifier := app.Flag(ModelClassifierFlag,
		"How cores are mapped to energy models: threshold or capacity").Default(ClassifierThreshold).Enum(ClassifierThreshold, ClassifierCapacity)
	modelLowPowerCores := app.Flag(ModelLowPowerCoresFlag,
		"Number of leading low-power cores for the threshold classifier").Default("4").Int()

	// governor
	governorEnabled := app.Flag(GovernorEnabledFlag, "Enable power capping").Default("true").Bool()
	governorPeriod := app.Flag(GovernorPeriodFlag, "Period of the power capping controllers").Default("100ms").Duration()

	limitsDefault := app.Flag(LimitsDefaultFlag, "Initial power limit of every core in nanowatts; <= 0 for unlimited").Default("0").Int64()

	enablePprof := app.Flag(pprofEnabledFlag, "Enable pprof debug endpoints").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(DefaultPort).Strings()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("false").Bool()
	stdoutExporterInterval := app.Flag(ExporterStdoutIntervalFlag, "Interval between two stdout tables").Default("2s").Duration()

	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()

	metricsLevel := MetricsLevelAll
	app.Flag(ExporterPrometheusMetricsFlag, "Metrics levels to export (core,domain)").SetValue(NewMetricsLevelValue(&metricsLevel))

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}

		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}

		// monitor settings
		if flagsSet[MonitorIntervalFlag] {
			cfg.Monitor.Interval = *monitorInterval
		}
		if flagsSet[MonitorSampleIntervalFlag] {
			cfg.Monitor.SampleInterval = *monitorSampleInterval
		}

		if flagsSet[ModelClassifierFlag] {
			cfg.Model.Classifier = *modelClassifier
		}
		if flagsSet[ModelLowPowerCoresFlag] {
			cfg.Model.LowPowerCores = *modelLowPowerCores
		}

		if flagsSet[GovernorEnabledFlag] {
			cfg.Governor.Enabled = governorEnabled
		}
		if flagsSet[GovernorPeriodFlag] {
			cfg.Governor.Period = *governorPeriod
		}

		if flagsSet[LimitsDefaultFlag] {
			cfg.Limits.Default = *limitsDefault
		}

		if flagsSet[pprofEnabledFlag] {
			cfg.Debug.Pprof.Enabled = enablePprof
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}

		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}
		if flagsSet[ExporterStdoutIntervalFlag] {
			cfg.Exporter.Stdout.Interval = *stdoutExporterInterval
		}

		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}

		if flagsSet[ExporterPrometheusMetricsFlag] {
			cfg.Exporter.Prometheus.MetricsLevel = metricsLevel
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.Model.Classifier = strings.ToLower(strings.TrimSpace(c.Model.Classifier))
	c.PMU.UserAccessPath = strings.TrimSpace(c.PMU.UserAccessPath)
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
	if c.Limits.PerCore == nil {
		c.Limits.PerCore = map[int]int64{}
	}
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level

		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	{ // Validate host settings
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s ", c.Host.SysFS, err.Error()))
			}
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s ", c.Host.ProcFS, err.Error()))
			}
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}
	{ // Monitor
		if c.Monitor.Interval < 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor interval: %s can't be negative", c.Monitor.Interval))
		}
		if c.Monitor.SampleInterval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor sample interval: %s must be positive", c.Monitor.SampleInterval))
		}
		if c.Monitor.Staleness < 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor staleness: %s can't be negative", c.Monitor.Staleness))
		}
		if c.Monitor.HotplugInterval < 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor hotplug interval: %s can't be negative", c.Monitor.HotplugInterval))
		}
	}
	{ // Model
		switch c.Model.Classifier {
		case ClassifierThreshold, ClassifierCapacity:
		default:
			errs = append(errs, fmt.Sprintf("invalid model classifier: %q", c.Model.Classifier))
		}
		if c.Model.LowPowerCores < 0 {
			errs = append(errs, fmt.Sprintf("invalid low-power core count: %d can't be negative", c.Model.LowPowerCores))
		}
	}
	{ // Governor
		if ptr.Deref(c.Governor.Enabled, false) && c.Governor.Period <= 0 {
			errs = append(errs, fmt.Sprintf("invalid governor period: %s must be positive", c.Governor.Period))
		}
	}
	{ // Limits
		for cpu := range c.Limits.PerCore {
			if cpu < 0 {
				errs = append(errs, fmt.Sprintf("invalid per-core limit: cpu %d can't be negative", cpu))
			}
		}
	}
	{ // Dev
		if ptr.Deref(c.Dev.FakePMU.Enabled, false) && c.Dev.FakePMU.CPUs <= 0 {
			errs = append(errs, fmt.Sprintf("invalid fake pmu cpu count: %d must be positive", c.Dev.FakePMU.CPUs))
		}
	}
	{ // Exporter
		if ptr.Deref(c.Exporter.Stdout.Enabled, false) && c.Exporter.Stdout.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid stdout interval: %s must be positive", c.Exporter.Stdout.Interval))
		}
	}
	{ // debug
		if c.Debug.Pprof.BlockProfileRate < 0 || c.Debug.Pprof.MutexProfileFraction < 0 {
			errs = append(errs, "invalid pprof profile rate: can't be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

// LimitOf returns the initial power limit of cpu
func (c *Config) LimitOf(cpu int) int64 {
	if l, ok := c.Limits.PerCore[cpu]; ok {
		return l
	}
	return c.Limits.Default
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	if err != nil {
		return err
	}

	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	if err != nil {
		return err
	}

	return nil
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	// host can be empty for listening on all interfaces
	if err := validatePort(port); err != nil {
		return err
	}

	return nil
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cpus := make([]int, 0, len(c.Limits.PerCore))
	for cpu := range c.Limits.PerCore {
		cpus = append(cpus, cpu)
	}
	sort.Ints(cpus)
	perCore := make([]string, 0, len(cpus))
	for _, cpu := range cpus {
		perCore = append(perCore, fmt.Sprintf("%d=%d", cpu, c.Limits.PerCore[cpu]))
	}

	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostSysFSFlag, c.Host.SysFS},
		{HostProcFSFlag, c.Host.ProcFS},
		{MonitorIntervalFlag, c.Monitor.Interval.String()},
		{MonitorSampleIntervalFlag, c.Monitor.SampleInterval.String()},
		{MonitorStaleness, c.Monitor.Staleness.String()},
		{MonitorHotplugInterval, c.Monitor.HotplugInterval.String()},
		{ModelClassifierFlag, c.Model.Classifier},
		{ModelLowPowerCoresFlag, strconv.Itoa(c.Model.LowPowerCores)},
		{PMUUserAccessPath, c.PMU.UserAccessPath},
		{GovernorEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Governor.Enabled, false))},
		{GovernorPeriodFlag, c.Governor.Period.String()},
		{LimitsDefaultFlag, strconv.FormatInt(c.Limits.Default, 10)},
		{LimitsPerCore, strings.Join(perCore, ", ")},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Stdout.Enabled, false))},
		{ExporterStdoutIntervalFlag, c.Exporter.Stdout.Interval.String()},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Prometheus.Enabled, false))},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
		{ExporterPrometheusMetricsFlag, c.Exporter.Prometheus.MetricsLevel.String()},
		{pprofEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Debug.Pprof.Enabled, false))},
		{"debug.pprof.block-profile-rate", strconv.Itoa(c.Debug.Pprof.BlockProfileRate)},
		{"debug.pprof.mutex-profile-fraction", strconv.Itoa(c.Debug.Pprof.MutexProfileFraction)},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
