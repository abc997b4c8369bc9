// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "", cfg.Web.Config)
	assert.Equal(t, []string{DefaultPort}, cfg.Web.ListenAddresses)

	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 10*time.Millisecond, cfg.Monitor.SampleInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.Staleness)
	assert.True(t, *cfg.Monitor.PinSamplers)
	assert.Equal(t, time.Second, cfg.Monitor.HotplugInterval)

	assert.Equal(t, ClassifierThreshold, cfg.Model.Classifier)
	assert.Equal(t, 4, cfg.Model.LowPowerCores)
	assert.Equal(t, "/proc/sys/kernel/perf_user_access", cfg.PMU.UserAccessPath)

	assert.True(t, *cfg.Governor.Enabled)
	assert.Equal(t, 100*time.Millisecond, cfg.Governor.Period)

	assert.Equal(t, int64(0), cfg.Limits.Default)
	assert.Empty(t, cfg.Limits.PerCore)

	assert.False(t, *cfg.Dev.FakePMU.Enabled)
	assert.False(t, *cfg.Dev.FakeCpufreq.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	yamlData := `
log:
  level: debug
  format: json
monitor:
  interval: 2s
  sampleInterval: 20ms
  pinSamplers: false
model:
  classifier: capacity
governor:
  enabled: false
limits:
  default: 7600000
  perCore:
    4: 3000000
    5: -1
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 2*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 20*time.Millisecond, cfg.Monitor.SampleInterval)
	assert.False(t, *cfg.Monitor.PinSamplers)
	assert.Equal(t, ClassifierCapacity, cfg.Model.Classifier)
	assert.False(t, *cfg.Governor.Enabled)

	assert.Equal(t, int64(7_600_000), cfg.LimitOf(0))
	assert.Equal(t, int64(3_000_000), cfg.LimitOf(4))
	assert.Equal(t, int64(-1), cfg.LimitOf(5))
}

func TestLoadEmptyFromYAML(t *testing.T) {
	cfg, err := Load(strings.NewReader(``))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().String(), cfg.String())
}

func TestLoadInvalidConfigFromYAML(t *testing.T) {
	yamlData := `
log:
  level: FATAL
  format: json
`
	cfg, err := Load(strings.NewReader(yamlData))
	assert.ErrorContains(t, err, "invalid configuration")
	assert.Nil(t, cfg)
}

func TestInvalidYAML(t *testing.T) {
	yamlData := `
log:
  level: FATAL
invalid yaml
`
	_, err := Load(strings.NewReader(yamlData))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestWhitespaceHandling(t *testing.T) {
	yamlData := `
log:
  level: "  debug  "
  format: "  json  "
model:
  classifier: " Capacity "
exporter:
  prometheus:
    debugCollectors: ["  go  ", "  process  "]
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ClassifierCapacity, cfg.Model.Classifier)
	assert.ElementsMatch(t, []string{"go", "process"}, cfg.Exporter.Prometheus.DebugCollectors)
}

func TestFromRealFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestInvalidFile(t *testing.T) {
	_, err := FromFile("non_existent_file.yaml")
	assert.ErrorContains(t, err, "failed to open config file")
}

type errorReader struct{}

func (errorReader) Read(p []byte) (int, error) {
	return 0, os.ErrInvalid
}

func TestReadError(t *testing.T) {
	_, err := Load(errorReader{})
	assert.ErrorContains(t, err, "failed to read config")
}

func TestCommandLinePrecedence(t *testing.T) {
	yamlData := `
exporter:
  stdout:
    enabled: false
  prometheus:
    enabled: false
monitor:
  sampleInterval: 50ms
limits:
  default: 100
  perCore:
    2: 5
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	app := kingpin.New("test", "Test application")
	updateConfig := RegisterFlags(app)

	_, err = app.Parse([]string{
		"--exporter.stdout",
		"--exporter.stdout.interval=500ms",
		"--debug.pprof",
		"--monitor.sample-interval=5ms",
		"--model.classifier=capacity",
		"--model.low-power-cores=2",
		"--no-governor",
		"--governor.period=250ms",
		"--limits.default=42",
		"--metrics=domain",
	})
	require.NoError(t, err)
	require.NoError(t, updateConfig(cfg))

	assert.True(t, *cfg.Exporter.Stdout.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Exporter.Stdout.Interval)
	assert.False(t, *cfg.Exporter.Prometheus.Enabled, "not overridden by any flag")
	assert.True(t, *cfg.Debug.Pprof.Enabled)
	assert.Equal(t, 5*time.Millisecond, cfg.Monitor.SampleInterval)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval, "unset flags keep the file value")
	assert.Equal(t, ClassifierCapacity, cfg.Model.Classifier)
	assert.Equal(t, 2, cfg.Model.LowPowerCores)
	assert.False(t, *cfg.Governor.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Governor.Period)
	assert.Equal(t, int64(42), cfg.LimitOf(0))
	assert.Equal(t, int64(5), cfg.LimitOf(2), "per-core limits win over the default")
	assert.Equal(t, MetricsLevelDomain, cfg.Exporter.Prometheus.MetricsLevel)
}

func TestFlagsRejectInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"log level", []string{"--log.level=trace"}},
		{"classifier", []string{"--model.classifier=fastest"}},
		{"limit", []string{"--limits.default=1.5"}},
		{"metrics level", []string{"--metrics=pod"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := kingpin.New("test", "Test application")
			RegisterFlags(app)
			_, err := app.Parse(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestInvalidConfigurationValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{{
		name:   "log format",
		mutate: func(c *Config) { c.Log.Format = "xml" },
		errMsg: "invalid log format",
	}, {
		name:   "sysfs",
		mutate: func(c *Config) { c.Host.SysFS = "/does/not/exist" },
		errMsg: "invalid sysfs path",
	}, {
		name:   "negative interval",
		mutate: func(c *Config) { c.Monitor.Interval = -time.Second },
		errMsg: "invalid monitor interval",
	}, {
		name:   "zero sample interval",
		mutate: func(c *Config) { c.Monitor.SampleInterval = 0 },
		errMsg: "invalid monitor sample interval",
	}, {
		name:   "negative staleness",
		mutate: func(c *Config) { c.Monitor.Staleness = -time.Second },
		errMsg: "invalid monitor staleness",
	}, {
		name:   "negative hotplug interval",
		mutate: func(c *Config) { c.Monitor.HotplugInterval = -time.Second },
		errMsg: "invalid monitor hotplug interval",
	}, {
		name:   "classifier",
		mutate: func(c *Config) { c.Model.Classifier = "fastest" },
		errMsg: "invalid model classifier",
	}, {
		name:   "low-power cores",
		mutate: func(c *Config) { c.Model.LowPowerCores = -1 },
		errMsg: "invalid low-power core count",
	}, {
		name:   "governor period",
		mutate: func(c *Config) { c.Governor.Period = 0 },
		errMsg: "invalid governor period",
	}, {
		name:   "per-core limit cpu",
		mutate: func(c *Config) { c.Limits.PerCore[-1] = 10 },
		errMsg: "invalid per-core limit",
	}, {
		name: "fake pmu cpus",
		mutate: func(c *Config) {
			c.Dev.FakePMU.Enabled = ptr.To(true)
			c.Dev.FakePMU.CPUs = 0
		},
		errMsg: "invalid fake pmu cpu count",
	}, {
		name: "enabled stdout exporter without interval",
		mutate: func(c *Config) {
			c.Exporter.Stdout.Enabled = ptr.To(true)
			c.Exporter.Stdout.Interval = 0
		},
		errMsg: "invalid stdout interval",
	}, {
		name:   "negative mutex profile fraction",
		mutate: func(c *Config) { c.Debug.Pprof.MutexProfileFraction = -1 },
		errMsg: "invalid pprof profile rate",
	}, {
		name:   "no listen address",
		mutate: func(c *Config) { c.Web.ListenAddresses = nil },
		errMsg: "at least one web listen address",
	}, {
		name:   "listen address port",
		mutate: func(c *Config) { c.Web.ListenAddresses = []string{":99999"} },
		errMsg: "port must be between 1 and 65535",
	}, {
		name:   "listen address format",
		mutate: func(c *Config) { c.Web.ListenAddresses = []string{"localhost"} },
		errMsg: "invalid address format",
	}, {
		name:   "web config file",
		mutate: func(c *Config) { c.Web.Config = "/does/not/exist.yaml" },
		errMsg: "invalid web config file",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorContains(t, err, "invalid configuration")
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestGovernorPeriodIgnoredWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Governor.Enabled = ptr.To(false)
	cfg.Governor.Period = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidateWithSkip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host.SysFS = "/does/not/exist"
	cfg.Host.ProcFS = "/does/not/exist"

	assert.Error(t, cfg.Validate())
	assert.NoError(t, cfg.Validate(SkipHostValidation))
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.PerCore[3] = 1000

	str := cfg.String()
	assert.Contains(t, str, "sampleInterval: 10ms")
	assert.Contains(t, str, "classifier: threshold")
	assert.Contains(t, str, "3: 1000")

	manual := cfg.manualString()
	assert.Contains(t, manual, "monitor.sample-interval: 10ms\n")
	assert.Contains(t, manual, "model.classifier: threshold\n")
	assert.Contains(t, manual, "governor: true\n")
	assert.Contains(t, manual, "limits.per-core: 3=1000\n")
	assert.Contains(t, manual, "metrics: core,domain\n")
}

func TestBuilder(t *testing.T) {
	t.Run("Build", func(t *testing.T) {
		got, err := (&Builder{}).Build()
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().String(), got.String())
	})

	t.Run("Use", func(t *testing.T) {
		exp := DefaultConfig()
		exp.Log.Level = "warn"

		got, err := (&Builder{}).Use(exp).Build()
		require.NoError(t, err)
		assert.Equal(t, exp.String(), got.String())
	})

	t.Run("MergeWithInvalidYAML", func(t *testing.T) {
		cfg, err := (&Builder{}).Merge(`invalid yaml: [invalid`).Build()
		assert.ErrorContains(t, err, "failed to parse YAML")
		assert.Nil(t, cfg)
	})

	t.Run("MultipleMerges", func(t *testing.T) {
		cfg, err := (&Builder{}).
			Merge(`
log:
  level: debug
`, `
governor:
  period: 1s
`, `
log:
  level: info
`).
			Build()
		require.NoError(t, err)

		exp := DefaultConfig()
		exp.Governor.Period = time.Second
		assert.Equal(t, exp.String(), cfg.String())
	})

	t.Run("MergeBoolPointer", func(t *testing.T) {
		cfg, err := (&Builder{}).
			Merge(`
governor:
  enabled: false
`, `
governor:
  period: 1s
`).
			Build()
		require.NoError(t, err)
		assert.False(t, *cfg.Governor.Enabled, "a later YAML without the field keeps it")
	})

	t.Run("MergePerCoreLimits", func(t *testing.T) {
		cfg, err := (&Builder{}).
			Merge(`
limits:
  perCore:
    1: 10
    2: 20
`, `
limits:
  perCore:
    2: 30
`).
			Build()
		require.NoError(t, err)
		assert.Equal(t, map[int]int64{1: 10, 2: 30}, cfg.Limits.PerCore)
	})
	t.Run("MergeUnlimitedPerCoreLimit", func(t *testing.T) {
		base := DefaultConfig()
		base.Limits.PerCore = map[int]int64{1: 10, 3: 1000}

		cfg, err := (&Builder{}).Use(base).Merge(`
limits:
  perCore:
    3: 0
`).Build()
		require.NoError(t, err)
		assert.Equal(t, map[int]int64{1: 10, 3: 0}, cfg.Limits.PerCore)
		assert.Equal(t, int64(0), cfg.LimitOf(3))
	})

	t.Run("MergeFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "powercap.yaml")
		require.NoError(t, os.WriteFile(path, []byte("governor:\n  period: 250ms\n"), 0o600))

		b := &Builder{}
		require.NoError(t, b.MergeFile(path))
		cfg, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, 250*time.Millisecond, cfg.Governor.Period)

		assert.ErrorContains(t, b.MergeFile(filepath.Join(t.TempDir(), "missing.yaml")), "failed to read config file")
	})
}
