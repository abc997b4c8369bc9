// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/powercap/config"
	"github.com/sustainable-computing-io/powercap/internal/service"
)

func fakeConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Dev.FakePMU.Enabled = ptr.To(true)
	cfg.Dev.FakePMU.CPUs = 8
	cfg.Dev.FakeCpufreq.Enabled = ptr.To(true)
	return cfg
}

func serviceNames(services []service.Service) []string {
	names := make([]string, 0, len(services))
	for _, s := range services {
		names = append(names, s.Name())
	}
	return names
}

func TestCreateServices(t *testing.T) {
	tests := []struct {
		name     string
		update   func(*config.Config)
		expected []string
	}{{
		name:   "defaults",
		update: func(*config.Config) {},
		expected: []string{
			"api-server", "monitor", "governor", "cpu-status", "prometheus", "health-probe", "signal-handler",
		},
	}, {
		name: "governor disabled",
		update: func(c *config.Config) {
			c.Governor.Enabled = ptr.To(false)
		},
		expected: []string{
			"api-server", "monitor", "cpu-status", "prometheus", "health-probe", "signal-handler",
		},
	}, {
		name: "all optional services",
		update: func(c *config.Config) {
			c.Debug.Pprof.Enabled = ptr.To(true)
			c.Exporter.Stdout.Enabled = ptr.To(true)
		},
		expected: []string{
			"api-server", "monitor", "governor", "cpu-status", "pprof", "prometheus", "stdout", "health-probe", "signal-handler",
		},
	}, {
		name: "prometheus disabled",
		update: func(c *config.Config) {
			c.Exporter.Prometheus.Enabled = ptr.To(false)
		},
		expected: []string{
			"api-server", "monitor", "governor", "cpu-status", "health-probe", "signal-handler",
		},
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := fakeConfig()
			tc.update(cfg)

			services, err := createServices(slog.Default(), cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, serviceNames(services))
		})
	}
}

func TestCreateServicesInvalidClassifier(t *testing.T) {
	cfg := fakeConfig()
	cfg.Model.Classifier = "random"

	_, err := createServices(slog.Default(), cfg)
	assert.Error(t, err)
}

func TestCreateLimits(t *testing.T) {
	cfg := fakeConfig()
	cfg.Limits.Default = 500
	cfg.Limits.PerCore = map[int]int64{3: 1000, 9: 7}

	limits, err := createLimits(cfg, []int{0, 1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, 4, limits.Len())
	assert.Equal(t, int64(500), limits.Limit(0))
	assert.Equal(t, int64(1000), limits.Limit(3))

	empty, err := createLimits(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestStopSignal(t *testing.T) {
	services, err := createServices(slog.Default(), fakeConfig())
	require.NoError(t, err)
	assert.Nil(t, stopSignal(services))
	assert.Nil(t, stopSignal(nil))
}
