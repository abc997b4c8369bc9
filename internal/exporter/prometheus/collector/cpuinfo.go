// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"strconv"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

// procFS is satisfied by procfs.FS
type procFS interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

// CoreTypeFunc names the energy model class of a core
type CoreTypeFunc func(cpu int) string

var cpuInfoLabels = []string{"cpu", "vendor_id", "model_name", "physical_id", "core_id", "core_type"}

// cpuInfoCollector joins /proc/cpuinfo with the class the energy model
// assigned to each core, so power series can be grouped by core type
type cpuInfoCollector struct {
	mu sync.Mutex

	fs       procFS
	coreType CoreTypeFunc
	desc     *prom.Desc
}

// NewCPUInfoCollector reads cpuinfo below procPath on every scrape.
// coreType may be nil, in which case core_type is left empty.
func NewCPUInfoCollector(procPath string, coreType CoreTypeFunc) (*cpuInfoCollector, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("creating procfs failed: %w", err)
	}
	return newCPUInfoCollectorWithFS(fs, coreType), nil
}

func newCPUInfoCollectorWithFS(fs procFS, coreType CoreTypeFunc) *cpuInfoCollector {
	return &cpuInfoCollector{
		fs:       fs,
		coreType: coreType,
		desc: prom.NewDesc(
			prom.BuildFQName(namespace, "cpu", "info"),
			"CPU information from procfs and the energy model class of each core",
			cpuInfoLabels, nil,
		),
	}
}

func (c *cpuInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *cpuInfoCollector) Collect(ch chan<- prom.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos, err := c.fs.CPUInfo()
	if err != nil {
		return
	}
	for i := range infos {
		ch <- prom.MustNewConstMetric(c.desc, prom.GaugeValue, 1, c.labelValues(&infos[i])...)
	}
}

// labelValues follows the order of cpuInfoLabels
func (c *cpuInfoCollector) labelValues(ci *procfs.CPUInfo) []string {
	coreType := ""
	if c.coreType != nil {
		coreType = c.coreType(int(ci.Processor))
	}
	return []string{
		strconv.FormatUint(uint64(ci.Processor), 10),
		ci.VendorID,
		ci.ModelName,
		ci.PhysicalID,
		ci.CoreID,
		coreType,
	}
}
