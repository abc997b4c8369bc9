// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/powercap/config"
	"github.com/sustainable-computing-io/powercap/internal/device"
	"github.com/sustainable-computing-io/powercap/internal/estimator"
	"github.com/sustainable-computing-io/powercap/internal/governor"
	"github.com/sustainable-computing-io/powercap/internal/limit"
	"github.com/sustainable-computing-io/powercap/internal/monitor"
)

type PowerDataProvider = monitor.PowerDataProvider

// PowerCollector exports one snapshot per scrape so that per-core and
// per-domain series are mutually consistent
type PowerCollector struct {
	pm           PowerDataProvider
	logger       *slog.Logger
	metricsLevel config.Level

	mutex sync.RWMutex
	ready bool

	// node
	nodeWattsDesc  *prometheus.Desc
	nodeJoulesDesc *prometheus.Desc

	// core
	cpuWattsDesc         *prometheus.Desc
	cpuJoulesDesc        *prometheus.Desc
	cpuWindowsDesc       *prometheus.Desc
	cpuLimitWattsDesc    *prometheus.Desc
	cpuDisabledDesc      *prometheus.Desc
	cpuOnlineDesc        *prometheus.Desc
	cpuHasEnergyLeftDesc *prometheus.Desc
	cpuStateDesc         *prometheus.Desc

	// frequency domain
	domainActiveDesc     *prometheus.Desc
	domainFailedOpenDesc *prometheus.Desc
	domainTargetDesc     *prometheus.Desc
	domainLimitDesc      *prometheus.Desc
	domainUsageDesc      *prometheus.Desc
	domainIterationsDesc *prometheus.Desc
}

func coreDesc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cpu", name),
		help, append([]string{"cpu", "core_type"}, labels...), nil)
}

func domainDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "domain", name),
		help, []string{"domain", "cpus"}, nil)
}

// NewPowerCollector creates a collector reading snapshots from monitor
func NewPowerCollector(monitor PowerDataProvider, logger *slog.Logger, metricsLevel config.Level) *PowerCollector {
	c := &PowerCollector{
		pm:           monitor,
		logger:       logger.With("collector", "power"),
		metricsLevel: metricsLevel,

		nodeWattsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "node", "watts"),
			"Estimated power of all online cores in watts", nil, nil),
		nodeJoulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "node", "window_joules"),
			"Estimated energy of all online cores in their open window in joules", nil, nil),

		cpuWattsDesc:         coreDesc("watts", "Estimated power of the core over its last closed window in watts"),
		cpuJoulesDesc:        coreDesc("window_joules", "Estimated energy of the core in its open window in joules"),
		cpuWindowsDesc:       coreDesc("windows_total", "Number of update windows the core has closed"),
		cpuLimitWattsDesc:    coreDesc("limit_watts", "Power limit of the core in watts; 0 or less is unlimited"),
		cpuDisabledDesc:      coreDesc("disabled", "1 if monitoring is disabled because user space owns the counters"),
		cpuOnlineDesc:        coreDesc("online", "1 if the core is online"),
		cpuHasEnergyLeftDesc: coreDesc("has_energy_left", "1 if the core is within its power budget"),
		cpuStateDesc:         coreDesc("state", "Estimator state of the core", "state"),

		domainActiveDesc:     domainDesc("active", "1 if a power capping controller runs for the domain"),
		domainFailedOpenDesc: domainDesc("failed_open", "1 if the controller failed to start and the domain runs uncapped"),
		domainTargetDesc:     domainDesc("target_khz", "Frequency target chosen by the last decision in kHz"),
		domainLimitDesc:      domainDesc("limit_watts", "Summed power limit of the domain at the last decision in watts"),
		domainUsageDesc:      domainDesc("usage_joules", "Summed energy of the domain at the last decision in joules"),
		domainIterationsDesc: domainDesc("decisions_total", "Number of capping decisions taken for the domain since startup"),
	}

	go c.waitForData()

	return c
}

func (c *PowerCollector) waitForData() {
	<-c.pm.DataChannel()
	c.mutex.Lock()
	c.ready = true
	c.mutex.Unlock()
}

func (c *PowerCollector) isReady() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.ready
}

// Describe implements the prometheus.Collector interface
func (c *PowerCollector) Describe(ch chan<- *prometheus.Desc) {
	if c.metricsLevel.IsCoreEnabled() {
		ch <- c.nodeWattsDesc
		ch <- c.nodeJoulesDesc
		ch <- c.cpuWattsDesc
		ch <- c.cpuJoulesDesc
		ch <- c.cpuWindowsDesc
		ch <- c.cpuLimitWattsDesc
		ch <- c.cpuDisabledDesc
		ch <- c.cpuOnlineDesc
		ch <- c.cpuHasEnergyLeftDesc
		ch <- c.cpuStateDesc
	}

	if c.metricsLevel.IsDomainEnabled() {
		ch <- c.domainActiveDesc
		ch <- c.domainFailedOpenDesc
		ch <- c.domainTargetDesc
		ch <- c.domainLimitDesc
		ch <- c.domainUsageDesc
		ch <- c.domainIterationsDesc
	}
}

// Collect implements the prometheus.Collector interface
func (c *PowerCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.isReady() {
		c.logger.Debug("Collect called before monitor is ready")
		return
	}

	started := time.Now()
	defer func() {
		c.logger.Debug("Collected power data", "duration", time.Since(started))
	}()

	snapshot, err := c.pm.Snapshot()
	if err != nil {
		c.logger.Error("Failed to collect power data", "error", err)
		return
	}

	if c.metricsLevel.IsCoreEnabled() {
		c.collectCoreMetrics(ch, snapshot)
	}
	if c.metricsLevel.IsDomainEnabled() {
		c.collectDomainMetrics(ch, snapshot.Domains)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// limitWatts reports every unlimited value as 0
func limitWatts(l int64) float64 {
	if limit.IsUnlimited(l) {
		return 0
	}
	return device.Power(l).Watts()
}

func (c *PowerCollector) collectCoreMetrics(ch chan<- prometheus.Metric, snapshot *monitor.Snapshot) {
	ch <- prometheus.MustNewConstMetric(c.nodeWattsDesc, prometheus.GaugeValue, snapshot.TotalPower.Watts())
	ch <- prometheus.MustNewConstMetric(c.nodeJoulesDesc, prometheus.GaugeValue, snapshot.TotalEnergy.Joules())

	for _, cpu := range snapshot.SortedCPUs() {
		id := strconv.Itoa(cpu.ID)
		coreType := cpu.Type.String()

		ch <- prometheus.MustNewConstMetric(c.cpuWattsDesc, prometheus.GaugeValue, cpu.Power.Watts(), id, coreType)
		// resets at every window close
		ch <- prometheus.MustNewConstMetric(c.cpuJoulesDesc, prometheus.GaugeValue, cpu.Energy.Joules(), id, coreType)
		ch <- prometheus.MustNewConstMetric(c.cpuWindowsDesc, prometheus.CounterValue, float64(cpu.Windows), id, coreType)

		ch <- prometheus.MustNewConstMetric(c.cpuLimitWattsDesc, prometheus.GaugeValue, limitWatts(cpu.Limit), id, coreType)
		ch <- prometheus.MustNewConstMetric(c.cpuDisabledDesc, prometheus.GaugeValue, boolValue(cpu.State == estimator.Disabled), id, coreType)
		ch <- prometheus.MustNewConstMetric(c.cpuOnlineDesc, prometheus.GaugeValue, boolValue(cpu.Online), id, coreType)
		ch <- prometheus.MustNewConstMetric(c.cpuHasEnergyLeftDesc, prometheus.GaugeValue, boolValue(cpu.HasEnergyLeft), id, coreType)
		ch <- prometheus.MustNewConstMetric(c.cpuStateDesc, prometheus.GaugeValue, 1, id, coreType, cpu.State.String())
	}
}

func (c *PowerCollector) collectDomainMetrics(ch chan<- prometheus.Metric, domains monitor.Domains) {
	for _, d := range domains {
		id := strconv.Itoa(d.ID)
		cpus := fmt.Sprint(d.CPUs)

		ch <- prometheus.MustNewConstMetric(c.domainActiveDesc, prometheus.GaugeValue, boolValue(d.Active), id, cpus)
		ch <- prometheus.MustNewConstMetric(c.domainFailedOpenDesc, prometheus.GaugeValue, boolValue(d.FailedOpen), id, cpus)
		ch <- prometheus.MustNewConstMetric(c.domainIterationsDesc, prometheus.CounterValue, float64(d.Iterations), id, cpus)

		if !d.Decided {
			continue
		}
		target := d.MaxKHz
		if d.Target == governor.Min {
			target = d.MinKHz
		}
		ch <- prometheus.MustNewConstMetric(c.domainTargetDesc, prometheus.GaugeValue, float64(target), id, cpus)
		ch <- prometheus.MustNewConstMetric(c.domainLimitDesc, prometheus.GaugeValue, limitWatts(d.Limit), id, cpus)
		ch <- prometheus.MustNewConstMetric(c.domainUsageDesc, prometheus.GaugeValue, d.Usage.Joules(), id, cpus)
	}
}
