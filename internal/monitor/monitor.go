// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/powercap/internal/device"
	"github.com/sustainable-computing-io/powercap/internal/estimator"
	"github.com/sustainable-computing-io/powercap/internal/governor"
	"github.com/sustainable-computing-io/powercap/internal/limit"
	"github.com/sustainable-computing-io/powercap/internal/model"
	"github.com/sustainable-computing-io/powercap/internal/service"
)

var ErrNotInitialized = errors.New("monitor not initialized")

type PowerDataProvider interface {
	// Snapshot returns the current power data
	Snapshot() (*Snapshot, error)

	// DataChannel returns a channel that signals when new data is available
	DataChannel() <-chan struct{}

	// CPUs returns the ids of the monitored cores
	CPUs() []int
}

// DomainStatusProvider reports the governor state of every frequency domain
type DomainStatusProvider interface {
	Status() []governor.DomainStatus
}

// Service defines the interface for the power monitoring service
type Service interface {
	service.Service
	PowerDataProvider
}

// PowerMonitor samples the PMU of every core and publishes snapshots of the
// estimated energy and power
type PowerMonitor struct {
	// passed externally
	logger   *slog.Logger
	topology device.Topology
	pmus     device.PMUFactory
	model    *model.Model
	limits   *limit.Store
	domains  DomainStatusProvider

	interval       time.Duration
	sampleInterval time.Duration
	clock          clock.WithTicker
	maxStaleness   time.Duration
	pinSamplers    bool

	hotplugInterval time.Duration

	registry atomic.Pointer[estimator.Registry]

	// signals when a snapshot has been updated
	dataCh chan struct{}

	computeGroup singleflight.Group
	snapshot     atomic.Pointer[Snapshot]

	// For managing the collection and sampling loops
	collectionCtx    context.Context
	collectionCancel context.CancelFunc
	samplers         sync.WaitGroup
}

var (
	_ Service              = (*PowerMonitor)(nil)
	_ service.Initializer  = (*PowerMonitor)(nil)
	_ service.Runner       = (*PowerMonitor)(nil)
	_ service.Shutdowner   = (*PowerMonitor)(nil)
	_ governor.UsageSource = (*PowerMonitor)(nil)
	_ service.LiveChecker  = (*PowerMonitor)(nil)
	_ service.ReadyChecker = (*PowerMonitor)(nil)
)

// NewPowerMonitor creates a new PowerMonitor instance
func NewPowerMonitor(topo device.Topology, pmus device.PMUFactory, m *model.Model, limits *limit.Store, applyOpts ...OptionFn) *PowerMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())

	monitor := &PowerMonitor{
		logger:           opts.logger.With("service", "monitor"),
		topology:         topo,
		pmus:             pmus,
		model:            m,
		limits:           limits,
		domains:          opts.domains,
		clock:            opts.clock,
		interval:         opts.interval,
		sampleInterval:   opts.sampleInterval,
		dataCh:           make(chan struct{}, 1),
		maxStaleness:     opts.maxStaleness,
		pinSamplers:      opts.pinSamplers,
		hotplugInterval:  opts.hotplugInterval,
		collectionCtx:    ctx,
		collectionCancel: cancel,
	}

	return monitor
}

func (pm *PowerMonitor) Name() string {
	return "monitor"
}

// IsLive reports whether the estimator registry has been built
func (pm *PowerMonitor) IsLive() bool {
	return pm.registry.Load() != nil
}

// IsReady reports whether a snapshot is available
func (pm *PowerMonitor) IsReady() bool {
	return pm.IsLive() && pm.snapshot.Load() != nil
}

// Init opens the PMU of every online core
func (pm *PowerMonitor) Init() error {
	cpus, err := pm.topology.CPUs()
	if err != nil {
		return fmt.Errorf("cpu discovery failed: %w", err)
	}
	if len(cpus) == 0 {
		return fmt.Errorf("no cpus found")
	}
	online, err := pm.topology.OnlineCPUs()
	if err != nil {
		return fmt.Errorf("cpu discovery failed: %w", err)
	}

	reg, err := estimator.NewRegistry(cpus, pm.pmus, pm.model, pm.limits,
		estimator.WithLogger(pm.logger),
		estimator.WithClock(pm.clock),
		estimator.WithOnlineCPUs(online),
	)
	if err != nil {
		return fmt.Errorf("estimator initialization failed: %w", err)
	}
	pm.registry.Store(reg)

	// signal now so that exporters can construct descriptors
	pm.signalNewData()
	return nil
}

func (pm *PowerMonitor) signalNewData() {
	select {
	case pm.dataCh <- struct{}{}: // send signal to any waiting goroutine
		pm.logger.Debug("Data channel updated")
	default:
		pm.logger.Debug("Data channel is full")
	}
}

func (pm *PowerMonitor) Run(ctx context.Context) error {
	reg := pm.registry.Load()
	if reg == nil {
		return ErrNotInitialized
	}

	pm.logger.Info("Monitor is running...", "cpus", len(reg.CPUs()), "sample-interval", pm.sampleInterval)
	for _, cpu := range reg.CPUs() {
		pm.samplers.Add(1)
		go pm.samplingLoop(cpu)
	}
	if pm.hotplugInterval > 0 {
		pm.samplers.Add(1)
		go pm.hotplugLoop()
	}
	pm.collectionLoop()

	<-ctx.Done()
	pm.collectionCancel()
	pm.samplers.Wait()
	pm.logger.Info("Monitor has terminated.")
	return nil
}

func (pm *PowerMonitor) Shutdown() error {
	pm.logger.Info("shutting down monitor")
	pm.collectionCancel()
	pm.samplers.Wait()

	if reg := pm.registry.Load(); reg != nil {
		return reg.Close()
	}
	return nil
}

func (pm *PowerMonitor) DataChannel() <-chan struct{} {
	return pm.dataCh
}

func (pm *PowerMonitor) CPUs() []int {
	if reg := pm.registry.Load(); reg != nil {
		return reg.CPUs()
	}
	return nil
}

// TotalEnergy sums the open-window energy of the online cores among cpus
func (pm *PowerMonitor) TotalEnergy(cpus []int) Energy {
	if reg := pm.registry.Load(); reg != nil {
		return reg.TotalEnergy(cpus)
	}
	return 0
}

// CurrentPower returns the settled power of cpu
func (pm *PowerMonitor) CurrentPower(cpu int) (Power, error) {
	reg := pm.registry.Load()
	if reg == nil {
		return 0, ErrNotInitialized
	}
	return reg.CurrentPower(cpu)
}

// Disabled reports whether monitoring of cpu is disabled
func (pm *PowerMonitor) Disabled(cpu int) (bool, error) {
	reg := pm.registry.Load()
	if reg == nil {
		return false, ErrNotInitialized
	}
	return reg.Disabled(cpu)
}

// HasEnergyLeft reports whether cpu is within its power limit
func (pm *PowerMonitor) HasEnergyLeft(cpu int) bool {
	reg := pm.registry.Load()
	return reg == nil || reg.HasEnergyLeft(cpu)
}

func (pm *PowerMonitor) Snapshot() (*Snapshot, error) {
	if err := pm.ensureFreshData(); err != nil {
		return nil, err
	}

	snapshot := pm.snapshot.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("failed to get snapshot")
	}
	return snapshot.Clone(), nil
}

// samplingLoop samples one core every sampleInterval until the monitor
// stops. The kernel drops the affinity of threads on a core going offline,
// so the sampler pins itself again whenever its core comes online.
func (pm *PowerMonitor) samplingLoop(cpu int) {
	defer pm.samplers.Done()

	reg := pm.registry.Load()
	ticker := pm.clock.NewTicker(pm.sampleInterval)
	defer ticker.Stop()

	failing, wasOnline := false, false
	for {
		online := reg.Online(cpu)
		if online && !wasOnline && pm.pinSamplers {
			if err := pinToCPU(cpu); err != nil {
				pm.logger.Debug("Sampling unpinned", "cpu", cpu, "error", err)
			}
		}
		wasOnline = online

		err := reg.Sample(cpu)
		switch {
		case err != nil && !failing:
			pm.logger.Warn("Sampling failed", "cpu", cpu, "error", err)
			failing = true
		case err == nil && failing:
			pm.logger.Info("Sampling recovered", "cpu", cpu)
			failing = false
		}

		select {
		case <-pm.collectionCtx.Done():
			return
		case <-ticker.C():
		}
	}
}

// hotplugLoop rereads the online cores every hotplugInterval
func (pm *PowerMonitor) hotplugLoop() {
	defer pm.samplers.Done()

	ticker := pm.clock.NewTicker(pm.hotplugInterval)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-pm.collectionCtx.Done():
			return
		case <-ticker.C():
		}

		err := pm.refreshOnline()
		switch {
		case err != nil && !failing:
			pm.logger.Warn("Failed to refresh online cpus", "error", err)
			failing = true
		case err == nil && failing:
			pm.logger.Info("Online cpus refreshed")
			failing = false
		}
	}
}

// refreshOnline brings the registry in line with the cores the topology
// reports online
func (pm *PowerMonitor) refreshOnline() error {
	reg := pm.registry.Load()
	if reg == nil {
		return ErrNotInitialized
	}

	online, err := pm.topology.OnlineCPUs()
	if err != nil {
		return fmt.Errorf("failed to read online cpus: %w", err)
	}
	up := make(map[int]bool, len(online))
	for _, cpu := range online {
		up[cpu] = true
	}

	var errs error
	for _, cpu := range reg.CPUs() {
		if reg.Online(cpu) == up[cpu] {
			continue
		}
		if err := reg.SetOnline(cpu, up[cpu]); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// collectionLoop handles periodic snapshot collection
func (pm *PowerMonitor) collectionLoop() {
	if err := pm.synchronizedPowerRefresh(); err != nil {
		pm.logger.Error("Failed to collect initial power data", "error", err)
	}

	if pm.interval > 0 {
		pm.scheduleNextCollection()
	}
}

// scheduleNextCollection schedules the next data collection
func (pm *PowerMonitor) scheduleNextCollection() {
	timer := pm.clock.After(pm.interval)
	go func() {
		select {
		case <-timer:
			if err := pm.synchronizedPowerRefresh(); err != nil {
				pm.logger.Error("Failed to collect power data", "error", err)
			}
			pm.scheduleNextCollection()

		case <-pm.collectionCtx.Done():
			pm.logger.Info("Collection loop terminated")
			return
		}
	}()
}

// ensureFreshData ensures that the data returned is recent enough (< maxStaleness)
func (pm *PowerMonitor) ensureFreshData() error {
	if pm.isFresh() {
		return nil
	}

	return pm.synchronizedPowerRefresh()
}

// synchronizedPowerRefresh creates a new snapshot while ensuring that only
// one goroutine computes it at a time
func (pm *PowerMonitor) synchronizedPowerRefresh() error {
	_, err, _ := pm.computeGroup.Do("compute", func() (any, error) {
		// another caller may have refreshed while this one waited
		if pm.isFresh() {
			return nil, nil
		}

		return nil, pm.refreshSnapshot()
	})

	return err
}

func (pm *PowerMonitor) isFresh() bool {
	snapshot := pm.snapshot.Load()
	if snapshot == nil || snapshot.Timestamp.IsZero() {
		return false
	}

	age := pm.clock.Now().Sub(snapshot.Timestamp)
	return age <= pm.maxStaleness
}

// refreshSnapshot reads the state of every core and domain into a new snapshot
func (pm *PowerMonitor) refreshSnapshot() error {
	reg := pm.registry.Load()
	if reg == nil {
		return ErrNotInitialized
	}

	newSnapshot := NewSnapshot()
	for _, cpu := range reg.CPUs() {
		r, err := reg.Read(cpu)
		if err != nil {
			return fmt.Errorf("failed to read cpu %d: %w", cpu, err)
		}
		newSnapshot.CPUs[cpu] = &CPU{
			ID:            cpu,
			Type:          r.Type,
			State:         r.State,
			Online:        r.Online,
			Energy:        r.Energy,
			Power:         r.Power,
			Windows:       r.Windows,
			Limit:         pm.limits.Limit(cpu),
			HasEnergyLeft: reg.HasEnergyLeft(cpu),
		}
	}
	newSnapshot.TotalEnergy = reg.TotalCurrentEnergyUsage()
	newSnapshot.TotalPower = reg.TotalPower(reg.CPUs())

	if pm.domains != nil {
		for _, st := range pm.domains.Status() {
			d := &Domain{
				ID:         st.Domain.ID,
				CPUs:       st.Domain.CPUs,
				MinKHz:     st.Domain.MinKHz,
				MaxKHz:     st.Domain.MaxKHz,
				Active:     st.Active,
				FailedOpen: st.FailedOpen,
				Iterations: st.Iterations,
			}
			if st.Last != nil {
				d.Decided = true
				d.Target = st.Last.Target
				d.Limit = st.Last.Limit
				d.Usage = st.Last.Usage
			}
			newSnapshot.Domains = append(newSnapshot.Domains, d)
		}
	}

	newSnapshot.Timestamp = pm.clock.Now()
	pm.snapshot.Store(newSnapshot)
	pm.signalNewData()
	pm.logger.Debug("refreshSnapshot",
		"cpus", len(newSnapshot.CPUs),
		"domains", len(newSnapshot.Domains),
		"total-energy", newSnapshot.TotalEnergy,
	)

	return nil
}
