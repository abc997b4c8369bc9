// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package estimator turns PMU event counts into per-core energy and power.
package estimator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/powercap/internal/device"
	"github.com/sustainable-computing-io/powercap/internal/limit"
	"github.com/sustainable-computing-io/powercap/internal/model"
)

// UpdateInterval is the length of an accumulation window. When a sample
// finds more than UpdateInterval elapsed since the window started, the
// accumulated energy collapses into the settled power of the core.
const UpdateInterval = 1000 * time.Millisecond

var (
	ErrUnknownCPU = errors.New("unknown cpu")
	ErrOffline    = errors.New("cpu offline")
)

// Registry owns the energy state of every logical core
type Registry struct {
	logger *slog.Logger
	clock  clock.PassiveClock
	model  *model.Model
	limits *limit.Store
	pmus   device.PMUFactory

	cores map[int]*CoreEnergyState
	cpus  []int
}

// NewRegistry opens one PMU per online core in cpus and returns a registry
// with every core Uninitialized
func NewRegistry(cpus []int, pmus device.PMUFactory, m *model.Model, limits *limit.Store, applyOpts ...OptionFn) (*Registry, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	r := &Registry{
		logger: opts.logger.With("service", "estimator"),
		clock:  opts.clock,
		model:  m,
		limits: limits,
		pmus:   pmus,
		cores:  make(map[int]*CoreEnergyState, len(cpus)),
	}

	online := func(int) bool { return true }
	if opts.online != nil {
		up := make(map[int]bool, len(opts.online))
		for _, cpu := range opts.online {
			up[cpu] = true
		}
		online = func(cpu int) bool { return up[cpu] }
	}

	for _, cpu := range cpus {
		if _, dup := r.cores[cpu]; dup {
			continue
		}
		table := m.For(cpu)
		if err := table.Validate(); err != nil {
			return nil, errors.Join(fmt.Errorf("cpu %d: %w", cpu, err), r.Close())
		}
		var pmu device.PMU
		if online(cpu) {
			var err error
			if pmu, err = pmus(cpu); err != nil {
				return nil, errors.Join(fmt.Errorf("failed to open PMU of cpu %d: %w", cpu, err), r.Close())
			}
		}
		r.cores[cpu] = newCoreEnergyState(cpu, m.TypeOf(cpu), table, pmu)
		r.cpus = append(r.cpus, cpu)
	}
	sort.Ints(r.cpus)

	r.logger.Info("Estimator initialized", "cpus", len(r.cpus), "offline", r.offline(), "types", m.Types(r.cpus))
	return r, nil
}

// CPUs returns the ids of all cores in the registry
func (r *Registry) CPUs() []int {
	return append([]int(nil), r.cpus...)
}

func (r *Registry) core(cpu int) (*CoreEnergyState, error) {
	c, ok := r.cores[cpu]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCPU, cpu)
	}
	return c, nil
}

// Sample advances the estimator of cpu by one step. Callers must not sample
// the same core from two goroutines at once; the per-core lock only keeps
// the counter sequence intact when they do.
func (r *Registry) Sample(cpu int) error {
	c, err := r.core(cpu)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return r.sample(c)
}

func (r *Registry) sample(c *CoreEnergyState) error {
	if c.pmu == nil {
		return nil
	}

	userMode, err := c.pmu.UserModeAccessEnabled()
	if err != nil {
		return fmt.Errorf("cpu %d: failed to read user-mode access: %w", c.cpu, err)
	}
	if userMode {
		c.energy.Store(0)
		c.power.Store(0)
		if !c.disabled.Swap(true) {
			r.logger.Warn("User-mode counter access enabled, monitoring disabled", "cpu", c.cpu)
		}
		return nil
	}

	if c.disabled.Load() {
		if err := c.pmu.DisableCounters(); err != nil {
			return fmt.Errorf("cpu %d: failed to disable counters: %w", c.cpu, err)
		}
		c.disabled.Store(false)
		r.logger.Info("User-mode counter access disabled, monitoring resumed", "cpu", c.cpu)
	}

	running, err := c.pmu.CountersRunning()
	if err != nil {
		return fmt.Errorf("cpu %d: failed to read counter state: %w", c.cpu, err)
	}

	var errs error
	if running {
		errs = r.accumulate(c)
	} else {
		errs = r.program(c)
	}

	// every interval starts from zero
	if err := c.pmu.ResetCounters(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("cpu %d: failed to reset counters: %w", c.cpu, err))
	}
	if err := c.pmu.ResetCycleCounter(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("cpu %d: failed to reset cycle counter: %w", c.cpu, err))
	}
	if err := c.pmu.EnableCounters(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("cpu %d: failed to enable counters: %w", c.cpu, err))
	}
	return errs
}

// program selects the events of the core's table and opens a new window
func (r *Registry) program(c *CoreEnergyState) error {
	var errs error
	for i, e := range c.table {
		if e.Cycles {
			continue
		}
		if err := c.pmu.SelectCounter(c.slots[i], e.Event); err != nil {
			errs = errors.Join(errs, fmt.Errorf("cpu %d: failed to select %s: %w", c.cpu, e, err))
		}
	}

	c.energy.Store(0)
	c.power.Store(0)
	c.windowStart.Store(r.clock.Now().UnixNano())
	if !c.initialized.Swap(true) {
		r.logger.Debug("Counters programmed", "cpu", c.cpu, "type", c.coreType)
	}
	return errs
}

// accumulate stops the counters, adds the energy of the last interval and
// closes the window once UpdateInterval has passed
func (r *Registry) accumulate(c *CoreEnergyState) error {
	if err := c.pmu.DisableCounters(); err != nil {
		return fmt.Errorf("cpu %d: failed to stop counters: %w", c.cpu, err)
	}

	e, err := r.evaluate(c)
	if err != nil {
		return err
	}
	energy := c.energy.Add(e)

	now := r.clock.Now()
	elapsed := now.Sub(time.Unix(0, c.windowStart.Load())).Milliseconds()
	if elapsed > UpdateInterval.Milliseconds() {
		c.power.Store(int64(device.PowerOver(device.Energy(energy), elapsed)))
		c.energy.Store(0)
		c.windowStart.Store(now.UnixNano())
		c.windows.Add(1)
	}
	return nil
}

// Evaluate returns the energy in picojoules the current counter readings of
// cpu represent. It does not change any state.
func (r *Registry) Evaluate(cpu int) (device.Energy, error) {
	c, err := r.core(cpu)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pmu == nil {
		return 0, fmt.Errorf("%w: %d", ErrOffline, cpu)
	}
	e, err := r.evaluate(c)
	return device.Energy(e), err
}

// evaluate computes the weighted sum of the counters. 32-bit counter
// wraparound is not corrected.
func (r *Registry) evaluate(c *CoreEnergyState) (int64, error) {
	var result int64
	for i, e := range c.table {
		var (
			count uint32
			err   error
		)
		if e.Cycles {
			count, err = c.pmu.ReadCycleCounter()
		} else {
			count, err = c.pmu.ReadCounter(c.slots[i])
		}
		if err != nil {
			return 0, fmt.Errorf("cpu %d: failed to read %s: %w", c.cpu, e, err)
		}
		result += e.Weight * int64(count)
	}
	return result, nil
}

// Read returns a copy of the state of cpu
func (r *Registry) Read(cpu int) (Reading, error) {
	c, err := r.core(cpu)
	if err != nil {
		return Reading{}, err
	}
	return c.read(), nil
}

// State returns the sampling state of cpu
func (r *Registry) State(cpu int) (State, error) {
	c, err := r.core(cpu)
	if err != nil {
		return Uninitialized, err
	}
	return c.state(), nil
}

// CurrentPower returns the settled power of cpu
func (r *Registry) CurrentPower(cpu int) (device.Power, error) {
	c, err := r.core(cpu)
	if err != nil {
		return 0, err
	}
	return device.Power(c.power.Load()), nil
}

// AccumulatedEnergy returns the energy of cpu in the open window
func (r *Registry) AccumulatedEnergy(cpu int) (device.Energy, error) {
	c, err := r.core(cpu)
	if err != nil {
		return 0, err
	}
	return device.Energy(c.energy.Load()), nil
}

// Disabled reports whether monitoring of cpu is disabled
func (r *Registry) Disabled(cpu int) (bool, error) {
	c, err := r.core(cpu)
	if err != nil {
		return false, err
	}
	return c.disabled.Load(), nil
}

// SetOnline hotplugs cpu in or out. Bringing a core online opens its PMU
// and starts it Uninitialized; taking it offline closes the PMU and drops
// its energy. Offline cores are skipped by Sample and by the aggregates.
func (r *Registry) SetOnline(cpu int, online bool) error {
	c, err := r.core(cpu)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online.Load() == online {
		return nil
	}

	if online {
		pmu, err := r.pmus(cpu)
		if err != nil {
			return fmt.Errorf("failed to open PMU of cpu %d: %w", cpu, err)
		}
		c.pmu = pmu
		c.reset()
	} else {
		c.reset()
		pmu := c.pmu
		c.pmu = nil
		if pmu != nil {
			if err := pmu.Close(); err != nil {
				r.logger.Warn("Failed to close PMU of offline cpu", "cpu", cpu, "error", err)
			}
		}
	}
	c.online.Store(online)
	r.logger.Info("CPU online state changed", "cpu", cpu, "online", online)
	return nil
}

func (r *Registry) offline() int {
	n := 0
	for _, c := range r.cores {
		if !c.online.Load() {
			n++
		}
	}
	return n
}

// Online reports whether cpu counts towards aggregates
func (r *Registry) Online(cpu int) bool {
	c, err := r.core(cpu)
	return err == nil && c.online.Load()
}

// TotalCurrentEnergyUsage sums the open-window energy of every online core
func (r *Registry) TotalCurrentEnergyUsage() device.Energy {
	return r.TotalEnergy(r.cpus)
}

// TotalEnergy sums the open-window energy of the online cores among cpus.
// Unknown cores are ignored.
func (r *Registry) TotalEnergy(cpus []int) device.Energy {
	var total int64
	for _, cpu := range cpus {
		if c, ok := r.cores[cpu]; ok && c.online.Load() {
			total += c.energy.Load()
		}
	}
	return device.Energy(total)
}

// TotalPower sums the settled power of the online cores among cpus
func (r *Registry) TotalPower(cpus []int) device.Power {
	var total int64
	for _, cpu := range cpus {
		if c, ok := r.cores[cpu]; ok && c.online.Load() {
			total += c.power.Load()
		}
	}
	return device.Power(total)
}

// HasEnergyLeft reports whether cpu is still within its power limit. Low-power
// cores, offline cores and cores without a limit always have energy left. The rate is read
// without synchronizing with the sampler and is only approximate.
func (r *Registry) HasEnergyLeft(cpu int) bool {
	c, err := r.core(cpu)
	if err != nil || c.coreType == model.LowPower || !c.online.Load() {
		return true
	}

	l := r.limits.Limit(cpu)
	if limit.IsUnlimited(l) {
		return true
	}

	elapsed := r.clock.Since(time.Unix(0, c.windowStart.Load())).Milliseconds()
	rate := device.PowerOver(device.Energy(c.energy.Load()), elapsed)
	return l >= int64(rate)
}

// Close releases the PMUs of all cores
func (r *Registry) Close() error {
	var errs error
	for _, cpu := range r.cpus {
		c := r.cores[cpu]
		c.mu.Lock()
		if c.pmu != nil {
			if err := c.pmu.Close(); err != nil {
				errs = errors.Join(errs, fmt.Errorf("cpu %d: %w", cpu, err))
			}
		}
		c.mu.Unlock()
	}
	return errs
}
