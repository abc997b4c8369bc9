// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package estimator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sustainable-computing-io/powercap/internal/device"
	"github.com/sustainable-computing-io/powercap/internal/model"
)

// State is the sampling state of one core
type State int

const (
	// Uninitialized cores have never programmed their counters
	Uninitialized State = iota
	// Disabled cores detected user-mode counter access and leave the counters alone
	Disabled
	// Running cores accumulate energy every sample
	Running
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Disabled:
		return "disabled"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CoreEnergyState is the estimator state of one logical core. Sample is the
// only writer; every field read by other cores is atomic.
type CoreEnergyState struct {
	cpu      int
	coreType model.CoreType
	table    model.Table
	slots    []int

	// mu keeps one sampling sequence on this core from interleaving with
	// another or with a hotplug. pmu is nil while the core is offline.
	mu  sync.Mutex
	pmu device.PMU

	energy      atomic.Int64 // picojoules since windowStart
	power       atomic.Int64 // nanowatts, settled at the last window close
	windowStart atomic.Int64 // unix nanoseconds
	windows     atomic.Uint64
	disabled    atomic.Bool
	initialized atomic.Bool
	online      atomic.Bool
}

func newCoreEnergyState(cpu int, coreType model.CoreType, table model.Table, pmu device.PMU) *CoreEnergyState {
	c := &CoreEnergyState{
		cpu:      cpu,
		coreType: coreType,
		table:    table,
		slots:    table.Slots(),
		pmu:      pmu,
	}
	c.online.Store(pmu != nil)
	return c
}

// reset forgets the energy of the core so the next sample programs afresh
func (c *CoreEnergyState) reset() {
	c.energy.Store(0)
	c.power.Store(0)
	c.initialized.Store(false)
	c.disabled.Store(false)
}

func (c *CoreEnergyState) state() State {
	switch {
	case c.disabled.Load():
		return Disabled
	case !c.initialized.Load():
		return Uninitialized
	default:
		return Running
	}
}

// Reading is a point in time copy of a core's estimator state
type Reading struct {
	CPU         int
	Type        model.CoreType
	State       State
	Online      bool
	Energy      device.Energy
	Power       device.Power
	WindowStart time.Time
	// Windows counts the windows closed since startup
	Windows uint64
}

func (c *CoreEnergyState) read() Reading {
	return Reading{
		CPU:         c.cpu,
		Type:        c.coreType,
		State:       c.state(),
		Online:      c.online.Load(),
		Energy:      device.Energy(c.energy.Load()),
		Power:       device.Power(c.power.Load()),
		WindowStart: time.Unix(0, c.windowStart.Load()),
		Windows:     c.windows.Load(),
	}
}
