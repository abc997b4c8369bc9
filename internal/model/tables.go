// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"

	"github.com/sustainable-computing-io/powercap/internal/device"
)

// WeightScale is the fixed-point base of all weights: a weight of 1 is one
// picojoule per event.
const WeightScale = 1e-12

// Entry is one term of an energy model
type Entry struct {
	// Event is the programmable counter event. Ignored when Cycles is set.
	Event device.Event
	// Cycles selects the free-running cycle counter instead of an event counter
	Cycles bool
	// Weight is energy per event in units of WeightScale joules
	Weight int64
}

func (e Entry) String() string {
	if e.Cycles {
		return "PMCCNTR"
	}
	return e.Event.String()
}

// Table is an ordered energy model. The order defines the counter slot each
// event is programmed into.
type Table []Entry

// Weights are the regression coefficients (joules per event) divided by
// WeightScale and truncated toward zero. The original coefficients are kept
// alongside each literal.
var (
	CortexA15 = Table{
		{Event: device.ASESpec, Weight: 6448446},        // 6.448446679859954e-06
		{Event: device.BrMisPred, Weight: -131163},      // -1.3116397823286028e-07
		{Event: device.DPSpec, Weight: 246},             // 2.4606358411235e-10
		{Event: device.L2DCacheRefill, Weight: 1581324}, // 1.5813244507839535e-06
		{Event: device.L2DCacheWB, Weight: -8824135},    // -8.824135849354271e-06
		{Cycles: true, Weight: 760},                     // 7.601199539578169e-10
		{Event: device.VFPSpec, Weight: 1584},           // 1.5849463107519799e-09
	}

	CortexA7 = Table{
		{Event: device.BrMisPred, Weight: 616},         // 6.166023259107466e-10
		{Event: device.L1DTLBRefill, Weight: 32521},    // 3.252129874527141e-08
		{Event: device.L2DCacheRefill, Weight: -55918}, // -5.591860964520609e-08
		{Event: device.L2DCacheWB, Weight: 181504},     // 1.8150459114876734e-07
		{Cycles: true, Weight: 101},                    // 1.0141460676251428e-10
	}
)

// CycleSlot marks the entry read from the cycle counter in Slots
const CycleSlot = -1

// Slots maps every entry to the programmable counter slot it occupies. The
// cycle counter does not consume a slot, so every entry after it is shifted
// down by one. The cycle entry itself maps to CycleSlot.
func (t Table) Slots() []int {
	slots := make([]int, len(t))
	shift := 0
	for i, e := range t {
		if e.Cycles {
			slots[i] = CycleSlot
			shift = -1
			continue
		}
		slots[i] = i + shift
	}
	return slots
}

// Validate checks the table fits the counters of one core
func (t Table) Validate() error {
	cycles := 0
	events := 0
	for _, e := range t {
		if e.Cycles {
			cycles++
		} else {
			events++
		}
	}
	if cycles > 1 {
		return fmt.Errorf("energy model uses the cycle counter %d times", cycles)
	}
	if events > device.MaxProgrammableCounters {
		return fmt.Errorf("energy model needs %d event counters, only %d available", events, device.MaxProgrammableCounters)
	}
	return nil
}
