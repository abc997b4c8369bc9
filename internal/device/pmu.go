// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import "fmt"

// MaxProgrammableCounters is the number of event counters a single core
// exposes besides the free-running cycle counter (Cortex-A15 has 6).
const MaxProgrammableCounters = 6

// DefaultUserAccessPath is the sysctl that grants user space direct access
// to the PMU on arm64
const DefaultUserAccessPath = "/proc/sys/kernel/perf_user_access"

// PMU is the counter access facility of a single logical core. All methods
// act on the counters of the core the PMU was opened for. Implementations
// need not be safe for concurrent use; callers serialize access per core.
type PMU interface {
	// Name returns a string identifying the backend
	Name() string

	// SelectCounter programs the event counter at slot to count event.
	SelectCounter(slot int, event Event) error

	// ReadCounter returns the raw value of the event counter at slot.
	// Counters are 32-bit and wrap around silently.
	ReadCounter(slot int) (uint32, error)

	// ReadCycleCounter returns the raw value of the free-running cycle counter.
	ReadCycleCounter() (uint32, error)

	// ResetCounters zeroes every programmable event counter.
	ResetCounters() error

	// ResetCycleCounter zeroes the cycle counter.
	ResetCycleCounter() error

	// EnableCounters starts all counters.
	EnableCounters() error

	// DisableCounters stops all counters without clearing their values.
	DisableCounters() error

	// CountersRunning reports whether the counters are currently enabled.
	CountersRunning() (bool, error)

	// UserModeAccessEnabled reports whether user space has been granted direct
	// access to the counters. Sampling must not touch the counters while set.
	UserModeAccessEnabled() (bool, error)

	// Close releases the resources held by the PMU
	Close() error
}

// PMUFactory opens the PMU of the given logical core
type PMUFactory func(cpu int) (PMU, error)

// Event is a hardware event number as programmed into an event type register.
type Event uint32

// ARMv7 PMUv2 architectural events
const (
	SwIncr               Event = 0x00
	L1ICacheRefill       Event = 0x01
	L1ITLBRefill         Event = 0x02
	L1DCacheRefill       Event = 0x03
	L1DCache             Event = 0x04
	L1DTLBRefill         Event = 0x05
	LdRetired            Event = 0x06
	StRetired            Event = 0x07
	InstRetired          Event = 0x08
	ExcTaken             Event = 0x09
	ExcReturn            Event = 0x0A
	CIDWriteRetired      Event = 0x0B
	PCWriteRetired       Event = 0x0C
	BrImmedRetired       Event = 0x0D
	BrReturnRetired      Event = 0x0E
	UnalignedLdStRetired Event = 0x0F
	BrMisPred            Event = 0x10
	CPUCycles            Event = 0x11
	BrPred               Event = 0x12
	MemAccess            Event = 0x13
	L1ICache             Event = 0x14
	L1DCacheWB           Event = 0x15
	L2DCache             Event = 0x16
	L2DCacheRefill       Event = 0x17
	L2DCacheWB           Event = 0x18
	BusAccess            Event = 0x19
	MemoryError          Event = 0x1A
	InstSpec             Event = 0x1B
	TTBRWriteRetired     Event = 0x1C
	BusCycles            Event = 0x1D
)

// Cortex-A15 implementation defined events
const (
	DPSpec  Event = 0x73
	ASESpec Event = 0x74
	VFPSpec Event = 0x75
)

var eventNames = map[Event]string{
	SwIncr:               "SW_INCR",
	L1ICacheRefill:       "L1I_CACHE_REFILL",
	L1ITLBRefill:         "L1I_TLB_REFILL",
	L1DCacheRefill:       "L1D_CACHE_REFILL",
	L1DCache:             "L1D_CACHE",
	L1DTLBRefill:         "L1D_TLB_REFILL",
	LdRetired:            "LD_RETIRED",
	StRetired:            "ST_RETIRED",
	InstRetired:          "INST_RETIRED",
	ExcTaken:             "EXC_TAKEN",
	ExcReturn:            "EXC_RETURN",
	CIDWriteRetired:      "CID_WRITE_RETIRED",
	PCWriteRetired:       "PC_WRITE_RETIRED",
	BrImmedRetired:       "BR_IMMED_RETIRED",
	BrReturnRetired:      "BR_RETURN_RETIRED",
	UnalignedLdStRetired: "UNALIGNED_LDST_RETIRED",
	BrMisPred:            "BR_MIS_PRED",
	CPUCycles:            "CPU_CYCLES",
	BrPred:               "BR_PRED",
	MemAccess:            "MEM_ACCESS",
	L1ICache:             "L1I_CACHE",
	L1DCacheWB:           "L1D_CACHE_WB",
	L2DCache:             "L2D_CACHE",
	L2DCacheRefill:       "L2D_CACHE_REFILL",
	L2DCacheWB:           "L2D_CACHE_WB",
	BusAccess:            "BUS_ACCESS",
	MemoryError:          "MEMORY_ERROR",
	InstSpec:             "INST_SPEC",
	TTBRWriteRetired:     "TTBR_WRITE_RETIRED",
	BusCycles:            "BUS_CYCLES",
	DPSpec:               "DP_SPEC",
	ASESpec:              "ASE_SPEC",
	VFPSpec:              "VFP_SPEC",
}

// String returns the symbolic event name, or the hex event number for events
// not in the catalog
func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint32(e))
}

func checkSlot(slot int) error {
	if slot < 0 || slot >= MaxProgrammableCounters {
		return fmt.Errorf("invalid counter slot %d: must be in [0, %d)", slot, MaxProgrammableCounters)
	}
	return nil
}
