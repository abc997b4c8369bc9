// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/powercap/internal/device"
)

func TestTablesArePreScaled(t *testing.T) {
	// regression coefficients the tables were generated from
	coefficients := map[string][]float64{
		"a15": {
			6.448446679859954e-06,
			-1.3116397823286028e-07,
			2.4606358411235e-10,
			1.5813244507839535e-06,
			-8.824135849354271e-06,
			7.601199539578169e-10,
			1.5849463107519799e-09,
		},
		"a7": {
			6.166023259107466e-10,
			3.252129874527141e-08,
			-5.591860964520609e-08,
			1.8150459114876734e-07,
			1.0141460676251428e-10,
		},
	}
	tables := map[string]Table{"a15": CortexA15, "a7": CortexA7}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			coeffs := coefficients[name]
			require.Len(t, table, len(coeffs))
			for i, c := range coeffs {
				assert.Equal(t, int64(c/WeightScale), table[i].Weight, "entry %d (%s)", i, table[i])
			}
		})
	}
}

func TestTableLayout(t *testing.T) {
	assert.Equal(t, []string{"ASE_SPEC", "BR_MIS_PRED", "DP_SPEC", "L2D_CACHE_REFILL", "L2D_CACHE_WB", "PMCCNTR", "VFP_SPEC"},
		entryNames(CortexA15))
	assert.Equal(t, []string{"BR_MIS_PRED", "L1D_TLB_REFILL", "L2D_CACHE_REFILL", "L2D_CACHE_WB", "PMCCNTR"},
		entryNames(CortexA7))

	assert.NoError(t, CortexA15.Validate())
	assert.NoError(t, CortexA7.Validate())
}

func entryNames(t Table) []string {
	names := make([]string, len(t))
	for i, e := range t {
		names[i] = e.String()
	}
	return names
}

func TestTableSlots(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		want  []int
	}{{
		name:  "cortex-a15 cycle counter at position 5",
		table: CortexA15,
		want:  []int{0, 1, 2, 3, 4, CycleSlot, 5},
	}, {
		name:  "cortex-a7 cycle counter last",
		table: CortexA7,
		want:  []int{0, 1, 2, 3, CycleSlot},
	}, {
		name:  "cycle counter first",
		table: Table{{Cycles: true}, {Event: device.BrPred}, {Event: device.InstRetired}},
		want:  []int{CycleSlot, 0, 1},
	}, {
		name:  "no cycle counter",
		table: Table{{Event: device.BrPred}, {Event: device.InstRetired}},
		want:  []int{0, 1},
	}, {
		name:  "empty",
		table: Table{},
		want:  []int{},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.table.Slots())
		})
	}
}

func TestTableSlotShiftProperty(t *testing.T) {
	for name, table := range map[string]Table{"a15": CortexA15, "a7": CortexA7} {
		t.Run(name, func(t *testing.T) {
			k := -1
			for i, e := range table {
				if e.Cycles {
					k = i
				}
			}
			require.NotEqual(t, -1, k, "table must use the cycle counter")

			slots := table.Slots()
			for i := range table {
				switch {
				case i < k:
					assert.Equal(t, i, slots[i])
				case i > k:
					assert.Equal(t, i-1, slots[i])
				default:
					assert.Equal(t, CycleSlot, slots[i])
				}
			}
		})
	}
}

func TestTableValidate(t *testing.T) {
	twoCycles := Table{{Cycles: true}, {Cycles: true}}
	assert.ErrorContains(t, twoCycles.Validate(), "cycle counter 2 times")

	tooMany := Table{}
	for i := 0; i <= device.MaxProgrammableCounters; i++ {
		tooMany = append(tooMany, Entry{Event: device.InstRetired})
	}
	assert.ErrorContains(t, tooMany.Validate(), "event counters")
}

func TestThresholdClassifier(t *testing.T) {
	classify := ThresholdClassifier(4)
	for cpu := 0; cpu < 4; cpu++ {
		assert.Equal(t, LowPower, classify(cpu), "cpu %d", cpu)
	}
	for cpu := 4; cpu < 8; cpu++ {
		assert.Equal(t, HighPerformance, classify(cpu), "cpu %d", cpu)
	}
}

func TestCapacityClassifier(t *testing.T) {
	t.Run("big.LITTLE", func(t *testing.T) {
		classify := CapacityClassifier(map[int]uint64{0: 446, 1: 446, 2: 1024, 3: 1024})
		assert.Equal(t, LowPower, classify(0))
		assert.Equal(t, LowPower, classify(1))
		assert.Equal(t, HighPerformance, classify(2))
		assert.Equal(t, HighPerformance, classify(3))
		assert.Equal(t, HighPerformance, classify(9), "unknown cores are high-performance")
	})

	t.Run("symmetric", func(t *testing.T) {
		classify := CapacityClassifier(map[int]uint64{0: 1024, 1: 1024})
		assert.Equal(t, HighPerformance, classify(0))
		assert.Equal(t, HighPerformance, classify(1))
	})

	t.Run("no capacities", func(t *testing.T) {
		classify := CapacityClassifier(nil)
		assert.Equal(t, HighPerformance, classify(0))
	})
}

func TestModelFor(t *testing.T) {
	m := New(ThresholdClassifier(2))
	assert.Equal(t, CortexA7, m.For(0))
	assert.Equal(t, CortexA7, m.For(1))
	assert.Equal(t, CortexA15, m.For(2))
	assert.Equal(t, LowPower, m.TypeOf(1))
	assert.Equal(t, HighPerformance, m.TypeOf(3))
	assert.Equal(t, []CoreType{LowPower, HighPerformance}, m.Types([]int{3, 0, 1, 2}))
	assert.Equal(t, []CoreType{HighPerformance}, m.Types([]int{2, 3}))
}

func TestCoreTypeString(t *testing.T) {
	assert.Equal(t, "low-power", LowPower.String())
	assert.Equal(t, "high-performance", HighPerformance.String())
	assert.Equal(t, "unknown(7)", CoreType(7).String())
}
