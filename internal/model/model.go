// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package model holds the per core type energy models: weighted sums of PMU
// event counts that estimate the energy a core consumed.
package model

import (
	"fmt"
	"sort"
)

// CoreType is the microarchitecture class of a logical core
type CoreType int

const (
	// LowPower cores form the efficiency cluster (Cortex-A7)
	LowPower CoreType = iota
	// HighPerformance cores form the performance cluster (Cortex-A15)
	HighPerformance
)

func (t CoreType) String() string {
	switch t {
	case LowPower:
		return "low-power"
	case HighPerformance:
		return "high-performance"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Classifier maps a logical core to its CoreType
type Classifier func(cpu int) CoreType

// ThresholdClassifier treats cores below boundary as low-power. On the
// Exynos 5 Octa the four Cortex-A7 cores are numbered first and hotplug does
// not renumber cores.
func ThresholdClassifier(boundary int) Classifier {
	return func(cpu int) CoreType {
		if cpu < boundary {
			return LowPower
		}
		return HighPerformance
	}
}

// CapacityClassifier treats every core whose capacity is below the largest
// capacity as low-power. Cores missing from caps are high-performance. When
// all cores share one capacity every core is high-performance.
func CapacityClassifier(caps map[int]uint64) Classifier {
	var maxCap uint64
	for _, c := range caps {
		maxCap = max(maxCap, c)
	}

	return func(cpu int) CoreType {
		c, ok := caps[cpu]
		if ok && c < maxCap {
			return LowPower
		}
		return HighPerformance
	}
}

// Model selects the energy model table of a core
type Model struct {
	classify Classifier
	tables   map[CoreType]Table
}

// New returns a Model with the built-in tables
func New(classify Classifier) *Model {
	return &Model{
		classify: classify,
		tables: map[CoreType]Table{
			LowPower:        CortexA7,
			HighPerformance: CortexA15,
		},
	}
}

// TypeOf returns the core type of cpu
func (m *Model) TypeOf(cpu int) CoreType {
	return m.classify(cpu)
}

// For returns the table that applies to cpu
func (m *Model) For(cpu int) Table {
	return m.tables[m.classify(cpu)]
}

// Types returns the distinct core types among cpus, sorted
func (m *Model) Types(cpus []int) []CoreType {
	seen := map[CoreType]bool{}
	var types []CoreType
	for _, cpu := range cpus {
		t := m.classify(cpu)
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
