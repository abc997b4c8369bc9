// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"slices"
	"time"

	"github.com/sustainable-computing-io/powercap/internal/device"
	"github.com/sustainable-computing-io/powercap/internal/estimator"
	"github.com/sustainable-computing-io/powercap/internal/governor"
	"github.com/sustainable-computing-io/powercap/internal/model"
)

type (
	Energy = device.Energy
	Power  = device.Power
)

const (
	Joule = device.Joule
	Watt  = device.Watt
)

// CPU is the estimator state of one logical core
type CPU struct {
	ID     int
	Type   model.CoreType
	State  estimator.State
	Online bool

	Energy  Energy // accumulated in the open window
	Power   Power  // settled at the last window close
	Windows uint64 // windows closed since startup

	Limit         int64 // nanowatts, <= 0 is unlimited
	HasEnergyLeft bool
}

func (c *CPU) Clone() *CPU {
	ret := *c
	return &ret
}

// Domain is the governor state of one frequency domain
type Domain struct {
	ID     int
	CPUs   []int
	MinKHz uint64
	MaxKHz uint64

	Active     bool
	FailedOpen bool

	// Decided is false until the controller completed its first period
	Decided    bool
	Target     governor.Target
	Limit      int64
	Usage      Energy
	Iterations uint64
}

func (d *Domain) Clone() *Domain {
	ret := *d
	ret.CPUs = slices.Clone(d.CPUs)
	return &ret
}

type (
	CPUs    = map[int]*CPU
	Domains = []*Domain
)

// Snapshot encapsulates power monitoring data
type Snapshot struct {
	Timestamp time.Time // Timestamp of the snapshot

	CPUs    CPUs
	Domains Domains

	// TotalEnergy is the open-window energy of all online cores
	TotalEnergy Energy
	// TotalPower is the settled power of all online cores
	TotalPower Power
}

// NewSnapshot creates a new Snapshot instance
func NewSnapshot() *Snapshot {
	return &Snapshot{
		CPUs: make(CPUs),
	}
}

func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{
		Timestamp:   s.Timestamp,
		CPUs:        make(CPUs, len(s.CPUs)),
		Domains:     make(Domains, 0, len(s.Domains)),
		TotalEnergy: s.TotalEnergy,
		TotalPower:  s.TotalPower,
	}

	for id, src := range s.CPUs {
		clone.CPUs[id] = src.Clone()
	}
	for _, d := range s.Domains {
		clone.Domains = append(clone.Domains, d.Clone())
	}
	return clone
}

// SortedCPUs returns the cores of the snapshot ordered by id
func (s *Snapshot) SortedCPUs() []*CPU {
	ret := make([]*CPU, 0, len(s.CPUs))
	for _, c := range s.CPUs {
		ret = append(ret, c)
	}
	slices.SortFunc(ret, func(a, b *CPU) int { return a.ID - b.ID })
	return ret
}
