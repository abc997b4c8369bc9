// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/procfs/sysfs"
)

// Topology describes the logical cores known to the system
type Topology interface {
	// CPUs returns the sorted ids of all present logical cores, online or not
	CPUs() ([]int, error)

	// OnlineCPUs returns the sorted ids of the cores currently online
	OnlineCPUs() ([]int, error)

	// Capacities returns the relative compute capacity of each core. Cores
	// without capacity information are absent from the map.
	Capacities() (map[int]uint64, error)
}

type sysfsTopology struct {
	fs   sysfs.FS
	root string
}

var _ Topology = (*sysfsTopology)(nil)

// NewTopology returns a Topology reading from the sysfs mounted at sysfsPath
func NewTopology(sysfsPath string) (*sysfsTopology, error) {
	fs, err := sysfs.NewFS(sysfsPath)
	if err != nil {
		return nil, err
	}
	return &sysfsTopology{fs: fs, root: sysfsPath}, nil
}

func (t *sysfsTopology) CPUs() ([]int, error) {
	cpus, err := t.fs.CPUs()
	if err != nil {
		return nil, fmt.Errorf("failed to list cpus: %w", err)
	}

	ids := make([]int, 0, len(cpus))
	for _, c := range cpus {
		id, err := strconv.Atoi(c.Number())
		if err != nil {
			return nil, fmt.Errorf("invalid cpu number %q: %w", c.Number(), err)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// OnlineCPUs reads the online attribute of every core. cpu0 usually cannot
// be hotplugged and has no such attribute; a core without it is online.
func (t *sysfsTopology) OnlineCPUs() ([]int, error) {
	cpus, err := t.fs.CPUs()
	if err != nil {
		return nil, fmt.Errorf("failed to list cpus: %w", err)
	}

	ids := make([]int, 0, len(cpus))
	for _, c := range cpus {
		online, err := c.Online()
		if errors.Is(err, os.ErrNotExist) {
			online = true
		} else if err != nil {
			return nil, fmt.Errorf("failed to read online state of cpu%s: %w", c.Number(), err)
		}
		if !online {
			continue
		}
		id, err := strconv.Atoi(c.Number())
		if err != nil {
			return nil, fmt.Errorf("invalid cpu number %q: %w", c.Number(), err)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// Capacities reads cpu_capacity which arm64 exposes for asymmetric
// (big.LITTLE) systems.
func (t *sysfsTopology) Capacities() (map[int]uint64, error) {
	cpus, err := t.CPUs()
	if err != nil {
		return nil, err
	}

	caps := make(map[int]uint64, len(cpus))
	for _, cpu := range cpus {
		path := filepath.Join(t.root, "devices", "system", "cpu", fmt.Sprintf("cpu%d", cpu), "cpu_capacity")
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		caps[cpu] = v
	}
	return caps, nil
}

// StaticTopology is a fixed Topology used for development and tests.
// Every core is online until SetOnline takes it offline.
type StaticTopology struct {
	IDs      []int
	Capacity map[int]uint64
	CapsErr  error

	mu      sync.Mutex
	offline map[int]bool
}

var _ Topology = (*StaticTopology)(nil)

func (s *StaticTopology) CPUs() ([]int, error) {
	ids := make([]int, len(s.IDs))
	copy(ids, s.IDs)
	sort.Ints(ids)
	return ids, nil
}

func (s *StaticTopology) OnlineCPUs() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.IDs))
	for _, id := range s.IDs {
		if !s.offline[id] {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// SetOnline hotplugs cpu in or out
func (s *StaticTopology) SetOnline(cpu int, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline == nil {
		s.offline = map[int]bool{}
	}
	if online {
		delete(s.offline, cpu)
	} else {
		s.offline[cpu] = true
	}
}

func (s *StaticTopology) Capacities() (map[int]uint64, error) {
	if s.CapsErr != nil {
		return nil, s.CapsErr
	}
	caps := make(map[int]uint64, len(s.Capacity))
	for k, v := range s.Capacity {
		caps[k] = v
	}
	return caps, nil
}

// NewStaticTopology returns a topology of n cores numbered from 0
func NewStaticTopology(n int) *StaticTopology {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return &StaticTopology{IDs: ids}
}
