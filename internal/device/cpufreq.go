// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/procfs/sysfs"
)

// FrequencyDomain is a set of cores sharing one clock frequency
type FrequencyDomain struct {
	// ID is the lowest core id of the domain
	ID     int
	CPUs   []int
	MinKHz uint64
	MaxKHz uint64
}

// Contains reports whether cpu belongs to the domain
func (d FrequencyDomain) Contains(cpu int) bool {
	for _, c := range d.CPUs {
		if c == cpu {
			return true
		}
	}
	return false
}

func (d FrequencyDomain) Validate() error {
	if len(d.CPUs) == 0 {
		return fmt.Errorf("frequency domain %d has no cpus", d.ID)
	}
	if d.MinKHz > d.MaxKHz {
		return fmt.Errorf("frequency domain %d: min %d kHz exceeds max %d kHz", d.ID, d.MinKHz, d.MaxKHz)
	}
	return nil
}

// FrequencyScaler discovers frequency domains and applies frequency targets
type FrequencyScaler interface {
	Name() string

	// Domains returns all frequency domains sorted by ID
	Domains() ([]FrequencyDomain, error)

	// SetTarget caps the frequency of every core in d at khz
	SetTarget(d FrequencyDomain, khz uint64) error
}

// cpufreqInfo is the subset of per-core cpufreq attributes used to build domains
type cpufreqInfo struct {
	cpu     int
	related []int
	minKHz  uint64
	maxKHz  uint64
}

// buildDomains groups per-core cpufreq attributes into domains keyed by
// their related cpus
func buildDomains(infos []cpufreqInfo) []FrequencyDomain {
	seen := map[string]bool{}
	var domains []FrequencyDomain

	sort.Slice(infos, func(i, j int) bool { return infos[i].cpu < infos[j].cpu })
	for _, info := range infos {
		related := info.related
		if len(related) == 0 {
			related = []int{info.cpu}
		}
		related = append([]int(nil), related...)
		sort.Ints(related)

		key := fmt.Sprint(related)
		if seen[key] {
			continue
		}
		seen[key] = true
		domains = append(domains, FrequencyDomain{
			ID:     related[0],
			CPUs:   related,
			MinKHz: info.minKHz,
			MaxKHz: info.maxKHz,
		})
	}

	sort.Slice(domains, func(i, j int) bool { return domains[i].ID < domains[j].ID })
	return domains
}

func parseCPUList(s string) ([]int, error) {
	var cpus []int
	for _, f := range strings.Fields(s) {
		cpu, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu list %q: %w", s, err)
		}
		cpus = append(cpus, cpu)
	}
	return cpus, nil
}

// sysfsScaler implements FrequencyScaler over the cpufreq sysfs interface
type sysfsScaler struct {
	logger *slog.Logger
	fs     sysfs.FS
	root   string
}

var _ FrequencyScaler = (*sysfsScaler)(nil)

// NewFrequencyScaler returns a FrequencyScaler reading cpufreq from sysfsPath
func NewFrequencyScaler(sysfsPath string, logger *slog.Logger) (*sysfsScaler, error) {
	fs, err := sysfs.NewFS(sysfsPath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &sysfsScaler{
		logger: logger.With("service", "cpufreq"),
		fs:     fs,
		root:   sysfsPath,
	}, nil
}

func (s *sysfsScaler) Name() string {
	return "cpufreq"
}

func (s *sysfsScaler) Domains() ([]FrequencyDomain, error) {
	stats, err := s.fs.SystemCpufreq()
	if err != nil {
		return nil, fmt.Errorf("failed to read cpufreq: %w", err)
	}

	infos := make([]cpufreqInfo, 0, len(stats))
	for _, st := range stats {
		cpu, err := strconv.Atoi(st.Name)
		if err != nil {
			s.logger.Debug("Skipping cpufreq entry", "name", st.Name, "error", err)
			continue
		}
		if st.CpuinfoMinimumFrequency == nil || st.CpuinfoMaximumFrequency == nil {
			s.logger.Debug("Skipping cpu without frequency range", "cpu", cpu)
			continue
		}
		related, err := parseCPUList(st.RelatedCpus)
		if err != nil {
			return nil, err
		}
		infos = append(infos, cpufreqInfo{
			cpu:     cpu,
			related: related,
			minKHz:  *st.CpuinfoMinimumFrequency,
			maxKHz:  *st.CpuinfoMaximumFrequency,
		})
	}

	if len(infos) == 0 {
		return nil, fmt.Errorf("no cpufreq domains found")
	}
	return buildDomains(infos), nil
}

func (s *sysfsScaler) SetTarget(d FrequencyDomain, khz uint64) error {
	var errs error
	for _, cpu := range d.CPUs {
		path := filepath.Join(s.root, "devices", "system", "cpu", fmt.Sprintf("cpu%d", cpu), "cpufreq", "scaling_max_freq")
		if err := os.WriteFile(path, []byte(strconv.FormatUint(khz, 10)), 0o644); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to write %s: %w", path, err))
		}
	}
	if errs == nil {
		s.logger.Debug("Applied frequency target", "domain", d.ID, "khz", khz)
	}
	return errs
}

// fakeHistoryLen bounds the targets a FakeScaler remembers per domain
const fakeHistoryLen = 256

// FakeScaler is an in-memory FrequencyScaler for development and tests
type FakeScaler struct {
	mu      sync.Mutex
	domains []FrequencyDomain
	targets map[int]uint64
	history map[int][]uint64
	err     error
}

var _ FrequencyScaler = (*FakeScaler)(nil)

// NewFakeScaler returns a FakeScaler exposing the given domains
func NewFakeScaler(domains ...FrequencyDomain) *FakeScaler {
	return &FakeScaler{
		domains: domains,
		targets: map[int]uint64{},
		history: map[int][]uint64{},
	}
}

// NewBigLittleFakeScaler returns two domains: cores [0, little) and [little, total)
func NewBigLittleFakeScaler(little, total int) *FakeScaler {
	lo := FrequencyDomain{ID: 0, MinKHz: 200_000, MaxKHz: 1_400_000}
	hi := FrequencyDomain{ID: little, MinKHz: 200_000, MaxKHz: 2_000_000}
	for cpu := 0; cpu < total; cpu++ {
		if cpu < little {
			lo.CPUs = append(lo.CPUs, cpu)
		} else {
			hi.CPUs = append(hi.CPUs, cpu)
		}
	}

	var domains []FrequencyDomain
	if len(lo.CPUs) > 0 {
		domains = append(domains, lo)
	}
	if len(hi.CPUs) > 0 {
		domains = append(domains, hi)
	}
	return NewFakeScaler(domains...)
}

func (f *FakeScaler) Name() string {
	return "fake-cpufreq"
}

func (f *FakeScaler) Domains() ([]FrequencyDomain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]FrequencyDomain, len(f.domains))
	copy(ret, f.domains)
	return ret, nil
}

func (f *FakeScaler) SetTarget(d FrequencyDomain, khz uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.targets[d.ID] = khz
	h := f.history[d.ID]
	if len(h) == fakeHistoryLen {
		h = h[1:]
	}
	f.history[d.ID] = append(h, khz)
	return nil
}

// SetError makes every subsequent SetTarget fail with err
func (f *FakeScaler) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Target returns the last target applied to domain id
func (f *FakeScaler) Target(id int) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	khz, ok := f.targets[id]
	return khz, ok
}

// History returns the last targets applied to domain id, oldest first
func (f *FakeScaler) History(id int) []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.history[id]...)
}
