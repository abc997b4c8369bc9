// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
)

// NOTE: The fake PMU is not intended to be used in production and is for development and testing only

// FakePMU implements PMU entirely in memory. Counters advance by a fixed
// increment (plus an optional random component) every time they are
// enabled and then read, which approximates a core doing steady work.
type FakePMU struct {
	logger *slog.Logger
	cpu    int

	mu       sync.Mutex
	events   [MaxProgrammableCounters]Event
	selected [MaxProgrammableCounters]bool
	counters [MaxProgrammableCounters]uint32
	cycles   uint32
	running  bool
	userMode bool

	increment      uint32
	cycleIncrement uint32
	randomFactor   float64

	// calls is only recorded with WithFakeCallLog
	logCalls bool
	calls    []string
}

var _ PMU = (*FakePMU)(nil)

// FakePMUOptFn is a functional option for configuring FakePMU
type FakePMUOptFn func(*FakePMU)

// WithFakeIncrement sets the per-read increment of event and cycle counters
func WithFakeIncrement(events, cycles uint32) FakePMUOptFn {
	return func(p *FakePMU) {
		p.increment = events
		p.cycleIncrement = cycles
	}
}

// WithFakeRandomFactor adds up to factor*increment of noise per read
func WithFakeRandomFactor(f float64) FakePMUOptFn {
	return func(p *FakePMU) {
		p.randomFactor = f
	}
}

// WithFakeCallLog records every register access for Calls. The log grows
// with every sample, so only tests enable it.
func WithFakeCallLog() FakePMUOptFn {
	return func(p *FakePMU) {
		p.logCalls = true
	}
}

// WithFakePMULogger sets the logger of the fake PMU
func WithFakePMULogger(l *slog.Logger) FakePMUOptFn {
	return func(p *FakePMU) {
		p.logger = l.With("pmu", p.Name(), "cpu", p.cpu)
	}
}

// NewFakePMU creates a fake PMU for the given core
func NewFakePMU(cpu int, opts ...FakePMUOptFn) *FakePMU {
	p := &FakePMU{
		cpu:            cpu,
		logger:         slog.Default().With("pmu", "fake-pmu", "cpu", cpu),
		increment:      1000,
		cycleIncrement: 100000,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFakePMUFactory returns a PMUFactory producing fake PMUs
func NewFakePMUFactory(opts ...FakePMUOptFn) PMUFactory {
	return func(cpu int) (PMU, error) {
		return NewFakePMU(cpu, opts...), nil
	}
}

func (p *FakePMU) Name() string {
	return "fake-pmu"
}

func (p *FakePMU) record(format string, args ...any) {
	if !p.logCalls {
		return
	}
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *FakePMU) advance(inc uint32) uint32 {
	if inc == 0 {
		return 0
	}
	return inc + uint32(rand.Float64()*float64(inc)*p.randomFactor)
}

func (p *FakePMU) SelectCounter(slot int, event Event) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("select(%d,%s)", slot, event)
	p.events[slot] = event
	p.selected[slot] = true
	return nil
}

func (p *FakePMU) ReadCounter(slot int) (uint32, error) {
	if err := checkSlot(slot); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("read(%d)", slot)
	return p.counters[slot], nil
}

func (p *FakePMU) ReadCycleCounter() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("read(ccnt)")
	return p.cycles, nil
}

func (p *FakePMU) ResetCounters() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("reset")
	p.counters = [MaxProgrammableCounters]uint32{}
	return nil
}

func (p *FakePMU) ResetCycleCounter() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("reset(ccnt)")
	p.cycles = 0
	return nil
}

func (p *FakePMU) EnableCounters() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("enable")
	p.running = true
	return nil
}

// DisableCounters stops counting. Whatever work happened while the counters
// were running is credited at this point.
func (p *FakePMU) DisableCounters() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("disable")
	if p.running {
		for i := range p.counters {
			if p.selected[i] {
				p.counters[i] += p.advance(p.increment)
			}
		}
		p.cycles += p.advance(p.cycleIncrement)
	}
	p.running = false
	return nil
}

func (p *FakePMU) CountersRunning() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, nil
}

func (p *FakePMU) UserModeAccessEnabled() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userMode, nil
}

func (p *FakePMU) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return nil
}

// SetUserModeAccess toggles the user-mode access flag
func (p *FakePMU) SetUserModeAccess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userMode = enabled
}

// SetCounter sets the raw value of an event counter
func (p *FakePMU) SetCounter(slot int, v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters[slot] = v
}

// SetCycleCounter sets the raw value of the cycle counter
func (p *FakePMU) SetCycleCounter(v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cycles = v
}

// SetRunning forces the running state without recording a call
func (p *FakePMU) SetRunning(running bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = running
}

// Event returns the event programmed at slot and whether the slot was ever programmed
func (p *FakePMU) Event(slot int) (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[slot], p.selected[slot]
}

// Calls returns the recorded calls since the last ClearCalls. It is empty
// unless the PMU was created WithFakeCallLog.
func (p *FakePMU) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := make([]string, len(p.calls))
	copy(ret, p.calls)
	return ret
}

// ClearCalls forgets all recorded calls
func (p *FakePMU) ClearCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
