// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// perfPMU implements PMU on top of perf_event_open(2). Every programmable
// slot is backed by one raw event fd bound to the core; the cycle counter is
// backed by a PERF_COUNT_HW_CPU_CYCLES fd.
type perfPMU struct {
	logger         *slog.Logger
	cpu            int
	userAccessPath string

	slots   [MaxProgrammableCounters]int
	cycles  int
	running bool
}

var _ PMU = (*perfPMU)(nil)

// PerfOptFn is a functional option for configuring the perf_event backend
type PerfOptFn func(*perfPMU)

// WithUserAccessPath sets the file consulted by UserModeAccessEnabled
func WithUserAccessPath(path string) PerfOptFn {
	return func(p *perfPMU) {
		p.userAccessPath = path
	}
}

// WithPerfLogger sets the logger of the perf_event backend
func WithPerfLogger(l *slog.Logger) PerfOptFn {
	return func(p *perfPMU) {
		p.logger = l.With("pmu", p.Name(), "cpu", p.cpu)
	}
}

// NewPerfPMU opens the cycle counter of cpu. Event counters are opened
// lazily by SelectCounter.
func NewPerfPMU(cpu int, opts ...PerfOptFn) (*perfPMU, error) {
	p := &perfPMU{
		cpu:            cpu,
		logger:         slog.Default().With("pmu", "perf", "cpu", cpu),
		userAccessPath: DefaultUserAccessPath,
		cycles:         -1,
	}
	for i := range p.slots {
		p.slots[i] = -1
	}
	for _, opt := range opts {
		opt(p)
	}

	fd, err := p.open(unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES)
	if err != nil {
		return nil, fmt.Errorf("failed to open cycle counter on cpu %d: %w", cpu, err)
	}
	p.cycles = fd
	return p, nil
}

// NewPerfPMUFactory returns a PMUFactory producing perf_event backed PMUs
func NewPerfPMUFactory(opts ...PerfOptFn) PMUFactory {
	return func(cpu int) (PMU, error) {
		return NewPerfPMU(cpu, opts...)
	}
}

func (p *perfPMU) Name() string {
	return "perf"
}

func (p *perfPMU) open(typ uint32, config uint64) (int, error) {
	attr := unix.PerfEventAttr{
		Type:   typ,
		Config: config,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Bits:   unix.PerfBitDisabled | unix.PerfBitExcludeHv,
	}
	// pid -1 + cpu N: count everything that runs on the core
	return unix.PerfEventOpen(&attr, -1, p.cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
}

func (p *perfPMU) fds() []int {
	fds := make([]int, 0, len(p.slots)+1)
	for _, fd := range p.slots {
		if fd >= 0 {
			fds = append(fds, fd)
		}
	}
	if p.cycles >= 0 {
		fds = append(fds, p.cycles)
	}
	return fds
}

func (p *perfPMU) SelectCounter(slot int, event Event) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	if old := p.slots[slot]; old >= 0 {
		if err := unix.Close(old); err != nil {
			p.logger.Warn("Failed to close event counter", "slot", slot, "error", err)
		}
		p.slots[slot] = -1
	}

	fd, err := p.open(unix.PERF_TYPE_RAW, uint64(event))
	if err != nil {
		return fmt.Errorf("failed to program slot %d with %s: %w", slot, event, err)
	}
	p.slots[slot] = fd
	if p.running {
		return ioctl(fd, unix.PERF_EVENT_IOC_ENABLE)
	}
	return nil
}

func readCount(fd int) (uint32, error) {
	var buf [8]byte
	if _, err := unix.Read(fd, buf[:]); err != nil {
		return 0, fmt.Errorf("read perf event fd: %w", err)
	}
	// PMU counters are 32-bit; keep the same wraparound semantics
	return uint32(binary.LittleEndian.Uint64(buf[:])), nil
}

func (p *perfPMU) ReadCounter(slot int) (uint32, error) {
	if err := checkSlot(slot); err != nil {
		return 0, err
	}
	fd := p.slots[slot]
	if fd < 0 {
		return 0, fmt.Errorf("counter slot %d is not programmed", slot)
	}
	return readCount(fd)
}

func (p *perfPMU) ReadCycleCounter() (uint32, error) {
	if p.cycles < 0 {
		return 0, fmt.Errorf("cycle counter is closed")
	}
	return readCount(p.cycles)
}

func (p *perfPMU) ResetCounters() error {
	var errs error
	for _, fd := range p.slots {
		if fd >= 0 {
			errs = errors.Join(errs, ioctl(fd, unix.PERF_EVENT_IOC_RESET))
		}
	}
	return errs
}

func (p *perfPMU) ResetCycleCounter() error {
	if p.cycles < 0 {
		return nil
	}
	return ioctl(p.cycles, unix.PERF_EVENT_IOC_RESET)
}

func (p *perfPMU) EnableCounters() error {
	var errs error
	for _, fd := range p.fds() {
		errs = errors.Join(errs, ioctl(fd, unix.PERF_EVENT_IOC_ENABLE))
	}
	if errs == nil {
		p.running = true
	}
	return errs
}

func (p *perfPMU) DisableCounters() error {
	var errs error
	for _, fd := range p.fds() {
		errs = errors.Join(errs, ioctl(fd, unix.PERF_EVENT_IOC_DISABLE))
	}
	p.running = false
	return errs
}

func (p *perfPMU) CountersRunning() (bool, error) {
	return p.running, nil
}

func (p *perfPMU) UserModeAccessEnabled() (bool, error) {
	if p.userAccessPath == "" {
		return false, nil
	}
	data, err := os.ReadFile(p.userAccessPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", p.userAccessPath, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", p.userAccessPath, err)
	}
	return v != 0, nil
}

func (p *perfPMU) Close() error {
	var errs error
	for i, fd := range p.slots {
		if fd >= 0 {
			errs = errors.Join(errs, unix.Close(fd))
			p.slots[i] = -1
		}
	}
	if p.cycles >= 0 {
		errs = errors.Join(errs, unix.Close(p.cycles))
		p.cycles = -1
	}
	p.running = false
	return errs
}

func ioctl(fd int, req uint) error {
	if err := unix.IoctlSetInt(fd, req, 0); err != nil {
		return fmt.Errorf("ioctl(0x%x) on fd %d: %w", req, fd, err)
	}
	return nil
}
