// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package device

import (
	"fmt"
	"log/slog"
	"runtime"
)

// PerfOptFn is a functional option for configuring the perf_event backend
type PerfOptFn func()

// WithUserAccessPath is a no-op outside linux
func WithUserAccessPath(string) PerfOptFn {
	return func() {}
}

// WithPerfLogger is a no-op outside linux
func WithPerfLogger(*slog.Logger) PerfOptFn {
	return func() {}
}

// NewPerfPMUFactory returns a factory that always fails: perf_event_open is linux only
func NewPerfPMUFactory(...PerfOptFn) PMUFactory {
	return func(cpu int) (PMU, error) {
		return nil, fmt.Errorf("perf PMU is not supported on %s", runtime.GOOS)
	}
}
