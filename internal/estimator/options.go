// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package estimator

import (
	"log/slog"

	"k8s.io/utils/clock"
)

// Opts holds the optional settings of a Registry
type Opts struct {
	logger *slog.Logger
	clock  clock.PassiveClock
	online []int
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		clock:  clock.RealClock{},
	}
}

// OptionFn is a function that sets one or more options in Opts
type OptionFn func(*Opts)

// WithLogger sets the logger for the Registry
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock windows are measured with
func WithClock(c clock.PassiveClock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithOnlineCPUs opens PMUs only for the listed cores. The other cores start
// offline until SetOnline brings them up. Without this option every core is
// online.
func WithOnlineCPUs(cpus []int) OptionFn {
	return func(o *Opts) {
		o.online = append([]int(nil), cpus...)
	}
}
