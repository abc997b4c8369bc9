// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package governor

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// DefaultPeriod is the time between two control decisions
const DefaultPeriod = 100 * time.Millisecond

// Opts holds the options shared by the governor and its controllers
type Opts struct {
	logger *slog.Logger
	clock  clock.Clock
	period time.Duration
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		clock:  clock.RealClock{},
		period: DefaultPeriod,
	}
}

// OptionFn is a function that sets one or more options in Opts
type OptionFn func(*Opts)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock the control loop sleeps on
func WithClock(c clock.Clock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithPeriod sets the control period
func WithPeriod(d time.Duration) OptionFn {
	return func(o *Opts) {
		if d > 0 {
			o.period = d
		}
	}
}
