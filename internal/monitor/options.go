// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

type Opts struct {
	logger         *slog.Logger
	interval       time.Duration
	sampleInterval time.Duration
	clock          clock.WithTicker
	maxStaleness   time.Duration
	pinSamplers    bool
	domains        DomainStatusProvider

	hotplugInterval time.Duration
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:         slog.Default(),
		interval:       5 * time.Second,
		sampleInterval: 10 * time.Millisecond,
		clock:          clock.RealClock{},
		maxStaleness:   500 * time.Millisecond,
		pinSamplers:    true,

		hotplugInterval: time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithInterval sets the snapshot refresh interval; 0 refreshes on demand only
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

// WithSampleInterval sets how often every core is sampled
func WithSampleInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.sampleInterval = d
	}
}

// WithLogger sets the logger for the PowerMonitor
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock the PowerMonitor
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithMaxStaleness sets the age after which a snapshot is recomputed
func WithMaxStaleness(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.maxStaleness = d
	}
}

// WithPinnedSamplers pins every sampling goroutine to the core it samples
func WithPinnedSamplers(pin bool) OptionFn {
	return func(o *Opts) {
		o.pinSamplers = pin
	}
}

// WithDomains adds the governor state of each frequency domain to snapshots
func WithDomains(p DomainStatusProvider) OptionFn {
	return func(o *Opts) {
		o.domains = p
	}
}

// WithHotplugInterval sets how often the online state of the cores is
// reread; 0 keeps the state found by Init
func WithHotplugInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.hotplugInterval = d
	}
}
