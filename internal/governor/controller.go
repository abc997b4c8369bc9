// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package governor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/powercap/internal/device"
)

var ErrAlreadyRunning = errors.New("controller already running")

// UsageSource reports the energy accumulated in the open window of a set of cores
type UsageSource interface {
	TotalEnergy(cpus []int) device.Energy
}

// UsageFunc adapts a function to a UsageSource
type UsageFunc func(cpus []int) device.Energy

func (f UsageFunc) TotalEnergy(cpus []int) device.Energy {
	return f(cpus)
}

// LimitSource reports the summed power limit of a set of cores
type LimitSource interface {
	Sum(cpus []int) int64
}

// Decision is the outcome of one control period
type Decision struct {
	Limit  int64
	Usage  device.Energy
	Target Target
	At     time.Time
}

// Controller runs the control loop of one frequency domain
type Controller struct {
	logger *slog.Logger
	clock  clock.Clock
	period time.Duration

	domain device.FrequencyDomain
	scaler device.FrequencyScaler
	usage  UsageSource
	limits LimitSource

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	last       atomic.Pointer[Decision]
	iterations atomic.Uint64
}

// NewController returns a stopped controller for d
func NewController(d device.FrequencyDomain, scaler device.FrequencyScaler, usage UsageSource, limits LimitSource, applyOpts ...OptionFn) *Controller {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Controller{
		logger: opts.logger.With("service", "controller", "domain", d.ID),
		clock:  opts.clock,
		period: opts.period,
		domain: d,
		scaler: scaler,
		usage:  usage,
		limits: limits,
	}
}

// Domain returns the frequency domain the controller drives
func (c *Controller) Domain() device.FrequencyDomain {
	return c.domain
}

// Start drives the domain to its maximum frequency and starts the loop
func (c *Controller) Start() error {
	if err := c.domain.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return ErrAlreadyRunning
	}

	if err := c.scaler.SetTarget(c.domain, c.domain.MaxKHz); err != nil {
		c.logger.Warn("Failed to apply initial maximum frequency", "error", err)
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.stop, c.done)

	c.logger.Info("Controller started", "cpus", c.domain.CPUs, "period", c.period)
	return nil
}

// Stop signals the loop and waits until the period in flight has finished.
// Stopping a stopped controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}

	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
	c.logger.Info("Controller stopped", "iterations", c.iterations.Load())
}

// Running reports whether the loop is active
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// LastDecision returns the most recent decision, or nil before the first period
func (c *Controller) LastDecision() *Decision {
	return c.last.Load()
}

// Iterations returns the number of completed control periods
func (c *Controller) Iterations() uint64 {
	return c.iterations.Load()
}

func (c *Controller) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		c.step()

		select {
		case <-stop:
			return
		case <-c.clock.After(c.period):
		}
	}
}

// step runs one control period
func (c *Controller) step() {
	lim := c.limits.Sum(c.domain.CPUs)
	usage := c.usage.TotalEnergy(c.domain.CPUs)
	target := Decide(lim, int64(usage))

	khz := c.domain.MaxKHz
	if target == Min {
		khz = c.domain.MinKHz
	}

	prev := c.last.Load()
	if err := c.scaler.SetTarget(c.domain, khz); err != nil {
		c.logger.Warn("Failed to apply frequency", "target", target, "khz", khz, "error", err)
	} else if prev == nil || prev.Target != target {
		c.logger.Debug("Frequency target changed", "target", target, "khz", khz, "limit", lim, "usage", usage)
	}

	c.last.Store(&Decision{Limit: lim, Usage: usage, Target: target, At: c.clock.Now()})
	c.iterations.Add(1)
}

// String implements fmt.Stringer for logging
func (d Decision) String() string {
	return fmt.Sprintf("%s (limit=%d usage=%d)", d.Target, d.Limit, int64(d.Usage))
}
