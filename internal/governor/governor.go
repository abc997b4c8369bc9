// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sustainable-computing-io/powercap/internal/device"
	"github.com/sustainable-computing-io/powercap/internal/service"
)

var ErrUnknownDomain = errors.New("unknown frequency domain")

// DomainStatus describes the governor state of one frequency domain
type DomainStatus struct {
	Domain device.FrequencyDomain
	// Active is true while a controller caps the domain
	Active bool
	// FailedOpen is true when the controller could not start and the domain
	// was left at its maximum frequency
	FailedOpen bool
	Last       *Decision
	// Iterations counts the decisions taken since startup, across every
	// activation of the domain
	Iterations uint64
}

// Governor owns one controller per frequency domain
type Governor struct {
	logger *slog.Logger
	opts   []OptionFn

	scaler device.FrequencyScaler
	usage  UsageSource
	limits LimitSource

	mu          sync.Mutex
	domains     map[int]device.FrequencyDomain
	controllers map[int]*Controller
	failedOpen  map[int]bool
	// retired holds the iterations of the stopped controllers of a domain
	retired    map[int]uint64
	discovered bool
}

var (
	_ service.Initializer = (*Governor)(nil)
	_ service.Runner      = (*Governor)(nil)
	_ service.Shutdowner  = (*Governor)(nil)
	_ service.LiveChecker = (*Governor)(nil)
)

// New returns a governor that caps the domains of scaler
func New(scaler device.FrequencyScaler, usage UsageSource, limits LimitSource, applyOpts ...OptionFn) *Governor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Governor{
		logger:      opts.logger.With("service", "governor"),
		opts:        applyOpts,
		scaler:      scaler,
		usage:       usage,
		limits:      limits,
		domains:     map[int]device.FrequencyDomain{},
		controllers: map[int]*Controller{},
		failedOpen:  map[int]bool{},
		retired:     map[int]uint64{},
	}
}

func (g *Governor) Name() string {
	return "governor"
}

// IsLive reports whether the frequency domains have been discovered
func (g *Governor) IsLive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.discovered
}

// Init discovers the frequency domains
func (g *Governor) Init() error {
	domains, err := g.scaler.Domains()
	if err != nil {
		return fmt.Errorf("failed to discover frequency domains: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range domains {
		g.domains[d.ID] = d
		g.logger.Info("Found frequency domain", "domain", d.ID, "cpus", d.CPUs, "min-khz", d.MinKHz, "max-khz", d.MaxKHz)
	}
	g.discovered = true
	return nil
}

// Run activates every domain and blocks until ctx is done. Domains that fail
// to activate stay at their maximum frequency.
func (g *Governor) Run(ctx context.Context) error {
	for _, d := range g.Domains() {
		if err := g.Activate(d.ID); err != nil {
			g.logger.Error("Domain runs uncapped", "domain", d.ID, "error", err)
		}
	}
	<-ctx.Done()
	return nil
}

// Shutdown deactivates every domain, leaving each at its maximum frequency
func (g *Governor) Shutdown() error {
	var errs error
	for _, d := range g.Domains() {
		if err := g.Deactivate(d.ID); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// Domains returns the known domains sorted by ID
func (g *Governor) Domains() []device.FrequencyDomain {
	g.mu.Lock()
	defer g.mu.Unlock()

	ret := make([]device.FrequencyDomain, 0, len(g.domains))
	for _, d := range g.domains {
		ret = append(ret, d)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

// Activate starts capping domain id. Activating an active domain is a no-op.
// When the controller cannot start the domain is driven to its maximum
// frequency and left uncapped.
func (g *Governor) Activate(id int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.domains[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDomain, id)
	}
	if _, active := g.controllers[id]; active {
		return nil
	}

	c := NewController(d, g.scaler, g.usage, g.limits, g.opts...)
	if err := c.Start(); err != nil {
		g.failedOpen[id] = true
		if maxErr := g.scaler.SetTarget(d, d.MaxKHz); maxErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to apply maximum frequency: %w", maxErr))
		}
		return fmt.Errorf("failed to start controller of domain %d: %w", id, err)
	}

	delete(g.failedOpen, id)
	g.controllers[id] = c
	return nil
}

// Deactivate stops capping domain id and drives it to its maximum frequency.
// It returns once the period in flight has finished.
func (g *Governor) Deactivate(id int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.domains[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDomain, id)
	}

	c, active := g.controllers[id]
	if !active {
		return nil
	}
	c.Stop()
	g.retired[id] += c.Iterations()
	delete(g.controllers, id)

	if err := g.scaler.SetTarget(d, d.MaxKHz); err != nil {
		return fmt.Errorf("failed to restore maximum frequency of domain %d: %w", id, err)
	}
	return nil
}

// Status returns the state of every domain sorted by ID
func (g *Governor) Status() []DomainStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	ret := make([]DomainStatus, 0, len(g.domains))
	for id, d := range g.domains {
		st := DomainStatus{Domain: d, FailedOpen: g.failedOpen[id], Iterations: g.retired[id]}
		if c, ok := g.controllers[id]; ok {
			st.Active = true
			st.Last = c.LastDecision()
			st.Iterations += c.Iterations()
		}
		ret = append(ret, st)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Domain.ID < ret[j].Domain.ID })
	return ret
}

// DomainOf returns the domain cpu belongs to
func (g *Governor) DomainOf(cpu int) (device.FrequencyDomain, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range g.domains {
		if d.Contains(cpu) {
			return d, true
		}
	}
	return device.FrequencyDomain{}, false
}
