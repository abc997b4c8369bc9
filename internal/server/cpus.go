// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sustainable-computing-io/powercap/internal/device"
	"github.com/sustainable-computing-io/powercap/internal/estimator"
	"github.com/sustainable-computing-io/powercap/internal/limit"
	"github.com/sustainable-computing-io/powercap/internal/service"
)

// maxLimitBody bounds the size of a power limit write
const maxLimitBody = 64

// disabledStatus is reported for cores whose counters are in user-mode access
const disabledStatus = "monitoring disabled (USERENR = 1)\n"

// StatusProvider reports the estimator state of each core
type StatusProvider interface {
	CPUs() []int
	CurrentPower(cpu int) (device.Power, error)
	Disabled(cpu int) (bool, error)
	HasEnergyLeft(cpu int) bool
}

// LimitStore reads and writes per-core power limits
type LimitStore interface {
	Get(cpu int) (int64, error)
	SetString(cpu int, raw string) (int64, error)
}

// DomainLocator maps a core to the frequency domain it is governed in
type DomainLocator interface {
	DomainOf(cpu int) (device.FrequencyDomain, bool)
}

// CPUStatus serves the power status and power limit of every core
type CPUStatus struct {
	logger  *slog.Logger
	api     APIService
	status  StatusProvider
	limits  LimitStore
	domains DomainLocator
}

// CPUStatusOptFn is a functional option for CPUStatus
type CPUStatusOptFn func(*CPUStatus)

// WithDomainLocator adds the frequency domain of each core to /cpus
func WithDomainLocator(d DomainLocator) CPUStatusOptFn {
	return func(c *CPUStatus) {
		c.domains = d
	}
}

var (
	_ service.Service     = (*CPUStatus)(nil)
	_ service.Initializer = (*CPUStatus)(nil)
	_ LimitStore          = (*limit.Store)(nil)
)

// NewCPUStatus creates the per-core status endpoints
func NewCPUStatus(api APIService, status StatusProvider, limits LimitStore, logger *slog.Logger, opts ...CPUStatusOptFn) *CPUStatus {
	c := &CPUStatus{
		logger: logger.With("service", "cpu-status"),
		api:    api,
		status: status,
		limits: limits,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CPUStatus) Name() string {
	return "cpu-status"
}

func (c *CPUStatus) Init() error {
	return c.api.Register("/cpus", "CPUs", "Per-core power status and power limits", c.handlers())
}

func (c *CPUStatus) handlers() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/cpus", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/cpus/{cpu:[0-9]+}/power_status", c.handlePowerStatus).Methods(http.MethodGet)
	r.HandleFunc("/cpus/{cpu:[0-9]+}/power_limit", c.handleGetLimit).Methods(http.MethodGet)
	r.HandleFunc("/cpus/{cpu:[0-9]+}/power_limit", c.handleSetLimit).Methods(http.MethodPut, http.MethodPost)
	return r
}

// cpuFromRequest returns the core of the request path if it is monitored
func (c *CPUStatus) cpuFromRequest(r *http.Request) (int, bool) {
	cpu, err := strconv.Atoi(mux.Vars(r)["cpu"])
	if err != nil {
		return 0, false
	}
	for _, id := range c.status.CPUs() {
		if id == cpu {
			return cpu, true
		}
	}
	return 0, false
}

func (c *CPUStatus) handlePowerStatus(w http.ResponseWriter, r *http.Request) {
	cpu, ok := c.cpuFromRequest(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	disabled, err := c.status.Disabled(cpu)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if disabled {
		writeText(w, http.StatusOK, disabledStatus)
		return
	}

	p, err := c.status.CurrentPower(cpu)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("%d nW\n", p.NanoWatts()))
}

func (c *CPUStatus) handleGetLimit(w http.ResponseWriter, r *http.Request) {
	cpu, ok := c.cpuFromRequest(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	l, err := c.limits.Get(cpu)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("%d\n", l))
}

func (c *CPUStatus) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	cpu, ok := c.cpuFromRequest(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxLimitBody+1))
	if err != nil {
		writeText(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v\n", err))
		return
	}
	if len(body) > maxLimitBody {
		writeText(w, http.StatusRequestEntityTooLarge, "power limit too long\n")
		return
	}

	l, err := c.limits.SetString(cpu, string(body))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.logger.Info("Power limit updated", "cpu", cpu, "limit", l)
	writeText(w, http.StatusOK, fmt.Sprintf("%d\n", l))
}

// CPUInfo is the JSON summary of one core
type CPUInfo struct {
	CPU           int    `json:"cpu"`
	Disabled      bool   `json:"disabled"`
	PowerNanoWatt int64  `json:"power_nw"`
	LimitNanoWatt int64  `json:"limit_nw"`
	HasEnergyLeft bool   `json:"has_energy_left"`
	Status        string `json:"status"`
	// Domain is the id of the frequency domain, absent without a governor
	Domain *int `json:"domain,omitempty"`
}

func (c *CPUStatus) handleList(w http.ResponseWriter, r *http.Request) {
	cpus := c.status.CPUs()
	infos := make([]CPUInfo, 0, len(cpus))
	for _, cpu := range cpus {
		info := CPUInfo{CPU: cpu, HasEnergyLeft: c.status.HasEnergyLeft(cpu)}

		disabled, err := c.status.Disabled(cpu)
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		p, err := c.status.CurrentPower(cpu)
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		l, err := c.limits.Get(cpu)
		if err != nil {
			c.writeError(w, r, err)
			return
		}

		info.Disabled = disabled
		info.PowerNanoWatt = p.NanoWatts()
		info.LimitNanoWatt = l
		info.Status = p.String()
		if disabled {
			info.Status = "monitoring disabled"
		}
		if c.domains != nil {
			if d, ok := c.domains.DomainOf(cpu); ok {
				info.Domain = &d.ID
			}
		}
		infos = append(infos, info)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		c.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError maps estimator and limit errors to status codes
func (c *CPUStatus) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, limit.ErrInvalidLimit):
		c.logger.Debug("Rejected power limit", "path", r.URL.Path, "error", err)
		writeText(w, http.StatusBadRequest, err.Error()+"\n")
	case errors.Is(err, limit.ErrUnknownCPU), errors.Is(err, estimator.ErrUnknownCPU):
		http.NotFound(w, r)
	default:
		c.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		writeText(w, http.StatusInternalServerError, err.Error()+"\n")
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}
