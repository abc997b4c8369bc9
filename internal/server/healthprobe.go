// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sustainable-computing-io/powercap/internal/service"
)

// HealthProbe serves liveness and readiness of the daemon services
type HealthProbe struct {
	logger    *slog.Logger
	apiServer APIService
	services  []service.Service
}

// ServiceHealth represents the health status of a single service
type ServiceHealth struct {
	Name  string `json:"name"`
	Live  bool   `json:"live,omitempty"`
	Ready bool   `json:"ready,omitempty"`
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status   string          `json:"status"` // "ok" or "unhealthy"
	Services []ServiceHealth `json:"services,omitempty"`
}

var (
	_ service.Initializer = (*HealthProbe)(nil)
	_ service.Runner      = (*HealthProbe)(nil)
)

// NewHealthProbe creates a new HealthProbe service
func NewHealthProbe(apiServer APIService, services []service.Service, logger *slog.Logger) *HealthProbe {
	return &HealthProbe{
		logger:    logger.With("service", "health-probe"),
		apiServer: apiServer,
		services:  services,
	}
}

func (h *HealthProbe) Name() string {
	return "health-probe"
}

func (h *HealthProbe) Init() error {
	if err := h.apiServer.Register("/probe/livez", "Liveness Probe",
		"Returns 200 if all services are alive", h.probe(liveness)); err != nil {
		return err
	}
	return h.apiServer.Register("/probe/readyz", "Readiness Probe",
		"Returns 200 if all services are ready", h.probe(readiness))
}

func (h *HealthProbe) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// check evaluates one service; ok is false when the service does not take part
type check func(svc service.Service) (health ServiceHealth, healthy, ok bool)

func liveness(svc service.Service) (ServiceHealth, bool, bool) {
	lc, ok := svc.(service.LiveChecker)
	if !ok {
		return ServiceHealth{}, false, false
	}
	live := lc.IsLive()
	return ServiceHealth{Name: svc.Name(), Live: live}, live, true
}

func readiness(svc service.Service) (ServiceHealth, bool, bool) {
	rc, ok := svc.(service.ReadyChecker)
	if !ok {
		return ServiceHealth{}, false, false
	}
	ready := rc.IsReady()
	return ServiceHealth{Name: svc.Name(), Ready: ready}, ready, true
}

func (h *HealthProbe) probe(fn check) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{Status: "ok", Services: []ServiceHealth{}}
		code := http.StatusOK

		for _, svc := range h.services {
			health, healthy, ok := fn(svc)
			if !ok {
				continue
			}
			status.Services = append(status.Services, health)
			if !healthy {
				status.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			h.logger.Error("failed to encode JSON response", "error", err)
		}
	})
}
