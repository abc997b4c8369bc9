// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/powercap/internal/service"
)

// checkedService implements service.LiveChecker and service.ReadyChecker
type checkedService struct {
	name  string
	live  bool
	ready bool
}

func (m *checkedService) Name() string { return m.name }
func (m *checkedService) IsLive() bool { return m.live }
func (m *checkedService) IsReady() bool { return m.ready }

// plainService implements no health checker
type plainService struct{ name string }

func (s *plainService) Name() string { return s.name }

// fakeAPIServer routes registered endpoints by exact path
type fakeAPIServer struct {
	handlers map[string]http.Handler
}

func newFakeAPIServer() *fakeAPIServer {
	return &fakeAPIServer{handlers: map[string]http.Handler{}}
}

func (m *fakeAPIServer) Name() string { return "fake-api-server" }

func (m *fakeAPIServer) Register(endpoint, summary, description string, handler http.Handler) error {
	m.handlers[endpoint] = handler
	return nil
}

func (m *fakeAPIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if handler, ok := m.handlers[r.URL.Path]; ok {
		handler.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

func TestHealthProbe(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		services []service.Service
		code     int
		status   string
		reported int
	}{{
		name: "all live",
		path: "/probe/livez",
		services: []service.Service{
			&checkedService{name: "monitor", live: true},
			&checkedService{name: "governor", live: true},
		},
		code: http.StatusOK, status: "ok", reported: 2,
	}, {
		name: "one dead",
		path: "/probe/livez",
		services: []service.Service{
			&checkedService{name: "monitor", live: true, ready: true},
			&checkedService{name: "governor", live: false, ready: true},
		},
		code: http.StatusServiceUnavailable, status: "unhealthy", reported: 2,
	}, {
		name: "all ready",
		path: "/probe/readyz",
		services: []service.Service{
			&checkedService{name: "monitor", ready: true},
			&plainService{name: "api-server"},
		},
		code: http.StatusOK, status: "ok", reported: 1,
	}, {
		name: "not ready",
		path: "/probe/readyz",
		services: []service.Service{
			&checkedService{name: "monitor", live: true, ready: false},
		},
		code: http.StatusServiceUnavailable, status: "unhealthy", reported: 1,
	}, {
		name:     "no checkers",
		path:     "/probe/livez",
		services: []service.Service{&plainService{name: "pprof"}},
		code:     http.StatusOK, status: "ok", reported: 0,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPIServer()
			hp := NewHealthProbe(api, tt.services, slog.Default())
			require.NoError(t, hp.Init())
			assert.Contains(t, api.handlers, "/probe/livez")
			assert.Contains(t, api.handlers, "/probe/readyz")

			w := httptest.NewRecorder()
			api.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.status, status.Status)
			assert.Len(t, status.Services, tt.reported)
		})
	}
}

func TestHealthProbeRun(t *testing.T) {
	hp := NewHealthProbe(newFakeAPIServer(), nil, slog.Default())
	assert.Equal(t, "health-probe", hp.Name())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, hp.Run(ctx))
}
