// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAPIService is an implementation of the APIService interface for testing.
type MockAPIService struct {
	mock.Mock
}

func (m *MockAPIService) Register(path, name, description string, handler http.Handler) error {
	args := m.Called(path, name, description, handler)
	return args.Error(0)
}

func (m *MockAPIService) Name() string {
	return "mockApiService"
}

func TestNewPprof(t *testing.T) {
	api := &MockAPIService{}

	p := NewPprof(api)
	assert.Equal(t, "pprof", p.Name())
	assert.Equal(t, api, p.api)
	assert.Zero(t, p.blockProfileRate)
	assert.Zero(t, p.mutexProfileFraction)

	p = NewPprof(api, WithBlockProfileRate(1000), WithMutexProfileFraction(5))
	assert.Equal(t, 1000, p.blockProfileRate)
	assert.Equal(t, 5, p.mutexProfileFraction)
}

func TestPprofInit(t *testing.T) {
	t.Run("registers handlers", func(t *testing.T) {
		api := &MockAPIService{}
		api.On("Register", "/debug/pprof/", "pprof", "Profiling Data", mock.AnythingOfType("*mux.Router")).Return(nil)

		p := NewPprof(api)
		assert.NoError(t, p.Init())
		assert.NoError(t, p.Shutdown())
		api.AssertExpectations(t)
	})

	t.Run("registration error", func(t *testing.T) {
		api := &MockAPIService{}
		api.On("Register", "/debug/pprof/", "pprof", "Profiling Data", mock.Anything).Return(assert.AnError)

		p := NewPprof(api, WithMutexProfileFraction(3))
		assert.Equal(t, assert.AnError, p.Init())
		assert.Equal(t, 0, p.prevMutexFraction)
		api.AssertExpectations(t)
	})

	t.Run("mutex profile fraction is restored on shutdown", func(t *testing.T) {
		api := &MockAPIService{}
		api.On("Register", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		before := runtime.SetMutexProfileFraction(-1)

		p := NewPprof(api, WithMutexProfileFraction(before+7), WithBlockProfileRate(1))
		require.NoError(t, p.Init())
		assert.Equal(t, before+7, runtime.SetMutexProfileFraction(-1))

		require.NoError(t, p.Shutdown())
		assert.Equal(t, before, runtime.SetMutexProfileFraction(-1))
	})
}

func TestPprofHandlers(t *testing.T) {
	handler := handlers()

	tests := []struct {
		path string
	}{
		{"/debug/pprof/"},
		{"/debug/pprof/cmdline"},
		{"/debug/pprof/profile?seconds=1"},
		{"/debug/pprof/symbol"},
		{"/debug/pprof/trace?seconds=1"},
		{"/debug/pprof/heap"},
		{"/debug/pprof/mutex"},
		{"/debug/pprof/block"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rr.Code, "Handler for %s should be registered", tt.path)
		})
	}

	t.Run("index lists mutex profile", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
		assert.True(t, strings.Contains(rr.Body.String(), "mutex"))
	})
}
