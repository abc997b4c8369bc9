// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/gorilla/mux"

	"github.com/sustainable-computing-io/powercap/internal/service"
)

// Pprof serves the runtime profiles. Block and mutex profiling stay enabled
// only while the service is up.
type Pprof struct {
	api                  APIService
	blockProfileRate     int
	mutexProfileFraction int
	prevMutexFraction    int
}

var (
	_ service.Initializer = (*Pprof)(nil)
	_ service.Shutdowner  = (*Pprof)(nil)
)

type PprofOptFn func(*Pprof)

// WithBlockProfileRate samples one blocking event per rate nanoseconds spent blocked
func WithBlockProfileRate(rate int) PprofOptFn {
	return func(p *Pprof) {
		p.blockProfileRate = rate
	}
}

// WithMutexProfileFraction samples 1/fraction of mutex contention events
func WithMutexProfileFraction(fraction int) PprofOptFn {
	return func(p *Pprof) {
		p.mutexProfileFraction = fraction
	}
}

func NewPprof(api APIService, opts ...PprofOptFn) *Pprof {
	p := &Pprof{api: api}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pprof) Name() string {
	return "pprof"
}

func (p *Pprof) Init() error {
	if err := p.api.Register("/debug/pprof/", "pprof", "Profiling Data", handlers()); err != nil {
		return err
	}

	if p.blockProfileRate > 0 {
		runtime.SetBlockProfileRate(p.blockProfileRate)
	}
	if p.mutexProfileFraction > 0 {
		p.prevMutexFraction = runtime.SetMutexProfileFraction(p.mutexProfileFraction)
	}
	return nil
}

func (p *Pprof) Shutdown() error {
	if p.blockProfileRate > 0 {
		runtime.SetBlockProfileRate(0)
	}
	if p.mutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(p.prevMutexFraction)
	}
	return nil
}

func handlers() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	// Index also serves the named runtime profiles
	r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)

	return r
}
