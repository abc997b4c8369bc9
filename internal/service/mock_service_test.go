// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"
	"sync/atomic"
)

// journal records lifecycle events from any goroutine
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(event string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type mockService struct {
	name string
}

func (m *mockService) Name() string {
	return m.name
}

type mockInitializer struct {
	mockService
	initFn    func() error
	initCount int
}

func (m *mockInitializer) Init() error {
	m.initCount++
	if m.initFn != nil {
		return m.initFn()
	}
	return nil
}

type mockInitShutdownService struct {
	mockService
	initFn        func() error
	shutdownFn    func() error
	initCount     int
	shutdownCount int
}

func (m *mockInitShutdownService) Init() error {
	m.initCount++
	if m.initFn != nil {
		return m.initFn()
	}
	return nil
}

func (m *mockInitShutdownService) Shutdown() error {
	m.shutdownCount++
	if m.shutdownFn != nil {
		return m.shutdownFn()
	}
	return nil
}

// fakeRunner runs runFn, or blocks until ctx is done when runFn is nil
type fakeRunner struct {
	mockService
	log      *journal
	runFn    func(ctx context.Context) error
	runCount atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.runCount.Add(1)
	f.log.add("run " + f.name)
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeRunShutdowner struct {
	fakeRunner
	shutdownErr   error
	shutdownCount atomic.Int32
}

func (f *fakeRunShutdowner) Shutdown() error {
	f.shutdownCount.Add(1)
	f.log.add("shutdown " + f.name)
	return f.shutdownErr
}

// fakeShutdowner has no Run but still owns resources
type fakeShutdowner struct {
	mockService
	log *journal
}

func (f *fakeShutdowner) Shutdown() error {
	f.log.add("shutdown " + f.name)
	return nil
}
