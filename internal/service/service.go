// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// Service is a named part of the daemon: the monitor, the governor, an
// exporter or a server endpoint. The optional interfaces below decide
// which lifecycle phases Init and Run take it through.
type Service interface {
	Name() string
}

// Initializer acquires resources such as perf events or listeners. A
// failure aborts startup.
type Initializer interface {
	Service
	Init() error
}

// Runner blocks in Run until ctx is done or it fails. Runners are run
// concurrently, one goroutine each.
type Runner interface {
	Service
	Run(ctx context.Context) error
}

// Shutdowner releases what Init acquired, e.g. restoring cpufreq limits
type Shutdowner interface {
	Service
	Shutdown() error
}

// LiveChecker reports whether the service is still making progress
type LiveChecker interface {
	Service
	IsLive() bool
}

// ReadyChecker reports whether the service has produced its first result
type ReadyChecker interface {
	Service
	IsReady() bool
}
