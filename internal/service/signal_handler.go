// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
)

// SignalHandler returns from Run on the first of its signals. Returning
// ends the run group and so stops the governor and the monitor.
type SignalHandler struct {
	logger   *slog.Logger
	signals  []os.Signal
	received atomic.Pointer[os.Signal]
}

var _ Runner = (*SignalHandler)(nil)

func NewSignalHandler(logger *slog.Logger, signals ...os.Signal) *SignalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalHandler{
		logger:  logger.With("service", "signal-handler"),
		signals: signals,
	}
}

func (sh *SignalHandler) Name() string {
	return "signal-handler"
}

// Received returns the signal that ended Run, or nil
func (sh *SignalHandler) Received() os.Signal {
	if sig := sh.received.Load(); sig != nil {
		return *sig
	}
	return nil
}

func (sh *SignalHandler) Run(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sh.signals...)
	defer signal.Stop(ch)
	sh.logger.Debug("Listening for signals", "signals", sh.signals)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-ch:
		sh.received.Store(&sig)
		sh.logger.Info("Stopping on signal", "signal", sig)
		return nil
	}
}
