// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/run"
)

// Run runs every service implementing Runner until the first one returns or
// outer is done. Once all runners have returned, every Shutdowner is shut
// down in reverse registration order. Cancellation returns nil.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	runners := 0
	for _, s := range services {
		r, ok := s.(Runner)
		if !ok {
			logger.Debug("service does not run in background", "service", s.Name())
			continue
		}
		runners++

		g.Add(
			func() error {
				logger.Info("Running service", "service", r.Name())
				err := r.Run(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("service terminated", "service", r.Name(), "reason", err)
				}
				return err
			},
			func(error) {
				cancel()
			},
		)
	}

	logger.Info("Running all services", "runners", runners)
	err := g.Run()
	shutdownAll(logger, services)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
