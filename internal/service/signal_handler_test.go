// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignalHandlerRun(t *testing.T) {
	t.Run("returns when context is canceled", func(t *testing.T) {
		sh := NewSignalHandler(nil, syscall.SIGUSR1)
		assert.Equal(t, "signal-handler", sh.Name())

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- sh.Run(ctx) }()

		cancel()
		select {
		case err := <-errCh:
			assert.Equal(t, context.Canceled, err)
			assert.Nil(t, sh.Received())
		case <-time.After(time.Second):
			t.Fatal("Run did not return after context cancellation")
		}
	})

	t.Run("returns nil on signal", func(t *testing.T) {
		sh := NewSignalHandler(nil, syscall.SIGUSR1)
		// keeps SIGUSR1 from terminating the test binary before Run subscribes
		guard := make(chan os.Signal, 1)
		signal.Notify(guard, syscall.SIGUSR1)
		defer signal.Stop(guard)

		errCh := make(chan error, 1)
		go func() { errCh <- sh.Run(context.Background()) }()

		// Notify is registered asynchronously; keep signalling until Run returns
		assert.Eventually(t, func() bool {
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
			select {
			case err := <-errCh:
				return err == nil
			default:
				return false
			}
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, syscall.SIGUSR1, sh.Received())
	})
}
