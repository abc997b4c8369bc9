// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/powercap/internal/device"
	"github.com/sustainable-computing-io/powercap/internal/estimator"
	"github.com/sustainable-computing-io/powercap/internal/governor"
	"github.com/sustainable-computing-io/powercap/internal/model"
	"github.com/sustainable-computing-io/powercap/internal/monitor"
)

// MockMonitor mocks the Monitor interface
type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockMonitor) Snapshot() (*monitor.Snapshot, error) {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.(*monitor.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMonitor) DataChannel() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

func (m *MockMonitor) CPUs() []int {
	args := m.Called()
	return args.Get(0).([]int)
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name          string
		expectService string
		opts          []OptionFn
		out           io.WriteCloser
		interval      time.Duration
	}{{
		name:          "default options",
		expectService: "stdout",
		opts:          []OptionFn{},
		out:           os.Stdout,
		interval:      2 * time.Second,
	}, {
		name:          "custom options",
		expectService: "stdout",
		opts: []OptionFn{
			WithLogger(slog.Default()),
			WithOutput(os.Stderr),
			WithInterval(20 * time.Second),
		},
		out:      os.Stderr,
		interval: 20 * time.Second,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockMonitor := &MockMonitor{}
			exporter := NewExporter(mockMonitor, tt.opts...)
			assert.NotNil(t, exporter)
			assert.Equal(t, tt.expectService, exporter.Name())
			assert.NotNil(t, exporter.logger)
			assert.Same(t, mockMonitor, exporter.monitor)
			assert.Same(t, tt.out, exporter.out)
			assert.Equal(t, tt.interval, exporter.interval)
		})
	}
}

// syncBuffer is written by the exporter goroutine and read by the test
type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *syncBuffer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestExporter_InitRunShutdown(t *testing.T) {
	t.Run("prints snapshots", func(t *testing.T) {
		mockMonitor := &MockMonitor{}
		mockMonitor.On("Snapshot").Return(testSnapshot(), nil)
		out := &syncBuffer{}

		exporter := NewExporter(mockMonitor, WithOutput(out), WithInterval(10*time.Millisecond))
		require.NoError(t, exporter.Init())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() { done <- exporter.Run(ctx) }()

		assert.Eventually(t, func() bool {
			return strings.Contains(out.String(), "2000000000 nW")
		}, time.Second, 10*time.Millisecond)

		cancel()
		assert.NoError(t, <-done)
		assert.NoError(t, exporter.Shutdown())
		assert.True(t, out.closed)
		mockMonitor.AssertExpectations(t)
	})

	t.Run("keeps running on snapshot errors", func(t *testing.T) {
		var calls atomic.Int32
		mockMonitor := &MockMonitor{}
		mockMonitor.On("Snapshot").Run(func(mock.Arguments) { calls.Add(1) }).Return(nil, errors.New("not ready"))
		out := &syncBuffer{}

		exporter := NewExporter(mockMonitor, WithOutput(out), WithInterval(5*time.Millisecond))
		require.NoError(t, exporter.Init())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() { done <- exporter.Run(ctx) }()

		assert.Eventually(t, func() bool {
			return calls.Load() >= 2
		}, time.Second, 5*time.Millisecond)

		cancel()
		assert.NoError(t, <-done)
		assert.Empty(t, out.String())
	})

	t.Run("rejects a non positive interval", func(t *testing.T) {
		exporter := NewExporter(&MockMonitor{}, WithInterval(0))
		assert.ErrorContains(t, exporter.Init(), "invalid stdout interval")
	})
}

func TestWrite(t *testing.T) {
	buf := bytes.Buffer{}
	now, err := time.Parse(time.RFC3339, "2025-05-15T01:01:01Z")
	require.NoError(t, err)

	write(&buf, now, testSnapshot())
	output := buf.String()

	assert.True(t, strings.HasPrefix(output, "2025-05-15T01:01:01Z  total 2000000000 nW  window 1.500000J\n"))

	for _, cell := range []string{
		"low-power", "high-performance",
		"running", "disabled",
		"1.500000J", "3000000000 nW", "unlimited",
		"[0 1 2 3]", "[4 5 6 7]",
		"active", "failed-open",
		"min", "1000000000 nW", "0.500000J",
	} {
		assert.Contains(t, output, cell)
	}

	lines := strings.Split(output, "\n")
	var cpu0, cpu4 int
	for i, l := range lines {
		switch {
		case strings.Contains(l, "low-power"):
			cpu0 = i
		case strings.Contains(l, "high-performance"):
			cpu4 = i
		}
	}
	assert.Less(t, cpu0, cpu4, "cores are printed in id order")
}

func TestWriteWithoutDomains(t *testing.T) {
	s := testSnapshot()
	s.Domains = nil

	buf := bytes.Buffer{}
	write(&buf, time.Now(), s)

	assert.Contains(t, buf.String(), "low-power")
	assert.NotContains(t, buf.String(), "failed-open")
	assert.NotContains(t, buf.String(), "[0 1 2 3]")
}

func testSnapshot() *monitor.Snapshot {
	s := monitor.NewSnapshot()
	s.CPUs[4] = &monitor.CPU{
		ID:     4,
		Type:   model.HighPerformance,
		State:  estimator.Disabled,
		Online: true,
	}
	s.CPUs[0] = &monitor.CPU{
		ID:            0,
		Type:          model.LowPower,
		State:         estimator.Running,
		Online:        true,
		Energy:        device.Energy(1.5 * float64(device.Joule)),
		Power:         2 * device.Watt,
		Limit:         int64(3 * device.Watt),
		HasEnergyLeft: true,
	}
	s.Domains = monitor.Domains{{
		ID:         0,
		CPUs:       []int{0, 1, 2, 3},
		Active:     true,
		Decided:    true,
		Target:     governor.Min,
		Limit:      int64(device.Watt),
		Usage:      device.Energy(0.5 * float64(device.Joule)),
		Iterations: 3,
	}, {
		ID:         1,
		CPUs:       []int{4, 5, 6, 7},
		FailedOpen: true,
	}}
	s.TotalEnergy = device.Energy(1.5 * float64(device.Joule))
	s.TotalPower = 2 * device.Watt
	return s
}
