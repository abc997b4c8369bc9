// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package limit

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(4)
	values := []int64{0, 1, -1, 500, 1_500_000_000, math.MaxInt64, math.MinInt64, -42}

	for _, v := range values {
		require.NoError(t, s.Set(2, v))
		got, err := s.Get(2)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestStoreDefaultsToUnlimited(t *testing.T) {
	s := NewStore(3)
	assert.Equal(t, 3, s.Len())
	for cpu := 0; cpu < 3; cpu++ {
		v, err := s.Get(cpu)
		require.NoError(t, err)
		assert.Equal(t, Unlimited, v)
		assert.True(t, IsUnlimited(v))
	}
}

func TestStoreUnknownCPU(t *testing.T) {
	s := NewStore(2)
	assert.ErrorIs(t, s.Set(2, 10), ErrUnknownCPU)
	assert.ErrorIs(t, s.Set(-1, 10), ErrUnknownCPU)
	_, err := s.Get(5)
	assert.ErrorIs(t, err, ErrUnknownCPU)
	assert.Equal(t, Unlimited, s.Limit(5))
}

func TestStoreSum(t *testing.T) {
	s := NewStore(4)
	require.NoError(t, s.Set(0, 100))
	require.NoError(t, s.Set(1, 200))
	require.NoError(t, s.Set(3, -50))

	assert.Equal(t, int64(300), s.Sum([]int{0, 1}))
	assert.Equal(t, int64(250), s.Sum([]int{0, 1, 2, 3}))
	assert.Equal(t, int64(100), s.Sum([]int{0, 9}), "unknown cpus count as unlimited")
	assert.Equal(t, int64(0), s.Sum(nil))
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1000", want: 1000},
		{in: "1000\n", want: 1000},
		{in: "-1", want: -1},
		{in: "+7", want: 7},
		{in: "0x10", want: 16},
		{in: "010", want: 8},
		{in: "0", want: 0},
		{in: "9223372036854775807", want: math.MaxInt64},
		{in: "-9223372036854775808", want: math.MinInt64},
		{in: "", wantErr: true},
		{in: "\n", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "12abc", wantErr: true},
		{in: "1_000", wantErr: true},
		{in: "0b101", wantErr: true},
		{in: "0B101", wantErr: true},
		{in: "-0b1", wantErr: true},
		{in: "0o17", wantErr: true},
		{in: "+0O17", wantErr: true},
		{in: "0X1f", want: 31},
		{in: " 5", wantErr: true},
		{in: "9223372036854775808", wantErr: true},
		{in: "1.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLimit(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidLimit)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetStringKeepsPreviousOnError(t *testing.T) {
	s := NewStore(2)
	require.NoError(t, s.Set(1, 1234))

	prev, err := s.SetString(1, "not-a-number")
	assert.ErrorIs(t, err, ErrInvalidLimit)
	assert.Equal(t, int64(1234), prev)

	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), got, "malformed write must keep the previous limit")

	v, err := s.SetString(1, "0x20\n")
	require.NoError(t, err)
	assert.Equal(t, int64(32), v)
	assert.Equal(t, int64(32), s.Limit(1))

	_, err = s.SetString(7, "1")
	assert.ErrorIs(t, err, ErrUnknownCPU)
}

func TestStoreConcurrentWriters(t *testing.T) {
	s := NewStore(8)
	var wg sync.WaitGroup
	for cpu := 0; cpu < 8; cpu++ {
		wg.Add(1)
		go func(cpu int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = s.Set(cpu, int64(cpu*1000+i))
				_ = s.Sum([]int{0, 1, 2, 3, 4, 5, 6, 7})
			}
		}(cpu)
	}
	wg.Wait()

	for cpu := 0; cpu < 8; cpu++ {
		assert.Equal(t, int64(cpu*1000+999), s.Limit(cpu))
	}
}
