// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package limit stores the per-core power budgets.
package limit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Unlimited is the canonical "no budget" value. Any limit <= 0 means the
// core is not capped.
const Unlimited int64 = 0

var (
	ErrUnknownCPU   = errors.New("unknown cpu")
	ErrInvalidLimit = errors.New("invalid power limit")
)

// Store holds one power limit in nanowatts per logical core. Every slot is a
// single machine word, so writers from any goroutine need no further locking.
type Store struct {
	limits []atomic.Int64
}

// NewStore returns a store for cores [0, n) with every core unlimited
func NewStore(n int) *Store {
	return &Store{limits: make([]atomic.Int64, n)}
}

// Len returns the number of cores covered by the store
func (s *Store) Len() int {
	return len(s.limits)
}

func (s *Store) slot(cpu int) (*atomic.Int64, error) {
	if cpu < 0 || cpu >= len(s.limits) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCPU, cpu)
	}
	return &s.limits[cpu], nil
}

// Set stores limit for cpu
func (s *Store) Set(cpu int, limit int64) error {
	l, err := s.slot(cpu)
	if err != nil {
		return err
	}
	l.Store(limit)
	return nil
}

// Get returns the limit of cpu
func (s *Store) Get(cpu int) (int64, error) {
	l, err := s.slot(cpu)
	if err != nil {
		return 0, err
	}
	return l.Load(), nil
}

// Limit returns the limit of cpu, or Unlimited for cores outside the store
func (s *Store) Limit(cpu int) int64 {
	l, err := s.slot(cpu)
	if err != nil {
		return Unlimited
	}
	return l.Load()
}

// SetString parses raw and stores it for cpu. Malformed input leaves the
// previous limit untouched.
func (s *Store) SetString(cpu int, raw string) (int64, error) {
	l, err := s.slot(cpu)
	if err != nil {
		return 0, err
	}
	v, err := ParseLimit(raw)
	if err != nil {
		return l.Load(), err
	}
	l.Store(v)
	return v, nil
}

// Sum adds the limits of cpus. Cores outside the store count as Unlimited.
func (s *Store) Sum(cpus []int) int64 {
	var sum int64
	for _, cpu := range cpus {
		sum += s.Limit(cpu)
	}
	return sum
}

// IsUnlimited reports whether limit disables capping
func IsUnlimited(limit int64) bool {
	return limit <= 0
}

// ParseLimit parses a signed 64-bit limit with automatic base detection:
// decimal, 0x hexadecimal, 0 octal and an optional sign. A single trailing
// newline is accepted.
func ParseLimit(raw string) (int64, error) {
	s := strings.TrimSuffix(raw, "\n")
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidLimit)
	}
	// base 0 would also accept digit separators and 0b/0o prefixes
	if strings.ContainsRune(s, '_') {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}
	if digits := strings.ToLower(strings.TrimLeft(s, "+-")); strings.HasPrefix(digits, "0b") || strings.HasPrefix(digits, "0o") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}
	return v, nil
}
