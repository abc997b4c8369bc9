// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package governor caps the frequency of each frequency domain when the
// estimated energy usage of its cores exceeds their summed power limits.
package governor

import (
	"fmt"

	"github.com/sustainable-computing-io/powercap/internal/limit"
)

// PowerUpdateInterval is the divisor, in milliseconds, that turns the
// accumulated usage of a domain into a rate. It is the estimator window, not
// the controller period.
const PowerUpdateInterval = 1000

// Target is the frequency a domain is driven to
type Target int

const (
	// Max drives the domain to the top of its frequency range
	Max Target = iota
	// Min drives the domain to the bottom of its frequency range
	Min
)

func (t Target) String() string {
	switch t {
	case Max:
		return "max"
	case Min:
		return "min"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Decide is the bang-bang control law. A domain without a positive limit runs
// at Max. Otherwise it runs at Min while usage / PowerUpdateInterval exceeds
// the limit.
func Decide(lim, usage int64) Target {
	if limit.IsUnlimited(lim) {
		return Max
	}
	if lim < usage/PowerUpdateInterval {
		return Min
	}
	return Max
}
