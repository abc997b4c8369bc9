// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
)

// Energy is a signed fixed-point energy amount in picojoules. Model weights
// are expressed in the same unit per event, so a weighted counter sum is an
// Energy without any conversion.
type Energy int64

const (
	PicoJoule  Energy = 1
	NanoJoule         = 1000 * PicoJoule
	MicroJoule        = 1000 * NanoJoule
	MilliJoule        = 1000 * MicroJoule
	Joule             = 1000 * MilliJoule
)

func (e Energy) PicoJoules() int64 {
	return int64(e)
}

func (e Energy) Joules() float64 {
	return float64(e) / float64(Joule)
}

func (e Energy) String() string {
	return fmt.Sprintf("%.6fJ", e.Joules())
}

// Power is a signed power rate in nanowatts. Dividing an Energy (pJ) by a
// duration in milliseconds yields nanowatts directly.
type Power int64

const (
	NanoWatt  Power = 1
	MicroWatt       = 1000 * NanoWatt
	MilliWatt       = 1000 * MicroWatt
	Watt            = 1000 * MilliWatt
)

func (p Power) NanoWatts() int64 {
	return int64(p)
}

func (p Power) Watts() float64 {
	return float64(p) / float64(Watt)
}

func (p Power) String() string {
	return fmt.Sprintf("%d nW", int64(p))
}

// PowerOver returns the rate of e spread over ms milliseconds using truncating
// integer division. ms <= 0 yields 0.
func PowerOver(e Energy, ms int64) Power {
	if ms <= 0 {
		return 0
	}
	return Power(int64(e) / ms)
}
