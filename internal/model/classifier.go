// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"

	"github.com/sustainable-computing-io/powercap/internal/device"
)

// Classifier kinds accepted by NewClassifier
const (
	ClassifierThreshold = "threshold"
	ClassifierCapacity  = "capacity"
)

// NewClassifier builds the classifier named by kind. The threshold
// classifier treats the first lowPowerCores cores as low-power; the capacity
// classifier reads the core capacities of topo.
func NewClassifier(kind string, lowPowerCores int, topo device.Topology) (Classifier, error) {
	switch kind {
	case ClassifierThreshold:
		return ThresholdClassifier(lowPowerCores), nil
	case ClassifierCapacity:
		caps, err := topo.Capacities()
		if err != nil {
			return nil, fmt.Errorf("failed to read core capacities: %w", err)
		}
		return CapacityClassifier(caps), nil
	default:
		return nil, fmt.Errorf("unknown core classifier %q", kind)
	}
}
