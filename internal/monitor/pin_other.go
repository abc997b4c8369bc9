// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package monitor

import "errors"

func pinToCPU(int) error {
	return errors.New("cpu pinning is not supported on this platform")
}
