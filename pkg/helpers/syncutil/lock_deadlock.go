//go:build deadlock

// CASA Relay
// Copyright (c) 2025 The CASA Relay Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of CASA Relay.
//
// CASA Relay is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// CASA Relay is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with CASA Relay.  If not, see <http://www.gnu.org/licenses/>.

// Package syncutil holds the lock types used across the relay. Building with
// -tags=deadlock swaps them for go-deadlock, which reports locks held past
// DeadlockTimeout along with the goroutines involved.
package syncutil

import (
	"os"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

const DeadlockEnabled = true

// TimeoutEnv overrides the detection timeout, as a Go duration string.
const TimeoutEnv = "CASA_DEADLOCK_TIMEOUT"

// a transmit holds the serial channel for one health check per part, so
// the default leaves room for several 5s checks
const defaultTimeout = 30 * time.Second

func init() {
	deadlock.Opts.DeadlockTimeout = defaultTimeout
	if v := os.Getenv(TimeoutEnv); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			deadlock.Opts.DeadlockTimeout = d
		}
	}
}

type Mutex struct {
	deadlock.Mutex
}

type RWMutex struct {
	deadlock.RWMutex
}
