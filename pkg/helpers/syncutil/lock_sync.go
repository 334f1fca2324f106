//go:build !deadlock

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

import "sync"

const DeadlockEnabled = false

//nolint:gocritic // embedding is the point of the wrapper
type Mutex struct {
	sync.Mutex //nolint:forbidigo // wrapped here only
}

//nolint:gocritic // embedding is the point of the wrapper
type RWMutex struct {
	sync.RWMutex //nolint:forbidigo // wrapped here only
}
