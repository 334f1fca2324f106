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

package syncutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMutex_Exclusion(t *testing.T) {
	t.Parallel()

	var mu Mutex
	counter := 0
	done := make(chan struct{})

	for range 10 {
		go func() {
			for range 100 {
				mu.Lock()
				counter++
				mu.Unlock()
			}
			done <- struct{}{}
		}()
	}
	for range 10 {
		<-done
	}

	assert.Equal(t, 1000, counter)
}

func TestRWMutex_ReadersShare(t *testing.T) {
	t.Parallel()

	var mu RWMutex
	mu.RLock()
	acquired := make(chan struct{})
	go func() {
		mu.RLock()
		defer mu.RUnlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked")
	}
	mu.RUnlock()
}
