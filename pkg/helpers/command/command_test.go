//go:build !windows

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

package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealExecutor_Run(t *testing.T) {
	t.Parallel()

	executor := &RealExecutor{}

	t.Run("successful_command", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, executor.Run(context.Background(), Options{}, "true"))
	})

	t.Run("failed_command", func(t *testing.T) {
		t.Parallel()
		err := executor.Run(context.Background(), Options{}, "false")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "false")
	})

	t.Run("nonexistent_command", func(t *testing.T) {
		t.Parallel()
		err := executor.Run(context.Background(), Options{}, "nonexistent_command_that_should_not_exist_12345")
		require.Error(t, err)
	})

	t.Run("working_directory", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		err := executor.Run(context.Background(), Options{Dir: dir}, "sh", "-c", `test "$(pwd -P)" = "$(cd "$0" && pwd -P)"`, dir)
		assert.NoError(t, err)
	})
}

func TestRealExecutor_Start(t *testing.T) {
	t.Parallel()

	executor := &RealExecutor{}

	t.Run("cancel_kills_process", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		proc, err := executor.Start(ctx, Options{HideWindow: true}, "sleep", "30")
		require.NoError(t, err)
		assert.Positive(t, proc.Pid())

		cancel()
		done := make(chan error, 1)
		go func() { done <- proc.Wait() }()

		select {
		case err := <-done:
			assert.Error(t, err, "killed process exits with an error")
		case <-time.After(5 * time.Second):
			t.Fatal("process survived cancellation")
		}
	})

	t.Run("nonexistent_command", func(t *testing.T) {
		t.Parallel()
		_, err := executor.Start(context.Background(), Options{}, "nonexistent_command_that_should_not_exist_12345")
		require.Error(t, err)
	})
}

func TestExecutor_Interface(t *testing.T) {
	t.Parallel()

	var _ Executor = (*RealExecutor)(nil)
}
