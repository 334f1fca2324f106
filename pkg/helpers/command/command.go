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

// Package command runs external programs (the speech synthesizer and the
// voice recognizer) behind an interface so tests never spawn processes.
package command

import (
	"context"
	"fmt"
	"os/exec"
)

// Options configures how a command is started.
type Options struct {
	// Dir is the working directory. Empty means the current one.
	Dir string
	// HideWindow prevents a console window from appearing. Windows only.
	HideWindow bool
}

// Process is a command started in the background.
type Process interface {
	// Wait blocks until the process exits and releases its resources.
	Wait() error
	Pid() int
}

// Executor starts external commands.
type Executor interface {
	// Run executes a command and waits for it to complete.
	Run(ctx context.Context, opts Options, name string, args ...string) error

	// Start starts a command without waiting for it. The process is killed
	// when ctx is cancelled; callers must still Wait on it.
	Start(ctx context.Context, opts Options, name string, args ...string) (Process, error)
}

// RealExecutor runs commands with os/exec.
type RealExecutor struct{}

func (*RealExecutor) Run(ctx context.Context, opts Options, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	applyOptions(cmd, opts)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (*RealExecutor) Start(ctx context.Context, opts Options, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	applyOptions(cmd, opts)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &process{cmd: cmd}, nil
}

type process struct {
	cmd *exec.Cmd
}

//nolint:wrapcheck // exit status is the caller's concern
func (p *process) Wait() error {
	return p.cmd.Wait()
}

func (p *process) Pid() int {
	return p.cmd.Process.Pid
}
