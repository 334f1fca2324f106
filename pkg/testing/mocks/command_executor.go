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

package mocks

import (
	"context"

	"github.com/dptucunduva/casa/pkg/helpers/command"
	"github.com/stretchr/testify/mock"
)

// MockCommandExecutor is a testify mock for command.Executor.
//
// Example:
//
//	mockCmd := &MockCommandExecutor{}
//	mockCmd.On("Run", mock.Anything, mock.Anything, "espeak", mock.Anything).Return(nil)
type MockCommandExecutor struct {
	mock.Mock
}

func (m *MockCommandExecutor) Run(ctx context.Context, opts command.Options, name string, args ...string) error {
	called := m.Called(ctx, opts, name, args)
	//nolint:wrapcheck // mock returns are already wrapped by caller
	return called.Error(0)
}

func (m *MockCommandExecutor) Start(
	ctx context.Context,
	opts command.Options,
	name string,
	args ...string,
) (command.Process, error) {
	called := m.Called(ctx, opts, name, args)
	proc, _ := called.Get(0).(command.Process)
	//nolint:wrapcheck // mock returns are already wrapped by caller
	return proc, called.Error(1)
}

// MockProcess is a command.Process that exits when Exit is called.
type MockProcess struct {
	exited chan struct{}
	err    error
	pid    int
}

func NewMockProcess(pid int) *MockProcess {
	return &MockProcess{pid: pid, exited: make(chan struct{})}
}

// Exit makes Wait return err. It must be called once.
func (p *MockProcess) Exit(err error) {
	p.err = err
	close(p.exited)
}

func (p *MockProcess) Wait() error {
	<-p.exited
	return p.err
}

func (p *MockProcess) Pid() int {
	return p.pid
}
