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

package speech

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dptucunduva/casa/pkg/helpers/command"
	"github.com/dptucunduva/casa/pkg/testing/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func exitedProcess() *mocks.MockProcess {
	p := mocks.NewMockProcess(42)
	p.Exit(nil)
	return p
}

func newSpeaker(t *testing.T, exec command.Executor, tmpl []string) *CommandSpeaker {
	t.Helper()
	s, err := NewCommandSpeaker(exec, tmpl)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func receive(t *testing.T, ch <-chan []string) []string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("synthesizer was not started")
		return nil
	}
}

func TestCommandSpeaker_Say(t *testing.T) {
	t.Parallel()

	calls := make(chan []string, 4)
	exec := &mocks.MockCommandExecutor{}
	exec.On("Start", mock.Anything, command.Options{HideWindow: true}, "speak", mock.Anything).
		Run(func(args mock.Arguments) {
			calls <- args.Get(3).([]string) //nolint:forcetypeassert // variadic args
		}).
		Return(exitedProcess(), nil)

	s := newSpeaker(t, exec, []string{"speak", "--rate=1", "--text={text}"})

	s.Say("Olá")
	s.Say("   ")
	s.Say("Por favor")

	assert.Equal(t, []string{"--rate=1", "--text=Olá"}, receive(t, calls))
	assert.Equal(t, []string{"--rate=1", "--text=Por favor"}, receive(t, calls))

	select {
	case extra := <-calls:
		t.Fatalf("unexpected utterance %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCommandSpeaker_ContinuesAfterError(t *testing.T) {
	t.Parallel()

	calls := make(chan []string, 4)
	exec := &mocks.MockCommandExecutor{}
	exec.On("Start", mock.Anything, mock.Anything, "speak", []string{"bad"}).
		Return(nil, errors.New("not found")).Once()
	exec.On("Start", mock.Anything, mock.Anything, "speak", []string{"good"}).
		Run(func(args mock.Arguments) {
			calls <- args.Get(3).([]string) //nolint:forcetypeassert // variadic args
		}).
		Return(exitedProcess(), nil)

	s := newSpeaker(t, exec, []string{"speak", "{text}"})
	s.Say("bad")
	s.Say("good")

	assert.Equal(t, []string{"good"}, receive(t, calls))
}

func TestCommandSpeaker_CloseInterrupts(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	exec := &mocks.MockCommandExecutor{}
	proc := mocks.NewMockProcess(7)
	exec.On("Start", mock.Anything, mock.Anything, "speak", mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context) //nolint:forcetypeassert // first arg
			go func() {
				<-ctx.Done()
				proc.Exit(ctx.Err())
			}()
			close(started)
		}).
		Return(proc, nil).Once()

	s, err := NewCommandSpeaker(exec, []string{"speak", "{text}"})
	require.NoError(t, err)

	s.Say("a very long sentence")
	s.Say("never spoken")
	<-started

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not interrupt the synthesizer")
	}

	assert.NotPanics(t, func() {
		s.Say("after close")
		s.Close()
	})
	exec.AssertNumberOfCalls(t, "Start", 1)
}

func TestCommandSpeaker_DropsWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	exec := &mocks.MockCommandExecutor{}
	proc := mocks.NewMockProcess(1)
	exec.On("Start", mock.Anything, mock.Anything, "speak", mock.Anything).
		Run(func(mock.Arguments) {
			<-release
		}).
		Return(proc, nil)

	s, err := NewCommandSpeaker(exec, []string{"speak", "{text}"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range queueSize * 3 {
			s.Say("hello")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Say blocked on a full queue")
	}

	proc.Exit(nil)
	close(release)
	s.Close()
}

func TestNewCommandSpeaker_Empty(t *testing.T) {
	t.Parallel()

	_, err := NewCommandSpeaker(&mocks.MockCommandExecutor{}, []string{""})
	require.Error(t, err)
}

func TestDefaultCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		goos    string
		name    string
		text    string
		escaped bool
	}{
		{goos: "linux", name: "espeak", text: "Olá"},
		{goos: "darwin", name: "say", text: "Olá"},
		{goos: "windows", name: "powershell", text: "it''s", escaped: true},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			t.Parallel()

			tmpl, escape := DefaultCommand(tt.goos)
			require.NotEmpty(t, tmpl)
			assert.Equal(t, tt.name, tmpl[0])
			assert.Equal(t, tt.escaped, escape != nil)

			input := "Olá"
			if tt.escaped {
				input = "it's"
			}
			args := Expand(tmpl, input, escape)
			assert.Contains(t, args[len(args)-1], tt.text)
			assert.NotContains(t, args[len(args)-1], TextPlaceholder)
		})
	}
}

func TestExpand(t *testing.T) {
	t.Parallel()

	tmpl := []string{"tts", "{text}", "--out", "-", "pre-{text}-post"}
	got := Expand(tmpl, "TV", nil)
	assert.Equal(t, []string{"tts", "TV", "--out", "-", "pre-TV-post"}, got)
	assert.Equal(t, "{text}", tmpl[1], "template is not modified")
}

func TestStartRecognizer(t *testing.T) {
	t.Parallel()

	proc := mocks.NewMockProcess(99)
	exec := &mocks.MockCommandExecutor{}
	exec.On("Start", mock.Anything, command.Options{Dir: "/opt/bv"}, "bitvoicer", []string{"--casa"}).
		Return(proc, nil)

	exited, err := StartRecognizer(context.Background(), exec, []string{"bitvoicer", "--casa"}, "/opt/bv")
	require.NoError(t, err)

	exitErr := errors.New("exit status 1")
	proc.Exit(exitErr)

	select {
	case err := <-exited:
		require.ErrorIs(t, err, exitErr)
	case <-time.After(2 * time.Second):
		t.Fatal("exit was not reported")
	}
	exec.AssertExpectations(t)
}

func TestStartRecognizer_Errors(t *testing.T) {
	t.Parallel()

	_, err := StartRecognizer(context.Background(), &mocks.MockCommandExecutor{}, nil, "")
	require.ErrorIs(t, err, ErrNoRecognizer)

	startErr := errors.New("no such file")
	exec := &mocks.MockCommandExecutor{}
	exec.On("Start", mock.Anything, mock.Anything, "missing", []string{}).Return(nil, startErr)

	_, err = StartRecognizer(context.Background(), exec, []string{"missing"}, "")
	require.ErrorIs(t, err, startErr)
}

func TestNopSpeaker(t *testing.T) {
	t.Parallel()

	var s Speaker = NopSpeaker{}
	assert.NotPanics(t, func() {
		s.Say("nothing")
	})
}
