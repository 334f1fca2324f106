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

package cycler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSubmitter struct {
	err  error
	cmds chan protocol.Command
}

func (f *fakeSubmitter) Submit(_ context.Context, cmd protocol.Command) error {
	f.cmds <- cmd
	return f.err
}

type fakeSpeaker struct {
	said []string
	mu   sync.Mutex
}

func (f *fakeSpeaker) Say(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, text)
}

func (f *fakeSpeaker) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.said...)
}

type fixture struct {
	cycler  *Cycler
	clock   *clockwork.FakeClock
	sub     *fakeSubmitter
	speaker *fakeSpeaker
	ns      chan models.Notification
}

const (
	sourceDelay = 8 * time.Second
	interval    = 2500 * time.Millisecond
)

func testGroups() []config.Group {
	return []config.Group{
		{
			Label: "TV",
			Commands: []config.GroupCommand{
				{Label: "Ligar", Data: "TVON", TTS: "Ligando a TV"},
				{Label: "Desligar", Data: "TVOFF"},
			},
		},
		{
			Label: "Luz",
			Commands: []config.GroupCommand{
				{Label: "Acender", Data: "L1ON"},
			},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clockwork.NewFakeClock(),
		sub:     &fakeSubmitter{cmds: make(chan protocol.Command, 8)},
		speaker: &fakeSpeaker{},
		ns:      make(chan models.Notification, 64),
	}
	f.cycler = New(Options{
		Submitter:     f.sub,
		Speaker:       f.speaker,
		Clock:         f.clock,
		Notifications: f.ns,
		Groups:        testGroups,
		StartCommand:  config.DefaultCyclerStart,
		FinishCommand: config.DefaultCyclerFinish,
		SourceDelay:   sourceDelay,
		Interval:      interval,
		Picker:        func(int) int { return 0 },
	})
	t.Cleanup(f.cycler.Stop)
	return f
}

func (f *fixture) submitted(t *testing.T) protocol.Command {
	t.Helper()
	select {
	case c := <-f.sub.cmds:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no command submitted")
		return protocol.Command{}
	}
}

func (f *fixture) highlighted(t *testing.T) models.CyclerHighlightParams {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-f.ns:
			if n.Method != models.NotificationCyclerHighlight {
				continue
			}
			var p models.CyclerHighlightParams
			require.NoError(t, json.Unmarshal(n.Params, &p))
			return p
		case <-timeout:
			t.Fatal("nothing highlighted")
			return models.CyclerHighlightParams{}
		}
	}
}

func (f *fixture) finished(t *testing.T) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-f.ns:
			if n.Method == models.NotificationCyclerFinished {
				return
			}
		case <-timeout:
			t.Fatal("cycler did not finish")
		}
	}
}

// advance waits for the cycler to arm its timer, then fires it.
func (f *fixture) advance(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(d)
}

func TestCycler_SelectCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.True(t, f.cycler.Start())
	assert.True(t, f.cycler.Running())
	assert.False(t, f.cycler.Start(), "second start is a no-op")

	start := f.submitted(t)
	assert.Equal(t, "TVIOS", start.Data)
	assert.Equal(t, "Olá", start.Voice)
	assert.Equal(t, protocol.KindString, start.Kind)

	f.advance(t, sourceDelay)

	assert.Equal(t, models.CyclerHighlightParams{Group: "TV"}, f.highlighted(t))
	require.True(t, f.cycler.Select())

	assert.Equal(t, models.CyclerHighlightParams{Group: "TV", Command: "Ligar"}, f.highlighted(t))
	f.advance(t, interval)

	assert.Equal(t, models.CyclerHighlightParams{Group: "TV", Command: "Desligar"}, f.highlighted(t))
	require.True(t, f.cycler.Select())

	cmd := f.submitted(t)
	assert.Equal(t, "TVOFF", cmd.Data)
	assert.Empty(t, cmd.Voice)

	finish := f.submitted(t)
	assert.Equal(t, "TVIOD", finish.Data)

	f.finished(t)
	assert.False(t, f.cycler.Running())
	assert.False(t, f.cycler.Select())
	assert.Equal(t, []string{"TV", "Ligar", "Desligar"}, f.speaker.all())
}

func TestCycler_SelectedCommandVoice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.True(t, f.cycler.Start())
	f.submitted(t)
	f.advance(t, sourceDelay)

	f.highlighted(t)
	f.cycler.Select()
	f.highlighted(t)
	f.cycler.Select()

	cmd := f.submitted(t)
	assert.Equal(t, "TVON", cmd.Data)
	assert.Equal(t, "Ligando a TV", cmd.Voice)
	f.finished(t)
}

func TestCycler_Exhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.True(t, f.cycler.Start())
	f.submitted(t)
	f.advance(t, sourceDelay)

	assert.Equal(t, "TV", f.highlighted(t).Group)
	f.advance(t, interval)
	assert.Equal(t, "Luz", f.highlighted(t).Group)
	f.advance(t, interval)

	assert.Equal(t, "TVIOD", f.submitted(t).Data)
	f.finished(t)
	assert.False(t, f.cycler.Running())
}

func TestCycler_ExhaustedGroupMovesOn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.True(t, f.cycler.Start())
	f.submitted(t)
	f.advance(t, sourceDelay)

	f.highlighted(t)
	f.cycler.Select()
	assert.Equal(t, "Ligar", f.highlighted(t).Command)
	f.advance(t, interval)
	assert.Equal(t, "Desligar", f.highlighted(t).Command)
	f.advance(t, interval)

	next := f.highlighted(t)
	assert.Equal(t, models.CyclerHighlightParams{Group: "Luz"}, next)
	f.cycler.Select()
	assert.Equal(t, "Acender", f.highlighted(t).Command)
	f.cycler.Select()

	assert.Equal(t, "L1ON", f.submitted(t).Data)
	assert.Equal(t, "TVIOD", f.submitted(t).Data)
	f.finished(t)
}

func TestCycler_SelectDuringSourceDelayIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.True(t, f.cycler.Start())
	f.submitted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	assert.True(t, f.cycler.Select())
	f.clock.Advance(sourceDelay)

	assert.Equal(t, models.CyclerHighlightParams{Group: "TV"}, f.highlighted(t))
	f.advance(t, interval)
	assert.Equal(t, models.CyclerHighlightParams{Group: "Luz"}, f.highlighted(t), "early press must not enter TV")
}

func TestCycler_Stop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.True(t, f.cycler.Start())
	f.submitted(t)

	f.cycler.Stop()
	assert.False(t, f.cycler.Running())
	assert.Equal(t, "TVIOD", f.submitted(t).Data, "finish command is sent when stopped")

	require.True(t, f.cycler.Start(), "a stopped cycler can start again")
	assert.Equal(t, "TVIOS", f.submitted(t).Data)
}

func TestCycler_SubmitErrorsDoNotStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sub.err = errors.New("relay down")
	require.True(t, f.cycler.Start())
	f.submitted(t)
	f.advance(t, sourceDelay)

	assert.Equal(t, "TV", f.highlighted(t).Group)
}

func TestCycler_NoGroups(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{cmds: make(chan protocol.Command, 4)}
	c := New(Options{
		Submitter:     sub,
		Clock:         clockwork.NewFakeClock(),
		FinishCommand: "TVIOD",
	})
	require.True(t, c.Start())

	select {
	case cmd := <-sub.cmds:
		assert.Equal(t, "TVIOD", cmd.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("finish command not sent")
	}
	c.Stop()
}
