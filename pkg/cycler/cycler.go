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

// Package cycler implements the single-button selector. Once started it
// switches the TV to the selector input, then highlights each command group
// in turn. A button press while a group is highlighted enters the group and
// highlights its commands; a press while a command is highlighted sends it.
package cycler

import (
	"context"
	"time"

	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/api/notifications"
	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/dptucunduva/casa/pkg/relay"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const submitTimeout = 10 * time.Second

// Speaker announces highlighted labels.
type Speaker interface {
	Say(text string)
}

type Options struct {
	Submitter     relay.Submitter
	Speaker       Speaker
	Clock         clockwork.Clock
	Notifications chan<- models.Notification
	Groups        func() []config.Group
	Picker        protocol.Picker
	StartCommand  string
	FinishCommand string
	SourceDelay   time.Duration
	Interval      time.Duration
}

type Cycler struct {
	opts     Options
	selectCh chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	mu       syncutil.Mutex
	running  bool
}

func New(opts Options) *Cycler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Picker == nil {
		opts.Picker = protocol.DefaultPicker
	}
	if opts.Groups == nil {
		opts.Groups = func() []config.Group { return nil }
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Duration(config.DefaultIntervalMs) * time.Millisecond
	}
	return &Cycler{opts: opts}
}

// Start begins a cycle. It returns false if one is already running.
func (c *Cycler) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.selectCh = make(chan struct{}, 1)

	go c.run(ctx, c.selectCh, c.done)
	return true
}

// Select acts on the highlighted group or command. It returns false when
// no cycle is running.
func (c *Cycler) Select() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	select {
	case c.selectCh <- struct{}{}:
	default:
	}
	return true
}

func (c *Cycler) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop ends the running cycle, if any, and waits for it to send the
// finish command.
func (c *Cycler) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Cycler) run(ctx context.Context, sel chan struct{}, done chan struct{}) {
	defer close(done)
	defer func() {
		c.submit(c.opts.FinishCommand, "")
		c.mu.Lock()
		c.running = false
		c.cancel()
		c.mu.Unlock()
		notifications.CyclerFinished(c.opts.Notifications)
		log.Info().Msg("cycler finished")
	}()

	log.Info().Msg("cycler started")
	notifications.CyclerStarted(c.opts.Notifications)
	c.submit(c.opts.StartCommand, "")

	// presses while the TV is still switching inputs are ignored
	if _, err := c.wait(ctx, c.opts.SourceDelay, nil); err != nil {
		return
	}
	select {
	case <-sel:
	default:
	}

	for _, g := range c.opts.Groups() {
		c.highlight(g.Label, "")
		selected, err := c.wait(ctx, c.opts.Interval, sel)
		if err != nil {
			return
		}
		if !selected {
			continue
		}

		log.Info().Str("group", g.Label).Msg("group selected")
		for _, gc := range g.Commands {
			c.highlight(g.Label, gc.Label)
			selected, err := c.wait(ctx, c.opts.Interval, sel)
			if err != nil {
				return
			}
			if selected {
				log.Info().Str("group", g.Label).Str("command", gc.Label).Msg("command selected")
				notifications.CyclerSelected(c.opts.Notifications, models.CyclerSelectedParams{
					Group:   g.Label,
					Command: gc.Label,
					Data:    gc.Data,
				})
				c.submit(gc.Data, gc.TTS)
				return
			}
		}
	}
}

func (c *Cycler) highlight(group, command string) {
	label := group
	if command != "" {
		label = command
	}
	log.Debug().Str("group", group).Str("command", command).Msg("highlighting")
	notifications.CyclerHighlight(c.opts.Notifications, models.CyclerHighlightParams{
		Group:   group,
		Command: command,
	})
	if c.opts.Speaker != nil && label != "" {
		c.opts.Speaker.Say(label)
	}
}

// wait returns true if a selection arrives on sel before d has passed.
func (c *Cycler) wait(ctx context.Context, d time.Duration, sel <-chan struct{}) (bool, error) {
	if d <= 0 {
		return false, ctx.Err()
	}
	timer := c.opts.Clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.Chan():
		return false, nil
	case <-sel:
		return true, nil
	}
}

// submit sends raw (data with an optional ';' voice part) through the
// relay. voice, when set, replaces any voice in raw.
func (c *Cycler) submit(raw, voice string) {
	if raw == "" || c.opts.Submitter == nil {
		return
	}
	cmd := protocol.NewCommand(protocol.KindString, raw, c.opts.Picker)
	if voice != "" {
		cmd.SetVoice(voice, c.opts.Picker)
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	if err := c.opts.Submitter.Submit(ctx, cmd); err != nil {
		log.Error().Err(err).Str("command", cmd.String()).Msg("cycler failed to submit command")
	}
}
