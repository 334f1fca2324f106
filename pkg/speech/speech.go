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

// Package speech speaks relay voice text through an external synthesizer
// and starts the optional voice recognizer.
package speech

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dptucunduva/casa/pkg/helpers/command"
	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

const (
	// TextPlaceholder in a command argument is replaced by the text to
	// speak.
	TextPlaceholder = "{text}"

	DefaultTimeout = 30 * time.Second
	queueSize      = 16
)

// Speaker speaks text without waiting for it to finish.
type Speaker interface {
	Say(text string)
}

// NopSpeaker is used when speech is disabled.
type NopSpeaker struct{}

func (NopSpeaker) Say(text string) {
	log.Debug().Str("text", text).Msg("speech disabled, not speaking")
}

// DefaultCommand returns the synthesizer command line for goos and the
// escaping its text argument needs.
func DefaultCommand(goos string) ([]string, func(string) string) {
	switch goos {
	case "windows":
		return []string{
			"powershell", "-NoProfile", "-NonInteractive", "-Command",
			"Add-Type -AssemblyName System.Speech; " +
				"(New-Object System.Speech.Synthesis.SpeechSynthesizer).Speak('" + TextPlaceholder + "')",
		}, powershellQuote
	case "darwin":
		return []string{"say", TextPlaceholder}, nil
	default:
		return []string{"espeak", "-v", "pt-br", TextPlaceholder}, nil
	}
}

func powershellQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Expand fills the text placeholder in every argument of tmpl.
func Expand(tmpl []string, text string, escape func(string) string) []string {
	if escape != nil {
		text = escape(text)
	}
	out := make([]string, len(tmpl))
	for i, arg := range tmpl {
		out[i] = strings.ReplaceAll(arg, TextPlaceholder, text)
	}
	return out
}

// CommandSpeaker runs a synthesizer program for every utterance. Utterances
// are spoken one at a time in the order given; when too many are waiting
// new ones are dropped.
type CommandSpeaker struct {
	exec    command.Executor
	escape  func(string) string
	queue   chan string
	ctx     context.Context
	cancel  context.CancelFunc
	tmpl    []string
	timeout time.Duration
	wg      sync.WaitGroup
	mu      syncutil.Mutex
	closed  bool
}

// NewCommandSpeaker starts a speaker running tmpl, or the platform default
// when tmpl is empty. Close must be called to stop it.
func NewCommandSpeaker(exec command.Executor, tmpl []string) (*CommandSpeaker, error) {
	var escape func(string) string
	if len(tmpl) == 0 {
		tmpl, escape = DefaultCommand(runtime.GOOS)
	}
	if tmpl[0] == "" {
		return nil, errors.New("speech command is empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &CommandSpeaker{
		exec:    exec,
		escape:  escape,
		tmpl:    append([]string(nil), tmpl...),
		queue:   make(chan string, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		timeout: DefaultTimeout,
	}

	s.wg.Add(1)
	go s.worker()

	return s, nil
}

// Say queues text to be spoken.
func (s *CommandSpeaker) Say(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- text:
	default:
		log.Warn().Str("text", text).Msg("speech queue full, dropping utterance")
	}
}

// Close stops the speaker, interrupting the utterance in progress.
func (s *CommandSpeaker) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *CommandSpeaker) worker() {
	defer s.wg.Done()
	for text := range s.queue {
		if s.ctx.Err() != nil {
			continue
		}
		if err := s.speak(text); err != nil {
			log.Warn().Err(err).Str("text", text).Msg("failed to speak")
		}
	}
}

func (s *CommandSpeaker) speak(text string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	args := Expand(s.tmpl, text, s.escape)
	log.Debug().Strs("command", args).Msg("speaking")

	proc, err := s.exec.Start(ctx, command.Options{HideWindow: true}, args[0], args[1:]...)
	if err != nil {
		return err //nolint:wrapcheck // executor errors name the program
	}
	if err := proc.Wait(); err != nil && ctx.Err() == nil {
		return err //nolint:wrapcheck // exit status
	}
	return nil
}
