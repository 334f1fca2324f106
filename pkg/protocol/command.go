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

package protocol

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	voiceSeparator  = ";"
	optionSeparator = "|"
	partSeparator   = "#"
	enablePrefix    = "E"
)

// Picker returns an index in [0, n). It decides which of several
// pipe-separated voice alternatives is spoken.
type Picker func(n int) int

// DefaultPicker picks uniformly at random.
func DefaultPicker(n int) int {
	return rand.IntN(n) //nolint:gosec // spoken variety, not security
}

// Command is a single relay command.
type Command struct {
	Data  string
	Voice string
	// ActivationWindow is only meaningful for KindEnable.
	ActivationWindow time.Duration
	Kind             Kind
}

// NewCommand builds a command from raw client text, extracting the voice
// part after the first ';'.
func NewCommand(kind Kind, raw string, pick Picker) Command {
	c := Command{Kind: kind}
	c.SetData(raw, pick)
	return c
}

// EnableCommand opens an activation window of d on the receiving session.
func EnableCommand(d time.Duration) Command {
	return Command{
		Kind:             KindEnable,
		Data:             enablePrefix + strconv.FormatInt(d.Milliseconds(), 10),
		ActivationWindow: d,
	}
}

// CheckCommand is the health check sent to the actuator.
func CheckCommand() Command {
	return Command{Kind: KindCheck, Data: "C"}
}

// SetData stores raw as the command data. Anything after the first ';' is
// moved to the voice text.
func (c *Command) SetData(raw string, pick Picker) {
	data, voice, found := strings.Cut(raw, voiceSeparator)
	c.Data = data
	if found && voice != "" {
		c.SetVoice(voice, pick)
	}
}

// SetVoice stores the text to speak. When voice lists alternatives
// separated by '|', pick chooses one of them.
func (c *Command) SetVoice(voice string, pick Picker) {
	options := strings.Split(voice, optionSeparator)
	if len(options) == 1 {
		c.Voice = voice
		return
	}
	if pick == nil {
		pick = DefaultPicker
	}
	i := pick(len(options))
	if i < 0 || i >= len(options) {
		i = 0
	}
	c.Voice = options[i]
}

// Payload is the text placed in the envelope. The serial side never carries
// voice text.
func (c Command) Payload(includeVoice bool) string {
	if includeVoice && c.Voice != "" {
		return c.Data + voiceSeparator + c.Voice
	}
	return c.Data
}

// Frame encodes the command as an envelope.
func (c Command) Frame(includeVoice bool) ([]byte, error) {
	payload, err := EncodeText(c.Payload(includeVoice))
	if err != nil {
		return nil, err
	}
	return EncodeFrame(c.Kind, payload)
}

// DeviceFrame encodes the command for the actuator. The firmware reads
// every frame as a string and tells commands apart by their data, so the
// kind byte is always KindString and the voice text is left out.
func (c Command) DeviceFrame() ([]byte, error) {
	payload, err := EncodeText(c.Data)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(KindString, payload)
}

// Split breaks a composite command on '#'. Every part keeps the kind, voice
// and activation window of c.
func (c Command) Split() []Command {
	parts := strings.Split(c.Data, partSeparator)
	cmds := make([]Command, len(parts))
	for i, p := range parts {
		cmds[i] = c
		cmds[i].Data = p
	}
	return cmds
}

func (c Command) String() string {
	var sb strings.Builder
	sb.WriteString(c.Kind.String())
	if c.Data != "" {
		sb.WriteString(" data=")
		sb.WriteString(strconv.Quote(c.Data))
	}
	if c.Voice != "" {
		sb.WriteString(" voice=")
		sb.WriteString(strconv.Quote(c.Voice))
	}
	if c.Kind == KindEnable {
		sb.WriteString(" window=")
		sb.WriteString(c.ActivationWindow.String())
	}
	return sb.String()
}
