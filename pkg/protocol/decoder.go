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
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Decoder reads commands from a relay client stream.
type Decoder struct {
	r    io.Reader
	pick Picker
}

// NewDecoder returns a decoder reading from r. pick resolves voice
// alternatives and may be nil for DefaultPicker.
func NewDecoder(r io.Reader, pick Picker) *Decoder {
	if pick == nil {
		pick = DefaultPicker
	}
	return &Decoder{r: r, pick: pick}
}

// Decode reads the next command.
//
// A stream that closes cleanly before a frame starts yields an implicit
// Shutdown command and no error. Any other error comes back together with
// a Status command, so callers that want to keep going can treat it as a
// no-op. A *FrameError means the stream is still usable.
func (d *Decoder) Decode() (Command, error) {
	f, err := ReadFrame(d.r)
	if errors.Is(err, io.EOF) {
		return Command{Kind: KindShutdown}, nil
	}
	if err != nil {
		return Command{Kind: KindStatus}, err
	}
	return Interpret(f, d.pick)
}

// Interpret turns a raw frame into a command.
//
// Unknown kinds are downgraded to Status, which lets the firmware grow new
// kinds without breaking older relays. Check is downgraded too: health
// checks belong to the relay and a client cannot issue one. A string or
// enable payload starting with 'E' is an activation request; the digits
// after it are the window in milliseconds.
func Interpret(f Frame, pick Picker) (Command, error) {
	if !f.Kind.Known() || f.Kind == KindCheck {
		return Command{Kind: KindStatus}, nil
	}

	c := NewCommand(f.Kind, DecodeText(f.Payload), pick)

	switch f.Kind {
	case KindString:
		if !strings.HasPrefix(c.Data, enablePrefix) {
			return c, nil
		}
	case KindEnable:
	default:
		return c, nil
	}

	window, err := parseWindow(c.Data)
	if err != nil {
		return Command{Kind: KindStatus}, &FrameError{Err: ErrInvalidEnable, Payload: c.Data}
	}
	c.Kind = KindEnable
	c.ActivationWindow = window
	return c, nil
}

const maxWindowMillis = math.MaxInt64 / int64(time.Millisecond)

func parseWindow(data string) (time.Duration, error) {
	ms, err := strconv.ParseInt(strings.TrimPrefix(data, enablePrefix), 10, 64)
	if err != nil {
		return 0, err //nolint:wrapcheck // replaced by FrameError
	}
	if ms < 0 || ms > maxWindowMillis {
		return 0, ErrInvalidEnable
	}
	return time.Duration(ms) * time.Millisecond, nil
}
