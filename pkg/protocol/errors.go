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
	"fmt"
)

var (
	ErrPayloadTooLong   = errors.New("payload exceeds 255 bytes")
	ErrUnencodable      = errors.New("text is not representable in latin-1")
	ErrInvalidStartByte = errors.New("invalid start byte")
	ErrInvalidEndByte   = errors.New("invalid end byte")
	ErrInvalidEnable    = errors.New("invalid activation window")
)

// EncodingError is returned when a command cannot be put in an envelope.
type EncodingError struct {
	Err  error
	Size int
}

func (e *EncodingError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("encode frame (%d bytes): %v", e.Size, e.Err)
	}
	return "encode frame: " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// FrameError is a malformed envelope. Readers recover from it by treating
// the frame as a Status command.
type FrameError struct {
	Err     error
	Payload string
	Got     byte
}

func (e *FrameError) Error() string {
	switch {
	case errors.Is(e.Err, ErrInvalidEnable):
		return fmt.Sprintf("malformed frame: %v: %q", e.Err, e.Payload)
	case errors.Is(e.Err, ErrInvalidStartByte), errors.Is(e.Err, ErrInvalidEndByte):
		return fmt.Sprintf("malformed frame: %v: 0x%02x", e.Err, e.Got)
	default:
		return "malformed frame: " + e.Err.Error()
	}
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
