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
	"io"

	"golang.org/x/text/encoding/charmap"
)

const (
	StartByte byte = 0x01
	EndByte   byte = 0x04

	// MaxPayload is the largest payload a single length byte can describe.
	MaxPayload = 255

	frameOverhead = 4
)

// Frame is a raw envelope: [0x01][kind][len][payload][0x04].
type Frame struct {
	Payload []byte
	Kind    Kind
}

// EncodeFrame wraps payload in an envelope of the given kind.
func EncodeFrame(kind Kind, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, &EncodingError{Err: ErrPayloadTooLong, Size: len(payload)}
	}

	b := make([]byte, 0, len(payload)+frameOverhead)
	b = append(b, StartByte, byte(kind), byte(len(payload)))
	b = append(b, payload...)
	b = append(b, EndByte)
	return b, nil
}

// WriteFrame encodes and writes a single envelope to w.
func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	b, err := EncodeFrame(kind, payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one envelope from r.
//
// It returns io.EOF only when the stream ends before the first byte and
// io.ErrUnexpectedEOF when it ends part way through a frame. A wrong start
// byte consumes only that byte, so the caller can keep reading and
// resynchronise on the next envelope.
func ReadFrame(r io.Reader) (Frame, error) {
	var start [1]byte
	if _, err := io.ReadFull(r, start[:]); err != nil {
		return Frame{}, err //nolint:wrapcheck // io.EOF must reach callers unwrapped
	}
	if start[0] != StartByte {
		return Frame{}, &FrameError{Err: ErrInvalidStartByte, Got: start[0]}
	}

	var header [2]byte
	if err := readRest(r, header[:]); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, int(header[1]))
	if err := readRest(r, payload); err != nil {
		return Frame{}, err
	}

	var end [1]byte
	if err := readRest(r, end[:]); err != nil {
		return Frame{}, err
	}
	if end[0] != EndByte {
		return Frame{}, &FrameError{Err: ErrInvalidEndByte, Got: end[0]}
	}

	return Frame{Kind: Kind(header[0]), Payload: payload}, nil
}

// readRest fills b once a frame has started, so any EOF is a truncation.
func readRest(r io.Reader, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	_, err := io.ReadFull(r, b)
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err //nolint:wrapcheck // io.ErrUnexpectedEOF is matched by callers
}

// EncodeText converts s to the single byte encoding used on the wire.
func EncodeText(s string) ([]byte, error) {
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, &EncodingError{Err: fmt.Errorf("%w: %q", ErrUnencodable, s)}
	}
	return b, nil
}

// DecodeText converts wire bytes back to a string. Every byte maps to a
// rune in latin-1, so this never fails.
func DecodeText(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}
