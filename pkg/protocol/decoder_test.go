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
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, kind Kind, payload string) []byte {
	t.Helper()
	b, err := EncodeFrame(kind, []byte(payload))
	require.NoError(t, err)
	return b
}

func TestDecoder_Decode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
		want  Command
	}{
		{
			name:  "string command with voice",
			input: []byte{0x01, 0x04, 0x08, 'T', 'V', '1', ';', 'h', 'e', 'l', 'o', 0x04},
			want:  Command{Kind: KindString, Data: "TV1", Voice: "helo"},
		},
		{
			name:  "enable in string slot",
			input: []byte{0x01, 0x04, 0x05, 'E', '5', '0', '0', '0', 0x04},
			want:  Command{Kind: KindEnable, Data: "E5000", ActivationWindow: 5 * time.Second},
		},
		{
			name:  "enable kind",
			input: []byte{0x01, 0xBB, 0x06, 'E', '1', '0', '0', '0', '0', 0x04},
			want:  Command{Kind: KindEnable, Data: "E10000", ActivationWindow: 10 * time.Second},
		},
		{
			name:  "enable kind without prefix",
			input: []byte{0x01, 0xBB, 0x03, '2', '5', '0', 0x04},
			want:  Command{Kind: KindEnable, Data: "250", ActivationWindow: 250 * time.Millisecond},
		},
		{
			name:  "status",
			input: []byte{0x01, 0xFF, 0x00, 0x04},
			want:  Command{Kind: KindStatus},
		},
		{
			name:  "explicit shutdown",
			input: []byte{0x01, 0xAA, 0x00, 0x04},
			want:  Command{Kind: KindShutdown},
		},
		{
			name:  "client check downgrades to status",
			input: []byte{0x01, 0xCC, 0x01, 'C', 0x04},
			want:  Command{Kind: KindStatus},
		},
		{
			name:  "largest enable window",
			input: frame(t, KindEnable, "E9223372036854"),
			want: Command{
				Kind:             KindEnable,
				Data:             "E9223372036854",
				ActivationWindow: 9223372036854 * time.Millisecond,
			},
		},
		{
			name:  "unknown kind downgrades to status",
			input: []byte{0x01, 0x42, 0x02, 'h', 'i', 0x04},
			want:  Command{Kind: KindStatus},
		},
		{
			name:  "clean close is implicit shutdown",
			input: nil,
			want:  Command{Kind: KindShutdown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := NewDecoder(bytes.NewReader(tt.input), fixedPicker(0)).Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecoder_Decode_FrameErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		input   []byte
	}{
		{
			name:    "bad enable window",
			input:   []byte{0x01, 0x04, 0x04, 'E', 'X', 'I', 'T', 0x04},
			wantErr: ErrInvalidEnable,
		},
		{
			name:    "negative enable window",
			input:   []byte{0x01, 0x04, 0x03, 'E', '-', '5', 0x04},
			wantErr: ErrInvalidEnable,
		},
		{
			name:    "enable window past duration range",
			input:   frame(t, KindString, "E18446744073709"),
			wantErr: ErrInvalidEnable,
		},
		{
			name:    "enable kind window past duration range",
			input:   frame(t, KindEnable, "E9300000000000000"),
			wantErr: ErrInvalidEnable,
		},
		{
			name:    "bad start byte",
			input:   []byte{0x7F},
			wantErr: ErrInvalidStartByte,
		},
		{
			name:    "bad end byte",
			input:   []byte{0x01, 0x04, 0x00, 0x05},
			wantErr: ErrInvalidEndByte,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := NewDecoder(bytes.NewReader(tt.input), nil).Decode()
			require.ErrorIs(t, err, tt.wantErr)

			var frameErr *FrameError
			assert.True(t, errors.As(err, &frameErr))
			assert.Equal(t, KindStatus, got.Kind)
		})
	}
}

func TestDecoder_Decode_Truncated(t *testing.T) {
	t.Parallel()

	dec := NewDecoder(bytes.NewReader([]byte{0x01, 0x04, 0x09, 'T'}), nil)

	got, err := dec.Decode()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, KindStatus, got.Kind)

	got, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindShutdown, got.Kind, "a drained stream reads as shutdown")
}

func TestDecoder_Decode_Sequence(t *testing.T) {
	t.Parallel()

	var stream []byte
	stream = append(stream, frame(t, KindEnable, "E5000")...)
	stream = append(stream, frame(t, KindString, "HI#HO;done")...)

	dec := NewDecoder(bytes.NewReader(stream), nil)

	first, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindEnable, first.Kind)
	assert.Equal(t, 5*time.Second, first.ActivationWindow)

	second, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindString, second.Kind)
	assert.Equal(t, "HI#HO", second.Data)
	assert.Equal(t, "done", second.Voice)

	third, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindShutdown, third.Kind)
}

func TestDecoder_Decode_Latin1Payload(t *testing.T) {
	t.Parallel()

	c := Command{Kind: KindString, Data: "TVIOS", Voice: "Olá"}
	b, err := c.Frame(true)
	require.NoError(t, err)

	got, err := NewDecoder(bytes.NewReader(b), nil).Decode()
	require.NoError(t, err)
	assert.Equal(t, c, got)
}
