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

package relay

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dptucunduva/casa/pkg/actuator"
	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/dptucunduva/casa/pkg/testing/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openActuator(t *testing.T, dev *mocks.MockActuator) *actuator.Port {
	t.Helper()
	p, err := actuator.Open(actuator.Options{
		Path: "/dev/ttyTEST",
		Factory: func(string, *serial.Mode) (actuator.SerialPort, error) {
			return dev, nil
		},
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
	})
	return p
}

func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	srv, err := NewServer(opts)
	require.NoError(t, err)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(func() {
		_ = srv.Stop()
	})
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func waitFor(t *testing.T, ns <-chan models.Notification, method string) models.Notification {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-ns:
			if n.Method == method {
				return n
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", method)
			return models.Notification{}
		}
	}
}

func writeCommands(t *testing.T, w io.Writer, cmds ...protocol.Command) {
	t.Helper()
	for _, c := range cmds {
		_, err := w.Write(frameOf(t, c))
		require.NoError(t, err)
	}
}

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Options{Macros: macroMap{}})
	require.Error(t, err)

	_, err = NewServer(Options{Device: &fakeDevice{}})
	require.Error(t, err)
}

func TestServer_EnableThenCommand(t *testing.T) {
	t.Parallel()

	dev := mocks.NewMockActuator(true)
	ns := make(chan models.Notification, 64)
	srv := startServer(t, Options{
		Device:        openActuator(t, dev),
		Macros:        macroMap{},
		Notifications: ns,
	})

	conn := dial(t, srv)
	writeCommands(t, conn,
		protocol.EnableCommand(5*time.Second),
		stringCmd("HI"),
		protocol.Command{Kind: protocol.KindShutdown},
	)
	waitFor(t, ns, models.NotificationSessionEnded)

	type wire struct {
		data string
		kind protocol.Kind
	}
	var got []wire
	for _, f := range dev.WrittenFrames() {
		got = append(got, wire{kind: f.Kind, data: string(f.Payload)})
	}
	assert.Equal(t, []wire{
		{kind: protocol.KindString, data: "C"},
		{kind: protocol.KindString, data: "E5000"},
		{kind: protocol.KindString, data: "C"},
		{kind: protocol.KindString, data: "C"},
		{kind: protocol.KindString, data: "HI"},
		{kind: protocol.KindString, data: "C"},
	}, got)
}

func TestServer_ClientCheckNeverReachesDevice(t *testing.T) {
	t.Parallel()

	dev := mocks.NewMockActuator(true)
	ns := make(chan models.Notification, 64)
	srv := startServer(t, Options{
		Device:        openActuator(t, dev),
		Macros:        macroMap{},
		Notifications: ns,
	})

	conn := dial(t, srv)
	_, err := conn.Write([]byte{protocol.StartByte, byte(protocol.KindCheck), 1, 'C', protocol.EndByte})
	require.NoError(t, err)
	writeCommands(t, conn,
		protocol.EnableCommand(5*time.Second),
		stringCmd("HI"),
		protocol.Command{Kind: protocol.KindShutdown},
	)
	waitFor(t, ns, models.NotificationSessionEnded)

	checks := 0
	for _, f := range dev.WrittenFrames() {
		if mocks.IsCheck(f) {
			checks++
		}
	}
	assert.Equal(t, []string{"E5000", "HI"}, dev.Sent())
	assert.Equal(t, 4, checks, "only the relay's own gate and confirmation checks")
}

func TestServer_ClientsDoNotInterleave(t *testing.T) {
	t.Parallel()

	dev := mocks.NewMockActuator(true)
	ns := make(chan models.Notification, 256)
	srv := startServer(t, Options{
		Device:        openActuator(t, dev),
		Macros:        macroMap{},
		Notifications: ns,
	})

	const clients = 4
	var wg sync.WaitGroup
	for range clients {
		conn := dial(t, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmds := []protocol.Command{
				protocol.EnableCommand(time.Minute),
				stringCmd("A#B#C"),
				{Kind: protocol.KindShutdown},
			}
			for _, c := range cmds {
				b, err := c.Frame(true)
				if err != nil {
					return
				}
				if _, err := conn.Write(b); err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	for range clients {
		waitFor(t, ns, models.NotificationSessionEnded)
	}

	frames := dev.WrittenFrames()
	for i, f := range frames {
		if mocks.IsCheck(f) {
			continue
		}
		require.Less(t, i+1, len(frames))
		assert.True(t, mocks.IsCheck(frames[i+1]), "frame %d is not confirmed", i)
	}
	assert.Len(t, dev.Sent(), clients*4)
}

func TestServer_SwitchOff(t *testing.T) {
	t.Parallel()

	dev := mocks.NewMockActuator(false)
	ns := make(chan models.Notification, 64)
	srv := startServer(t, Options{
		Device:        openActuator(t, dev),
		Macros:        macroMap{},
		Notifications: ns,
	})

	conn := dial(t, srv)
	writeCommands(t, conn,
		protocol.EnableCommand(5*time.Second),
		stringCmd("HI"),
	)
	require.NoError(t, conn.Close())

	n := waitFor(t, ns, models.NotificationSwitch)
	assert.Contains(t, string(n.Params), `"on":false`)
	waitFor(t, ns, models.NotificationSessionEnded)

	assert.Empty(t, dev.Sent())
	on, _, known := srv.Switch()
	assert.True(t, known)
	assert.False(t, on)
}

func TestServer_Stop(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification, 64)
	srv, err := NewServer(Options{
		Device:        &fakeDevice{on: true},
		Macros:        macroMap{},
		Notifications: ns,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()
	waitFor(t, ns, models.NotificationSessionStarted)
	assert.Equal(t, 1, srv.Sessions())

	require.NoError(t, srv.Stop())
	assert.Zero(t, srv.Sessions())

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)

	require.NoError(t, srv.Stop())
	require.ErrorIs(t, srv.Listen("127.0.0.1:0"), ErrServerStopped)
}

func TestServer_StopBeforeListen(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Options{Device: &fakeDevice{}, Macros: macroMap{}})
	require.NoError(t, err)
	require.NoError(t, srv.Stop())
	assert.Nil(t, srv.Addr())
}

func TestSender_Submit(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{on: true}
	voice := &recorder{}
	ns := make(chan models.Notification, 64)
	srv := startServer(t, Options{
		Device:        dev,
		Macros:        macroMap{"tv": "TVON"},
		Speaker:       voice,
		Notifications: ns,
	})

	sender := NewSender(srv.Addr().String(), 10*time.Second)
	require.NoError(t, sender.SubmitText(context.Background(), "tv;Olá"))
	waitFor(t, ns, models.NotificationSessionEnded)

	assert.Equal(t, []string{"E10000", "TVON"}, dev.sent())
	voice.mu.Lock()
	defer voice.mu.Unlock()
	assert.Equal(t, []string{"Olá"}, voice.said)
}

func TestSender_WireFormat(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() {
		_ = l.Close()
	}()

	received := make(chan []byte, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer func() {
			_ = conn.Close()
		}()
		b, _ := io.ReadAll(conn)
		received <- b
	}()

	sender := NewSender(l.Addr().String(), 2500*time.Millisecond)
	cmd := protocol.Command{Kind: protocol.KindString, Data: "TVON", Voice: "Ligando"}
	require.NoError(t, sender.Submit(context.Background(), cmd))

	b := <-received
	require.NotNil(t, b)

	want, err := protocol.EncodeFrame(protocol.KindEnable, []byte("E2500"))
	require.NoError(t, err)
	want = append(want, frameOf(t, cmd)...)
	assert.Equal(t, want, b)
}

func TestSender_Errors(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	sender := NewSender(addr, time.Second)
	require.Error(t, sender.SubmitText(context.Background(), "TVON"))

	var ee *protocol.EncodingError
	err = sender.Submit(context.Background(), stringCmd("日本"))
	require.ErrorAs(t, err, &ee)
}
