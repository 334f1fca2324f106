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

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"))
}

// eventServer sends events then waits for the client to go away.
func eventServer(t *testing.T, events []string, queries chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if queries != nil {
			queries <- r.URL.RawQuery
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for _, ev := range events {
			if err := c.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func addrOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestEventsURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ws://localhost:11080/api/events", EventsURL("localhost:11080", nil))
	assert.Equal(t,
		"ws://localhost:11080/api/events?method=relay.forwarded&method=relay.dropped",
		EventsURL("localhost:11080", []string{"relay.forwarded", "relay.dropped"}),
	)
}

func TestWatch(t *testing.T) {
	t.Parallel()

	queries := make(chan string, 1)
	srv := eventServer(t, []string{
		`{"method":"relay.forwarded","params":{"data":"TVON"}}`,
		`not json`,
		`{"method":"device.event","params":{"data":"B"}}`,
	}, queries)

	var got []models.Event
	err := Watch(context.Background(), addrOf(srv), []string{"relay.forwarded"}, func(ev models.Event) error {
		got = append(got, ev)
		if len(got) == 2 {
			return ErrStopWatching
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "method=relay.forwarded", <-queries)

	require.Len(t, got, 2)
	assert.Equal(t, "relay.forwarded", got[0].Method)
	assert.JSONEq(t, `{"data":"TVON"}`, string(got[0].Params))
	assert.Equal(t, "device.event", got[1].Method)
}

func TestWatch_CallbackError(t *testing.T) {
	t.Parallel()

	srv := eventServer(t, []string{`{"method":"cycler.started"}`}, nil)
	boom := errors.New("boom")

	err := Watch(context.Background(), addrOf(srv), nil, func(models.Event) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWatch_Cancel(t *testing.T) {
	t.Parallel()

	srv := eventServer(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- Watch(ctx, addrOf(srv), nil, func(models.Event) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_DialError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	err := Watch(context.Background(), addrOf(srv), nil, func(models.Event) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to event stream")
}
