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

// Package client consumes the control API event stream.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	EventsPath       = "/api/events"
	handshakeTimeout = 10 * time.Second
)

// ErrStopWatching can be returned by a Watch callback to end the stream
// without an error.
var ErrStopWatching = errors.New("stop watching")

// EventsURL is the WebSocket URL of the event stream served at addr
// (host:port), limited to methods when any are given.
func EventsURL(addr string, methods []string) string {
	u := url.URL{Scheme: "ws", Host: addr, Path: EventsPath}
	if len(methods) > 0 {
		q := url.Values{}
		for _, m := range methods {
			q.Add("method", m)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Watch streams events from the API at addr to fn until ctx is cancelled,
// the server closes the stream or fn returns an error.
func Watch(ctx context.Context, addr string, methods []string, fn func(models.Event) error) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	c, resp, err := dialer.DialContext(ctx, EventsURL(addr, methods), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("connect to event stream: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			_ = c.Close()
		case <-stop:
			_ = c.Close()
		}
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}

		var ev models.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			log.Warn().Err(err).Msg("skipping malformed event")
			continue
		}
		if err := fn(ev); err != nil {
			if errors.Is(err, ErrStopWatching) {
				return nil
			}
			return err
		}
	}
}
