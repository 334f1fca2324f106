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

// Package broker fans relay notifications out to every consumer (WebSocket
// clients, MQTT publishers) without letting a slow one hold up the others.
package broker

import (
	"context"
	"slices"

	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

type subscriber struct {
	ch      chan models.Notification
	methods []string
}

func (s subscriber) wants(method string) bool {
	return len(s.methods) == 0 || slices.Contains(s.methods, method)
}

// Broker reads notifications from a single source and copies each one to
// its subscribers. Sends never block: a full subscriber misses the
// notification.
type Broker struct {
	ctx         context.Context
	source      <-chan models.Notification
	subscribers map[int]subscriber
	done        chan struct{}
	mu          syncutil.RWMutex
	nextID      int
}

func NewBroker(ctx context.Context, source <-chan models.Notification) *Broker {
	return &Broker{
		ctx:         ctx,
		source:      source,
		subscribers: make(map[int]subscriber),
		done:        make(chan struct{}),
	}
}

// Start runs the broadcast loop until the source closes or the context is
// cancelled. Every subscriber channel is closed when it exits.
func (b *Broker) Start() {
	go func() {
		defer close(b.done)
		defer b.closeAll()
		for {
			select {
			case n, ok := <-b.source:
				if !ok {
					log.Debug().Msg("broker: source channel closed")
					return
				}
				b.broadcast(n)
			case <-b.ctx.Done():
				log.Debug().Msg("broker: context cancelled, shutting down")
				return
			}
		}
	}()
}

// Done is closed once the broadcast loop has exited.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

func (b *Broker) broadcast(n models.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, s := range b.subscribers {
		if !s.wants(n.Method) {
			continue
		}
		select {
		case s.ch <- n:
		default:
			log.Warn().
				Int("subscriber_id", id).
				Str("method", n.Method).
				Msg("subscriber channel full, dropping notification")
		}
	}
}

// Subscribe registers a consumer. Only the listed methods are delivered;
// none means all of them.
func (b *Broker) Subscribe(bufferSize int, methods ...string) (notifChan <-chan models.Notification, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id = b.nextID
	b.nextID++

	ch := make(chan models.Notification, bufferSize)
	b.subscribers[id] = subscriber{ch: ch, methods: slices.Clone(methods)}

	log.Debug().
		Int("subscriber_id", id).
		Int("buffer_size", bufferSize).
		Strs("methods", methods).
		Msg("new subscriber registered")

	return ch, id
}

// Unsubscribe removes a subscription and closes its channel. Unknown IDs
// are ignored.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(s.ch)
		log.Debug().Int("subscriber_id", id).Msg("subscriber unsubscribed")
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, s := range b.subscribers {
		close(s.ch)
		log.Debug().Int("subscriber_id", id).Msg("closed subscriber channel on shutdown")
	}
	b.subscribers = make(map[int]subscriber)
}
