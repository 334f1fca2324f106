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

// Package api serves the HTTP control API: relay status, the configured
// command groups, command submission, the cycler and a WebSocket stream of
// notifications.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	apimiddleware "github.com/dptucunduva/casa/pkg/api/middleware"
	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/dptucunduva/casa/pkg/relay"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

const (
	EventsPath = "/api/events"

	methodsKey      = "methods"
	shutdownTimeout = 5 * time.Second
)

// RelayState is what the status endpoint reports about the relay.
type RelayState interface {
	Switch() (on bool, at time.Time, known bool)
	Sessions() int
}

type Selector interface {
	Start() bool
	Select() bool
	Running() bool
}

// Catalog exposes the macro table and command groups.
type Catalog interface {
	Groups() []config.Group
	Macros() []config.Macro
	FindGroupCommand(group, command string) (config.GroupCommand, bool)
}

type Options struct {
	Submitter      relay.Submitter
	Relay          RelayState
	Cycler         Selector
	Catalog        Catalog
	Notifications  <-chan models.Notification
	Clock          clockwork.Clock
	Picker         protocol.Picker
	Listen         string
	RelayAddress   string
	DevicePort     string
	AllowedOrigins []string
	AllowedIPs     []string
}

type Server struct {
	opts     Options
	router   chi.Router
	melody   *melody.Melody
	http     *http.Server
	listener net.Listener
	limiter  *apimiddleware.IPRateLimiter
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewServer(opts Options) (*Server, error) {
	if opts.Submitter == nil || opts.Catalog == nil {
		return nil, errors.New("api server needs a submitter and a catalog")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Picker == nil {
		opts.Picker = protocol.DefaultPicker
	}

	s := &Server{
		opts:    opts,
		melody:  melody.New(),
		limiter: apimiddleware.NewIPRateLimiter(opts.Clock),
		done:    make(chan struct{}),
	}
	s.melody.Upgrader.CheckOrigin = s.checkOrigin
	s.melody.HandleConnect(func(session *melody.Session) {
		log.Debug().Str("remote", session.Request.RemoteAddr).Msg("event stream client connected")
	})
	s.melody.HandleDisconnect(func(session *melody.Session) {
		log.Debug().Str("remote", session.Request.RemoteAddr).Msg("event stream client disconnected")
	})
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(apimiddleware.AllowListMiddleware(apimiddleware.NewAllowList(s.opts.AllowedIPs)))
	r.Use(middleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	// the event stream is long lived and must not get the request timeout
	r.Get(EventsPath, s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(config.APIRequestTimeout))
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/groups", s.handleGroups)
		r.Get("/api/macros", s.handleMacros)

		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.HTTPRateLimitMiddleware(s.limiter))
			r.Post("/api/commands", s.handleCommand)
			r.Post("/api/groups/{group}/{command}", s.handleGroupCommand)
			r.Post("/api/cycler/start", s.handleCyclerStart)
			r.Post("/api/cycler/select", s.handleCyclerSelect)
		})
	})

	return r
}

func (s *Server) allowedOrigins() []string {
	origins := []string{"http://localhost*", "http://127.0.0.1*"}
	return append(origins, s.opts.AllowedOrigins...)
}

// checkOrigin lets non-browser clients through and holds browsers to the
// configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins() {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok && strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	log.Warn().Str("origin", origin).Msg("rejected event stream origin")
	return false
}

// Handler is the API router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.opts.Listen, err)
	}
	s.listener = l

	bctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.limiter.StartCleanup(bctx)

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.broadcastNotifications(bctx)
	go func() {
		log.Info().Str("addr", l.Addr().String()).Msg("API server listening")
		if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server stopped")
		}
	}()
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every event stream and shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done

	if err := s.melody.Close(); err != nil && !errors.Is(err, melody.ErrClosed) {
		log.Warn().Err(err).Msg("error closing event streams")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func (s *Server) broadcastNotifications(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-s.opts.Notifications:
			if !ok {
				<-ctx.Done()
				return
			}
			s.broadcast(n)
		}
	}
}

func (s *Server) broadcast(n models.Notification) {
	data, err := json.Marshal(models.Event{Method: n.Method, Params: n.Params})
	if err != nil {
		log.Error().Err(err).Msg("marshalling notification")
		return
	}
	err = s.melody.BroadcastFilter(data, func(session *melody.Session) bool {
		v, ok := session.Get(methodsKey)
		if !ok {
			return true
		}
		methods, _ := v.([]string)
		return len(methods) == 0 || slices.Contains(methods, n.Method)
	})
	if err != nil && !errors.Is(err, melody.ErrClosed) {
		log.Error().Err(err).Msg("broadcasting notification")
	}
}

// handleEvents upgrades to a WebSocket that receives every notification as
// a models.Event. Repeated "method" query values limit the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	keys := map[string]any{}
	if methods := r.URL.Query()["method"]; len(methods) > 0 {
		keys[methodsKey] = methods
	}
	if err := s.melody.HandleRequestWithKeys(w, r, keys); err != nil {
		log.Error().Err(err).Msg("handling event stream request")
	}
}
