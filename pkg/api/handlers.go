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

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dptucunduva/casa/pkg/api/models"
	"github.com/dptucunduva/casa/pkg/api/validation"
	"github.com/dptucunduva/casa/pkg/config"
	"github.com/dptucunduva/casa/pkg/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const maxBodySize = 4096

var errCyclerRunning = errors.New("selector is running, manual commands are disabled")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writing API response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := models.ErrorResponse{Error: err.Error()}
	var ve *validation.Error
	if errors.As(err, &ve) {
		resp.Error = "invalid request"
		resp.Details = ve.Messages()
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := models.StatusResponse{
		Version:      config.AppVersion,
		RelayAddress: s.opts.RelayAddress,
		DevicePort:   s.opts.DevicePort,
	}
	if s.opts.Relay != nil {
		resp.Sessions = s.opts.Relay.Sessions()
		if on, at, known := s.opts.Relay.Switch(); known {
			resp.SwitchOn = &on
			resp.SwitchCheckedAt = &at
		}
	}
	if s.opts.Cycler != nil {
		resp.CyclerRunning = s.opts.Cycler.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.opts.Catalog.Groups()
	resp := models.GroupsResponse{Groups: make([]models.GroupResponse, 0, len(groups))}
	for _, g := range groups {
		gr := models.GroupResponse{
			Label:    g.Label,
			Commands: make([]models.GroupCommandResponse, 0, len(g.Commands)),
		}
		for _, gc := range g.Commands {
			gr.Commands = append(gr.Commands, models.GroupCommandResponse{
				Label: gc.Label,
				Data:  gc.Data,
				TTS:   gc.TTS,
			})
		}
		resp.Groups = append(resp.Groups, gr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMacros(w http.ResponseWriter, _ *http.Request) {
	macros := s.opts.Catalog.Macros()
	resp := models.MacrosResponse{Macros: make([]models.MacroResponse, 0, len(macros))}
	for _, m := range macros {
		resp.Macros = append(resp.Macros, models.MacroResponse{Key: m.Key, Data: m.Data})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cyclerRunning() bool {
	return s.opts.Cycler != nil && s.opts.Cycler.Running()
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req models.CommandRequest
	if err := validation.ValidateAndUnmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if s.cyclerRunning() {
		writeError(w, http.StatusConflict, errCyclerRunning)
		return
	}

	cmd := protocol.NewCommand(protocol.KindString, req.Data, s.opts.Picker)
	if req.Voice != "" {
		cmd.SetVoice(req.Voice, s.opts.Picker)
	}
	s.submit(w, r, cmd)
}

func (s *Server) handleGroupCommand(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	command := chi.URLParam(r, "command")

	gc, ok := s.opts.Catalog.FindGroupCommand(group, command)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("command not found"))
		return
	}
	if gc.Data == "" {
		writeError(w, http.StatusUnprocessableEntity, errors.New("command has no data"))
		return
	}
	if s.cyclerRunning() {
		writeError(w, http.StatusConflict, errCyclerRunning)
		return
	}

	cmd := protocol.NewCommand(protocol.KindString, gc.Data, s.opts.Picker)
	if gc.TTS != "" {
		cmd.SetVoice(gc.TTS, s.opts.Picker)
	}
	s.submit(w, r, cmd)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd protocol.Command) {
	log.Info().Str("command", cmd.String()).Str("remote", r.RemoteAddr).Msg("submitting command from API")

	err := s.opts.Submitter.Submit(r.Context(), cmd)
	var encErr *protocol.EncodingError
	switch {
	case errors.As(err, &encErr):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		log.Error().Err(err).Msg("submitting command to relay")
		writeError(w, http.StatusBadGateway, errors.New("relay unavailable"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCyclerStart(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Cycler == nil {
		writeError(w, http.StatusNotFound, errors.New("selector not configured"))
		return
	}
	if !s.opts.Cycler.Start() {
		writeError(w, http.StatusConflict, errors.New("selector already running"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCyclerSelect(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Cycler == nil {
		writeError(w, http.StatusNotFound, errors.New("selector not configured"))
		return
	}
	if !s.opts.Cycler.Select() {
		writeError(w, http.StatusConflict, errors.New("selector is not running"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
