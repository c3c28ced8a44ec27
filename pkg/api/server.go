// Offload Core
// Copyright (c) 2026 The Offload Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Offload Core.
//
// Offload Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Offload Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Offload Core.  If not, see <http://www.gnu.org/licenses/>.

// Package api exposes the local HTTP control surface: liveness and
// monitoring control for supervisors and scripts on the same host.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/OffloadProject/offload-core/pkg/config"
	"github.com/OffloadProject/offload-core/pkg/service/commands"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg  *config.Instance
	core *commands.Core
}

func NewServer(cfg *config.Instance, core *commands.Core) *Server {
	return &Server{cfg: cfg, core: core}
}

// Run serves the control API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.APIPort()),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("control api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(config.APIRequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))
	r.Use(s.requireAPIKey)

	r.Get("/status", s.handleStatus)
	r.Route("/control", func(r chi.Router) {
		r.Post("/enable", s.handleEnable)
		r.Post("/disable", s.handleDisable)
		r.Post("/restart", s.handleRestart)
	})

	return r
}

// requireAPIKey enforces the shared key header. An empty configured key
// disables the check for trusted local setups.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.cfg.APIKey()
		if key != "" {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				log.Warn().Str("remote", r.RemoteAddr).Msg("control api request with bad key")
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "invalid api key",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Status())
}

func (s *Server) handleEnable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.SetMonitoring(true))
}

func (s *Server) handleDisable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.SetMonitoring(false))
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"restarting": true})
	s.core.Restart()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write api response")
	}
}
