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

// Package backend maintains the websocket link to the consuming
// application: it forwards daemon notifications outbound and feeds
// inbound commands into the command core. The link is best-effort; the
// daemon keeps working, and dropping events, while it is down.
package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/OffloadProject/offload-core/pkg/api/models"
	"github.com/OffloadProject/offload-core/pkg/config"
	"github.com/OffloadProject/offload-core/pkg/service/commands"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 10 * time.Second

// Client connects to the backend websocket and reconnects on a fixed
// interval. Missed notifications are dropped, never replayed.
type Client struct {
	cfg   *config.Instance
	core  *commands.Core
	clock clockwork.Clock
}

func NewClient(cfg *config.Instance, core *commands.Core, clock clockwork.Clock) *Client {
	return &Client{cfg: cfg, core: core, clock: clock}
}

// Run drives the connection until ctx is cancelled. It always consumes
// from ns so a dead backend can never back-pressure the daemon.
func (c *Client) Run(ctx context.Context, ns <-chan models.Notification) {
	url := c.cfg.BackendURL()
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Debug().Err(err).Str("url", url).Msg("backend connection failed")
			if !c.drainUntilRetry(ctx, ns) {
				return
			}
			continue
		}

		log.Info().Str("url", url).Msg("connected to backend")
		c.core.Describe()
		c.session(ctx, conn, ns)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Info().Str("url", url).Msg("backend connection lost, reconnecting")
		if !c.drainUntilRetry(ctx, ns) {
			return
		}
	}
}

// session pumps notifications out and commands in over one connection,
// returning when either direction fails or ctx is cancelled.
func (c *Client) session(ctx context.Context, conn *websocket.Conn, ns <-chan models.Notification) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readCommands(conn)
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout),
			)
			return
		case <-readDone:
			return
		case n := <-ns:
			if err := c.send(conn, n); err != nil {
				log.Warn().Err(err).Str("event", n.Event).Msg("failed to send event to backend")
				return
			}
		}
	}
}

func (c *Client) send(conn *websocket.Conn, n models.Notification) error {
	envelope := models.Envelope{
		Event:    n.Event,
		DeviceID: n.DeviceID,
		Data:     n.Params,
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(envelope)
}

// readCommands dispatches inbound command objects until the connection
// errors. Malformed or unknown commands are logged and skipped; they must
// not kill the connection.
func (c *Client) readCommands(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("backend read ended")
			return
		}

		var cmd models.CommandObject
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Warn().Err(err).Msg("discarding malformed backend message")
			continue
		}
		if cmd.Command == "" {
			continue
		}

		if err := c.core.Dispatch(cmd); err != nil {
			log.Warn().Err(err).Str("command", cmd.Command).Msg("backend command failed")
		}
	}
}

// drainUntilRetry waits out the reconnect interval while dropping queued
// notifications. Returns false when ctx was cancelled.
func (c *Client) drainUntilRetry(ctx context.Context, ns <-chan models.Notification) bool {
	timer := c.clock.NewTimer(config.BackendReconnectInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.Chan():
			return true
		case n := <-ns:
			log.Debug().Str("event", n.Event).Msg("backend offline, dropping event")
		}
	}
}
