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

// Package commands holds the daemon's control operations. The HTTP API and
// the backend websocket client both dispatch into this package, so the two
// control surfaces cannot drift apart.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/OffloadProject/offload-core/pkg/api/models"
	"github.com/OffloadProject/offload-core/pkg/api/notifications"
	"github.com/OffloadProject/offload-core/pkg/helpers/syncutil"
	"github.com/OffloadProject/offload-core/pkg/service/state"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrUnknownCommand = errors.New("unknown command")

// Ejector safely detaches a mounted card. Satisfied by mount.Resolver.
type Ejector interface {
	Eject(mountPath string) error
}

// Core executes control operations against the daemon state.
type Core struct {
	st      *state.State
	fs      afero.Fs
	ejector Ejector
	mu      syncutil.Mutex
	restart bool
}

func NewCore(st *state.State, fsys afero.Fs, ejector Ejector) *Core {
	return &Core{st: st, fs: fsys, ejector: ejector}
}

// Status reports the daemon's liveness snapshot.
func (c *Core) Status() models.StatusResponse {
	return models.StatusResponse{
		Alive:             !c.st.Stopping(),
		MonitoringEnabled: c.st.MonitoringEnabled(),
		ActiveJobs:        c.st.ActiveJobs(),
	}
}

// SetMonitoring toggles device monitoring and pushes the new status. The
// call is idempotent; repeating it is harmless.
func (c *Core) SetMonitoring(enabled bool) models.StatusResponse {
	c.st.SetMonitoring(enabled)
	log.Info().Bool("enabled", enabled).Msg("monitoring toggled")

	status := c.Status()
	notifications.ServiceStatus(c.st.Notifications, status)
	return status
}

// Describe pushes the current status on the notification channel, for
// consumers that just (re)connected.
func (c *Core) Describe() {
	notifications.ServiceStatus(c.st.Notifications, c.Status())
}

// Restart asks the daemon to shut down gracefully and signal its
// supervisor to start a fresh instance.
func (c *Core) Restart() {
	c.mu.Lock()
	c.restart = true
	c.mu.Unlock()

	log.Info().Msg("restart requested, stopping service")
	c.st.Stop()
}

func (c *Core) RestartRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restart
}

// RenameCard renames a folder at the top of a mounted card, typically to
// replace a target identifier with a human label, then safely ejects the
// card. The outcome is pushed as card events; the returned error mirrors
// the rename outcome for synchronous callers.
func (c *Core) RenameCard(params models.CardRenameParams) error {
	if err := c.renameCardFolder(params); err != nil {
		log.Warn().Err(err).
			Str("mount_path", params.MountPath).
			Str("old_folder", params.OldFolder).
			Msg("card rename failed")
		params.Error = err.Error()
		notifications.CardRenameFailed(c.st.Notifications, params)
		return err
	}

	log.Info().
		Str("mount_path", params.MountPath).
		Str("old_folder", params.OldFolder).
		Str("new_folder", params.NewFolder).
		Msg("card folder renamed")
	notifications.CardRenamed(c.st.Notifications, params)

	ejected := models.CardEjectedParams{MountPath: params.MountPath}
	if err := c.ejector.Eject(params.MountPath); err != nil {
		log.Warn().Err(err).Str("mount_path", params.MountPath).Msg("card eject failed")
		ejected.Error = err.Error()
	}
	notifications.CardEjected(c.st.Notifications, ejected)
	return nil
}

func (c *Core) renameCardFolder(params models.CardRenameParams) error {
	if params.MountPath == "" || params.OldFolder == "" || params.NewFolder == "" {
		return errors.New("mount_path, old_folder and new_folder are required")
	}
	// Folder names must stay inside the card's top level.
	if strings.ContainsAny(params.OldFolder, `/\`) ||
		strings.ContainsAny(params.NewFolder, `/\`) {
		return errors.New("folder names must not contain path separators")
	}

	oldPath := filepath.Join(params.MountPath, params.OldFolder)
	newPath := filepath.Join(params.MountPath, params.NewFolder)

	ok, err := afero.DirExists(c.fs, oldPath)
	if err != nil {
		return fmt.Errorf("failed to inspect card folder: %w", err)
	}
	if !ok {
		return fmt.Errorf("folder %q not found on card", params.OldFolder)
	}
	if ok, _ := afero.Exists(c.fs, newPath); ok {
		return fmt.Errorf("folder %q already exists on card", params.NewFolder)
	}

	if err := c.fs.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("failed to rename card folder: %w", err)
	}
	return nil
}

// Dispatch routes an inbound wire command to its handler.
func (c *Core) Dispatch(cmd models.CommandObject) error {
	log.Debug().Str("command", cmd.Command).Str("sender", cmd.Sender).Msg("dispatching command")

	switch cmd.Command {
	case models.CommandDescribe:
		c.Describe()
		return nil
	case models.CommandMonitoringEnable:
		c.SetMonitoring(true)
		return nil
	case models.CommandMonitoringDisable:
		c.SetMonitoring(false)
		return nil
	case models.CommandCardRename:
		var params models.CardRenameParams
		if err := json.Unmarshal(cmd.Data, &params); err != nil {
			return fmt.Errorf("invalid card.rename payload: %w", err)
		}
		return c.RenameCard(params)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Command)
	}
}
