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

// Package mount resolves the filesystem mount point for an attached block
// device, automounting it when the OS does not.
package mount

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/OffloadProject/offload-core/pkg/config"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/disk"
)

// ErrUnresolved is returned when no mount point could be found within the
// configured retry budget. It is reported, not fatal: the device is simply
// non-actionable for this session.
var ErrUnresolved = errors.New("no mount point resolved for device")

// Resolver finds (and if configured, creates) mount points for devices.
// Resolve is idempotent for already-mounted devices.
type Resolver struct {
	cfg   *config.Instance
	clock clockwork.Clock
}

func NewResolver(cfg *config.Instance, clock clockwork.Clock) *Resolver {
	return &Resolver{cfg: cfg, clock: clock}
}

// Resolve returns the mount path for deviceNode, polling the mount table
// up to the configured retry count. If the device is not mounted after the
// first lookup and automount is enabled, a mount is attempted once.
func (r *Resolver) Resolve(ctx context.Context, deviceNode string) (string, error) {
	// On platforms where volumes surface pre-mounted the node is already
	// the mount path.
	if fi, err := os.Stat(deviceNode); err == nil && fi.IsDir() {
		return deviceNode, nil
	}

	retries := r.cfg.MountRetries()
	interval := r.cfg.MountRetryInterval()
	attemptedMount := false

	for attempt := 0; attempt < retries; attempt++ {
		if path, ok := lookupMountPoint(deviceNode); ok {
			log.Debug().
				Str("device_node", deviceNode).
				Str("mount_path", path).
				Msg("found mount point")
			return path, nil
		}

		if !attemptedMount && r.cfg.Automount() {
			attemptedMount = true
			path, err := r.automount(deviceNode)
			if err != nil {
				log.Warn().Err(err).
					Str("device_node", deviceNode).
					Msg("automount failed")
			} else if path != "" {
				return path, nil
			}
		}

		if attempt < retries-1 {
			if err := r.sleep(ctx, interval); err != nil {
				return "", err
			}
		}
	}

	log.Warn().
		Str("device_node", deviceNode).
		Int("retries", retries).
		Msg("no mount point found after retries")
	return "", ErrUnresolved
}

func (r *Resolver) sleep(ctx context.Context, d time.Duration) error {
	timer := r.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

// lookupMountPoint scans the mount table for deviceNode.
func lookupMountPoint(deviceNode string) (string, bool) {
	partitions, err := disk.Partitions(true)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read mount table")
		return "", false
	}

	for i := range partitions {
		if partitions[i].Device == deviceNode {
			return partitions[i].Mountpoint, true
		}
	}
	return "", false
}

// deviceForMount is the inverse lookup, used when ejecting a card by its
// mount path.
func deviceForMount(mountPath string) (string, bool) {
	partitions, err := disk.Partitions(true)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read mount table")
		return "", false
	}

	for i := range partitions {
		if partitions[i].Mountpoint == mountPath {
			return partitions[i].Device, true
		}
	}
	return "", false
}
