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

//go:build linux

package mount

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const commandTimeout = 30 * time.Second

// Filesystems that take uid/gid/umask as mount options. Native Linux
// filesystems get a chown on the mount point after mounting instead.
var (
	fatLikeFS = map[string]bool{"vfat": true, "fat": true, "msdos": true, "exfat": true}
	ntfsFS    = map[string]bool{"ntfs": true, "ntfs3": true, "ntfs-3g": true}
	nativeFS  = map[string]bool{"ext2": true, "ext3": true, "ext4": true, "xfs": true, "btrfs": true, "f2fs": true}
)

// blkidValue reads a single blkid tag ("LABEL", "UUID", "TYPE") for a device.
func blkidValue(deviceNode, tag string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "blkid", "-s", tag, "-o", "value", deviceNode).Output()
	if err != nil {
		log.Debug().Err(err).
			Str("device_node", deviceNode).
			Str("tag", tag).
			Msg("blkid lookup failed")
		return ""
	}
	return strings.TrimSpace(string(out))
}

// mountUser resolves the user the card should be mounted for: config
// first, then SUDO_USER (the daemon typically runs as root), then the
// current user.
func (r *Resolver) mountUser() (name string, uid, gid int) {
	name = r.cfg.MountUser()
	if name == "" {
		name = os.Getenv("SUDO_USER")
	}

	var u *user.User
	var err error
	if name == "" {
		u, err = user.Current()
		if u != nil {
			name = u.Username
		}
	} else {
		u, err = user.Lookup(name)
	}

	if err != nil || u == nil {
		log.Warn().Str("user", name).Msg("mount user not found, using uid/gid 1000")
		return name, 1000, 1000
	}

	uid, _ = strconv.Atoi(u.Uid)
	gid, _ = strconv.Atoi(u.Gid)
	return name, uid, gid
}

func sanitizeMountName(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// automount mounts deviceNode under the configured mount base with
// options giving the target user read-write access.
func (r *Resolver) automount(deviceNode string) (string, error) {
	label := blkidValue(deviceNode, "LABEL")
	fsUUID := blkidValue(deviceNode, "UUID")
	fstype := strings.ToLower(blkidValue(deviceNode, "TYPE"))

	mountName := label
	if mountName == "" && fsUUID != "" {
		mountName = fsUUID
		if len(mountName) > 8 {
			mountName = mountName[:8]
		}
	}
	if mountName == "" {
		mountName = filepath.Base(deviceNode)
	}
	mountName = sanitizeMountName(mountName)

	userName, uid, gid := r.mountUser()
	mountBase := strings.ReplaceAll(r.cfg.MountBase(), "{user}", userName)
	mountPath := filepath.Join(mountBase, mountName)

	log.Info().
		Str("device_node", deviceNode).
		Str("fstype", fstype).
		Str("mount_path", mountPath).
		Str("user", userName).
		Msg("automounting device")

	if err := os.MkdirAll(mountPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create mount point %s: %w", mountPath, err)
	}

	args := []string{}
	if fatLikeFS[fstype] || ntfsFS[fstype] {
		args = append(args, "-o",
			fmt.Sprintf("uid=%d,gid=%d,umask=0002,dmask=0002,fmask=0002", uid, gid))
	}
	args = append(args, deviceNode, mountPath)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "mount", args...).CombinedOutput()
	if err != nil {
		// Clean up the empty directory so a later manual mount isn't confused
		_ = os.Remove(mountPath)
		return "", fmt.Errorf("mount %s failed: %w: %s", deviceNode, err, strings.TrimSpace(string(out)))
	}

	if nativeFS[fstype] {
		if err := os.Chown(mountPath, uid, gid); err != nil {
			log.Warn().Err(err).
				Str("mount_path", mountPath).
				Msg("could not change mount point ownership")
		}
	}

	return mountPath, nil
}

// Eject syncs and safely unmounts the card at mountPath via udisksctl,
// falling back to a plain umount.
func (r *Resolver) Eject(mountPath string) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, "sync").Run(); err != nil {
		return fmt.Errorf("sync before unmount failed: %w", err)
	}

	deviceNode, ok := deviceForMount(mountPath)
	if ok {
		out, err := exec.CommandContext(ctx, "udisksctl", "unmount", "-b", deviceNode).CombinedOutput()
		if err == nil || strings.Contains(string(out), "NotMounted") {
			return nil
		}
		log.Debug().Err(err).
			Str("device_node", deviceNode).
			Msg("udisksctl unmount failed, falling back to umount")
	}

	out, err := exec.CommandContext(ctx, "umount", mountPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("umount %s failed: %w: %s", mountPath, err, strings.TrimSpace(string(out)))
	}

	// Best effort; the directory may be a system-managed mount base entry
	_ = os.Remove(mountPath)
	return nil
}
