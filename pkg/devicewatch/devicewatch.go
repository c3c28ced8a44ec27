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

// Package devicewatch emits raw attach/detach events for removable block
// devices. Events are raw in the sense that one physical insertion may
// produce several of them; the debouncer downstream coalesces bursts.
package devicewatch

// Event is a single raw device edge as reported by the OS.
type Event struct {
	// DeviceID is a stable identifier for the device: filesystem UUID,
	// then serial number, then device node, whichever is available first.
	DeviceID string

	// DeviceNode is the block device path (e.g. "/dev/sdb1"). On platforms
	// where volumes surface pre-mounted it is the volume path instead.
	DeviceNode string

	// Attached is true for an arrival edge, false for a removal edge.
	Attached bool
}

// Watcher provides platform-specific device event detection for removable
// storage. Implementations filter out internal disks and system partitions.
type Watcher interface {
	// Events returns the channel raw events are emitted on. The channel
	// is closed when Stop is called.
	Events() <-chan Event

	// Start begins monitoring for device events.
	Start() error

	// Stop terminates the watcher and releases all resources.
	Stop()
}
