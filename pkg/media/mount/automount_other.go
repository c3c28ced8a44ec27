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

//go:build !linux

package mount

import "errors"

var errAutomountUnsupported = errors.New("automount not supported on this platform")

// Windows and macOS mount removable volumes themselves; there is nothing
// for the daemon to do.
func (*Resolver) automount(_ string) (string, error) {
	return "", errAutomountUnsupported
}

// Eject is Linux-only; other platforms eject through the OS UI.
func (*Resolver) Eject(_ string) error {
	return errAutomountUnsupported
}
