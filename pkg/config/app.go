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

package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	AppName = "offloadd"
	CfgFile = "config.toml"
	LogFile = "offloadd.log"
	PidFile = "offloadd.pid"
)

const (
	// APIRequestTimeout bounds a single control surface request.
	APIRequestTimeout = 30 * time.Second

	// BackendReconnectInterval is the fixed backoff between attempts to
	// re-establish the push channel to the consuming application.
	BackendReconnectInterval = 5 * time.Second
)

// DataDir returns the directory used for logs and runtime files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// ConfigDir returns the directory the config file is loaded from by default.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}
