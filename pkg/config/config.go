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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/OffloadProject/offload-core/pkg/helpers/syncutil"
	validator "github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	CfgEnv        = "OFFLOADD_CFG"
)

type Values struct {
	Service      Service  `toml:"service"`
	Backend      Backend  `toml:"backend"`
	Detector     Detector `toml:"detector"`
	Ingest       Ingest   `toml:"ingest"`
	ConfigSchema int      `toml:"config_schema"`
	DebugLogging bool     `toml:"debug_logging"`
}

// Service configures the HTTP control surface.
type Service struct {
	APIKey     string `toml:"api_key,omitempty"`
	APIPort    int    `toml:"api_port" validate:"gte=1,lte=65535"`
	APIEnabled bool   `toml:"api_enabled"`
}

// Backend configures the push channel to the consuming application.
type Backend struct {
	WebsocketURL string `toml:"websocket_url" validate:"required,url"`
}

// Detector configures device event handling and mount resolution.
type Detector struct {
	MountBase            string `toml:"mount_base" validate:"required"`
	MountUser            string `toml:"mount_user,omitempty"`
	DebounceMs           int    `toml:"debounce_ms" validate:"gte=0"`
	MountRetries         int    `toml:"mount_retries" validate:"gte=1"`
	MountRetryIntervalMs int    `toml:"mount_retry_interval_ms" validate:"gte=1"`
	Automount            bool   `toml:"automount"`
}

// Ingest configures camera classification and the copy pipeline.
type Ingest struct {
	TargetDir     string `toml:"target_dir" validate:"required"`
	FolderPattern string `toml:"folder_pattern" validate:"required"`
	AutoCopy      bool   `toml:"auto_copy"`

	folderRe *regexp.Regexp
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Service: Service{
		APIEnabled: true,
		APIPort:    8001,
	},
	Backend: Backend{
		WebsocketURL: "ws://localhost:8002/ws",
	},
	Detector: Detector{
		DebounceMs:           2000,
		MountRetries:         6,
		MountRetryIntervalMs: 500,
		Automount:            true,
		MountBase:            "/media/{user}",
	},
	Ingest: Ingest{
		AutoCopy:      true,
		TargetDir:     "/videodata/input",
		FolderPattern: `^\d{3}GOPRO$`,
	},
}

// Instance is a thread-safe view over the loaded config values.
type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then unmarshal file values on top so fields
	// not present in the file retain their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	if err := validator.New().Struct(newVals); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	re, err := regexp.Compile("(?i)" + newVals.Ingest.FolderPattern)
	if err != nil {
		return fmt.Errorf("invalid camera folder pattern: %w", err)
	}
	newVals.Ingest.folderRe = re

	c.vals = newVals

	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(c.cfgPath, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Instance) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfgPath
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) APIEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.APIEnabled
}

func (c *Instance) APIPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.APIPort
}

func (c *Instance) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.APIKey
}

func (c *Instance) BackendURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Backend.WebsocketURL
}

func (c *Instance) DebounceWindow() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Detector.DebounceMs) * time.Millisecond
}

func (c *Instance) MountRetries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Detector.MountRetries
}

func (c *Instance) MountRetryInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Detector.MountRetryIntervalMs) * time.Millisecond
}

func (c *Instance) Automount() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Detector.Automount
}

func (c *Instance) MountBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Detector.MountBase
}

func (c *Instance) MountUser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Detector.MountUser
}

func (c *Instance) AutoCopy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Ingest.AutoCopy
}

func (c *Instance) TargetDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Ingest.TargetDir
}

// CameraFolderRe returns the compiled, case-insensitive camera folder
// pattern from the ingest config.
func (c *Instance) CameraFolderRe() *regexp.Regexp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Ingest.folderRe
}
