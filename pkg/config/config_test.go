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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigWritesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, CfgFile))
	require.NoError(t, err, "default config file must be created")

	assert.Equal(t, 8001, cfg.APIPort())
	assert.True(t, cfg.APIEnabled())
	assert.Empty(t, cfg.APIKey())
	assert.Equal(t, 2*time.Second, cfg.DebounceWindow())
	assert.Equal(t, 6, cfg.MountRetries())
	assert.Equal(t, 500*time.Millisecond, cfg.MountRetryInterval())
	assert.True(t, cfg.Automount())
	assert.True(t, cfg.AutoCopy())
	assert.Equal(t, "/videodata/input", cfg.TargetDir())
	assert.Equal(t, "ws://localhost:8002/ws", cfg.BackendURL())
}

func TestFileValuesOverrideDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `config_schema = 1

[service]
api_key = "secret"

[detector]
debounce_ms = 500

[ingest]
target_dir = "/mnt/ingest"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, CfgFile), []byte(content), 0o600))

	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.APIKey())
	assert.Equal(t, 500*time.Millisecond, cfg.DebounceWindow())
	assert.Equal(t, "/mnt/ingest", cfg.TargetDir())
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 8001, cfg.APIPort())
	assert.Equal(t, 6, cfg.MountRetries())
}

func TestSchemaMismatchRejected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, CfgFile), []byte("config_schema = 99\n"), 0o600))

	_, err := NewConfig(dir, BaseDefaults)
	require.Error(t, err)
}

func TestInvalidFolderPatternRejected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "config_schema = 1\n\n[ingest]\nfolder_pattern = \"[\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, CfgFile), []byte(content), 0o600))

	_, err := NewConfig(dir, BaseDefaults)
	require.Error(t, err)
}

func TestInvalidBackendURLRejected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "config_schema = 1\n\n[backend]\nwebsocket_url = \"not a url\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, CfgFile), []byte(content), 0o600))

	_, err := NewConfig(dir, BaseDefaults)
	require.Error(t, err)
}

func TestCameraFolderPatternIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfig(t.TempDir(), BaseDefaults)
	require.NoError(t, err)

	re := cfg.CameraFolderRe()
	require.NotNil(t, re)
	assert.True(t, re.MatchString("100GOPRO"))
	assert.True(t, re.MatchString("101gopro"))
	assert.False(t, re.MatchString("GOPRO"))
	assert.False(t, re.MatchString("100GOPROX"))
}
