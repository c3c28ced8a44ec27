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

package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OffloadProject/offload-core/pkg/api/models"
	"github.com/OffloadProject/offload-core/pkg/config"
	"github.com/OffloadProject/offload-core/pkg/devicewatch"
	"github.com/OffloadProject/offload-core/pkg/media/classify"
	"github.com/OffloadProject/offload-core/pkg/media/copier"
	"github.com/OffloadProject/offload-core/pkg/media/mount"
	"github.com/OffloadProject/offload-core/pkg/service/commands"
	"github.com/OffloadProject/offload-core/pkg/service/state"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestService builds the pipeline without the platform device watcher,
// so tests drive handleEvent directly. Volumes are temp directories, which
// the resolver passes through as pre-mounted paths.
func newTestService(t *testing.T) (*Service, *state.State, <-chan models.Notification) {
	t.Helper()

	vals := config.BaseDefaults
	vals.Detector.Automount = false
	vals.Ingest.TargetDir = filepath.Join(t.TempDir(), "input")
	cfg, err := config.NewConfig(t.TempDir(), vals)
	require.NoError(t, err)

	st, ns := state.NewState()
	fsys := afero.NewOsFs()
	clock := clockwork.NewRealClock()
	resolver := mount.NewResolver(cfg, clock)

	svc := &Service{
		cfg:        cfg,
		st:         st,
		resolver:   resolver,
		classifier: classify.New(fsys, cfg.CameraFolderRe()),
		copier:     copier.NewManager(fsys, cfg, clock, st.Notifications),
		core:       commands.NewCore(st, fsys, resolver),
	}
	return svc, st, ns
}

func waitEvent(t *testing.T, ns <-chan models.Notification) models.Notification {
	t.Helper()
	select {
	case n := <-ns:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a notification")
		return models.Notification{}
	}
}

func assertNoEvent(t *testing.T, ns <-chan models.Notification) {
	t.Helper()
	select {
	case n := <-ns:
		t.Fatalf("unexpected notification %s", n.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAttachIgnoredWhileMonitoringDisabled(t *testing.T) {
	t.Parallel()

	svc, st, ns := newTestService(t)
	volume := t.TempDir()

	svc.handleEvent(devicewatch.Event{DeviceID: "sd-1", DeviceNode: volume, Attached: true})
	svc.sessionWG.Wait()

	assert.Equal(t, 0, st.ActiveSessions())
	assertNoEvent(t, ns)
}

func TestAttachRunsPipelineThroughCopy(t *testing.T) {
	t.Parallel()

	svc, st, ns := newTestService(t)
	st.SetMonitoring(true)

	volume := t.TempDir()
	folder := filepath.Join(volume, "DCIM", "100GOPRO")
	require.NoError(t, os.MkdirAll(folder, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "GX010001.MP4"), []byte("footage"), 0o644))

	svc.handleEvent(devicewatch.Event{DeviceID: "sd-1", DeviceNode: volume, Attached: true})
	svc.sessionWG.Wait()

	attached := waitEvent(t, ns)
	require.Equal(t, models.EventDeviceAttached, attached.Event)
	ap, ok := attached.Params.(models.AttachedParams)
	require.True(t, ok)
	assert.True(t, ap.Resolved)
	assert.Equal(t, volume, ap.MountPath)

	classified := waitEvent(t, ns)
	require.Equal(t, models.EventDeviceClassified, classified.Event)
	cp, ok := classified.Params.(models.ClassifiedParams)
	require.True(t, ok)
	assert.Equal(t, models.ClassificationCamera, cp.Classification)
	assert.Equal(t, []string{"100GOPRO"}, cp.Folders)

	assert.Equal(t, models.EventCopyStarted, waitEvent(t, ns).Event)
	assert.Equal(t, models.EventCopyProgress, waitEvent(t, ns).Event)

	completed := waitEvent(t, ns)
	require.Equal(t, models.EventCopyCompleted, completed.Event)
	done, ok := completed.Params.(models.CopyCompletedParams)
	require.True(t, ok)
	data, err := os.ReadFile(filepath.Join(
		svc.cfg.TargetDir(), done.TargetID, "100GOPRO", "GX010001.MP4"))
	require.NoError(t, err)
	assert.Equal(t, "footage", string(data))

	assert.Equal(t, models.EventCardReorganized, waitEvent(t, ns).Event)

	sess, ok := st.Session("sd-1")
	require.True(t, ok)
	assert.Equal(t, volume, sess.MountPath)
	assert.Equal(t, models.ClassificationCamera, sess.Classification)
	assert.Equal(t, 0, st.ActiveJobs())

	// A repeat attach while the session is active is ignored.
	svc.handleEvent(devicewatch.Event{DeviceID: "sd-1", DeviceNode: volume, Attached: true})
	svc.sessionWG.Wait()
	assert.Equal(t, 1, st.ActiveSessions())
	assertNoEvent(t, ns)
}

func TestDisableLeavesActiveSessionAlive(t *testing.T) {
	t.Parallel()

	svc, st, ns := newTestService(t)
	st.SetMonitoring(true)

	// A plain volume: the session sticks around with no copy job.
	volume := t.TempDir()
	svc.handleEvent(devicewatch.Event{DeviceID: "sd-1", DeviceNode: volume, Attached: true})
	svc.sessionWG.Wait()

	require.Equal(t, models.EventDeviceAttached, waitEvent(t, ns).Event)
	classified := waitEvent(t, ns)
	require.Equal(t, models.EventDeviceClassified, classified.Event)
	cp, ok := classified.Params.(models.ClassifiedParams)
	require.True(t, ok)
	assert.Equal(t, models.ClassificationPlain, cp.Classification)

	sess, ok := st.Session("sd-1")
	require.True(t, ok)

	st.SetMonitoring(false)
	require.NoError(t, sess.Context().Err(),
		"disabling monitoring must not cancel an active session")

	// New devices are ignored while disabled.
	svc.handleEvent(devicewatch.Event{DeviceID: "sd-2", DeviceNode: t.TempDir(), Attached: true})
	svc.sessionWG.Wait()
	assert.Equal(t, 1, st.ActiveSessions())
	assertNoEvent(t, ns)

	// Detach tears the session down regardless of the monitoring flag.
	svc.handleEvent(devicewatch.Event{DeviceID: "sd-1", Attached: false})
	assert.Equal(t, models.EventDeviceDetached, waitEvent(t, ns).Event)
	assert.Error(t, sess.Context().Err())
	assert.Equal(t, 0, st.ActiveSessions())
}

func TestDetachWithoutSessionEmitsNothing(t *testing.T) {
	t.Parallel()

	svc, st, ns := newTestService(t)

	svc.handleEvent(devicewatch.Event{DeviceID: "ghost", Attached: false})
	assert.Equal(t, 0, st.ActiveSessions())
	assertNoEvent(t, ns)
}
