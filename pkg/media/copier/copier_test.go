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

package copier

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/OffloadProject/offload-core/pkg/api/models"
	"github.com/OffloadProject/offload-core/pkg/config"
	"github.com/OffloadProject/offload-core/pkg/media/classify"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFolderRe = regexp.MustCompile(`(?i)^\d{3}GOPRO$`)

func newTestConfig(t *testing.T) *config.Instance {
	t.Helper()
	cfg, err := config.NewConfig(t.TempDir(), config.BaseDefaults)
	require.NoError(t, err)
	return cfg
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func drainEvents(ns <-chan models.Notification) []models.Notification {
	var events []models.Notification
	for {
		select {
		case n := <-ns:
			events = append(events, n)
		default:
			return events
		}
	}
}

func eventNames(events []models.Notification) []string {
	names := make([]string, len(events))
	for i := range events {
		names[i] = events[i].Event
	}
	return names
}

func freshCard(t *testing.T, fs afero.Fs) classify.Result {
	t.Helper()
	writeFile(t, fs, "/card/DCIM/100GOPRO/GX010001.MP4", "video-one")
	writeFile(t, fs, "/card/DCIM/100GOPRO/GX010001.LRV", "proxy")
	writeFile(t, fs, "/card/DCIM/101GOPRO/GX020001.MP4", "video-two")

	res := classify.New(fs, testFolderRe).Classify("/card")
	require.Equal(t, models.ClassificationCamera, res.Classification)
	return res
}

func TestFreshCardFullRun(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg := newTestConfig(t)
	ns := make(chan models.Notification, 64)
	m := NewManager(fs, cfg, clockwork.NewFakeClock(), ns)

	res := freshCard(t, fs)
	job := m.Run(context.Background(), "dev-1", "/card", res)

	require.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3, job.FileCount)
	assert.Equal(t, int64(23), job.TotalBytes)
	assert.Equal(t, job.TotalBytes, job.BytesDone)
	assert.False(t, job.ReusedID)
	_, err := uuid.Parse(job.TargetID)
	require.NoError(t, err, "a fresh card gets a new UUID identifier")

	// Footage landed under the target identifier.
	targetRoot := filepath.Join(cfg.TargetDir(), job.TargetID)
	data, err := afero.ReadFile(fs, filepath.Join(targetRoot, "100GOPRO", "GX010001.MP4"))
	require.NoError(t, err)
	assert.Equal(t, "video-one", string(data))

	// The card was reorganized: DCIM renamed to the identifier, dedup log
	// travelling with it.
	gone, _ := afero.DirExists(fs, "/card/DCIM")
	assert.False(t, gone)
	copied, lastID, err := readLog(fs, "/card/"+job.TargetID)
	require.NoError(t, err)
	assert.Len(t, copied, 3)
	assert.Equal(t, job.TargetID, lastID)

	names := eventNames(drainEvents(ns))
	require.NotEmpty(t, names)
	assert.Equal(t, models.EventCopyStarted, names[0])
	assert.Contains(t, names, models.EventCopyProgress)
	assert.Equal(t, models.EventCardReorganized, names[len(names)-1])
	assert.Equal(t, models.EventCopyCompleted, names[len(names)-2])
}

func TestReinsertedCardCopiesNothing(t *testing.T) {
	t.Parallel()

	const targetID = "4f6b097e-6f70-4b77-90ff-cf13b9a2fae3"

	fs := afero.NewMemMapFs()
	cfg := newTestConfig(t)
	ns := make(chan models.Notification, 64)
	m := NewManager(fs, cfg, clockwork.NewFakeClock(), ns)

	writeFile(t, fs, "/card/"+targetID+"/100GOPRO/GX010001.MP4", "video-one")
	require.NoError(t, appendLog(fs, "/card/"+targetID,
		[]string{"100GOPRO/GX010001.MP4"}, targetID))
	require.NoError(t, fs.MkdirAll(filepath.Join(cfg.TargetDir(), targetID), 0o755))

	res := classify.New(fs, testFolderRe).Classify("/card")
	require.Equal(t, targetID, res.ExistingTargetID)

	job := m.Run(context.Background(), "dev-1", "/card", res)

	require.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 0, job.FileCount)
	assert.True(t, job.ReusedID)
	assert.Equal(t, targetID, job.TargetID)

	names := eventNames(drainEvents(ns))
	assert.Equal(t, []string{models.EventCopySkipped, models.EventCopyCompleted}, names)

	// The log still holds exactly the original entry.
	copied, _, err := readLog(fs, "/card/"+targetID)
	require.NoError(t, err)
	assert.Len(t, copied, 1)
}

func TestNewFootageOnReorganizedCardReusesID(t *testing.T) {
	t.Parallel()

	const targetID = "4f6b097e-6f70-4b77-90ff-cf13b9a2fae3"

	fs := afero.NewMemMapFs()
	cfg := newTestConfig(t)
	ns := make(chan models.Notification, 64)
	m := NewManager(fs, cfg, clockwork.NewFakeClock(), ns)

	writeFile(t, fs, "/card/"+targetID+"/100GOPRO/GX010001.MP4", "old")
	writeFile(t, fs, "/card/"+targetID+"/100GOPRO/GX010002.MP4", "new footage")
	require.NoError(t, appendLog(fs, "/card/"+targetID,
		[]string{"100GOPRO/GX010001.MP4"}, targetID))
	require.NoError(t, fs.MkdirAll(filepath.Join(cfg.TargetDir(), targetID), 0o755))

	res := classify.New(fs, testFolderRe).Classify("/card")
	job := m.Run(context.Background(), "dev-1", "/card", res)

	require.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 1, job.FileCount)
	assert.True(t, job.ReusedID)
	assert.Equal(t, targetID, job.TargetID)

	data, err := afero.ReadFile(fs,
		filepath.Join(cfg.TargetDir(), targetID, "100GOPRO", "GX010002.MP4"))
	require.NoError(t, err)
	assert.Equal(t, "new footage", string(data))

	// Already reorganized, so no rename event this time.
	names := eventNames(drainEvents(ns))
	assert.NotContains(t, names, models.EventCardReorganized)
	assert.Contains(t, names, models.EventCopyCompleted)

	copied, _, err := readLog(fs, "/card/"+targetID)
	require.NoError(t, err)
	assert.Len(t, copied, 2)
}

func TestNothingToCopyReportsLoggedID(t *testing.T) {
	t.Parallel()

	const targetID = "4f6b097e-6f70-4b77-90ff-cf13b9a2fae3"

	fs := afero.NewMemMapFs()
	cfg := newTestConfig(t)
	ns := make(chan models.Notification, 64)
	m := NewManager(fs, cfg, clockwork.NewFakeClock(), ns)

	// Everything on the card is logged, but the target folder was removed
	// since the last insertion. With nothing to transfer no identifier is
	// minted; the card's own identifier is reported.
	writeFile(t, fs, "/card/"+targetID+"/100GOPRO/GX010001.MP4", "video-one")
	require.NoError(t, appendLog(fs, "/card/"+targetID,
		[]string{"100GOPRO/GX010001.MP4"}, targetID))

	res := classify.New(fs, testFolderRe).Classify("/card")
	job := m.Run(context.Background(), "dev-1", "/card", res)

	require.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 0, job.FileCount)
	assert.Equal(t, targetID, job.TargetID)

	events := drainEvents(ns)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventCopySkipped, events[0].Event)
	skipped, ok := events[0].Params.(models.CopySkippedParams)
	require.True(t, ok)
	assert.Equal(t, targetID, skipped.TargetID)
	completed, ok := events[1].Params.(models.CopyCompletedParams)
	require.True(t, ok)
	assert.Equal(t, targetID, completed.TargetID)
}

func TestMissingTargetFolderAssignsNewID(t *testing.T) {
	t.Parallel()

	const staleID = "4f6b097e-6f70-4b77-90ff-cf13b9a2fae3"

	fs := afero.NewMemMapFs()
	cfg := newTestConfig(t)
	ns := make(chan models.Notification, 64)
	m := NewManager(fs, cfg, clockwork.NewFakeClock(), ns)

	writeFile(t, fs, "/card/"+staleID+"/100GOPRO/GX010002.MP4", "new footage")
	// The card references an identifier whose target folder is gone.

	res := classify.New(fs, testFolderRe).Classify("/card")
	job := m.Run(context.Background(), "dev-1", "/card", res)

	require.Equal(t, StatusCompleted, job.Status)
	assert.False(t, job.ReusedID)
	assert.NotEqual(t, staleID, job.TargetID)

	// The card folder is renamed to the new identifier.
	ok, _ := afero.DirExists(fs, "/card/"+job.TargetID)
	assert.True(t, ok)
	gone, _ := afero.DirExists(fs, "/card/"+staleID)
	assert.False(t, gone)
}

func TestDetachMidCopyLeavesLogUntouched(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg := newTestConfig(t)
	ns := make(chan models.Notification, 64)
	m := NewManager(fs, cfg, clockwork.NewFakeClock(), ns)

	res := freshCard(t, fs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := m.Run(ctx, "dev-1", "/card", res)

	require.Equal(t, StatusCancelled, job.Status)
	assert.Equal(t, ErrKindMountStale, job.ErrorKind)

	// No dedup entries were written: the next insertion retries everything.
	ok, _ := afero.Exists(fs, "/card/DCIM/"+LogFilename)
	assert.False(t, ok)
	// DCIM was not renamed.
	ok, _ = afero.DirExists(fs, "/card/DCIM")
	assert.True(t, ok)

	names := eventNames(drainEvents(ns))
	require.NotEmpty(t, names)
	assert.Equal(t, models.EventCopyFailed, names[len(names)-1])
	assert.NotContains(t, names, models.EventCopyCompleted)
}

func TestUnwritableTargetFailsWithPermissionKind(t *testing.T) {
	t.Parallel()

	base := afero.NewMemMapFs()
	cfg := newTestConfig(t)
	ns := make(chan models.Notification, 64)

	res := freshCard(t, base)

	m := NewManager(afero.NewReadOnlyFs(base), cfg, clockwork.NewFakeClock(), ns)
	job := m.Run(context.Background(), "dev-1", "/card", res)

	require.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, ErrKindPermission, job.ErrorKind)

	names := eventNames(drainEvents(ns))
	require.NotEmpty(t, names)
	assert.Equal(t, models.EventCopyFailed, names[len(names)-1])
}
