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

// Package copier runs copy jobs: it enumerates new footage on a classified
// card, transfers it into the ingest target, records the files in the
// card's dedup log and reorganizes the card afterwards.
package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/OffloadProject/offload-core/pkg/api/models"
	"github.com/OffloadProject/offload-core/pkg/api/notifications"
	"github.com/OffloadProject/offload-core/pkg/config"
	"github.com/OffloadProject/offload-core/pkg/media/classify"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Status is the lifecycle state of a copy job. Transitions are linear;
// StatusFailed and StatusCancelled are terminal from any active state.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusEnumerating  Status = "enumerating"
	StatusTransferring Status = "transferring"
	StatusFinalizing   Status = "finalizing"
	StatusReorganizing Status = "reorganizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Error kinds carried on copy.failed events.
const (
	ErrKindMountStale = "mount-stale"
	ErrKindIO         = "io-error"
	ErrKindPermission = "permission-denied"
	ErrKindReorganize = "reorganize-failed"
)

const copyChunkSize = 1024 * 1024

const (
	targetDirMode  = 0o755
	targetFileMode = 0o644
)

// Job is the record of one copy run. Fields are written by Run and safe to
// read once Run returns.
type Job struct {
	TargetID   string
	DeviceID   string
	MountPath  string
	Status     Status
	ErrorKind  string
	FileCount  int
	TotalBytes int64
	BytesDone  int64
	ReusedID   bool

	startedAt time.Time
}

type fileEntry struct {
	relPath string
	size    int64
}

// Manager executes copy jobs against the configured ingest target.
type Manager struct {
	fs    afero.Fs
	cfg   *config.Instance
	clock clockwork.Clock
	ns    chan<- models.Notification
}

func NewManager(
	fsys afero.Fs,
	cfg *config.Instance,
	clock clockwork.Clock,
	ns chan<- models.Notification,
) *Manager {
	return &Manager{fs: fsys, cfg: cfg, clock: clock, ns: ns}
}

// Run executes one copy job for a camera-classified device and returns the
// terminal job record. ctx is the device session context; cancellation
// (detach or shutdown) aborts the transfer. Files already listed in the
// card's dedup log are never copied again.
func (m *Manager) Run(
	ctx context.Context,
	deviceID, mountPath string,
	res classify.Result,
) *Job {
	job := &Job{
		Status:    StatusQueued,
		DeviceID:  deviceID,
		MountPath: mountPath,
		startedAt: m.clock.Now(),
	}

	job.Status = StatusEnumerating
	copied, lastID, err := readLog(m.fs, res.SignatureRoot)
	if err != nil {
		return m.fail(job, ErrKindIO, err)
	}

	files := m.enumerate(res, copied)
	job.FileCount = len(files)
	for i := range files {
		job.TotalBytes += files[i].size
	}

	candidate := res.ExistingTargetID
	if candidate == "" {
		candidate = lastID
	}

	if len(files) == 0 {
		// Nothing to transfer, so no identifier is minted: report the one
		// the card already carries.
		job.TargetID = candidate
		job.ReusedID = candidate != ""
		log.Info().
			Str("device_id", deviceID).
			Str("target_id", job.TargetID).
			Msg("all footage already copied, nothing to do")
		notifications.CopySkipped(m.ns, deviceID, models.CopySkippedParams{
			Reason:   "all_files_copied",
			TargetID: job.TargetID,
		})
		notifications.CopyCompleted(m.ns, deviceID, models.CopyCompletedParams{
			TargetID: job.TargetID,
		})
		job.Status = StatusCompleted
		return job
	}

	job.TargetID, job.ReusedID = m.pickTargetID(candidate)

	log.Info().
		Str("device_id", deviceID).
		Str("target_id", job.TargetID).
		Int("files", job.FileCount).
		Int64("bytes", job.TotalBytes).
		Bool("reused_id", job.ReusedID).
		Msg("starting copy job")
	notifications.CopyStarted(m.ns, deviceID, models.CopyStartedParams{
		TargetID:   job.TargetID,
		FileCount:  job.FileCount,
		TotalBytes: job.TotalBytes,
		ReusedID:   job.ReusedID,
	})

	job.Status = StatusTransferring
	targetRoot := filepath.Join(m.cfg.TargetDir(), job.TargetID)
	if err := m.transfer(ctx, job, res.SignatureRoot, targetRoot, files); err != nil {
		return m.failTransfer(ctx, job, res.SignatureRoot, err)
	}

	job.Status = StatusFinalizing
	relPaths := make([]string, len(files))
	for i := range files {
		relPaths[i] = files[i].relPath
	}
	if err := appendLog(m.fs, res.SignatureRoot, relPaths, job.TargetID); err != nil {
		// The data is on the target but the card does not know it; the
		// next insertion will copy these files again into a fresh
		// identifier.
		return m.fail(job, ErrKindIO, err)
	}
	m.normalizePermissions(targetRoot)

	duration := m.clock.Since(job.startedAt)
	job.Status = StatusCompleted
	log.Info().
		Str("device_id", deviceID).
		Str("target_id", job.TargetID).
		Int("files", job.FileCount).
		Dur("duration", duration).
		Msg("copy job completed")
	notifications.CopyCompleted(m.ns, deviceID, models.CopyCompletedParams{
		TargetID:  job.TargetID,
		FileCount: job.FileCount,
		Duration:  duration.Seconds(),
	})

	m.reorganize(job, res.SignatureRoot)
	job.Status = StatusCompleted
	return job
}

// enumerate lists the eligible files under the matched camera folders that
// are not yet in the dedup log, in stable order.
func (m *Manager) enumerate(res classify.Result, copied map[string]string) []fileEntry {
	var files []fileEntry
	for _, folder := range res.Folders {
		entries, err := afero.ReadDir(m.fs, folder)
		if err != nil {
			log.Warn().Err(err).Str("path", folder).Msg("failed to list camera folder")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !classify.EligibleFile(entry.Name()) {
				continue
			}
			relPath := filepath.Join(filepath.Base(folder), entry.Name())
			if _, done := copied[relPath]; done {
				continue
			}
			files = append(files, fileEntry{relPath: relPath, size: entry.Size()})
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].relPath < files[j].relPath
	})
	return files
}

// pickTargetID reuses the card's prior identifier only when its target
// folder still exists, so footage from one card stays together across
// insertions.
func (m *Manager) pickTargetID(candidate string) (targetID string, reused bool) {
	if candidate != "" {
		if ok, _ := afero.DirExists(m.fs, filepath.Join(m.cfg.TargetDir(), candidate)); ok {
			return candidate, true
		}
		log.Debug().
			Str("target_id", candidate).
			Msg("prior target folder missing, assigning new identifier")
	}
	return uuid.NewString(), false
}

func (m *Manager) transfer(
	ctx context.Context,
	job *Job,
	sigRoot, targetRoot string,
	files []fileEntry,
) error {
	if err := m.fs.MkdirAll(targetRoot, targetDirMode); err != nil {
		return fmt.Errorf("failed to create target folder: %w", err)
	}

	lastDecile := -1
	for i := range files {
		srcPath := filepath.Join(sigRoot, files[i].relPath)
		dstPath := filepath.Join(targetRoot, files[i].relPath)
		if err := m.copyFile(ctx, job, srcPath, dstPath, &lastDecile); err != nil {
			return err
		}
	}
	return nil
}

// copyFile streams src to dst in chunks, checking for cancellation between
// chunks and reporting progress at 10% intervals of the whole job.
func (m *Manager) copyFile(
	ctx context.Context,
	job *Job,
	srcPath, dstPath string,
	lastDecile *int,
) error {
	src, err := m.fs.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = src.Close() }()

	if err := m.fs.MkdirAll(filepath.Dir(dstPath), targetDirMode); err != nil {
		return fmt.Errorf("failed to create target subfolder: %w", err)
	}
	dst, err := m.fs.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, targetFileMode)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}

	buf := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			_ = dst.Close()
			m.removePartial(dstPath)
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				_ = dst.Close()
				m.removePartial(dstPath)
				return fmt.Errorf("failed to write target file: %w", writeErr)
			}
			job.BytesDone += int64(n)
			m.reportProgress(job, lastDecile)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			_ = dst.Close()
			m.removePartial(dstPath)
			return fmt.Errorf("failed to read source file: %w", readErr)
		}
	}

	if err := dst.Close(); err != nil {
		m.removePartial(dstPath)
		return fmt.Errorf("failed to close target file: %w", err)
	}
	return nil
}

// removePartial deletes an incompletely written target file so a retry on
// the next insertion starts clean.
func (m *Manager) removePartial(dstPath string) {
	if err := m.fs.Remove(dstPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", dstPath).Msg("failed to remove partial file")
	}
}

func (m *Manager) reportProgress(job *Job, lastDecile *int) {
	if job.TotalBytes <= 0 {
		return
	}
	percent := int(job.BytesDone * 100 / job.TotalBytes)
	decile := percent / 10
	if decile <= *lastDecile {
		return
	}
	*lastDecile = decile

	var speed string
	if elapsed := m.clock.Since(job.startedAt); elapsed > 0 {
		speed = formatRate(float64(job.BytesDone) / elapsed.Seconds())
	}
	notifications.CopyProgress(m.ns, job.DeviceID, models.CopyProgressParams{
		Speed:      speed,
		Percent:    percent,
		BytesDone:  job.BytesDone,
		BytesTotal: job.TotalBytes,
	})
}

func formatRate(bytesPerSec float64) string {
	const unit = 1024.0
	switch {
	case bytesPerSec >= unit*unit*unit:
		return fmt.Sprintf("%.2fGB/s", bytesPerSec/(unit*unit*unit))
	case bytesPerSec >= unit*unit:
		return fmt.Sprintf("%.2fMB/s", bytesPerSec/(unit*unit))
	case bytesPerSec >= unit:
		return fmt.Sprintf("%.2fKB/s", bytesPerSec/unit)
	default:
		return fmt.Sprintf("%.0fB/s", bytesPerSec)
	}
}

// failTransfer classifies a transfer error into the failure taxonomy. A
// cancelled session context means the card went away under us.
func (m *Manager) failTransfer(ctx context.Context, job *Job, sigRoot string, err error) *Job {
	if ctx.Err() != nil {
		job.Status = StatusCancelled
		job.ErrorKind = ErrKindMountStale
		log.Warn().
			Str("device_id", job.DeviceID).
			Int64("bytes_done", job.BytesDone).
			Msg("copy interrupted, device removed or service stopping")
		notifications.CopyFailed(m.ns, job.DeviceID, models.CopyFailedParams{
			ErrorKind: ErrKindMountStale,
			Detail:    "copy interrupted before finalize",
		})
		return job
	}

	kind := ErrKindIO
	switch {
	case os.IsPermission(errors.Unwrap(err)), os.IsPermission(err):
		kind = ErrKindPermission
	default:
		// When the source tree is gone the mount is stale even though the
		// read surfaced as a plain I/O error.
		if _, statErr := m.fs.Stat(sigRoot); statErr != nil {
			kind = ErrKindMountStale
		}
	}
	return m.fail(job, kind, err)
}

func (m *Manager) fail(job *Job, kind string, err error) *Job {
	job.Status = StatusFailed
	job.ErrorKind = kind
	log.Error().Err(err).
		Str("device_id", job.DeviceID).
		Str("error_kind", kind).
		Msg("copy job failed")
	notifications.CopyFailed(m.ns, job.DeviceID, models.CopyFailedParams{
		ErrorKind: kind,
		Detail:    err.Error(),
	})
	return job
}

// normalizePermissions makes the copied tree group-accessible. Failures
// are logged only; the data itself arrived intact.
func (m *Manager) normalizePermissions(targetRoot string) {
	err := afero.Walk(m.fs, targetRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		mode := os.FileMode(targetFileMode)
		if info.IsDir() {
			mode = targetDirMode
		}
		if chmodErr := m.fs.Chmod(path, mode); chmodErr != nil {
			log.Warn().Err(chmodErr).Str("path", path).Msg("failed to set permissions")
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("path", targetRoot).Msg("permission normalization incomplete")
	}
}

// reorganize renames the card's signature folder to the target identifier
// so the next insertion pairs the card with its imported footage. Failure
// is reported but does not undo the completed copy.
func (m *Manager) reorganize(job *Job, sigRoot string) {
	job.Status = StatusReorganizing
	newRoot := filepath.Join(job.MountPath, job.TargetID)
	if sigRoot == newRoot {
		return
	}

	if err := m.fs.Rename(sigRoot, newRoot); err != nil {
		log.Warn().Err(err).
			Str("device_id", job.DeviceID).
			Str("path", sigRoot).
			Msg("failed to reorganize card")
		notifications.CardReorganizeFailed(m.ns, job.DeviceID, job.TargetID, err.Error())
		return
	}

	log.Info().
		Str("device_id", job.DeviceID).
		Str("target_id", job.TargetID).
		Msg("card reorganized")
	notifications.CardReorganized(m.ns, job.DeviceID, job.TargetID)
}
