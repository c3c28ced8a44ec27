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

// Package classify decides whether a mounted volume carries camera footage
// eligible for automated copy. The scan is read-only.
package classify

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/OffloadProject/offload-core/pkg/api/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// SignatureDir is the camera's top-level folder on a fresh card.
const SignatureDir = "DCIM"

// VideoExtensions are the file types eligible for copy: the main video
// container and the camera's low-resolution proxy variant.
var VideoExtensions = map[string]bool{
	".mp4": true,
	".lrv": true,
}

// Result describes what was found on a mounted volume.
type Result struct {
	// Classification is one of the models.Classification* values.
	Classification string

	// SignatureRoot is the absolute path of the folder the camera
	// subfolders live under: either DCIM or, on an already-reorganized
	// card, the folder named after the prior target identifier.
	SignatureRoot string

	// ExistingTargetID is set when the card was reorganized by a prior
	// completed copy job, letting enumeration reuse its identifier.
	ExistingTargetID string

	// Folders are absolute paths of subfolders matching the camera
	// folder pattern.
	Folders []string

	FileCount  int
	TotalBytes int64
}

// Classifier scans mounted volumes for a camera folder signature.
type Classifier struct {
	fs       afero.Fs
	folderRe *regexp.Regexp
}

func New(fs afero.Fs, folderRe *regexp.Regexp) *Classifier {
	return &Classifier{fs: fs, folderRe: folderRe}
}

// EligibleFile reports whether name has an extension eligible for copy.
func EligibleFile(name string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(name))]
}

// Classify inspects mountPath and returns its classification. A volume
// with a DCIM folder containing pattern-matched subfolders with at least
// one eligible file is a camera; a volume whose top level carries a
// UUID-named folder from a prior reorganize is also a camera, with the
// existing target identifier recorded.
func (c *Classifier) Classify(mountPath string) Result {
	res := Result{Classification: models.ClassificationUnclassified}

	entries, err := afero.ReadDir(c.fs, mountPath)
	if err != nil {
		log.Warn().Err(err).Str("mount_path", mountPath).Msg("failed to scan volume")
		return res
	}
	res.Classification = models.ClassificationPlain

	dcimPath := filepath.Join(mountPath, SignatureDir)
	if ok, _ := afero.DirExists(c.fs, dcimPath); ok {
		if c.scanSignatureRoot(dcimPath, &res) {
			res.Classification = models.ClassificationCamera
			return res
		}
	}

	// A reorganized card has its signature folder renamed to the target
	// identifier of the completed import.
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}

		root := filepath.Join(mountPath, entry.Name())
		res.Classification = models.ClassificationCamera
		res.ExistingTargetID = entry.Name()
		c.scanSignatureRoot(root, &res)
		return res
	}

	return res
}

// scanSignatureRoot fills res with the camera subfolders under root and
// their eligible file totals. Returns true if the root qualifies: at
// least one matched folder holding at least one eligible file.
func (c *Classifier) scanSignatureRoot(root string, res *Result) bool {
	res.SignatureRoot = root
	res.Folders = nil
	res.FileCount = 0
	res.TotalBytes = 0

	entries, err := afero.ReadDir(c.fs, root)
	if err != nil {
		log.Warn().Err(err).Str("path", root).Msg("failed to scan signature folder")
		return false
	}

	for _, entry := range entries {
		if !entry.IsDir() || !c.folderRe.MatchString(entry.Name()) {
			continue
		}

		folderPath := filepath.Join(root, entry.Name())
		res.Folders = append(res.Folders, folderPath)

		files, err := afero.ReadDir(c.fs, folderPath)
		if err != nil {
			log.Warn().Err(err).Str("path", folderPath).Msg("failed to scan camera folder")
			continue
		}
		for _, f := range files {
			if f.IsDir() || !EligibleFile(f.Name()) {
				continue
			}
			res.FileCount++
			res.TotalBytes += f.Size()
		}
	}

	if len(res.Folders) > 0 && res.FileCount > 0 {
		log.Info().
			Int("folders", len(res.Folders)).
			Int("videos", res.FileCount).
			Int64("bytes", res.TotalBytes).
			Msg("camera folder signature detected")
		return true
	}
	return false
}
