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

package classify

import (
	"path/filepath"
	"regexp"
	"testing"

	"github.com/OffloadProject/offload-core/pkg/api/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFolderRe = regexp.MustCompile(`(?i)^\d{3}GOPRO$`)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestClassifyCameraCard(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/card/DCIM/100GOPRO/GX010001.MP4", "aaaa")
	writeFile(t, fs, "/card/DCIM/100GOPRO/GX010001.LRV", "bb")
	writeFile(t, fs, "/card/DCIM/100GOPRO/GOPR0001.JPG", "ignored")
	writeFile(t, fs, "/card/DCIM/101GOPRO/GX020001.mp4", "ccc")
	writeFile(t, fs, "/card/DCIM/MISC/leftover.mp4", "not a camera folder")
	writeFile(t, fs, "/card/readme.txt", "hi")

	res := New(fs, testFolderRe).Classify("/card")

	assert.Equal(t, models.ClassificationCamera, res.Classification)
	assert.Equal(t, "/card/DCIM", res.SignatureRoot)
	assert.Empty(t, res.ExistingTargetID)
	assert.Equal(t, []string{"/card/DCIM/100GOPRO", "/card/DCIM/101GOPRO"}, res.Folders)
	assert.Equal(t, 3, res.FileCount)
	assert.Equal(t, int64(9), res.TotalBytes)
}

func TestClassifyPlainVolume(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/stick/documents/notes.txt", "hi")

	res := New(fs, testFolderRe).Classify("/stick")
	assert.Equal(t, models.ClassificationPlain, res.Classification)
	assert.Empty(t, res.Folders)
}

func TestClassifyDCIMWithoutFootageIsPlain(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/card/DCIM/100GOPRO/GOPR0001.JPG", "photo only")

	res := New(fs, testFolderRe).Classify("/card")
	assert.Equal(t, models.ClassificationPlain, res.Classification)
}

func TestClassifyUnreadableMount(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	res := New(fs, testFolderRe).Classify("/gone")
	assert.Equal(t, models.ClassificationUnclassified, res.Classification)
}

func TestClassifyReorganizedCard(t *testing.T) {
	t.Parallel()

	const targetID = "4f6b097e-6f70-4b77-90ff-cf13b9a2fae3"

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/card/"+targetID+"/100GOPRO/GX010002.MP4", "new footage")

	res := New(fs, testFolderRe).Classify("/card")

	assert.Equal(t, models.ClassificationCamera, res.Classification)
	assert.Equal(t, targetID, res.ExistingTargetID)
	assert.Equal(t, "/card/"+targetID, res.SignatureRoot)
	assert.Equal(t, 1, res.FileCount)
}

func TestClassifyIgnoresNonUUIDFolders(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/card/holiday-2026/clip.mp4", "renamed by hand")

	res := New(fs, testFolderRe).Classify("/card")
	assert.Equal(t, models.ClassificationPlain, res.Classification)
}

func TestEligibleFile(t *testing.T) {
	t.Parallel()

	assert.True(t, EligibleFile("GX010001.MP4"))
	assert.True(t, EligibleFile("GX010001.lrv"))
	assert.False(t, EligibleFile("GOPR0001.JPG"))
	assert.False(t, EligibleFile("noextension"))
}
