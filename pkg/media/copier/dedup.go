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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// LogFilename is the dedup log kept in the card's signature folder. It
// travels with the card, so repeated insertions skip already-copied files.
const LogFilename = "_offload_copied.txt"

const logSeparator = " => "

// readLog loads the dedup log from dir. Returns the copied files as a
// relative-path to target-identifier map and the last identifier seen.
// A missing log is not an error; the card simply has no history.
func readLog(fsys afero.Fs, dir string) (copied map[string]string, lastID string, err error) {
	copied = make(map[string]string)

	logPath := filepath.Join(dir, LogFilename)
	f, err := fsys.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return copied, "", nil
		}
		return copied, "", fmt.Errorf("failed to open copy log: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		relPath, targetID, found := strings.Cut(line, logSeparator)
		if !found {
			continue
		}
		copied[relPath] = targetID
		lastID = targetID
	}
	if err := scanner.Err(); err != nil {
		return copied, lastID, fmt.Errorf("failed to read copy log: %w", err)
	}

	return copied, lastID, nil
}

// appendLog records relPaths as copied under targetID. The log is
// append-only: existing entries are never rewritten.
func appendLog(fsys afero.Fs, dir string, relPaths []string, targetID string) error {
	logPath := filepath.Join(dir, LogFilename)

	f, err := fsys.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open copy log for append: %w", err)
	}

	for _, relPath := range relPaths {
		if _, err := fmt.Fprintf(f, "%s%s%s\n", relPath, logSeparator, targetID); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to append copy log entry: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close copy log: %w", err)
	}

	_ = fsys.Chmod(logPath, 0o644)
	return nil
}
