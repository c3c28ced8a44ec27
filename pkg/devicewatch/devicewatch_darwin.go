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

//go:build darwin

package devicewatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/OffloadProject/offload-core/pkg/helpers/syncutil"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const volumesPath = "/Volumes"

// darwinWatcher implements Watcher for macOS by watching /Volumes with
// fsnotify. Volumes appear there already mounted, so the device node is
// the volume path itself.
type darwinWatcher struct {
	watcher  *fsnotify.Watcher
	events   chan Event
	stopChan chan struct{}
	known    map[string]Event // volume path -> attach event
	wg       sync.WaitGroup
	mu       syncutil.RWMutex
	stopOnce sync.Once
}

// NewWatcher creates a new macOS device watcher.
func NewWatcher() (Watcher, error) {
	return &darwinWatcher{
		events:   make(chan Event, 10),
		stopChan: make(chan struct{}),
		known:    make(map[string]Event),
	}, nil
}

func (w *darwinWatcher) Events() <-chan Event {
	return w.events
}

func (w *darwinWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.watcher = watcher

	if err := watcher.Add(volumesPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", volumesPath, err)
	}

	// Report volumes already present at startup as arrivals, so a card
	// inserted before the daemon started is still picked up.
	entries, err := os.ReadDir(volumesPath)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				w.emitAttach(filepath.Join(volumesPath, entry.Name()))
			}
		}
	}

	w.wg.Add(1)
	go w.watchVolumes()

	return nil
}

func (w *darwinWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.wg.Wait()
		close(w.events)
	})
}

func (w *darwinWatcher) watchVolumes() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			switch {
			case event.Op.Has(fsnotify.Create):
				info, err := os.Stat(event.Name)
				if err != nil || !info.IsDir() {
					continue
				}
				w.emitAttach(event.Name)

			case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
				w.emitDetach(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("fsnotify error watching volumes")
		}
	}
}

func (w *darwinWatcher) emitAttach(volumePath string) {
	event := Event{
		DeviceID:   filepath.Base(volumePath),
		DeviceNode: volumePath,
		Attached:   true,
	}

	w.mu.Lock()
	w.known[volumePath] = event
	w.mu.Unlock()

	select {
	case w.events <- event:
		log.Debug().
			Str("device_id", event.DeviceID).
			Str("volume", volumePath).
			Msg("volume arrival detected")
	case <-w.stopChan:
	}
}

func (w *darwinWatcher) emitDetach(volumePath string) {
	w.mu.Lock()
	attach, exists := w.known[volumePath]
	if exists {
		delete(w.known, volumePath)
	}
	w.mu.Unlock()

	if !exists {
		return
	}

	select {
	case w.events <- Event{
		DeviceID:   attach.DeviceID,
		DeviceNode: volumePath,
		Attached:   false,
	}:
		log.Debug().
			Str("device_id", attach.DeviceID).
			Str("volume", volumePath).
			Msg("volume removal detected")
	case <-w.stopChan:
	}
}
