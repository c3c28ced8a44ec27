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

//go:build windows

package devicewatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/OffloadProject/offload-core/pkg/helpers/syncutil"
	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
)

const (
	// Win32_VolumeChangeEvent types
	wmiEventInsert = 2 // device arrival
	wmiEventRemove = 3 // device removal
)

// windowsWatcher implements Watcher for Windows using WMI volume events.
type windowsWatcher struct {
	events   chan Event
	stopChan chan struct{}
	known    map[string]Event // drive path -> attach event
	wg       sync.WaitGroup
	mu       syncutil.RWMutex
	stopOnce sync.Once
}

// NewWatcher creates a new Windows device watcher using WMI.
func NewWatcher() (Watcher, error) {
	return &windowsWatcher{
		events:   make(chan Event, 10),
		stopChan: make(chan struct{}),
		known:    make(map[string]Event),
	}, nil
}

func (w *windowsWatcher) Events() <-chan Event {
	return w.events
}

func (w *windowsWatcher) Start() error {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		return fmt.Errorf("failed to initialize COM: %w", err)
	}

	w.wg.Add(1)
	go w.watchVolumeChanges()

	return nil
}

func (w *windowsWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		ole.CoUninitialize()
		close(w.events)
	})
}

func (w *windowsWatcher) watchVolumeChanges() {
	defer w.wg.Done()

	// COM must be initialized per goroutine
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		log.Error().Err(err).Msg("failed to initialize COM for volume watcher")
		return
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		log.Error().Err(err).Msg("failed to create WMI locator")
		return
	}
	defer unknown.Release()

	wmi, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		log.Error().Err(err).Msg("failed to query WMI interface")
		return
	}
	defer wmi.Release()

	serviceRaw, err := oleutil.CallMethod(wmi, "ConnectServer")
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to WMI service")
		return
	}
	service := serviceRaw.ToIDispatch()
	defer service.Release()

	queryRaw, err := oleutil.CallMethod(service, "ExecNotificationQuery",
		"SELECT * FROM Win32_VolumeChangeEvent WHERE EventType = 2 OR EventType = 3")
	if err != nil {
		log.Error().Err(err).Msg("failed to execute WMI query")
		return
	}
	eventSink := queryRaw.ToIDispatch()
	defer eventSink.Release()

	log.Debug().Msg("started watching for Windows volume changes")

	for {
		select {
		case <-w.stopChan:
			return
		default:
			// 1000ms timeout so stopChan is checked periodically
			nextRaw, err := oleutil.CallMethod(eventSink, "NextEvent", 1000)
			if err != nil {
				continue
			}

			if nextRaw.VT == ole.VT_NULL || nextRaw.VT == ole.VT_EMPTY {
				continue
			}

			event := nextRaw.ToIDispatch()
			w.handleVolumeEvent(event)
			event.Release()
		}
	}
}

func (w *windowsWatcher) handleVolumeEvent(event *ole.IDispatch) {
	eventTypeRaw, err := oleutil.GetProperty(event, "EventType")
	if err != nil {
		log.Debug().Err(err).Msg("failed to get event type")
		return
	}
	eventType := int(eventTypeRaw.Val)

	driveNameRaw, err := oleutil.GetProperty(event, "DriveName")
	if err != nil {
		log.Debug().Err(err).Msg("failed to get drive name")
		return
	}
	driveName := driveNameRaw.ToString()

	if !strings.HasSuffix(driveName, "\\") {
		driveName += "\\"
	}

	switch eventType {
	case wmiEventInsert:
		w.handleDriveInsert(driveName)
	case wmiEventRemove:
		w.handleDriveRemove(driveName)
	}
}

func (w *windowsWatcher) handleDriveInsert(driveName string) {
	if !isRemovableDrive(driveName) {
		return
	}

	deviceID := getDriveSerial(driveName)
	if deviceID == "" {
		deviceID = strings.TrimSuffix(driveName, "\\")
	}

	event := Event{
		DeviceID:   deviceID,
		DeviceNode: driveName,
		Attached:   true,
	}

	w.mu.Lock()
	w.known[driveName] = event
	w.mu.Unlock()

	select {
	case w.events <- event:
		log.Debug().
			Str("device_id", deviceID).
			Str("drive", driveName).
			Msg("drive insertion detected")
	case <-w.stopChan:
		return
	}
}

func (w *windowsWatcher) handleDriveRemove(driveName string) {
	w.mu.Lock()
	attach, exists := w.known[driveName]
	if exists {
		delete(w.known, driveName)
	}
	w.mu.Unlock()

	if !exists {
		return
	}

	select {
	case w.events <- Event{
		DeviceID:   attach.DeviceID,
		DeviceNode: driveName,
		Attached:   false,
	}:
		log.Debug().
			Str("device_id", attach.DeviceID).
			Str("drive", driveName).
			Msg("drive removal detected")
	case <-w.stopChan:
		return
	}
}

func isRemovableDrive(drivePath string) bool {
	drivePathPtr, err := windows.UTF16PtrFromString(drivePath)
	if err != nil {
		return false
	}

	driveType := windows.GetDriveType(drivePathPtr)
	return driveType == windows.DRIVE_REMOVABLE
}

// getDriveSerial returns the volume serial number as a hex string, which
// is more stable across insertions than a drive letter.
func getDriveSerial(drivePath string) string {
	drivePathPtr, err := windows.UTF16PtrFromString(drivePath)
	if err != nil {
		return ""
	}

	var volumeNameBuf [windows.MAX_PATH + 1]uint16
	var volumeSerialNumber uint32
	var maxComponentLength uint32
	var fileSystemFlags uint32
	var fileSystemNameBuf [windows.MAX_PATH + 1]uint16

	err = windows.GetVolumeInformation(
		drivePathPtr,
		&volumeNameBuf[0],
		uint32(len(volumeNameBuf)),
		&volumeSerialNumber,
		&maxComponentLength,
		&fileSystemFlags,
		&fileSystemNameBuf[0],
		uint32(len(fileSystemNameBuf)),
	)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%X", volumeSerialNumber)
}
