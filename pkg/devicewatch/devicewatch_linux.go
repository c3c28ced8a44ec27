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

//go:build linux

package devicewatch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/OffloadProject/offload-core/pkg/helpers/syncutil"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	udisks2Service        = "org.freedesktop.UDisks2"
	udisks2Path           = "/org/freedesktop/UDisks2"
	udisks2BlockInterface = "org.freedesktop.UDisks2.Block"
	udisks2FSInterface    = "org.freedesktop.UDisks2.Filesystem"
	dbusObjectManager     = "org.freedesktop.DBus.ObjectManager"

	// fallbackRescanInterval is the maximum time between partition table
	// rescans when running without D-Bus.
	fallbackRescanInterval = 1 * time.Second
)

// linuxWatcher implements Watcher for Linux using D-Bus/UDisks2 signals.
type linuxWatcher struct {
	conn         *dbus.Conn
	events       chan Event
	stopChan     chan struct{}
	pathMappings map[dbus.ObjectPath]Event // objectPath -> attach event, for removal matching
	wg           sync.WaitGroup
	mu           syncutil.RWMutex
	stopOnce     sync.Once
}

// isDBusAvailable quickly checks if D-Bus and UDisks2 are available.
func isDBusAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		// Private connection so closing it can't affect the shared one
		// used by Start()
		conn, err := dbus.SystemBusPrivate()
		if err != nil {
			done <- false
			return
		}
		defer func() { _ = conn.Close() }()

		if err := conn.Auth(nil); err != nil {
			done <- false
			return
		}
		if err := conn.Hello(); err != nil {
			done <- false
			return
		}

		obj := conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")
		call := obj.CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0)
		if call.Err != nil {
			done <- false
			return
		}

		var names []string
		if err := call.Store(&names); err != nil {
			done <- false
			return
		}

		for _, name := range names {
			if name == udisks2Service {
				done <- true
				return
			}
		}
		done <- false
	}()

	select {
	case available := <-done:
		return available
	case <-ctx.Done():
		return false
	}
}

// NewWatcher creates a new Linux device watcher. It prefers D-Bus/UDisks2
// and falls back to polling /proc/partitions when D-Bus is unavailable.
func NewWatcher() (Watcher, error) {
	if isDBusAvailable() {
		log.Debug().Msg("using D-Bus/UDisks2 for device detection")
		return &linuxWatcher{
			events:       make(chan Event, 10),
			stopChan:     make(chan struct{}),
			pathMappings: make(map[dbus.ObjectPath]Event),
		}, nil
	}

	log.Debug().Msg("D-Bus unavailable, polling /proc/partitions for device events")
	return newLinuxWatcherFallback()
}

func (w *linuxWatcher) Events() <-chan Event {
	return w.events
}

func (w *linuxWatcher) Start() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	w.conn = conn

	if err := w.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(udisks2Path),
		dbus.WithMatchInterface(dbusObjectManager),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		_ = w.conn.Close()
		return fmt.Errorf("failed to add match for InterfacesAdded: %w", err)
	}

	if err := w.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(udisks2Path),
		dbus.WithMatchInterface(dbusObjectManager),
		dbus.WithMatchMember("InterfacesRemoved"),
	); err != nil {
		_ = w.conn.Close()
		return fmt.Errorf("failed to add match for InterfacesRemoved: %w", err)
	}

	signalChan := make(chan *dbus.Signal, 10)
	w.conn.Signal(signalChan)

	w.wg.Add(1)
	go w.listenForSignals(signalChan)

	return nil
}

func (w *linuxWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		if w.conn != nil {
			_ = w.conn.Close()
		}
		close(w.events)
	})
}

func (w *linuxWatcher) listenForSignals(signalChan chan *dbus.Signal) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case signal := <-signalChan:
			if signal == nil {
				return
			}

			switch signal.Name {
			case dbusObjectManager + ".InterfacesAdded":
				w.handleInterfacesAdded(signal)
			case dbusObjectManager + ".InterfacesRemoved":
				w.handleInterfacesRemoved(signal)
			}
		}
	}
}

func (w *linuxWatcher) handleInterfacesAdded(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}

	objectPath, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}

	interfaces, ok := signal.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}

	// Only block devices carrying a filesystem are candidates. Unlike
	// mount watching, no mountpoint is required yet: the mount resolver
	// downstream handles automounting.
	blockProps, hasBlock := interfaces[udisks2BlockInterface]
	_, hasFS := interfaces[udisks2FSInterface]
	if !hasBlock || !hasFS {
		return
	}

	if hintSystem, ok := blockProps["HintSystem"]; ok {
		if isSystem, ok := hintSystem.Value().(bool); ok && isSystem {
			return
		}
	}
	if hintIgnore, ok := blockProps["HintIgnore"]; ok {
		if shouldIgnore, ok := hintIgnore.Value().(bool); ok && shouldIgnore {
			return
		}
	}

	deviceID := getDeviceID(blockProps)
	if deviceID == "" {
		log.Debug().Str("path", string(objectPath)).Msg("device has no ID, skipping")
		return
	}

	event := Event{
		DeviceID:   deviceID,
		DeviceNode: getDeviceNode(blockProps),
		Attached:   true,
	}

	w.mu.Lock()
	w.pathMappings[objectPath] = event
	w.mu.Unlock()

	select {
	case w.events <- event:
		log.Debug().
			Str("device_id", deviceID).
			Str("device_node", event.DeviceNode).
			Msg("device arrival detected")
	case <-w.stopChan:
		return
	}
}

func (w *linuxWatcher) handleInterfacesRemoved(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}

	objectPath, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}

	interfaces, ok := signal.Body[1].([]string)
	if !ok {
		return
	}

	hasBlock := false
	for _, iface := range interfaces {
		if iface == udisks2BlockInterface || iface == udisks2FSInterface {
			hasBlock = true
			break
		}
	}
	if !hasBlock {
		return
	}

	w.mu.Lock()
	attach, exists := w.pathMappings[objectPath]
	if exists {
		delete(w.pathMappings, objectPath)
	}
	w.mu.Unlock()

	if !exists {
		return
	}

	select {
	case w.events <- Event{
		DeviceID:   attach.DeviceID,
		DeviceNode: attach.DeviceNode,
		Attached:   false,
	}:
		log.Debug().
			Str("device_id", attach.DeviceID).
			Msg("device removal detected")
	case <-w.stopChan:
		return
	}
}

func getDeviceID(props map[string]dbus.Variant) string {
	// UUID first (most stable), then serial, then device node
	if idUUID, ok := props["IdUUID"]; ok {
		if uuid, ok := idUUID.Value().(string); ok && uuid != "" {
			return uuid
		}
	}

	if serial, ok := props["IdSerial"]; ok {
		if serialNum, ok := serial.Value().(string); ok && serialNum != "" {
			return serialNum
		}
	}

	if device, ok := props["Device"]; ok {
		if devicePath, ok := device.Value().([]byte); ok && len(devicePath) > 0 {
			return strings.TrimRight(string(devicePath), "\x00")
		}
	}

	return ""
}

// getDeviceNode extracts the block device path (e.g. "/dev/sda1").
func getDeviceNode(props map[string]dbus.Variant) string {
	if device, ok := props["Device"]; ok {
		if devicePath, ok := device.Value().([]byte); ok && len(devicePath) > 0 {
			return strings.TrimRight(string(devicePath), "\x00")
		}
	}
	return ""
}

// partitionNameRe matches partition entries in /proc/partitions, e.g.
// sdb1, mmcblk0p1, nvme0n1p2. Whole-disk entries are skipped so only
// mountable partitions produce events.
var partitionNameRe = regexp.MustCompile(`^(?:sd[a-z]+\d+|mmcblk\d+p\d+|nvme\d+n\d+p\d+)$`)

// linuxWatcherFallback implements Watcher by polling /proc/partitions.
// Used when D-Bus/UDisks2 is not available (minimal Linux systems).
type linuxWatcherFallback struct {
	lastScan       time.Time
	partitionsFile *os.File
	events         chan Event
	stopChan       chan struct{}
	known          map[string]Event // device node -> last attach event
	wg             sync.WaitGroup
	mu             syncutil.RWMutex
	stopOnce       sync.Once
}

func newLinuxWatcherFallback() (Watcher, error) {
	return &linuxWatcherFallback{
		events:   make(chan Event, 10),
		stopChan: make(chan struct{}),
		known:    make(map[string]Event),
	}, nil
}

func (w *linuxWatcherFallback) Events() <-chan Event {
	return w.events
}

func (w *linuxWatcherFallback) Start() error {
	file, err := os.Open("/proc/partitions")
	if err != nil {
		return fmt.Errorf("failed to open /proc/partitions: %w", err)
	}
	w.partitionsFile = file

	log.Debug().Msg("watching /proc/partitions for device events via poll()")

	w.wg.Add(1)
	go w.pollPartitionChanges()

	return nil
}

func (w *linuxWatcherFallback) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait() // polling goroutine must finish before the file closes
		if w.partitionsFile != nil {
			_ = w.partitionsFile.Close()
		}
		close(w.events)
	})
}

func (w *linuxWatcherFallback) pollPartitionChanges() {
	defer w.wg.Done()

	w.scanPartitions()
	w.mu.Lock()
	w.lastScan = time.Now()
	w.mu.Unlock()

	pollFds := []unix.PollFd{
		{
			Fd:     int32(w.partitionsFile.Fd()),
			Events: unix.POLLPRI | unix.POLLERR,
		},
	}

	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		// 1s timeout so stopChan is checked periodically
		n, err := unix.Poll(pollFds, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Warn().Err(err).Msg("poll() on /proc/partitions failed")
			return
		}

		select {
		case <-w.stopChan:
			return
		default:
		}

		shouldRescan := n > 0 && pollFds[0].Revents&(unix.POLLPRI|unix.POLLERR) != 0
		if !shouldRescan {
			// Periodic rescan covers systems where poll() never fires
			// for procfs files.
			w.mu.RLock()
			elapsed := time.Since(w.lastScan)
			w.mu.RUnlock()
			shouldRescan = elapsed >= fallbackRescanInterval
		}

		if shouldRescan {
			if _, err := w.partitionsFile.Seek(0, io.SeekStart); err != nil {
				log.Warn().Err(err).Msg("failed to seek /proc/partitions")
				continue
			}

			w.scanPartitions()

			w.mu.Lock()
			w.lastScan = time.Now()
			w.mu.Unlock()
		}
	}
}

func (w *linuxWatcherFallback) scanPartitions() {
	current := make(map[string]Event)

	scanner := bufio.NewScanner(w.partitionsFile)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// major minor #blocks name
		if len(fields) < 4 || fields[0] == "major" {
			continue
		}

		name := fields[3]
		if !partitionNameRe.MatchString(name) {
			continue
		}

		node := "/dev/" + name
		deviceID := getDeviceUUID(node)
		if deviceID == "" {
			deviceID = node
		}

		current[node] = Event{
			DeviceID:   deviceID,
			DeviceNode: node,
			Attached:   true,
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for node, event := range current {
		if _, exists := w.known[node]; !exists {
			w.known[node] = event

			select {
			case w.events <- event:
				log.Debug().
					Str("device_id", event.DeviceID).
					Str("device_node", node).
					Msg("device arrival detected (poll)")
			case <-w.stopChan:
				return
			}
		}
	}

	for node, event := range w.known {
		if _, exists := current[node]; !exists {
			delete(w.known, node)

			select {
			case w.events <- Event{
				DeviceID:   event.DeviceID,
				DeviceNode: node,
				Attached:   false,
			}:
				log.Debug().
					Str("device_id", event.DeviceID).
					Str("device_node", node).
					Msg("device removal detected (poll)")
			case <-w.stopChan:
				return
			}
		}
	}
}

// getDeviceUUID finds the filesystem UUID for a device by checking
// /dev/disk/by-uuid/ symlinks.
func getDeviceUUID(device string) string {
	byUUIDPath := "/dev/disk/by-uuid"
	entries, err := os.ReadDir(byUUIDPath)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		linkPath := filepath.Join(byUUIDPath, entry.Name())
		target, err := filepath.EvalSymlinks(linkPath)
		if err != nil {
			continue
		}
		if target == device {
			return entry.Name()
		}
	}

	return ""
}
