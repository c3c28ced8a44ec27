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

package state

import (
	"context"
	"time"

	"github.com/OffloadProject/offload-core/pkg/api/models"
	"github.com/OffloadProject/offload-core/pkg/helpers/syncutil"
)

// Session represents one physical insertion-to-removal lifecycle of a
// storage device. At most one session is active per device id; a repeat
// attach while a session is active is ignored until the device detaches.
type Session struct {
	DiscoveredAt   time.Time
	DeviceID       string
	DeviceNode     string
	MountPath      string
	Classification string

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the session is torn down by a detach or by
// daemon shutdown. Copy jobs watch it to detect forced removal.
func (s *Session) Context() context.Context {
	return s.ctx
}

// State holds the runtime state of the daemon.
//
// LOCKING RULES: mu protects all mutable fields. Never send to the
// notifications channel while holding the lock; prepare the payload under
// the lock, unlock, then send.
type State struct {
	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	sessions      map[string]*Session
	Notifications chan<- models.Notification
	mu            syncutil.RWMutex
	activeJobs    int
	monitoring    bool
	stopping      bool
}

// NewState creates daemon state with monitoring disabled, the safety
// default until the consuming application enables it.
func NewState() (st *State, notificationCh <-chan models.Notification) {
	// Buffer absorbs bursts of progress events while the backend client
	// is reconnecting; overflow is dropped by the notifications package.
	ns := make(chan models.Notification, 128)
	ctx, cancel := context.WithCancel(context.Background())
	return &State{
		sessions:      make(map[string]*Session),
		Notifications: ns,
		ctx:           ctx,
		ctxCancelFunc: cancel,
	}, ns
}

func (s *State) GetContext() context.Context {
	return s.ctx
}

func (s *State) MonitoringEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monitoring
}

func (s *State) SetMonitoring(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitoring = enabled
}

// BeginSession registers a new session for deviceID. Returns false if a
// session is already active for the device, in which case the attach is
// ignored until the prior session is torn down.
func (s *State) BeginSession(deviceID, deviceNode string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[deviceID]; exists {
		return nil, false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	sess := &Session{
		DeviceID:       deviceID,
		DeviceNode:     deviceNode,
		DiscoveredAt:   time.Now(),
		Classification: models.ClassificationUnclassified,
		ctx:            ctx,
		cancel:         cancel,
	}
	s.sessions[deviceID] = sess

	return sess, true
}

// EndSession tears down the session for deviceID, cancelling its context
// so any in-flight copy job aborts. Returns false if no session exists.
func (s *State) EndSession(deviceID string) (*Session, bool) {
	s.mu.Lock()
	sess, exists := s.sessions[deviceID]
	if exists {
		delete(s.sessions, deviceID)
	}
	s.mu.Unlock()

	if !exists {
		return nil, false
	}

	sess.cancel()
	return sess, true
}

func (s *State) Session(deviceID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[deviceID]
	return sess, ok
}

func (s *State) SetSessionMount(deviceID, mountPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[deviceID]; ok {
		sess.MountPath = mountPath
	}
}

func (s *State) SetSessionClassification(deviceID, classification string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[deviceID]; ok {
		sess.Classification = classification
	}
}

func (s *State) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *State) JobStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeJobs++
}

func (s *State) JobFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeJobs > 0 {
		s.activeJobs--
	}
}

func (s *State) ActiveJobs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeJobs
}

// Stop initiates graceful shutdown. All session contexts are children of
// the state context and are cancelled with it.
func (s *State) Stop() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.ctxCancelFunc()
}

func (s *State) Stopping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopping
}
