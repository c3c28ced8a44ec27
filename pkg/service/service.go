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

// Package service wires the daemon together: device watcher into
// debouncer into per-session pipelines, plus the control API and the
// backend link.
package service

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/OffloadProject/offload-core/pkg/api"
	"github.com/OffloadProject/offload-core/pkg/api/models"
	"github.com/OffloadProject/offload-core/pkg/api/notifications"
	"github.com/OffloadProject/offload-core/pkg/backend"
	"github.com/OffloadProject/offload-core/pkg/config"
	"github.com/OffloadProject/offload-core/pkg/devicewatch"
	"github.com/OffloadProject/offload-core/pkg/media/classify"
	"github.com/OffloadProject/offload-core/pkg/media/copier"
	"github.com/OffloadProject/offload-core/pkg/media/mount"
	"github.com/OffloadProject/offload-core/pkg/service/commands"
	"github.com/OffloadProject/offload-core/pkg/service/debounce"
	"github.com/OffloadProject/offload-core/pkg/service/state"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Service owns the running daemon pipeline.
type Service struct {
	cfg        *config.Instance
	st         *state.State
	core       *commands.Core
	resolver   *mount.Resolver
	classifier *classify.Classifier
	copier     *copier.Manager
	watcher    devicewatch.Watcher
	debouncer  *debounce.Debouncer
	eg         errgroup.Group
	sessionWG  sync.WaitGroup
}

// Start builds and launches the daemon. Monitoring starts disabled; the
// consuming application enables it over one of the control surfaces.
// Returned errors are fatal and the caller should exit.
func Start(
	cfg *config.Instance,
	st *state.State,
	ns <-chan models.Notification,
) (*Service, error) {
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
		debouncer:  debounce.New(clock, cfg.DebounceWindow()),
	}

	watcher, err := devicewatch.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create device watcher: %w", err)
	}
	svc.watcher = watcher
	if err := watcher.Start(); err != nil {
		return nil, fmt.Errorf("failed to start device watcher: %w", err)
	}

	ctx := st.GetContext()

	svc.eg.Go(func() error {
		for ev := range watcher.Events() {
			svc.debouncer.Submit(ev)
		}
		return nil
	})

	svc.eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-svc.debouncer.Events():
				svc.handleEvent(ev)
			}
		}
	})

	client := backend.NewClient(cfg, svc.core, clock)
	svc.eg.Go(func() error {
		client.Run(ctx, ns)
		return nil
	})

	if cfg.APIEnabled() {
		server := api.NewServer(cfg, svc.core)
		svc.eg.Go(func() error {
			return server.Run(ctx)
		})
	}

	log.Info().Msg("service started, monitoring disabled until enabled")
	return svc, nil
}

// Core exposes the command core, for the entry point to check restart
// intent after shutdown.
func (s *Service) Core() *commands.Core {
	return s.core
}

// Stop tears the pipeline down. The state context must already be
// cancelled via state.Stop.
func (s *Service) Stop() error {
	s.watcher.Stop()
	s.debouncer.Stop()
	s.sessionWG.Wait()
	if err := s.eg.Wait(); err != nil {
		return fmt.Errorf("service shutdown: %w", err)
	}
	return nil
}

// handleEvent processes one debounced device edge.
func (s *Service) handleEvent(ev devicewatch.Event) {
	if !ev.Attached {
		if _, ok := s.st.EndSession(ev.DeviceID); ok {
			log.Info().Str("device_id", ev.DeviceID).Msg("device detached")
			notifications.DeviceDetached(s.st.Notifications, ev.DeviceID)
		}
		return
	}

	if !s.st.MonitoringEnabled() {
		log.Debug().
			Str("device_id", ev.DeviceID).
			Msg("monitoring disabled, ignoring device")
		return
	}

	sess, ok := s.st.BeginSession(ev.DeviceID, ev.DeviceNode)
	if !ok {
		log.Debug().
			Str("device_id", ev.DeviceID).
			Msg("session already active, ignoring repeat attach")
		return
	}

	s.sessionWG.Add(1)
	go func() {
		defer s.sessionWG.Done()
		s.runSession(sess)
	}()
}

// runSession drives one device from attach through classification and,
// for a camera card, the copy job. It runs until done or until the
// session context is cancelled by a detach or shutdown.
func (s *Service) runSession(sess *state.Session) {
	ctx := sess.Context()

	mountPath, err := s.resolver.Resolve(ctx, sess.DeviceNode)
	if err != nil {
		if errors.Is(err, mount.ErrUnresolved) {
			notifications.DeviceAttached(s.st.Notifications, sess.DeviceID, models.AttachedParams{
				DeviceNode: sess.DeviceNode,
				Resolved:   false,
			})
		}
		return
	}
	s.st.SetSessionMount(sess.DeviceID, mountPath)

	log.Info().
		Str("device_id", sess.DeviceID).
		Str("mount_path", mountPath).
		Msg("device attached")
	notifications.DeviceAttached(s.st.Notifications, sess.DeviceID, models.AttachedParams{
		MountPath:  mountPath,
		DeviceNode: sess.DeviceNode,
		Resolved:   true,
	})

	res := s.classifier.Classify(mountPath)
	s.st.SetSessionClassification(sess.DeviceID, res.Classification)

	folders := make([]string, len(res.Folders))
	for i := range res.Folders {
		folders[i] = filepath.Base(res.Folders[i])
	}
	notifications.DeviceClassified(s.st.Notifications, sess.DeviceID, models.ClassifiedParams{
		Classification: res.Classification,
		Folders:        folders,
		FileCount:      res.FileCount,
		TotalBytes:     res.TotalBytes,
	})

	if res.Classification != models.ClassificationCamera ||
		res.SignatureRoot == "" || !s.cfg.AutoCopy() {
		return
	}

	s.st.JobStarted()
	defer s.st.JobFinished()
	s.copier.Run(ctx, sess.DeviceID, mountPath, res)
}
