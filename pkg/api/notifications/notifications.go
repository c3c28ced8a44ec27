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

// Package notifications provides typed constructors for every event the
// daemon can push. Delivery is best-effort: when the queue is full the
// event is dropped rather than blocking the sender.
package notifications

import (
	"github.com/OffloadProject/offload-core/pkg/api/models"
	"github.com/rs/zerolog/log"
)

func post(ns chan<- models.Notification, n models.Notification) {
	select {
	case ns <- n:
	default:
		log.Debug().Str("event", n.Event).Msg("notification queue full, dropping event")
	}
}

func DeviceAttached(ns chan<- models.Notification, deviceID string, payload models.AttachedParams) {
	post(ns, models.Notification{
		Event:    models.EventDeviceAttached,
		DeviceID: deviceID,
		Params:   payload,
	})
}

func DeviceClassified(ns chan<- models.Notification, deviceID string, payload models.ClassifiedParams) {
	post(ns, models.Notification{
		Event:    models.EventDeviceClassified,
		DeviceID: deviceID,
		Params:   payload,
	})
}

func DeviceDetached(ns chan<- models.Notification, deviceID string) {
	post(ns, models.Notification{
		Event:    models.EventDeviceDetached,
		DeviceID: deviceID,
	})
}

func CopyStarted(ns chan<- models.Notification, deviceID string, payload models.CopyStartedParams) {
	post(ns, models.Notification{
		Event:    models.EventCopyStarted,
		DeviceID: deviceID,
		Params:   payload,
	})
}

func CopyProgress(ns chan<- models.Notification, deviceID string, payload models.CopyProgressParams) {
	post(ns, models.Notification{
		Event:    models.EventCopyProgress,
		DeviceID: deviceID,
		Params:   payload,
	})
}

func CopySkipped(ns chan<- models.Notification, deviceID string, payload models.CopySkippedParams) {
	post(ns, models.Notification{
		Event:    models.EventCopySkipped,
		DeviceID: deviceID,
		Params:   payload,
	})
}

func CopyCompleted(ns chan<- models.Notification, deviceID string, payload models.CopyCompletedParams) {
	post(ns, models.Notification{
		Event:    models.EventCopyCompleted,
		DeviceID: deviceID,
		Params:   payload,
	})
}

func CopyFailed(ns chan<- models.Notification, deviceID string, payload models.CopyFailedParams) {
	post(ns, models.Notification{
		Event:    models.EventCopyFailed,
		DeviceID: deviceID,
		Params:   payload,
	})
}

func CardReorganized(ns chan<- models.Notification, deviceID, targetID string) {
	post(ns, models.Notification{
		Event:    models.EventCardReorganized,
		DeviceID: deviceID,
		Params:   models.CardReorganizedParams{TargetID: targetID},
	})
}

func CardReorganizeFailed(ns chan<- models.Notification, deviceID, targetID, errDetail string) {
	post(ns, models.Notification{
		Event:    models.EventCardReorganizeFailed,
		DeviceID: deviceID,
		Params:   models.CardReorganizedParams{TargetID: targetID, Error: errDetail},
	})
}

func CardRenamed(ns chan<- models.Notification, payload models.CardRenameParams) {
	post(ns, models.Notification{
		Event:  models.EventCardRenamed,
		Params: payload,
	})
}

func CardRenameFailed(ns chan<- models.Notification, payload models.CardRenameParams) {
	post(ns, models.Notification{
		Event:  models.EventCardRenameFailed,
		Params: payload,
	})
}

func CardEjected(ns chan<- models.Notification, payload models.CardEjectedParams) {
	post(ns, models.Notification{
		Event:  models.EventCardEjected,
		Params: payload,
	})
}

func ServiceStatus(ns chan<- models.Notification, payload models.StatusResponse) {
	post(ns, models.Notification{
		Event:  models.EventServiceStatus,
		Params: payload,
	})
}
