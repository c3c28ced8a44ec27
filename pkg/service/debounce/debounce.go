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

// Package debounce coalesces bursts of raw device events into one logical
// event per device. A single physical insertion can generate several
// enumeration events from the OS; only the last edge within the window is
// emitted, timed from the last raw event rather than the first.
package debounce

import (
	"time"

	"github.com/OffloadProject/offload-core/pkg/devicewatch"
	"github.com/OffloadProject/offload-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultWindow is the debounce window used when config does not override it.
const DefaultWindow = 2 * time.Second

type pending struct {
	timer    clockwork.Timer
	deadline time.Time
	latest   devicewatch.Event
}

// Debouncer coalesces raw events per device id. Submit may be called from
// any goroutine; logical events are delivered on Events.
type Debouncer struct {
	clock   clockwork.Clock
	out     chan devicewatch.Event
	stop    chan struct{}
	pending map[string]*pending
	window  time.Duration
	mu      syncutil.Mutex
	stopped bool
}

func New(clock clockwork.Clock, window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		clock:   clock,
		window:  window,
		out:     make(chan devicewatch.Event, 10),
		stop:    make(chan struct{}),
		pending: make(map[string]*pending),
	}
}

// Events returns the channel logical events are delivered on.
func (d *Debouncer) Events() <-chan devicewatch.Event {
	return d.out
}

// Submit feeds a raw event into the debouncer. Each raw event for a device
// restarts that device's window; when the window elapses with no further
// raw events, the most recent edge is emitted.
func (d *Debouncer) Submit(ev devicewatch.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	deadline := d.clock.Now().Add(d.window)

	if p, ok := d.pending[ev.DeviceID]; ok {
		p.latest = ev
		p.deadline = deadline
		p.timer.Reset(d.window)
		log.Debug().
			Str("device_id", ev.DeviceID).
			Bool("attached", ev.Attached).
			Msg("debounce window reset")
		return
	}

	id := ev.DeviceID
	d.pending[id] = &pending{
		latest:   ev,
		deadline: deadline,
		timer:    d.clock.AfterFunc(d.window, func() { d.fire(id) }),
	}
}

func (d *Debouncer) fire(id string) {
	d.mu.Lock()

	p, ok := d.pending[id]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}

	// A Submit may have raced the timer firing; honor the later deadline.
	if remaining := p.deadline.Sub(d.clock.Now()); remaining > 0 {
		p.timer.Reset(remaining)
		d.mu.Unlock()
		return
	}

	delete(d.pending, id)
	ev := p.latest
	d.mu.Unlock()

	select {
	case d.out <- ev:
	case <-d.stop:
	}
}

// Stop cancels all pending windows. No events are emitted after Stop
// returns; the output channel is left open for any blocked readers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for id, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, id)
	}
	d.mu.Unlock()
	close(d.stop)
}
