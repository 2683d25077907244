//----------------------------------------------------------------------
// This file is part of wififetch.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wififetch is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wififetch is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wififetch

import (
	"context"
	"log/slog"
	"sync"
)

// Event reported by the WiFi station
type Event int

// station events
const (
	EventStart        Event = iota // radio started in station mode
	EventGotIP                     // station has an IP address
	EventDisconnected              // association with the AP lost
	EventStop                      // radio stopped
)

// String returns a readable event name.
func (ev Event) String() string {
	switch ev {
	case EventStart:
		return "start"
	case EventGotIP:
		return "got IP"
	case EventDisconnected:
		return "disconnected"
	case EventStop:
		return "stop"
	}
	return "unknown"
}

//----------------------------------------------------------------------

// Link is the "connected" flag of a WiFi station. It is set when the
// station gets an IP address and cleared when the association is lost
// or the radio is stopped. Tasks that need the network block in Wait.
type Link struct {
	mu     sync.Mutex
	up     chan struct{} // closed while connected
	joined bool          // current flag
	join   func()        // (re-)join handler, may be nil
	logger *slog.Logger
}

// NewLink creates a link flag in disconnected state.
func NewLink(logger *slog.Logger) *Link {
	if logger == nil {
		logger = discardLogger()
	}
	return &Link{
		up:     make(chan struct{}),
		logger: logger,
	}
}

// OnJoin sets the handler called on start and disconnect events.
// The handler runs in its own goroutine.
func (l *Link) OnJoin(fcn func()) {
	l.mu.Lock()
	l.join = fcn
	l.mu.Unlock()
}

// Handle a station event.
func (l *Link) Handle(ev Event) {
	l.logger.Info("event handler: " + ev.String())
	switch ev {
	case EventStart:
		l.rejoin()
	case EventGotIP:
		l.set()
	case EventDisconnected:
		l.rejoin()
		l.clear()
	case EventStop:
		l.clear()
	}
}

// Connected returns true if the flag is set.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.joined
}

// Wait until the flag is set or the context is done.
// The flag is not consumed.
func (l *Link) Wait(ctx context.Context) error {
	l.mu.Lock()
	up := l.up
	l.mu.Unlock()
	select {
	case <-up:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) set() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.joined {
		l.joined = true
		close(l.up)
	}
}

func (l *Link) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.joined {
		l.joined = false
		l.up = make(chan struct{})
	}
}

func (l *Link) rejoin() {
	l.mu.Lock()
	fcn := l.join
	l.mu.Unlock()
	if fcn != nil {
		go fcn()
	}
}

//----------------------------------------------------------------------

// LinkWatch turns samples of the driver's association state into
// link events: up→down posts EventDisconnected, down→up EventGotIP.
type LinkWatch struct {
	link *Link
	up   bool
}

// NewLinkWatch starts watching with the given initial state.
func NewLinkWatch(link *Link, up bool) *LinkWatch {
	return &LinkWatch{link: link, up: up}
}

// Update with the current association state.
func (w *LinkWatch) Update(up bool) {
	if up == w.up {
		return
	}
	w.up = up
	if up {
		w.link.Handle(EventGotIP)
	} else {
		w.link.Handle(EventDisconnected)
	}
}
