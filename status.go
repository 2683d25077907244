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
	"fmt"
	"sync/atomic"
	"time"
)

// status codes
const (
	StatUNK   = iota // unknown status (init)
	StatOK           // processing active
	StatDEV          // device failure
	StatIP           // invalid IP address
	StatWIFI         // can't initialize radio
	StatWPA2         // WPA2 join failed
	StatDHCP1        // DHCP request failed
	StatDHCP2        // no DHCP reply
	StatURL          // invalid request URL
	StatDNS          // DNS lookup failed
	StatSOCK         // can't allocate socket
	StatCONN         // can't connect to server
	StatSEND         // can't send request
	StatRECV         // can't set receive timeout
	StatEXCP         // exception (panic) occured
)

// Pulse of the status LED
type Pulse struct {
	On, Off time.Duration
}

// LED timing: a long pulse counts five, a short pulse one.
var (
	longPulse  = Pulse{On: 1000 * time.Millisecond, Off: 300 * time.Millisecond}
	shortPulse = Pulse{On: 150 * time.Millisecond, Off: 150 * time.Millisecond}
)

// Blinks returns the LED pulse sequence for a status code.
func Blinks(code int) (seq []Pulse) {
	for code > 5 {
		seq = append(seq, longPulse)
		code -= 5
	}
	for range code {
		seq = append(seq, shortPulse)
	}
	return
}

// Status handler.
// Show current status depending on hardware device.
type Status struct {
	dev    Device       // reference to device
	curr   atomic.Int32 // current state
	repeat atomic.Int32 // current repeat counter
}

// NewStatus creates a new status display. The status code is blinked
// every five seconds; after <repeat> rounds it falls back to StatOK.
func NewStatus(dev Device) (state *Status) {
	state = new(Status)
	state.dev = dev
	state.curr.Store(StatOK)
	go func() {
		for {
			time.Sleep(5 * time.Second)
			state.show()
		}
	}()
	return
}

// show the current state once
func (state *Status) show() {
	for _, p := range Blinks(int(state.curr.Load())) {
		state.dev.LED(true)
		time.Sleep(p.On)
		state.dev.LED(false)
		time.Sleep(p.Off)
	}
	if state.repeat.Add(-1) == 0 {
		state.curr.Store(StatOK)
	}
}

// Set status and repeat <num> times (0 = forever).
func (state *Status) Set(flag, num int) {
	if state != nil {
		state.curr.Store(int32(flag))
		state.repeat.Store(int32(num))
	}
}

// Get current state and repeat counter
func (state *Status) Get() (int, int) {
	if state == nil {
		return StatUNK, 0
	}
	return int(state.curr.Load()), int(state.repeat.Load())
}

// Trap critical failures (panic) and keep the state visible for
// the given time. Must be called deferred.
func (state *Status) Trap(t time.Duration) {
	s, _ := state.Get()
	if r := recover(); r != nil {
		fmt.Printf("EXCP: %v\n", r)
		if s == StatOK {
			state.Set(StatEXCP, 0)
		}
	} else if s == StatOK {
		state.Set(StatUNK, 0)
	}
	time.Sleep(t)
}
