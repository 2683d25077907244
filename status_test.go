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
	"testing"
)

func TestBlinks(t *testing.T) {
	for code, want := range map[int][2]int{
		StatUNK:  {0, 0},
		StatOK:   {0, 1},
		StatDNS:  {1, 4},
		StatEXCP: {2, 4},
	} {
		var long, short int
		for _, p := range Blinks(code) {
			switch p {
			case longPulse:
				long++
			case shortPulse:
				short++
			}
		}
		if long != want[0] || short != want[1] {
			t.Errorf("code %d: %d long/%d short, want %v", code, long, short, want)
		}
	}
}

func TestStatusNil(t *testing.T) {
	var state *Status
	state.Set(StatDNS, 3)
	if s, _ := state.Get(); s != StatUNK {
		t.Fatalf("nil status: %d", s)
	}
}

func TestStatusTrap(t *testing.T) {
	state := NewStatus(new(ledRecorder))
	func() {
		defer state.Trap(0)
		panic("test")
	}()
	if s, _ := state.Get(); s != StatEXCP {
		t.Fatalf("state after panic: %d", s)
	}

	state.Set(StatOK, 0)
	func() {
		defer state.Trap(0)
	}()
	if s, _ := state.Get(); s != StatUNK {
		t.Fatalf("state after return: %d", s)
	}
}

func TestStatusShow(t *testing.T) {
	dev := new(ledRecorder)
	state := &Status{dev: dev}
	state.Set(StatOK, 1)
	state.show()
	if dev.on != 1 {
		t.Fatalf("LED switched on %d times", dev.on)
	}
	state.Set(StatSOCK, 1)
	if s, n := state.Get(); s != StatSOCK || n != 1 {
		t.Fatalf("got state %d/%d", s, n)
	}
}

// device recording LED switches
type ledRecorder struct {
	on int
}

func (dev *ledRecorder) Join(WifiConfig, *Link) (Station, int) {
	return nil, StatDEV
}

func (dev *ledRecorder) LED(on bool) {
	if on {
		dev.on++
	}
}
