//go:build rp2040 || rp2350

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

package main

import (
	"log/slog"
	"machine"
	"time"
)

// time a failure state stays visible before main returns
const trapTime = 30 * time.Second

// log to the serial port
func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// wait for the serial port to come up
func wait() {
	time.Sleep(2 * time.Second)
}

// done blocks forever, allows USB CDC reset for flashing new software.
func done() {
	for {
		time.Sleep(time.Hour)
	}
}
