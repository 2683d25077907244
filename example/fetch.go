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
	"context"
	"log/slog"
	"os"

	"github.com/bfix/wififetch"
)

// WiFi credentials and request target
// (set with -ldflags "-X main.SSID=... -X main.Passwd=...")
var (
	SSID   string
	Passwd string
	Host   = "wififetch"
	IP     string
	URL    = wififetch.DefaultURL
)

// fetch one page and tear the radio down
func main() {
	wait()
	logger := newLogger()
	logger.Info("started")

	// access device
	dev := wififetch.InitDevice()
	state := wififetch.NewStatus(dev)
	defer state.Trap(trapTime)
	state.Set(wififetch.StatOK, 0)

	tgt, err := wififetch.ParseTarget(URL)
	if err != nil {
		logger.Error("invalid URL", slog.String("url", URL), slog.String("err", err.Error()))
		state.Set(wififetch.StatURL, 0)
		return
	}

	// connect to WiFi
	link := wififetch.NewLink(logger)
	logger.Info("Setting WiFi configuration", slog.String("ssid", SSID))
	sta, stat := dev.Join(wififetch.WifiConfig{
		Hostname:    Host,
		RequestedIP: IP,
		Logger:      logger,
		SSID:        SSID,
		Passwd:      Passwd,
	}, link)
	if stat != wififetch.StatOK {
		logger.Error("can't join network", slog.Int("status", stat))
		state.Set(stat, 0)
		return
	}

	// run request task
	f := wififetch.NewFetcher(wififetch.FetchConfig{
		Target: tgt,
		Logger: logger,
		Status: state,
	}, link, sta, os.Stdout)
	n, err := f.Run(context.Background())
	if err != nil {
		logger.Error("fetch failed", slog.String("err", err.Error()))
		return
	}
	logger.Info("fetch done", slog.Int64("bytes", n), slog.Int("attempts", f.Attempts()))
	done()
}
