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
	"io"
	"log/slog"
	"net/netip"
	"time"
)

// Device is a hardware abstraction
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)

	// Join brings up the radio in station mode and connects to the
	// access point. Station events are posted to the link flag.
	// Returns a status code (StatOK on success).
	Join(cfg WifiConfig, link *Link) (Station, int)
}

// WifiConfig for joining an access point
type WifiConfig struct {
	// DHCP requested hostname.
	Hostname string
	// DHCP requested IP address. On failing to find DHCP server is used as static IP.
	RequestedIP string
	Logger      *slog.Logger

	SSID   string
	Passwd string
}

// Station is a network interface joined to an access point.
type Station interface {
	// Lookup resolves a host name to its IPv4 addresses.
	Lookup(host string) ([]netip.Addr, error)

	// Socket allocates a new TCP socket.
	Socket() (Socket, error)

	// Stop tears the radio down.
	Stop() error
}

// Socket is a TCP stream socket
type Socket interface {
	io.ReadWriteCloser

	// Connect to a remote address.
	Connect(addr netip.AddrPort) error

	// SetReadTimeout limits the time a single Read blocks.
	SetReadTimeout(d time.Duration) error
}

// logger that does no logging
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(127),
	}))
}
