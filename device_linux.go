//go:build !rp2040 && !rp2350

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
	"errors"
	"net"
	"net/netip"
	"time"
)

var errNotConnected = errors.New("socket not connected")

// LinuxDevice (for testing purposes)
type LinuxDevice struct{}

// LED on or off (not applicable)
func (dev *LinuxDevice) LED(on bool) {}

// Initialize device
func InitDevice() Device {
	return new(LinuxDevice)
}

// Join uses the network of the host; the link is up immediately.
func (dev *LinuxDevice) Join(cfg WifiConfig, link *Link) (Station, int) {
	if cfg.RequestedIP != "" {
		if _, err := netip.ParseAddr(cfg.RequestedIP); err != nil {
			return nil, StatIP
		}
	}
	sta := &HostStation{
		link:    link,
		Timeout: 10 * time.Second,
	}
	link.Handle(EventStart)
	link.Handle(EventGotIP)
	return sta, StatOK
}

//----------------------------------------------------------------------

// HostStation uses the resolver and TCP stack of the host.
type HostStation struct {
	link     *Link
	resolver net.Resolver
	Timeout  time.Duration // lookup and connect timeout
}

// Lookup resolves a host name to its IPv4 addresses.
func (sta *HostStation) Lookup(host string) ([]netip.Addr, error) {
	ctx := context.Background()
	if sta.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sta.Timeout)
		defer cancel()
	}
	addrs, err := sta.resolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	for i, a := range addrs {
		addrs[i] = a.Unmap()
	}
	return addrs, nil
}

// Socket allocates a new (unconnected) TCP socket.
func (sta *HostStation) Socket() (Socket, error) {
	return &hostSocket{
		dialer: net.Dialer{Timeout: sta.Timeout},
	}, nil
}

// Stop clears the link flag.
func (sta *HostStation) Stop() error {
	if sta.link != nil {
		sta.link.Handle(EventStop)
	}
	return nil
}

// TCP socket on the host
type hostSocket struct {
	dialer  net.Dialer
	conn    net.Conn
	timeout time.Duration
}

func (s *hostSocket) Connect(addr netip.AddrPort) (err error) {
	s.conn, err = s.dialer.Dial("tcp4", addr.String())
	return
}

func (s *hostSocket) SetReadTimeout(d time.Duration) error {
	if s.conn == nil {
		return errNotConnected
	}
	s.timeout = d
	return nil
}

func (s *hostSocket) Read(buf []byte) (int, error) {
	if s.conn == nil {
		return 0, errNotConnected
	}
	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return 0, err
		}
	}
	return s.conn.Read(buf)
}

func (s *hostSocket) Write(buf []byte) (int, error) {
	if s.conn == nil {
		return 0, errNotConnected
	}
	return s.conn.Write(buf)
}

func (s *hostSocket) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
