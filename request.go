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
	"errors"
	"net/netip"
	"net/url"
	"strconv"

	"github.com/soypat/seqs/httpx"
)

// Error messages
var (
	errScheme = errors.New("only http:// URLs are supported")
	errNoHost = errors.New("missing host in URL")
	errPort   = errors.New("invalid port in URL")
	errIPv6   = errors.New("IPv6 addresses are not supported")
)

// defaults for the request target
const (
	DefaultURL       = "http://" + DefaultHost + "/"
	DefaultHost      = "example.com"
	DefaultPort      = 80
	DefaultUserAgent = "esp-idf/1.0 esp32"
)

// Target of the HTTP GET request
type Target struct {
	Host      string // server name (resolved via DNS)
	Port      uint16 // server port (default: 80)
	Path      string // absolute path (default: "/")
	UserAgent string // value of the User-Agent header
}

// ParseTarget reads a target from a "http://host[:port][/path]" URL.
func ParseTarget(raw string) (t Target, err error) {
	var u *url.URL
	if u, err = url.Parse(raw); err != nil {
		return
	}
	if u.Scheme != "http" {
		err = errScheme
		return
	}
	if t.Host = u.Hostname(); t.Host == "" {
		err = errNoHost
		return
	}
	// lookups and sockets are IPv4 only
	if addr, perr := netip.ParseAddr(t.Host); perr == nil {
		if addr = addr.Unmap(); !addr.Is4() {
			err = errIPv6
			return
		}
		t.Host = addr.String()
	}
	if p := u.Port(); p != "" {
		var port uint64
		if port, err = strconv.ParseUint(p, 10, 16); err != nil || port == 0 {
			err = errPort
			return
		}
		t.Port = uint16(port)
	}
	t.Path = u.EscapedPath()
	if u.RawQuery != "" {
		t.Path += "?" + u.RawQuery
	}
	return
}

// withDefaults fills in unset fields.
func (t Target) withDefaults() Target {
	if t.Host == "" {
		t.Host = DefaultHost
	}
	if t.Port == 0 {
		t.Port = DefaultPort
	}
	if t.Path == "" {
		t.Path = "/"
	}
	if t.UserAgent == "" {
		t.UserAgent = DefaultUserAgent
	}
	return t
}

// URL returns the absolute request URI.
func (t Target) URL() string {
	t = t.withDefaults()
	s := "http://" + t.Host
	if t.Port != DefaultPort {
		s += ":" + strconv.Itoa(int(t.Port))
	}
	return s + t.Path
}

// Request returns the raw bytes of the GET request. The request uses
// HTTP/1.0 so the server closes the connection after the response.
func (t Target) Request() []byte {
	t = t.withDefaults()
	var hdr httpx.RequestHeader
	hdr.SetMethod("GET")
	hdr.SetRequestURI(t.URL())
	hdr.SetProtocol("HTTP/1.0")
	hdr.SetHost(t.Host)
	hdr.SetUserAgent(t.UserAgent)
	return hdr.Header()
}
