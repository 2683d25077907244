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
	"strings"
	"testing"
)

func TestParseTarget(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want Target
		url  string
	}{
		{"http://example.com/", Target{Host: "example.com", Path: "/"}, "http://example.com/"},
		{"http://example.com", Target{Host: "example.com"}, "http://example.com/"},
		{"http://[::ffff:10.0.0.2]/", Target{Host: "10.0.0.2", Path: "/"}, "http://10.0.0.2/"},
		{"http://10.0.0.1:8080/a/b?x=1", Target{Host: "10.0.0.1", Port: 8080, Path: "/a/b?x=1"}, "http://10.0.0.1:8080/a/b?x=1"},
	} {
		tgt, err := ParseTarget(tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if tgt != tc.want {
			t.Errorf("%s: got %+v, want %+v", tc.raw, tgt, tc.want)
		}
		if u := tgt.URL(); u != tc.url {
			t.Errorf("%s: URL %q, want %q", tc.raw, u, tc.url)
		}
	}
	for _, raw := range []string{"http://[::1]/", "http://[2001:db8::1]:8080/x", "https://example.com/", "http:///path", "http://example.com:0/", "http://example.com:70000/", "::"} {
		if _, err := ParseTarget(raw); err == nil {
			t.Errorf("%s: expected error", raw)
		}
	}
}

func TestTargetRequest(t *testing.T) {
	tgt, err := ParseTarget(DefaultURL)
	if err != nil {
		t.Fatal(err)
	}
	req := string(tgt.Request())
	if !strings.HasPrefix(req, "GET http://example.com/ HTTP/1.0\r\n") {
		t.Errorf("bad request line: %q", req)
	}
	for _, line := range []string{
		"\r\nHost: example.com\r\n",
		"\r\nUser-Agent: " + DefaultUserAgent + "\r\n",
	} {
		if !strings.Contains(req, line) {
			t.Errorf("missing %q in %q", line, req)
		}
	}
	if !strings.HasSuffix(req, "\r\n\r\n") {
		t.Errorf("request not terminated: %q", req)
	}
}
