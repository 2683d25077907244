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
	"bytes"
	"encoding/binary"
	"testing"
)

const testPort = 40000

// build an Ethernet/IPv4/TCP frame with valid checksums
func tcpFrame(flags byte, seq uint32, payload []byte) []byte {
	frame := make([]byte, ethHdrLen+20+20+len(payload))
	binary.BigEndian.PutUint16(frame[12:14], etherIPv4)
	ip := frame[ethHdrLen:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(len(ip)))
	ip[8] = 64
	ip[9] = ipProtoTCP
	copy(ip[12:16], []byte{93, 184, 215, 14})
	copy(ip[16:20], []byte{192, 168, 1, 20})
	tcp := ip[20:]
	binary.BigEndian.PutUint16(tcp[0:2], 80)
	binary.BigEndian.PutUint16(tcp[2:4], testPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	tcp[12] = 5 << 4
	tcp[13] = flags
	copy(tcp[20:], payload)
	setIPChecksum(ip, 20)
	setTCPChecksum(ip, 20)
	return frame
}

// checksums of a frame verify
func checksumsValid(frame []byte) bool {
	ip := frame[ethHdrLen:]
	ihl := int(ip[0]&0x0f) * 4
	seg := ip[ihl:binary.BigEndian.Uint16(ip[2:4])]
	var pseudo [12]byte
	copy(pseudo[0:8], ip[12:20])
	pseudo[9] = ipProtoTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(seg)))
	return fold16(sum16(0, ip[:ihl])) == 0 && fold16(sum16(sum16(0, pseudo[:]), seg)) == 0
}

func TestSplitFIN(t *testing.T) {
	payload := []byte("</body></html>\n")
	frame := tcpFrame(0x18|tcpFlagFIN, 1000, payload) // PSH|ACK|FIN
	if !checksumsValid(frame) {
		t.Fatal("test frame invalid")
	}
	data, fin, ok := SplitFIN(frame, testPort)
	if !ok {
		t.Fatal("frame not split")
	}

	_, dtcp, dpayload := tcpSegment(data, testPort)
	if dtcp == nil || dtcp[tcpFlagsOff]&tcpFlagFIN != 0 || !bytes.Equal(dpayload, payload) {
		t.Fatalf("bad data frame %x", data)
	}
	if binary.BigEndian.Uint32(dtcp[4:8]) != 1000 || !checksumsValid(data) {
		t.Fatal("data frame sequence or checksum broken")
	}
	if HasFIN(data, testPort) {
		t.Fatal("data frame still has FIN")
	}

	_, ftcp, fpayload := tcpSegment(fin, testPort)
	if ftcp == nil || len(fpayload) != 0 || !HasFIN(fin, testPort) {
		t.Fatalf("bad FIN frame %x", fin)
	}
	if seq := binary.BigEndian.Uint32(ftcp[4:8]); seq != 1000+uint32(len(payload)) {
		t.Fatalf("FIN sequence %d", seq)
	}
	if ftcp[tcpFlagsOff] != 0x18|tcpFlagFIN || !checksumsValid(fin) {
		t.Fatal("FIN frame flags or checksum broken")
	}
	// original frame untouched
	if !HasFIN(frame, testPort) || !checksumsValid(frame) {
		t.Fatal("original frame modified")
	}
}

func TestSplitFINIgnored(t *testing.T) {
	for name, tc := range map[string]struct {
		frame []byte
		port  uint16
	}{
		"data only":  {tcpFrame(0x18, 1, []byte("abc")), testPort},
		"bare FIN":   {tcpFrame(0x10|tcpFlagFIN, 1, nil), testPort},
		"other port": {tcpFrame(0x18|tcpFlagFIN, 1, []byte("abc")), testPort + 1},
		"truncated":  {tcpFrame(0x18|tcpFlagFIN, 1, []byte("abc"))[:30], testPort},
		"not ipv4":   {make([]byte, 80), testPort},
	} {
		if _, _, ok := SplitFIN(tc.frame, tc.port); ok {
			t.Errorf("%s: frame split", name)
		}
	}
	if !HasFIN(tcpFrame(0x10|tcpFlagFIN, 1, nil), testPort) {
		t.Fatal("bare FIN not detected")
	}
}
