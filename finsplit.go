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
	"encoding/binary"
)

// frame layout (Ethernet II, IPv4, TCP)
const (
	ethHdrLen   = 14
	etherIPv4   = 0x0800
	ipProtoTCP  = 6
	tcpFlagFIN  = 0x01
	tcpFlagsOff = 13
)

// SplitFIN splits an Ethernet frame holding a TCP segment for the given
// local port that carries both payload and FIN into a data frame (FIN
// cleared) and a bare FIN frame following it in sequence space. The
// payload can then be drained from the socket before the FIN moves the
// connection to CLOSE-WAIT. ok is false for any other frame.
func SplitFIN(frame []byte, port uint16) (data, fin []byte, ok bool) {
	ip, tcp, payload := tcpSegment(frame, port)
	if tcp == nil || len(payload) == 0 || tcp[tcpFlagsOff]&tcpFlagFIN == 0 {
		return nil, nil, false
	}
	ihl := len(ip) - len(tcp)
	hdrLen := len(tcp) - len(payload)

	// data frame: same segment without FIN
	data = make([]byte, ethHdrLen+len(ip))
	copy(data, frame)
	dtcp := data[ethHdrLen+ihl:]
	dtcp[tcpFlagsOff] &^= tcpFlagFIN
	setTCPChecksum(data[ethHdrLen:], ihl)

	// FIN frame: headers only, sequence advanced by the payload
	fin = make([]byte, ethHdrLen+ihl+hdrLen)
	copy(fin, frame)
	fip := fin[ethHdrLen:]
	binary.BigEndian.PutUint16(fip[2:4], uint16(ihl+hdrLen))
	setIPChecksum(fip, ihl)
	ftcp := fip[ihl:]
	seq := binary.BigEndian.Uint32(ftcp[4:8])
	binary.BigEndian.PutUint32(ftcp[4:8], seq+uint32(len(payload)))
	setTCPChecksum(fip, ihl)
	return data, fin, true
}

// HasFIN returns true if the frame is a TCP segment with FIN for the port.
func HasFIN(frame []byte, port uint16) bool {
	_, tcp, _ := tcpSegment(frame, port)
	return tcp != nil && tcp[tcpFlagsOff]&tcpFlagFIN != 0
}

// tcpSegment returns the IP packet, TCP segment and payload of a frame
// addressed to the local port (nil if not applicable).
func tcpSegment(frame []byte, port uint16) (ip, tcp, payload []byte) {
	if len(frame) < ethHdrLen+20 || binary.BigEndian.Uint16(frame[12:14]) != etherIPv4 {
		return
	}
	pkt := frame[ethHdrLen:]
	ihl := int(pkt[0]&0x0f) * 4
	total := int(binary.BigEndian.Uint16(pkt[2:4]))
	if pkt[0]>>4 != 4 || pkt[9] != ipProtoTCP || ihl < 20 || total > len(pkt) || total < ihl+20 {
		return
	}
	pkt = pkt[:total]
	seg := pkt[ihl:]
	off := int(seg[12]>>4) * 4
	if off < 20 || off > len(seg) || binary.BigEndian.Uint16(seg[2:4]) != port {
		return
	}
	return pkt, seg, seg[off:]
}

// one's complement sum (RFC 1071)
func sum16(sum uint32, b []byte) uint32 {
	for ; len(b) > 1; b = b[2:] {
		sum += uint32(binary.BigEndian.Uint16(b))
	}
	if len(b) == 1 {
		sum += uint32(b[0]) << 8
	}
	return sum
}

func fold16(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

func setIPChecksum(ip []byte, ihl int) {
	ip[10], ip[11] = 0, 0
	binary.BigEndian.PutUint16(ip[10:12], fold16(sum16(0, ip[:ihl])))
}

func setTCPChecksum(ip []byte, ihl int) {
	seg := ip[ihl:]
	seg[16], seg[17] = 0, 0
	var pseudo [12]byte
	copy(pseudo[0:8], ip[12:20]) // source and destination address
	pseudo[9] = ipProtoTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(seg)))
	binary.BigEndian.PutUint16(seg[16:18], fold16(sum16(sum16(0, pseudo[:]), seg)))
}
