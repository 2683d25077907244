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

package wififetch

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/eth/dns"
	"github.com/soypat/seqs/stacks"
)

// Error messages
var (
	errStopped   = errors.New("station stopped")
	errNoDNS     = errors.New("no DNS server")
	errNoRouter  = errors.New("no router address")
	errEstablish = errors.New("tcp establish retry limit exceeded")
)

const (
	mtu        = cyw43439.MTU
	tcpBufSize = 512
)

// Raspberry Pico W / Pico2 W  [RP2040/RP2350]
type PicoWDevice struct {
	ref *cyw43439.Device // reference to device
}

// LED on or off (if applicable)
func (dev *PicoWDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// Initialize device
func InitDevice() Device {
	dev := new(PicoWDevice)
	dev.ref = cyw43439.NewPicoWDevice()
	return dev
}

// Join initializes the radio, joins the WPA2 network and requests an
// address via DHCP. If DHCP fails, the requested IP is used as a static
// address.
func (dev *PicoWDevice) Join(cfg WifiConfig, link *Link) (Station, int) {
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	var reqAddr netip.Addr
	if cfg.RequestedIP != "" {
		var err error
		if reqAddr, err = netip.ParseAddr(cfg.RequestedIP); err != nil {
			return nil, StatIP
		}
	}
	sta := &PicoStation{
		dev:    dev.ref,
		link:   link,
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
		halted: make(chan struct{}),
	}

	wificfg := cyw43439.DefaultWifiConfig()
	// wificfg.Logger = logger // Uncomment to see in depth info on wifi device functioning.
	logger.Info("initializing pico W device...")
	devInitTime := time.Now()
	if err := dev.ref.Init(wificfg); err != nil {
		return nil, StatWIFI
	}
	logger.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))
	link.Handle(EventStart)

	if err := sta.joinAP(); err != nil {
		return nil, StatWPA2
	}
	mac, _ := dev.ref.HardwareAddr6()
	logger.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))

	sta.stack = stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: 2, // DHCP and DNS clients
		MaxOpenPortsTCP: 1,
		MTU:             mtu,
		Logger:          logger,
	})
	dev.ref.RecvEthHandle(sta.recvEth)

	// Begin asynchronous packet handling.
	go sta.nicLoop()

	if state := sta.setupDHCP(reqAddr); state != StatOK {
		close(sta.stop)
		return nil, state
	}
	link.OnJoin(sta.rejoin)
	link.Handle(EventGotIP)
	return sta, StatOK
}

//----------------------------------------------------------------------

// PicoStation is the network interface of a Pico W joined to an AP.
type PicoStation struct {
	dev    *cyw43439.Device
	link   *Link
	cfg    WifiConfig
	logger *slog.Logger

	stack *stacks.PortStack
	dhcp  *stacks.DHCPClient
	dns   *Resolver

	active atomic.Pointer[picoSocket] // connected socket (if any)

	stop     chan struct{} // closed to stop the NIC loop
	halted   chan struct{} // closed when the NIC loop has returned
	stopOnce sync.Once
	joinMtx  sync.Mutex
}

// joinAP tries to join the access point five times.
func (sta *PicoStation) joinAP() (err error) {
	sta.joinMtx.Lock()
	defer sta.joinMtx.Unlock()
	if len(sta.cfg.Passwd) == 0 {
		sta.logger.Info("joining open network:", slog.String("ssid", sta.cfg.SSID))
	} else {
		sta.logger.Info("joining WPA secure network", slog.String("ssid", sta.cfg.SSID), slog.Int("passlen", len(sta.cfg.Passwd)))
	}
	for range 5 {
		if err = sta.dev.JoinWPA2(sta.cfg.SSID, sta.cfg.Passwd); err == nil {
			return
		}
		sta.logger.Error("wifi join failed", slog.String("err", err.Error()))
		time.Sleep(5 * time.Second)
	}
	return
}

// rejoin after a lost association
func (sta *PicoStation) rejoin() {
	select {
	case <-sta.stop:
		return
	default:
	}
	if err := sta.joinAP(); err != nil {
		sta.logger.Error("wifi rejoin failed", slog.String("err", err.Error()))
		return
	}
	sta.link.Handle(EventGotIP)
}

// setupDHCP requests an address; falls back to a static IP.
func (sta *PicoStation) setupDHCP(reqAddr netip.Addr) int {
	logger := sta.logger
	sta.dhcp = stacks.NewDHCPClient(sta.stack, dhcp.DefaultClientPort)
	err := sta.dhcp.BeginRequest(stacks.DHCPRequestConfig{
		RequestedAddr: reqAddr,
		Xid:           uint32(time.Now().Nanosecond()),
		Hostname:      sta.cfg.Hostname,
	})
	if err != nil {
		return StatDHCP1
	}
	for i := 0; sta.dhcp.State() != dhcp.StateBound; i++ {
		logger.Info("DHCP ongoing...")
		time.Sleep(time.Second / 2)
		if i > 15 {
			if !reqAddr.IsValid() {
				return StatDHCP2
			}
			logger.Info("DHCP did not complete, assigning static IP", slog.String("ip", sta.cfg.RequestedIP))
			sta.stack.SetAddr(reqAddr)
			return StatOK
		}
	}
	var primaryDNS netip.Addr
	if servers := sta.dhcp.DNSServers(); len(servers) > 0 {
		primaryDNS = servers[0]
	}
	ip := sta.dhcp.Offer()
	logger.Info("DHCP complete",
		slog.Uint64("cidrbits", uint64(sta.dhcp.CIDRBits())),
		slog.String("ourIP", ip.String()),
		slog.String("dns", primaryDNS.String()),
		slog.String("gateway", sta.dhcp.Gateway().String()),
		slog.String("router", sta.dhcp.Router().String()),
		slog.Duration("lease", sta.dhcp.IPLeaseTime()),
	)
	sta.stack.SetAddr(ip) // It's important to set the IP address after DHCP completes.
	return StatOK
}

// Lookup resolves a host name to its IPv4 addresses.
func (sta *PicoStation) Lookup(host string) ([]netip.Addr, error) {
	if sta.stopped() {
		return nil, errStopped
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	if sta.dns == nil {
		if sta.dhcp == nil {
			return nil, errNoDNS
		}
		var err error
		if sta.dns, err = NewResolver(sta.stack, sta.dhcp); err != nil {
			return nil, err
		}
	}
	return sta.dns.LookupNetIP(host)
}

// Socket allocates a new TCP socket on the stack.
func (sta *PicoStation) Socket() (Socket, error) {
	if sta.stopped() {
		return nil, errStopped
	}
	conn, err := stacks.NewTCPConn(sta.stack, stacks.TCPConnConfig{
		TxBufSize: tcpBufSize,
		RxBufSize: tcpBufSize,
	})
	if err != nil {
		return nil, err
	}
	return &picoSocket{sta: sta, conn: conn}, nil
}

// Stop packet processing, switch the LED off, power-cycle the radio
// (dropping mode and association) and clear the link flag.
func (sta *PicoStation) Stop() error {
	sta.stopOnce.Do(func() {
		close(sta.stop)
		<-sta.halted
		sta.dev.GPIOSet(0, false)
		sta.dev.Reset()
		sta.link.Handle(EventStop)
	})
	return nil
}

// recvEth hands incoming frames to the stack. Payload for the active
// socket is drained before a FIN is processed: the connection refuses
// reads once it is in CLOSE-WAIT.
func (sta *PicoStation) recvEth(frame []byte) error {
	sock := sta.active.Load()
	if sock == nil {
		return sta.stack.RecvEth(frame)
	}
	port := sock.conn.LocalPort()
	if data, fin, ok := SplitFIN(frame, port); ok {
		if err := sta.stack.RecvEth(data); err != nil {
			return err
		}
		sock.drain()
		return sta.stack.RecvEth(fin)
	}
	err := sta.stack.RecvEth(frame)
	if !HasFIN(frame, port) {
		sock.drain()
	}
	return err
}

func (sta *PicoStation) stopped() bool {
	select {
	case <-sta.stop:
		return true
	default:
		return false
	}
}

// nicLoop polls the radio for incoming frames and sends queued frames
// produced by the stack until the station is stopped.
func (sta *PicoStation) nicLoop() {
	defer close(sta.halted)
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
		linkCheck                = 500 * time.Millisecond
	)
	var (
		queue   [queueSize][mtu]byte
		lenBuf  [queueSize]int
		retries [queueSize]int
	)
	watch, lastCheck := NewLinkWatch(sta.link, true), time.Now()
	markSent := func(i int) {
		lenBuf[i] = 0
		retries[i] = 0
	}
	for !sta.stopped() {
		stallRx := true
		gotPacket, err := sta.dev.PollOne()
		if err != nil {
			sta.logger.Error("poll error", slog.String("err", err.Error()))
		}
		// follow the association state reported by the driver
		if time.Since(lastCheck) > linkCheck {
			lastCheck = time.Now()
			watch.Update(sta.dev.IsLinkUp())
		}
		if gotPacket {
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			lenBuf[i], err = sta.stack.HandleEth(queue[i][:])
			if err != nil {
				sta.logger.Error("stack error", slog.String("err", err.Error()))
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		if lenBuf == [queueSize]int{} {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			if err := sta.dev.SendEth(queue[i][:n]); err != nil {
				// Queue packet for retransmission.
				if retries[i]++; retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					sta.logger.Error("dropped outgoing packet", slog.String("err", err.Error()))
				}
			} else {
				markSent(i)
			}
		}
	}
}

//----------------------------------------------------------------------

// picoSocket is a seqs TCP connection. Received data is moved from the
// connection into rx by the NIC loop.
type picoSocket struct {
	sta     *PicoStation
	conn    *stacks.TCPConn
	timeout time.Duration

	mu  sync.Mutex
	rx  bytes.Buffer
	tmp [tcpBufSize]byte
}

func (s *picoSocket) Connect(addr netip.AddrPort) error {
	const (
		connTimeout = 5 * time.Second
		tcpRetries  = 50
	)
	router := s.sta.dhcp.Router()
	if !router.IsValid() {
		return errNoRouter
	}
	routerhw, err := ResolveHardwareAddr(s.sta.stack, router)
	if err != nil {
		return err
	}
	// Connect to the server using a random local port.
	lport := uint16(rand.Intn(65535-1024) + 1024)
	if err = s.conn.OpenDialTCP(lport, routerhw, addr, seqs.Value(rand.Uint32())); err != nil {
		return err
	}
	retries := tcpRetries
	s.sta.active.Store(s)
	for s.conn.State() != seqs.StateEstablished && retries > 0 {
		time.Sleep(connTimeout / tcpRetries)
		retries--
	}
	if retries == 0 {
		return errEstablish
	}
	return nil
}

func (s *picoSocket) SetReadTimeout(d time.Duration) error {
	s.timeout = d
	return nil
}

// Read drained data; io.EOF once the peer has closed and rx is empty.
func (s *picoSocket) Read(buf []byte) (int, error) {
	var deadline time.Time
	if s.timeout > 0 {
		deadline = time.Now().Add(s.timeout)
	}
	for {
		// state first: all data is in rx before the FIN is processed
		st := s.conn.State()
		s.mu.Lock()
		n, _ := s.rx.Read(buf)
		s.mu.Unlock()
		if n > 0 {
			return n, nil
		}
		if st != seqs.StateEstablished {
			return 0, io.EOF
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, os.ErrDeadlineExceeded
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// drain buffered input of the connection into rx (called by the NIC loop).
func (s *picoSocket) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.conn.BufferedInput() > 0 {
		n, err := s.conn.Read(s.tmp[:])
		s.rx.Write(s.tmp[:n])
		if err != nil || n == 0 {
			return
		}
	}
}

func (s *picoSocket) Write(buf []byte) (int, error) {
	return s.conn.Write(buf)
}

// Close the connection, wait (a bit) for the closing handshake and
// release the local port.
func (s *picoSocket) Close() error {
	s.sta.active.CompareAndSwap(s, nil)
	port := s.conn.LocalPort()
	if port == 0 {
		return nil // never dialed
	}
	err := s.conn.Close()
	for range 10 {
		if s.conn.State().IsClosed() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	s.sta.stack.CloseTCP(port)
	return err
}

//----------------------------------------------------------------------

// ResolveHardwareAddr obtains the hardware address of the given IP address.
func ResolveHardwareAddr(stack *stacks.PortStack, ip netip.Addr) ([6]byte, error) {
	if !ip.IsValid() {
		return [6]byte{}, errors.New("invalid ip")
	}
	arpc := stack.ARP()
	arpc.Abort() // Remove any previous ARP requests.
	err := arpc.BeginResolve(ip)
	if err != nil {
		return [6]byte{}, err
	}
	time.Sleep(4 * time.Millisecond)
	// ARP exchanges should be fast, don't wait too long for them.
	const timeout = time.Second
	const maxretries = 20
	retries := maxretries
	for !arpc.IsDone() && retries > 0 {
		retries--
		if retries == 0 {
			return [6]byte{}, errors.New("arp timed out")
		}
		time.Sleep(timeout / maxretries)
	}
	_, hw, err := arpc.ResultAs6()
	return hw, err
}

// Resolver for DNS names using the DHCP-provided server.
type Resolver struct {
	stack     *stacks.PortStack
	dns       *stacks.DNSClient
	dnsaddr   netip.Addr
	dnshwaddr [6]byte
}

// NewResolver creates a resolver for the first DNS server obtained via DHCP.
func NewResolver(stack *stacks.PortStack, dhcpc *stacks.DHCPClient) (*Resolver, error) {
	dnsaddrs := dhcpc.DNSServers()
	if len(dnsaddrs) == 0 {
		return nil, errNoDNS
	}
	if !dnsaddrs[0].IsValid() {
		return nil, errors.New("dns addr obtained via DHCP not valid")
	}
	return &Resolver{
		stack:   stack,
		dns:     stacks.NewDNSClient(stack, dns.ClientPort),
		dnsaddr: dnsaddrs[0],
	}, nil
}

// LookupNetIP returns the IPv4 addresses of a host.
func (r *Resolver) LookupNetIP(host string) ([]netip.Addr, error) {
	name, err := dns.NewName(host)
	if err != nil {
		return nil, err
	}
	if r.dnshwaddr, err = ResolveHardwareAddr(r.stack, r.dnsaddr); err != nil {
		return nil, err
	}
	err = r.dns.StartResolve(stacks.DNSResolveConfig{
		Questions: []dns.Question{
			{
				Name:  name,
				Type:  dns.TypeA,
				Class: dns.ClassINET,
			},
		},
		DNSAddr:         r.dnsaddr,
		DNSHWAddr:       r.dnshwaddr,
		EnableRecursion: true,
	})
	if err != nil {
		return nil, err
	}
	time.Sleep(5 * time.Millisecond)
	retries := 100
	for retries > 0 {
		if done, _ := r.dns.IsDone(); done {
			break
		}
		retries--
		time.Sleep(20 * time.Millisecond)
	}
	done, rcode := r.dns.IsDone()
	if !done && retries == 0 {
		return nil, errors.New("dns lookup timed out")
	} else if rcode != dns.RCodeSuccess {
		return nil, errors.New("dns lookup failed:" + rcode.String())
	}
	answers := r.dns.Answers()
	var addrs []netip.Addr
	for i := range answers {
		if data := answers[i].RawData(); len(data) == 4 {
			addrs = append(addrs, netip.AddrFrom4([4]byte(data)))
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("no ipv4 dns answers")
	}
	return addrs, nil
}
