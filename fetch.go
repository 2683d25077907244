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
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// Fetch step failures
var (
	ErrLookup  = errors.New("DNS lookup failed")
	ErrSocket  = errors.New("failed to allocate socket")
	ErrConnect = errors.New("socket connect failed")
	ErrSend    = errors.New("socket send failed")
	ErrTimeout = errors.New("failed to set socket receiving timeout")
)

// fetch defaults
const (
	DefaultShortDelay  = time.Second
	DefaultLongDelay   = 4 * time.Second
	DefaultRecvTimeout = 5 * time.Second
	DefaultChunkSize   = 64
)

// FetchConfig for a Fetcher
type FetchConfig struct {
	Target Target

	// ShortDelay is the pause after lookup and socket failures,
	// LongDelay the pause after connect, send and timeout failures.
	ShortDelay time.Duration
	LongDelay  time.Duration

	// RecvTimeout per socket read
	RecvTimeout time.Duration

	// ChunkSize is the size of the receive buffer; a read
	// returns at most ChunkSize-1 bytes.
	ChunkSize int

	Logger *slog.Logger
	Status *Status // optional status display
}

// Fetcher does one HTTP GET request over a WiFi station and stops the
// station when done. All failures are retried from scratch.
type Fetcher struct {
	cfg  FetchConfig
	link *Link
	sta  Station
	out  io.Writer
	req  []byte

	attempts atomic.Int32 // number of started attempts
	lastMtx  sync.Mutex
	last     error // last step failure
}

// NewFetcher creates a fetcher that writes the response to out.
func NewFetcher(cfg FetchConfig, link *Link, sta Station, out io.Writer) *Fetcher {
	if cfg.ShortDelay <= 0 {
		cfg.ShortDelay = DefaultShortDelay
	}
	if cfg.LongDelay <= 0 {
		cfg.LongDelay = DefaultLongDelay
	}
	if cfg.RecvTimeout <= 0 {
		cfg.RecvTimeout = DefaultRecvTimeout
	}
	if cfg.ChunkSize < 2 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	cfg.Target = cfg.Target.withDefaults()
	return &Fetcher{
		cfg:  cfg,
		link: link,
		sta:  sta,
		out:  out,
		req:  cfg.Target.Request(),
	}
}

// Attempts returns the number of started fetch attempts.
func (f *Fetcher) Attempts() int {
	return int(f.attempts.Load())
}

// LastError returns the last step failure (or nil).
func (f *Fetcher) LastError() error {
	f.lastMtx.Lock()
	defer f.lastMtx.Unlock()
	return f.last
}

// Run the fetch loop until the response is received (or the context is
// cancelled). Returns the number of response bytes written.
func (f *Fetcher) Run(ctx context.Context) (n int64, err error) {
	log := f.cfg.Logger
	for {
		// wait for connection event
		if err = f.link.Wait(ctx); err != nil {
			return
		}
		log.Info("Connected to AP")
		f.attempts.Add(1)

		var delay time.Duration
		n, delay, err = f.fetch(ctx)
		if ctx.Err() != nil {
			// cancelled: the caller keeps the station
			return 0, ctx.Err()
		}
		if err == nil {
			break
		}
		f.lastMtx.Lock()
		f.last = err
		f.lastMtx.Unlock()
		log.Error("fetch failed", slog.String("err", err.Error()), slog.Duration("retry", delay))
		if err = sleep(ctx, delay); err != nil {
			return
		}
	}
	log.Info("deleting task and disconnecting")
	err = f.sta.Stop()
	return
}

// fetch performs a single attempt. On failure it returns the delay
// before the next attempt.
func (f *Fetcher) fetch(ctx context.Context) (n int64, delay time.Duration, err error) {
	log := f.cfg.Logger
	tgt := f.cfg.Target

	// DNS lookup
	addrs, err := f.sta.Lookup(tgt.Host)
	if err == nil && len(addrs) == 0 {
		err = errors.New("no addresses")
	}
	if err != nil {
		f.cfg.Status.Set(StatDNS, 3)
		return 0, f.cfg.ShortDelay, fmt.Errorf("%w: %w", ErrLookup, err)
	}
	addr := netip.AddrPortFrom(addrs[0], tgt.Port)
	log.Info("DNS lookup succeeded", slog.String("ip", addrs[0].String()))
	if err = ctx.Err(); err != nil {
		return
	}

	// socket allocation
	sock, err := f.sta.Socket()
	if err != nil {
		f.cfg.Status.Set(StatSOCK, 3)
		return 0, f.cfg.ShortDelay, fmt.Errorf("%w: %w", ErrSocket, err)
	}
	defer sock.Close()
	log.Debug("... allocated socket")
	if err = ctx.Err(); err != nil {
		return
	}

	// connect to server
	if err = sock.Connect(addr); err != nil {
		f.cfg.Status.Set(StatCONN, 3)
		return 0, f.cfg.LongDelay, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	log.Info("... connected to socket", slog.String("addr", addr.String()))
	if err = ctx.Err(); err != nil {
		return
	}

	// send request
	if _, err = sock.Write(f.req); err != nil {
		f.cfg.Status.Set(StatSEND, 3)
		return 0, f.cfg.LongDelay, fmt.Errorf("%w: %w", ErrSend, err)
	}
	log.Debug("... socket send success")
	if err = ctx.Err(); err != nil {
		return
	}

	// set receiving timeout
	if err = sock.SetReadTimeout(f.cfg.RecvTimeout); err != nil {
		f.cfg.Status.Set(StatRECV, 3)
		return 0, f.cfg.LongDelay, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	log.Debug("... set socket receiving timeout success")
	if err = ctx.Err(); err != nil {
		return
	}
	log.Info("HTTP response:")

	// read response until the server closes or the timeout hits
	buf := make([]byte, f.cfg.ChunkSize)
	for {
		if err = ctx.Err(); err != nil {
			return
		}
		r, rerr := sock.Read(buf[:len(buf)-1])
		if r > 0 {
			w, werr := f.out.Write(buf[:r])
			n += int64(w)
			if werr != nil {
				log.Error("can't write response", slog.String("err", werr.Error()))
				break
			}
		}
		if r <= 0 || rerr != nil {
			if rerr != nil && !errors.Is(rerr, io.EOF) {
				log.Debug("read ended", slog.String("err", rerr.Error()))
			}
			break
		}
	}
	log.Info("... done reading from socket", slog.Int64("bytes", n))
	return n, 0, nil
}

// sleep for the given time unless the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
