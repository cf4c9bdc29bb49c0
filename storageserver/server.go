// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package storageserver implements the in-process protocol front-ends
// (NFSv4-on-loopback and an iSCSI target) that present a mounted
// volume's sector I/O translator as a block device to a host
// filesystem driver. Exactly one front-end is selected per mounted
// volume; both share the Server contract and connection-accounting
// policy defined here.
package storageserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/sectorio"
)

// MaxClients bounds simultaneous connections per server instance;
// excess connections are accepted and immediately closed.
const MaxClients = 8

// MaxReadBufferBytes caps per-connection read buffering, the
// back-pressure limit every front-end enforces before treating a
// connection as malformed.
const MaxReadBufferBytes = 512 * 1024

// IdleTimeout is how long a connection may go without issuing a
// read or write before the idle detector closes it, freeing its
// MAX_CLIENTS slot. This is a supplemented feature: the block-device
// callback surface only promises byte counters the front-end can use
// for idle detection, not what the detector itself should do.
const IdleTimeout = 30 * time.Minute

// Callbacks is the block-device surface a front-end drives. It binds
// directly to a mounted volume's sector I/O translator; front-ends
// never touch a blockdev.Backend or xtsmode.Cascade directly.
type Callbacks struct {
	ReadSectors  func(ctx context.Context, offsetBytes, lenBytes uint64) ([]byte, error)
	WriteSectors func(ctx context.Context, offsetBytes uint64, plaintext []byte) error
	VolumeSize   func() uint64
	SectorSize   func() uint32
}

// CallbacksFromTranslator adapts a sectorio.Translator to Callbacks,
// the binding every real mount path uses; tests may construct
// Callbacks directly with stub functions instead.
func CallbacksFromTranslator(t *sectorio.Translator) Callbacks {
	return Callbacks{
		ReadSectors:  t.ReadSectors,
		WriteSectors: t.WriteSectors,
		VolumeSize:   t.VolumeSizeBytes,
		SectorSize:   t.SectorSizeBytes,
	}
}

// Handle identifies one running server instance, returned by Create
// and threaded through Run/Stop/Destroy. It is a random uuid that keys
// the front-end's own instance map and holds no reference to the
// mounted volume itself — dismount order depends on this not holding
// the volume alive past its own lifetime.
type Handle struct {
	id uuid.UUID
}

func (h Handle) String() string { return h.id.String() }

// Server is the common life cycle every front-end implements:
// Create binds resources (a listening socket) without starting to
// serve; Run blocks until Stop is requested or the last client
// disconnects after at least one was seen; Stop is safe to call
// concurrently with Run and idempotent; Destroy releases anything
// Create allocated and must be called exactly once after Run returns.
type Server interface {
	Create(cb Callbacks) (Handle, error)
	Run(h Handle) error
	Stop(h Handle) error
	Destroy(h Handle) error
}

// clientAccounting is embedded by both front-ends to share the
// MAX_CLIENTS policy and the "exit when the last client of at least
// one has disconnected" rule, rather than duplicating the bookkeeping
// in nfsv4.go and iscsi.go.
type clientAccounting struct {
	mu       sync.Mutex
	active   int
	everSeen bool
	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newClientAccounting() *clientAccounting {
	return &clientAccounting{stopCh: make(chan struct{})}
}

// admit reports whether a new connection may proceed, enforcing
// MaxClients. Rejected connections are the caller's to close.
func (c *clientAccounting) admit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active >= MaxClients {
		return false
	}
	c.active++
	c.everSeen = true
	return true
}

// release records a client disconnecting and reports whether run
// should now exit (at least one client seen, and none remain).
func (c *clientAccounting) release() (shouldExit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	return c.everSeen && c.active == 0
}

func (c *clientAccounting) requestStop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stopCh)
	})
}

func (c *clientAccounting) stopRequested() bool { return c.stopped.Load() }

// armIdleDeadline pushes conn's read deadline IdleTimeout into the
// future. Both front-ends call this before each blocking read in
// their serve loop, so a connection that issues no read/write op in
// that window has its next read fail with a timeout and the loop
// closes it, freeing its MaxClients slot — the idle-detection policy
// the byte counters were originally meant to drive, implemented
// directly against net.Conn's deadline instead of a side channel.
func armIdleDeadline(conn interface{ SetReadDeadline(time.Time) error }) error {
	return conn.SetReadDeadline(time.Now().Add(IdleTimeout))
}

func newHandle() Handle {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails if crypto/rand itself fails, which
		// this engine already treats as fatal everywhere else.
		panic(fmt.Sprintf("storageserver: uuid generation failed: %v", err))
	}
	return Handle{id: id}
}

func logger() *slog.Logger { return slog.Default().With("component", "storageserver") }

func closedErr(op string) error {
	return &tcerr.VolumeError{Op: op, Kind: tcerr.KindClosed}
}
