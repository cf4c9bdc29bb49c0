// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package storageserver

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/internal/wire"
)

// NFSv4 program/version and procedure numbers this server answers.
const (
	nfs4Program = 100003
	nfs4Version = 4

	procNull     = 0
	procCompound = 1
)

var _ Server = (*NFSv4Server)(nil)

// NFSv4Server binds a TCP socket on 127.0.0.1 at an ephemeral port and
// speaks the NFSv4 subset named in nfsv4_ops.go to the OS's own NFS
// kernel client. One instance serves exactly one MountedVolume.
type NFSv4Server struct {
	mu      sync.Mutex
	handles map[Handle]*nfs4Instance
}

type nfs4Instance struct {
	listener *net.TCPListener
	acct     *clientAccounting
	cb       Callbacks
	wg       sync.WaitGroup
}

// NewNFSv4Server constructs an idle NFSv4Server; Create must be called
// before Run.
func NewNFSv4Server() *NFSv4Server {
	return &NFSv4Server{handles: make(map[Handle]*nfs4Instance)}
}

// Create binds the loopback listener and returns a handle; it does not
// start serving. Addr on the returned handle tells the caller what
// ephemeral port the OS's NFS client should mount from.
func (s *NFSv4Server) Create(cb Callbacks) (Handle, error) {
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return Handle{}, &tcerr.VolumeError{Op: "nfsv4_create", Kind: tcerr.KindIO, Err: err}
	}
	h := newHandle()
	s.mu.Lock()
	s.handles[h] = &nfs4Instance{listener: ln, acct: newClientAccounting(), cb: cb}
	s.mu.Unlock()
	return h, nil
}

// Addr returns the bound loopback address (host:port) for h, used to
// build the 127.0.0.1:port:/ mount spec the host OS is handed.
func (s *NFSv4Server) Addr(h Handle) (string, error) {
	s.mu.Lock()
	inst, ok := s.handles[h]
	s.mu.Unlock()
	if !ok {
		return "", closedErr("nfsv4_addr")
	}
	return inst.listener.Addr().String(), nil
}

// Run accepts connections until Stop is called or, having seen at
// least one client, all clients have since disconnected.
func (s *NFSv4Server) Run(h Handle) error {
	s.mu.Lock()
	inst, ok := s.handles[h]
	s.mu.Unlock()
	if !ok {
		return closedErr("nfsv4_run")
	}

	log := logger().With("front_end", "nfsv4", "addr", inst.listener.Addr().String())
	log.Info("listening")

	go func() {
		<-inst.acct.stopCh
		_ = inst.listener.Close()
	}()

	for {
		conn, err := inst.listener.AcceptTCP()
		if err != nil {
			if inst.acct.stopRequested() {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			log.Warn("accept failed", "error", err)
			continue
		}
		if !inst.acct.admit() {
			_ = conn.Close()
			continue
		}
		inst.wg.Add(1)
		go func() {
			defer inst.wg.Done()
			s.serveConn(conn, inst, log)
			if inst.acct.release() {
				inst.acct.requestStop()
				_ = inst.listener.Close()
			}
		}()
	}
	inst.wg.Wait()
	log.Info("stopped")
	return nil
}

func (s *NFSv4Server) serveConn(conn *net.TCPConn, inst *nfs4Instance, log *slog.Logger) {
	defer func() { _ = conn.Close() }()
	session := newNFS4Session(inst.cb)
	r := bufio.NewReaderSize(conn, MaxReadBufferBytes)
	ctx := context.Background()

	for {
		if inst.acct.stopRequested() {
			return
		}
		if err := armIdleDeadline(conn); err != nil {
			return
		}
		msg, err := wire.ReadRecord(r)
		if err != nil {
			return
		}
		reply, ok := handleNFS4Message(ctx, session, msg)
		if !ok {
			log.Warn("malformed rpc message, closing connection")
			return
		}
		if err := wire.WriteRecord(conn, reply); err != nil {
			return
		}
	}
}

// handleNFS4Message decodes one RPC call and produces its reply
// envelope. A false second return means the framing itself was
// unrecoverable and the connection should close; a well-formed call
// that simply names an unsupported program/proc still returns true
// with a rejection reply.
func handleNFS4Message(ctx context.Context, session *nfs4Session, msg []byte) ([]byte, bool) {
	d := wire.NewDecoder(msg)
	call, err := wire.DecodeCallHeader(d)
	if err != nil {
		return nil, false
	}
	if call.Program != nfs4Program || call.Version != nfs4Version {
		e := wire.EncodeAcceptedReply(call.XID, wire.AcceptStatusProgUnavail)
		return e.Bytes(), true
	}
	switch call.Proc {
	case procNull:
		e := wire.EncodeAcceptedReply(call.XID, wire.AcceptStatusSuccess)
		return e.Bytes(), true
	case procCompound:
		if _, err := d.String(); err != nil { // tag
			return nil, false
		}
		if _, err := d.Uint32(); err != nil { // minorversion
			return nil, false
		}
		numops, err := d.Uint32()
		if err != nil {
			return nil, false
		}
		_, body := session.dispatchCompound(ctx, d, numops)
		e := wire.EncodeAcceptedReply(call.XID, wire.AcceptStatusSuccess)
		return append(e.Bytes(), body...), true
	default:
		e := wire.EncodeAcceptedReply(call.XID, wire.AcceptStatusProcUnavail)
		return e.Bytes(), true
	}
}

// Stop requests the server to shut down; safe to call concurrently
// with Run and more than once.
func (s *NFSv4Server) Stop(h Handle) error {
	s.mu.Lock()
	inst, ok := s.handles[h]
	s.mu.Unlock()
	if !ok {
		return closedErr("nfsv4_stop")
	}
	inst.acct.requestStop()
	return nil
}

// Destroy releases the handle's bookkeeping. Run must have returned
// first; Destroy does not itself close the listener (Run's exit path
// already did, via Stop's listener.Close or the client-accounting exit
// rule).
func (s *NFSv4Server) Destroy(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[h]; !ok {
		return closedErr("nfsv4_destroy")
	}
	delete(s.handles, h)
	return nil
}
