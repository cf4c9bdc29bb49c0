// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package storageserver

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/internal/wire"
)

// ISCSI PDU opcodes this front-end's framing layer handles, below the
// SCSI command layer (see iscsi_ops.go for the CDB set).
const (
	iscsiOpNOPOut         = 0x00
	iscsiOpSCSICommand    = 0x01
	iscsiOpLoginRequest   = 0x03
	iscsiOpLogoutRequest  = 0x06
	iscsiOpDataOut        = 0x05
	iscsiOpNOPIn          = 0x20
	iscsiOpSCSIResponse   = 0x21
	iscsiOpDataIn         = 0x25
	iscsiOpLoginResponse  = 0x23
	iscsiOpLogoutResponse = 0x26
)

// ISCSIPort is the well-known iSCSI target port every implementation
// binds, per RFC 7143.
const ISCSIPort = 3260

var _ Server = (*ISCSITarget)(nil)

// ISCSITarget binds TCP 127.0.0.1:3260 and exports a single LUN backed
// by a mounted volume's sector I/O translator.
type ISCSITarget struct {
	mu      sync.Mutex
	handles map[Handle]*iscsiInstance
}

type iscsiInstance struct {
	listener *net.TCPListener
	acct     *clientAccounting
	cb       Callbacks
	wg       sync.WaitGroup
}

func NewISCSITarget() *ISCSITarget {
	return &ISCSITarget{handles: make(map[Handle]*iscsiInstance)}
}

// Create binds the listener. The port is fixed at ISCSIPort per the
// iSCSI convention that initiators expect to find a target there; a
// test harness that needs an ephemeral port should bind 127.0.0.1:0
// against a raw net.Listener instead of going through this type.
func (s *ISCSITarget) Create(cb Callbacks) (Handle, error) {
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: ISCSIPort}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return Handle{}, &tcerr.VolumeError{Op: "iscsi_create", Kind: tcerr.KindIO, Err: err}
	}
	h := newHandle()
	s.mu.Lock()
	s.handles[h] = &iscsiInstance{listener: ln, acct: newClientAccounting(), cb: cb}
	s.mu.Unlock()
	return h, nil
}

func (s *ISCSITarget) Run(h Handle) error {
	s.mu.Lock()
	inst, ok := s.handles[h]
	s.mu.Unlock()
	if !ok {
		return closedErr("iscsi_run")
	}

	log := logger().With("front_end", "iscsi", "addr", inst.listener.Addr().String())
	log.Info("listening")

	go func() {
		<-inst.acct.stopCh
		_ = inst.listener.Close()
	}()

	for {
		conn, err := inst.listener.AcceptTCP()
		if err != nil {
			if inst.acct.stopRequested() || errors.Is(err, net.ErrClosed) {
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

func (s *ISCSITarget) Stop(h Handle) error {
	s.mu.Lock()
	inst, ok := s.handles[h]
	s.mu.Unlock()
	if !ok {
		return closedErr("iscsi_stop")
	}
	inst.acct.requestStop()
	return nil
}

func (s *ISCSITarget) Destroy(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[h]; !ok {
		return closedErr("iscsi_destroy")
	}
	delete(s.handles, h)
	return nil
}

func (s *ISCSITarget) serveConn(conn *net.TCPConn, inst *iscsiInstance, log *slog.Logger) {
	defer func() { _ = conn.Close() }()
	r := bufio.NewReaderSize(conn, MaxReadBufferBytes)

	if err := negotiateLogin(r, conn, log); err != nil {
		log.Warn("login negotiation failed", "error", err)
		return
	}

	ctx := context.Background()
	for {
		if inst.acct.stopRequested() {
			return
		}
		if err := armIdleDeadline(conn); err != nil {
			return
		}
		pdu, err := wire.ReadPDU(r)
		if err != nil {
			return
		}
		switch pdu.Opcode {
		case iscsiOpNOPOut:
			if err := respondNOPIn(conn, pdu); err != nil {
				return
			}
		case iscsiOpLogoutRequest:
			_ = respondLogout(conn, pdu)
			return
		case iscsiOpSCSICommand:
			if err := handleSCSICommand(ctx, r, conn, inst.cb, pdu); err != nil {
				return
			}
		default:
			// Malformed or unexpected framing for this server's
			// accepted opcode set closes only this connection.
			return
		}
	}
}

func negotiateLogin(r *bufio.Reader, w *net.TCPConn, log *slog.Logger) error {
	pdu, err := wire.ReadPDU(r)
	if err != nil {
		return err
	}
	if pdu.Opcode != iscsiOpLoginRequest {
		return fmt.Errorf("storageserver: expected iscsi login request, got opcode 0x%02x", pdu.Opcode)
	}
	offered := negotiateFixedParameters(pdu.Data)
	log.Debug("iscsi login offered parameters", "initiator_alias", offered["InitiatorAlias"], "target_name", offered["TargetName"])

	resp := make([]byte, wire.BasicHeaderSegmentLen)
	resp[0] = iscsiOpLoginResponse
	resp[1] = 0x03 // T=1 (transit), CSG=1, NSG=3 (full feature phase)
	respData := []byte("HeaderDigest=None\x00DataDigest=None\x00" +
		"AuthMethod=None\x00InitialR2T=Yes\x00ImmediateData=No\x00" +
		"MaxRecvDataSegmentLength=262144\x00MaxBurstLength=262144\x00")
	putDataSegLen(resp, len(respData))
	return wire.WritePDU(w, resp, respData)
}

// putDataSegLen writes n into a response BHS's 3-byte big-endian data
// segment length field (RFC 7143 §2.2, bytes 5-7). wire.WritePDU sends
// the BHS as-is, so every response handler must set this before
// calling it or the initiator sees a zero-length data segment.
func putDataSegLen(bhs []byte, n int) {
	bhs[5] = byte(n >> 16)
	bhs[6] = byte(n >> 8)
	bhs[7] = byte(n)
}

// negotiateFixedParameters parses the initiator's offered key=value
// pairs. This target always answers with the fixed parameter set RFC
// 7143 loopback deployments commonly use (no digests, no auth), so the
// offered values are only inspected for diagnostics, never varied.
func negotiateFixedParameters(data []byte) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimRight(string(data), "\x00"), "\x00") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func respondNOPIn(w *net.TCPConn, req *wire.PDU) error {
	resp := make([]byte, wire.BasicHeaderSegmentLen)
	resp[0] = iscsiOpNOPIn
	binary.BigEndian.PutUint64(resp[8:16], req.LUN)
	binary.BigEndian.PutUint32(resp[16:20], req.InitiatorTTT)
	return wire.WritePDU(w, resp, nil)
}

func respondLogout(w *net.TCPConn, req *wire.PDU) error {
	resp := make([]byte, wire.BasicHeaderSegmentLen)
	resp[0] = iscsiOpLogoutResponse
	return wire.WritePDU(w, resp, nil)
}

// handleSCSICommand extracts the CDB from the command PDU, collects
// any Data-Out PDUs a WRITE needs, executes it, and sends the SCSI
// Response (with a Data-In PDU first when the command produced read
// data).
func handleSCSICommand(ctx context.Context, r *bufio.Reader, w *net.TCPConn, cb Callbacks, pdu *wire.PDU) error {
	if len(pdu.Raw) < wire.BasicHeaderSegmentLen {
		return fmt.Errorf("storageserver: truncated iscsi command bhs")
	}
	cdb := pdu.Raw[32:48]
	expectedDataOut := binary.BigEndian.Uint32(pdu.Raw[20:24])
	final := pdu.Flags&0x80 != 0

	dataOut := append([]byte{}, pdu.Data...)
	for !final && uint32(len(dataOut)) < expectedDataOut {
		next, err := wire.ReadPDU(r)
		if err != nil {
			return err
		}
		if next.Opcode != iscsiOpDataOut {
			return fmt.Errorf("storageserver: expected iscsi data-out, got opcode 0x%02x", next.Opcode)
		}
		dataOut = append(dataOut, next.Data...)
		final = next.Flags&0x80 != 0
	}

	result := dispatchCDB(ctx, cb, cdb, dataOut)

	if len(result.dataIn) > 0 {
		din := make([]byte, wire.BasicHeaderSegmentLen)
		din[0] = iscsiOpDataIn
		din[1] = 0x81 // F=1, S=1 (status follows in this PDU's status byte)
		din[3] = result.status
		putDataSegLen(din, len(result.dataIn))
		binary.BigEndian.PutUint64(din[8:16], pdu.LUN)
		binary.BigEndian.PutUint32(din[16:20], pdu.InitiatorTTT)
		if err := wire.WritePDU(w, din, result.dataIn); err != nil {
			return err
		}
		return nil
	}

	resp := make([]byte, wire.BasicHeaderSegmentLen)
	resp[0] = iscsiOpSCSIResponse
	resp[1] = 0x80 // F=1
	resp[2] = 0x00 // response: command completed at target
	resp[3] = result.status
	binary.BigEndian.PutUint32(resp[16:20], pdu.InitiatorTTT)

	// On CHECK CONDITION the data segment is a 2-byte big-endian
	// SenseLength followed by the fixed-format sense data itself.
	var senseData []byte
	if result.status == scsiStatusCheckCondition {
		sense := buildFixedSenseData(result.senseKey, result.asc)
		senseData = make([]byte, 2+len(sense))
		binary.BigEndian.PutUint16(senseData[0:2], uint16(len(sense)))
		copy(senseData[2:], sense)
	}
	putDataSegLen(resp, len(senseData))
	return wire.WritePDU(w, resp, senseData)
}
