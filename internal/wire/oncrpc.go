// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxRecordSize bounds a single ONC-RPC record so a malformed or
// hostile length prefix cannot force an unbounded allocation.
const MaxRecordSize = 512 * 1024

// ReadRecord reads one RFC 5531 record-marked message: a 4-byte
// fragment header (top bit = last-fragment flag, low 31 bits = length)
// followed by that many bytes, repeated until the last-fragment flag is
// set. Fragments are concatenated in order.
func ReadRecord(r io.Reader) ([]byte, error) {
	var out []byte
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		v := binary.BigEndian.Uint32(hdr[:])
		last := v&0x80000000 != 0
		length := v &^ 0x80000000
		if int(length) > MaxRecordSize || len(out)+int(length) > MaxRecordSize {
			return nil, fmt.Errorf("wire: oncrpc record exceeds %d bytes", MaxRecordSize)
		}
		frag := make([]byte, length)
		if _, err := io.ReadFull(r, frag); err != nil {
			return nil, err
		}
		out = append(out, frag...)
		if last {
			return out, nil
		}
	}
}

// WriteRecord writes payload as a single, final RFC 5531 fragment.
func WriteRecord(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload))|0x80000000)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// RPC message types and reply statuses this front-end needs to produce
// a well-formed ONC-RPC reply envelope (RFC 5531 §9).
const (
	MsgTypeCall  uint32 = 0
	MsgTypeReply uint32 = 1

	ReplyStatusAccepted uint32 = 0
	ReplyStatusDenied   uint32 = 1

	AcceptStatusSuccess     uint32 = 0
	AcceptStatusProgUnavail uint32 = 1
	AcceptStatusProcUnavail uint32 = 3
	AcceptStatusGarbageArgs uint32 = 4
)

// CallHeader is the fixed portion of an RPC call message this
// front-end cares about: the fields needed to route and acknowledge a
// call, not the full generic RPC credential/verifier union.
type CallHeader struct {
	XID     uint32
	Program uint32
	Version uint32
	Proc    uint32
}

// DecodeCallHeader reads the XID, message type, and call body up
// through proc, skipping the opaque_auth credential and verifier
// whatever their flavor: no flavor is checked or rejected, in keeping
// with the loopback trust model.
func DecodeCallHeader(d *Decoder) (CallHeader, error) {
	var h CallHeader
	xid, err := d.Uint32()
	if err != nil {
		return h, err
	}
	msgType, err := d.Uint32()
	if err != nil {
		return h, err
	}
	if msgType != MsgTypeCall {
		return h, fmt.Errorf("wire: oncrpc expected CALL, got msg_type %d", msgType)
	}
	if _, err := d.Uint32(); err != nil { // rpcvers
		return h, err
	}
	prog, err := d.Uint32()
	if err != nil {
		return h, err
	}
	vers, err := d.Uint32()
	if err != nil {
		return h, err
	}
	proc, err := d.Uint32()
	if err != nil {
		return h, err
	}
	if err := skipOpaqueAuth(d); err != nil { // cred
		return h, err
	}
	if err := skipOpaqueAuth(d); err != nil { // verf
		return h, err
	}
	h.XID, h.Program, h.Version, h.Proc = xid, prog, vers, proc
	return h, nil
}

func skipOpaqueAuth(d *Decoder) error {
	if _, err := d.Uint32(); err != nil { // flavor
		return err
	}
	if _, err := d.Opaque(); err != nil { // body
		return err
	}
	return nil
}

// EncodeAcceptedReply writes the fixed reply envelope (XID, REPLY,
// MSG_ACCEPTED, AUTH_NONE verifier, accept status) that every
// successful or per-op-failed response shares; callers append the
// procedure-specific result body afterward.
func EncodeAcceptedReply(xid uint32, acceptStatus uint32) *Encoder {
	e := NewEncoder()
	e.Uint32(xid)
	e.Uint32(MsgTypeReply)
	e.Uint32(ReplyStatusAccepted)
	e.Uint32(0) // verifier flavor AUTH_NONE
	e.Uint32(0) // verifier length
	e.Uint32(acceptStatus)
	return e
}
