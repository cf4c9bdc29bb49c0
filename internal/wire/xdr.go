// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the byte-level framing the storage-server
// front-ends need: RFC 4506 XDR encode/decode primitives and RFC 5531
// ONC-RPC record marking for NFSv4, and the fixed-length PDU header
// layout RFC 7143 defines for iSCSI. Neither protocol's full op set
// lives here — storageserver owns dispatch; this package only turns
// bytes into the fixed-size fields each op needs and back.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Decoder reads XDR primitives from a fixed byte slice, advancing an
// internal cursor. All XDR integers are 4-byte big-endian; opaque data
// and strings are padded to a 4-byte boundary.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Remaining reports how many undecoded bytes are left.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

func (d *Decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return fmt.Errorf("wire: xdr decode short read: need %d, have %d", n, d.Remaining())
	}
	return nil
}

// Uint32 decodes one 4-byte big-endian unsigned integer.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

// Uint64 decodes two consecutive XDR unsigned integers as one 8-byte
// big-endian value, per RFC 4506's hyper type.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

// Opaque decodes a length-prefixed, zero-padded-to-4-byte byte string.
func (d *Decoder) Opaque() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	d.pos += padLen(int(n))
	return out, nil
}

// FixedOpaque decodes exactly n bytes of unpadded opaque data (used for
// NFSv4 filehandles and other fixed-width fields).
func (d *Decoder) FixedOpaque(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+n])
	d.pos += n
	return out, nil
}

// String decodes an XDR string the same way as Opaque.
func (d *Decoder) String() (string, error) {
	b, err := d.Opaque()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func padLen(n int) int {
	if r := n % 4; r != 0 {
		return 4 - r
	}
	return 0
}

// Encoder appends XDR primitives to a growing byte slice.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) Uint32(v uint32) *Encoder {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *Encoder) Uint64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *Encoder) Opaque(p []byte) *Encoder {
	e.Uint32(uint32(len(p)))
	e.buf = append(e.buf, p...)
	if pad := padLen(len(p)); pad > 0 {
		e.buf = append(e.buf, make([]byte, pad)...)
	}
	return e
}

func (e *Encoder) FixedOpaque(p []byte) *Encoder {
	e.buf = append(e.buf, p...)
	return e
}

func (e *Encoder) String(s string) *Encoder {
	return e.Opaque([]byte(s))
}
