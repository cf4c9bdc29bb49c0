// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package xtsmode implements the sector-addressed XTS cipher mode and
// its generalization to a cascade of up to three ciphers, each applied
// in its own XTS instance with a disjoint slice of the master key
// material.
package xtsmode

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/xts"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/primitives"
)

// SectorSize is the fixed sector size this engine encrypts at, matching
// the volume's on-disk sector granularity.
const SectorSize = 512

// keySliceSize is the amount of master-key material consumed per
// cascade stage: 32 bytes of data key plus 32 bytes of tweak key, which
// is exactly what xts.NewCipher wants for a 256-bit-class cipher.
const keySliceSize = 2 * primitives.KeySize

// MasterKeyMaterialSize is the total key material a 3-cipher cascade
// can draw from. Cascades using fewer ciphers still only consume their
// own keySliceSize-sized slices; unused trailing bytes are never read.
const MasterKeyMaterialSize = 3 * keySliceSize

// stage is one cipher in the cascade, already wrapped in its own XTS
// instance.
type stage struct {
	kind primitives.Cipher
	xts  *xts.Cipher
}

// Cascade encrypts and decrypts 512-byte sectors by running each
// configured cipher through XTS in turn. Writes apply stages in the
// declared order; reads apply them in reverse. This mirrors composing
// cipher.Block values in onion layers, the same relationship a cascade
// of CBC ciphers would have, generalized to the tweakable XTS mode.
type Cascade struct {
	stages []stage
}

// NewCascade builds a Cascade from an ordered list of 1-3 cipher kinds
// and key material. keyMaterial must be at least len(kinds)*64 bytes
// long; only the leading len(kinds)*keySliceSize bytes are consumed,
// each cipher taking the next disjoint 64-byte slice in declared order,
// and any bytes past that are ignored.
func NewCascade(kinds []primitives.Cipher, keyMaterial []byte) (*Cascade, error) {
	if len(kinds) == 0 || len(kinds) > 3 {
		return nil, &tcerr.CryptoError{Op: "new_cascade", Err: fmt.Errorf("cascade must have 1-3 ciphers, got %d", len(kinds))}
	}
	need := len(kinds) * keySliceSize
	if len(keyMaterial) < need {
		return nil, &tcerr.CryptoError{Op: "new_cascade", Err: fmt.Errorf("need %d bytes of key material, got %d", need, len(keyMaterial))}
	}

	stages := make([]stage, 0, len(kinds))
	for i, kind := range kinds {
		slice := keyMaterial[i*keySliceSize : (i+1)*keySliceSize]
		var (
			x   *xts.Cipher
			err error
		)
		switch kind {
		case primitives.CipherAES:
			x, err = xts.NewCipher(aesBlock, slice)
		case primitives.CipherSerpent:
			x, err = xts.NewCipher(serpentBlock, slice)
		case primitives.CipherTwofish:
			x, err = xts.NewCipher(twofishBlock, slice)
		default:
			err = fmt.Errorf("unsupported cipher kind %d", kind)
		}
		if err != nil {
			return nil, &tcerr.CryptoError{Op: "new_cascade", Err: err}
		}
		stages = append(stages, stage{kind: kind, xts: x})
	}
	return &Cascade{stages: stages}, nil
}

func aesBlock(key []byte) (cipher.Block, error)     { return primitives.NewBlock(primitives.CipherAES, key) }
func serpentBlock(key []byte) (cipher.Block, error) { return primitives.NewBlock(primitives.CipherSerpent, key) }
func twofishBlock(key []byte) (cipher.Block, error) { return primitives.NewBlock(primitives.CipherTwofish, key) }

// EncryptSector encrypts src into dst, applying each cascade stage in
// declared order. dst and src must be the same length, a non-zero
// multiple of the 16-byte block size — normally exactly SectorSize,
// but the header codec also drives this with its 448-byte encrypted
// region (28 blocks), which is smaller than one data sector. dst and
// src may alias.
func (c *Cascade) EncryptSector(dst, src []byte, sectorNumber uint64) error {
	if err := checkBlockAligned(dst, src); err != nil {
		return err
	}
	buf := make([]byte, len(src))
	copy(buf, src)
	for _, s := range c.stages {
		s.xts.Encrypt(buf, buf, sectorNumber)
	}
	copy(dst, buf)
	return nil
}

// DecryptSector decrypts src into dst, applying cascade stages in
// reverse of the order EncryptSector used. Same length constraints as
// EncryptSector. dst and src may alias.
func (c *Cascade) DecryptSector(dst, src []byte, sectorNumber uint64) error {
	if err := checkBlockAligned(dst, src); err != nil {
		return err
	}
	buf := make([]byte, len(src))
	copy(buf, src)
	for i := len(c.stages) - 1; i >= 0; i-- {
		c.stages[i].xts.Decrypt(buf, buf, sectorNumber)
	}
	copy(dst, buf)
	return nil
}

func checkBlockAligned(dst, src []byte) error {
	if len(src) == 0 || len(src)%primitives.BlockSize != 0 {
		return &tcerr.CryptoError{Op: "xts", Err: fmt.Errorf("buffer length %d is not a non-zero multiple of %d", len(src), primitives.BlockSize)}
	}
	if len(dst) != len(src) {
		return &tcerr.CryptoError{Op: "xts", Err: fmt.Errorf("dst length %d does not match src length %d", len(dst), len(src))}
	}
	return nil
}

// Kinds returns the cipher kinds in cascade (write) order.
func (c *Cascade) Kinds() []primitives.Cipher {
	out := make([]primitives.Cipher, len(c.stages))
	for i, s := range c.stages {
		out[i] = s.kind
	}
	return out
}
