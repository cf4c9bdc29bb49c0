// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package primitives implements the closed set of block ciphers, hash
// functions, key-derivation functions and the process-wide CSPRNG pool
// that the rest of tcvol builds on. Algorithms are a fixed enum
// dispatched through a switch, not a plugin registry — a volume engine
// that speaks a fixed on-disk format has no business accepting an
// arbitrary cipher by name at runtime.
package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/Picocrypt/serpent"
	"golang.org/x/crypto/twofish"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
)

// Cipher identifies one of the three block ciphers this engine supports.
type Cipher int

const (
	CipherAES Cipher = iota
	CipherSerpent
	CipherTwofish
)

func (c Cipher) String() string {
	switch c {
	case CipherAES:
		return "aes"
	case CipherSerpent:
		return "serpent"
	case CipherTwofish:
		return "twofish"
	default:
		return "unknown"
	}
}

// KeySize is fixed at 32 bytes (256-bit) for every cipher this engine
// supports, matching the cascade's disjoint 64-byte key-slice allotment
// (32 data-key bytes + 32 tweak-key bytes per cipher).
const KeySize = 32

// BlockSize is fixed at 16 bytes for every cipher this engine supports.
const BlockSize = 16

// NewBlock constructs the raw block cipher for kind with the given
// 32-byte key. Callers that need XTS wrap the result themselves —
// this function never returns an XTS-mode cipher.Block, only the
// underlying block cipher.
func NewBlock(kind Cipher, key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, &tcerr.CryptoError{Op: "new_block", Kind: tcerr.KindUnknown,
			Err: fmt.Errorf("%s requires a %d-byte key, got %d", kind, KeySize, len(key))}
	}
	switch kind {
	case CipherAES:
		b, err := aes.NewCipher(key)
		if err != nil {
			return nil, &tcerr.CryptoError{Op: "new_block", Err: err}
		}
		return b, nil
	case CipherSerpent:
		b, err := serpent.NewCipher(key)
		if err != nil {
			return nil, &tcerr.CryptoError{Op: "new_block", Err: err}
		}
		return b, nil
	case CipherTwofish:
		b, err := twofish.NewCipher(key)
		if err != nil {
			return nil, &tcerr.CryptoError{Op: "new_block", Err: err}
		}
		return b, nil
	default:
		return nil, &tcerr.CryptoError{Op: "new_block", Err: fmt.Errorf("unsupported cipher kind %d", kind)}
	}
}

// ParseCipherChain parses a dash-separated cascade name such as
// "aes-twofish-serpent" into an ordered list of Cipher values, the
// same ordering a Cascade applies its stages in.
func ParseCipherChain(names []string) ([]Cipher, error) {
	if len(names) == 0 || len(names) > 3 {
		return nil, fmt.Errorf("cascade must have 1-3 ciphers, got %d", len(names))
	}
	out := make([]Cipher, 0, len(names))
	for _, n := range names {
		switch n {
		case "aes":
			out = append(out, CipherAES)
		case "serpent":
			out = append(out, CipherSerpent)
		case "twofish":
			out = append(out, CipherTwofish)
		default:
			return nil, fmt.Errorf("unknown cipher %q", n)
		}
	}
	return out, nil
}
