// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/jzelinskie/whirlpool"
	"github.com/pedroalbanese/gogost/gost34112012"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // legacy algorithm required for format compatibility

	"github.com/jeremyhahn/tcvol/internal/tcerr"
)

// Hash identifies one of the four digest algorithms this engine
// supports for keyfile digesting and KDF selection.
type Hash int

const (
	HashRIPEMD160 Hash = iota
	HashWhirlpool
	HashSHA512
	HashStreebog512
)

func (h Hash) String() string {
	switch h {
	case HashRIPEMD160:
		return "ripemd160"
	case HashWhirlpool:
		return "whirlpool"
	case HashSHA512:
		return "sha512"
	case HashStreebog512:
		return "streebog512"
	default:
		return "unknown"
	}
}

// Size returns the digest size in bytes for h.
func (h Hash) Size() int {
	switch h {
	case HashRIPEMD160:
		return ripemd160.Size
	case HashWhirlpool:
		return whirlpool.Size
	case HashSHA512:
		return sha512.Size
	case HashStreebog512:
		return gost34112012.Size512
	default:
		return 0
	}
}

// New constructs a streaming hash.Hash for kind.
func New(kind Hash) (hash.Hash, error) {
	switch kind {
	case HashRIPEMD160:
		return ripemd160.New(), nil
	case HashWhirlpool:
		return whirlpool.New(), nil
	case HashSHA512:
		return sha512.New(), nil
	case HashStreebog512:
		return gost34112012.New512(), nil
	default:
		return nil, &tcerr.CryptoError{Op: "new_hash", Err: fmt.Errorf("unsupported hash kind %d", kind)}
	}
}
