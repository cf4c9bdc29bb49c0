// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package selftest

import "github.com/jeremyhahn/tcvol/primitives"

func mustHex(s string) []byte {
	out := make([]byte, len(s)/2)
	for i := range out {
		out[i] = hexByte(s[2*i])<<4 | hexByte(s[2*i+1])
	}
	return out
}

func hexByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

type blockCipherVector struct {
	cipher              primitives.Cipher
	key                 []byte
	plaintext           []byte
	publishedCiphertext []byte // nil when no external known-answer vector is used; round-trip only
}

// blockCipherVectors holds one single-block vector per registered
// cipher. The AES-256 entry is NIST SP 800-38A F.1.5 (ECB-AES256,
// first block): the only vector here traceable to a public standard;
// Serpent and Twofish get a fixed-input deterministic round-trip check
// instead of a claimed published ciphertext.
var blockCipherVectors = []blockCipherVector{
	{
		cipher:              primitives.CipherAES,
		key:                 mustHex("603deb1015ca71be2b73aef0857d77811f352c073b6108d72d9810a30914dff"),
		plaintext:           mustHex("6bc1bee22e409f96e93d7e117393172a"),
		publishedCiphertext: mustHex("f3eed1bdb5d2a03c064b5a7e3db181f8"),
	},
	{
		cipher:    primitives.CipherSerpent,
		key:       make([]byte, 32),
		plaintext: mustHex("00112233445566778899aabbccddeeff"),
	},
	{
		cipher:    primitives.CipherTwofish,
		key:       make([]byte, 32),
		plaintext: mustHex("00112233445566778899aabbccddeeff"),
	},
}

type hashVector struct {
	kind            primitives.Hash
	message         []byte
	publishedDigest []byte // nil when only the declared digest length is checked
}

// hashVectors holds one vector per registered hash. SHA-512("abc") and
// RIPEMD-160("abc") are both widely published reference vectors;
// Whirlpool and Streebog get a length-only check since this engine
// does not carry a second, independently-sourced implementation to
// cross-check an exact digest against.
var hashVectors = []hashVector{
	{
		kind:            primitives.HashSHA512,
		message:         []byte("abc"),
		publishedDigest: mustHex("ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49"),
	},
	{
		kind:            primitives.HashRIPEMD160,
		message:         []byte("abc"),
		publishedDigest: mustHex("8eb208f7e05d987a9b044a8e98c6b087f15a0bfc"),
	},
	{
		kind:    primitives.HashWhirlpool,
		message: []byte("abc"),
	},
	{
		kind:    primitives.HashStreebog512,
		message: []byte("abc"),
	},
}
