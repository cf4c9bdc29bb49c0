// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jeremyhahn/tcvol/keyfile"
	"github.com/jeremyhahn/tcvol/primitives"
)

// parseKeyfiles splits a comma-separated --keyfiles flag value into
// Refs. An empty string yields no refs, matching an outer-only mount.
func parseKeyfiles(csv string) []keyfile.Ref {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	refs := make([]keyfile.Ref, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			refs = append(refs, keyfile.Ref{Path: p})
		}
	}
	return refs
}

// parseCascade parses a dash-separated --encryption flag value such as
// "aes-twofish" into the Cipher chain Create expects.
func parseCascade(s string) ([]primitives.Cipher, error) {
	if s == "" {
		s = "aes"
	}
	return primitives.ParseCipherChain(strings.Split(s, "-"))
}

// parseKDF resolves a --hash flag value to the KDFDescriptor Create
// should derive the header key with. "argon2id" selects the standard
// Argon2id parameter set and "argon2id-strong" the stronger one;
// anything else must name one of the PBKDF2 hashes AllKDFs lists.
func parseKDF(s string) (primitives.KDFDescriptor, error) {
	switch s {
	case "", "sha512":
		return primitives.KDFDescriptor{Kind: primitives.KDFPBKDF2SHA512}, nil
	case "ripemd160":
		return primitives.KDFDescriptor{Kind: primitives.KDFPBKDF2RIPEMD160}, nil
	case "whirlpool":
		return primitives.KDFDescriptor{Kind: primitives.KDFPBKDF2Whirlpool}, nil
	case "streebog":
		return primitives.KDFDescriptor{Kind: primitives.KDFPBKDF2Streebog}, nil
	case "argon2id":
		return primitives.KDFDescriptor{Kind: primitives.KDFArgon2id, Argon2: primitives.Argon2Default}, nil
	case "argon2id-strong":
		return primitives.KDFDescriptor{Kind: primitives.KDFArgon2id, Argon2: primitives.Argon2Strong}, nil
	default:
		return primitives.KDFDescriptor{}, fmt.Errorf("unknown hash %q (want sha512, ripemd160, whirlpool, streebog, argon2id, argon2id-strong)", s)
	}
}

// parseSize parses a --size flag value, accepting a bare byte count or
// one with a case-insensitive K/M/G/T suffix (binary, i.e. K=1024).
func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	mult := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
	case 'm', 'M':
		mult = 1 << 20
	case 'g', 'G':
		mult = 1 << 30
	case 't', 'T':
		mult = 1 << 40
	}
	numeric := s
	if mult != 1 {
		numeric = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(numeric, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
