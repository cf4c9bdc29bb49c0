// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package keyfile implements the keyfile digest: folding an ordered
// list of keyfiles (and the direct, non-recursive children of any
// directories among them) into a 64-byte pool that gets XORed into the
// passphrase buffer before key derivation.
package keyfile

import (
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
)

// PoolSize is the size of the keyfile digest pool, and the number of
// leading passphrase bytes it gets XORed into.
const PoolSize = 64

// MaxBytesPerFile bounds how much of any one keyfile is read.
const MaxBytesPerFile = 1 << 20 // 1 MiB

// Ref is one keyfile reference: a path to a regular file or a
// directory, expanded to its direct children.
type Ref struct {
	Path string
}

// Digest folds refs into a 64-byte pool. An empty ref list is the
// identity transform and returns a zero pool.
func Digest(refs []Ref) ([PoolSize]byte, error) {
	var pool [PoolSize]byte
	if len(refs) == 0 {
		return pool, nil
	}

	files, err := expand(refs)
	if err != nil {
		return pool, err
	}

	offset := 0
	for _, path := range files {
		if err := foldFile(path, &pool, &offset); err != nil {
			return pool, err
		}
	}
	return pool, nil
}

// Mix XORs digest into the first PoolSize bytes of a copy of
// passphrase. A passphrase shorter than PoolSize is zero-padded to
// PoolSize bytes and the padded buffer is what is returned, so the
// result is always at least PoolSize bytes long; a longer passphrase
// keeps its length and its bytes past PoolSize are copied unchanged.
func Mix(passphrase []byte, digest [PoolSize]byte) []byte {
	out := make([]byte, len(passphrase))
	copy(out, passphrase)
	if len(out) < PoolSize {
		padded := make([]byte, PoolSize)
		copy(padded, out)
		out = padded
	}
	for i := 0; i < PoolSize; i++ {
		out[i] ^= digest[i]
	}
	return out
}

// expand resolves refs into a flat, deterministic file list: each
// directory contributes its direct (non-recursive) children, sorted
// lexicographically; regular files pass through unchanged, in the
// order given.
func expand(refs []Ref) ([]string, error) {
	var out []string
	for _, ref := range refs {
		info, err := os.Stat(ref.Path)
		if err != nil {
			return nil, &tcerr.VolumeError{Path: ref.Path, Op: "keyfile_stat", Kind: tcerr.KindIO, Err: err}
		}
		if !info.IsDir() {
			out = append(out, ref.Path)
			continue
		}
		entries, err := os.ReadDir(ref.Path)
		if err != nil {
			return nil, &tcerr.VolumeError{Path: ref.Path, Op: "keyfile_readdir", Kind: tcerr.KindIO, Err: err}
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, filepath.Join(ref.Path, n))
		}
	}
	return out, nil
}

// foldFile reads up to MaxBytesPerFile of path and folds it into pool
// starting at *offset, advancing *offset (mod PoolSize) as it goes.
func foldFile(path string, pool *[PoolSize]byte, offset *int) error {
	f, err := os.Open(path) //#nosec G304 -- keyfile paths are operator-supplied credentials, same trust level as a passphrase
	if err != nil {
		return &tcerr.VolumeError{Path: path, Op: "keyfile_open", Kind: tcerr.KindIO, Err: err}
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	crc := crc32.NewIEEE()
	total := 0

	for total < MaxBytesPerFile {
		n, rerr := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if total+n > MaxBytesPerFile {
				chunk = chunk[:MaxBytesPerFile-total]
			}
			crc.Write(chunk)
			for _, b := range chunk {
				pool[*offset] += b
				*offset = (*offset + 1) % PoolSize
			}
			total += len(chunk)
		}
		if rerr != nil {
			break
		}
	}

	sum := crc.Sum32()
	var sumBytes [4]byte
	sumBytes[0] = byte(sum >> 24)
	sumBytes[1] = byte(sum >> 16)
	sumBytes[2] = byte(sum >> 8)
	sumBytes[3] = byte(sum)
	for _, b := range sumBytes {
		pool[*offset] += b
		*offset = (*offset + 1) % PoolSize
	}
	var countBytes [8]byte
	c := uint64(total)
	for i := 7; i >= 0; i-- {
		countBytes[i] = byte(c)
		c >>= 8
	}
	for _, b := range countBytes {
		pool[*offset] += b
		*offset = (*offset + 1) % PoolSize
	}

	return nil
}
