// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"os"

	"github.com/jeremyhahn/tcvol/blockdev"
	"github.com/jeremyhahn/tcvol/header"
	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/primitives"
)

// WipeHeaders overwrites all four header slots (primary/backup ×
// outer/hidden) with fresh CSPRNG output, so an aborted creation or an
// explicit header-destroy request leaves no recoverable salt or
// ciphertext behind. path must already exist and be at least
// HeaderAreaSize (131072) bytes long, the smallest size for which the
// two backup offsets fall inside the container.
func WipeHeaders(path string) error {
	backend, err := blockdev.OpenFile(path, false, header.SlotSize)
	if err != nil {
		return err
	}
	defer backend.Close()

	totalSize, err := backend.Size()
	if err != nil {
		return err
	}

	offsets := []uint64{
		PrimaryOuterOffset,
		PrimaryHiddenOffset,
		BackupOuterOffset(uint64(totalSize)),
		BackupHiddenOffset(uint64(totalSize)),
	}

	var buf [header.SlotSize]byte
	for _, off := range offsets {
		if err := primitives.Global().Get(buf[:]); err != nil {
			return err
		}
		if _, err := backend.WriteAt(buf[:], int64(off)); err != nil {
			return err
		}
	}
	return nil
}

// AbortCreate cleans up a partial Create: for a freshly allocated file
// container the file is unlinked outright; callers that created on a
// raw device should call WipeHeaders instead, since the device itself
// cannot be unlinked.
func AbortCreate(path string, isDevice bool) error {
	if isDevice {
		return WipeHeaders(path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &tcerr.VolumeError{Path: path, Op: "abort_create", Kind: tcerr.KindIO, Err: err}
	}
	return nil
}
