// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"fmt"
	"io"

	"github.com/jeremyhahn/tcvol/blockdev"
	"github.com/jeremyhahn/tcvol/header"
	"github.com/jeremyhahn/tcvol/internal/tcerr"
)

// backupMagic tags an external header-backup file so RestoreHeaders can
// reject a file that was never produced by BackupHeaders before it
// overwrites a container's header slots.
var backupMagic = [4]byte{'T', 'C', 'H', 'B'}

// headerSlotOffsets returns the four fixed header-slot positions, in
// the order BackupHeaders writes them and RestoreHeaders expects them
// back: outer primary, hidden primary, outer backup, hidden backup.
func headerSlotOffsets(totalSize uint64) [4]uint64 {
	return [4]uint64{
		PrimaryOuterOffset,
		PrimaryHiddenOffset,
		BackupOuterOffset(totalSize),
		BackupHiddenOffset(totalSize),
	}
}

// BackupHeaders copies all four header slots, still encrypted, from
// path into out. The slots are opaque ciphertext plus salt; no
// credentials are required or consulted, matching TrueCrypt's own
// header-backup operation, which never decrypts what it archives.
func BackupHeaders(path string, out io.Writer) error {
	backend, err := blockdev.OpenFile(path, true, header.SlotSize)
	if err != nil {
		return err
	}
	defer backend.Close()

	totalSize, err := backend.Size()
	if err != nil {
		return err
	}

	if _, err := out.Write(backupMagic[:]); err != nil {
		return &tcerr.VolumeError{Path: path, Op: "backup_headers", Kind: tcerr.KindIO, Err: err}
	}

	var slot [header.SlotSize]byte
	for _, off := range headerSlotOffsets(uint64(totalSize)) {
		if _, err := backend.ReadAt(slot[:], int64(off)); err != nil {
			return err
		}
		if _, err := out.Write(slot[:]); err != nil {
			return &tcerr.VolumeError{Path: path, Op: "backup_headers", Kind: tcerr.KindIO, Err: err}
		}
	}
	return nil
}

// RestoreHeaders writes header slots back onto path. When internal is
// true, src is ignored and the container's own two backup slots
// (outer, hidden) are copied over its two primary slots — the
// "restore from the container's internal backup" operation a corrupted
// primary header needs. When internal is false, src must be a stream
// previously produced by BackupHeaders, and all four of its slots are
// written back verbatim.
func RestoreHeaders(path string, src io.Reader, internal bool) error {
	backend, err := blockdev.OpenFile(path, false, header.SlotSize)
	if err != nil {
		return err
	}
	defer backend.Close()

	totalSize, err := backend.Size()
	if err != nil {
		return err
	}
	offsets := headerSlotOffsets(uint64(totalSize))

	if internal {
		return restoreFromInternalBackup(backend, offsets)
	}
	return restoreFromExternalFile(backend, offsets, src)
}

func restoreFromInternalBackup(backend blockdev.Backend, offsets [4]uint64) error {
	var slot [header.SlotSize]byte
	// offsets: [outerPrimary, hiddenPrimary, outerBackup, hiddenBackup]
	pairs := [2][2]uint64{{offsets[2], offsets[0]}, {offsets[3], offsets[1]}}
	for _, pair := range pairs {
		backupOff, primaryOff := pair[0], pair[1]
		if _, err := backend.ReadAt(slot[:], int64(backupOff)); err != nil {
			return err
		}
		if _, err := backend.WriteAt(slot[:], int64(primaryOff)); err != nil {
			return err
		}
	}
	return nil
}

func restoreFromExternalFile(backend blockdev.Backend, offsets [4]uint64, src io.Reader) error {
	var magic [4]byte
	if _, err := io.ReadFull(src, magic[:]); err != nil {
		return &tcerr.VolumeError{Op: "restore_headers", Kind: tcerr.KindBadMagic, Err: err}
	}
	if magic != backupMagic {
		return &tcerr.VolumeError{Op: "restore_headers", Kind: tcerr.KindBadMagic,
			Err: fmt.Errorf("not a tcvol header backup file")}
	}

	var slot [header.SlotSize]byte
	for _, off := range offsets {
		if _, err := io.ReadFull(src, slot[:]); err != nil {
			return &tcerr.VolumeError{Op: "restore_headers", Kind: tcerr.KindIO, Err: err}
		}
		if _, err := backend.WriteAt(slot[:], int64(off)); err != nil {
			return err
		}
	}
	return nil
}
