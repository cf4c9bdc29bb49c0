// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"context"

	"github.com/jeremyhahn/tcvol/blockdev"
	"github.com/jeremyhahn/tcvol/header"
	"github.com/jeremyhahn/tcvol/primitives"
	"github.com/jeremyhahn/tcvol/xtsmode"
)

// ChangePasswordParams parameterizes ChangePassword.
type ChangePasswordParams struct {
	Path             string
	Target           header.Target
	UseBackupHeaders bool
	Old              Credentials
	New              Credentials
	NewKDF           primitives.KDFDescriptor
}

// ChangePassword re-derives and re-encrypts one target's header slot
// pair (primary and backup) under a new passphrase/keyfile/KDF, without
// touching the master key or any other field of the parsed plaintext,
// Flags included. The slot is re-serialized from that Plaintext, so
// its reserved regions are written back as zero (header.Serialize
// always zeroes them); whatever they held before is not carried over.
// This matches the ChangePassword resolution in DESIGN.md's Open
// Questions.
func ChangePassword(ctx context.Context, p ChangePasswordParams) error {
	backend, err := blockdev.OpenFile(p.Path, false, header.SlotSize)
	if err != nil {
		return err
	}
	defer backend.Close()

	totalSize, err := backend.Size()
	if err != nil {
		return err
	}

	var primarySlot, backupSlot uint64
	if p.Target == header.TargetHidden {
		primarySlot = PrimaryHiddenOffset
		backupSlot = BackupHiddenOffset(uint64(totalSize))
	} else {
		primarySlot = PrimaryOuterOffset
		backupSlot = BackupOuterOffset(uint64(totalSize))
	}
	slotOffset := primarySlot
	if p.UseBackupHeaders {
		slotOffset = backupSlot
	}

	cand, err := tryOpenTarget(ctx, backend, slotOffset, p.Old, p.Target)
	if err != nil {
		return err
	}

	newSalt := make([]byte, header.SaltSize)
	if err := primitives.Global().Get(newSalt); err != nil {
		return err
	}

	newHeaderKey, err := deriveHeaderKey(p.NewKDF, mixPassphrase(p.New), newSalt, cand.cascade)
	if err != nil {
		return err
	}
	newCascade, err := xtsmode.NewCascade(cand.cascade, newHeaderKey)
	if err != nil {
		return err
	}

	wire := header.Serialize(cand.plaintext)
	encrypted := header.EncryptedPortion(wire)
	var cipherEncrypted [header.EncryptedSize]byte
	if err := newCascade.EncryptSector(cipherEncrypted[:], encrypted[:], 0); err != nil {
		return err
	}

	var slot [header.SlotSize]byte
	copy(slot[:header.SaltSize], newSalt)
	copy(slot[header.SaltSize:header.SaltSize+header.EncryptedSize], cipherEncrypted[:])
	tail := make([]byte, header.SlotSize-header.SaltSize-header.EncryptedSize)
	if err := primitives.Global().Get(tail); err != nil {
		return err
	}
	copy(slot[header.SaltSize+header.EncryptedSize:], tail)

	if _, err := backend.WriteAt(slot[:], int64(primarySlot)); err != nil {
		return err
	}
	if _, err := backend.WriteAt(slot[:], int64(backupSlot)); err != nil {
		return err
	}
	return nil
}
