// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package volume implements the volume engine's open/create surface:
// the try-all-KDF×cascade mount algorithm, container creation, hidden
// volumes, header backup/restore and password change.
package volume

import (
	"sync/atomic"

	"github.com/jeremyhahn/tcvol/blockdev"
	"github.com/jeremyhahn/tcvol/keyfile"
	"github.com/jeremyhahn/tcvol/primitives"
	"github.com/jeremyhahn/tcvol/sectorio"
)

// PrimaryOuterOffset, PrimaryHiddenOffset and the two backup offsets
// (computed from total size) are the four fixed header-slot positions
// every container has.
const (
	PrimaryOuterOffset  = 0
	PrimaryHiddenOffset = 65536
)

// BackupOuterOffset returns the backup-outer slot offset for a
// container of totalSize bytes.
func BackupOuterOffset(totalSize uint64) uint64 { return totalSize - 131072 }

// BackupHiddenOffset returns the backup-hidden slot offset for a
// container of totalSize bytes.
func BackupHiddenOffset(totalSize uint64) uint64 { return totalSize - 65536 }

// Credentials bundles a passphrase and keyfile list for one target
// (outer or hidden).
type Credentials struct {
	Passphrase []byte
	Keyfiles   []keyfile.Ref
}

// OpenParams parameterizes Open.
type OpenParams struct {
	Path             string
	Outer            Credentials
	UseBackupHeaders bool
	ProtectHidden    bool
	Hidden           Credentials // only meaningful when ProtectHidden is set
	ReadOnly         bool
}

// CreateParams parameterizes Create.
type CreateParams struct {
	Path          string
	TotalSize     uint64 // container size for a new outer container; 0 means "use existing device size". Ignored when Hidden is set.
	Hidden        bool   // create a hidden volume inside an existing outer container
	OuterScope    sectorio.Scope
	HiddenSize    uint64 // only meaningful when Hidden is set: length of the hidden master-key scope, placed at the end of OuterScope
	Credentials   Credentials
	Cascade       []primitives.Cipher
	KDF           primitives.KDFDescriptor
	QuickFormat   bool
	UserConfirmed bool // required true when Path is a raw device
	SectorSize    uint32
	Progress      *Progress // optional; nil disables progress reporting and cooperative abort
}

// Progress is published by Create under an atomic pair during the
// optional CSPRNG pre-wipe pass. A caller that wants to cancel a
// long-running create sets Abort; Create checks it once per chunk and
// returns a KindUserAbort error, matching abort_create's "checked per
// sector during the random-fill phase" cancellation contract.
type Progress struct {
	BytesDone  atomic.Uint64
	TotalBytes uint64
	Abort      atomic.Bool
}

// MountedVolume is the live, in-memory object returned by a successful
// Open. All key material lives only inside its Translator's cascade;
// Close zeroizes it.
type MountedVolume struct {
	Translator *sectorio.Translator
	Backend    blockdev.Backend
	SlotOffset uint64
	ReadOnly   bool
	Hidden     bool
}

// Close dismounts the volume, closing its backend. Key material held
// by the cascade is not independently zeroisable through the
// golang.org/x/crypto/xts API, so tcvol relies on the cascade object
// becoming unreachable at Close and GC reclaiming it; the
// key-derivation buffers upstream of it in Open (the keyfile-mixed
// passphrase and each derived header key) are zeroised explicitly
// before this point.
func (m *MountedVolume) Close() error {
	return m.Backend.Close()
}
