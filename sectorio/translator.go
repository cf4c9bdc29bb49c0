// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package sectorio implements the sector I/O translator: the component
// that takes block-device byte offsets from a storage-server front end,
// applies the cascade/XTS transform, and enforces the read-only and
// hidden-volume-protection policy before any byte ever reaches or
// leaves the backend.
package sectorio

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jeremyhahn/tcvol/blockdev"
	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/xtsmode"
)

// Scope is the master-key scope a Translator encrypts within:
// [Start, Start+Len) byte offsets on the backend, addressed as sector 0
// at Start per the fixed sector-numbering invariant.
type Scope struct {
	Start uint64
	Len   uint64
}

// HiddenGuard, when non-nil, causes every write whose byte range
// intersects [Start, Start+Len) to be refused with KindHiddenProtection
// and latches Triggered permanently (checked atomically, set once).
type HiddenGuard struct {
	Start     uint64
	Len       uint64
	triggered atomic.Bool
}

// Triggered reports whether any write has ever been refused by this
// guard since it was created.
func (g *HiddenGuard) Triggered() bool {
	if g == nil {
		return false
	}
	return g.triggered.Load()
}

func (g *HiddenGuard) intersects(off, length uint64) bool {
	if g == nil {
		return false
	}
	end := off + length
	gEnd := g.Start + g.Len
	return end > g.Start && off < gEnd
}

// Translator is the sole owner of a Scope's ciphertext: all reads and
// writes for a mounted volume funnel through one Translator, which
// serializes writes against concurrent readers with a single
// sync.RWMutex. Only no-partial-write visibility is required, which a
// single mutex satisfies without needing per-sector locking.
type Translator struct {
	mu         sync.RWMutex
	cascade    *xtsmode.Cascade
	backend    blockdev.Backend
	scope      Scope
	sectorSize uint32
	readOnly   bool
	guard      *HiddenGuard

	totalRead    atomic.Uint64
	totalWritten atomic.Uint64
}

// New constructs a Translator. guard may be nil when protect_hidden was
// not requested at mount time.
func New(cascade *xtsmode.Cascade, backend blockdev.Backend, scope Scope, sectorSize uint32, readOnly bool, guard *HiddenGuard) *Translator {
	return &Translator{
		cascade:    cascade,
		backend:    backend,
		scope:      scope,
		sectorSize: sectorSize,
		readOnly:   readOnly,
		guard:      guard,
	}
}

func (t *Translator) checkAlignment(offsetBytes, lenBytes uint64) error {
	ss := uint64(t.sectorSize)
	if offsetBytes%ss != 0 || lenBytes%ss != 0 {
		return &tcerr.VolumeError{Op: "sectorio", Kind: tcerr.KindAlignment}
	}
	return nil
}

func (t *Translator) checkRange(offsetBytes, lenBytes uint64) error {
	if offsetBytes+lenBytes > t.scope.Len {
		return &tcerr.VolumeError{Op: "sectorio", Kind: tcerr.KindRange}
	}
	return nil
}

// ReadSectors reads lenBytes of plaintext starting at offsetBytes
// (relative to the scope start), decrypting sector-by-sector with the
// cascade. offsetBytes and lenBytes must be multiples of sector size.
func (t *Translator) ReadSectors(ctx context.Context, offsetBytes, lenBytes uint64) ([]byte, error) {
	if err := t.checkAlignment(offsetBytes, lenBytes); err != nil {
		return nil, err
	}
	if err := t.checkRange(offsetBytes, lenBytes); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	ss := uint64(t.sectorSize)
	numSectors := lenBytes / ss
	cipherText := make([]byte, lenBytes)
	if _, err := t.backend.ReadAt(cipherText, int64(t.scope.Start+offsetBytes)); err != nil {
		return nil, err
	}

	plaintext := make([]byte, lenBytes)
	startSector := offsetBytes / ss
	for i := uint64(0); i < numSectors; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		src := cipherText[i*ss : (i+1)*ss]
		dst := plaintext[i*ss : (i+1)*ss]
		if err := t.cascade.DecryptSector(dst, src, startSector+i); err != nil {
			return nil, err
		}
	}

	t.totalRead.Add(lenBytes)
	return plaintext, nil
}

// WriteSectors encrypts plaintext and writes it through the backend at
// offsetBytes (relative to the scope start). Refuses with KindReadOnly
// on a read-only mount, or KindHiddenProtection (latching the guard) if
// the range intersects a protected hidden-volume scope.
func (t *Translator) WriteSectors(ctx context.Context, offsetBytes uint64, plaintext []byte) error {
	lenBytes := uint64(len(plaintext))
	if err := t.checkAlignment(offsetBytes, lenBytes); err != nil {
		return err
	}
	if err := t.checkRange(offsetBytes, lenBytes); err != nil {
		return err
	}
	if t.readOnly {
		return &tcerr.VolumeError{Op: "sectorio", Kind: tcerr.KindReadOnly}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.guard.Triggered() {
		return &tcerr.VolumeError{Op: "sectorio", Kind: tcerr.KindHiddenProtection}
	}
	if t.guard.intersects(offsetBytes, lenBytes) {
		t.guard.triggered.Store(true)
		return &tcerr.VolumeError{Op: "sectorio", Kind: tcerr.KindHiddenProtection}
	}

	ss := uint64(t.sectorSize)
	numSectors := lenBytes / ss
	cipherText := make([]byte, lenBytes)
	startSector := offsetBytes / ss
	for i := uint64(0); i < numSectors; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		src := plaintext[i*ss : (i+1)*ss]
		dst := cipherText[i*ss : (i+1)*ss]
		if err := t.cascade.EncryptSector(dst, src, startSector+i); err != nil {
			return err
		}
	}

	if _, err := t.backend.WriteAt(cipherText, int64(t.scope.Start+offsetBytes)); err != nil {
		return err
	}
	t.totalWritten.Add(lenBytes)
	return nil
}

// VolumeSizeBytes returns the scope length: the size a mounted volume
// reports to the storage-server front end.
func (t *Translator) VolumeSizeBytes() uint64 { return t.scope.Len }

// SectorSizeBytes returns the configured sector size.
func (t *Translator) SectorSizeBytes() uint32 { return t.sectorSize }

// Counters returns (totalRead, totalWritten) byte counts, as reported
// by volume.VolumeInfo.
func (t *Translator) Counters() (read, written uint64) {
	return t.totalRead.Load(), t.totalWritten.Load()
}

// ProtectionTriggered reports whether the hidden-volume guard has ever
// refused a write since mount.
func (t *Translator) ProtectionTriggered() bool {
	if t.guard == nil {
		return false
	}
	return t.guard.Triggered()
}
