// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"fmt"
	"os"
	"time"

	"github.com/jeremyhahn/tcvol/blockdev"
	"github.com/jeremyhahn/tcvol/header"
	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/keyfile"
	"github.com/jeremyhahn/tcvol/primitives"
	"github.com/jeremyhahn/tcvol/xtsmode"
)

// HeaderAreaSize is the fixed 128 KiB region at the start of a container
// reserved for the primary outer and primary hidden header slots (the
// primary hidden slot sits at offset 65536, one slot-pair past the
// primary outer, and the data region begins after this area).
const HeaderAreaSize = 131072

// Create builds a new container per spec §4.E's creation algorithm.
// It refuses to write to a raw device unless UserConfirmed is set.
func Create(p CreateParams) error {
	if err := selfTestGuard(p.Path, "create"); err != nil {
		return err
	}

	if err := validateCreateParams(p); err != nil {
		return err
	}

	isDevice, err := pathIsDevice(p.Path)
	if err != nil {
		return err
	}
	if isDevice && !p.UserConfirmed {
		return &tcerr.VolumeError{Path: p.Path, Op: "create", Kind: tcerr.KindUnknown,
			Err: fmt.Errorf("refusing to write to a raw device without user confirmation")}
	}

	totalSize := p.TotalSize
	if !p.Hidden {
		if totalSize == 0 {
			if !isDevice {
				return &tcerr.VolumeError{Path: p.Path, Op: "create", Kind: tcerr.KindUnknown,
					Err: fmt.Errorf("total size must be non-zero for a file container")}
			}
		} else if !isDevice {
			if err := allocateFile(p.Path, totalSize); err != nil {
				return err
			}
		}
	}

	backend, err := blockdev.OpenAuto(p.Path, false, p.SectorSize)
	if err != nil {
		return err
	}
	defer backend.Close()

	// A hidden volume is created inside an already-sized outer
	// container, so its total size always comes from the existing file
	// rather than from TotalSize (which CreateParams documents as
	// ignored in that case).
	if totalSize == 0 || p.Hidden {
		sz, err := backend.Size()
		if err != nil {
			return err
		}
		totalSize = uint64(sz)
	}

	var scopeStart, scopeLen uint64
	var outerSlot, backupSlot uint64
	var target header.Target
	if p.Hidden {
		target = header.TargetHidden
		outerSlot = PrimaryHiddenOffset
		backupSlot = BackupHiddenOffset(totalSize)
		scopeLen = p.HiddenSize
		scopeStart = p.OuterScope.Start + p.OuterScope.Len - scopeLen
	} else {
		target = header.TargetOuter
		outerSlot = PrimaryOuterOffset
		backupSlot = BackupOuterOffset(totalSize)
		scopeStart = HeaderAreaSize
		scopeLen = totalSize - HeaderAreaSize
	}

	var keyMat [header.MasterKeyMaterialSize]byte
	if err := primitives.Global().Get(keyMat[:]); err != nil {
		return err
	}

	cascade, err := xtsmode.NewCascade(p.Cascade, keyMat[:])
	if err != nil {
		return err
	}

	if !p.QuickFormat {
		if err := wipeScope(backend, cascade, scopeStart, scopeLen, p.Progress); err != nil {
			return err
		}
	}

	now := uint64(time.Now().UnixMicro())
	plaintext := header.Plaintext{
		Target:              target,
		Version:             header.MaxVersion,
		MinProgramVersion:   header.MinVersion,
		CreationTimeMicros:  now,
		HeaderTimeMicros:    now,
		TotalVolumeSize:     totalSize,
		MasterKeyScopeStart: scopeStart,
		MasterKeyScopeLen:   scopeLen,
		SectorSize:          p.SectorSize,
		MasterKeyMaterial:   keyMat,
	}
	if p.Hidden {
		plaintext.HiddenVolumeSize = scopeLen
	}

	salt := make([]byte, header.SaltSize)
	if err := primitives.Global().Get(salt); err != nil {
		return err
	}

	headerKey, err := deriveHeaderKey(p.KDF, mixPassphrase(p.Credentials), salt, p.Cascade)
	if err != nil {
		return err
	}
	headerCascade, err := xtsmode.NewCascade(p.Cascade, headerKey)
	if err != nil {
		return err
	}

	wire := header.Serialize(plaintext)
	encrypted := header.EncryptedPortion(wire)
	var cipherEncrypted [header.EncryptedSize]byte
	if err := headerCascade.EncryptSector(cipherEncrypted[:], encrypted[:], 0); err != nil {
		return err
	}

	var slot [header.SlotSize]byte
	copy(slot[:header.SaltSize], salt)
	copy(slot[header.SaltSize:header.SaltSize+header.EncryptedSize], cipherEncrypted[:])
	tail := make([]byte, header.SlotSize-header.SaltSize-header.EncryptedSize)
	if err := primitives.Global().Get(tail); err != nil {
		return err
	}
	copy(slot[header.SaltSize+header.EncryptedSize:], tail)

	if _, err := backend.WriteAt(slot[:], int64(outerSlot)); err != nil {
		return err
	}
	if _, err := backend.WriteAt(slot[:], int64(backupSlot)); err != nil {
		return err
	}

	return nil
}

func mixPassphrase(c Credentials) []byte {
	digest, err := keyfile.Digest(c.Keyfiles)
	if err != nil {
		// Creation with an unreadable keyfile is a caller error that
		// should have been caught by validateCreateParams; fall back to
		// the unmixed passphrase rather than silently succeeding with
		// a digest that can never be reproduced at mount time.
		return c.Passphrase
	}
	return keyfile.Mix(c.Passphrase, digest)
}

func validateCreateParams(p CreateParams) error {
	if len(p.Cascade) == 0 || len(p.Cascade) > 3 {
		return &tcerr.VolumeError{Path: p.Path, Op: "create", Kind: tcerr.KindUnknown, Err: fmt.Errorf("cascade must have 1-3 ciphers")}
	}
	if len(p.Credentials.Passphrase) == 0 || len(p.Credentials.Passphrase) > 64 {
		return &tcerr.VolumeError{Path: p.Path, Op: "create", Kind: tcerr.KindUnknown, Err: fmt.Errorf("passphrase must be 1-64 bytes")}
	}
	if p.SectorSize == 0 {
		return &tcerr.VolumeError{Path: p.Path, Op: "create", Kind: tcerr.KindUnknown, Err: fmt.Errorf("sector size must be non-zero")}
	}
	if p.Hidden {
		if p.OuterScope.Len == 0 {
			return &tcerr.VolumeError{Path: p.Path, Op: "create", Kind: tcerr.KindUnknown, Err: fmt.Errorf("hidden volume needs a non-empty outer scope")}
		}
		if p.HiddenSize == 0 || p.HiddenSize > p.OuterScope.Len {
			return &tcerr.VolumeError{Path: p.Path, Op: "create", Kind: tcerr.KindUnknown, Err: fmt.Errorf("hidden volume size must be non-zero and no larger than the outer scope")}
		}
	}
	if _, err := keyfile.Digest(p.Credentials.Keyfiles); err != nil {
		return err
	}
	return nil
}

func pathIsDevice(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &tcerr.VolumeError{Path: path, Op: "stat", Kind: tcerr.KindIO, Err: err}
	}
	return fi.Mode()&os.ModeDevice != 0, nil
}

// allocateFile creates a fully-reserved (non-sparse) file of size
// bytes, writing real zero blocks rather than seeking past the end,
// since sparse containers are explicitly forbidden.
func allocateFile(path string, size uint64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) //#nosec G304 -- operator-supplied container path
	if err != nil {
		return &tcerr.VolumeError{Path: path, Op: "create_file", Kind: tcerr.KindIO, Err: err}
	}
	defer f.Close()

	const chunkSize = 4 << 20
	chunk := make([]byte, chunkSize)
	remaining := size
	for remaining > 0 {
		n := uint64(chunkSize)
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(chunk[:n]); err != nil {
			return &tcerr.VolumeError{Path: path, Op: "create_file", Kind: tcerr.KindIO, Err: err}
		}
		remaining -= n
	}
	return f.Sync()
}

// wipeScope streams CSPRNG output through the cascade's encrypt over
// the entire master-key scope, so an observer cannot distinguish
// "never-written" regions from genuine ciphertext once real data is
// written later. progress may be nil; when set, BytesDone is updated
// after each chunk and Abort is checked before starting the next one.
func wipeScope(backend blockdev.Backend, cascade *xtsmode.Cascade, scopeStart, scopeLen uint64, progress *Progress) error {
	const chunkSectors = 1024 // 512 KiB at a time
	const sectorSize = xtsmode.SectorSize
	chunkBytes := chunkSectors * sectorSize

	buf := make([]byte, chunkBytes)
	enc := make([]byte, chunkBytes)

	if progress != nil {
		progress.TotalBytes = scopeLen
	}

	var done uint64
	for done < scopeLen {
		if progress != nil && progress.Abort.Load() {
			return &tcerr.VolumeError{Op: "create", Kind: tcerr.KindUserAbort, Err: fmt.Errorf("create cancelled during random-fill pass")}
		}
		n := uint64(chunkBytes)
		if scopeLen-done < n {
			n = scopeLen - done
		}
		if n%sectorSize != 0 {
			n = (n / sectorSize) * sectorSize
			if n == 0 {
				break
			}
		}
		if err := primitives.Global().Get(buf[:n]); err != nil {
			return err
		}
		startSector := done / sectorSize
		for i := uint64(0); i < n/sectorSize; i++ {
			if err := cascade.EncryptSector(enc[i*sectorSize:(i+1)*sectorSize], buf[i*sectorSize:(i+1)*sectorSize], startSector+i); err != nil {
				return err
			}
		}
		if _, err := backend.WriteAt(enc[:n], int64(scopeStart+done)); err != nil {
			return err
		}
		done += n
		if progress != nil {
			progress.BytesDone.Store(done)
		}
	}
	return nil
}
